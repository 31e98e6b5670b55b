package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"runtime/debug"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/jmcleod/inkwell/account"
	"github.com/jmcleod/inkwell/blog"
	"github.com/jmcleod/inkwell/storage"
)

const (
	maxAuthBodySize    = 16 << 10
	maxContentBodySize = 1 << 20

	msgInternal     = "Something went wrong."
	msgUnauthorized = "Missing authentication token."
	msgForbidden    = "You are not allowed to do that."
	msgNotFound     = "Not found."
	msgPrecondition = "Request the previous step first."
	msgRateLimited  = "Too many attempts. Try again later."
	msgValidation   = "Validation failed."
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their JSON names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Success: false, Message: msg})
}

// writeFieldErrors responds with per-field messages.
func writeFieldErrors(w http.ResponseWriter, status int, msg string, fields map[string]string) {
	writeJSON(w, status, ErrorResponse{Success: false, Message: msg, Errors: fields})
}

// writeInternalError logs err and responds with a generic 500.
func writeInternalError(w http.ResponseWriter, msg string, err error) {
	slog.Error(msg, "error", err)
	writeError(w, http.StatusInternalServerError, msgInternal)
}

func mapError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, blog.ErrNotFound),
		errors.Is(err, account.ErrUserNotFound),
		errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, msgNotFound)
	case errors.Is(err, blog.ErrForbidden):
		writeError(w, http.StatusForbidden, msgForbidden)
	case errors.Is(err, storage.ErrCASFailed),
		errors.Is(err, account.ErrConcurrentUpdate):
		writeError(w, http.StatusConflict, "The resource was modified concurrently. Try again.")
	default:
		writeInternalError(w, "request failed", err)
	}
}

// decodeJSON reads a JSON body of at most limit bytes into T. On failure it
// writes a 400 and returns false.
func decodeJSON[T any](w http.ResponseWriter, r *http.Request, limit int64) (T, bool) {
	var v T
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))
	if err := dec.Decode(&v); err != nil && !errors.Is(err, io.EOF) {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large.")
			return v, false
		}
		writeError(w, http.StatusBadRequest, "Invalid JSON body.")
		return v, false
	}
	return v, true
}

// validateRequest runs struct validation on req. On failure it writes a 400
// with one message per field and returns false.
func validateRequest(w http.ResponseWriter, req any) bool {
	err := validate.Struct(req)
	if err == nil {
		return true
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		writeInternalError(w, "validating request", err)
		return false
	}
	writeFieldErrors(w, http.StatusBadRequest, msgValidation, fieldMessages(verrs))
	return false
}

func fieldMessages(verrs validator.ValidationErrors) map[string]string {
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		if _, seen := out[field]; seen {
			continue
		}
		switch fe.Tag() {
		case "required":
			out[field] = fmt.Sprintf("%s is required.", field)
		case "email":
			out[field] = fmt.Sprintf("%s must be a valid email address.", field)
		case "min":
			out[field] = fmt.Sprintf("%s must be at least %s characters long.", field, fe.Param())
		case "max":
			out[field] = fmt.Sprintf("%s must be at most %s characters long.", field, fe.Param())
		case "len":
			out[field] = fmt.Sprintf("%s must be exactly %s characters long.", field, fe.Param())
		case "numeric":
			out[field] = fmt.Sprintf("%s must contain only digits.", field)
		default:
			out[field] = fmt.Sprintf("%s is invalid.", field)
		}
	}
	return out
}

// Recoverer turns panics into the generic 500 response and logs the stack.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			slog.Error("panic serving request",
				"method", r.Method,
				"path", r.URL.Path,
				"panic", fmt.Sprint(rec),
				"stack", string(debug.Stack()),
			)
			writeError(w, http.StatusInternalServerError, msgInternal)
		}()
		next.ServeHTTP(w, r)
	})
}

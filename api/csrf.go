package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/jmcleod/inkwell/csrf"
)

const (
	csrfCookieName = "token"
	csrfHeaderName = "X-CSRF-TOKEN"

	msgCSRFHeader   = "Invalid CSRF header."
	msgCSRFMismatch = "CSRF token mismatch."
)

// CSRFMiddleware requires mutating requests to echo a token in the
// X-CSRF-TOKEN header that was issued for the current session. Safe
// methods are exempt.
func (a *API) CSRFMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		if !a.checkCSRF(w, r) {
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkCSRF verifies the request's CSRF header against its session id. On
// failure it writes a 403 and returns false.
func (a *API) checkCSRF(w http.ResponseWriter, r *http.Request) bool {
	rc := fromContext(r.Context())
	err := a.csrf.Verify(rc.SessionID, r.Header.Get(csrfHeaderName))
	if err == nil {
		return true
	}
	var msg string
	switch {
	case errors.Is(err, csrf.ErrHeaderMalformed):
		msg = msgCSRFHeader
	case errors.Is(err, csrf.ErrTokenMismatch):
		msg = msgCSRFMismatch
	default:
		writeInternalError(w, "verifying csrf token", err)
		return false
	}
	a.audit.logFailure(AuditCSRFRejected, r, err.Error(), slog.String("account_id", rc.actor().ID))
	writeError(w, http.StatusForbidden, msg)
	return false
}

// writeCSRFCookie delivers the session's CSRF token. It is not HttpOnly so
// that the browser-side client can copy it into the request header.
func writeCSRFCookie(w http.ResponseWriter, r *http.Request, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: false,
		Secure:   requestIsSecure(r),
		SameSite: http.SameSiteStrictMode,
		Expires:  expiresAt,
	})
}

// clearCSRFCookie removes the CSRF cookie on logout.
func clearCSRFCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: false,
		Secure:   requestIsSecure(r),
		SameSite: http.SameSiteStrictMode,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})
}

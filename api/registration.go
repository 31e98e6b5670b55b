package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jmcleod/inkwell/account"
	"github.com/jmcleod/inkwell/ratelimit"
)

// RequestRegister handles POST /account/requestRegister. The response is the
// same whether or not the email already has an account.
func (a *API) RequestRegister(w http.ResponseWriter, r *http.Request) {
	clientIP := a.extractClientIP(r)
	if !a.consume(w, r, a.limiters.RegisterRequest, clientIP) {
		a.audit.logFailure(AuditRegisterFailure, r, "register request limiter exhausted",
			slog.String("client_ip", clientIP))
		return
	}
	req, ok := decodeJSON[EmailRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	if !validateRequest(w, req) {
		return
	}

	tok, err := a.accounts.RequestRegistration(r.Context(), req.Email)
	switch {
	case errors.Is(err, account.ErrEmailTaken):
		if err := a.notices.AlreadyRegistered(r.Context(), req.Email); err != nil {
			slog.Error("sending already-registered notice", "error", err)
		}
	case err != nil:
		writeInternalError(w, "requesting registration", err)
		return
	default:
		if err := a.notices.RegistrationToken(r.Context(), tok.Email, tok.ID, tok.Token, account.RegistrationTTL); err != nil {
			slog.Error("sending registration token", "error", err)
		}
	}
	a.audit.log(AuditRegisterRequested, r, slog.String("client_ip", clientIP))
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: "Check your email to continue."})
}

// Register handles POST /account/register.
func (a *API) Register(w http.ResponseWriter, r *http.Request) {
	clientIP := a.extractClientIP(r)
	if st, err := a.limiters.RegisterRequest.Get(r.Context(), clientIP); err != nil {
		writeInternalError(w, "reading register limiter", err)
		return
	} else if st == nil {
		writeError(w, http.StatusPreconditionRequired, msgPrecondition)
		return
	}

	req, ok := decodeJSON[RegisterRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	if !validateRequest(w, req) {
		return
	}
	if a.refuseExhausted(w, r, a.limiters.RegisterAttempt, req.TokenID) {
		return
	}

	u, err := a.accounts.CompleteRegistration(r.Context(), req.TokenID, req.Token, req.Username, req.Password)
	switch {
	case errors.Is(err, account.ErrTokenInvalid):
		if _, err := a.limiters.RegisterAttempt.Consume(r.Context(), req.TokenID); err != nil {
			if rej, ok := ratelimit.IsRejected(err); ok {
				writeRateLimited(w, rej.RetryAfter)
				return
			}
			writeInternalError(w, "consuming register limiter", err)
			return
		}
		a.audit.logFailure(AuditRegisterFailure, r, "invalid token", slog.String("token_id", req.TokenID))
		writeFieldErrors(w, http.StatusUnauthorized, "Invalid or expired registration token.",
			map[string]string{"token": "Invalid or expired registration token."})
		return
	case errors.Is(err, account.ErrEmailTaken):
		writeError(w, http.StatusConflict, "An account with this email already exists.")
		return
	case err != nil:
		writeInternalError(w, "completing registration", err)
		return
	}

	a.reset(r, a.limiters.RegisterAttempt, req.TokenID)
	a.audit.logEvent(AuditRegisterCompleted, r, u.ID)
	writeJSON(w, http.StatusOK, UserResponse{Success: true, User: newUserView(u)})
}

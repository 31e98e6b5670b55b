package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/jmcleod/inkwell/account"
	"github.com/jmcleod/inkwell/internal/util"
	"github.com/jmcleod/inkwell/session"
)

// RequestResetPassword handles POST /account/requestResetPassword. It
// answers 200 whether or not the email belongs to an account.
func (a *API) RequestResetPassword(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[EmailRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	email := util.NormalizeEmail(req.Email)
	if !a.consume(w, r, a.limiters.ResetRequest, email) {
		return
	}
	if !validateRequest(w, req) {
		return
	}
	if !a.sendResetCode(w, r, email) {
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: "If the email is registered, a code is on its way."})
}

// RequestVerificationCode handles POST /account/requestVerificationCode,
// which re-sends a code within an already requested reset.
func (a *API) RequestVerificationCode(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[EmailRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	email := util.NormalizeEmail(req.Email)
	if st, err := a.limiters.ResetRequest.Get(r.Context(), email); err != nil {
		writeInternalError(w, "reading reset limiter", err)
		return
	} else if st == nil {
		writeError(w, http.StatusPreconditionRequired, msgPrecondition)
		return
	}
	if !a.consume(w, r, a.limiters.ResetRequest, email) {
		return
	}
	if !validateRequest(w, req) {
		return
	}
	if !a.sendResetCode(w, r, email) {
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: "If the email is registered, a code is on its way."})
}

// sendResetCode issues and mails a code when email has an account, and
// gives the new code a fresh verification budget.
func (a *API) sendResetCode(w http.ResponseWriter, r *http.Request, email string) bool {
	code, err := a.accounts.RequestResetCode(r.Context(), email)
	if errors.Is(err, account.ErrUserNotFound) {
		a.audit.logFailure(AuditResetRequested, r, "unknown email")
		return true
	}
	if err != nil {
		writeInternalError(w, "issuing reset code", err)
		return false
	}
	a.reset(r, a.limiters.VerifyCode, email)
	if err := a.notices.ResetCode(r.Context(), email, code, account.ResetCodeTTL); err != nil {
		slog.Error("sending reset code", "error", err)
	}
	a.audit.log(AuditResetRequested, r)
	return true
}

// VerifyCode handles POST /account/verifyCode. Success starts a short
// session scoped to resetting the password of the verified email.
func (a *API) VerifyCode(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[VerifyCodeRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	email := util.NormalizeEmail(req.Email)
	if st, err := a.limiters.ResetRequest.Get(r.Context(), email); err != nil {
		writeInternalError(w, "reading reset limiter", err)
		return
	} else if st == nil {
		writeError(w, http.StatusPreconditionRequired, msgPrecondition)
		return
	}
	if !a.consume(w, r, a.limiters.VerifyCode, email) {
		a.audit.logFailure(AuditResetFailure, r, "verify limiter exhausted")
		return
	}
	if !validateRequest(w, req) {
		return
	}

	err := a.accounts.VerifyResetCode(r.Context(), email, req.Code)
	switch {
	case errors.Is(err, account.ErrCodeNotFound):
		// The code cannot come back, so no further attempts are useful.
		if err := a.limiters.VerifyCode.Block(r.Context(), email, 0); err != nil {
			writeInternalError(w, "blocking verify limiter", err)
			return
		}
		a.audit.logFailure(AuditResetFailure, r, "code not found")
		writeFieldErrors(w, http.StatusUnauthorized, "Invalid code.", map[string]string{"code": "Code not found or expired."})
		return
	case errors.Is(err, account.ErrCodeMismatch):
		a.audit.logFailure(AuditResetFailure, r, "code mismatch")
		writeFieldErrors(w, http.StatusUnauthorized, "Invalid code.", map[string]string{"code": "Incorrect code."})
		return
	case err != nil:
		writeInternalError(w, "verifying reset code", err)
		return
	}

	// Re-arm the counter with one point spent so the final step sees an
	// applied, non-exhausted budget however many tries verification took.
	a.reset(r, a.limiters.VerifyCode, email)
	if _, err := a.limiters.VerifyCode.Consume(r.Context(), email); err != nil {
		writeInternalError(w, "re-arming verify limiter", err)
		return
	}

	_, err = a.startSession(w, r, session.Session{
		ResetEmail: email,
		ExpiresAt:  a.now().Add(resetSessionTTL),
	})
	if err != nil {
		writeInternalError(w, "starting reset session", err)
		return
	}
	a.audit.log(AuditResetVerified, r)
	w.Header().Set("Expire-After", strconv.Itoa(int(resetSessionTTL.Seconds())))
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// ResetPassword handles POST /account/resetPassword. The checks run in a
// fixed order: reset session, verify limiter, CSRF, then the body.
func (a *API) ResetPassword(w http.ResponseWriter, r *http.Request) {
	rc := fromContext(r.Context())
	if rc.Session == nil || rc.Session.ResetEmail == "" {
		writeError(w, http.StatusPreconditionRequired, msgPrecondition)
		return
	}
	email := rc.Session.ResetEmail
	if a.peek(w, r, a.limiters.VerifyCode, email) != peekOK {
		return
	}
	if !a.checkCSRF(w, r) {
		return
	}
	req, ok := decodeJSON[PasswordRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	if !validateRequest(w, req) {
		return
	}

	u, err := a.accounts.ResetPassword(r.Context(), email, req.Password)
	if err != nil {
		mapError(w, err)
		return
	}
	a.reset(r, a.limiters.VerifyCode, email)
	if err := a.endSession(w, r); err != nil {
		writeInternalError(w, "ending reset session", err)
		return
	}
	if err := a.sessions.DeleteUser(r.Context(), u.ID); err != nil {
		writeInternalError(w, "revoking sessions", err)
		return
	}
	a.audit.logEvent(AuditResetCompleted, r, u.ID)
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: "Password updated. Log in with your new password."})
}

package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jmcleod/inkwell/account"
	"github.com/jmcleod/inkwell/internal/util"
	"github.com/jmcleod/inkwell/ratelimit"
)

// Login handles POST /account/login.
func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[LoginRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	if !validateRequest(w, req) {
		return
	}
	email := util.NormalizeEmail(req.Email)

	// An exhausted counter refuses even a correct password.
	if st, err := a.limiters.Login.Get(r.Context(), email); err != nil {
		writeInternalError(w, "reading login limiter", err)
		return
	} else if st != nil && st.Exhausted() {
		a.audit.logFailure(AuditLoginRateLimited, r, "login limiter exhausted")
		writeRateLimited(w, st.ResetAfter)
		return
	}

	u, err := a.accounts.CheckPassword(r.Context(), email, req.Password)
	if err != nil {
		var field, msg string
		switch {
		case errors.Is(err, account.ErrUserNotFound):
			field, msg = "email", "Email not found."
		case errors.Is(err, account.ErrPasswordMismatch):
			field, msg = "password", "Incorrect password."
		default:
			writeInternalError(w, "checking credentials", err)
			return
		}
		if _, err := a.limiters.Login.Consume(r.Context(), email); err != nil {
			if rej, ok := ratelimit.IsRejected(err); ok {
				a.audit.logFailure(AuditLoginRateLimited, r, "login limiter exhausted")
				writeRateLimited(w, rej.RetryAfter)
				return
			}
			writeInternalError(w, "consuming login limiter", err)
			return
		}
		a.audit.logFailure(AuditLoginFailure, r, field)
		writeFieldErrors(w, http.StatusUnauthorized, "Invalid credentials.", map[string]string{field: msg})
		return
	}

	a.reset(r, a.limiters.Login, email)
	if err := a.login(w, r, u); err != nil {
		writeInternalError(w, "starting session", err)
		return
	}
	a.audit.logEvent(AuditLoginSuccess, r, u.ID, slog.String("method", "password"))
	writeJSON(w, http.StatusOK, UserResponse{Success: true, User: newUserView(u)})
}

// Logout handles POST /account/logout.
func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	userID := fromContext(r.Context()).actor().ID
	if err := a.endSession(w, r); err != nil {
		writeInternalError(w, "ending session", err)
		return
	}
	a.audit.logEvent(AuditLogout, r, userID)
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// SessionInfo handles GET /account/session.
func (a *API) SessionInfo(w http.ResponseWriter, r *http.Request) {
	p := fromContext(r.Context()).Principal()
	if p == nil {
		writeJSON(w, http.StatusOK, SessionResponse{})
		return
	}
	u, err := a.accounts.GetUser(r.Context(), p.ID)
	if errors.Is(err, account.ErrUserNotFound) {
		writeJSON(w, http.StatusOK, SessionResponse{})
		return
	}
	if err != nil {
		writeInternalError(w, "loading session user", err)
		return
	}
	view := newUserView(u)
	// The session's admin flag is what authorizes requests.
	view.IsAdmin = p.IsAdmin
	writeJSON(w, http.StatusOK, SessionResponse{Authenticated: true, User: &view})
}

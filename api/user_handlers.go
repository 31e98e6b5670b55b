package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jmcleod/inkwell/account"
	"github.com/jmcleod/inkwell/blog"
)

// GetMe handles GET /user/me.
func (a *API) GetMe(w http.ResponseWriter, r *http.Request) {
	u, err := a.accounts.GetUser(r.Context(), fromContext(r.Context()).actor().ID)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, UserResponse{Success: true, User: newUserView(u)})
}

// UpdateMe handles PUT /user/me.
func (a *API) UpdateMe(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[UpdateUserRequest](w, r, maxAuthBodySize)
	if !ok || !validateRequest(w, req) {
		return
	}
	u, err := a.accounts.UpdateUser(r.Context(), fromContext(r.Context()).actor().ID, func(u *account.User) error {
		u.Username = req.Username
		return nil
	})
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, UserResponse{Success: true, User: newUserView(u)})
}

// GetUserProfile handles GET /user/{userID}.
func (a *API) GetUserProfile(w http.ResponseWriter, r *http.Request) {
	u, err := a.accounts.GetUser(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Success bool        `json:"success"`
		User    ProfileView `json:"user"`
	}{
		Success: true,
		User:    ProfileView{ID: u.ID, Username: u.Username, CreatedAt: u.CreatedAt},
	})
}

// ChangePassword handles PUT /user/me/password. Every session of the user
// is revoked and the caller gets a fresh one.
func (a *API) ChangePassword(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[ChangePasswordRequest](w, r, maxAuthBodySize)
	if !ok || !validateRequest(w, req) {
		return
	}
	id := fromContext(r.Context()).actor().ID

	err := a.accounts.VerifyPassword(r.Context(), id, req.CurrentPassword)
	if errors.Is(err, account.ErrPasswordMismatch) {
		a.audit.logFailure(AuditLoginFailure, r, "current password", slog.String("account_id", id))
		writeFieldErrors(w, http.StatusUnauthorized, "Invalid credentials.",
			map[string]string{"currentPassword": "Incorrect password."})
		return
	}
	if err != nil {
		mapError(w, err)
		return
	}

	u, err := a.accounts.SetPassword(r.Context(), id, req.NewPassword)
	if err != nil {
		mapError(w, err)
		return
	}
	if err := a.sessions.DeleteUser(r.Context(), id); err != nil {
		writeInternalError(w, "revoking sessions", err)
		return
	}
	if err := a.login(w, r, u); err != nil {
		writeInternalError(w, "starting session", err)
		return
	}
	a.audit.logEvent(AuditPasswordChanged, r, id)
	writeJSON(w, http.StatusOK, UserResponse{Success: true, User: newUserView(u)})
}

// DeleteMe handles DELETE /user/me.
func (a *API) DeleteMe(w http.ResponseWriter, r *http.Request) {
	a.deleteAccount(w, r, fromContext(r.Context()).actor().ID)
}

// DeleteUser handles DELETE /user/{userID}. Only the owner or an admin may
// delete an account.
func (a *API) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "userID")
	if !blog.CanMutate(fromContext(r.Context()).actor(), id) {
		writeError(w, http.StatusForbidden, msgForbidden)
		return
	}
	a.deleteAccount(w, r, id)
}

// deleteAccount removes the user's content first and the user record last,
// so a failed cleanup leaves an account that a retry can finish deleting.
func (a *API) deleteAccount(w http.ResponseWriter, r *http.Request, id string) {
	by := fromContext(r.Context()).actor()
	if _, err := a.accounts.GetUser(r.Context(), id); err != nil {
		mapError(w, err)
		return
	}
	if err := a.blog.DeleteAuthorContent(r.Context(), id); err != nil {
		a.audit.logFailure(AuditAccountDeleteError, r, err.Error(), slog.String("account_id", id))
		writeInternalError(w, "deleting account content", err)
		return
	}
	if err := a.accounts.DeleteUser(r.Context(), id); err != nil {
		a.audit.logFailure(AuditAccountDeleteError, r, err.Error(), slog.String("account_id", id))
		mapError(w, err)
		return
	}
	if err := a.sessions.DeleteUser(r.Context(), id); err != nil {
		slog.Warn("revoking sessions of deleted account", "account_id", id, "error", err)
	}
	if by.ID == id {
		if err := a.endSession(w, r); err != nil {
			slog.Warn("ending session", "error", err)
		}
	}
	a.audit.logEvent(AuditAccountDeleted, r, id, slog.String("by", by.ID))
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

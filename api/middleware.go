package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jmcleod/inkwell/account"
	"github.com/jmcleod/inkwell/blog"
	"github.com/jmcleod/inkwell/internal/uuid"
	"github.com/jmcleod/inkwell/session"
)

type contextKey int

const requestContextKey contextKey = iota

const (
	sessionCookieName = "sid"
	// touchInterval limits how often a request refreshes LastAccessedAt.
	touchInterval = time.Minute
)

// requestContext is the per-request state resolved by SessionMiddleware.
type requestContext struct {
	SessionID string
	Session   *session.Session
}

// Principal returns the authenticated principal, or nil.
func (rc *requestContext) Principal() *session.Principal {
	if rc == nil || rc.Session == nil {
		return nil
	}
	return rc.Session.Principal
}

func (rc *requestContext) actor() blog.Principal {
	p := rc.Principal()
	if p == nil {
		return blog.Principal{}
	}
	return blog.Principal{ID: p.ID, IsAdmin: p.IsAdmin}
}

func fromContext(ctx context.Context) *requestContext {
	rc, _ := ctx.Value(requestContextKey).(*requestContext)
	if rc == nil {
		return &requestContext{}
	}
	return rc
}

// SessionMiddleware loads the session named by the sid cookie into the
// request context. It never rejects a request.
func (a *API) SessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc := &requestContext{}
		if cookie, err := r.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
			sess, err := a.sessions.Get(r.Context(), cookie.Value)
			switch {
			case err == nil:
				rc.SessionID, rc.Session = cookie.Value, &sess
				a.touch(r.Context(), cookie.Value, sess)
			case !errors.Is(err, session.ErrNotFound):
				slog.Warn("loading session", "error", err)
			}
		}
		ctx := context.WithValue(r.Context(), requestContextKey, rc)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *API) touch(ctx context.Context, id string, sess session.Session) {
	now := a.now()
	if now.Sub(sess.LastAccessedAt) < touchInterval {
		return
	}
	sess.LastAccessedAt = now
	if err := a.sessions.Put(ctx, id, sess); err != nil {
		slog.Warn("refreshing session", "error", err)
	}
}

// RequireAuth rejects requests whose session carries no principal.
func (a *API) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fromContext(r.Context()).Principal() == nil {
			writeError(w, http.StatusUnauthorized, msgUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// NoStore marks responses as uncacheable.
func NoStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// startSession replaces any current session with a fresh id bound to sess,
// and sets the session and CSRF cookies.
func (a *API) startSession(w http.ResponseWriter, r *http.Request, sess session.Session) (string, error) {
	rc := fromContext(r.Context())
	if rc.SessionID != "" {
		if err := a.sessions.Delete(r.Context(), rc.SessionID); err != nil {
			return "", err
		}
	}
	id := uuid.New()
	now := a.now()
	sess.ID = id
	sess.CreatedAt = now
	sess.LastAccessedAt = now
	if err := a.sessions.Put(r.Context(), id, sess); err != nil {
		return "", err
	}
	token, err := a.csrf.Issue(id)
	if err != nil {
		_ = a.sessions.Delete(r.Context(), id)
		return "", err
	}
	rc.SessionID, rc.Session = id, &sess
	writeSessionCookie(w, r, id, sess.ExpiresAt)
	writeCSRFCookie(w, r, token, sess.ExpiresAt)
	return id, nil
}

// login establishes an authenticated session for u.
func (a *API) login(w http.ResponseWriter, r *http.Request, u *account.User) error {
	_, err := a.startSession(w, r, session.Session{
		Principal: &session.Principal{ID: u.ID, IsAdmin: u.IsAdmin},
		ExpiresAt: a.now().Add(a.sessionTTL),
	})
	return err
}

// endSession destroys the current session and clears both cookies.
func (a *API) endSession(w http.ResponseWriter, r *http.Request) error {
	rc := fromContext(r.Context())
	var err error
	if rc.SessionID != "" {
		err = a.sessions.Delete(r.Context(), rc.SessionID)
	}
	rc.SessionID, rc.Session = "", nil
	clearSessionCookie(w, r)
	clearCSRFCookie(w, r)
	return err
}

func writeSessionCookie(w http.ResponseWriter, r *http.Request, id string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   requestIsSecure(r),
		SameSite: http.SameSiteStrictMode,
		Expires:  expiresAt,
	})
}

func clearSessionCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   requestIsSecure(r),
		SameSite: http.SameSiteStrictMode,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})
}

func requestIsSecure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	if strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		return true
	}
	return strings.Contains(strings.ToLower(r.Header.Get("Forwarded")), "proto=https")
}

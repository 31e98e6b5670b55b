package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jmcleod/inkwell/account"
	"github.com/jmcleod/inkwell/federation"
)

const (
	oauthNonceCookieName = "oauth_nonce"
	oauthCookiePath      = "/account/oauth2/"
)

// FederatedLogin handles GET /account/login/{federation}.
func (a *API) FederatedLogin(w http.ResponseWriter, r *http.Request) {
	name := strings.ToLower(chi.URLParam(r, "federation"))
	if a.providers == nil || !a.providers.Has(name) {
		writeError(w, http.StatusNotFound, msgNotFound)
		return
	}
	redirectURL, nonce, err := a.providers.Begin(name)
	if err != nil {
		writeInternalError(w, "starting federated login", err)
		return
	}
	// Lax: the callback arrives as a top-level navigation from the provider.
	http.SetCookie(w, &http.Cookie{
		Name:     oauthNonceCookieName,
		Value:    nonce,
		Path:     oauthCookiePath,
		HttpOnly: true,
		Secure:   requestIsSecure(r),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(federation.StateTTL / time.Second),
	})
	http.Redirect(w, r, redirectURL, http.StatusFound)
}

// FederatedCallback handles GET /account/oauth2/redirect/{federation}.
func (a *API) FederatedCallback(w http.ResponseWriter, r *http.Request) {
	name := strings.ToLower(chi.URLParam(r, "federation"))
	if a.providers == nil || !a.providers.Has(name) {
		writeError(w, http.StatusNotFound, msgNotFound)
		return
	}
	var nonce string
	if c, err := r.Cookie(oauthNonceCookieName); err == nil {
		nonce = c.Value
	}
	http.SetCookie(w, &http.Cookie{
		Name:     oauthNonceCookieName,
		Path:     oauthCookiePath,
		HttpOnly: true,
		Secure:   requestIsSecure(r),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})

	q := r.URL.Query()
	out := a.providers.Complete(r.Context(), name, nonce, federation.Callback{
		State:            q.Get("state"),
		Code:             q.Get("code"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	})
	switch out.Kind {
	case federation.Failure:
		a.audit.logFailure(AuditOAuthFailure, r, out.Reason, slog.String("provider", name))
		writeFieldErrors(w, http.StatusUnauthorized, "Federated login failed.", map[string]string{"federation": out.Reason})
		return
	case federation.Error:
		writeInternalError(w, "federated login", out.Err)
		return
	}

	u, err := a.resolveIdentity(r.Context(), out.Identity)
	if err != nil {
		writeInternalError(w, "resolving federated identity", err)
		return
	}
	if err := a.login(w, r, u); err != nil {
		writeInternalError(w, "starting session", err)
		return
	}
	a.audit.logEvent(AuditOAuthLogin, r, u.ID, slog.String("provider", name))
	http.Redirect(w, r, a.postLoginRedirect, http.StatusFound)
}

// resolveIdentity finds or creates the user for id: an existing link wins,
// then an account with the same email (which gets linked), then a new user.
func (a *API) resolveIdentity(ctx context.Context, id federation.Identity) (*account.User, error) {
	link := account.Federation{Provider: id.Provider, Subject: id.Subject}
	for attempt := 0; attempt < 2; attempt++ {
		u, err := a.accounts.GetUserByFederation(ctx, link.Provider, link.Subject)
		if err == nil {
			return u, nil
		}
		if !errors.Is(err, account.ErrUserNotFound) {
			return nil, err
		}

		u, err = a.accounts.GetUserByEmail(ctx, id.Email)
		switch {
		case err == nil:
			u, err = a.accounts.LinkFederation(ctx, u.ID, link)
		case errors.Is(err, account.ErrUserNotFound):
			u, err = a.accounts.CreateUser(ctx, account.NewUser{
				Username:   displayName(id),
				Email:      id.Email,
				Federation: &link,
			})
		}
		// A concurrent callback for the same identity may have won; the
		// next pass finds its result.
		if errors.Is(err, account.ErrEmailTaken) || errors.Is(err, account.ErrFederationTaken) {
			continue
		}
		return u, err
	}
	return nil, errors.New("federated identity changed concurrently")
}

func displayName(id federation.Identity) string {
	if id.Name != "" {
		return id.Name
	}
	local, _, _ := strings.Cut(id.Email, "@")
	return local
}

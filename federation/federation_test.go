package federation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func newSigner(t *testing.T) *StateSigner {
	t.Helper()
	s, err := NewStateSigner(testKey)
	require.NoError(t, err)
	return s
}

func TestStateSignerRoundTrip(t *testing.T) {
	s := newSigner(t)
	state, nonce, err := s.Sign("github")
	require.NoError(t, err)
	assert.NoError(t, s.Verify(state, "github", nonce))
}

func TestStateSignerRejects(t *testing.T) {
	s := newSigner(t)
	state, nonce, err := s.Sign("github")
	require.NoError(t, err)

	assert.ErrorIs(t, s.Verify(state, "google", nonce), ErrInvalidState)
	assert.ErrorIs(t, s.Verify(state, "github", "other"), ErrInvalidState)
	assert.ErrorIs(t, s.Verify(state, "github", ""), ErrInvalidState)
	assert.ErrorIs(t, s.Verify("", "github", nonce), ErrInvalidState)
	assert.ErrorIs(t, s.Verify(state+"x", "github", nonce), ErrInvalidState)

	other, err := NewStateSigner([]byte("another-key-another-key-another-k"))
	require.NoError(t, err)
	assert.ErrorIs(t, other.Verify(state, "github", nonce), ErrInvalidState)
}

func TestStateSignerExpiry(t *testing.T) {
	s := newSigner(t)
	now := time.Now()
	s.now = func() time.Time { return now }
	state, nonce, err := s.Sign("github")
	require.NoError(t, err)

	s.now = func() time.Time { return now.Add(StateTTL + time.Minute) }
	assert.ErrorIs(t, s.Verify(state, "github", nonce), ErrInvalidState)
}

func TestNewStateSignerShortKey(t *testing.T) {
	_, err := NewStateSigner([]byte("short"))
	assert.Error(t, err)
}

// fakeProvider serves the token and userinfo endpoints of an OAuth2 provider.
type fakeProvider struct {
	*httptest.Server
	code     string
	userinfo map[string]any
	emails   []map[string]any
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	fp := &fakeProvider{code: "good-code"}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		w.Header().Set("Content-Type", "application/json")
		if r.PostForm.Get("code") != fp.code {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "at-1", "token_type": "Bearer", "expires_in": 3600})
	})
	mux.HandleFunc("GET /userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer at-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(fp.userinfo)
	})
	mux.HandleFunc("GET /emails", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(fp.emails)
	})
	fp.Server = httptest.NewServer(mux)
	t.Cleanup(fp.Close)
	return fp
}

func (fp *fakeProvider) config(name string) ProviderConfig {
	return ProviderConfig{
		Name:         name,
		ClientID:     "client",
		ClientSecret: "secret",
		AuthURL:      fp.URL + "/authorize",
		TokenURL:     fp.URL + "/token",
		UserInfoURL:  fp.URL + "/userinfo",
		EmailsURL:    fp.URL + "/emails",
	}
}

func begin(t *testing.T, r *Registry, name string) (state, nonce string) {
	t.Helper()
	redirect, nonce, err := r.Begin(name)
	require.NoError(t, err)
	u, err := url.Parse(redirect)
	require.NoError(t, err)
	assert.Equal(t, "https://blog.example/account/oauth2/redirect/"+name, u.Query().Get("redirect_uri"))
	return u.Query().Get("state"), nonce
}

func TestRegistryGeneric(t *testing.T) {
	fp := newFakeProvider(t)
	fp.userinfo = map[string]any{"sub": "u-42", "email": "ada@example.com", "email_verified": true, "name": "Ada"}

	r, err := NewRegistry("https://blog.example/", newSigner(t), []ProviderConfig{fp.config("acme")})
	require.NoError(t, err)
	assert.Equal(t, []string{"acme"}, r.Names())

	state, nonce := begin(t, r, "acme")
	out := r.Complete(context.Background(), "acme", nonce, Callback{State: state, Code: "good-code"})
	require.Equal(t, Success, out.Kind, out.Err)
	assert.Equal(t, Identity{Provider: "acme", Subject: "u-42", Email: "ada@example.com", Name: "Ada"}, out.Identity)
}

func TestRegistryGitHubUsesVerifiedEmail(t *testing.T) {
	fp := newFakeProvider(t)
	fp.userinfo = map[string]any{"id": 7, "login": "octo", "email": "public@example.com"}
	fp.emails = []map[string]any{
		{"email": "old@example.com", "verified": true},
		{"email": "main@example.com", "primary": true, "verified": true},
	}
	r, err := NewRegistry("https://blog.example", newSigner(t), []ProviderConfig{fp.config("github")})
	require.NoError(t, err)

	state, nonce := begin(t, r, "github")
	out := r.Complete(context.Background(), "github", nonce, Callback{State: state, Code: "good-code"})
	require.Equal(t, Success, out.Kind, out.Err)
	assert.Equal(t, "7", out.Identity.Subject)
	assert.Equal(t, "main@example.com", out.Identity.Email)
	assert.Equal(t, "octo", out.Identity.Name)
}

func TestRegistryFailures(t *testing.T) {
	fp := newFakeProvider(t)
	fp.userinfo = map[string]any{"sub": "u-1", "email": "x@example.com", "email_verified": false}
	r, err := NewRegistry("https://blog.example", newSigner(t), []ProviderConfig{fp.config("acme")})
	require.NoError(t, err)
	ctx := context.Background()

	state, nonce := begin(t, r, "acme")

	out := r.Complete(ctx, "acme", "wrong-nonce", Callback{State: state, Code: "good-code"})
	assert.Equal(t, Failed("invalid_state"), out)

	out = r.Complete(ctx, "acme", nonce, Callback{State: state, Error: "access_denied"})
	assert.Equal(t, Failed("access_denied"), out)

	out = r.Complete(ctx, "acme", nonce, Callback{State: state})
	assert.Equal(t, Failed("missing_code"), out)

	out = r.Complete(ctx, "acme", nonce, Callback{State: state, Code: "bad-code"})
	assert.Equal(t, Failed("invalid_grant"), out)

	out = r.Complete(ctx, "acme", nonce, Callback{State: state, Code: "good-code"})
	assert.Equal(t, Failed("no_verified_email"), out)

	out = r.Complete(ctx, "nope", nonce, Callback{State: state, Code: "good-code"})
	assert.Equal(t, Error, out.Kind)
	assert.ErrorIs(t, out.Err, ErrUnknownProvider)
}

func TestRegistryUnknownProvider(t *testing.T) {
	r, err := NewRegistry("https://blog.example", newSigner(t), nil)
	require.NoError(t, err)
	_, _, err = r.Begin("github")
	assert.ErrorIs(t, err, ErrUnknownProvider)
	assert.False(t, r.Has("github"))
}

func TestGenericProviderNeedsEndpoints(t *testing.T) {
	_, err := NewRegistry("https://blog.example", newSigner(t), []ProviderConfig{{Name: "acme"}})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "acme"))
}

func TestBuiltinProvidersHaveDefaults(t *testing.T) {
	r, err := NewRegistry("https://blog.example", newSigner(t), []ProviderConfig{
		{Name: "GitHub", ClientID: "a", ClientSecret: "b"},
		{Name: "google", ClientID: "c", ClientSecret: "d"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"github", "google"}, r.Names())

	redirect, _, err := r.Begin("github")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(redirect, "https://github.com/login/oauth/authorize?"))
}

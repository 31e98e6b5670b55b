// Package federation signs users in through external OAuth2 providers.
//
// A Registry holds one oauth2.Config per configured provider. Begin returns
// the provider redirect URL with a signed state; Complete checks the state,
// exchanges the authorization code and fetches the user's identity.
package federation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"
)

// ErrUnknownProvider is returned for provider names that are not configured.
var ErrUnknownProvider = errors.New("unknown identity provider")

// ErrNoVerifiedEmail is returned when a provider has no verified email for
// the user.
var ErrNoVerifiedEmail = errors.New("no verified email")

// Identity is what a provider asserts about the signed-in user.
type Identity struct {
	Provider string
	Subject  string
	Email    string
	Name     string
}

// ProviderConfig configures one provider. Endpoint fields override the
// defaults for github and google and are required for any other name.
type ProviderConfig struct {
	Name         string
	ClientID     string
	ClientSecret string
	Scopes       []string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
	EmailsURL    string
}

type provider struct {
	name   string
	oauth  *oauth2.Config
	config ProviderConfig
	fetch  func(ctx context.Context, client *http.Client, cfg ProviderConfig) (Identity, error)
}

// Registry holds the configured providers.
type Registry struct {
	providers map[string]*provider
	signer    *StateSigner
	client    *http.Client
}

// Option configures a Registry.
type Option func(*Registry)

// WithHTTPClient sets the client used for token exchange and identity calls.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Registry) { r.client = c }
}

// NewRegistry builds a Registry. Callback URLs are
// redirectBase + "/account/oauth2/redirect/" + name.
func NewRegistry(redirectBase string, signer *StateSigner, configs []ProviderConfig, opts ...Option) (*Registry, error) {
	r := &Registry{
		providers: make(map[string]*provider, len(configs)),
		signer:    signer,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(r)
	}
	base := strings.TrimRight(redirectBase, "/")
	for _, cfg := range configs {
		cfg.Name = strings.ToLower(cfg.Name)
		p, err := newProvider(cfg)
		if err != nil {
			return nil, err
		}
		p.oauth.RedirectURL = base + "/account/oauth2/redirect/" + p.name
		r.providers[p.name] = p
	}
	return r, nil
}

func newProvider(cfg ProviderConfig) (*provider, error) {
	p := &provider{name: cfg.Name}
	var endpoint oauth2.Endpoint
	var scopes []string
	switch cfg.Name {
	case "github":
		endpoint, scopes, p.fetch = github.Endpoint, []string{"read:user", "user:email"}, fetchGitHub
		cfg.UserInfoURL = orDefault(cfg.UserInfoURL, "https://api.github.com/user")
		cfg.EmailsURL = orDefault(cfg.EmailsURL, "https://api.github.com/user/emails")
	case "google":
		endpoint, scopes, p.fetch = google.Endpoint, []string{"openid", "email", "profile"}, fetchGoogle
		cfg.UserInfoURL = orDefault(cfg.UserInfoURL, "https://www.googleapis.com/oauth2/v2/userinfo")
	default:
		if cfg.AuthURL == "" || cfg.TokenURL == "" || cfg.UserInfoURL == "" {
			return nil, fmt.Errorf("provider %q: auth, token and userinfo URLs are required", cfg.Name)
		}
		scopes, p.fetch = []string{"openid", "email", "profile"}, fetchGeneric
	}
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	if len(cfg.Scopes) > 0 {
		scopes = cfg.Scopes
	}
	p.config = cfg
	p.oauth = &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     endpoint,
		Scopes:       scopes,
	}
	return p, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Names lists the configured providers in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Has reports whether name is configured.
func (r *Registry) Has(name string) bool {
	_, ok := r.providers[name]
	return ok
}

// Begin returns the provider URL to redirect the user to and the nonce the
// caller must keep in a cookie until the callback.
func (r *Registry) Begin(name string) (redirectURL, nonce string, err error) {
	p, ok := r.providers[name]
	if !ok {
		return "", "", ErrUnknownProvider
	}
	state, nonce, err := r.signer.Sign(name)
	if err != nil {
		return "", "", err
	}
	return p.oauth.AuthCodeURL(state), nonce, nil
}

// Callback carries the query parameters of a provider redirect.
type Callback struct {
	State            string
	Code             string
	Error            string
	ErrorDescription string
}

// Complete finishes a login for provider name. It never returns a nil
// Outcome kind: a provider or state problem is a Failure, anything else that
// goes wrong is an Error.
func (r *Registry) Complete(ctx context.Context, name, nonce string, cb Callback) Outcome {
	p, ok := r.providers[name]
	if !ok {
		return Errored(ErrUnknownProvider)
	}
	if err := r.signer.Verify(cb.State, name, nonce); err != nil {
		return Failed("invalid_state")
	}
	if cb.Error != "" {
		return Failed(cb.Error)
	}
	if cb.Code == "" {
		return Failed("missing_code")
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.client)
	tok, err := p.oauth.Exchange(ctx, cb.Code)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.ErrorCode != "" {
			return Failed(re.ErrorCode)
		}
		return Errored(fmt.Errorf("exchanging code with %s: %w", name, err))
	}

	id, err := p.fetch(ctx, p.oauth.Client(ctx, tok), p.config)
	if errors.Is(err, ErrNoVerifiedEmail) {
		return Failed("no_verified_email")
	}
	if err != nil {
		return Errored(fmt.Errorf("fetching %s identity: %w", name, err))
	}
	id.Provider = name
	if id.Subject == "" {
		return Errored(fmt.Errorf("%s identity has no subject", name))
	}
	return Succeeded(id)
}

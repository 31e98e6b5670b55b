// Package config loads server configuration from INKWELL_* environment
// variables.
package config

import (
	"fmt"
	"net/netip"
	"strings"
	"time"
)

// MinSecretSize is the shortest accepted CSRF or session secret.
const MinSecretSize = 32

// Accepted bcrypt cost range, matching golang.org/x/crypto/bcrypt.
const (
	MinBcryptCost = 4
	MaxBcryptCost = 31
)

// Provider holds the client credentials of one OAuth provider.
type Provider struct {
	Name         string
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
}

// Config contains all runtime configuration.
type Config struct {
	HTTPAddr string
	LogLevel string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration

	DatabaseURL string
	RedisURL    string

	CSRFSecret         string
	SessionSecret      string
	SessionTTL         time.Duration
	SessionIdleTimeout time.Duration
	BcryptCost         int

	PublicURL         string
	PostLoginRedirect string
	Providers         []Provider

	MailWebhookURL  string
	MailWebhookAuth string
	MailFrom        string

	AuditWebhookURL  string
	AuditWebhookAuth string

	TrustedProxies []string
	CORSOrigins    []string

	SweepInterval time.Duration
}

// Load reads Config from the environment. It does not validate; call
// Validate before use.
func Load() Config {
	cfg := Config{
		HTTPAddr: EnvString("INKWELL_HTTP_ADDR", ":8080"),
		LogLevel: EnvString("INKWELL_LOG_LEVEL", "info"),

		ReadHeaderTimeout: EnvDuration("INKWELL_HTTP_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:       EnvDuration("INKWELL_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("INKWELL_HTTP_WRITE_TIMEOUT", 30*time.Second),
		IdleTimeout:       EnvDuration("INKWELL_HTTP_IDLE_TIMEOUT", 60*time.Second),

		DatabaseURL: EnvString("INKWELL_DATABASE_URL", ""),
		RedisURL:    EnvString("INKWELL_REDIS_URL", ""),

		CSRFSecret:         EnvString("INKWELL_CSRF_SECRET", ""),
		SessionSecret:      EnvString("INKWELL_SESSION_SECRET", ""),
		SessionTTL:         EnvDuration("INKWELL_SESSION_TTL", 24*time.Hour),
		SessionIdleTimeout: EnvDuration("INKWELL_SESSION_IDLE_TIMEOUT", 2*time.Hour),
		BcryptCost:         EnvInt("INKWELL_BCRYPT_COST", 12),

		PublicURL:         EnvString("INKWELL_PUBLIC_URL", "http://localhost:8080"),
		PostLoginRedirect: EnvString("INKWELL_POST_LOGIN_REDIRECT", "/"),

		MailWebhookURL:  EnvString("INKWELL_MAIL_WEBHOOK_URL", ""),
		MailWebhookAuth: EnvString("INKWELL_MAIL_WEBHOOK_AUTH", ""),
		MailFrom:        EnvString("INKWELL_MAIL_FROM", "no-reply@inkwell.local"),

		AuditWebhookURL:  EnvString("INKWELL_AUDIT_WEBHOOK_URL", ""),
		AuditWebhookAuth: EnvString("INKWELL_AUDIT_WEBHOOK_AUTH", ""),

		TrustedProxies: EnvList("INKWELL_TRUSTED_PROXIES", nil),
		CORSOrigins:    EnvList("INKWELL_CORS_ORIGINS", nil),

		SweepInterval: EnvDuration("INKWELL_SWEEP_INTERVAL", time.Minute),
	}
	// "none" disables federated login.
	for _, name := range EnvList("INKWELL_OAUTH_PROVIDERS", []string{"github", "google"}) {
		name = strings.ToLower(name)
		if name == "none" {
			continue
		}
		prefix := "INKWELL_OAUTH_" + strings.ToUpper(name) + "_"
		cfg.Providers = append(cfg.Providers, Provider{
			Name:         name,
			ClientID:     EnvString(prefix+"CLIENT_ID", ""),
			ClientSecret: EnvString(prefix+"CLIENT_SECRET", ""),
			AuthURL:      EnvString(prefix+"AUTH_URL", ""),
			TokenURL:     EnvString(prefix+"TOKEN_URL", ""),
			UserInfoURL:  EnvString(prefix+"USERINFO_URL", ""),
		})
	}
	return cfg
}

// MissingError lists every required variable that is unset, and every
// value that is present but unusable.
type MissingError struct {
	Missing []string
	Invalid []string
}

func (e *MissingError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required environment variables: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid environment variables: "+strings.Join(e.Invalid, "; "))
	}
	return strings.Join(parts, "; ")
}

// Validate reports all missing or invalid required settings at once.
func (c Config) Validate() error {
	e := &MissingError{}
	secret := func(key, v string) {
		switch {
		case v == "":
			e.Missing = append(e.Missing, key)
		case len(v) < MinSecretSize:
			e.Invalid = append(e.Invalid, fmt.Sprintf("%s must be at least %d bytes", key, MinSecretSize))
		}
	}
	secret("INKWELL_CSRF_SECRET", c.CSRFSecret)
	secret("INKWELL_SESSION_SECRET", c.SessionSecret)
	if c.DatabaseURL == "" {
		e.Missing = append(e.Missing, "INKWELL_DATABASE_URL")
	}
	for _, p := range c.Providers {
		prefix := "INKWELL_OAUTH_" + strings.ToUpper(p.Name) + "_"
		if p.ClientID == "" {
			e.Missing = append(e.Missing, prefix+"CLIENT_ID")
		}
		if p.ClientSecret == "" {
			e.Missing = append(e.Missing, prefix+"CLIENT_SECRET")
		}
	}
	if c.BcryptCost < MinBcryptCost || c.BcryptCost > MaxBcryptCost {
		e.Invalid = append(e.Invalid, fmt.Sprintf("INKWELL_BCRYPT_COST must be between %d and %d", MinBcryptCost, MaxBcryptCost))
	}
	if _, err := c.ParseTrustedProxies(); err != nil {
		e.Invalid = append(e.Invalid, "INKWELL_TRUSTED_PROXIES: "+err.Error())
	}
	if len(e.Missing) == 0 && len(e.Invalid) == 0 {
		return nil
	}
	return e
}

// ParseTrustedProxies parses TrustedProxies as CIDR prefixes. Bare
// addresses are accepted as single-host prefixes.
func (c Config) ParseTrustedProxies() ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(c.TrustedProxies))
	for _, s := range c.TrustedProxies {
		if p, err := netip.ParsePrefix(s); err == nil {
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return nil, fmt.Errorf("%q is not an address or CIDR prefix", s)
		}
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

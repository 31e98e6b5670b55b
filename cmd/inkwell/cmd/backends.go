package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/jmcleod/inkwell/api"
	"github.com/jmcleod/inkwell/config"
	"github.com/jmcleod/inkwell/federation"
	"github.com/jmcleod/inkwell/internal/util"
	"github.com/jmcleod/inkwell/mail"
	"github.com/jmcleod/inkwell/session"
	"github.com/jmcleod/inkwell/storage"
	bboltstorage "github.com/jmcleod/inkwell/storage/bbolt"
	"github.com/jmcleod/inkwell/storage/memory"
	"github.com/jmcleod/inkwell/storage/postgres"
	"github.com/jmcleod/inkwell/storage/sqlite"
)

// HKDF info strings. Each derived key is independent of the others.
var (
	sessionKeyInfo = []byte("inkwell:session_key:v1")
	oauthStateInfo = []byte("inkwell:oauth_state:v1")
)

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// openRepository opens the document store named by rawURL:
// memory://, bolt:///path/to.db, sqlite:///path/to.db or postgres://...
func openRepository(ctx context.Context, rawURL string) (storage.Repository, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}
	switch u.Scheme {
	case "memory":
		return memory.NewRepository(), nil
	case "bolt", "bbolt":
		path := filePath(u)
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		return bboltstorage.NewRepositoryFromFile(path, nil)
	case "sqlite", "sqlite3":
		return sqlite.Open(ctx, filePath(u))
	case "postgres", "postgresql":
		return postgres.NewRepositoryFromDSN(ctx, rawURL)
	default:
		return nil, fmt.Errorf("unsupported database scheme %q", u.Scheme)
	}
}

// filePath accepts both bolt:///abs/path and bolt://relative/path.
func filePath(u *url.URL) string {
	if u.Host == "" {
		return u.Path
	}
	return u.Host + u.Path
}

// backends holds the stores that live in Redis when it is configured.
type backends struct {
	sessions session.Store
	limiters api.Limiters
	close    func()
}

func openBackends(ctx context.Context, cfg config.Config, repo storage.Repository) (*backends, error) {
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis URL: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		return &backends{
			sessions: session.NewRedisStore(client, "inkwell:session:", cfg.SessionIdleTimeout),
			limiters: api.NewRedisLimiters(client),
			close:    func() { client.Close() },
		}, nil
	}

	key, err := util.HKDF([]byte(cfg.SessionSecret), nil, sessionKeyInfo)
	if err != nil {
		return nil, err
	}
	store, err := session.NewPersistentStore(ctx, repo, cfg.SessionIdleTimeout, key)
	if err != nil {
		return nil, fmt.Errorf("opening session store: %w", err)
	}
	return &backends{
		sessions: store,
		limiters: api.NewMemoryLimiters(),
		close:    store.Close,
	}, nil
}

func newFederation(cfg config.Config) (*federation.Registry, error) {
	if len(cfg.Providers) == 0 {
		return nil, nil
	}
	key, err := util.HKDF([]byte(cfg.SessionSecret), nil, oauthStateInfo)
	if err != nil {
		return nil, err
	}
	signer, err := federation.NewStateSigner(key)
	if err != nil {
		return nil, err
	}
	configs := make([]federation.ProviderConfig, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		configs = append(configs, federation.ProviderConfig{
			Name:         p.Name,
			ClientID:     p.ClientID,
			ClientSecret: p.ClientSecret,
			AuthURL:      p.AuthURL,
			TokenURL:     p.TokenURL,
			UserInfoURL:  p.UserInfoURL,
		})
	}
	return federation.NewRegistry(cfg.PublicURL, signer, configs)
}

func newNotices(cfg config.Config, logger *slog.Logger) *mail.Notices {
	var sender mail.Sender = mail.LogSender{Logger: logger}
	if cfg.MailWebhookURL != "" {
		sender = mail.NewWebhookSender(cfg.MailWebhookURL, cfg.MailWebhookAuth, cfg.MailFrom)
	}
	return mail.NewNotices(sender, cfg.MailFrom)
}

// schemeOf returns the scheme of a database URL for display, never the
// credentials.
func schemeOf(rawURL string) string {
	scheme, _, ok := strings.Cut(rawURL, "://")
	if !ok {
		return "unknown"
	}
	return scheme
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/jmcleod/inkwell/account"
	"github.com/jmcleod/inkwell/api"
	"github.com/jmcleod/inkwell/blog"
	"github.com/jmcleod/inkwell/config"
	"github.com/jmcleod/inkwell/csrf"
)

var addr string

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		if addr != "" {
			cfg.HTTPAddr = addr
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		logger := newLogger(cfg.LogLevel)
		slog.SetDefault(logger)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		repo, err := openRepository(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to open storage: %w", err)
		}
		defer repo.Close()

		be, err := openBackends(ctx, cfg, repo)
		if err != nil {
			return err
		}
		defer be.close()

		codec, err := csrf.NewCodec([]byte(cfg.CSRFSecret))
		if err != nil {
			return err
		}
		providers, err := newFederation(cfg)
		if err != nil {
			return fmt.Errorf("configuring federated login: %w", err)
		}
		proxies, err := cfg.ParseTrustedProxies()
		if err != nil {
			return err
		}

		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)

		accounts := account.NewStore(repo, account.WithBcryptCost(cfg.BcryptCost))
		a := api.New(accounts, blog.NewStore(repo, logger), be.sessions, codec,
			api.WithLogger(logger),
			api.WithAlertFunc(func(ev api.AlertEvent) {
				logger.Warn("security alert", "type", ev.Type, "message", ev.Message,
					"count", ev.Count, "threshold", ev.Threshold)
			}),
			api.WithTrustedProxies(proxies),
			api.WithLimiters(be.limiters),
			api.WithNotices(newNotices(cfg, logger)),
			api.WithFederation(providers),
			api.WithSessionTTL(cfg.SessionTTL),
			api.WithPostLoginRedirect(cfg.PostLoginRedirect),
			api.WithRegistry(reg),
			api.WithAuditWebhook(cfg.AuditWebhookURL, cfg.AuditWebhookAuth),
		)
		defer a.Close()

		go accounts.RunSweeper(ctx, cfg.SweepInterval, func(err error) {
			logger.Warn("sweeping expired registrations", "error", err)
		})
		go be.limiters.RunSweeper(ctx, cfg.SweepInterval)

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Logger)
		if len(cfg.CORSOrigins) > 0 {
			r.Use(corsHandler(cfg.CORSOrigins))
		}

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			if err := repo.Ping(r.Context()); err != nil {
				http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
				return
			}
			w.Write([]byte("OK"))
		})
		r.Mount("/", a.Router())

		server := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           r,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
			ReadTimeout:       cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       cfg.IdleTimeout,
		}

		done := make(chan error, 1)
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		printBanner()
		logger.Info("listening", "addr", cfg.HTTPAddr, "storage", schemeOf(cfg.DatabaseURL),
			"redis", cfg.RedisURL != "", "providers", len(cfg.Providers))

		select {
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr, "\nshutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

// corsHandler lets browser clients on the listed origins call the API
// with cookies and the CSRF header.
func corsHandler(origins []string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-CSRF-TOKEN"},
		ExposedHeaders:   []string{"Retry-After", "Expire-After"},
		AllowCredentials: true,
		MaxAge:           300,
	})
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides INKWELL_HTTP_ADDR)")
}

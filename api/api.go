package api

import (
	_ "embed"
	"log/slog"
	"net/http"
	"net/netip"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jmcleod/inkwell/account"
	"github.com/jmcleod/inkwell/blog"
	"github.com/jmcleod/inkwell/csrf"
	"github.com/jmcleod/inkwell/federation"
	"github.com/jmcleod/inkwell/mail"
	"github.com/jmcleod/inkwell/session"
)

const (
	defaultSessionTTL = 24 * time.Hour
	// resetSessionTTL bounds the elevated session created by verifyCode.
	resetSessionTTL = 15 * time.Minute
)

// API holds the dependencies needed by the REST handlers.
type API struct {
	accounts  *account.Store
	blog      *blog.Store
	sessions  session.Store
	csrf      *csrf.Codec
	limiters  Limiters
	notices   *mail.Notices
	providers *federation.Registry
	audit     *auditLogger
	metrics   *metricsCollector
	registry  *prometheus.Registry

	auditWebhookURL  string
	auditWebhookAuth string

	trustedProxies    []netip.Prefix
	sessionTTL        time.Duration
	postLoginRedirect string
	now               func() time.Time
}

//go:embed openapi.yaml
var openapiSpec []byte

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for audit events.
// If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.audit = newAuditLogger(logger)
	}
}

// WithAuditWebhook forwards every audit event to url as JSON. authHeader,
// if set, has the form "Name: value" and is sent with each request.
func WithAuditWebhook(url, authHeader string) Option {
	return func(a *API) {
		a.auditWebhookURL = url
		a.auditWebhookAuth = authHeader
	}
}

// WithAlertFunc registers a callback for anomaly alerts such as a spike in
// failed logins.
func WithAlertFunc(fn AlertFunc) Option {
	return func(a *API) {
		a.metrics = newMetricsCollector(fn)
	}
}

// WithTrustedProxies sets the proxy prefixes whose forwarding headers are
// believed when determining the client IP.
func WithTrustedProxies(prefixes []netip.Prefix) Option {
	return func(a *API) {
		a.trustedProxies = prefixes
	}
}

// WithLimiters replaces the default in-memory rate limiters.
func WithLimiters(l Limiters) Option {
	return func(a *API) {
		a.limiters = l
	}
}

// WithNotices sets where account notices are sent. The default logs them.
func WithNotices(n *mail.Notices) Option {
	return func(a *API) {
		a.notices = n
	}
}

// WithFederation enables federated login through the given providers.
func WithFederation(r *federation.Registry) Option {
	return func(a *API) {
		a.providers = r
	}
}

// WithSessionTTL sets the absolute lifetime of login sessions.
func WithSessionTTL(d time.Duration) Option {
	return func(a *API) {
		a.sessionTTL = d
	}
}

// WithPostLoginRedirect sets where federated logins land.
func WithPostLoginRedirect(url string) Option {
	return func(a *API) {
		a.postLoginRedirect = url
	}
}

// WithRegistry sets the Prometheus registry that audit counters are
// registered with. The default is a private registry served at /metrics.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(a *API) {
		a.registry = reg
	}
}

// New creates a new API instance.
func New(accounts *account.Store, posts *blog.Store, sessions session.Store, codec *csrf.Codec, opts ...Option) *API {
	a := &API{
		accounts:          accounts,
		blog:              posts,
		sessions:          sessions,
		csrf:              codec,
		sessionTTL:        defaultSessionTTL,
		postLoginRedirect: "/",
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.audit == nil {
		a.audit = newAuditLogger(slog.New(slog.NewJSONHandler(os.Stderr, nil)))
	}
	if a.limiters == (Limiters{}) {
		a.limiters = NewMemoryLimiters()
	}
	if a.notices == nil {
		a.notices = mail.NewNotices(mail.LogSender{Logger: a.audit.logger}, "")
	}
	if a.registry == nil {
		a.registry = prometheus.NewRegistry()
	}
	a.audit.metrics = a.metrics
	a.audit.counter = newAuditCounter(a.registry)
	if a.auditWebhookURL != "" {
		a.audit.shipper = newAuditShipper(a.auditWebhookURL, a.auditWebhookAuth, a.audit.logger)
	}
	return a
}

// Close flushes queued audit webhook deliveries.
func (a *API) Close() {
	if a.audit.shipper != nil {
		a.audit.shipper.close()
	}
}

// Router returns a chi.Router with all API routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(Recoverer)
	r.Use(SecurityHeaders)
	r.Use(a.SessionMiddleware)

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/openapi.yaml",
		Path:    "docs",
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/openapi.yaml",
		Path:    "redoc",
	}, nil))

	r.Get("/metrics", a.Metrics)

	r.Route("/account", func(r chi.Router) {
		r.Use(NoStore)
		r.Post("/login", a.Login)
		r.With(a.RequireAuth, a.CSRFMiddleware).Post("/logout", a.Logout)
		r.Get("/session", a.SessionInfo)

		r.Post("/requestRegister", a.RequestRegister)
		r.Post("/register", a.Register)

		r.Post("/requestResetPassword", a.RequestResetPassword)
		r.Post("/requestVerificationCode", a.RequestVerificationCode)
		r.Post("/verifyCode", a.VerifyCode)
		r.Post("/resetPassword", a.ResetPassword)

		r.Get("/login/{federation}", a.FederatedLogin)
		r.Get("/oauth2/redirect/{federation}", a.FederatedCallback)
	})

	r.Route("/blog", func(r chi.Router) {
		r.Get("/posts", a.ListPosts)
		r.Get("/posts/{postID}", a.GetPost)
		r.Get("/posts/{postID}/comments", a.ListComments)
		r.Get("/comments/{commentID}/replies", a.ListReplies)

		r.Group(func(r chi.Router) {
			r.Use(a.RequireAuth, a.CSRFMiddleware)
			r.Post("/posts", a.CreatePost)
			r.Put("/posts/{postID}", a.UpdatePost)
			r.Delete("/posts/{postID}", a.DeletePost)
			r.Post("/comments", a.CreateComment)
			r.Put("/comments/{commentID}", a.UpdateComment)
			r.Delete("/comments/{commentID}", a.DeleteComment)
			r.Post("/replies", a.CreateReply)
			r.Put("/replies/{replyID}", a.UpdateReply)
			r.Delete("/replies/{replyID}", a.DeleteReply)
		})
	})

	r.Route("/user", func(r chi.Router) {
		r.With(a.RequireAuth).Get("/me", a.GetMe)
		r.Group(func(r chi.Router) {
			r.Use(a.RequireAuth, a.CSRFMiddleware)
			r.Put("/me", a.UpdateMe)
			r.Put("/me/password", a.ChangePassword)
			r.Delete("/me", a.DeleteMe)
			r.Delete("/{userID}", a.DeleteUser)
		})
		r.Get("/{userID}", a.GetUserProfile)
	})

	return r
}

// Metrics handles GET /metrics.
func (a *API) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
}

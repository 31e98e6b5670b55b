package api

import (
	"log/slog"
	"net/http"
	"time"
)

// AuditEvent identifies the type of security-relevant action being logged.
type AuditEvent string

const (
	AuditLoginSuccess       AuditEvent = "login_success"
	AuditLoginFailure       AuditEvent = "login_failure"
	AuditLoginRateLimited   AuditEvent = "login_rate_limited"
	AuditLogout             AuditEvent = "logout"
	AuditRegisterRequested  AuditEvent = "register_requested"
	AuditRegisterCompleted  AuditEvent = "register_completed"
	AuditRegisterFailure    AuditEvent = "register_failure"
	AuditResetRequested     AuditEvent = "reset_requested"
	AuditResetVerified      AuditEvent = "reset_verified"
	AuditResetFailure       AuditEvent = "reset_failure"
	AuditResetCompleted     AuditEvent = "reset_completed"
	AuditPasswordChanged    AuditEvent = "password_changed"
	AuditOAuthLogin         AuditEvent = "oauth_login"
	AuditOAuthFailure       AuditEvent = "oauth_failure"
	AuditCSRFRejected       AuditEvent = "csrf_rejected"
	AuditPostDeleted        AuditEvent = "post_deleted"
	AuditCommentDeleted     AuditEvent = "comment_deleted"
	AuditReplyDeleted       AuditEvent = "reply_deleted"
	AuditAccountDeleted     AuditEvent = "account_deleted"
	AuditAccountDeleteError AuditEvent = "account_delete_failed"
)

// auditLogger wraps slog.Logger for structured security audit logging.
type auditLogger struct {
	logger  *slog.Logger
	metrics *metricsCollector
	counter *auditCounter
	shipper *auditShipper
}

func newAuditLogger(logger *slog.Logger) *auditLogger {
	return &auditLogger{
		logger: logger.With("component", "audit"),
	}
}

// log writes a structured audit log entry.
func (al *auditLogger) log(event AuditEvent, r *http.Request, attrs ...slog.Attr) {
	now := time.Now()
	baseAttrs := []slog.Attr{
		slog.String("event", string(event)),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("timestamp", now.UTC().Format(time.RFC3339)),
	}
	baseAttrs = append(baseAttrs, attrs...)
	al.logger.LogAttrs(r.Context(), slog.LevelInfo, "audit", baseAttrs...)
	al.counter.inc(event)
	al.metrics.recordEvent(event)
	if al.shipper != nil {
		al.shipper.enqueue(newAuditRecord(event, r, now, attrs))
	}
}

// logEvent is a convenience for events with an account ID.
func (al *auditLogger) logEvent(event AuditEvent, r *http.Request, accountID string, extra ...slog.Attr) {
	attrs := append([]slog.Attr{slog.String("account_id", accountID)}, extra...)
	al.log(event, r, attrs...)
}

// logFailure logs a rejected attempt.
func (al *auditLogger) logFailure(event AuditEvent, r *http.Request, reason string, extra ...slog.Attr) {
	attrs := append([]slog.Attr{slog.String("reason", reason)}, extra...)
	al.log(event, r, attrs...)
}

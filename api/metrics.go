package api

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// auditCounter exports audit events as inkwell_audit_events_total{event}.
type auditCounter struct {
	events *prometheus.CounterVec
}

func newAuditCounter(reg prometheus.Registerer) *auditCounter {
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "inkwell",
		Name:      "audit_events_total",
		Help:      "Security audit events by type.",
	}, []string{"event"})
	if err := reg.Register(events); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			events = are.ExistingCollector.(*prometheus.CounterVec)
		}
	}
	return &auditCounter{events: events}
}

func (c *auditCounter) inc(event AuditEvent) {
	if c == nil {
		return
	}
	c.events.WithLabelValues(string(event)).Inc()
}

// AlertType identifies the kind of anomaly detected.
type AlertType string

const (
	AlertLoginFailureSpike AlertType = "login_failure_spike"
	AlertCSRFRejectSpike   AlertType = "csrf_reject_spike"
)

// AlertEvent describes an anomaly that triggered an alert.
type AlertEvent struct {
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Count     int       `json:"count"`
	Threshold int       `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertFunc is the callback invoked when an anomaly is detected.
type AlertFunc func(AlertEvent)

// slidingWindow counts events in a trailing window and fires once the
// threshold is reached.
type slidingWindow struct {
	alert     AlertType
	message   string
	window    time.Duration
	threshold int
	hits      []time.Time
}

// metricsCollector tracks sliding window counters for anomaly detection.
type metricsCollector struct {
	mu      sync.Mutex
	windows map[AuditEvent]*slidingWindow
	alertFn AlertFunc
	now     func() time.Time
}

const (
	defaultLoginFailureWindow    = 1 * time.Minute
	defaultLoginFailureThreshold = 50
	defaultCSRFRejectWindow      = 5 * time.Minute
	defaultCSRFRejectThreshold   = 100
)

func newMetricsCollector(alertFn AlertFunc) *metricsCollector {
	return &metricsCollector{
		windows: map[AuditEvent]*slidingWindow{
			AuditLoginFailure: {
				alert:     AlertLoginFailureSpike,
				message:   "login failure rate exceeds threshold",
				window:    defaultLoginFailureWindow,
				threshold: defaultLoginFailureThreshold,
			},
			AuditCSRFRejected: {
				alert:     AlertCSRFRejectSpike,
				message:   "csrf rejection rate exceeds threshold",
				window:    defaultCSRFRejectWindow,
				threshold: defaultCSRFRejectThreshold,
			},
		},
		alertFn: alertFn,
		now:     time.Now,
	}
}

// recordEvent inspects an audit event and updates the relevant counters.
func (m *metricsCollector) recordEvent(event AuditEvent) {
	if m == nil || m.alertFn == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[event]
	if !ok {
		return
	}
	now := m.now()
	w.hits = trimWindow(append(w.hits, now), now, w.window)
	if len(w.hits) >= w.threshold {
		m.alertFn(AlertEvent{
			Type:      w.alert,
			Message:   w.message,
			Count:     len(w.hits),
			Threshold: w.threshold,
			Timestamp: now,
		})
		// Reset to avoid repeated alerts within the same spike.
		w.hits = w.hits[:0]
	}
}

// trimWindow removes entries older than (now - window) from the sorted slice.
func trimWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	start := 0
	for start < len(times) && times[start].Before(cutoff) {
		start++
	}
	return times[start:]
}

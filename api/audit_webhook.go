package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	auditQueueSize    = 1024
	auditRetryBackoff = time.Second
)

// auditRecord is the JSON body delivered to the audit webhook.
type auditRecord struct {
	Event      string            `json:"event"`
	AccountID  string            `json:"accountId,omitempty"`
	RemoteAddr string            `json:"remoteAddr,omitempty"`
	Timestamp  string            `json:"timestamp"`
	Attrs      map[string]string `json:"attrs,omitempty"`
}

func newAuditRecord(event AuditEvent, r *http.Request, now time.Time, attrs []slog.Attr) auditRecord {
	rec := auditRecord{
		Event:      string(event),
		RemoteAddr: r.RemoteAddr,
		Timestamp:  now.UTC().Format(time.RFC3339),
	}
	for _, a := range attrs {
		if a.Key == "account_id" {
			rec.AccountID = a.Value.String()
			continue
		}
		if rec.Attrs == nil {
			rec.Attrs = make(map[string]string, len(attrs))
		}
		rec.Attrs[a.Key] = a.Value.String()
	}
	return rec
}

// auditShipper forwards audit records to an HTTP collector from a single
// background goroutine. Records are dropped when the queue is full so
// request handlers never wait on the collector.
type auditShipper struct {
	url    string
	header string
	value  string
	client *http.Client
	logger *slog.Logger
	queue  chan auditRecord
	wg     sync.WaitGroup
	once   sync.Once
}

// newAuditShipper starts a shipper. authHeader has the form "Name: value".
func newAuditShipper(url, authHeader string, logger *slog.Logger) *auditShipper {
	s := &auditShipper{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
		queue:  make(chan auditRecord, auditQueueSize),
	}
	if name, value, ok := strings.Cut(authHeader, ":"); ok {
		s.header, s.value = strings.TrimSpace(name), strings.TrimSpace(value)
	}
	s.wg.Add(1)
	go s.run()
	return s
}

func (s *auditShipper) enqueue(rec auditRecord) {
	select {
	case s.queue <- rec:
	default:
		s.logger.Warn("audit webhook queue full, dropping event", "event", rec.Event)
	}
}

// close stops accepting records and waits for the queue to drain.
func (s *auditShipper) close() {
	s.once.Do(func() { close(s.queue) })
	s.wg.Wait()
}

func (s *auditShipper) run() {
	defer s.wg.Done()
	for rec := range s.queue {
		s.deliver(context.Background(), rec)
	}
}

// deliver POSTs rec, retrying once on transport errors and 5xx responses.
func (s *auditShipper) deliver(ctx context.Context, rec auditRecord) {
	body, err := json.Marshal(rec)
	if err != nil {
		s.logger.Warn("audit webhook: encoding failed", "error", err)
		return
	}
	for attempt := 1; attempt <= 2; attempt++ {
		if attempt > 1 {
			time.Sleep(auditRetryBackoff)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
		if err != nil {
			s.logger.Warn("audit webhook: bad request", "error", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "Inkwell-Audit-Webhook/1.0")
		if s.header != "" {
			req.Header.Set(s.header, s.value)
		}
		resp, err := s.client.Do(req)
		if err != nil {
			s.logger.Warn("audit webhook: delivery failed", "error", err, "attempt", attempt)
			continue
		}
		resp.Body.Close()
		switch {
		case resp.StatusCode < 300:
			return
		case resp.StatusCode >= 500:
			s.logger.Warn("audit webhook: collector error", "status", resp.StatusCode, "attempt", attempt)
		default:
			s.logger.Warn("audit webhook: rejected", "status", resp.StatusCode, "event", rec.Event)
			return
		}
	}
}

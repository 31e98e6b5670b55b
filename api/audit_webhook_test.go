package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discardLogger = slog.New(slog.DiscardHandler)

type collector struct {
	mu      sync.Mutex
	records []auditRecord
	headers []http.Header
}

func (c *collector) handler(status func(n int) int) http.HandlerFunc {
	var n atomic.Int32
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var rec auditRecord
		_ = json.Unmarshal(body, &rec)
		c.mu.Lock()
		c.records = append(c.records, rec)
		c.headers = append(c.headers, r.Header.Clone())
		c.mu.Unlock()
		w.WriteHeader(status(int(n.Add(1))))
	}
}

func (c *collector) snapshot() ([]auditRecord, []http.Header) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]auditRecord(nil), c.records...), append([]http.Header(nil), c.headers...)
}

func always(code int) func(int) int { return func(int) int { return code } }

func TestAuditShipperDelivers(t *testing.T) {
	var c collector
	srv := httptest.NewServer(c.handler(always(http.StatusNoContent)))
	defer srv.Close()

	s := newAuditShipper(srv.URL, "Authorization: Bearer audit-token", discardLogger)
	s.enqueue(auditRecord{Event: "login_success", AccountID: "u1", Timestamp: "2026-01-01T00:00:00Z"})
	s.close()

	records, headers := c.snapshot()
	require.Len(t, records, 1)
	assert.Equal(t, "login_success", records[0].Event)
	assert.Equal(t, "u1", records[0].AccountID)
	assert.Equal(t, "Bearer audit-token", headers[0].Get("Authorization"))
	assert.Equal(t, "application/json", headers[0].Get("Content-Type"))
}

func TestAuditShipperRetriesServerErrors(t *testing.T) {
	var c collector
	srv := httptest.NewServer(c.handler(func(n int) int {
		if n == 1 {
			return http.StatusBadGateway
		}
		return http.StatusOK
	}))
	defer srv.Close()

	s := newAuditShipper(srv.URL, "", discardLogger)
	s.enqueue(auditRecord{Event: "logout"})
	s.close()

	records, _ := c.snapshot()
	assert.Len(t, records, 2)
}

func TestAuditShipperDoesNotRetryRejections(t *testing.T) {
	var c collector
	srv := httptest.NewServer(c.handler(always(http.StatusUnauthorized)))
	defer srv.Close()

	s := newAuditShipper(srv.URL, "", discardLogger)
	s.enqueue(auditRecord{Event: "logout"})
	s.close()

	records, _ := c.snapshot()
	assert.Len(t, records, 1)
}

func TestAuditShipperDrainsOnClose(t *testing.T) {
	var c collector
	srv := httptest.NewServer(c.handler(always(http.StatusOK)))
	defer srv.Close()

	s := newAuditShipper(srv.URL, "", discardLogger)
	for range 5 {
		s.enqueue(auditRecord{Event: "post_deleted"})
	}
	s.close()
	s.close()

	records, _ := c.snapshot()
	assert.Len(t, records, 5)
}

func TestAuditShipperDropsWhenFull(t *testing.T) {
	s := &auditShipper{logger: discardLogger, queue: make(chan auditRecord, 2)}
	done := make(chan struct{})
	go func() {
		for range 10 {
			s.enqueue(auditRecord{Event: "flood"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("enqueue blocked on a full queue")
	}
	assert.Len(t, s.queue, 2)
}

func TestNewAuditRecordSplitsAttributes(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/account/login", nil)
	r.RemoteAddr = "192.0.2.7:5555"
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))

	rec := newAuditRecord(AuditLoginFailure, r, now, []slog.Attr{
		slog.String("account_id", "u9"),
		slog.String("reason", "invalid credentials"),
	})
	assert.Equal(t, "login_failure", rec.Event)
	assert.Equal(t, "u9", rec.AccountID)
	assert.Equal(t, "192.0.2.7:5555", rec.RemoteAddr)
	assert.Equal(t, "2026-03-01T11:00:00Z", rec.Timestamp)
	assert.Equal(t, map[string]string{"reason": "invalid credentials"}, rec.Attrs)
}

package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// WebhookSender POSTs each message as JSON to a mail relay. A 5xx or
// transport error is retried once; 4xx is not.
type WebhookSender struct {
	url        string
	authHeader string
	from       string
	client     *http.Client
	retryDelay time.Duration
}

var _ Sender = (*WebhookSender)(nil)

// NewWebhookSender returns a sender for url. authHeader, if set, is a
// "Header: Value" pair added to every request. from fills Message.From when
// the message leaves it empty.
func NewWebhookSender(url, authHeader, from string) *WebhookSender {
	return &WebhookSender{
		url:        url,
		authHeader: authHeader,
		from:       from,
		client:     &http.Client{Timeout: 10 * time.Second},
		retryDelay: time.Second,
	}
}

func (w *WebhookSender) Send(ctx context.Context, msg Message) error {
	if msg.From == "" {
		msg.From = w.from
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}

	var lastErr error
	for attempt := range 2 {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrDelivery, ctx.Err())
			case <-time.After(w.retryDelay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrDelivery, err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "Inkwell-Mail-Webhook/1.0")
		if name, value, ok := strings.Cut(w.authHeader, ":"); ok {
			req.Header.Set(strings.TrimSpace(name), strings.TrimSpace(value))
		}

		resp, err := w.client.Do(req)
		if err != nil {
			slog.Warn("mail webhook: request failed", "error", err, "attempt", attempt+1)
			lastErr = err
			continue
		}
		resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 500:
			slog.Warn("mail webhook: server error", "status", resp.StatusCode, "attempt", attempt+1)
			lastErr = fmt.Errorf("relay returned %d", resp.StatusCode)
			continue
		default:
			return fmt.Errorf("%w: relay returned %d", ErrDelivery, resp.StatusCode)
		}
	}
	return fmt.Errorf("%w: %v", ErrDelivery, lastErr)
}

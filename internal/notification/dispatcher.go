// Package notification turns domain events into user-facing notifications. Delivery is best effort:
// failures are logged and never retried.
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/frahmantamala/stay-payments/internal"
)

type Notification struct {
	UserID   string `json:"user_id"`
	Title    string `json:"title"`
	Message  string `json:"message"`
	DeepLink string `json:"deep_link,omitempty"`
}

type Dispatcher interface {
	Dispatch(ctx context.Context, n Notification) error
}

// HTTPDispatcher posts notifications as JSON to a delivery service.
type HTTPDispatcher struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewHTTPDispatcher(url string, timeout time.Duration, logger *slog.Logger) *HTTPDispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPDispatcher{
		url:        strings.TrimRight(url, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

func (d *HTTPDispatcher) Dispatch(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if traceID := internal.TraceIDFromContext(ctx); traceID != "" {
		req.Header.Set(internal.TraceHeader, traceID)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("notification service returned status %d", resp.StatusCode)
	}
	d.logger.Debug("notification dispatched", "user_id", n.UserID, "title", n.Title)
	return nil
}

// LogDispatcher only logs. It is used when no delivery service is configured.
type LogDispatcher struct {
	logger *slog.Logger
}

func NewLogDispatcher(logger *slog.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger}
}

func (d *LogDispatcher) Dispatch(_ context.Context, n Notification) error {
	d.logger.Info("notification",
		"user_id", n.UserID,
		"title", n.Title,
		"message", n.Message,
		"deep_link", n.DeepLink)
	return nil
}

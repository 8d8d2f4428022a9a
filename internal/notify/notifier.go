// Package notify delivers alert notifications to the configured endpoints.
//
// Endpoints are URIs; the scheme and host select the transport:
//
//	https://hooks.slack.com/...      Slack incoming webhook
//	ntfy://host/topic, ntfys://...   ntfy publish (plain http / https)
//	kafka://broker[,broker]/topic    Kafka topic
//	http(s)://anything-else          JSON webhook
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	kafkaadapter "github.com/couchcryptid/sonde-alert/internal/adapter/kafka"
	"github.com/couchcryptid/sonde-alert/internal/domain"
)

var (
	// ErrQueueFull is returned by Enqueue when the dispatch queue has no room.
	ErrQueueFull = errors.New("notification queue full")
	// ErrRateLimited is returned by Enqueue when the delivery rate is exceeded.
	ErrRateLimited = errors.New("notification rate limited")
	// ErrUnsupportedEndpoint is returned for endpoint URIs no notifier handles.
	ErrUnsupportedEndpoint = errors.New("unsupported notification endpoint")
	// ErrClosed is returned by Enqueue after Close.
	ErrClosed = errors.New("dispatcher closed")
)

// Notifier is one delivery channel.
type Notifier interface {
	// Name identifies the transport ("slack", "ntfy", "webhook", "kafka").
	Name() string
	Send(ctx context.Context, req domain.NotificationRequest) error
	Close() error
}

// DefaultHTTPTimeout bounds a single HTTP delivery when the caller's context has no deadline.
const DefaultHTTPTimeout = 30 * time.Second

// NewNotifier builds the notifier for an endpoint URI. A nil client gets a
// client with DefaultHTTPTimeout.
func NewNotifier(endpoint string, client *http.Client) (Notifier, error) {
	if client == nil {
		client = &http.Client{Timeout: DefaultHTTPTimeout}
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedEndpoint, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "https":
		if strings.EqualFold(u.Host, "hooks.slack.com") {
			return NewSlackNotifier(endpoint, client), nil
		}
		return NewWebhookNotifier(endpoint, client), nil
	case "http":
		if u.Host == "" {
			break
		}
		return NewWebhookNotifier(endpoint, client), nil
	case "ntfy", "ntfys":
		return NewNtfyNotifier(u, client)
	case "kafka":
		brokers, topic, err := parseKafkaEndpoint(u)
		if err != nil {
			return nil, err
		}
		return kafkaadapter.NewWriter(brokers, topic), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedEndpoint, redact(u))
}

// NewNotifiers builds a notifier for every endpoint, closing what was built
// if any endpoint is rejected.
func NewNotifiers(endpoints []string, client *http.Client) ([]Notifier, error) {
	out := make([]Notifier, 0, len(endpoints))
	for _, e := range endpoints {
		n, err := NewNotifier(e, client)
		if err != nil {
			for _, built := range out {
				_ = built.Close()
			}
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func parseKafkaEndpoint(u *url.URL) ([]string, string, error) {
	topic := strings.Trim(u.Path, "/")
	if u.Host == "" || topic == "" {
		return nil, "", fmt.Errorf("%w: kafka endpoint needs kafka://broker[,broker]/topic", ErrUnsupportedEndpoint)
	}
	var brokers []string
	for _, b := range strings.Split(u.Host, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers, topic, nil
}

// redact strips credentials and query tokens so endpoints can be logged.
func redact(u *url.URL) string {
	c := *u
	c.User = nil
	c.RawQuery = ""
	return c.String()
}

// postBody sends body to target and treats any non-2xx status as an error.
func postBody(ctx context.Context, client *http.Client, target, contentType string, body []byte, headers map[string]string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

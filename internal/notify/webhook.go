package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/couchcryptid/sonde-alert/internal/domain"
)

// WebhookNotifier posts the notification request as JSON to an arbitrary URL.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

func NewWebhookNotifier(url string, client *http.Client) *WebhookNotifier {
	return &WebhookNotifier{url: url, client: client}
}

func (w *WebhookNotifier) Name() string { return "webhook" }

func (w *WebhookNotifier) Send(ctx context.Context, req domain.NotificationRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}
	if err := postBody(ctx, w.client, w.url, "application/json", data, nil); err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	return nil
}

func (w *WebhookNotifier) Close() error {
	w.client.CloseIdleConnections()
	return nil
}

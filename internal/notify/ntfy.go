package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/couchcryptid/sonde-alert/internal/domain"
)

const defaultNtfyHost = "ntfy.sh"

// NtfyNotifier publishes plain-text messages to an ntfy topic.
type NtfyNotifier struct {
	topicURL string
	client   *http.Client
}

// NewNtfyNotifier accepts ntfy://host/topic (http) or ntfys://host/topic
// (https). A bare ntfy://topic publishes to ntfy.sh.
func NewNtfyNotifier(u *url.URL, client *http.Client) (*NtfyNotifier, error) {
	scheme := "http"
	if strings.EqualFold(u.Scheme, "ntfys") {
		scheme = "https"
	}

	host, topic := u.Host, strings.Trim(u.Path, "/")
	if topic == "" {
		host, topic = defaultNtfyHost, u.Host
		scheme = "https"
	}
	if topic == "" {
		return nil, fmt.Errorf("%w: ntfy endpoint needs a topic", ErrUnsupportedEndpoint)
	}

	target := url.URL{Scheme: scheme, Host: host, Path: "/" + topic, User: u.User}
	return &NtfyNotifier{topicURL: target.String(), client: client}, nil
}

func (n *NtfyNotifier) Name() string { return "ntfy" }

func (n *NtfyNotifier) Send(ctx context.Context, req domain.NotificationRequest) error {
	headers := map[string]string{
		"Title":    req.Title,
		"Tags":     "balloon",
		"Priority": "high",
		"Click":    req.TrackerURL,
	}
	if err := postBody(ctx, n.client, n.topicURL, "text/plain; charset=utf-8", []byte(req.Body), headers); err != nil {
		return fmt.Errorf("ntfy: %w", err)
	}
	return nil
}

func (n *NtfyNotifier) Close() error {
	n.client.CloseIdleConnections()
	return nil
}

package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/couchcryptid/sonde-alert/internal/domain"
)

// SlackNotifier sends alerts to a Slack incoming webhook as Block Kit messages.
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
}

func NewSlackNotifier(webhookURL string, client *http.Client) *SlackNotifier {
	return &SlackNotifier{webhookURL: webhookURL, client: client}
}

func (s *SlackNotifier) Name() string { return "slack" }

func (s *SlackNotifier) Send(ctx context.Context, req domain.NotificationRequest) error {
	data, err := json.Marshal(buildSlackPayload(req))
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}
	if err := postBody(ctx, s.client, s.webhookURL, "application/json", data, nil); err != nil {
		return fmt.Errorf("slack: %w", err)
	}
	return nil
}

func (s *SlackNotifier) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

type slackMessage struct {
	// Text is the fallback shown in push notifications.
	Text   string       `json:"text"`
	Blocks []slackBlock `json:"blocks"`
}

type slackBlock struct {
	Type     string      `json:"type"`
	Text     *slackText  `json:"text,omitempty"`
	Fields   []slackText `json:"fields,omitempty"`
	Elements []slackText `json:"elements,omitempty"`
}

type slackText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

func buildSlackPayload(req domain.NotificationRequest) slackMessage {
	fields := []slackText{
		{Type: "mrkdwn", Text: fmt.Sprintf("*Sonde:*\n<%s|%s>", req.TrackerURL, req.ObjectID)},
		{Type: "mrkdwn", Text: fmt.Sprintf("*Altitude:*\n%.0f ft", req.Event.AltitudeFt)},
	}
	if req.DistanceMiles != nil {
		fields = append(fields, slackText{Type: "mrkdwn", Text: fmt.Sprintf("*Distance:*\n%.1f mi", *req.DistanceMiles)})
	}
	if req.Event.ClimbRate != nil {
		fields = append(fields, slackText{Type: "mrkdwn", Text: fmt.Sprintf("*Vertical speed:*\n%.1f m/s", *req.Event.ClimbRate)})
	}

	return slackMessage{
		Text: req.Title,
		Blocks: []slackBlock{
			{
				Type: "header",
				Text: &slackText{Type: "plain_text", Text: ":balloon: " + req.Title, Emoji: true},
			},
			{Type: "section", Fields: fields},
			{
				Type: "section",
				Text: &slackText{Type: "mrkdwn", Text: "```" + req.Body + "```"},
			},
			{
				Type: "context",
				Elements: []slackText{
					{Type: "mrkdwn", Text: "Fired " + req.CreatedAt.UTC().Format("2006-01-02 15:04:05 MST")},
				},
			},
		},
	}
}

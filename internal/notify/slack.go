package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/slack-go/slack"

	"github.com/sells-group/comms-cli/internal/model"
)

type slackPoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackConfig configures the Slack sink.
type SlackConfig struct {
	Token   string
	Channel string
	// APIURL overrides the Slack API base, for tests and proxies.
	APIURL string
}

// SlackSink posts emergencies, routing decisions and escalations to a
// channel. Progress events are ignored.
type SlackSink struct {
	client  slackPoster
	channel string
}

// NewSlackSink creates a sink posting as the bot token's user.
func NewSlackSink(cfg SlackConfig) (*SlackSink, error) {
	if cfg.Token == "" {
		return nil, eris.New("notify: slack token is required")
	}
	if cfg.Channel == "" {
		return nil, eris.New("notify: slack channel is required")
	}
	var opts []slack.Option
	if cfg.APIURL != "" {
		opts = append(opts, slack.OptionAPIURL(cfg.APIURL))
	}
	return &SlackSink{client: slack.New(cfg.Token, opts...), channel: cfg.Channel}, nil
}

// Name implements Sink.
func (s *SlackSink) Name() string { return "slack" }

// Publish implements Sink.
func (s *SlackSink) Publish(ctx context.Context, ev Event) error {
	att, ok := slackAttachment(ev)
	if !ok {
		return nil
	}
	_, _, err := s.client.PostMessageContext(ctx, s.channel,
		slack.MsgOptionText(att.Fallback, false),
		slack.MsgOptionAttachments(att),
	)
	return eris.Wrap(err, "notify: slack post")
}

func slackAttachment(ev Event) (slack.Attachment, bool) {
	switch {
	case ev.Type == EventRoutingDecision && ev.Decision != nil:
		d := ev.Decision
		fields := []slack.AttachmentField{
			{Title: "Severity", Value: string(d.Severity), Short: true},
			{Title: "Primary", Value: d.Primary.Responder.Name, Short: true},
			{Title: "ETA", Value: d.EstimatedArrival.String(), Short: true},
			{Title: "Confidence", Value: fmt.Sprintf("%.2f", d.Confidence), Short: true},
		}
		if len(d.Backups) > 0 {
			names := make([]string, 0, len(d.Backups))
			for _, b := range d.Backups {
				names = append(names, b.Responder.Name)
			}
			fields = append(fields, slack.AttachmentField{Title: "Backups", Value: strings.Join(names, ", ")})
		}
		return slack.Attachment{
			Color:    severityColor(d.Severity),
			Title:    "Incident " + d.IncidentID + " routed",
			Fallback: fmt.Sprintf("Incident %s (%s) routed to %s", d.IncidentID, d.Severity, d.Primary.Responder.Name),
			Fields:   fields,
		}, true

	case ev.Type == EventEscalation && ev.Step != nil && ev.Decision != nil:
		text := fmt.Sprintf("Escalation for incident %s: %s", ev.Decision.IncidentID, ev.Step.Action)
		if ev.Step.Target != "" {
			text += " (" + ev.Step.Target + ")"
		}
		return slack.Attachment{
			Color:    severityColor(ev.Decision.Severity),
			Title:    "Escalation: " + ev.Step.Trigger,
			Text:     text,
			Fallback: text,
		}, true

	case ev.Type == string(model.UpdateEmergencyDetected) && ev.Update != nil:
		sev, _ := ev.Update.Payload["severity"].(string)
		text := fmt.Sprintf("Emergency detected on conversation %s", ev.Update.EntityID)
		if sev != "" {
			text += " (" + sev + ")"
		}
		return slack.Attachment{
			Color:    severityColor(model.Severity(sev)),
			Title:    "Emergency detected",
			Text:     text,
			Fallback: text,
		}, true
	}
	return slack.Attachment{}, false
}

func severityColor(s model.Severity) string {
	switch s {
	case model.SeverityCritical:
		return "danger"
	case model.SeverityHigh:
		return "warning"
	}
	return "good"
}

// Package source defines the message-source boundary consumed by the sync
// orchestrator and adapts the REST provider client to it.
package source

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/comms-cli/internal/model"
	"github.com/sells-group/comms-cli/pkg/msgsource"
)

// Query selects one page of messages from the source.
type Query struct {
	PageSize   int
	PageToken  string
	Range      model.DateRange
	Phone      string
	UnreadOnly bool
}

// Page is one page of external messages. An empty NextPageToken ends the
// listing.
type Page struct {
	Messages      []model.ExternalMessage
	NextPageToken string
}

// Source fetches pages of external messages for an account.
type Source interface {
	FetchMessages(ctx context.Context, accountToken string, q Query) (*Page, error)
}

// REST adapts a msgsource.Client to Source.
type REST struct {
	client msgsource.Client
}

// NewREST wraps client.
func NewREST(client msgsource.Client) *REST {
	return &REST{client: client}
}

// FetchMessages implements Source.
func (r *REST) FetchMessages(ctx context.Context, accountToken string, q Query) (*Page, error) {
	p, err := r.client.FetchMessages(ctx, accountToken, msgsource.FetchParams{
		PageSize:   q.PageSize,
		PageToken:  q.PageToken,
		Start:      q.Range.Start,
		End:        q.Range.End,
		Phone:      q.Phone,
		UnreadOnly: q.UnreadOnly,
	})
	if err != nil {
		return nil, eris.Wrap(err, "source: fetch messages")
	}

	out := &Page{
		Messages:      make([]model.ExternalMessage, 0, len(p.Messages)),
		NextPageToken: p.NextPageToken,
	}
	for _, m := range p.Messages {
		out.Messages = append(out.Messages, fromWire(m))
	}
	return out, nil
}

func fromWire(m msgsource.Message) model.ExternalMessage {
	em := model.ExternalMessage{
		ID:        m.ID,
		ThreadID:  m.ThreadID,
		Phone:     m.Phone,
		Direction: model.Direction(m.Direction),
		Text:      m.Text,
		Timestamp: m.Timestamp,
		Type:      model.MessageType(m.Type),
		Platform:  model.Platform(m.Platform),
	}
	if em.Direction != model.DirectionOutbound {
		em.Direction = model.DirectionInbound
	}
	if em.Type == "" {
		em.Type = model.MessageTypeText
		if len(m.Attachments) > 0 {
			em.Type = model.MessageTypeMedia
		}
	}
	for _, a := range m.Attachments {
		em.Attachments = append(em.Attachments, model.Attachment{
			URL:         a.URL,
			ContentType: a.ContentType,
			Name:        a.Name,
			Size:        a.Size,
		})
	}
	return em
}

// Package msgsource provides a client for the paginated messaging provider API.
package msgsource

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rotisserie/eris"

	"github.com/sells-group/comms-cli/internal/resilience"
)

// Client fetches message pages for one account.
type Client interface {
	FetchMessages(ctx context.Context, accountToken string, p FetchParams) (*Page, error)
}

// FetchParams selects one page of messages. Zero values are omitted.
type FetchParams struct {
	PageSize   int
	PageToken  string
	Start      time.Time
	End        time.Time
	Phone      string
	UnreadOnly bool
}

// Page is one page of the provider's message listing.
type Page struct {
	Messages      []Message `json:"messages"`
	NextPageToken string    `json:"next_page_token,omitempty"`
}

// Message is the provider's wire representation of a message.
type Message struct {
	ID          string       `json:"id"`
	ThreadID    string       `json:"thread_id"`
	Phone       string       `json:"phone_number"`
	Direction   string       `json:"direction"`
	Text        string       `json:"text"`
	Timestamp   time.Time    `json:"timestamp"`
	Type        string       `json:"type"`
	Platform    string       `json:"platform"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment is a media item on a provider message.
type Attachment struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	Name        string `json:"filename"`
	Size        int64  `json:"size"`
}

// Option configures the client.
type Option func(*httpClient)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		c.rc.SetTimeout(d)
	}
}

// WithRetry overrides the retry policy for transient failures.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

type httpClient struct {
	rc    *resty.Client
	retry resilience.RetryConfig
	now   func() time.Time
}

// NewClient creates a provider client rooted at baseURL.
func NewClient(baseURL, apiKey string, opts ...Option) Client {
	c := &httpClient{
		rc: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(30*time.Second).
			SetAuthToken(apiKey).
			SetHeader("Accept", "application/json"),
		retry: resilience.DefaultRetryConfig(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retry.OnRetry == nil {
		c.retry.OnRetry = resilience.RetryLogger("msgsource", "fetch_messages")
	}
	return c
}

// FetchMessages returns one page. 429 and 5xx responses and network errors
// are retried; the final error of a retryable failure is a
// resilience.TransientError carrying any Retry-After hint.
func (c *httpClient) FetchMessages(ctx context.Context, accountToken string, p FetchParams) (*Page, error) {
	if accountToken == "" {
		return nil, eris.New("msgsource: account token is required")
	}
	return resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*Page, error) {
		return c.fetch(ctx, accountToken, p)
	})
}

func (c *httpClient) fetch(ctx context.Context, accountToken string, p FetchParams) (*Page, error) {
	resp, err := c.rc.R().
		SetContext(ctx).
		SetPathParam("account", accountToken).
		SetQueryParamsFromValues(query(p)).
		Get("/v1/accounts/{account}/messages")
	if err != nil {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "msgsource: fetch messages")
		}
		return nil, resilience.NewTransientError(eris.Wrap(err, "msgsource: fetch messages"), 0)
	}

	if resp.IsError() {
		err := eris.Errorf("msgsource: fetch messages: status %d: %s", resp.StatusCode(), truncate(resp.String(), 200))
		if resilience.IsTransientHTTPStatus(resp.StatusCode()) {
			te := resilience.NewTransientError(err, resp.StatusCode())
			te.RetryAfter = resilience.ParseRetryAfter(resp.Header().Get("Retry-After"), c.now())
			return nil, te
		}
		return nil, err
	}

	var page Page
	if err := json.Unmarshal(resp.Body(), &page); err != nil {
		return nil, eris.Wrap(err, "msgsource: decode page")
	}
	return &page, nil
}

func query(p FetchParams) url.Values {
	v := url.Values{}
	if p.PageSize > 0 {
		v.Set("page_size", strconv.Itoa(p.PageSize))
	}
	if p.PageToken != "" {
		v.Set("page_token", p.PageToken)
	}
	if !p.Start.IsZero() {
		v.Set("start", p.Start.UTC().Format(time.RFC3339))
	}
	if !p.End.IsZero() {
		v.Set("end", p.End.UTC().Format(time.RFC3339))
	}
	if p.Phone != "" {
		v.Set("phone_number", p.Phone)
	}
	if p.UnreadOnly {
		v.Set("unread_only", "true")
	}
	return v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Package slack tells the GLI coordinator about completed triage sessions via
// a Slack-compatible incoming webhook.
package slack

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fpz2018/gli/internal/triage"
)

const (
	httpTimeout = 10 * time.Second
	maxAttempts = 3
	retryDelay  = 500 * time.Millisecond
)

// Notifier posts a Block Kit summary of each completed session.
type Notifier struct {
	webhookURL string
	catalog    *triage.Catalog
	client     *http.Client
	retryDelay time.Duration
}

// New creates a notifier. catalog supplies program titles and may be nil.
// With an empty webhookURL Notify is a no-op.
func New(webhookURL string, catalog *triage.Catalog) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		catalog:    catalog,
		client: &http.Client{
			Timeout:   httpTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		retryDelay: retryDelay,
	}
}

// Enabled reports whether a webhook is configured.
func (n *Notifier) Enabled() bool {
	return n.webhookURL != ""
}

// Notify implements triage.Notifier. Server errors and 429s are retried with
// a linear backoff; other failures are returned at once.
func (n *Notifier) Notify(ctx context.Context, s *triage.Session) error {
	if n.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(n.buildMessage(s))
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		retry, err := n.post(ctx, body)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry || attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return errors.Join(lastErr, ctx.Err())
		case <-time.After(time.Duration(attempt) * n.retryDelay):
		}
	}
	return lastErr
}

// post sends one webhook request and reports whether a failure is worth
// retrying.
func (n *Notifier) post(ctx context.Context, body []byte) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // webhookURL comes from operator config
	if err != nil {
		return ctx.Err() == nil, fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return false, nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	retry := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
	return retry, fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
}

type message struct {
	Text   string  `json:"text"`
	Blocks []block `json:"blocks"`
}

type block struct {
	Type     string `json:"type"`
	Text     *text  `json:"text,omitempty"`
	Fields   []text `json:"fields,omitempty"`
	Elements []text `json:"elements,omitempty"`
}

type text struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func mrkdwn(format string, args ...any) text {
	return text{Type: "mrkdwn", Text: fmt.Sprintf(format, args...)}
}

func (n *Notifier) buildMessage(s *triage.Session) message {
	rec := s.Recommendation
	title := fmt.Sprintf("%s GLI-advies: %s", programEmoji(rec.Primary.Program), n.title(rec.Primary.Program))

	fields := []text{
		mrkdwn("*Primair:* %s (%d)", n.title(rec.Primary.Program), rec.Primary.Score),
		mrkdwn("*Secundair:* %s (%d)", n.title(rec.Secondary.Program), rec.Secondary.Score),
		mrkdwn("*Beantwoord:* %d van %d", rec.Answered, rec.Total),
	}

	var scores strings.Builder
	for i, ps := range rec.Ranking {
		fmt.Fprintf(&scores, "%d. %s: %d\n", i+1, n.title(ps.Program), ps.Score)
	}

	return message{
		Text: title,
		Blocks: []block{
			{Type: "header", Text: &text{Type: "plain_text", Text: title}},
			{Type: "section", Fields: fields},
			{Type: "section", Text: &text{Type: "mrkdwn", Text: "*Scores*\n" + scores.String()}},
			{Type: "divider"},
			{Type: "context", Elements: []text{
				mrkdwn("gli • sessie %s • %s", s.ID, s.UpdatedAt.UTC().Format("2006-01-02 15:04 UTC")),
			}},
		},
	}
}

func (n *Notifier) title(c triage.Category) string {
	if n.catalog == nil {
		return string(c)
	}
	return n.catalog.Title(c)
}

func programEmoji(c triage.Category) string {
	switch c {
	case triage.CategoryBeweegKuur:
		return "\U0001f7e2" // green circle
	case triage.CategoryCOOL:
		return "\U0001f535" // blue circle
	case triage.CategorySLIMMER:
		return "\U0001f7e3" // purple circle
	default:
		return "\u26aa" // white circle
	}
}

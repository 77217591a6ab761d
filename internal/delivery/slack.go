package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/slack-go/slack"

	"github.com/roach88/coachflow/internal/domain"
)

// Directory resolves a platform user ID (client or mentor) to a Slack
// conversation ID. Lookups that miss cause the recipient to be skipped,
// not a delivery failure.
type Directory interface {
	ConversationFor(userID string) (string, bool)
}

// StaticDirectory is a fixed user-to-conversation mapping, loaded from
// configuration.
type StaticDirectory map[string]string

func (d StaticDirectory) ConversationFor(userID string) (string, bool) {
	ch, ok := d[userID]
	return ch, ok
}

// SlackChannel posts directive payloads as Slack messages.
type SlackChannel struct {
	api *slack.Client
	dir Directory
}

// NewSlackChannel creates a channel using the given bot token.
func NewSlackChannel(token string, dir Directory) *SlackChannel {
	return &SlackChannel{api: slack.New(token), dir: dir}
}

// Deliver posts the formatted payload to each resolvable recipient.
// The returned MessageID is the timestamp of the first successful post.
// Delivery fails only if no recipient could be reached.
func (s *SlackChannel) Deliver(ctx context.Context, p domain.Payload, r domain.Recipients) (domain.DeliveryResult, error) {
	text := FormatText(p)

	var targets []string
	if r.ToClient {
		targets = s.appendConversation(targets, p.ClientID)
	}
	if r.ToMentor {
		targets = s.appendConversation(targets, p.MentorID)
	}
	if len(targets) == 0 {
		return domain.DeliveryResult{}, fmt.Errorf("slack: no resolvable recipients for directive %s", p.DirectiveID)
	}

	var result domain.DeliveryResult
	var lastErr error
	posted := 0

	for _, conv := range targets {
		_, ts, err := s.api.PostMessageContext(ctx, conv, slack.MsgOptionText(text, false))
		if err != nil {
			lastErr = err
			slog.Warn("slack post failed", "conversation", conv, "directive_id", p.DirectiveID, "error", err)
			continue
		}
		posted++
		if result.MessageID == "" {
			result.MessageID = ts
			result.DeliveredAt = p.GeneratedAt
		}
	}

	if posted == 0 {
		return domain.DeliveryResult{}, fmt.Errorf("slack: all posts failed: %w", lastErr)
	}
	return result, nil
}

func (s *SlackChannel) appendConversation(targets []string, userID string) []string {
	conv, ok := s.dir.ConversationFor(userID)
	if !ok {
		slog.Warn("no slack conversation mapped for recipient", "user_id", userID)
		return targets
	}
	return append(targets, conv)
}

// CaptureChannel is an in-memory channel for tests. It records every
// delivery and can be primed to fail a number of attempts first.
type CaptureChannel struct {
	mu        sync.Mutex
	delivered []CapturedDelivery
	failures  int
	nextID    int
}

// CapturedDelivery is one recorded hand-off.
type CapturedDelivery struct {
	Payload    domain.Payload
	Recipients domain.Recipients
	Text       string
}

// NewCaptureChannel creates an empty capture channel.
func NewCaptureChannel() *CaptureChannel {
	return &CaptureChannel{}
}

// FailNext makes the next n Deliver calls return an error.
func (c *CaptureChannel) FailNext(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = n
}

func (c *CaptureChannel) Deliver(ctx context.Context, p domain.Payload, r domain.Recipients) (domain.DeliveryResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.failures > 0 {
		c.failures--
		return domain.DeliveryResult{}, fmt.Errorf("capture: injected failure")
	}

	c.nextID++
	c.delivered = append(c.delivered, CapturedDelivery{
		Payload:    p,
		Recipients: r,
		Text:       FormatText(p),
	})
	return domain.DeliveryResult{
		MessageID:   fmt.Sprintf("msg-%d", c.nextID),
		DeliveredAt: p.GeneratedAt,
	}, nil
}

// Deliveries returns a copy of everything delivered so far.
func (c *CaptureChannel) Deliveries() []CapturedDelivery {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]CapturedDelivery, len(c.delivered))
	copy(out, c.delivered)
	return out
}

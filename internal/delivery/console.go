package delivery

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/roach88/coachflow/internal/domain"
)

// ConsoleChannel writes formatted payloads to a writer. Used by local
// runs and the scenario harness when no Slack token is configured.
type ConsoleChannel struct {
	mu     sync.Mutex
	w      io.Writer
	nextID int
}

// NewConsoleChannel creates a channel writing to w.
func NewConsoleChannel(w io.Writer) *ConsoleChannel {
	return &ConsoleChannel{w: w}
}

func (c *ConsoleChannel) Deliver(ctx context.Context, p domain.Payload, r domain.Recipients) (domain.DeliveryResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var to []string
	if r.ToClient {
		to = append(to, "client:"+p.ClientID)
	}
	if r.ToMentor {
		to = append(to, "mentor:"+p.MentorID)
	}

	_, err := fmt.Fprintf(c.w, "--- directive %s -> %v ---\n%s\n", p.DirectiveID, to, FormatText(p))
	if err != nil {
		return domain.DeliveryResult{}, fmt.Errorf("console: %w", err)
	}

	c.nextID++
	return domain.DeliveryResult{
		MessageID:   fmt.Sprintf("console-%d", c.nextID),
		DeliveredAt: p.GeneratedAt,
	}, nil
}

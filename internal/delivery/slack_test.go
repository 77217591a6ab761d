package delivery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/coachflow/internal/domain"
)

func TestStaticDirectory(t *testing.T) {
	dir := StaticDirectory{"c1": "D012ABC", "m1": "D012DEF"}

	conv, ok := dir.ConversationFor("c1")
	assert.True(t, ok)
	assert.Equal(t, "D012ABC", conv)

	_, ok = dir.ConversationFor("ghost")
	assert.False(t, ok)
}

func TestCaptureChannel(t *testing.T) {
	c := NewCaptureChannel()
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	p := domain.Payload{
		DirectiveID: "d1", ClientID: "c1", MentorID: "m1",
		Action:      domain.ActionEncourage,
		Params:      map[string]string{"message": "Well done."},
		GeneratedAt: now,
	}

	res, err := c.Deliver(context.Background(), p, domain.Recipients{ToClient: true})
	require.NoError(t, err)
	assert.Equal(t, "msg-1", res.MessageID)
	assert.True(t, res.DeliveredAt.Equal(now))

	got := c.Deliveries()
	require.Len(t, got, 1)
	assert.Equal(t, "d1", got[0].Payload.DirectiveID)
	assert.True(t, got[0].Recipients.ToClient)
	assert.Equal(t, "Keep it up\nWell done.", got[0].Text)

	// Deliveries returns a copy; mutating it does not touch the channel.
	got[0].Payload.DirectiveID = "mutated"
	assert.Equal(t, "d1", c.Deliveries()[0].Payload.DirectiveID)
}

func TestCaptureChannelFailNext(t *testing.T) {
	c := NewCaptureChannel()
	p := domain.Payload{DirectiveID: "d1", Action: domain.ActionAlert}

	c.FailNext(2)
	_, err := c.Deliver(context.Background(), p, domain.Recipients{ToClient: true})
	require.Error(t, err)
	_, err = c.Deliver(context.Background(), p, domain.Recipients{ToClient: true})
	require.Error(t, err)

	// Third attempt succeeds and failed attempts record nothing.
	_, err = c.Deliver(context.Background(), p, domain.Recipients{ToClient: true})
	require.NoError(t, err)
	assert.Len(t, c.Deliveries(), 1)
}

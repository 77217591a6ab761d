package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/coachflow/internal/domain"
)

func eventTask(clientID, eventID string) Task {
	return Task{Kind: TaskEvent, Event: &domain.Event{ID: eventID, ClientID: clientID}}
}

func TestTaskQueueFIFO(t *testing.T) {
	q := newTaskQueue()

	for _, id := range []string{"e1", "e2", "e3"} {
		assert.True(t, q.Enqueue(eventTask("c1", id)))
	}
	assert.Equal(t, 3, q.Len())

	for _, want := range []string{"e1", "e2", "e3"} {
		task, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, task.Event.ID)
	}

	_, ok := q.TryDequeue()
	assert.False(t, ok)
}

func TestTaskQueueClose(t *testing.T) {
	q := newTaskQueue()
	require.True(t, q.Enqueue(eventTask("c1", "e1")))

	q.Close()
	assert.False(t, q.Enqueue(eventTask("c1", "e2")), "enqueue after close is rejected")

	// Close is idempotent.
	q.Close()

	// Already-queued work is still drainable.
	task, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "e1", task.Event.ID)
}

func TestWorkQueuePartitioning(t *testing.T) {
	w := newWorkQueue(4)

	// All tasks for one client land in the same partition.
	for i := 0; i < 10; i++ {
		require.True(t, w.Enqueue(eventTask("c1", "e")))
	}
	p := w.partitionFor("c1")
	assert.Equal(t, 10, w.Partition(p).Len())
	assert.Equal(t, 10, w.Len())

	// Partition choice is stable.
	assert.Equal(t, p, w.partitionFor("c1"))
}

func TestWorkQueuePerClientOrder(t *testing.T) {
	w := newWorkQueue(4)

	w.Enqueue(eventTask("c1", "e1"))
	w.Enqueue(eventTask("c2", "x1"))
	w.Enqueue(eventTask("c1", "e2"))

	p := w.Partition(w.partitionFor("c1"))
	var got []string
	for {
		task, ok := p.TryDequeue()
		if !ok {
			break
		}
		if task.Event.ClientID == "c1" {
			got = append(got, task.Event.ID)
		}
	}
	assert.Equal(t, []string{"e1", "e2"}, got)
}

func TestTaskClientID(t *testing.T) {
	assert.Equal(t, "c1", eventTask("c1", "e1").ClientID())
	assert.Equal(t, "c2", Task{Kind: TaskSnapshot, Snapshot: &domain.MetricSnapshot{ClientID: "c2"}}.ClientID())
	assert.Equal(t, "c3", Task{Kind: TaskTick, Tick: &Tick{ClientID: "c3"}}.ClientID())
	assert.Empty(t, Task{Kind: TaskEvent}.ClientID())
}

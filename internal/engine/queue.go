package engine

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/roach88/coachflow/internal/domain"
)

// TaskKind distinguishes the work item kinds.
type TaskKind int

const (
	// TaskEvent carries a normalized client activity event.
	TaskEvent TaskKind = iota + 1
	// TaskSnapshot carries a new metric snapshot.
	TaskSnapshot
	// TaskTick carries a scheduler-generated tick.
	TaskTick
)

// Tick is a scheduler-generated time record for one client, carrying the
// local-time fields schedule matching needs. LocalHour/LocalMinute and
// Weekday are computed in the client's own timezone.
type Tick struct {
	ClientID    string
	At          time.Time
	LocalHour   int
	LocalMinute int
	Weekday     time.Weekday

	// ProgramDay is the client's zero-based elapsed program day at tick
	// time, valid only when HasProgram is true.
	ProgramDay int
	HasProgram bool

	// DailyCheck marks the once-a-day tick on which missing_for condition
	// triggers are evaluated.
	DailyCheck bool
}

// Task is one unit of work for a client worker.
type Task struct {
	Kind     TaskKind
	Event    *domain.Event
	Snapshot *domain.MetricSnapshot
	Tick     *Tick

	// Retries counts requeues after storage failures.
	Retries int
}

// ClientID returns the partitioning key for the task.
func (t Task) ClientID() string {
	switch t.Kind {
	case TaskEvent:
		if t.Event != nil {
			return t.Event.ClientID
		}
	case TaskSnapshot:
		if t.Snapshot != nil {
			return t.Snapshot.ClientID
		}
	case TaskTick:
		if t.Tick != nil {
			return t.Tick.ClientID
		}
	}
	return ""
}

// taskQueue is a thread-safe FIFO queue for one partition.
//
// Unbounded so the scheduler never blocks on dispatch: ticks are queued,
// not executed inline. A buffered signal channel (size 1) coalesces
// wakeups for context-aware waiting in the worker loop.
type taskQueue struct {
	mu     sync.Mutex
	tasks  []Task
	closed bool
	signal chan struct{}
}

func newTaskQueue() *taskQueue {
	return &taskQueue{
		tasks:  make([]Task, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds a task to the back of the queue.
// Thread-safe; returns false if the queue is closed.
func (q *taskQueue) Enqueue(t Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.tasks = append(q.tasks, t)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue attempts to dequeue without blocking.
func (q *taskQueue) TryDequeue() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tasks) == 0 {
		return Task{}, false
	}

	t := q.tasks[0]
	// Nil out the slot so the Task's pointers can be collected while the
	// underlying array is still referenced.
	q.tasks[0] = Task{}
	if len(q.tasks) == 1 {
		q.tasks = q.tasks[:0]
	} else {
		q.tasks = q.tasks[1:]
	}
	return t, true
}

// Wait returns a channel that signals when tasks may be available.
func (q *taskQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *taskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Close signals that no more tasks will be enqueued.
func (q *taskQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

// workQueue routes tasks to per-client partitions. All tasks for a given
// client hash to the same partition, so a single worker drains them in
// arrival order and ordering guarantees stay per-client.
type workQueue struct {
	partitions []*taskQueue
}

func newWorkQueue(partitions int) *workQueue {
	if partitions < 1 {
		partitions = 1
	}
	qs := make([]*taskQueue, partitions)
	for i := range qs {
		qs[i] = newTaskQueue()
	}
	return &workQueue{partitions: qs}
}

// Enqueue routes a task to its client's partition.
func (w *workQueue) Enqueue(t Task) bool {
	return w.partitions[w.partitionFor(t.ClientID())].Enqueue(t)
}

func (w *workQueue) partitionFor(clientID string) int {
	h := fnv.New32a()
	h.Write([]byte(clientID))
	return int(h.Sum32() % uint32(len(w.partitions)))
}

// Partition returns the queue for one worker.
func (w *workQueue) Partition(i int) *taskQueue {
	return w.partitions[i]
}

// Len returns the total number of pending tasks across partitions.
func (w *workQueue) Len() int {
	n := 0
	for _, q := range w.partitions {
		n += q.Len()
	}
	return n
}

// Close closes every partition.
func (w *workQueue) Close() {
	for _, q := range w.partitions {
		q.Close()
	}
}

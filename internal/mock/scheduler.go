package mock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hibiken/asynq"
)

// TaskTypeComplete is the asynq task type for a delayed mock completion.
const TaskTypeComplete = "negotiation:mock_complete"

// DefaultQueue is the asynq queue mock completions are enqueued on.
const DefaultQueue = "mock"

// Scheduler runs fire(negotiationID) once after delay.
type Scheduler interface {
	Schedule(ctx context.Context, negotiationID string, delay time.Duration) error
	Stop()
}

// TimerScheduler keeps pending completions in process. They are lost on
// restart.
type TimerScheduler struct {
	fire func(ctx context.Context, negotiationID string)

	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
}

func NewTimerScheduler(fire func(ctx context.Context, negotiationID string)) *TimerScheduler {
	return &TimerScheduler{fire: fire, timers: make(map[string]*time.Timer)}
}

func (s *TimerScheduler) Schedule(ctx context.Context, negotiationID string, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return errors.New("mock: scheduler stopped")
	}
	if _, ok := s.timers[negotiationID]; ok {
		return nil
	}
	fireCtx := context.WithoutCancel(ctx)
	s.timers[negotiationID] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, negotiationID)
		s.mu.Unlock()
		s.fire(fireCtx, negotiationID)
	})
	return nil
}

// Pending reports how many completions have not fired yet.
func (s *TimerScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop cancels every pending completion.
func (s *TimerScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

type completeTaskPayload struct {
	NegotiationID string `json:"negotiationId"`
}

// QueueScheduler enqueues completions on asynq so they survive a restart and
// can be processed by any worker. The task id is derived from the
// negotiation id, so scheduling twice is a no-op.
type QueueScheduler struct {
	client *asynq.Client
	queue  string
}

func NewQueueScheduler(client *asynq.Client, queue string) *QueueScheduler {
	if queue == "" {
		queue = DefaultQueue
	}
	return &QueueScheduler{client: client, queue: queue}
}

func (s *QueueScheduler) Schedule(ctx context.Context, negotiationID string, delay time.Duration) error {
	payload, err := json.Marshal(completeTaskPayload{NegotiationID: negotiationID})
	if err != nil {
		return err
	}
	task := asynq.NewTask(TaskTypeComplete, payload,
		asynq.TaskID(taskID(negotiationID)),
		asynq.Queue(s.queue),
		asynq.ProcessIn(delay),
		asynq.MaxRetry(3),
	)
	if _, err := s.client.EnqueueContext(ctx, task); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil
		}
		return fmt.Errorf("mock: enqueue completion: %w", err)
	}
	return nil
}

// Stop is a no-op; enqueued tasks belong to the queue.
func (s *QueueScheduler) Stop() {}

func taskID(negotiationID string) string { return "mock:" + negotiationID }

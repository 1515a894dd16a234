package mock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"negotiator/internal/negotiation"
	"negotiator/pkg/logger"

	"github.com/hibiken/asynq"
)

// Sink ingests a result payload. It is the same entry point real webhook
// deliveries use, normally negotiation.Registry.IngestWebhook.
type Sink func(ctx context.Context, p negotiation.WebhookPayload) (negotiation.Ack, error)

// Responder stands in for the voice provider when none is configured: after
// a random delay it delivers a synthetic result through the webhook path.
type Responder struct {
	sink  Sink
	gen   *Generator
	sched Scheduler
}

type Option func(*Responder)

// WithScheduler replaces the in-process timer scheduler.
func WithScheduler(s Scheduler) Option {
	return func(r *Responder) { r.sched = s }
}

func NewResponder(sink Sink, gen *Generator, opts ...Option) *Responder {
	r := &Responder{sink: sink, gen: gen}
	for _, opt := range opts {
		opt(r)
	}
	if r.sched == nil {
		r.sched = NewTimerScheduler(func(ctx context.Context, id string) {
			_ = r.Complete(ctx, id)
		})
	}
	return r
}

// Schedule arranges a completion for negotiationID.
func (r *Responder) Schedule(ctx context.Context, negotiationID string) error {
	delay := r.gen.Delay()
	if err := r.sched.Schedule(ctx, negotiationID, delay); err != nil {
		return err
	}
	logger.From(ctx).Info("mock completion scheduled", "negotiation_id", negotiationID, "delay", delay.String())
	return nil
}

// Complete synthesizes an outcome and delivers it now.
func (r *Responder) Complete(ctx context.Context, negotiationID string) error {
	log := logger.From(ctx).With("negotiation_id", negotiationID)
	refund, code := r.gen.Outcome()
	ack, err := r.sink(ctx, negotiation.NewWebhookPayload(negotiationID, refund, code))
	if err != nil {
		log.Warn("mock completion rejected", "err", err)
		return err
	}
	log.Info("mock completion delivered", "refund", refund.StringFixed(2), "code", code, "ack", ack.Message)
	return nil
}

// HandleTask is the asynq handler for TaskTypeComplete. Unknown negotiations
// are not retried.
func (r *Responder) HandleTask(ctx context.Context, t *asynq.Task) error {
	var p completeTaskPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("mock: decode task: %v: %w", err, asynq.SkipRetry)
	}
	if p.NegotiationID == "" {
		return fmt.Errorf("mock: task without negotiation id: %w", asynq.SkipRetry)
	}
	err := r.Complete(ctx, p.NegotiationID)
	if errors.Is(err, negotiation.ErrNotFound) {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return err
}

// Stop cancels in-process pending completions.
func (r *Responder) Stop() { r.sched.Stop() }

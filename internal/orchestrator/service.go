package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"negotiator/internal/mock"
	"negotiator/internal/negotiation"
	"negotiator/internal/voice"
	"negotiator/pkg/logger"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	ModeMock     = "mock"
	ModeDisabled = "disabled"

	defaultDispatchTimeout = 30 * time.Second
	shutdownReason         = "service shutting down"
)

var ErrDraining = errors.New("orchestrator: draining")

type Config struct {
	// DispatchTimeout bounds agent configuration plus call placement.
	DispatchTimeout time.Duration
	AgentName       string
}

// Service is the negotiation front door. Creation returns as soon as the
// record exists; the outbound call is placed in the background.
type Service struct {
	registry *negotiation.Registry
	gateway  voice.Gateway
	mock     *mock.Responder
	cfg      Config
	tracer   trace.Tracer

	newMockCallID func() string

	mu       sync.Mutex
	draining bool
	inflight sync.WaitGroup
}

// New wires the service. gateway nil means no provider is configured; then
// responder, when non-nil, completes negotiations with synthetic results.
func New(registry *negotiation.Registry, gateway voice.Gateway, responder *mock.Responder, cfg Config) *Service {
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = defaultDispatchTimeout
	}
	return &Service{
		registry:      registry,
		gateway:       gateway,
		mock:          responder,
		cfg:           cfg,
		tracer:        otel.Tracer("negotiator/orchestrator"),
		newMockCallID: func() string { return "mock_" + uuid.NewString() },
	}
}

// Mode names the provider negotiations are dispatched to.
func (s *Service) Mode() string {
	switch {
	case s.gateway != nil:
		return s.gateway.Name()
	case s.mock != nil:
		return ModeMock
	default:
		return ModeDisabled
	}
}

// CreateNegotiation validates and records the request, then starts call
// placement without waiting for it.
func (s *Service) CreateNegotiation(ctx context.Context, req negotiation.Request) (negotiation.Negotiation, error) {
	ctx, span := s.tracer.Start(ctx, "negotiation.create")
	defer span.End()

	n, err := s.registry.Create(ctx, req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return negotiation.Negotiation{}, err
	}
	span.SetAttributes(attribute.String("negotiation.id", n.ID), attribute.String("negotiation.category", string(n.Category)))

	script := negotiation.BuildScript(n.Category, n.Request, n.ReferenceNumber)
	bg := logger.Detach(ctx, "negotiation_id", n.ID)

	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		s.fail(bg, n.ID, shutdownReason)
		return n, nil
	}
	s.inflight.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.inflight.Done()
		s.dispatch(bg, n, script)
	}()
	return n, nil
}

func (s *Service) GetNegotiation(ctx context.Context, id string) (negotiation.View, error) {
	n, err := s.registry.Get(ctx, id)
	if err != nil {
		return negotiation.View{}, err
	}
	return n.View(), nil
}

func (s *Service) IngestWebhook(ctx context.Context, p negotiation.WebhookPayload) (negotiation.Ack, error) {
	ctx, span := s.tracer.Start(ctx, "negotiation.webhook")
	defer span.End()

	ack, err := s.registry.IngestWebhook(ctx, p)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return negotiation.Ack{}, err
	}
	span.SetAttributes(attribute.String("negotiation.id", ack.NegotiationID))
	return ack, nil
}

func (s *Service) ListNegotiations(ctx context.Context, ownerID string, limit int) ([]negotiation.View, error) {
	list, err := s.registry.ListByOwner(ctx, ownerID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]negotiation.View, 0, len(list))
	for _, n := range list {
		out = append(out, n.View())
	}
	return out, nil
}

// Drain stops accepting dispatches and waits for in-flight ones. Negotiations
// created afterwards are failed immediately.
func (s *Service) Drain(ctx context.Context) error {
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrDraining, ctx.Err())
	}
}

func (s *Service) dispatch(ctx context.Context, n negotiation.Negotiation, script negotiation.Script) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.DispatchTimeout)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, "negotiation.dispatch", trace.WithAttributes(
		attribute.String("negotiation.id", n.ID),
		attribute.String("voice.mode", s.Mode()),
	))
	defer span.End()

	log := logger.From(ctx)
	switch {
	case s.gateway != nil:
		callID, err := s.placeCall(ctx, n, script)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "call placement failed")
			log.Warn("call placement failed", "err", err)
			s.fail(ctx, n.ID, err.Error())
			return
		}
		span.SetAttributes(attribute.String("voice.call_id", callID))
		s.placed(ctx, n.ID, callID)

	case s.mock != nil:
		s.placed(ctx, n.ID, s.newMockCallID())
		if err := s.mock.Schedule(ctx, n.ID); err != nil {
			span.RecordError(err)
			log.Error("mock completion could not be scheduled", "err", err)
			s.fail(ctx, n.ID, "mock completion could not be scheduled")
		}

	default:
		s.fail(ctx, n.ID, voice.ErrNotConfigured.Error())
	}
}

func (s *Service) placeCall(ctx context.Context, n negotiation.Negotiation, script negotiation.Script) (string, error) {
	prompt := script.SystemPrompt()
	agent, err := s.gateway.ConfigureAgent(ctx, voice.AgentConfig{
		Name:         s.cfg.AgentName,
		SystemPrompt: prompt,
		FirstMessage: script.OpeningLine,
	})
	if err != nil {
		return "", err
	}

	meta := map[string]string{
		"negotiationId": n.ID,
		"category":      string(n.Category),
	}
	if n.ReferenceNumber != "" {
		meta["orderNumber"] = n.ReferenceNumber
	}
	res, err := s.gateway.PlaceCall(ctx, voice.PlaceCallRequest{
		PhoneNumber:  n.PhoneNumber,
		AgentID:      agent.ID,
		FirstMessage: script.OpeningLine,
		SystemPrompt: prompt,
		Metadata:     meta,
	})
	if err != nil {
		return "", err
	}
	return res.CallID, nil
}

func (s *Service) placed(ctx context.Context, id, callID string) {
	if err := s.registry.RecordCallPlaced(ctx, id, callID); err != nil {
		logger.From(ctx).Error("record call placed failed", "err", err, "provider_call_id", callID)
	}
}

func (s *Service) fail(ctx context.Context, id, reason string) {
	if err := s.registry.RecordCallFailed(ctx, id, reason); err != nil {
		logger.From(ctx).Error("record call failure failed", "err", err)
	}
}

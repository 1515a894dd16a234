package negotiation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"negotiator/internal/audit"
	"negotiator/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const defaultFailureReason = "call could not be placed"

// Registry owns the negotiation state machine:
//
//	initiated -> in_progress -> completed | error
//	initiated -> error
//
// Terminal states are sticky. Every transition is a check-and-set through
// Store.Update, so the call-placement path and the webhook path can race on
// the same id without clobbering each other.
type Registry struct {
	store Store
	audit *audit.Service
	clock func() time.Time
	newID func() string
}

func NewRegistry(store Store, auditSvc *audit.Service) *Registry {
	return &Registry{
		store: store,
		audit: auditSvc,
		clock: time.Now,
		newID: func() string { return "neg_" + uuid.NewString() },
	}
}

// Create validates req and stores a new negotiation in the initiated state.
// A rejected request never produces a record.
func (r *Registry) Create(ctx context.Context, req Request) (Negotiation, error) {
	req = req.Normalize()
	if err := req.Validate(); err != nil {
		return Negotiation{}, err
	}

	now := r.clock().UTC()
	n := Negotiation{
		ID:              r.newID(),
		OwnerID:         req.OwnerID,
		PhoneNumber:     req.PhoneNumber,
		Category:        Classify(req.Prompt),
		Request:         req.Prompt,
		ReferenceNumber: req.ReferenceNumber,
		EvidenceRef:     req.EvidenceRef,
		Status:          StatusInitiated,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := r.store.Insert(ctx, n); err != nil {
		return Negotiation{}, fmt.Errorf("negotiation: insert: %w", err)
	}

	logger.From(ctx).Info("negotiation created", "negotiation_id", n.ID, "category", string(n.Category))
	r.record(ctx, func(a *audit.Service) error {
		return a.LogTransition(ctx, audit.EventTypeCreated, n.ID, n.OwnerID, "", string(n.Status), "", "category "+string(n.Category))
	})
	return n, nil
}

func (r *Registry) Get(ctx context.Context, id string) (Negotiation, error) {
	return r.store.Get(ctx, id)
}

func (r *Registry) ListByOwner(ctx context.Context, ownerID string, limit int) ([]Negotiation, error) {
	return r.store.ListByOwner(ctx, ownerID, limit)
}

// RecordCallPlaced moves an initiated negotiation to in_progress. Unknown or
// terminal ids are logged as anomalies and left untouched. A completed record
// with no call id yet gets the id backfilled; its status does not change.
func (r *Registry) RecordCallPlaced(ctx context.Context, id, providerCallID string) error {
	var from Status
	n, err := r.store.Update(ctx, id, func(n *Negotiation) error {
		from = n.Status
		switch n.Status {
		case StatusInitiated:
			n.Status = StatusInProgress
			n.ProviderCallID = providerCallID
			n.UpdatedAt = r.clock().UTC()
			return nil
		case StatusCompleted:
			if n.ProviderCallID == "" && providerCallID != "" {
				n.ProviderCallID = providerCallID
				n.UpdatedAt = r.clock().UTC()
				return nil
			}
			return errUnchanged
		case StatusInProgress, StatusError:
			return errUnchanged
		default:
			return errUnchanged
		}
	})
	switch {
	case errors.Is(err, ErrNotFound):
		r.anomaly(ctx, id, "", "call placed for unknown negotiation")
		return nil
	case errors.Is(err, errUnchanged):
		r.anomaly(ctx, id, from, "call placed for negotiation in state "+string(from))
		return nil
	case err != nil:
		return fmt.Errorf("negotiation: record call placed: %w", err)
	}

	if from == StatusInitiated {
		logger.From(ctx).Info("negotiation call placed", "negotiation_id", id, "provider_call_id", providerCallID)
		r.record(ctx, func(a *audit.Service) error {
			return a.LogTransition(ctx, audit.EventTypeCallPlaced, id, n.OwnerID, string(from), string(n.Status), providerCallID, "call placed")
		})
	}
	return nil
}

// RecordCallFailed moves a non-terminal negotiation to error. Unknown or
// terminal ids are logged as anomalies and left untouched.
func (r *Registry) RecordCallFailed(ctx context.Context, id, reason string) error {
	if reason == "" {
		reason = defaultFailureReason
	}
	var from Status
	n, err := r.store.Update(ctx, id, func(n *Negotiation) error {
		from = n.Status
		if n.Status.Terminal() {
			return errUnchanged
		}
		n.Status = StatusError
		n.FailureReason = reason
		n.Outcome = nil
		n.UpdatedAt = r.clock().UTC()
		return nil
	})
	switch {
	case errors.Is(err, ErrNotFound):
		r.anomaly(ctx, id, "", "call failure for unknown negotiation")
		return nil
	case errors.Is(err, errUnchanged):
		r.anomaly(ctx, id, from, "call failure ignored, negotiation already "+string(from))
		return nil
	case err != nil:
		return fmt.Errorf("negotiation: record call failed: %w", err)
	}

	logger.From(ctx).Warn("negotiation failed", "negotiation_id", id, "reason", reason)
	r.record(ctx, func(a *audit.Service) error {
		return a.LogTransition(ctx, audit.EventTypeCallFailed, id, n.OwnerID, string(from), string(n.Status), n.ProviderCallID, reason)
	})
	return nil
}

// Result is a negotiated outcome delivered by the provider or the mock responder.
type Result struct {
	NegotiationID    string
	RefundAmount     decimal.Decimal
	ConfirmationCode string
	// ProviderCallID is optional; it fills a missing call id when the result
	// beats the placement record.
	ProviderCallID string
}

// Disposition says what ApplyWebhookResult did with a result.
type Disposition string

const (
	DispositionApplied   Disposition = "applied"
	DispositionDuplicate Disposition = "duplicate"
	DispositionIgnored   Disposition = "ignored"
)

// ApplyWebhookResult completes a negotiation. Unknown ids fail with
// *NotFoundError. A repeat delivery for a completed negotiation is discarded
// silently; a result for a failed negotiation is discarded as an anomaly.
func (r *Registry) ApplyWebhookResult(ctx context.Context, res Result) (Negotiation, Disposition, error) {
	var from Status
	n, err := r.store.Update(ctx, res.NegotiationID, func(n *Negotiation) error {
		from = n.Status
		switch n.Status {
		case StatusInitiated, StatusInProgress:
			now := r.clock().UTC()
			n.Status = StatusCompleted
			n.Outcome = &Outcome{
				RefundAmount:     res.RefundAmount,
				ConfirmationCode: res.ConfirmationCode,
				CompletedAt:      now,
			}
			n.FailureReason = ""
			if n.ProviderCallID == "" {
				n.ProviderCallID = res.ProviderCallID
			}
			n.UpdatedAt = now
			return nil
		case StatusCompleted, StatusError:
			return errUnchanged
		default:
			return errUnchanged
		}
	})
	switch {
	case errors.Is(err, ErrNotFound):
		return Negotiation{}, "", err
	case errors.Is(err, errUnchanged):
		if from == StatusCompleted {
			logger.From(ctx).Debug("duplicate negotiation result discarded", "negotiation_id", res.NegotiationID)
			r.record(ctx, func(a *audit.Service) error {
				return a.LogAnomaly(ctx, audit.EventTypeDuplicate, res.NegotiationID, string(from), "duplicate result discarded")
			})
			return n, DispositionDuplicate, nil
		}
		r.anomaly(ctx, res.NegotiationID, from, "result ignored, negotiation already "+string(from))
		return n, DispositionIgnored, nil
	case err != nil:
		return Negotiation{}, "", fmt.Errorf("negotiation: apply result: %w", err)
	}

	logger.From(ctx).Info("negotiation completed",
		"negotiation_id", n.ID,
		"refund", n.Outcome.RefundAmount.StringFixed(2),
		"confirmation_code", n.Outcome.ConfirmationCode,
	)
	r.record(ctx, func(a *audit.Service) error {
		return a.LogTransition(ctx, audit.EventTypeCompleted, n.ID, n.OwnerID, string(from), string(n.Status), n.ProviderCallID,
			"refund "+n.Outcome.RefundAmount.StringFixed(2)+" code "+n.Outcome.ConfirmationCode)
	})
	return n, DispositionApplied, nil
}

func (r *Registry) anomaly(ctx context.Context, id string, status Status, msg string) {
	logger.From(ctx).Warn("negotiation anomaly", "negotiation_id", id, "status", string(status), "detail", msg)
	if id == "" {
		return
	}
	r.record(ctx, func(a *audit.Service) error {
		return a.LogAnomaly(ctx, audit.EventTypeAnomaly, id, string(status), msg)
	})
}

// record appends to the audit trail. Failures are logged, never returned.
func (r *Registry) record(ctx context.Context, fn func(a *audit.Service) error) {
	if r.audit == nil {
		return
	}
	if err := fn(r.audit); err != nil {
		logger.From(ctx).Warn("audit append failed", "err", err)
	}
}

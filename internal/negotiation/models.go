package negotiation

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusInitiated  Status = "initiated"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

func (s Status) Valid() bool {
	switch s {
	case StatusInitiated, StatusInProgress, StatusCompleted, StatusError:
		return true
	default:
		return false
	}
}

// Outcome is the negotiated result. Set only when Status is completed.
type Outcome struct {
	RefundAmount     decimal.Decimal
	ConfirmationCode string
	CompletedAt      time.Time
}

// Negotiation is one delegated customer-service call.
//
// Invariants:
// - Category never changes after creation.
// - Outcome and FailureReason are mutually exclusive and empty until terminal.
// - ProviderCallID is empty while Status is initiated.
type Negotiation struct {
	ID              string
	OwnerID         string
	PhoneNumber     string
	Category        Category
	Request         string
	ReferenceNumber string
	EvidenceRef     string
	ProviderCallID  string
	Status          Status
	Outcome         *Outcome
	FailureReason   string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (n Negotiation) clone() Negotiation {
	out := n
	if n.Outcome != nil {
		o := *n.Outcome
		out.Outcome = &o
	}
	return out
}

// View is the polling snapshot of a negotiation.
type View struct {
	NegotiationID   string       `json:"negotiationId"`
	Status          Status       `json:"status"`
	Category        Category     `json:"category"`
	PhoneNumber     string       `json:"phoneNumber"`
	OrderNumber     string       `json:"orderNumber,omitempty"`
	EvidenceRef     string       `json:"evidenceRef,omitempty"`
	ProviderCallID  string       `json:"providerCallId,omitempty"`
	Outcome         *OutcomeView `json:"outcome"`
	FailureReason   *string      `json:"failureReason"`
	CreatedAt       time.Time    `json:"createdAt"`
	UpdatedAt       time.Time    `json:"updatedAt"`
}

type OutcomeView struct {
	RefundAmount     json.Number `json:"refundAmount"`
	ConfirmationCode string      `json:"confirmationCode"`
	CompletedAt      time.Time   `json:"completedAt"`
}

func (n Negotiation) View() View {
	v := View{
		NegotiationID:  n.ID,
		Status:         n.Status,
		Category:       n.Category,
		PhoneNumber:    n.PhoneNumber,
		OrderNumber:    n.ReferenceNumber,
		EvidenceRef:    n.EvidenceRef,
		ProviderCallID: n.ProviderCallID,
		CreatedAt:      n.CreatedAt,
		UpdatedAt:      n.UpdatedAt,
	}
	if n.Outcome != nil {
		v.Outcome = &OutcomeView{
			RefundAmount:     json.Number(n.Outcome.RefundAmount.StringFixed(2)),
			ConfirmationCode: n.Outcome.ConfirmationCode,
			CompletedAt:      n.Outcome.CompletedAt,
		}
	}
	if n.FailureReason != "" {
		reason := n.FailureReason
		v.FailureReason = &reason
	}
	return v
}

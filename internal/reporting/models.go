package reporting

import (
	"time"

	"github.com/shopspring/decimal"
)

// Common filtering inputs. A zero bound is open.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func (r TimeRange) contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && !t.Before(r.To) {
		return false
	}
	return true
}

func (r TimeRange) valid() bool {
	return r.From.IsZero() || r.To.IsZero() || r.To.After(r.From)
}

// SummaryRequest requests aggregated negotiation metrics.
// Owner isolation: OwnerID is required.

type SummaryRequest struct {
	OwnerID  string    `json:"owner_id"`
	Range    TimeRange `json:"range"`
	Category string    `json:"category,omitempty"`
}

type Summary struct {
	OwnerID  string `json:"owner_id"`
	Category string `json:"category,omitempty"`

	TotalNegotiations int `json:"total_negotiations"`
	Initiated         int `json:"initiated"`
	InProgress        int `json:"in_progress"`
	Completed         int `json:"completed"`
	Failed            int `json:"failed"`

	ByCategory map[string]int `json:"by_category"`

	TotalRefunded   decimal.Decimal `json:"total_refunded"`
	AverageRefund   decimal.Decimal `json:"average_refund"`
	RefundsObtained int             `json:"refunds_obtained"`

	// SuccessRate is completed / terminal negotiations.
	SuccessRate float64 `json:"success_rate"`
}

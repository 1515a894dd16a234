package reporting

import (
	"context"
	"errors"
	"time"

	"negotiator/internal/negotiation"

	"github.com/shopspring/decimal"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for reporting.
//
// IMPORTANT:
// - Methods must enforce owner filtering.
type Repository interface {
	ListNegotiations(ctx context.Context, ownerID string, from, to time.Time) ([]negotiation.Negotiation, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) Summary(ctx context.Context, req SummaryRequest) (Summary, error) {
	if req.OwnerID == "" || !req.Range.valid() {
		return Summary{}, ErrInvalidRequest
	}
	var category negotiation.Category
	if req.Category != "" {
		c, err := negotiation.ParseCategory(req.Category)
		if err != nil {
			return Summary{}, ErrInvalidRequest
		}
		category = c
	}
	if s.repo == nil {
		return Summary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListNegotiations(ctx, req.OwnerID, req.Range.From, req.Range.To)
	if err != nil {
		return Summary{}, err
	}

	out := Summary{
		OwnerID:       req.OwnerID,
		Category:      string(category),
		ByCategory:    map[string]int{},
		TotalRefunded: decimal.Zero,
		AverageRefund: decimal.Zero,
	}
	for _, n := range rows {
		if category != "" && n.Category != category {
			continue
		}
		out.TotalNegotiations++
		out.ByCategory[string(n.Category)]++
		switch n.Status {
		case negotiation.StatusInitiated:
			out.Initiated++
		case negotiation.StatusInProgress:
			out.InProgress++
		case negotiation.StatusCompleted:
			out.Completed++
			if n.Outcome != nil && n.Outcome.RefundAmount.IsPositive() {
				out.RefundsObtained++
				out.TotalRefunded = out.TotalRefunded.Add(n.Outcome.RefundAmount)
			}
		case negotiation.StatusError:
			out.Failed++
		}
	}
	if out.RefundsObtained > 0 {
		out.AverageRefund = out.TotalRefunded.Div(decimal.NewFromInt(int64(out.RefundsObtained))).Round(2)
	}
	if terminal := out.Completed + out.Failed; terminal > 0 {
		out.SuccessRate = float64(out.Completed) / float64(terminal)
	}
	return out, nil
}

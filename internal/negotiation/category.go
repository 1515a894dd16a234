package negotiation

import (
	"fmt"
	"strings"
)

// Category is the negotiation intent. It selects the call script and never
// changes after a negotiation is created.
type Category string

const (
	CategoryRefund       Category = "refund"
	CategoryReturn       Category = "return"
	CategoryAppointment  Category = "appointment"
	CategorySubscription Category = "subscription"
	CategoryGeneral      Category = "general"
)

// Categories lists every category in classification priority order.
var Categories = []Category{
	CategoryRefund,
	CategoryReturn,
	CategoryAppointment,
	CategorySubscription,
	CategoryGeneral,
}

func (c Category) Valid() bool {
	switch c {
	case CategoryRefund, CategoryReturn, CategoryAppointment, CategorySubscription, CategoryGeneral:
		return true
	default:
		return false
	}
}

// ParseCategory converts a stored value back into a Category.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.TrimSpace(s))
	if !c.Valid() {
		return "", fmt.Errorf("negotiation: unknown category %q", s)
	}
	return c, nil
}

var (
	refundTerms  = []string{"refund", "money back", "reimburse", "chargeback"}
	returnTerms  = []string{"return", "exchange", "send back", "send it back"}
	cancelTerms  = []string{"cancel", "call off"}
	bookingTerms = []string{"appointment", "appt", "booking", "reservation"}
	billingTerms = []string{"bill", "subscription", "subscribed", "membership", "invoice", "overcharg", "charged"}
)

// Classify maps free text to a Category. Matching is case-insensitive and
// follows a fixed priority; anything unmatched is CategoryGeneral.
func Classify(message string) Category {
	m := strings.ToLower(message)
	switch {
	case containsAny(m, refundTerms):
		return CategoryRefund
	case containsAny(m, returnTerms):
		return CategoryReturn
	case containsAny(m, cancelTerms) && containsAny(m, bookingTerms):
		return CategoryAppointment
	case containsAny(m, billingTerms):
		return CategorySubscription
	default:
		return CategoryGeneral
	}
}

func containsAny(s string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}

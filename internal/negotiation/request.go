package negotiation

import (
	"errors"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

var (
	phoneSeparators = regexp.MustCompile(`[\s\-()]`)
	// E.164 with a floor of 7 digits; shorter numbers are not dialable.
	phonePattern = regexp.MustCompile(`^\+[1-9]\d{6,14}$`)
)

// Request is a validated start request as supplied by the HTTP layer.
type Request struct {
	OwnerID         string `json:"ownerId"`
	PhoneNumber     string `json:"phoneNumber"`
	Prompt          string `json:"prompt"`
	ReferenceNumber string `json:"orderNumber"`
	EvidenceRef     string `json:"evidenceRef"`
}

// NormalizePhone strips spaces, dashes and parentheses.
func NormalizePhone(s string) string {
	return phoneSeparators.ReplaceAllString(strings.TrimSpace(s), "")
}

// ValidPhone reports whether s is a dialable E.164 number after normalization.
func ValidPhone(s string) bool {
	return phonePattern.MatchString(NormalizePhone(s))
}

// Normalize trims free text and canonicalizes the phone number.
func (r Request) Normalize() Request {
	r.OwnerID = strings.TrimSpace(r.OwnerID)
	r.PhoneNumber = NormalizePhone(r.PhoneNumber)
	r.Prompt = strings.TrimSpace(r.Prompt)
	r.ReferenceNumber = strings.TrimSpace(r.ReferenceNumber)
	r.EvidenceRef = strings.TrimSpace(r.EvidenceRef)
	return r
}

// Validate checks a normalized request. It returns a *ValidationError
// describing every failing field.
func (r Request) Validate() error {
	err := validation.ValidateStruct(&r,
		validation.Field(&r.PhoneNumber,
			validation.Required.Error("customer service phone number is required"),
			validation.Match(phonePattern).Error("phone number must be in E.164 format, e.g. +18005550123"),
		),
		validation.Field(&r.Prompt,
			validation.Required.Error("prompt is required"),
		),
		validation.Field(&r.ReferenceNumber,
			validation.When(r.EvidenceRef == "", validation.Required.Error("either order number or screenshot is required")),
		),
	)
	if err == nil {
		return nil
	}
	var fields validation.Errors
	if errors.As(err, &fields) {
		out := &ValidationError{Fields: make(map[string]string, len(fields))}
		for k, fe := range fields {
			out.Fields[k] = fe.Error()
		}
		return out
	}
	return err
}

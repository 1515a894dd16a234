package negotiation

import (
	"bytes"
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	missingCode = "N/A"

	endOfCallReport = "end-of-call-report"
)

// WebhookPayload is the result callback body. Two shapes are accepted: the
// flat {negotiationId, refund, code} form, and the provider's server message
// envelope where the id travels in call metadata and the result in the
// call analysis.
type WebhookPayload struct {
	NegotiationID string          `json:"negotiationId"`
	Refund        json.RawMessage `json:"refund,omitempty"`
	Code          json.RawMessage `json:"code,omitempty"`

	Message *ServerMessage `json:"message,omitempty"`
}

type ServerMessage struct {
	Type string `json:"type"`
	Call struct {
		ID       string         `json:"id"`
		Metadata map[string]any `json:"metadata"`
	} `json:"call"`
	Analysis struct {
		StructuredData map[string]json.RawMessage `json:"structuredData"`
	} `json:"analysis"`
}

// NewWebhookPayload builds a flat payload, as delivered by the mock responder.
func NewWebhookPayload(negotiationID string, refund decimal.Decimal, code string) WebhookPayload {
	codeRaw, _ := json.Marshal(code)
	return WebhookPayload{
		NegotiationID: negotiationID,
		Refund:        json.RawMessage(refund.StringFixed(2)),
		Code:          codeRaw,
	}
}

// Ack is returned to the webhook caller. It is identical for first and
// repeat deliveries so the provider has no reason to retry.
type Ack struct {
	Success       bool   `json:"success"`
	NegotiationID string `json:"negotiationId,omitempty"`
	Message       string `json:"message"`
}

// IngestWebhook reconciles a result callback with its negotiation. Only an
// unknown negotiation id is an error; duplicates, results for terminal
// negotiations and non-final provider messages are acknowledged.
func (r *Registry) IngestWebhook(ctx context.Context, p WebhookPayload) (Ack, error) {
	res, final := p.result()
	if !final {
		return Ack{Success: true, NegotiationID: res.NegotiationID, Message: "event ignored"}, nil
	}
	if res.NegotiationID == "" {
		return Ack{}, &NotFoundError{}
	}
	if _, _, err := r.ApplyWebhookResult(ctx, res); err != nil {
		return Ack{}, err
	}
	return Ack{Success: true, NegotiationID: res.NegotiationID, Message: "negotiation result logged"}, nil
}

// result extracts the outcome. final is false for provider messages that do
// not carry a call result (status updates, transcripts).
func (p WebhookPayload) result() (Result, bool) {
	res := Result{NegotiationID: strings.TrimSpace(p.NegotiationID)}
	refundRaw, codeRaw := p.Refund, p.Code

	if m := p.Message; m != nil {
		if m.Type != "" && m.Type != endOfCallReport {
			if res.NegotiationID == "" {
				res.NegotiationID = metadataString(m.Call.Metadata, "negotiationId")
			}
			return res, false
		}
		res.ProviderCallID = m.Call.ID
		if res.NegotiationID == "" {
			res.NegotiationID = metadataString(m.Call.Metadata, "negotiationId")
		}
		if len(refundRaw) == 0 {
			refundRaw = m.Analysis.StructuredData["refund"]
		}
		if len(codeRaw) == 0 {
			codeRaw = m.Analysis.StructuredData["code"]
		}
	}

	res.RefundAmount = ParseRefund(refundRaw)
	res.ConfirmationCode = parseCode(codeRaw)
	return res, true
}

// maxRefund is the first amount the refund_amount NUMERIC(12,2) column
// cannot hold.
var maxRefund = decimal.New(1, 10)

var leadingNumber = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)`)

// ParseRefund reads a refund amount from a JSON number or string. It is
// deliberately lenient: anything unreadable, negative or too large to store
// becomes zero, so a malformed amount never causes the callback to be
// rejected.
func ParseRefund(raw json.RawMessage) decimal.Decimal {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return decimal.Zero
	}

	var s string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return decimal.Zero
		}
	} else {
		s = string(raw)
	}
	s = strings.TrimPrefix(strings.TrimSpace(s), "$")

	num := leadingNumber.FindString(s)
	if num == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(strings.TrimSuffix(num, "."))
	if err != nil || d.IsNegative() {
		return decimal.Zero
	}
	d = d.Round(2)
	if d.GreaterThanOrEqual(maxRefund) {
		return decimal.Zero
	}
	return d
}

func parseCode(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return missingCode
	}
	var s string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return missingCode
		}
	} else {
		s = string(raw)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return missingCode
	}
	return s
}

func metadataString(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

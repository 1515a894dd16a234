package negotiation

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRefund(t *testing.T) {
	cases := map[string]string{
		`12.5`:             "12.50",
		`"15"`:             "15.00",
		`"$18.999"`:        "19.00",
		`"12.5 USD"`:       "12.50",
		`"abc"`:            "0",
		`null`:             "0",
		``:                 "0",
		`-4`:               "0",
		`{"amount":3}`:     "0",
		`true`:             "0",
		`9999999999.99`:    "9999999999.99",
		`"12345678901234"`: "0",
		`10000000000`:      "0",
	}
	for in, want := range cases {
		got := ParseRefund(json.RawMessage(in))
		assert.True(t, got.Equal(decimal.RequireFromString(want)), "ParseRefund(%s) = %s, want %s", in, got, want)
	}
}

func TestIngestWebhook_FlatPayload(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()
	n, err := r.Create(ctx, validRequest())
	require.NoError(t, err)
	require.NoError(t, r.RecordCallPlaced(ctx, n.ID, "call_1"))

	var p WebhookPayload
	require.NoError(t, json.Unmarshal([]byte(`{"negotiationId":"`+n.ID+`","refund":"not a number"}`), &p))

	ack, err := r.IngestWebhook(ctx, p)
	require.NoError(t, err)
	assert.True(t, ack.Success)

	got, _ := r.Get(ctx, n.ID)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.True(t, got.Outcome.RefundAmount.IsZero())
	assert.Equal(t, "N/A", got.Outcome.ConfirmationCode)

	again, err := r.IngestWebhook(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, ack, again, "duplicate delivery gets the same ack")
}

func TestIngestWebhook_ServerMessageEnvelope(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()
	n, _ := r.Create(ctx, validRequest())

	body := `{"message":{"type":"end-of-call-report",
		"call":{"id":"call_77","metadata":{"negotiationId":"` + n.ID + `"}},
		"analysis":{"structuredData":{"refund":21.75,"code":"REF-2024-042"}}}}`
	var p WebhookPayload
	require.NoError(t, json.Unmarshal([]byte(body), &p))

	_, err := r.IngestWebhook(ctx, p)
	require.NoError(t, err)

	got, _ := r.Get(ctx, n.ID)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, "call_77", got.ProviderCallID)
	assert.Equal(t, "21.75", got.Outcome.RefundAmount.StringFixed(2))
	assert.Equal(t, "REF-2024-042", got.Outcome.ConfirmationCode)
}

func TestIngestWebhook_NonFinalMessageIgnored(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()
	n, _ := r.Create(ctx, validRequest())

	var p WebhookPayload
	require.NoError(t, json.Unmarshal([]byte(`{"message":{"type":"status-update","call":{"metadata":{"negotiationId":"`+n.ID+`"}}}}`), &p))
	ack, err := r.IngestWebhook(ctx, p)
	require.NoError(t, err)
	assert.True(t, ack.Success)

	got, _ := r.Get(ctx, n.ID)
	assert.Equal(t, StatusInitiated, got.Status)
}

func TestIngestWebhook_UnknownOrMissingID(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	_, err := r.IngestWebhook(context.Background(), WebhookPayload{NegotiationID: "neg_404"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = r.IngestWebhook(context.Background(), WebhookPayload{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewWebhookPayload(t *testing.T) {
	p := NewWebhookPayload("neg_1", decimal.RequireFromString("10.1"), "REF-2024-001")
	res, final := p.result()
	require.True(t, final)
	assert.Equal(t, "10.10", res.RefundAmount.StringFixed(2))
	assert.Equal(t, "REF-2024-001", res.ConfirmationCode)
}

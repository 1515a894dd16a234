package negotiation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"negotiator/internal/audit"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) (*Registry, *MemoryStore, *audit.MemoryRepo) {
	t.Helper()
	store := NewMemoryStore()
	repo := audit.NewMemoryRepo()
	r := NewRegistry(store, audit.NewService(repo))
	var seq int
	var mu sync.Mutex
	r.newID = func() string {
		mu.Lock()
		defer mu.Unlock()
		seq++
		return fmt.Sprintf("neg_%d", seq)
	}
	r.clock = func() time.Time { return time.Unix(1700000000, 0) }
	return r, store, repo
}

func validRequest() Request {
	return Request{PhoneNumber: "+14155550100", Prompt: "cancel my appointment", ReferenceNumber: "APT-9"}
}

func TestCreate_ClassifiesAndStartsInitiated(t *testing.T) {
	r, _, repo := newTestRegistry(t)
	ctx := context.Background()

	n, err := r.Create(ctx, validRequest())
	require.NoError(t, err)
	assert.Equal(t, "neg_1", n.ID)
	assert.Equal(t, StatusInitiated, n.Status)
	assert.Equal(t, CategoryAppointment, n.Category)
	assert.Empty(t, n.ProviderCallID)
	assert.Nil(t, n.Outcome)
	assert.Empty(t, n.FailureReason)

	evs := repo.ForNegotiation(n.ID)
	require.Len(t, evs, 1)
	assert.Equal(t, audit.EventTypeCreated, evs[0].Type)
}

func TestCreate_RejectsInvalidWithoutRecord(t *testing.T) {
	r, store, _ := newTestRegistry(t)
	ctx := context.Background()

	cases := []Request{
		{PhoneNumber: "+1555", Prompt: "refund", ReferenceNumber: "ORD-1"},
		{PhoneNumber: "+14155550100", Prompt: "refund"},
		{PhoneNumber: "+14155550100", Prompt: "", ReferenceNumber: "ORD-1"},
	}
	for _, req := range cases {
		_, err := r.Create(ctx, req)
		assert.ErrorIs(t, err, ErrValidation)
	}
	assert.Empty(t, store.byID)
}

func TestLifecycle_PlacedThenCompleted(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	n, err := r.Create(ctx, validRequest())
	require.NoError(t, err)

	require.NoError(t, r.RecordCallPlaced(ctx, n.ID, "call_1"))
	got, err := r.Get(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, got.Status)
	assert.Equal(t, "call_1", got.ProviderCallID)

	got, disp, err := r.ApplyWebhookResult(ctx, Result{NegotiationID: n.ID, RefundAmount: decimal.Zero, ConfirmationCode: "CONF-1"})
	require.NoError(t, err)
	assert.Equal(t, DispositionApplied, disp)
	assert.Equal(t, StatusCompleted, got.Status)
	require.NotNil(t, got.Outcome)
	assert.Equal(t, "CONF-1", got.Outcome.ConfirmationCode)
	assert.Equal(t, CategoryAppointment, got.Category)
}

func TestApplyWebhookResult_DuplicateIsDiscarded(t *testing.T) {
	r, _, repo := newTestRegistry(t)
	ctx := context.Background()
	n, _ := r.Create(ctx, validRequest())
	_ = r.RecordCallPlaced(ctx, n.ID, "call_1")

	res := Result{NegotiationID: n.ID, RefundAmount: decimal.RequireFromString("12.50"), ConfirmationCode: "A"}
	_, disp, err := r.ApplyWebhookResult(ctx, res)
	require.NoError(t, err)
	assert.Equal(t, DispositionApplied, disp)

	res.ConfirmationCode = "B"
	got, disp, err := r.ApplyWebhookResult(ctx, res)
	require.NoError(t, err)
	assert.Equal(t, DispositionDuplicate, disp)
	assert.Equal(t, "A", got.Outcome.ConfirmationCode, "first result wins")

	var completed int
	for _, e := range repo.ForNegotiation(n.ID) {
		if e.Type == audit.EventTypeCompleted {
			completed++
		}
	}
	assert.Equal(t, 1, completed)
}

func TestApplyWebhookResult_UnknownID(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	_, _, err := r.ApplyWebhookResult(context.Background(), Result{NegotiationID: "neg_missing"})
	var nf *NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "neg_missing", nf.ID)
}

func TestTerminalStatesAreSticky(t *testing.T) {
	r, _, repo := newTestRegistry(t)
	ctx := context.Background()
	n, _ := r.Create(ctx, validRequest())
	_ = r.RecordCallPlaced(ctx, n.ID, "call_1")
	_, _, err := r.ApplyWebhookResult(ctx, Result{NegotiationID: n.ID, ConfirmationCode: "X"})
	require.NoError(t, err)

	require.NoError(t, r.RecordCallFailed(ctx, n.ID, "late timeout"))
	require.NoError(t, r.RecordCallPlaced(ctx, n.ID, "call_2"))

	got, _ := r.Get(ctx, n.ID)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, "call_1", got.ProviderCallID)
	assert.Empty(t, got.FailureReason)

	var anomalies int
	for _, e := range repo.ForNegotiation(n.ID) {
		if e.Type == audit.EventTypeAnomaly {
			anomalies++
		}
	}
	assert.Equal(t, 2, anomalies)
}

func TestRecordCallFailed_ThenResultIgnored(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()
	n, _ := r.Create(ctx, validRequest())

	require.NoError(t, r.RecordCallFailed(ctx, n.ID, ""))
	got, _ := r.Get(ctx, n.ID)
	assert.Equal(t, StatusError, got.Status)
	assert.Equal(t, defaultFailureReason, got.FailureReason)

	got, disp, err := r.ApplyWebhookResult(ctx, Result{NegotiationID: n.ID, ConfirmationCode: "X"})
	require.NoError(t, err)
	assert.Equal(t, DispositionIgnored, disp)
	assert.Equal(t, StatusError, got.Status)
	assert.Nil(t, got.Outcome)
}

func TestResultBeforePlacement_BackfillsCallID(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()
	n, _ := r.Create(ctx, validRequest())

	_, disp, err := r.ApplyWebhookResult(ctx, Result{NegotiationID: n.ID, ConfirmationCode: "FAST"})
	require.NoError(t, err)
	assert.Equal(t, DispositionApplied, disp)

	require.NoError(t, r.RecordCallPlaced(ctx, n.ID, "call_late"))
	got, _ := r.Get(ctx, n.ID)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, "call_late", got.ProviderCallID)
}

func TestUnknownIDTransitionsAreNoOps(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()
	assert.NoError(t, r.RecordCallPlaced(ctx, "neg_nope", "call"))
	assert.NoError(t, r.RecordCallFailed(ctx, "neg_nope", "x"))
	_, err := r.Get(ctx, "neg_nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConcurrentResultAndFailure_OneTerminalWins(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		n, err := r.Create(ctx, validRequest())
		require.NoError(t, err)
		_ = r.RecordCallPlaced(ctx, n.ID, "call")

		var wg sync.WaitGroup
		wg.Add(3)
		go func() { defer wg.Done(); _, _, _ = r.ApplyWebhookResult(ctx, Result{NegotiationID: n.ID, ConfirmationCode: "C"}) }()
		go func() { defer wg.Done(); _, _, _ = r.ApplyWebhookResult(ctx, Result{NegotiationID: n.ID, ConfirmationCode: "C"}) }()
		go func() { defer wg.Done(); _ = r.RecordCallFailed(ctx, n.ID, "boom") }()
		wg.Wait()

		got, _ := r.Get(ctx, n.ID)
		require.True(t, got.Status.Terminal())
		if got.Status == StatusCompleted {
			assert.NotNil(t, got.Outcome)
			assert.Empty(t, got.FailureReason)
		} else {
			assert.Nil(t, got.Outcome)
			assert.NotEmpty(t, got.FailureReason)
		}
	}
}

func TestListByOwner(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()
	base := time.Unix(1700000000, 0)
	for i := 0; i < 3; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		r.clock = func() time.Time { return at }
		req := validRequest()
		req.OwnerID = "u1"
		_, err := r.Create(ctx, req)
		require.NoError(t, err)
	}
	_, _ = r.Create(ctx, validRequest())

	got, err := r.ListByOwner(ctx, "u1", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "neg_3", got[0].ID)
	assert.Equal(t, "neg_2", got[1].ID)
}

func TestView(t *testing.T) {
	n := Negotiation{ID: "neg_1", Status: StatusCompleted, Outcome: &Outcome{RefundAmount: decimal.RequireFromString("12.5"), ConfirmationCode: "C"}}
	v := n.View()
	require.NotNil(t, v.Outcome)
	assert.Equal(t, "12.50", v.Outcome.RefundAmount.String())
	assert.Nil(t, v.FailureReason)

	f := Negotiation{ID: "neg_2", Status: StatusError, FailureReason: "boom"}.View()
	require.NotNil(t, f.FailureReason)
	assert.Equal(t, "boom", *f.FailureReason)
	assert.Nil(t, f.Outcome)
}

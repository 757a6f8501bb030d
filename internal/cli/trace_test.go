package cli

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/disburse/internal/model"
	"github.com/roach88/disburse/internal/state"
	"github.com/roach88/disburse/internal/statelog"
	"github.com/roach88/disburse/internal/store"
	"github.com/roach88/disburse/internal/testutil"
)

func tracedPayment(t *testing.T, e *testEnv) *model.Payment {
	t.Helper()
	var p *model.Payment
	e.withStore(t, func(_ *store.Store, fx *testutil.Fixtures) {
		p = fx.Payment(fx.Claim("abs-1"))
		fx.Transition(p, state.PaymentReadyForPreapproval, state.PaymentRequiresAudit, state.WritebackPending)
	})
	return p
}

func TestTrace_Text(t *testing.T) {
	e := newTestEnv(t, nil)
	p := tracedPayment(t, e)

	stdout, _, code := e.exec("trace", "payment", p.ID)
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "payment "+p.ID+"\n")
	assert.Contains(t, stdout, "delegated_payment: (start) -> payment_ready_for_preapproval (fixture)")
	assert.Contains(t, stdout, "delegated_payment: payment_ready_for_preapproval -> payment_requires_audit")
	assert.Contains(t, stdout, "payment_writeback: (start) -> writeback_pending")
	assert.Contains(t, stdout, "current: [payment_requires_audit writeback_pending]")
	assert.NotContains(t, stdout, "outcome {")

	stdout, _, code = e.exec("-v", "trace", "payment", p.ID)
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, `outcome {"message":"fixture"}`)
}

func TestTrace_JSONFlowFilter(t *testing.T) {
	e := newTestEnv(t, nil)
	p := tracedPayment(t, e)

	stdout, _, code := e.exec("--format", "json", "trace", "payment", p.ID, "--flow", string(state.FlowDelegatedPayment))
	require.Equal(t, ExitSuccess, code)

	result, _ := decode[TraceResult](t, stdout)
	assert.Equal(t, "payment", result.EntityType)
	assert.Equal(t, p.ID, result.EntityID)
	require.Len(t, result.Timeline, 2)
	assert.Equal(t, "", result.Timeline[0].StartState)
	assert.Equal(t, "payment_requires_audit", result.Timeline[1].EndState)
	assert.Equal(t, "fixture", result.Timeline[1].Outcome["message"])
	assert.Equal(t, testutil.Epoch, result.Timeline[1].CreatedAt.UTC())
	assert.Equal(t, []string{"payment_requires_audit"}, result.Current)
}

func TestTrace_NoHistory(t *testing.T) {
	e := newTestEnv(t, nil)

	stdout, _, code := e.exec("trace", "claim", "nope")
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, "No state history for claim nope\n", stdout)
}

func TestTrace_RejectsBadArguments(t *testing.T) {
	e := newTestEnv(t, nil)

	_, stderr, code := e.exec("trace", "invoice", "x")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, `unknown entity type "invoice"`)

	_, stderr, code = e.exec("trace", "employee", "x", "--flow", string(state.FlowPaymentWriteback))
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "does not track employee entities")
}

func TestBuildTrace(t *testing.T) {
	ref := model.Ref{Type: model.EntityPayment, ID: "pay-1"}
	at := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	entries := []statelog.Entry{
		{ID: 1, Flow: state.FlowDelegatedPayment, EndState: state.PaymentReadyForPreapproval, Outcome: statelog.NewOutcome("a"), CreatedAt: at},
		{ID: 2, Flow: state.FlowPaymentWriteback, EndState: state.WritebackPending, Outcome: statelog.NewOutcome("b"), CreatedAt: at},
		{ID: 3, Flow: state.FlowDelegatedPayment, StartState: state.PaymentReadyForPreapproval, EndState: state.PaymentPreapproved, ImportLogID: 7, CreatedAt: at},
	}

	result := buildTrace(ref, "", entries)
	require.Len(t, result.Timeline, 3)
	assert.Equal(t, "payment_ready_for_preapproval", result.Timeline[2].StartState)
	assert.Equal(t, int64(7), result.Timeline[2].ImportLogID)
	assert.Equal(t, []string{"payment_preapproved", "writeback_pending"}, result.Current)

	empty := buildTrace(ref, state.FlowDelegatedPayment, nil)
	assert.Empty(t, empty.Timeline)
	assert.Equal(t, "delegated_payment", empty.Flow)
	assert.Equal(t, []string{}, empty.Current)
}

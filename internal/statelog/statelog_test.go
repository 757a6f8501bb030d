package statelog_test

import (
	"context"
	"fmt"
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

func payment(id string) model.Ref { return model.Ref{Type: model.EntityPayment, ID: id} }

func newLog() *statelog.Log {
	return statelog.New(testutil.NewStepClock(testutil.Epoch, time.Second))
}

func TestCreateTransition_ChainsStates(t *testing.T) {
	s := testutil.NewStore(t)
	ctx := context.Background()
	log := newLog()
	p := payment("p1")

	chain := []state.State{
		state.PaymentReadyForAddressValidation,
		state.PaymentAddressValidated,
		state.PaymentReadyForPreapproval,
		state.PaymentPreapproved,
		state.PaymentCheckIssued,
		state.PaymentComplete,
	}
	for _, st := range chain {
		_, err := log.CreateTransition(ctx, s.DB(), p, st, statelog.NewOutcome("moved"))
		require.NoError(t, err)
	}

	history, err := statelog.History(ctx, s.DB(), p, state.FlowDelegatedPayment)
	require.NoError(t, err)
	require.Len(t, history, len(chain))

	assert.True(t, history[0].StartState.IsZero())
	for i := range history {
		assert.Equal(t, chain[i], history[i].EndState)
		if i > 0 {
			assert.Equal(t, history[i-1].EndState, history[i].StartState, "entry %d breaks the chain", i)
			assert.Greater(t, history[i].ID, history[i-1].ID)
		}
	}

	latest, err := statelog.LatestInFlow(ctx, s.DB(), p, state.FlowDelegatedPayment)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, state.PaymentComplete, latest.EndState)
}

func TestCreateTransition_FlowsAreIndependent(t *testing.T) {
	s := testutil.NewStore(t)
	ctx := context.Background()
	log := newLog()
	p := payment("p1")

	_, err := log.CreateTransition(ctx, s.DB(), p, state.PaymentCheckIssued, nil)
	require.NoError(t, err)
	wb, err := log.CreateTransition(ctx, s.DB(), p, state.WritebackPending, nil)
	require.NoError(t, err)
	assert.True(t, wb.StartState.IsZero())

	done, err := log.CreateTransition(ctx, s.DB(), p, state.PaymentComplete, nil)
	require.NoError(t, err)
	assert.Equal(t, state.PaymentCheckIssued, done.StartState)

	all, err := statelog.History(ctx, s.DB(), p, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestCreateTransition_Rejects(t *testing.T) {
	s := testutil.NewStore(t)
	ctx := context.Background()
	log := newLog()

	_, err := log.CreateTransition(ctx, s.DB(), model.Ref{Type: model.EntityEmployee, ID: "e1"}, state.PaymentComplete, nil)
	assert.ErrorIs(t, err, statelog.ErrWrongEntityType)

	_, err = log.CreateTransition(ctx, s.DB(), payment("p1"), state.State{Name: "payment_vanished", Flow: state.FlowDelegatedPayment}, nil)
	assert.ErrorIs(t, err, state.ErrUnknownState)

	_, err = log.CreateTransition(ctx, s.DB(), payment(""), state.PaymentComplete, nil)
	assert.Error(t, err)

	var n int
	require.NoError(t, s.DB().QueryRow("SELECT COUNT(*) FROM state_logs").Scan(&n))
	assert.Zero(t, n)
}

func TestCreateTransition_RollsBackWithUnitOfWork(t *testing.T) {
	s := testutil.NewStore(t)
	ctx := context.Background()
	log := newLog()

	err := s.WithTx(ctx, func(tx *store.Tx) error {
		if _, err := log.CreateTransition(ctx, tx, payment("p1"), state.PaymentPreapproved, nil); err != nil {
			return err
		}
		return fmt.Errorf("entity update failed")
	})
	require.Error(t, err)

	latest, err := statelog.LatestInFlow(ctx, s.DB(), payment("p1"), state.FlowDelegatedPayment)
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestAllLatestInEndState_IgnoresStaleEntries(t *testing.T) {
	s := testutil.NewStore(t)
	ctx := context.Background()
	log := newLog()

	move := func(id string, st state.State) {
		t.Helper()
		_, err := log.CreateTransition(ctx, s.DB(), payment(id), st, nil)
		require.NoError(t, err)
	}
	move("p1", state.PaymentReadyForPreapproval)
	move("p2", state.PaymentReadyForPreapproval)
	move("p1", state.PaymentPreapproved)
	move("p3", state.PaymentReadyForPreapproval)
	// A different flow does not make p1 stale in its payment flow.
	move("p1", state.WritebackPending)

	refs, err := statelog.AllLatestInEndState(ctx, s.DB(), model.EntityPayment, state.PaymentReadyForPreapproval)
	require.NoError(t, err)
	assert.Equal(t, []model.Ref{payment("p2"), payment("p3")}, refs)

	refs, err = statelog.AllLatestInEndState(ctx, s.DB(), model.EntityPayment, state.PaymentPreapproved)
	require.NoError(t, err)
	assert.Equal(t, []model.Ref{payment("p1")}, refs)

	refs, err = statelog.AllLatestInEndStates(ctx, s.DB(), model.EntityPayment, state.PaymentPreapproved, state.WritebackPending)
	require.NoError(t, err)
	assert.Equal(t, []model.Ref{payment("p1"), payment("p1")}, refs)

	refs, err = statelog.AllLatestInEndState(ctx, s.DB(), model.EntityEmployee, state.PaymentPreapproved)
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestIsLatestIn(t *testing.T) {
	s := testutil.NewStore(t)
	ctx := context.Background()
	log := newLog()
	p := payment("p1")

	ok, err := statelog.IsLatestIn(ctx, s.DB(), p, state.PaymentRequiresAudit)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = log.CreateTransition(ctx, s.DB(), p, state.PaymentRequiresAudit, nil)
	require.NoError(t, err)

	ok, err = statelog.IsLatestIn(ctx, s.DB(), p, state.PaymentPreapproved, state.PaymentRequiresAudit)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCreateTransition_StampsImportLogAndOutcome(t *testing.T) {
	s := testutil.NewStore(t)
	ctx := context.Background()
	importLog, err := s.StartImportLog(ctx, "preapproval", testutil.Epoch)
	require.NoError(t, err)

	log := newLog().ForImportLog(importLog)
	outcome := statelog.NewOutcome("Payment requires audit").
		With("issues", []string{"CHANGED_EFT"}).
		With("prior_count", 3)
	_, err = log.CreateTransition(ctx, s.DB(), payment("p1"), state.PaymentRequiresAudit, outcome)
	require.NoError(t, err)

	history, err := statelog.History(ctx, s.DB(), payment("p1"), state.FlowDelegatedPayment)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, importLog, history[0].ImportLogID)
	assert.Equal(t, testutil.Epoch, history[0].CreatedAt)
	assert.Equal(t, "Payment requires audit", history[0].Outcome.Message())

	var raw string
	require.NoError(t, s.DB().QueryRow("SELECT outcome FROM state_logs").Scan(&raw))
	assert.Equal(t, `{"issues":["CHANGED_EFT"],"message":"Payment requires audit","prior_count":3}`, raw)
}

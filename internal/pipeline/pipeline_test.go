package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/disburse/internal/addressvalidation"
	"github.com/roach88/disburse/internal/addrverify"
	"github.com/roach88/disburse/internal/blob"
	"github.com/roach88/disburse/internal/config"
	"github.com/roach88/disburse/internal/extract"
	"github.com/roach88/disburse/internal/preapproval"
	"github.com/roach88/disburse/internal/step"
	"github.com/roach88/disburse/internal/testutil"
	"github.com/roach88/disburse/internal/testutil/steptest"
	"github.com/roach88/disburse/internal/writeback"
)

func newRegistry(t *testing.T, addr addrverify.Client) *Registry {
	t.Helper()
	r, err := New(config.Default(), blob.NewMemory(), addr)
	require.NoError(t, err)
	return r
}

func TestRegistry_EveryStepIsRegistered(t *testing.T) {
	r := newRegistry(t, addrverify.NewFake())
	for _, name := range r.Names() {
		l, ok := r.Get(name)
		require.True(t, ok, name)
		assert.Equal(t, name, l.Name())
		assert.NotEmpty(t, Describe(name), name)
	}
}

func TestRegistry_Resolve(t *testing.T) {
	r := newRegistry(t, addrverify.NewFake())

	got, err := r.Resolve([]string{writeback.StepName, extract.StepName, preapproval.StepName, extract.StepName})
	require.NoError(t, err)
	assert.Equal(t, []string{extract.StepName, preapproval.StepName, writeback.StepName}, got)

	_, err = r.Resolve([]string{"ingest", "preapproval", "disburse"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown step(s) ingest, disburse")
}

func TestRegistry_RunStopsAtFirstFailure(t *testing.T) {
	r := newRegistry(t, addrverify.NewFake())
	s := testutil.NewStore(t)

	reports, err := r.Run(context.Background(), steptest.Deps(s), []string{writeback.StepName, extract.StepName})
	require.Error(t, err)
	assert.True(t, step.IsFatalCode(err, step.ErrCodeMissingInput), "%v", err)
	require.Len(t, reports, 1, "writeback never ran")
	assert.Equal(t, extract.StepName, reports[0].Step)
	assert.Equal(t, step.StatusError, reports[0].Status)
}

func TestRegistry_Run(t *testing.T) {
	r := newRegistry(t, addrverify.NewFake())
	s := testutil.NewStore(t)

	reports, err := r.Run(context.Background(), steptest.Deps(s), []string{writeback.StepName, preapproval.StepName})
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, preapproval.StepName, reports[0].Step)
	assert.Equal(t, writeback.StepName, reports[1].Step)
}

func TestRegistry_AddressStepsNeedAClient(t *testing.T) {
	r := newRegistry(t, nil)
	s := testutil.NewStore(t)

	_, err := r.Run(context.Background(), steptest.Deps(s), []string{addressvalidation.PaymentStepName})
	assert.True(t, step.IsFatalCode(err, step.ErrCodeConfig), "%v", err)
}

func TestNew_RejectsUnknownCheckVariant(t *testing.T) {
	cfg := config.Default()
	cfg.Check.Variant = "laser"
	_, err := New(cfg, blob.NewMemory(), nil)
	assert.ErrorContains(t, err, "check.variant")
}

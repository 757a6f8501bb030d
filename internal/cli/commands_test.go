package cli

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/roach88/disburse/internal/model"
	"github.com/roach88/disburse/internal/pipeline"
	"github.com/roach88/disburse/internal/state"
	"github.com/roach88/disburse/internal/store"
	"github.com/roach88/disburse/internal/testutil"
)

func TestSteps(t *testing.T) {
	e := newTestEnv(t, nil)

	stdout, _, code := e.exec("--format", "json", "steps")
	require.Equal(t, ExitSuccess, code)
	steps, _ := decode[[]StepInfo](t, stdout)
	require.Len(t, steps, len(pipeline.Order))
	for i, s := range steps {
		assert.Equal(t, pipeline.Order[i], s.Name)
		assert.NotEmpty(t, s.Description)
	}

	stdout, _, code = e.exec("steps")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "preapproval")
	assert.Contains(t, stdout, "approve payments or route them to manual audit")
}

func TestStates(t *testing.T) {
	e := newTestEnv(t, nil)

	stdout, _, code := e.exec("--format", "json", "states")
	require.Equal(t, ExitSuccess, code)
	states, _ := decode[[]StateInfo](t, stdout)
	assert.Len(t, states, len(state.All()))
	assert.Contains(t, states, StateInfo{Flow: "payment_writeback", EntityType: "payment", State: "writeback_sent", Terminal: true})
	assert.Contains(t, states, StateInfo{Flow: "delegated_claimant", EntityType: "employee", State: "claimant_ready_for_address_validation"})

	stdout, _, code = e.exec("states")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "delegated_payment (payment)\n")
	assert.Contains(t, stdout, "  payment_complete [terminal]\n")
	assert.Contains(t, stdout, "  payment_preapproved\n")
}

func TestAudit_Reject(t *testing.T) {
	e := newTestEnv(t, nil)
	var p *model.Payment
	e.withStore(t, func(_ *store.Store, fx *testutil.Fixtures) {
		p = fx.Payment(fx.Claim("abs-1"))
		fx.Transition(p, state.PaymentReadyForPreapproval, state.PaymentRequiresAudit)
	})

	stdout, _, code := e.exec("--format", "json", "audit", "reject", p.ID, "--reason", "duplicate")
	require.Equal(t, ExitSuccess, code)
	result, _ := decode[AuditResult](t, stdout)
	assert.Equal(t, AuditResult{PaymentID: p.ID, State: "payment_audit_rejected", Reason: "duplicate"}, result)

	e.withStore(t, func(_ *store.Store, fx *testutil.Fixtures) {
		assert.Equal(t, model.WritebackAuditRejected, fx.Reload(p).WritebackStatus)
	})

	_, stderr, code := e.exec("audit", "approve", p.ID)
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stderr, "decision refused")
	assert.Contains(t, stderr, "payment_audit_rejected")
}

func TestAudit_UnknownPayment(t *testing.T) {
	e := newTestEnv(t, nil)

	_, stderr, code := e.exec("audit", "approve", "nope")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "payment not found")
}

func TestClaimsRelease(t *testing.T) {
	e := newTestEnv(t, nil)
	now := testutil.Epoch.Add(3 * time.Hour)
	e.withStore(t, func(s *store.Store, fx *testutil.Fixtures) {
		ctx := context.Background()
		stale := model.Ref{Type: model.EntityPayment, ID: "pay-stale"}
		fresh := model.Ref{Type: model.EntityPayment, ID: "pay-fresh"}
		_, err := s.ClaimEntities(ctx, "crashed", []model.Ref{stale}, 0, testutil.Epoch)
		require.NoError(t, err)
		_, err = s.ClaimEntities(ctx, "running", []model.Ref{fresh}, 0, now.Add(-time.Minute))
		require.NoError(t, err)
	})

	opts := &ClaimsOptions{RootOptions: &RootOptions{Format: "text", Config: e.configPath}, StaleAfter: time.Hour, Clock: testutil.FixedClock{T: now}}
	cmd := newClaimsReleaseCommand(opts.RootOptions)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	require.NoError(t, runClaimsRelease(opts, cmd))
	assert.Contains(t, out.String(), "released 1 claim(s) taken before 2024-03-01T11:30:00Z")

	e.withStore(t, func(s *store.Store, _ *testutil.Fixtures) {
		worker, err := s.ClaimedBy(context.Background(), model.Ref{Type: model.EntityPayment, ID: "pay-fresh"})
		require.NoError(t, err)
		assert.Equal(t, "running", worker)
		worker, err = s.ClaimedBy(context.Background(), model.Ref{Type: model.EntityPayment, ID: "pay-stale"})
		require.NoError(t, err)
		assert.Empty(t, worker)
	})
}

func TestClaimsRelease_NegativeDuration(t *testing.T) {
	e := newTestEnv(t, nil)

	_, stderr, code := e.exec("claims", "release", "--stale-after", "-5m")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "must not be negative")
}

func TestConfigShow(t *testing.T) {
	e := newTestEnv(t, map[string]any{
		"address_verification": map[string]any{"base_url": "https://av.example", "auth_token": "s3cret"},
	})

	stdout, _, code := e.exec("config", "show")
	require.Equal(t, ExitSuccess, code)
	assert.NotContains(t, stdout, "s3cret")

	var shown map[string]map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(stdout), &shown))
	assert.Equal(t, "********", shown["address_verification"]["auth_token"])
	assert.Equal(t, e.dbPath, shown["database"]["path"])
	assert.Equal(t, "ez", shown["check"]["variant"])

	stdout, _, code = e.exec("--format", "json", "config", "show")
	require.Equal(t, ExitSuccess, code)
	assert.NotContains(t, stdout, "s3cret")
	cfg, _ := decode[map[string]map[string]any](t, stdout)
	assert.Equal(t, "https://av.example", cfg["address_verification"]["base_url"])
}

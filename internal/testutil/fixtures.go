package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/disburse/internal/model"
	"github.com/roach88/disburse/internal/state"
	"github.com/roach88/disburse/internal/statelog"
	"github.com/roach88/disburse/internal/store"
)

// Fixtures seeds entities directly through the store. IDs come from a
// sequential generator so they sort in creation order.
type Fixtures struct {
	t           testing.TB
	Store       *store.Store
	IDs         *model.SequentialGenerator
	Clock       FixedClock
	ImportLogID int64
}

// NewFixtures opens an import log that every seeded payment references.
func NewFixtures(t testing.TB, s *store.Store) *Fixtures {
	t.Helper()
	id, err := s.StartImportLog(context.Background(), "fixture", Epoch)
	if err != nil {
		t.Fatalf("start fixture import log: %v", err)
	}
	return &Fixtures{t: t, Store: s, IDs: model.NewSequentialGenerator("fx"), Clock: FixedClock{T: Epoch}, ImportLogID: id}
}

// NewImportLog starts another import log, so later payments count as more
// recently extracted.
func (f *Fixtures) NewImportLog() int64 {
	f.t.Helper()
	id, err := f.Store.StartImportLog(context.Background(), "fixture", Epoch)
	if err != nil {
		f.t.Fatalf("start fixture import log: %v", err)
	}
	f.ImportLogID = id
	return id
}

// Claim creates an employee, employer and claim on absenceCase.
func (f *Fixtures) Claim(absenceCase string) *model.Claim {
	f.t.Helper()
	ctx := context.Background()
	n := f.IDs.Generate()
	ee, _, err := f.Store.UpsertEmployee(ctx, "ee-"+n, model.Employee{CustomerNumber: "cust-" + n, FirstName: "Jane", LastName: "Doe"})
	f.check("employee", err)
	er, _, err := f.Store.UpsertEmployer(ctx, "er-"+n, model.Employer{FEIN: "fein-" + n, Name: "Acme"})
	f.check("employer", err)
	c, _, err := f.Store.UpsertClaim(ctx, "claim-"+n, model.Claim{
		ClaimNumber:   "NTN-" + n,
		AbsenceCaseID: absenceCase,
		EmployeeID:    ee.ID,
		EmployerID:    er.ID,
		LeaveType:     model.LeaveFamily,
	})
	f.check("claim", err)
	return c
}

// DefaultAddress is the extracted address of seeded payments.
var DefaultAddress = model.Address{Line1: "10 Main St", City: "Boston", State: "MA", Zip: "02110"}

// EFT finds or creates the default checking account for employeeID.
func (f *Fixtures) EFT(employeeID string) *model.PubEFT {
	f.t.Helper()
	e, _, err := f.Store.FindOrCreateEFT(context.Background(), "eft-"+f.IDs.Generate(), model.PubEFT{
		EmployeeID:    employeeID,
		RoutingNumber: "021000021",
		AccountNumber: "123456789",
		AccountType:   model.AccountChecking,
	})
	f.check("eft", err)
	return e
}

// AddressPair finds or creates a pair for employeeID with extracted address a.
func (f *Fixtures) AddressPair(employeeID string, a model.Address) *model.AddressPair {
	f.t.Helper()
	ctx := context.Background()
	if p, err := f.Store.FindAddressPair(ctx, employeeID, a); err == nil {
		return p
	}
	a.ID = "addr-" + f.IDs.Generate()
	p := model.AddressPair{ID: "pair-" + f.IDs.Generate(), EmployeeID: employeeID, Extracted: a}
	f.check("address pair", f.Store.InsertAddressPair(ctx, p))
	return &p
}

// Payment inserts a standard ACH payment of 812.50 on c with the default
// EFT and address pair. mutate runs before the insert.
func (f *Fixtures) Payment(c *model.Claim, mutate ...func(*model.Payment)) *model.Payment {
	f.t.Helper()
	id := "pmt-" + f.IDs.Generate()
	p := &model.Payment{
		ID:              id,
		CValue:          "7326",
		IValue:          id,
		LineItemKey:     "li-" + id,
		ClaimID:         c.ID,
		EmployeeID:      c.EmployeeID,
		EmployerID:      c.EmployerID,
		ImportLogID:     f.ImportLogID,
		TransactionType: model.TransactionStandard,
		Method:          model.MethodACH,
		LeaveType:       c.LeaveType,
		Amount:          decimal.RequireFromString("812.50"),
		PeriodStart:     time.Date(2024, 2, 19, 0, 0, 0, 0, time.UTC),
		PeriodEnd:       time.Date(2024, 2, 25, 0, 0, 0, 0, time.UTC),
		PayeeFirstName:  "Jane",
		PayeeLastName:   "Doe",
		PubEFTID:        f.EFT(c.EmployeeID).ID,
		AddressPairID:   f.AddressPair(c.EmployeeID, DefaultAddress).ID,
		CreatedAt:       Epoch,
	}
	for _, m := range mutate {
		m(p)
	}
	f.check("payment", f.Store.InsertPayment(context.Background(), p))
	return p
}

// Transition moves e through states in order.
func (f *Fixtures) Transition(e model.Entity, states ...state.State) {
	f.t.Helper()
	log := statelog.New(f.Clock)
	for _, s := range states {
		_, err := log.CreateTransition(context.Background(), f.Store.DB(), e, s, statelog.NewOutcome("fixture"))
		f.check("transition to "+s.Name, err)
	}
}

// Latest returns the current state of e in flow, or the zero State.
func (f *Fixtures) Latest(e model.Entity, flow state.Flow) state.State {
	f.t.Helper()
	entry, err := statelog.LatestInFlow(context.Background(), f.Store.DB(), e, flow)
	f.check("latest in flow", err)
	if entry == nil {
		return state.State{}
	}
	return entry.EndState
}

// LatestEntry returns the current entry of e in flow; it fails the test if
// there is none.
func (f *Fixtures) LatestEntry(e model.Entity, flow state.Flow) *statelog.Entry {
	f.t.Helper()
	entry, err := statelog.LatestInFlow(context.Background(), f.Store.DB(), e, flow)
	f.check("latest in flow", err)
	if entry == nil {
		f.t.Fatalf("%s has no %s entry", model.RefOf(e), flow)
	}
	return entry
}

// Reload reads p back from the store.
func (f *Fixtures) Reload(p *model.Payment) *model.Payment {
	f.t.Helper()
	got, err := f.Store.GetPayment(context.Background(), p.ID)
	f.check("reload payment", err)
	return got
}

func (f *Fixtures) check(what string, err error) {
	f.t.Helper()
	if err != nil {
		f.t.Fatalf("seed %s: %v", what, err)
	}
}

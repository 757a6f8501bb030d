package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// EntityType names one member of the trackable entity union.
type EntityType string

const (
	EntityEmployee EntityType = "employee"
	EntityEmployer EntityType = "employer"
	EntityClaim    EntityType = "claim"
	EntityPayment  EntityType = "payment"
)

// EntityTypes lists the trackable entity types in a stable order.
var EntityTypes = []EntityType{EntityEmployee, EntityEmployer, EntityClaim, EntityPayment}

// ParseEntityType validates a user-supplied entity type name.
func ParseEntityType(s string) (EntityType, error) {
	for _, t := range EntityTypes {
		if string(t) == strings.ToLower(strings.TrimSpace(s)) {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown entity type %q", s)
}

// Entity is the capability shared by everything the State Log can track.
type Entity interface {
	EntityType() EntityType
	EntityID() string
}

// Ref identifies an entity without loading it.
type Ref struct {
	Type EntityType
	ID   string
}

func (r Ref) EntityType() EntityType { return r.Type }
func (r Ref) EntityID() string       { return r.ID }

func (r Ref) String() string { return string(r.Type) + ":" + r.ID }

// RefOf returns the identity of any entity.
func RefOf(e Entity) Ref {
	return Ref{Type: e.EntityType(), ID: e.EntityID()}
}

// Employer is the organisation a claimant works for.
type Employer struct {
	ID   string
	FEIN string
	Name string
}

func (e *Employer) EntityType() EntityType { return EntityEmployer }
func (e *Employer) EntityID() string       { return e.ID }

// Employee is a claimant known to the vendor system.
type Employee struct {
	ID             string
	CustomerNumber string
	FirstName      string
	LastName       string
	AddressPairID  string
}

func (e *Employee) EntityType() EntityType { return EntityEmployee }
func (e *Employee) EntityID() string       { return e.ID }

// Claim is one leave claim. AbsenceCaseID identifies the leave request that
// payment history lookbacks group by.
type Claim struct {
	ID            string
	ClaimNumber   string
	AbsenceCaseID string
	EmployeeID    string
	EmployerID    string
	LeaveType     LeaveType
}

func (c *Claim) EntityType() EntityType { return EntityClaim }
func (c *Claim) EntityID() string       { return c.ID }

// Payment is a single payment instruction received from the vendor.
type Payment struct {
	ID              string
	CValue          string
	IValue          string
	LineItemKey     string
	ClaimID         string
	EmployeeID      string
	EmployerID      string
	ImportLogID     int64
	TransactionType TransactionType
	Method          PaymentMethod
	LeaveType       LeaveType
	Amount          decimal.Decimal
	PeriodStart     time.Time
	PeriodEnd       time.Time
	PayeeFirstName  string
	PayeeLastName   string
	PubEFTID        string
	AddressPairID   string
	CheckNumber     int64
	IndividualID    int64
	WritebackStatus WritebackStatus
	WritebackAt     time.Time
	CreatedAt       time.Time
}

func (p *Payment) EntityType() EntityType { return EntityPayment }
func (p *Payment) EntityID() string       { return p.ID }

// PayeeName is the display name used on checks and ACH entries.
func (p *Payment) PayeeName() string {
	return strings.TrimSpace(p.PayeeFirstName + " " + p.PayeeLastName)
}

// Address is a postal address, either as extracted or as normalised by the
// verification service.
type Address struct {
	ID      string
	Line1   string
	Line2   string
	City    string
	State   string
	Zip     string
	Country string
}

// Lines returns the non-empty free-text lines sent to address verification.
func (a Address) Lines() []string {
	var lines []string
	for _, l := range []string{a.Line1, a.Line2, a.lastLine()} {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

// Text renders the address on one line: "10 Main St, Boston MA 02110".
func (a Address) Text() string {
	return strings.Join(a.Lines(), ", ")
}

func (a Address) lastLine() string {
	return strings.TrimSpace(strings.Join(strings.Fields(a.City+" "+a.State+" "+a.Zip), " "))
}

// SameAs compares two addresses ignoring case and surrounding whitespace.
func (a Address) SameAs(b Address) bool {
	eq := func(x, y string) bool { return strings.EqualFold(strings.TrimSpace(x), strings.TrimSpace(y)) }
	return eq(a.Line1, b.Line1) && eq(a.Line2, b.Line2) && eq(a.City, b.City) &&
		eq(a.State, b.State) && eq(a.Zip, b.Zip)
}

// AddressPair holds the extracted address and, once verified, the normalised
// one. Validated is nil until verification succeeds.
type AddressPair struct {
	ID         string
	EmployeeID string
	Extracted  Address
	Validated  *Address
}

// IsValidated reports whether the pair already carries a normalised address.
func (p *AddressPair) IsValidated() bool { return p.Validated != nil }

// PubEFT is a claimant bank account used for ACH payments.
type PubEFT struct {
	ID            string
	EmployeeID    string
	RoutingNumber string
	AccountNumber string
	AccountType   AccountType
}

// ReferenceFile is one ingested or emitted file.
type ReferenceFile struct {
	ID          string
	Type        ReferenceFileType
	Location    string
	Status      ReferenceFileStatus
	ImportLogID int64
	CreatedAt   time.Time
}

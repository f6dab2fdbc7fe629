/*
Package generic provides the core data model shared by every bonus component.

PURPOSE:
  This package contains the records the bonus engine reads and writes:
  catalog parts, part entry events, and the user directory. Aggregation,
  reconciliation and persistence all speak in these types, so the
  store implementations and the bonus package never depend on each other.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: A quantity with a unit (e.g., 4 parts, $4.00)
  - PartEntryEvent: One user entering one catalog part at one instant
  - Part: A catalog item with its denormalized "has been entered" status
  - UserProfile: Directory entry used to label report rows
  - SyncRun: Audit record of one part status reconciliation

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal for money, never float64
  2. Type Safety: Distinct ID types prevent mixing user/part/event IDs
  3. Paired payment fields: Paid and PaymentDate always change together

USAGE:
  bonus := generic.NewAmountFromInt(4, generic.UnitDollars)
  fmt.Println(bonus.Currency()) // "$4.00"

SEE ALSO:
  - store.go: Collaborator interfaces over these records
  - errors.go: Domain errors
  - bonus/aggregate.go: Grouping events into quarterly buckets
*/
package generic

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Quantity with unit
// =============================================================================

type Amount struct {
	Value decimal.Decimal
	Unit  Unit
}

type Unit string

const (
	UnitDollars Unit = "dollars"
)

func NewAmountFromInt(value int, unit Unit) Amount {
	return Amount{Value: decimal.NewFromInt(int64(value)), Unit: unit}
}

func ZeroAmount(unit Unit) Amount {
	return Amount{Value: decimal.Zero, Unit: unit}
}

func (a Amount) Add(b Amount) Amount          { return Amount{Value: a.Value.Add(b.Value), Unit: a.Unit} }
func (a Amount) Mul(s decimal.Decimal) Amount { return Amount{Value: a.Value.Mul(s), Unit: a.Unit} }
func (a Amount) Times(n int) Amount           { return a.Mul(decimal.NewFromInt(int64(n))) }
func (a Amount) IsZero() bool                 { return a.Value.IsZero() }
func (a Amount) Equal(b Amount) bool          { return a.Unit == b.Unit && a.Value.Equal(b.Value) }

// Currency renders a dollar amount with two decimals, e.g. "$12.00".
func (a Amount) Currency() string {
	return "$" + a.Value.StringFixed(2)
}

// Float64 is for display and spreadsheet cells only.
func (a Amount) Float64() float64 {
	f, _ := a.Value.Float64()
	return f
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type PartID string
type EventID string

type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// =============================================================================
// RECORDS
// =============================================================================

// UserProfile is a directory entry. Reports fall back to placeholder
// values when an event references a user missing from the directory.
type UserProfile struct {
	ID        UserID
	Name      string
	Email     string
	Role      Role
	CreatedAt time.Time
}

// Part is a catalog item. SerialNumber is the natural key for import dedup.
// Status is denormalized: true iff at least one entry event references the part.
type Part struct {
	ID           PartID
	Name         string
	SerialNumber string
	Status       bool
	CreatedAt    time.Time
}

// PartEntryEvent records that a user entered a part.
// PaymentDate is non-nil exactly when Paid is true.
type PartEntryEvent struct {
	ID          EventID
	UserID      UserID
	PartID      PartID
	EnteredAt   time.Time
	Paid        bool
	PaymentDate *time.Time
}

// PaymentConsistent reports whether Paid and PaymentDate agree.
func (e PartEntryEvent) PaymentConsistent() bool {
	return e.Paid == (e.PaymentDate != nil)
}

// =============================================================================
// SYNC RUN - Audit record for part status reconciliation
// =============================================================================

type SyncTrigger string

const (
	TriggerImport    SyncTrigger = "import"
	TriggerRead      SyncTrigger = "read"
	TriggerManual    SyncTrigger = "manual"
	TriggerScheduled SyncTrigger = "scheduled"
)

type SyncStatus string

const (
	SyncRunning   SyncStatus = "running"
	SyncCompleted SyncStatus = "completed"
	SyncFailed    SyncStatus = "failed"
)

type SyncRun struct {
	ID            string
	Trigger       SyncTrigger
	Status        SyncStatus
	UpdatedToTrue int
	ResetToFalse  int
	Error         string
	StartedAt     time.Time
	CompletedAt   *time.Time
}

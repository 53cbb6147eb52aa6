package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type AccountStatus string

const (
	AccountStatusActive AccountStatus = "active"
	AccountStatusClosed AccountStatus = "closed"
)

// LoanAccount is an interest-bearing account. Its balance is never edited
// directly: it is recomputed from the accepted ledger entries, so the
// invariant balance = principal + deposits - withdrawals + yield holds by
// construction. Accounts with entries are soft-closed, never deleted.
type LoanAccount struct {
	ID            uuid.UUID       `json:"id"`
	OwnerUserRef  string          `json:"owner_user_ref"` // weak link to the external identity system (email)
	OwnerName     string          `json:"owner_name,omitempty"`
	OwnerPhone    string          `json:"owner_phone,omitempty"`
	AccountNumber string          `json:"account_number"`
	Principal     decimal.Decimal `json:"principal"`
	Balance       decimal.Decimal `json:"balance"`
	MonthlyRate   decimal.Decimal `json:"monthly_rate"`
	Status        AccountStatus   `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type EntryKind string

const (
	EntryKindDeposit    EntryKind = "deposit"
	EntryKindWithdrawal EntryKind = "withdrawal"
	EntryKindBonus      EntryKind = "bonus"
)

type EntryStatus string

const (
	EntryStatusActive  EntryStatus = "active"
	EntryStatusRemoved EntryStatus = "removed"
)

// LedgerEntry is one accepted transaction. Amount is always a positive
// magnitude; direction comes from Kind. Entries produced by a spreadsheet
// upload carry the batch id and are replaced wholesale when the same
// source is re-uploaded; manually recorded entries have a nil batch id
// and are never touched by batch replacement.
type LedgerEntry struct {
	ID              uuid.UUID        `json:"id"`
	AccountID       uuid.UUID        `json:"account_id"`
	Amount          decimal.Decimal  `json:"amount"`
	Kind            EntryKind        `json:"kind"`
	TransactionDate time.Time        `json:"transaction_date"` // calendar date, UTC midnight
	Description     string           `json:"description,omitempty"`
	BonusRate       *decimal.Decimal `json:"bonus_rate,omitempty"` // per-entry annual bonus rate, if attached
	ImportBatchID   *uuid.UUID       `json:"import_batch_id,omitempty"`
	Seq             int64            `json:"seq"` // per-account insertion order, tie-breaker for same-day entries
	Status          EntryStatus      `json:"status"`
	CreatedAt       time.Time        `json:"created_at"`
}

type YieldDepositStatus string

const (
	YieldDepositStatusActive YieldDepositStatus = "active"
	YieldDepositStatusClosed YieldDepositStatus = "closed"
)

// YieldDeposit is a fixed principal earning periodic yield. TotalPaid only
// ever increases; NextPaymentDate is the first unprocessed period boundary
// while the deposit is active and is frozen on close.
type YieldDeposit struct {
	ID              uuid.UUID          `json:"id"`
	OwnerUserRef    string             `json:"owner_user_ref"`
	Principal       decimal.Decimal    `json:"principal"`
	AnnualYieldRate decimal.Decimal    `json:"annual_yield_rate"`
	StartDate       time.Time          `json:"start_date"`
	EndDate         *time.Time         `json:"end_date,omitempty"`
	Status          YieldDepositStatus `json:"status"`
	TotalPaid       decimal.Decimal    `json:"total_paid"`
	LastPaymentDate *time.Time         `json:"last_payment_date,omitempty"`
	NextPaymentDate *time.Time         `json:"next_payment_date,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

type BatchStatus string

const (
	BatchStatusActive     BatchStatus = "active"
	BatchStatusSuperseded BatchStatus = "superseded"
)

// ImportBatch records one spreadsheet upload. At most one batch is active
// per (account, source identity); uploading the same source again
// supersedes the previous batch and all of its entries atomically.
type ImportBatch struct {
	ID             uuid.UUID   `json:"id"`
	AccountID      uuid.UUID   `json:"account_id"`
	SourceIdentity string      `json:"source_identity"`
	Status         BatchStatus `json:"status"`
	EntryCount     int         `json:"entry_count"`
	CreatedAt      time.Time   `json:"created_at"`
}

// AccrualEvent is one period's computed yield payment. PeriodKey is stable
// per (deposit, period boundary) so that reapplying a period is a no-op.
type AccrualEvent struct {
	ID        uuid.UUID       `json:"id"`
	DepositID uuid.UUID       `json:"deposit_id"`
	PeriodKey string          `json:"period_key"` // "YYYY-MM" of the period boundary
	PeriodEnd time.Time       `json:"period_end"`
	Amount    decimal.Decimal `json:"amount"`
	AppliedAt time.Time       `json:"applied_at"`
}

// Projection is the read-side summary of an account's ledger.
type Projection struct {
	AccountID        uuid.UUID       `json:"account_id"`
	CurrentBalance   decimal.Decimal `json:"current_balance"`
	TotalDeposits    decimal.Decimal `json:"total_deposits"`
	TotalWithdrawals decimal.Decimal `json:"total_withdrawals"`
	TotalYieldPaid   decimal.Decimal `json:"total_yield_paid"`
	LastActivityDate *time.Time      `json:"last_activity_date,omitempty"`
}

// RawRow is one already-parsed spreadsheet row, before validation. All
// fields are strings as they came out of the sheet; the normalizer is
// responsible for typing and rejecting them.
type RawRow struct {
	AccountKey  string `json:"account_key"` // email or account number
	Type        string `json:"type"`
	Amount      string `json:"amount"`
	Date        string `json:"date"`
	Description string `json:"description,omitempty"`
	BonusRate   string `json:"bonus_rate,omitempty"`
	Name        string `json:"name,omitempty"` // identity data for account auto-creation
	Phone       string `json:"phone,omitempty"`
}

// DateOnly truncates a timestamp to a UTC calendar date. Transaction dates
// are dates, not instants; keeping them at UTC midnight makes equality and
// ordering comparisons exact.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

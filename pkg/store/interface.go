package store

import (
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mcclellann/fredYield/pkg/models"
)

var (
	// ErrNotFound reports a missing account, batch or deposit.
	ErrNotFound = errors.New("not found")
	// ErrReplacementRaceLost reports that another reconciliation for the
	// same account and source committed first. Safe to retry from the top.
	ErrReplacementRaceLost = errors.New("replacement race lost")
	// ErrDuplicatePeriod reports an accrual event whose period was already
	// applied for its deposit.
	ErrDuplicatePeriod = errors.New("accrual period already applied")
)

// Storage defines the persistence operations for accounts, ledger entries,
// import batches and yield deposits. CommitBatch and SaveAccrual must be
// atomic: a reader never observes a half-replaced entry set or an accrual
// applied without its deposit update.
type Storage interface {
	CreateAccount(account *models.LoanAccount) error
	GetAccount(id uuid.UUID) (*models.LoanAccount, error)
	// GetAccountByKey looks an account up by owner email or account number.
	GetAccountByKey(key string) (*models.LoanAccount, error)
	UpdateAccount(account *models.LoanAccount) error
	ListAccounts() ([]*models.LoanAccount, error)

	// CreateEntry persists one manual entry, assigning its Seq.
	CreateEntry(entry *models.LedgerEntry) error
	// ListEntries returns the account's committed active entries ordered by
	// transaction date then seq.
	ListEntries(accountID uuid.UUID) ([]models.LedgerEntry, error)

	// ActiveBatch returns the single active batch for (account, source
	// identity), or ErrNotFound.
	ActiveBatch(accountID uuid.UUID, sourceIdentity string) (*models.ImportBatch, error)
	// CommitBatch atomically supersedes the replaced batch (when non-nil),
	// marks its entries removed, inserts the new batch with its entries and
	// updates the account balance. Returns ErrReplacementRaceLost if the
	// replaced batch is no longer active or another active batch for the
	// same source won a concurrent commit.
	CommitBatch(replace *models.ImportBatch, batch *models.ImportBatch, entries []models.LedgerEntry, newBalance decimal.Decimal) error

	CreateYieldDeposit(dep *models.YieldDeposit) error
	GetYieldDeposit(id uuid.UUID) (*models.YieldDeposit, error)
	ListYieldDeposits(ownerRef string) ([]*models.YieldDeposit, error)
	UpdateYieldDeposit(dep *models.YieldDeposit) error
	// AppliedPeriodKeys returns the period keys already accrued for a deposit.
	AppliedPeriodKeys(depositID uuid.UUID) (map[string]bool, error)
	// SaveAccrual persists the events and the updated deposit in one unit.
	SaveAccrual(dep *models.YieldDeposit, events []models.AccrualEvent) error
	ListAccrualEvents(depositID uuid.UUID) ([]models.AccrualEvent, error)

	Close() error
}

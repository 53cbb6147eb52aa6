package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mcclellann/fredYield/pkg/models"
)

// Project folds committed entries into an account summary. It is a pure
// read-side fold: deposits and withdrawals sum by kind, bonus entries are
// the yield credited to the account, and the balance is the signed total.
// For any entry set this balance equals the allocation engine's final
// replay balance.
func Project(accountID uuid.UUID, entries []models.LedgerEntry) *models.Projection {
	p := &models.Projection{
		AccountID:        accountID,
		CurrentBalance:   decimal.Zero,
		TotalDeposits:    decimal.Zero,
		TotalWithdrawals: decimal.Zero,
		TotalYieldPaid:   decimal.Zero,
	}
	for _, entry := range entries {
		switch entry.Kind {
		case models.EntryKindDeposit:
			p.TotalDeposits = p.TotalDeposits.Add(entry.Amount)
			p.CurrentBalance = p.CurrentBalance.Add(entry.Amount)
		case models.EntryKindWithdrawal:
			p.TotalWithdrawals = p.TotalWithdrawals.Add(entry.Amount)
			p.CurrentBalance = p.CurrentBalance.Sub(entry.Amount)
		case models.EntryKindBonus:
			p.TotalYieldPaid = p.TotalYieldPaid.Add(entry.Amount)
			p.CurrentBalance = p.CurrentBalance.Add(entry.Amount)
		}
		if p.LastActivityDate == nil || entry.TransactionDate.After(*p.LastActivityDate) {
			d := entry.TransactionDate
			p.LastActivityDate = &d
		}
	}
	return p
}

// ListAccountEntries returns the account's committed entries in replay
// order, after verifying the account exists.
func (e *Engine) ListAccountEntries(ctx context.Context, accountID uuid.UUID) ([]models.LedgerEntry, error) {
	if _, err := e.storage.GetAccount(accountID); err != nil {
		return nil, err
	}
	return e.storage.ListEntries(accountID)
}

// ProjectLedger loads the account's committed entries and folds them.
// Reads run lock-free: ListEntries returns one consistent snapshot of the
// committed state.
func (e *Engine) ProjectLedger(ctx context.Context, accountID uuid.UUID) (*models.Projection, error) {
	if _, err := e.storage.GetAccount(accountID); err != nil {
		return nil, err
	}
	entries, err := e.storage.ListEntries(accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load entries: %w", err)
	}
	return Project(accountID, entries), nil
}

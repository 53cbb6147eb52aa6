package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mcclellann/fredYield/pkg/accrual"
	"github.com/mcclellann/fredYield/pkg/allocation"
	"github.com/mcclellann/fredYield/pkg/metrics"
	"github.com/mcclellann/fredYield/pkg/models"
)

// CreateYieldDeposit opens a yield deposit for an owner.
func (e *Engine) CreateYieldDeposit(ctx context.Context, ownerRef string, principal, annualRate decimal.Decimal, startDate time.Time) (*models.YieldDeposit, error) {
	if principal.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("principal must be positive, got %s", principal)
	}
	if annualRate.IsNegative() {
		return nil, fmt.Errorf("annual rate must not be negative, got %s", annualRate)
	}

	now := time.Now()
	dep := &models.YieldDeposit{
		ID:              uuid.New(),
		OwnerUserRef:    ownerRef,
		Principal:       principal,
		AnnualYieldRate: annualRate,
		StartDate:       models.DateOnly(startDate),
		Status:          models.YieldDepositStatusActive,
		TotalPaid:       decimal.Zero,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	dep.NextPaymentDate = accrual.NextBoundary(*dep, dep.StartDate)

	if err := e.storage.CreateYieldDeposit(dep); err != nil {
		return nil, fmt.Errorf("failed to store yield deposit: %w", err)
	}
	return dep, nil
}

// GetYieldDeposit retrieves a yield deposit by its ID.
func (e *Engine) GetYieldDeposit(ctx context.Context, id uuid.UUID) (*models.YieldDeposit, error) {
	return e.storage.GetYieldDeposit(id)
}

// ListYieldDeposits retrieves an owner's yield deposits, or all of them
// when ownerRef is empty.
func (e *Engine) ListYieldDeposits(ctx context.Context, ownerRef string) ([]*models.YieldDeposit, error) {
	return e.storage.ListYieldDeposits(ownerRef)
}

// ApplyAccrual computes and persists every accrual event due on or before
// asOf that has not been applied yet. Reapplying a period is a no-op: the
// applied set is consulted first and the storage constraint on (deposit,
// period key) backs it up. Returns the newly applied events, possibly none.
func (e *Engine) ApplyAccrual(ctx context.Context, depositID uuid.UUID, asOf time.Time) ([]models.AccrualEvent, error) {
	unlock := e.lock(depositID)
	defer unlock()

	dep, err := e.storage.GetYieldDeposit(depositID)
	if err != nil {
		return nil, err
	}

	applied, err := e.storage.AppliedPeriodKeys(depositID)
	if err != nil {
		return nil, fmt.Errorf("failed to load applied periods: %w", err)
	}

	events := accrual.PendingEvents(*dep, applied, asOf)
	if len(events) == 0 {
		return nil, nil
	}
	now := time.Now()
	for i := range events {
		events[i].AppliedAt = now
	}

	accrual.Apply(dep, events)
	if err := e.storage.SaveAccrual(dep, events); err != nil {
		return nil, err
	}
	metrics.AccrualEventsApplied.Add(float64(len(events)))

	e.log.Info().Str("deposit", depositID.String()).Int("events", len(events)).
		Str("total_paid", dep.TotalPaid.StringFixed(2)).Msg("accrual applied")
	return events, nil
}

// ListAccrualEvents returns the accrual history for a deposit.
func (e *Engine) ListAccrualEvents(ctx context.Context, depositID uuid.UUID) ([]models.AccrualEvent, error) {
	if _, err := e.storage.GetYieldDeposit(depositID); err != nil {
		return nil, err
	}
	return e.storage.ListAccrualEvents(depositID)
}

// CloseYieldDeposit closes a deposit, discarding its pending partial
// period and freezing the payment cursor.
func (e *Engine) CloseYieldDeposit(ctx context.Context, depositID uuid.UUID, at time.Time) (*models.YieldDeposit, error) {
	unlock := e.lock(depositID)
	defer unlock()

	dep, err := e.storage.GetYieldDeposit(depositID)
	if err != nil {
		return nil, err
	}
	if err := accrual.Close(dep, at); err != nil {
		return nil, err
	}
	if err := e.storage.UpdateYieldDeposit(dep); err != nil {
		return nil, fmt.Errorf("failed to update yield deposit: %w", err)
	}
	return dep, nil
}

// CreditMonthlyBonus computes the account's bonus for the month of asOf
// and records it as a bonus entry. Crediting the same month twice is a
// no-op. Attribution follows the configured mode: per open lot (each lot
// earning its own attached rate, falling back to the account rate) or
// account-wide.
func (e *Engine) CreditMonthlyBonus(ctx context.Context, accountID uuid.UUID, asOf time.Time) (*models.LedgerEntry, error) {
	unlock := e.lock(accountID)
	defer unlock()

	account, err := e.storage.GetAccount(accountID)
	if err != nil {
		return nil, err
	}

	entries, err := e.storage.ListEntries(accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load entries: %w", err)
	}

	period := asOf.UTC().Format("2006-01")
	description := "monthly bonus " + period
	for _, entry := range entries {
		if entry.Kind == models.EntryKindBonus && entry.Description == description {
			return nil, nil
		}
	}

	res, err := allocation.Replay(entries)
	if err != nil {
		return nil, err
	}
	amount := accrual.MonthlyBonus(res, account.MonthlyRate, e.bonusMode)
	if !amount.IsPositive() {
		return nil, nil
	}

	entry := &models.LedgerEntry{
		ID:              uuid.New(),
		AccountID:       accountID,
		Amount:          amount,
		Kind:            models.EntryKindBonus,
		TransactionDate: models.DateOnly(asOf),
		Description:     description,
		Status:          models.EntryStatusActive,
		CreatedAt:       time.Now(),
	}
	if err := e.storage.CreateEntry(entry); err != nil {
		return nil, fmt.Errorf("failed to store bonus entry: %w", err)
	}

	account.Balance = res.FinalBalance.Add(amount)
	account.UpdatedAt = time.Now()
	if err := e.storage.UpdateAccount(account); err != nil {
		return nil, fmt.Errorf("failed to update account balance: %w", err)
	}

	e.log.Info().Str("account", account.AccountNumber).Str("period", period).
		Str("amount", amount.StringFixed(2)).Msg("monthly bonus credited")
	return entry, nil
}

// Package accrual computes periodic yield events for yield deposits and
// monthly bonus amounts for loan accounts. Events are produced on demand
// for a caller-supplied as-of date; there is no timer here. Each event is
// keyed by its period boundary so that applying the same period twice is
// a no-op.
package accrual

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mcclellann/fredYield/pkg/allocation"
	"github.com/mcclellann/fredYield/pkg/models"
	"github.com/mcclellann/fredYield/pkg/money"
)

// PeriodKey identifies one accrual period for a deposit. Boundaries are
// monthly, anchored to the deposit's start day, so the year-month of the
// boundary is unique and stable.
func PeriodKey(boundary time.Time) string {
	return boundary.Format("2006-01")
}

// addMonths advances a date by whole months, clamping the day to the
// target month's length (Jan 31 + 1 month = Feb 28, not Mar 3).
func addMonths(start time.Time, n int) time.Time {
	y, m, d := start.UTC().Date()
	firstOfTarget := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	lastDay := firstOfTarget.AddDate(0, 1, -1).Day()
	if d > lastDay {
		d = lastDay
	}
	return time.Date(firstOfTarget.Year(), firstOfTarget.Month(), d, 0, 0, 0, 0, time.UTC)
}

// EventAmount is one period's yield on the deposit's principal, rounded
// half-even to cents.
func EventAmount(dep models.YieldDeposit) decimal.Decimal {
	return money.RoundCents(dep.Principal.Mul(money.MonthlyFromAnnual(dep.AnnualYieldRate)))
}

// PendingEvents returns the accrual events due on or before asOf that are
// not in the applied set. Closed deposits produce nothing; boundaries past
// the deposit's end date are discarded, with no pro-rated partial period.
func PendingEvents(dep models.YieldDeposit, applied map[string]bool, asOf time.Time) []models.AccrualEvent {
	if dep.Status != models.YieldDepositStatusActive {
		return nil
	}

	asOf = models.DateOnly(asOf)
	amount := EventAmount(dep)
	var events []models.AccrualEvent

	for n := 1; ; n++ {
		boundary := addMonths(dep.StartDate, n)
		if boundary.After(asOf) {
			break
		}
		if dep.EndDate != nil && boundary.After(models.DateOnly(*dep.EndDate)) {
			break
		}
		key := PeriodKey(boundary)
		if applied[key] {
			continue
		}
		events = append(events, models.AccrualEvent{
			ID:        uuid.New(),
			DepositID: dep.ID,
			PeriodKey: key,
			PeriodEnd: boundary,
			Amount:    amount,
		})
	}
	return events
}

// Apply folds freshly computed events into the deposit: TotalPaid grows by
// their sum and the payment cursor advances. Callers persist the events
// and the deposit together; the (deposit, period key) uniqueness in
// storage is what makes concurrent application safe.
func Apply(dep *models.YieldDeposit, events []models.AccrualEvent) {
	if len(events) == 0 {
		return
	}
	for _, ev := range events {
		dep.TotalPaid = dep.TotalPaid.Add(ev.Amount)
	}
	last := events[len(events)-1].PeriodEnd
	dep.LastPaymentDate = &last
	next := NextBoundary(*dep, last)
	dep.NextPaymentDate = next
	dep.UpdatedAt = time.Now()
}

// NextBoundary returns the first period boundary strictly after the given
// date, or nil if the deposit ends before reaching one.
func NextBoundary(dep models.YieldDeposit, after time.Time) *time.Time {
	after = models.DateOnly(after)
	for n := 1; ; n++ {
		boundary := addMonths(dep.StartDate, n)
		if boundary.After(after) {
			if dep.EndDate != nil && boundary.After(models.DateOnly(*dep.EndDate)) {
				return nil
			}
			return &boundary
		}
	}
}

// Close terminates a deposit. The pending partial period is discarded and
// NextPaymentDate is frozen as-is. Closing a closed deposit fails rather
// than silently re-freezing.
func Close(dep *models.YieldDeposit, at time.Time) error {
	if dep.Status == models.YieldDepositStatusClosed {
		return fmt.Errorf("yield deposit %s is already closed", dep.ID)
	}
	at = models.DateOnly(at)
	dep.Status = models.YieldDepositStatusClosed
	dep.EndDate = &at
	dep.UpdatedAt = time.Now()
	return nil
}

// BonusAttribution selects how monthly bonus is attributed for a loan
// account: per open lot (the default, consistent with LIFO allocation) or
// uniformly across the account's whole balance.
type BonusAttribution string

const (
	BonusPerLot      BonusAttribution = "lot"
	BonusAccountWide BonusAttribution = "account"
)

// MonthlyBonus computes one month of bonus for a replayed account. In
// per-lot mode each open lot earns its own attached annual rate when one
// exists, falling back to the account's monthly rate; drained lots earn
// nothing. In account-wide mode the final balance earns the account rate.
// The result is rounded once, half-even.
func MonthlyBonus(res *allocation.Result, accountMonthlyRate decimal.Decimal, mode BonusAttribution) decimal.Decimal {
	if mode == BonusAccountWide {
		return money.RoundCents(res.FinalBalance.Mul(accountMonthlyRate))
	}

	total := decimal.Zero
	for _, lot := range res.Lots {
		if !lot.Remaining.IsPositive() {
			continue
		}
		rate := accountMonthlyRate
		if lot.BonusRate != nil {
			rate = money.MonthlyFromAnnual(*lot.BonusRate)
		}
		total = total.Add(lot.Remaining.Mul(rate))
	}
	return money.RoundCents(total)
}

// Package allocation replays an account's ledger entries into a balance
// trajectory and attributes each withdrawal to deposit lots, newest lot
// first. The lot stack exists only for the duration of one Replay call;
// nothing in this package is shared between accounts or invocations.
package allocation

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mcclellann/fredYield/pkg/models"
)

// ErrInsufficientFunds reports a withdrawal that cannot be covered by the
// deposits preceding it. It aborts the whole replay: the history is either
// wrong or out of order, and the caller decides what to do with the batch.
var ErrInsufficientFunds = errors.New("insufficient funds")

// InsufficientFundsError carries the offending entry so a rejected import
// can name the exact row that failed.
type InsufficientFundsError struct {
	EntryID   uuid.UUID
	Date      time.Time
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds on %s: withdrawal of %s exceeds available %s",
		e.Date.Format("2006-01-02"), e.Requested.StringFixed(2), e.Available.StringFixed(2))
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// Lot is a deposit's remaining unconsumed amount. Lots decide withdrawal
// attribution only; the running balance never reads them.
type Lot struct {
	EntryID   uuid.UUID
	Date      time.Time
	Original  decimal.Decimal
	Remaining decimal.Decimal
	BonusRate *decimal.Decimal // annual bonus rate attached to the originating deposit, if any
}

// Allocation records how much of a withdrawal was consumed from one lot.
type Allocation struct {
	WithdrawalID uuid.UUID
	DepositID    uuid.UUID
	Amount       decimal.Decimal
}

// Step is the state after applying one entry during replay.
type Step struct {
	Entry       models.LedgerEntry
	Balance     decimal.Decimal
	Allocations []Allocation // non-empty only for withdrawals
}

// Result is a full deterministic replay of one account's entries.
type Result struct {
	Steps        []Step
	FinalBalance decimal.Decimal
	Lots         []Lot // open lots at the end of the replay, oldest first
}

// Replay computes the balance trajectory for one account's entries.
// Entries are ordered by transaction date, ties broken by Seq, so the
// same set always replays identically. Deposits and bonus credits push
// lots; withdrawals drain the most recently pushed lot with remaining
// balance before touching older ones.
func Replay(entries []models.LedgerEntry) (*Result, error) {
	ordered := make([]models.LedgerEntry, len(entries))
	copy(ordered, entries)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].TransactionDate.Equal(ordered[j].TransactionDate) {
			return ordered[i].TransactionDate.Before(ordered[j].TransactionDate)
		}
		return ordered[i].Seq < ordered[j].Seq
	})

	res := &Result{FinalBalance: decimal.Zero}
	var lots []Lot

	for _, entry := range ordered {
		step := Step{Entry: entry}

		switch entry.Kind {
		case models.EntryKindDeposit, models.EntryKindBonus:
			lots = append(lots, Lot{
				EntryID:   entry.ID,
				Date:      entry.TransactionDate,
				Original:  entry.Amount,
				Remaining: entry.Amount,
				BonusRate: entry.BonusRate,
			})
			res.FinalBalance = res.FinalBalance.Add(entry.Amount)

		case models.EntryKindWithdrawal:
			allocs, err := consume(lots, entry)
			if err != nil {
				return nil, err
			}
			step.Allocations = allocs
			res.FinalBalance = res.FinalBalance.Sub(entry.Amount)

		default:
			return nil, fmt.Errorf("unknown entry kind %q", entry.Kind)
		}

		step.Balance = res.FinalBalance
		res.Steps = append(res.Steps, step)
	}

	res.Lots = lots
	return res, nil
}

// consume drains lots from newest to oldest until the withdrawal is fully
// covered, mutating the lots' remaining amounts in place.
func consume(lots []Lot, withdrawal models.LedgerEntry) ([]Allocation, error) {
	remaining := withdrawal.Amount
	var allocs []Allocation

	for i := len(lots) - 1; i >= 0 && remaining.IsPositive(); i-- {
		if !lots[i].Remaining.IsPositive() {
			continue
		}
		take := decimal.Min(lots[i].Remaining, remaining)
		lots[i].Remaining = lots[i].Remaining.Sub(take)
		remaining = remaining.Sub(take)
		allocs = append(allocs, Allocation{
			WithdrawalID: withdrawal.ID,
			DepositID:    lots[i].EntryID,
			Amount:       take,
		})
	}

	if remaining.IsPositive() {
		return nil, &InsufficientFundsError{
			EntryID:   withdrawal.ID,
			Date:      withdrawal.TransactionDate,
			Requested: withdrawal.Amount,
			Available: withdrawal.Amount.Sub(remaining),
		}
	}
	return allocs, nil
}

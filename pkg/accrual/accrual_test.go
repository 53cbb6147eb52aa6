package accrual

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mcclellann/fredYield/pkg/allocation"
	"github.com/mcclellann/fredYield/pkg/models"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func activeDeposit(principal float64, annualRate float64, start time.Time) models.YieldDeposit {
	return models.YieldDeposit{
		ID:              uuid.New(),
		Principal:       decimal.NewFromFloat(principal),
		AnnualYieldRate: decimal.NewFromFloat(annualRate),
		StartDate:       start,
		Status:          models.YieldDepositStatusActive,
		TotalPaid:       decimal.Zero,
	}
}

func TestPendingEventsOnePerElapsedMonth(t *testing.T) {
	dep := activeDeposit(10000, 0.12, date(2025, time.January, 15))

	events := PendingEvents(dep, nil, date(2025, time.April, 20))
	if len(events) != 3 {
		t.Fatalf("Expected 3 events (Feb, Mar, Apr 15), got %d", len(events))
	}

	expected := decimal.NewFromInt(100) // 10000 * 0.12/12
	for _, ev := range events {
		if !ev.Amount.Equal(expected) {
			t.Errorf("Expected event amount 100, got %s", ev.Amount)
		}
	}
	if events[0].PeriodKey != "2025-02" || events[2].PeriodKey != "2025-04" {
		t.Errorf("Unexpected period keys: %s .. %s", events[0].PeriodKey, events[2].PeriodKey)
	}
	if !events[1].PeriodEnd.Equal(date(2025, time.March, 15)) {
		t.Errorf("Expected boundary anchored to start day, got %s", events[1].PeriodEnd)
	}
}

func TestPendingEventsSkipsAppliedPeriods(t *testing.T) {
	dep := activeDeposit(10000, 0.12, date(2025, time.January, 15))
	applied := map[string]bool{"2025-02": true, "2025-03": true}

	events := PendingEvents(dep, applied, date(2025, time.April, 20))
	if len(events) != 1 {
		t.Fatalf("Expected only the April event, got %d", len(events))
	}
	if events[0].PeriodKey != "2025-04" {
		t.Errorf("Expected 2025-04, got %s", events[0].PeriodKey)
	}
}

func TestApplyIdempotentPerPeriodKey(t *testing.T) {
	dep := activeDeposit(10000, 0.12, date(2025, time.January, 15))

	events := PendingEvents(dep, nil, date(2025, time.February, 20))
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	Apply(&dep, events)

	if !dep.TotalPaid.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Expected total paid 100, got %s", dep.TotalPaid)
	}

	// Re-running with the applied set recorded must produce nothing.
	applied := map[string]bool{events[0].PeriodKey: true}
	again := PendingEvents(dep, applied, date(2025, time.February, 20))
	if len(again) != 0 {
		t.Fatalf("Reapplying the same period must be a no-op, got %d events", len(again))
	}
	if !dep.TotalPaid.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Total paid changed on reapplication: %s", dep.TotalPaid)
	}
}

func TestApplyAdvancesPaymentCursor(t *testing.T) {
	dep := activeDeposit(5000, 0.06, date(2025, time.January, 10))

	events := PendingEvents(dep, nil, date(2025, time.March, 12))
	Apply(&dep, events)

	if dep.LastPaymentDate == nil || !dep.LastPaymentDate.Equal(date(2025, time.March, 10)) {
		t.Errorf("Expected last payment 2025-03-10, got %v", dep.LastPaymentDate)
	}
	if dep.NextPaymentDate == nil || !dep.NextPaymentDate.Equal(date(2025, time.April, 10)) {
		t.Errorf("Expected next payment 2025-04-10, got %v", dep.NextPaymentDate)
	}
}

func TestRoundingStabilityOverTwelvePeriods(t *testing.T) {
	dep := activeDeposit(10000, 0.12, date(2025, time.January, 1))

	events := PendingEvents(dep, nil, date(2026, time.January, 1))
	if len(events) != 12 {
		t.Fatalf("Expected 12 events, got %d", len(events))
	}

	total := decimal.Zero
	for _, ev := range events {
		total = total.Add(ev.Amount)
	}
	exact := decimal.NewFromInt(1200)
	if total.Sub(exact).Abs().GreaterThan(decimal.NewFromFloat(0.01)) {
		t.Errorf("Expected 12 periods to sum within one cent of 1200.00, got %s", total)
	}
}

func TestEventAmountRoundsHalfEven(t *testing.T) {
	// 1000.50 * 0.05/12 = 4.169791..., rounds to 4.17.
	dep := activeDeposit(1000.50, 0.05, date(2025, time.January, 1))
	if got := EventAmount(dep); !got.Equal(decimal.NewFromFloat(4.17)) {
		t.Errorf("Expected 4.17, got %s", got)
	}
}

func TestEndDateDiscardsLaterPeriods(t *testing.T) {
	dep := activeDeposit(10000, 0.12, date(2025, time.January, 15))
	end := date(2025, time.March, 1)
	dep.EndDate = &end

	events := PendingEvents(dep, nil, date(2025, time.December, 31))
	if len(events) != 1 {
		t.Fatalf("Expected only the February event before the end date, got %d", len(events))
	}
}

func TestMonthEndClamping(t *testing.T) {
	dep := activeDeposit(10000, 0.12, date(2025, time.January, 31))

	events := PendingEvents(dep, nil, date(2025, time.March, 31))
	if len(events) != 2 {
		t.Fatalf("Expected Feb and Mar events, got %d", len(events))
	}
	if !events[0].PeriodEnd.Equal(date(2025, time.February, 28)) {
		t.Errorf("Expected Feb boundary clamped to the 28th, got %s", events[0].PeriodEnd)
	}
	if !events[1].PeriodEnd.Equal(date(2025, time.March, 31)) {
		t.Errorf("Expected Mar boundary on the 31st, got %s", events[1].PeriodEnd)
	}
}

func TestCloseDiscardsPendingPeriod(t *testing.T) {
	dep := activeDeposit(10000, 0.12, date(2025, time.January, 15))

	if err := Close(&dep, date(2025, time.February, 10)); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if dep.Status != models.YieldDepositStatusClosed {
		t.Errorf("Expected closed status, got %s", dep.Status)
	}
	// The Feb 15 boundary falls after the end date and must not accrue.
	events := PendingEvents(dep, nil, date(2025, time.March, 1))
	if len(events) != 0 {
		t.Fatalf("Closed deposit must not accrue, got %d events", len(events))
	}
	if err := Close(&dep, date(2025, time.March, 1)); err == nil {
		t.Error("Closing an already closed deposit should fail")
	}
}

func TestMonthlyBonusPerLotVsAccountWide(t *testing.T) {
	bonusRate := decimal.NewFromFloat(0.24) // 2% monthly on this lot
	res := &allocation.Result{
		FinalBalance: decimal.NewFromInt(300),
		Lots: []allocation.Lot{
			{Remaining: decimal.NewFromInt(200)},                        // account rate
			{Remaining: decimal.NewFromInt(100), BonusRate: &bonusRate}, // own rate
			{Remaining: decimal.Zero, BonusRate: &bonusRate},            // drained, earns nothing
		},
	}
	accountMonthly := decimal.NewFromFloat(0.01)

	perLot := MonthlyBonus(res, accountMonthly, BonusPerLot)
	// 200*0.01 + 100*0.02 = 4.00
	if !perLot.Equal(decimal.NewFromInt(4)) {
		t.Errorf("Expected per-lot bonus 4.00, got %s", perLot)
	}

	wide := MonthlyBonus(res, accountMonthly, BonusAccountWide)
	if !wide.Equal(decimal.NewFromInt(3)) {
		t.Errorf("Expected account-wide bonus 3.00, got %s", wide)
	}
}

package store

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mcclellann/fredYield/pkg/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbFile := "test_" + uuid.NewString() + ".db"
	s, err := NewSQLiteStore(dbFile)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
		os.Remove(dbFile)
		os.Remove(dbFile + "-wal")
		os.Remove(dbFile + "-shm")
	})
	return s
}

func newTestAccount() *models.LoanAccount {
	return &models.LoanAccount{
		ID:            uuid.New(),
		OwnerUserRef:  "fred@example.com",
		AccountNumber: "ACCT-" + uuid.NewString()[:8],
		Principal:     decimal.NewFromInt(1000),
		Balance:       decimal.NewFromInt(1000),
		MonthlyRate:   decimal.NewFromFloat(0.01),
		Status:        models.AccountStatusActive,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
}

func batchEntry(accountID uuid.UUID, batchID *uuid.UUID, kind models.EntryKind, amount int64, date time.Time) models.LedgerEntry {
	return models.LedgerEntry{
		ID:              uuid.New(),
		AccountID:       accountID,
		Amount:          decimal.NewFromInt(amount),
		Kind:            kind,
		TransactionDate: models.DateOnly(date),
		ImportBatchID:   batchID,
		Status:          models.EntryStatusActive,
		CreatedAt:       time.Now(),
	}
}

func TestSQLiteStore_CreateAndGetAccount(t *testing.T) {
	s := newTestStore(t)

	account := newTestAccount()
	if err := s.CreateAccount(account); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}

	got, err := s.GetAccount(account.ID)
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	if !got.Balance.Equal(account.Balance) || got.AccountNumber != account.AccountNumber {
		t.Errorf("Round-trip mismatch: %+v", got)
	}

	byEmail, err := s.GetAccountByKey("fred@example.com")
	if err != nil || byEmail.ID != account.ID {
		t.Errorf("GetAccountByKey(email) failed: %v", err)
	}
	byNumber, err := s.GetAccountByKey(account.AccountNumber)
	if err != nil || byNumber.ID != account.ID {
		t.Errorf("GetAccountByKey(number) failed: %v", err)
	}

	if _, err := s.GetAccount(uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteStore_CommitBatchAndListEntries(t *testing.T) {
	s := newTestStore(t)
	account := newTestAccount()
	if err := s.CreateAccount(account); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}

	batch := &models.ImportBatch{
		ID:             uuid.New(),
		AccountID:      account.ID,
		SourceIdentity: "sheet-2025.xlsx|Sheet1|fred@example.com",
		Status:         models.BatchStatusActive,
		EntryCount:     2,
		CreatedAt:      time.Now(),
	}
	day1 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	entries := []models.LedgerEntry{
		batchEntry(account.ID, &batch.ID, models.EntryKindDeposit, 100, day1),
		batchEntry(account.ID, &batch.ID, models.EntryKindWithdrawal, 40, day1.AddDate(0, 0, 1)),
	}

	if err := s.CommitBatch(nil, batch, entries, decimal.NewFromInt(60)); err != nil {
		t.Fatalf("CommitBatch failed: %v", err)
	}

	listed, err := s.ListEntries(account.ID)
	if err != nil {
		t.Fatalf("ListEntries failed: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(listed))
	}
	if listed[0].Seq >= listed[1].Seq {
		t.Errorf("Seq must be increasing: %d, %d", listed[0].Seq, listed[1].Seq)
	}

	got, _ := s.GetAccount(account.ID)
	if !got.Balance.Equal(decimal.NewFromInt(60)) {
		t.Errorf("Expected balance 60 after commit, got %s", got.Balance)
	}

	active, err := s.ActiveBatch(account.ID, batch.SourceIdentity)
	if err != nil || active.ID != batch.ID {
		t.Fatalf("ActiveBatch failed: %v", err)
	}
}

func TestSQLiteStore_CommitBatchReplacesPrior(t *testing.T) {
	s := newTestStore(t)
	account := newTestAccount()
	if err := s.CreateAccount(account); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}

	source := "upload.xlsx|Sheet1"
	day1 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	first := &models.ImportBatch{ID: uuid.New(), AccountID: account.ID, SourceIdentity: source,
		Status: models.BatchStatusActive, EntryCount: 1, CreatedAt: time.Now()}
	if err := s.CommitBatch(nil, first, []models.LedgerEntry{
		batchEntry(account.ID, &first.ID, models.EntryKindDeposit, 100, day1),
	}, decimal.NewFromInt(100)); err != nil {
		t.Fatalf("First commit failed: %v", err)
	}

	second := &models.ImportBatch{ID: uuid.New(), AccountID: account.ID, SourceIdentity: source,
		Status: models.BatchStatusActive, EntryCount: 2, CreatedAt: time.Now()}
	if err := s.CommitBatch(first, second, []models.LedgerEntry{
		batchEntry(account.ID, &second.ID, models.EntryKindDeposit, 100, day1),
		batchEntry(account.ID, &second.ID, models.EntryKindDeposit, 50, day1.AddDate(0, 0, 1)),
	}, decimal.NewFromInt(150)); err != nil {
		t.Fatalf("Replacement commit failed: %v", err)
	}

	// Only the second batch's entries remain active.
	listed, err := s.ListEntries(account.ID)
	if err != nil {
		t.Fatalf("ListEntries failed: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("Expected 2 active entries after replacement, got %d", len(listed))
	}
	for _, e := range listed {
		if *e.ImportBatchID != second.ID {
			t.Errorf("Active entry belongs to the superseded batch: %s", e.ID)
		}
	}

	active, err := s.ActiveBatch(account.ID, source)
	if err != nil || active.ID != second.ID {
		t.Fatalf("Expected second batch active, got %v (%v)", active, err)
	}
}

func TestSQLiteStore_CommitBatchRaceLost(t *testing.T) {
	s := newTestStore(t)
	account := newTestAccount()
	if err := s.CreateAccount(account); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}

	source := "upload.xlsx|Sheet1"
	day1 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	first := &models.ImportBatch{ID: uuid.New(), AccountID: account.ID, SourceIdentity: source,
		Status: models.BatchStatusActive, EntryCount: 1, CreatedAt: time.Now()}
	if err := s.CommitBatch(nil, first, []models.LedgerEntry{
		batchEntry(account.ID, &first.ID, models.EntryKindDeposit, 100, day1),
	}, decimal.NewFromInt(100)); err != nil {
		t.Fatalf("First commit failed: %v", err)
	}

	// A competing reconciler replaces first; our caller still holds first.
	winner := &models.ImportBatch{ID: uuid.New(), AccountID: account.ID, SourceIdentity: source,
		Status: models.BatchStatusActive, EntryCount: 1, CreatedAt: time.Now()}
	if err := s.CommitBatch(first, winner, []models.LedgerEntry{
		batchEntry(account.ID, &winner.ID, models.EntryKindDeposit, 200, day1),
	}, decimal.NewFromInt(200)); err != nil {
		t.Fatalf("Winner commit failed: %v", err)
	}

	loser := &models.ImportBatch{ID: uuid.New(), AccountID: account.ID, SourceIdentity: source,
		Status: models.BatchStatusActive, EntryCount: 1, CreatedAt: time.Now()}
	err := s.CommitBatch(first, loser, []models.LedgerEntry{
		batchEntry(account.ID, &loser.ID, models.EntryKindDeposit, 300, day1),
	}, decimal.NewFromInt(300))
	if !errors.Is(err, ErrReplacementRaceLost) {
		t.Fatalf("Expected ErrReplacementRaceLost, got %v", err)
	}

	// The winner's entries are intact; the loser committed nothing.
	listed, _ := s.ListEntries(account.ID)
	if len(listed) != 1 || !listed[0].Amount.Equal(decimal.NewFromInt(200)) {
		t.Errorf("Expected only the winner's entry, got %+v", listed)
	}
}

func TestSQLiteStore_CommitBatchWithoutReplaceConflicts(t *testing.T) {
	s := newTestStore(t)
	account := newTestAccount()
	if err := s.CreateAccount(account); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}

	source := "upload.xlsx|Sheet1"
	day1 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	first := &models.ImportBatch{ID: uuid.New(), AccountID: account.ID, SourceIdentity: source,
		Status: models.BatchStatusActive, EntryCount: 1, CreatedAt: time.Now()}
	if err := s.CommitBatch(nil, first, []models.LedgerEntry{
		batchEntry(account.ID, &first.ID, models.EntryKindDeposit, 100, day1),
	}, decimal.NewFromInt(100)); err != nil {
		t.Fatalf("First commit failed: %v", err)
	}

	// Inserting a second active batch for the same source without
	// replacing the first must lose to the partial unique index.
	dup := &models.ImportBatch{ID: uuid.New(), AccountID: account.ID, SourceIdentity: source,
		Status: models.BatchStatusActive, EntryCount: 0, CreatedAt: time.Now()}
	err := s.CommitBatch(nil, dup, nil, decimal.NewFromInt(100))
	if !errors.Is(err, ErrReplacementRaceLost) {
		t.Fatalf("Expected ErrReplacementRaceLost, got %v", err)
	}
}

func TestSQLiteStore_ManualEntrySeq(t *testing.T) {
	s := newTestStore(t)
	account := newTestAccount()
	if err := s.CreateAccount(account); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}

	day1 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	e1 := batchEntry(account.ID, nil, models.EntryKindDeposit, 10, day1)
	e2 := batchEntry(account.ID, nil, models.EntryKindDeposit, 20, day1)
	if err := s.CreateEntry(&e1); err != nil {
		t.Fatalf("CreateEntry failed: %v", err)
	}
	if err := s.CreateEntry(&e2); err != nil {
		t.Fatalf("CreateEntry failed: %v", err)
	}
	if e2.Seq != e1.Seq+1 {
		t.Errorf("Expected consecutive seqs, got %d and %d", e1.Seq, e2.Seq)
	}
}

func TestSQLiteStore_YieldDepositRoundTripAndAccrual(t *testing.T) {
	s := newTestStore(t)

	dep := &models.YieldDeposit{
		ID:              uuid.New(),
		OwnerUserRef:    "fred@example.com",
		Principal:       decimal.NewFromInt(10000),
		AnnualYieldRate: decimal.NewFromFloat(0.12),
		StartDate:       time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC),
		Status:          models.YieldDepositStatusActive,
		TotalPaid:       decimal.Zero,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}
	if err := s.CreateYieldDeposit(dep); err != nil {
		t.Fatalf("CreateYieldDeposit failed: %v", err)
	}

	got, err := s.GetYieldDeposit(dep.ID)
	if err != nil {
		t.Fatalf("GetYieldDeposit failed: %v", err)
	}
	if !got.Principal.Equal(dep.Principal) || got.Status != models.YieldDepositStatusActive {
		t.Errorf("Round-trip mismatch: %+v", got)
	}

	ev := models.AccrualEvent{
		ID:        uuid.New(),
		DepositID: dep.ID,
		PeriodKey: "2025-02",
		PeriodEnd: time.Date(2025, 2, 15, 0, 0, 0, 0, time.UTC),
		Amount:    decimal.NewFromInt(100),
		AppliedAt: time.Now(),
	}
	dep.TotalPaid = decimal.NewFromInt(100)
	if err := s.SaveAccrual(dep, []models.AccrualEvent{ev}); err != nil {
		t.Fatalf("SaveAccrual failed: %v", err)
	}

	applied, err := s.AppliedPeriodKeys(dep.ID)
	if err != nil || !applied["2025-02"] {
		t.Fatalf("Expected 2025-02 applied, got %v (%v)", applied, err)
	}

	// Same period again must hit the unique constraint, and the deposit
	// update in the same transaction must roll back with it.
	dep.TotalPaid = decimal.NewFromInt(200)
	dup := ev
	dup.ID = uuid.New()
	err = s.SaveAccrual(dep, []models.AccrualEvent{dup})
	if !errors.Is(err, ErrDuplicatePeriod) {
		t.Fatalf("Expected ErrDuplicatePeriod, got %v", err)
	}
	fresh, _ := s.GetYieldDeposit(dep.ID)
	if !fresh.TotalPaid.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Duplicate accrual must not change total paid, got %s", fresh.TotalPaid)
	}

	events, err := s.ListAccrualEvents(dep.ID)
	if err != nil || len(events) != 1 {
		t.Fatalf("Expected 1 accrual event, got %d (%v)", len(events), err)
	}
}

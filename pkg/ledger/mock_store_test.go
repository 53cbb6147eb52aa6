package ledger

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mcclellann/fredYield/pkg/models"
	"github.com/mcclellann/fredYield/pkg/store"
)

// MockStore is an in-memory Storage implementation for testing. It
// enforces the same compare-and-set semantics on CommitBatch as the
// SQLite store so race behavior can be tested without a database.
type MockStore struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*models.LoanAccount
	entries  []models.LedgerEntry
	batches  map[uuid.UUID]*models.ImportBatch
	deposits map[uuid.UUID]*models.YieldDeposit
	accruals []models.AccrualEvent
	seq      map[uuid.UUID]int64
}

func NewMockStore() *MockStore {
	return &MockStore{
		accounts: make(map[uuid.UUID]*models.LoanAccount),
		batches:  make(map[uuid.UUID]*models.ImportBatch),
		deposits: make(map[uuid.UUID]*models.YieldDeposit),
		seq:      make(map[uuid.UUID]int64),
	}
}

func (m *MockStore) CreateAccount(account *models.LoanAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *account
	m.accounts[account.ID] = &cp
	return nil
}

func (m *MockStore) GetAccount(id uuid.UUID) (*models.LoanAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *account
	return &cp, nil
}

func (m *MockStore) GetAccountByKey(key string) (*models.LoanAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, account := range m.accounts {
		if account.OwnerUserRef == key || account.AccountNumber == key {
			cp := *account
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *MockStore) UpdateAccount(account *models.LoanAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[account.ID]; !ok {
		return store.ErrNotFound
	}
	cp := *account
	m.accounts[account.ID] = &cp
	return nil
}

func (m *MockStore) ListAccounts() ([]*models.LoanAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	accounts := []*models.LoanAccount{}
	for _, account := range m.accounts {
		cp := *account
		accounts = append(accounts, &cp)
	}
	return accounts, nil
}

func (m *MockStore) CreateEntry(entry *models.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq[entry.AccountID]++
	entry.Seq = m.seq[entry.AccountID]
	m.entries = append(m.entries, *entry)
	return nil
}

func (m *MockStore) ListEntries(accountID uuid.UUID) ([]models.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var entries []models.LedgerEntry
	for _, entry := range m.entries {
		if entry.AccountID == accountID && entry.Status == models.EntryStatusActive {
			entries = append(entries, entry)
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].TransactionDate.Equal(entries[j].TransactionDate) {
			return entries[i].TransactionDate.Before(entries[j].TransactionDate)
		}
		return entries[i].Seq < entries[j].Seq
	})
	return entries, nil
}

func (m *MockStore) ActiveBatch(accountID uuid.UUID, sourceIdentity string) (*models.ImportBatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeBatchLocked(accountID, sourceIdentity)
}

func (m *MockStore) activeBatchLocked(accountID uuid.UUID, sourceIdentity string) (*models.ImportBatch, error) {
	for _, batch := range m.batches {
		if batch.AccountID == accountID && batch.SourceIdentity == sourceIdentity && batch.Status == models.BatchStatusActive {
			cp := *batch
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *MockStore) CommitBatch(replace *models.ImportBatch, batch *models.ImportBatch, entries []models.LedgerEntry, newBalance decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if replace != nil {
		prior, ok := m.batches[replace.ID]
		if !ok || prior.Status != models.BatchStatusActive {
			return store.ErrReplacementRaceLost
		}
		prior.Status = models.BatchStatusSuperseded
		for i := range m.entries {
			if m.entries[i].ImportBatchID != nil && *m.entries[i].ImportBatchID == prior.ID {
				m.entries[i].Status = models.EntryStatusRemoved
			}
		}
	}
	if _, err := m.activeBatchLocked(batch.AccountID, batch.SourceIdentity); err == nil {
		return store.ErrReplacementRaceLost
	}

	cp := *batch
	m.batches[batch.ID] = &cp
	for i := range entries {
		m.seq[batch.AccountID]++
		entries[i].Seq = m.seq[batch.AccountID]
		m.entries = append(m.entries, entries[i])
	}
	if account, ok := m.accounts[batch.AccountID]; ok {
		account.Balance = newBalance
	}
	return nil
}

func (m *MockStore) CreateYieldDeposit(dep *models.YieldDeposit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *dep
	m.deposits[dep.ID] = &cp
	return nil
}

func (m *MockStore) GetYieldDeposit(id uuid.UUID) (*models.YieldDeposit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dep, ok := m.deposits[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *dep
	return &cp, nil
}

func (m *MockStore) ListYieldDeposits(ownerRef string) ([]*models.YieldDeposit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	deps := []*models.YieldDeposit{}
	for _, dep := range m.deposits {
		if ownerRef == "" || dep.OwnerUserRef == ownerRef {
			cp := *dep
			deps = append(deps, &cp)
		}
	}
	return deps, nil
}

func (m *MockStore) UpdateYieldDeposit(dep *models.YieldDeposit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.deposits[dep.ID]; !ok {
		return store.ErrNotFound
	}
	cp := *dep
	m.deposits[dep.ID] = &cp
	return nil
}

func (m *MockStore) AppliedPeriodKeys(depositID uuid.UUID) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	applied := make(map[string]bool)
	for _, ev := range m.accruals {
		if ev.DepositID == depositID {
			applied[ev.PeriodKey] = true
		}
	}
	return applied, nil
}

func (m *MockStore) SaveAccrual(dep *models.YieldDeposit, events []models.AccrualEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ev := range events {
		for _, existing := range m.accruals {
			if existing.DepositID == ev.DepositID && existing.PeriodKey == ev.PeriodKey {
				return store.ErrDuplicatePeriod
			}
		}
	}
	m.accruals = append(m.accruals, events...)
	cp := *dep
	m.deposits[dep.ID] = &cp
	return nil
}

func (m *MockStore) ListAccrualEvents(depositID uuid.UUID) ([]models.AccrualEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var events []models.AccrualEvent
	for _, ev := range m.accruals {
		if ev.DepositID == depositID {
			events = append(events, ev)
		}
	}
	return events, nil
}

func (m *MockStore) Close() error { return nil }

package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mcclellann/fredYield/pkg/models"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore manages the database connection and operations for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLiteStore and initializes the database.
func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	// Manually enable foreign keys and WAL mode
	if _, err = db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err = db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	return s, nil
}

// initSchema creates the tables if they don't already exist.
// We use TEXT for decimal fields in SQLite to ensure no precision is lost.
// The partial unique index on import_batches is what enforces "at most one
// active batch per (account, source identity)" even under concurrent commits.
func (s *SQLiteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		owner_user_ref TEXT NOT NULL,
		owner_name TEXT NOT NULL DEFAULT '',
		owner_phone TEXT NOT NULL DEFAULT '',
		account_number TEXT NOT NULL UNIQUE,
		principal TEXT NOT NULL,
		balance TEXT NOT NULL,
		monthly_rate TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS import_batches (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		source_identity TEXT NOT NULL,
		status TEXT NOT NULL,
		entry_count INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		FOREIGN KEY(account_id) REFERENCES accounts(id)
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_import_batches_active
		ON import_batches(account_id, source_identity) WHERE status = 'active';
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		kind TEXT NOT NULL,
		transaction_date DATETIME NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		bonus_rate TEXT,
		import_batch_id TEXT,
		seq INTEGER NOT NULL,
		status TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY(account_id) REFERENCES accounts(id),
		FOREIGN KEY(import_batch_id) REFERENCES import_batches(id)
	);
	CREATE TABLE IF NOT EXISTS yield_deposits (
		id TEXT PRIMARY KEY,
		owner_user_ref TEXT NOT NULL,
		principal TEXT NOT NULL,
		annual_yield_rate TEXT NOT NULL,
		start_date DATETIME NOT NULL,
		end_date DATETIME,
		status TEXT NOT NULL,
		total_paid TEXT NOT NULL DEFAULT '0',
		last_payment_date DATETIME,
		next_payment_date DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS accrual_events (
		id TEXT PRIMARY KEY,
		deposit_id TEXT NOT NULL,
		period_key TEXT NOT NULL,
		period_end DATETIME NOT NULL,
		amount TEXT NOT NULL,
		applied_at DATETIME NOT NULL,
		UNIQUE(deposit_id, period_key),
		FOREIGN KEY(deposit_id) REFERENCES yield_deposits(id)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// isUniqueViolation checks if the error indicates a unique constraint hit.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// CreateAccount inserts a new account into the database.
func (s *SQLiteStore) CreateAccount(account *models.LoanAccount) error {
	_, err := s.db.Exec(
		`INSERT INTO accounts (id, owner_user_ref, owner_name, owner_phone, account_number, principal, balance, monthly_rate, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		account.ID.String(), account.OwnerUserRef, account.OwnerName, account.OwnerPhone, account.AccountNumber,
		account.Principal, account.Balance, account.MonthlyRate, account.Status, account.CreatedAt, account.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

const accountColumns = `id, owner_user_ref, owner_name, owner_phone, account_number, principal, balance, monthly_rate, status, created_at, updated_at`

func scanAccount(row interface{ Scan(...any) error }) (*models.LoanAccount, error) {
	var account models.LoanAccount
	var idStr string
	err := row.Scan(&idStr, &account.OwnerUserRef, &account.OwnerName, &account.OwnerPhone, &account.AccountNumber,
		&account.Principal, &account.Balance, &account.MonthlyRate, &account.Status, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		return nil, err
	}
	account.ID = uuid.MustParse(idStr)
	return &account, nil
}

// GetAccount retrieves an account by its ID.
func (s *SQLiteStore) GetAccount(id uuid.UUID) (*models.LoanAccount, error) {
	row := s.db.QueryRow(`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id.String())
	account, err := scanAccount(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

// GetAccountByKey retrieves an account by owner email or account number.
func (s *SQLiteStore) GetAccountByKey(key string) (*models.LoanAccount, error) {
	row := s.db.QueryRow(`SELECT `+accountColumns+` FROM accounts WHERE owner_user_ref = ? OR account_number = ?`, key, key)
	account, err := scanAccount(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get account by key: %w", err)
	}
	return account, nil
}

// UpdateAccount updates an existing account in the database.
func (s *SQLiteStore) UpdateAccount(account *models.LoanAccount) error {
	result, err := s.db.Exec(
		`UPDATE accounts SET owner_user_ref = ?, owner_name = ?, owner_phone = ?, account_number = ?, principal = ?, balance = ?, monthly_rate = ?, status = ?, updated_at = ? WHERE id = ?`,
		account.OwnerUserRef, account.OwnerName, account.OwnerPhone, account.AccountNumber,
		account.Principal, account.Balance, account.MonthlyRate, account.Status, account.UpdatedAt, account.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListAccounts retrieves all accounts.
func (s *SQLiteStore) ListAccounts() ([]*models.LoanAccount, error) {
	rows, err := s.db.Query(`SELECT ` + accountColumns + ` FROM accounts ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*models.LoanAccount
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account row: %w", err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return accounts, nil
}

// nextSeq returns the next per-account entry sequence number within tx.
func nextSeq(tx *sql.Tx, accountID uuid.UUID) (int64, error) {
	var max int64
	err := tx.QueryRow(`SELECT COALESCE(MAX(seq), 0) FROM ledger_entries WHERE account_id = ?`, accountID.String()).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("failed to read max seq: %w", err)
	}
	return max + 1, nil
}

func insertEntry(tx *sql.Tx, entry *models.LedgerEntry) error {
	var bonusRate any
	if entry.BonusRate != nil {
		bonusRate = entry.BonusRate.String()
	}
	var batchID any
	if entry.ImportBatchID != nil {
		batchID = entry.ImportBatchID.String()
	}
	_, err := tx.Exec(
		`INSERT INTO ledger_entries (id, account_id, amount, kind, transaction_date, description, bonus_rate, import_batch_id, seq, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID.String(), entry.AccountID.String(), entry.Amount, entry.Kind, entry.TransactionDate,
		entry.Description, bonusRate, batchID, entry.Seq, entry.Status, entry.CreatedAt,
	)
	return err
}

// CreateEntry persists one manually recorded entry, assigning its Seq.
func (s *SQLiteStore) CreateEntry(entry *models.LedgerEntry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	seq, err := nextSeq(tx, entry.AccountID)
	if err != nil {
		return err
	}
	entry.Seq = seq
	if err := insertEntry(tx, entry); err != nil {
		return fmt.Errorf("failed to create entry: %w", err)
	}
	return tx.Commit()
}

// ListEntries returns the account's active entries ordered by date then seq.
func (s *SQLiteStore) ListEntries(accountID uuid.UUID) ([]models.LedgerEntry, error) {
	rows, err := s.db.Query(
		`SELECT id, account_id, amount, kind, transaction_date, description, bonus_rate, import_batch_id, seq, status, created_at
		FROM ledger_entries WHERE account_id = ? AND status = 'active'
		ORDER BY transaction_date ASC, seq ASC`, accountID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list entries for account %s: %w", accountID, err)
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		var entry models.LedgerEntry
		var idStr, accountIDStr string
		var bonusRate, batchIDStr sql.NullString
		if err := rows.Scan(&idStr, &accountIDStr, &entry.Amount, &entry.Kind, &entry.TransactionDate,
			&entry.Description, &bonusRate, &batchIDStr, &entry.Seq, &entry.Status, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan entry row: %w", err)
		}
		entry.ID = uuid.MustParse(idStr)
		entry.AccountID = uuid.MustParse(accountIDStr)
		if bonusRate.Valid {
			rate, err := decimal.NewFromString(bonusRate.String)
			if err != nil {
				return nil, fmt.Errorf("corrupt bonus rate %q: %w", bonusRate.String, err)
			}
			entry.BonusRate = &rate
		}
		if batchIDStr.Valid {
			batchID := uuid.MustParse(batchIDStr.String)
			entry.ImportBatchID = &batchID
		}
		entry.TransactionDate = models.DateOnly(entry.TransactionDate)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return entries, nil
}

// ActiveBatch returns the active batch for (account, source identity).
func (s *SQLiteStore) ActiveBatch(accountID uuid.UUID, sourceIdentity string) (*models.ImportBatch, error) {
	row := s.db.QueryRow(
		`SELECT id, account_id, source_identity, status, entry_count, created_at
		FROM import_batches WHERE account_id = ? AND source_identity = ? AND status = 'active'`,
		accountID.String(), sourceIdentity)

	var batch models.ImportBatch
	var idStr, accountIDStr string
	err := row.Scan(&idStr, &accountIDStr, &batch.SourceIdentity, &batch.Status, &batch.EntryCount, &batch.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get active batch: %w", err)
	}
	batch.ID = uuid.MustParse(idStr)
	batch.AccountID = uuid.MustParse(accountIDStr)
	return &batch, nil
}

// CommitBatch performs the replace-then-insert step as one transaction:
// supersede the old batch (if any), mark its entries removed, insert the
// new batch and entries, refresh the account balance. The compare-and-set
// on the old batch's status plus the partial unique index make a lost
// concurrent race surface as ErrReplacementRaceLost instead of a corrupt
// ledger.
func (s *SQLiteStore) CommitBatch(replace *models.ImportBatch, batch *models.ImportBatch, entries []models.LedgerEntry, newBalance decimal.Decimal) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if replace != nil {
		result, err := tx.Exec(`UPDATE import_batches SET status = 'superseded' WHERE id = ? AND status = 'active'`, replace.ID.String())
		if err != nil {
			return fmt.Errorf("failed to supersede batch %s: %w", replace.ID, err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return ErrReplacementRaceLost
		}
		if _, err := tx.Exec(`UPDATE ledger_entries SET status = 'removed' WHERE import_batch_id = ?`, replace.ID.String()); err != nil {
			return fmt.Errorf("failed to remove entries of batch %s: %w", replace.ID, err)
		}
	}

	_, err = tx.Exec(
		`INSERT INTO import_batches (id, account_id, source_identity, status, entry_count, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		batch.ID.String(), batch.AccountID.String(), batch.SourceIdentity, batch.Status, batch.EntryCount, batch.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrReplacementRaceLost
		}
		return fmt.Errorf("failed to insert batch: %w", err)
	}

	seq, err := nextSeq(tx, batch.AccountID)
	if err != nil {
		return err
	}
	for i := range entries {
		entries[i].Seq = seq
		seq++
		if err := insertEntry(tx, &entries[i]); err != nil {
			return fmt.Errorf("failed to insert entry %d: %w", i, err)
		}
	}

	if _, err := tx.Exec(`UPDATE accounts SET balance = ?, updated_at = ? WHERE id = ?`,
		newBalance, time.Now(), batch.AccountID.String()); err != nil {
		return fmt.Errorf("failed to update account balance: %w", err)
	}

	return tx.Commit()
}

// CreateYieldDeposit inserts a new yield deposit.
func (s *SQLiteStore) CreateYieldDeposit(dep *models.YieldDeposit) error {
	_, err := s.db.Exec(
		`INSERT INTO yield_deposits (id, owner_user_ref, principal, annual_yield_rate, start_date, end_date, status, total_paid, last_payment_date, next_payment_date, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		dep.ID.String(), dep.OwnerUserRef, dep.Principal, dep.AnnualYieldRate, dep.StartDate, dep.EndDate,
		dep.Status, dep.TotalPaid, dep.LastPaymentDate, dep.NextPaymentDate, dep.CreatedAt, dep.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create yield deposit: %w", err)
	}
	return nil
}

const depositColumns = `id, owner_user_ref, principal, annual_yield_rate, start_date, end_date, status, total_paid, last_payment_date, next_payment_date, created_at, updated_at`

func scanDeposit(row interface{ Scan(...any) error }) (*models.YieldDeposit, error) {
	var dep models.YieldDeposit
	var idStr string
	var endDate, lastPayment, nextPayment sql.NullTime
	err := row.Scan(&idStr, &dep.OwnerUserRef, &dep.Principal, &dep.AnnualYieldRate, &dep.StartDate,
		&endDate, &dep.Status, &dep.TotalPaid, &lastPayment, &nextPayment, &dep.CreatedAt, &dep.UpdatedAt)
	if err != nil {
		return nil, err
	}
	dep.ID = uuid.MustParse(idStr)
	dep.StartDate = models.DateOnly(dep.StartDate)
	if endDate.Valid {
		d := models.DateOnly(endDate.Time)
		dep.EndDate = &d
	}
	if lastPayment.Valid {
		d := models.DateOnly(lastPayment.Time)
		dep.LastPaymentDate = &d
	}
	if nextPayment.Valid {
		d := models.DateOnly(nextPayment.Time)
		dep.NextPaymentDate = &d
	}
	return &dep, nil
}

// GetYieldDeposit retrieves a yield deposit by its ID.
func (s *SQLiteStore) GetYieldDeposit(id uuid.UUID) (*models.YieldDeposit, error) {
	row := s.db.QueryRow(`SELECT `+depositColumns+` FROM yield_deposits WHERE id = ?`, id.String())
	dep, err := scanDeposit(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get yield deposit: %w", err)
	}
	return dep, nil
}

// ListYieldDeposits retrieves an owner's deposits, or every deposit when
// ownerRef is empty.
func (s *SQLiteStore) ListYieldDeposits(ownerRef string) ([]*models.YieldDeposit, error) {
	rows, err := s.db.Query(`SELECT `+depositColumns+` FROM yield_deposits WHERE owner_user_ref = ? OR ? = '' ORDER BY created_at`, ownerRef, ownerRef)
	if err != nil {
		return nil, fmt.Errorf("failed to list yield deposits: %w", err)
	}
	defer rows.Close()

	var deps []*models.YieldDeposit
	for rows.Next() {
		dep, err := scanDeposit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan yield deposit row: %w", err)
		}
		deps = append(deps, dep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return deps, nil
}

// UpdateYieldDeposit updates an existing yield deposit.
func (s *SQLiteStore) UpdateYieldDeposit(dep *models.YieldDeposit) error {
	result, err := s.db.Exec(
		`UPDATE yield_deposits SET principal = ?, annual_yield_rate = ?, start_date = ?, end_date = ?, status = ?, total_paid = ?, last_payment_date = ?, next_payment_date = ?, updated_at = ? WHERE id = ?`,
		dep.Principal, dep.AnnualYieldRate, dep.StartDate, dep.EndDate, dep.Status, dep.TotalPaid,
		dep.LastPaymentDate, dep.NextPaymentDate, dep.UpdatedAt, dep.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update yield deposit: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// AppliedPeriodKeys returns the period keys already accrued for a deposit.
func (s *SQLiteStore) AppliedPeriodKeys(depositID uuid.UUID) (map[string]bool, error) {
	rows, err := s.db.Query(`SELECT period_key FROM accrual_events WHERE deposit_id = ?`, depositID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to load applied periods: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan period key: %w", err)
		}
		applied[key] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return applied, nil
}

// SaveAccrual persists accrual events and the updated deposit atomically.
// The unique (deposit_id, period_key) constraint is the final guard
// against double-crediting a period.
func (s *SQLiteStore) SaveAccrual(dep *models.YieldDeposit, events []models.AccrualEvent) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, ev := range events {
		_, err := tx.Exec(
			`INSERT INTO accrual_events (id, deposit_id, period_key, period_end, amount, applied_at) VALUES (?, ?, ?, ?, ?, ?)`,
			ev.ID.String(), ev.DepositID.String(), ev.PeriodKey, ev.PeriodEnd, ev.Amount, ev.AppliedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("period %s for deposit %s: %w", ev.PeriodKey, ev.DepositID, ErrDuplicatePeriod)
			}
			return fmt.Errorf("failed to insert accrual event: %w", err)
		}
	}

	if _, err := tx.Exec(
		`UPDATE yield_deposits SET total_paid = ?, last_payment_date = ?, next_payment_date = ?, updated_at = ? WHERE id = ?`,
		dep.TotalPaid, dep.LastPaymentDate, dep.NextPaymentDate, dep.UpdatedAt, dep.ID.String(),
	); err != nil {
		return fmt.Errorf("failed to update yield deposit: %w", err)
	}

	return tx.Commit()
}

// ListAccrualEvents retrieves all events for a deposit in period order.
func (s *SQLiteStore) ListAccrualEvents(depositID uuid.UUID) ([]models.AccrualEvent, error) {
	rows, err := s.db.Query(
		`SELECT id, deposit_id, period_key, period_end, amount, applied_at FROM accrual_events WHERE deposit_id = ? ORDER BY period_end ASC`,
		depositID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list accrual events: %w", err)
	}
	defer rows.Close()

	var events []models.AccrualEvent
	for rows.Next() {
		var ev models.AccrualEvent
		var idStr, depositIDStr string
		if err := rows.Scan(&idStr, &depositIDStr, &ev.PeriodKey, &ev.PeriodEnd, &ev.Amount, &ev.AppliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan accrual event row: %w", err)
		}
		ev.ID = uuid.MustParse(idStr)
		ev.DepositID = uuid.MustParse(depositIDStr)
		ev.PeriodEnd = models.DateOnly(ev.PeriodEnd)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return events, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

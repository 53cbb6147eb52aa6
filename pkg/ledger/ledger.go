// Package ledger is the engine tying the pieces together: it resolves
// accounts, reconciles import batches, applies yield accrual and serves
// read-side projections. It owns no threads; callers invoke it from
// request handlers and all mutation is serialized per account.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/mcclellann/fredYield/pkg/accrual"
	"github.com/mcclellann/fredYield/pkg/allocation"
	"github.com/mcclellann/fredYield/pkg/models"
	"github.com/mcclellann/fredYield/pkg/normalize"
	"github.com/mcclellann/fredYield/pkg/store"
)

// Engine handles the business logic for accounts, imports and accrual.
type Engine struct {
	storage    store.Storage
	log        zerolog.Logger
	autoCreate bool
	bonusMode  accrual.BonusAttribution
	normalizer *normalize.Normalizer
	nopts      normalizerOpts

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(log zerolog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithAutoCreate controls whether unknown account keys that look like
// email addresses create accounts during normalization.
func WithAutoCreate(enabled bool) Option {
	return func(e *Engine) { e.autoCreate = enabled }
}

// WithBonusAttribution selects per-lot or account-wide bonus attribution.
func WithBonusAttribution(mode accrual.BonusAttribution) Option {
	return func(e *Engine) { e.bonusMode = mode }
}

// normalizerOpts carries options through to the embedded normalizer.
type normalizerOpts struct{ opts []normalize.Option }

// WithFutureTolerance sets the normalizer's future-date tolerance in days.
func WithFutureTolerance(days int) Option {
	return func(e *Engine) { e.nopts.opts = append(e.nopts.opts, normalize.WithFutureTolerance(days)) }
}

// NewEngine creates an Engine over the given Storage implementation.
func NewEngine(s store.Storage, opts ...Option) *Engine {
	e := &Engine{
		storage:   s,
		log:       zerolog.Nop(),
		bonusMode: accrual.BonusPerLot,
		locks:     make(map[uuid.UUID]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.normalizer = normalize.New(e, e.nopts.opts...)
	return e
}

// lock serializes mutation per account (or per yield deposit). The
// returned func releases it.
func (e *Engine) lock(id uuid.UUID) func() {
	e.mu.Lock()
	m, ok := e.locks[id]
	if !ok {
		m = &sync.Mutex{}
		e.locks[id] = m
	}
	e.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// ResolveOrCreate implements normalize.AccountResolver. An unknown key
// creates an account only when auto-creation is enabled and the key is an
// email address, i.e. the row carried real identity data.
func (e *Engine) ResolveOrCreate(ctx context.Context, key, name, phone string) (*models.LoanAccount, error) {
	account, err := e.storage.GetAccountByKey(key)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("account lookup for %q: %w", key, err)
	}
	if !e.autoCreate || !strings.Contains(key, "@") {
		return nil, normalize.ErrAccountNotFound
	}

	now := time.Now()
	account = &models.LoanAccount{
		ID:            uuid.New(),
		OwnerUserRef:  key,
		OwnerName:     name,
		OwnerPhone:    phone,
		AccountNumber: "FY-" + strings.ToUpper(uuid.NewString()[:8]),
		Principal:     decimal.Zero,
		Balance:       decimal.Zero,
		MonthlyRate:   decimal.Zero,
		Status:        models.AccountStatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.storage.CreateAccount(account); err != nil {
		return nil, fmt.Errorf("failed to auto-create account for %q: %w", key, err)
	}
	e.log.Info().Str("account", account.AccountNumber).Str("owner", key).Msg("account auto-created")
	return account, nil
}

// CreateAccount explicitly creates an account. A non-zero principal is
// recorded as an opening deposit entry so the balance stays derivable
// from the ledger alone.
func (e *Engine) CreateAccount(ctx context.Context, ownerRef, name, phone string, principal, monthlyRate decimal.Decimal) (*models.LoanAccount, error) {
	if principal.IsNegative() {
		return nil, fmt.Errorf("principal must not be negative, got %s", principal)
	}
	now := time.Now()
	account := &models.LoanAccount{
		ID:            uuid.New(),
		OwnerUserRef:  ownerRef,
		OwnerName:     name,
		OwnerPhone:    phone,
		AccountNumber: "FY-" + strings.ToUpper(uuid.NewString()[:8]),
		Principal:     principal,
		Balance:       principal,
		MonthlyRate:   monthlyRate,
		Status:        models.AccountStatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.storage.CreateAccount(account); err != nil {
		return nil, fmt.Errorf("failed to store account: %w", err)
	}

	if principal.IsPositive() {
		opening := models.LedgerEntry{
			ID:              uuid.New(),
			AccountID:       account.ID,
			Amount:          principal,
			Kind:            models.EntryKindDeposit,
			TransactionDate: models.DateOnly(now),
			Description:     "opening principal",
			Status:          models.EntryStatusActive,
			CreatedAt:       now,
		}
		if err := e.storage.CreateEntry(&opening); err != nil {
			return nil, fmt.Errorf("failed to store opening entry: %w", err)
		}
	}
	return account, nil
}

// GetAccount retrieves an account by its ID.
func (e *Engine) GetAccount(ctx context.Context, id uuid.UUID) (*models.LoanAccount, error) {
	return e.storage.GetAccount(id)
}

// ListAccounts retrieves all accounts.
func (e *Engine) ListAccounts(ctx context.Context) ([]*models.LoanAccount, error) {
	return e.storage.ListAccounts()
}

// CloseAccount soft-closes an account. Accounts referenced by entries are
// never hard-deleted.
func (e *Engine) CloseAccount(ctx context.Context, id uuid.UUID) error {
	unlock := e.lock(id)
	defer unlock()

	account, err := e.storage.GetAccount(id)
	if err != nil {
		return err
	}
	if account.Status == models.AccountStatusClosed {
		return fmt.Errorf("account %s is already closed", account.AccountNumber)
	}
	account.Status = models.AccountStatusClosed
	account.UpdatedAt = time.Now()
	return e.storage.UpdateAccount(account)
}

// RecordEntry validates and persists one manually entered transaction.
// The combined history must still replay cleanly; an entry that would
// overdraw the account is rejected with InsufficientFunds.
func (e *Engine) RecordEntry(ctx context.Context, accountKey string, row models.RawRow) (*models.LedgerEntry, error) {
	entry, account, err := e.normalizer.Row(ctx, accountKey, row)
	if err != nil {
		return nil, err
	}

	unlock := e.lock(account.ID)
	defer unlock()

	existing, err := e.storage.ListEntries(account.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load entries: %w", err)
	}
	entry.Seq = maxSeq(existing) + 1

	combined := append(existing, *entry)
	res, err := allocation.Replay(combined)
	if err != nil {
		return nil, err
	}

	if err := e.storage.CreateEntry(entry); err != nil {
		return nil, fmt.Errorf("failed to store entry: %w", err)
	}
	account.Balance = res.FinalBalance
	account.UpdatedAt = time.Now()
	if err := e.storage.UpdateAccount(account); err != nil {
		return nil, fmt.Errorf("failed to update account balance: %w", err)
	}

	e.log.Info().Str("account", account.AccountNumber).Str("kind", string(entry.Kind)).
		Str("amount", entry.Amount.StringFixed(2)).Msg("manual entry recorded")
	return entry, nil
}

func maxSeq(entries []models.LedgerEntry) int64 {
	var max int64
	for _, e := range entries {
		if e.Seq > max {
			max = e.Seq
		}
	}
	return max
}

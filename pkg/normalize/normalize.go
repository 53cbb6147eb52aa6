// Package normalize validates raw spreadsheet rows into ledger entries.
// It performs lookups through the account resolver but has no other side
// effects; a row either becomes a fully typed entry or contributes a row
// error to the batch's ValidationError.
package normalize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mcclellann/fredYield/pkg/models"
	"github.com/mcclellann/fredYield/pkg/money"
)

var (
	ErrAccountNotFound        = errors.New("account not found")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInvalidDate            = errors.New("invalid date")
	ErrUnknownTransactionType = errors.New("unknown transaction type")
)

// dateLayouts are the formats imported sheets have been seen to use.
var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"2006/01/02",
	"02 Jan 2006",
	time.RFC3339,
}

// RowError ties a validation failure to the row that caused it.
type RowError struct {
	Index  int // zero-based position in the uploaded batch
	Field  string
	Reason error
	Detail string
}

func (e *RowError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("row %d: %s: %v (%s)", e.Index, e.Field, e.Reason, e.Detail)
	}
	return fmt.Sprintf("row %d: %s: %v", e.Index, e.Field, e.Reason)
}

func (e *RowError) Unwrap() error { return e.Reason }

// ValidationError aggregates every failing row in a batch. A rejected
// import reports all failures, not just the first.
type ValidationError struct {
	Rows []*RowError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Rows))
	for i, r := range e.Rows {
		msgs[i] = r.Error()
	}
	return fmt.Sprintf("%d invalid row(s): %s", len(e.Rows), strings.Join(msgs, "; "))
}

// AccountResolver resolves an account key (email or account number) to an
// account, creating one when the caller's policy allows and the row
// carries enough identity data. Supplied by the engine; the normalizer
// never authenticates.
type AccountResolver interface {
	ResolveOrCreate(ctx context.Context, key, name, phone string) (*models.LoanAccount, error)
}

// Normalizer turns raw rows into validated, unpersisted ledger entries.
type Normalizer struct {
	resolver        AccountResolver
	futureTolerance time.Duration
	now             func() time.Time
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithFutureTolerance sets how far past "today" a transaction date may lie
// before it is rejected as InvalidDate.
func WithFutureTolerance(days int) Option {
	return func(n *Normalizer) { n.futureTolerance = time.Duration(days) * 24 * time.Hour }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) { n.now = now }
}

// New creates a Normalizer over the given resolver.
func New(resolver AccountResolver, opts ...Option) *Normalizer {
	n := &Normalizer{
		resolver:        resolver,
		futureTolerance: 24 * time.Hour,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Batch resolves the target account once and normalizes every row against
// it. If any row fails, the whole batch fails with a ValidationError
// listing each failing row; no partial result is returned.
func (n *Normalizer) Batch(ctx context.Context, accountKey string, rows []models.RawRow) ([]models.LedgerEntry, *models.LoanAccount, error) {
	name, phone := identityHint(rows)
	account, err := n.resolver.ResolveOrCreate(ctx, accountKey, name, phone)
	if err != nil {
		return nil, nil, err
	}

	var entries []models.LedgerEntry
	var verr ValidationError
	for i, row := range rows {
		entry, rowErrs := n.row(account, row, i)
		if len(rowErrs) > 0 {
			verr.Rows = append(verr.Rows, rowErrs...)
			continue
		}
		entries = append(entries, *entry)
	}
	if len(verr.Rows) > 0 {
		return nil, nil, &verr
	}
	return entries, account, nil
}

// Row validates a single raw row for the given account, for manual entry.
func (n *Normalizer) Row(ctx context.Context, accountKey string, row models.RawRow) (*models.LedgerEntry, *models.LoanAccount, error) {
	entries, account, err := n.Batch(ctx, accountKey, []models.RawRow{row})
	if err != nil {
		return nil, nil, err
	}
	return &entries[0], account, nil
}

// row collects every problem with one row instead of stopping at the first.
func (n *Normalizer) row(account *models.LoanAccount, row models.RawRow, index int) (*models.LedgerEntry, []*RowError) {
	var rowErrs []*RowError

	if row.AccountKey != "" && row.AccountKey != account.OwnerUserRef && row.AccountKey != account.AccountNumber {
		rowErrs = append(rowErrs, &RowError{Index: index, Field: "account_key", Reason: ErrAccountNotFound,
			Detail: fmt.Sprintf("row targets %q, batch targets account %s", row.AccountKey, account.AccountNumber)})
	}

	kind, err := parseKind(row.Type)
	if err != nil {
		rowErrs = append(rowErrs, &RowError{Index: index, Field: "type", Reason: ErrUnknownTransactionType, Detail: row.Type})
	}

	amount, err := money.ParsePositive(row.Amount)
	if err != nil {
		rowErrs = append(rowErrs, &RowError{Index: index, Field: "amount", Reason: ErrInvalidAmount, Detail: err.Error()})
	}

	date, err := n.parseDate(row.Date)
	if err != nil {
		rowErrs = append(rowErrs, &RowError{Index: index, Field: "date", Reason: ErrInvalidDate, Detail: row.Date})
	}

	var bonusRate *decimal.Decimal
	if strings.TrimSpace(row.BonusRate) != "" {
		rate, err := money.ParseRate(row.BonusRate)
		if err != nil {
			rowErrs = append(rowErrs, &RowError{Index: index, Field: "bonus_rate", Reason: ErrInvalidAmount, Detail: err.Error()})
		} else {
			bonusRate = &rate
		}
	}

	if len(rowErrs) > 0 {
		return nil, rowErrs
	}

	return &models.LedgerEntry{
		ID:              uuid.New(),
		AccountID:       account.ID,
		Amount:          amount,
		Kind:            kind,
		TransactionDate: date,
		Description:     strings.TrimSpace(row.Description),
		BonusRate:       bonusRate,
		Status:          models.EntryStatusActive,
		CreatedAt:       n.now(),
	}, nil
}

func parseKind(s string) (models.EntryKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "deposit":
		return models.EntryKindDeposit, nil
	case "withdrawal", "withdraw":
		return models.EntryKindWithdrawal, nil
	default:
		return "", ErrUnknownTransactionType
	}
}

func (n *Normalizer) parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrInvalidDate
	}
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		t = models.DateOnly(t)
		if t.After(models.DateOnly(n.now().Add(n.futureTolerance))) {
			return time.Time{}, fmt.Errorf("%w: %s is beyond the future tolerance", ErrInvalidDate, s)
		}
		return t, nil
	}
	return time.Time{}, ErrInvalidDate
}

// identityHint pulls the first name/phone pair seen in the batch, used
// only when account auto-creation is permitted.
func identityHint(rows []models.RawRow) (name, phone string) {
	for _, row := range rows {
		if name == "" {
			name = strings.TrimSpace(row.Name)
		}
		if phone == "" {
			phone = strings.TrimSpace(row.Phone)
		}
		if name != "" && phone != "" {
			break
		}
	}
	return name, phone
}

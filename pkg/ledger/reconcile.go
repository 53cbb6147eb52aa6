package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mcclellann/fredYield/pkg/allocation"
	"github.com/mcclellann/fredYield/pkg/metrics"
	"github.com/mcclellann/fredYield/pkg/models"
	"github.com/mcclellann/fredYield/pkg/store"
)

// ImportResult reports what a reconciliation did, so callers can say
// "2 updates replaced" versus "2 updates added".
type ImportResult struct {
	BatchID         uuid.UUID       `json:"batch_id"`
	ReplacedBatchID *uuid.UUID      `json:"replaced_batch_id,omitempty"`
	Added           int             `json:"added"`
	Removed         int             `json:"removed"`
	NewBalance      decimal.Decimal `json:"new_balance"`
}

// ReconcileImport accepts one upload's rows for an account and commits
// them as an import batch. If an active batch already exists for the same
// (account, source identity), its entries are replaced, not appended to,
// in the same atomic commit. The whole batch is rejected if any row fails
// validation or if the combined history would overdraw the account.
func (e *Engine) ReconcileImport(ctx context.Context, accountKey, sourceIdentity string, rows []models.RawRow) (*ImportResult, error) {
	sourceIdentity = strings.TrimSpace(sourceIdentity)
	if sourceIdentity == "" {
		return nil, fmt.Errorf("%w: empty source identity", ErrSourceIdentityAmbiguous)
	}

	entries, account, err := e.normalizer.Batch(ctx, accountKey, rows)
	if err != nil {
		metrics.ImportsRejected.Inc()
		return nil, err
	}

	unlock := e.lock(account.ID)
	defer unlock()

	prior, err := e.storage.ActiveBatch(account.ID, sourceIdentity)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up active batch: %w", err)
	}

	existing, err := e.storage.ListEntries(account.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load entries: %w", err)
	}

	// The prospective ledger: everything except the replaced batch's
	// entries, plus the new batch. Replayed before commit so a bad
	// spreadsheet never reaches storage.
	kept := existing[:0:0]
	for _, entry := range existing {
		if prior != nil && entry.ImportBatchID != nil && *entry.ImportBatchID == prior.ID {
			continue
		}
		kept = append(kept, entry)
	}

	batch := &models.ImportBatch{
		ID:             uuid.New(),
		AccountID:      account.ID,
		SourceIdentity: sourceIdentity,
		Status:         models.BatchStatusActive,
		EntryCount:     len(entries),
		CreatedAt:      time.Now(),
	}
	seq := maxSeq(existing)
	for i := range entries {
		entries[i].AccountID = account.ID
		entries[i].ImportBatchID = &batch.ID
		seq++
		entries[i].Seq = seq
	}

	combined := append(append([]models.LedgerEntry{}, kept...), entries...)
	res, err := allocation.Replay(combined)
	if err != nil {
		metrics.ImportsRejected.Inc()
		return nil, err
	}

	if err := e.storage.CommitBatch(prior, batch, entries, res.FinalBalance); err != nil {
		if errors.Is(err, store.ErrReplacementRaceLost) {
			metrics.ReplacementRacesLost.Inc()
			e.log.Warn().Str("account", account.AccountNumber).Str("source", sourceIdentity).
				Msg("reconciliation lost a concurrent commit")
		}
		return nil, err
	}

	result := &ImportResult{
		BatchID:    batch.ID,
		Added:      len(entries),
		NewBalance: res.FinalBalance,
	}
	if prior != nil {
		result.ReplacedBatchID = &prior.ID
		result.Removed = prior.EntryCount
		metrics.BatchesReplaced.Inc()
	}
	metrics.ImportsAccepted.Inc()

	e.log.Info().Str("account", account.AccountNumber).Str("source", sourceIdentity).
		Int("added", result.Added).Int("removed", result.Removed).
		Str("balance", res.FinalBalance.StringFixed(2)).Msg("import reconciled")
	return result, nil
}

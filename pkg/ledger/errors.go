package ledger

import (
	"errors"

	"github.com/mcclellann/fredYield/pkg/store"
)

// ErrSourceIdentityAmbiguous reports that an upload could not be matched
// to exactly one logical source. The engine never guesses.
var ErrSourceIdentityAmbiguous = errors.New("source identity ambiguous")

// Retryable reports whether an engine error is safe to retry as-is.
// Lost replacement races are; validation, allocation and identity errors
// need corrected input first.
func Retryable(err error) bool {
	return errors.Is(err, store.ErrReplacementRaceLost)
}

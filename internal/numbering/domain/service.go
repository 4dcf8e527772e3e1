package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/cockroachdb/errors"
	"github.com/smallbiznis/reservebill/pkg/db"
	"github.com/smallbiznis/reservebill/pkg/errs"
	"gorm.io/gorm"
)

// Kind selects which counter of the tenant settings row is allocated.
type Kind string

const (
	KindInvoice    Kind = "invoice"
	KindCreditMemo Kind = "credit_memo"
)

func (k Kind) Valid() bool {
	return k == KindInvoice || k == KindCreditMemo
}

type Service interface {
	// NextNumber allocates and formats the next number in its own transaction,
	// retrying on write conflicts.
	NextNumber(ctx context.Context, tenantID snowflake.ID, kind Kind) (string, error)
	// NextNumberTx allocates inside the caller's transaction. A conflict is
	// reported as ErrSequenceConflict and the caller's unit of work should be
	// retried as a whole (see IsRetryable).
	NextNumberTx(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, kind Kind) (string, error)
}

var (
	ErrInvalidKind      = errs.Mark(errors.New("invalid_sequence_kind"), errs.ErrValidation)
	ErrInvalidTenant    = errs.Mark(errors.New("invalid_tenant"), errs.ErrValidation)
	ErrSequenceConflict = errs.Mark(errors.New("sequence_conflict"), errs.ErrDuplicate)
)

// IsRetryable reports errors after which a unit of work that allocated a
// number can safely be re-run from the start.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrSequenceConflict) ||
		db.IsRetryableTxErr(err) ||
		db.IsDuplicateKeyErr(err)
}

// Retry re-runs fn, which must be a complete transaction, while it fails
// with a retryable error.
func Retry(ctx context.Context, maxAttempts int, fn func() error) error {
	return db.WithRetry(ctx, maxAttempts, IsRetryable, fn)
}

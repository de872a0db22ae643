package postgres

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/unionhall/referral-app/referral/models"
)

// TxRunner executes repository work inside a single database transaction.
// Dispatch batches and compliance cascades rely on it for all-or-nothing
// semantics.
type TxRunner struct {
	db *sql.DB
}

var _ models.TxRunner = &TxRunner{}

func NewTxRunner(db *sql.DB) *TxRunner {
	return &TxRunner{db: db}
}

func (r *TxRunner) InTx(ctx context.Context, fn func(repo models.Repository) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}

	if err := fn(NewRepositoryTx(tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Wrapf(err, "failed to rollback transaction: %s", rbErr.Error())
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}

	return nil
}

package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Tx is a transaction over the metadata database with the same row
// operations as Store, plus savepoint-scoped child work. A migration run
// opens one Tx, wraps each item in a Savepoint, and commits once at the
// end.
type Tx struct {
	tx *sql.Tx
	queries
	seq int
}

// Begin starts a transaction.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx, queries: queries{q: tx}}, nil
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	return t.tx.Commit()
}

// Rollback aborts the transaction. Safe to call after Commit.
func (t *Tx) Rollback() error {
	err := t.tx.Rollback()
	if err == sql.ErrTxDone {
		return nil
	}
	return err
}

// Savepoint runs fn inside a savepoint. When fn returns an error the
// savepoint is rolled back, undoing only fn's uncommitted changes, and
// the error is returned; the enclosing transaction stays usable.
func (t *Tx) Savepoint(ctx context.Context, fn func() error) error {
	t.seq++
	name := fmt.Sprintf("sp_%d", t.seq)

	if _, err := t.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("open savepoint %s: %w", name, err)
	}

	if err := fn(); err != nil {
		if _, rbErr := t.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			return fmt.Errorf("rollback to savepoint %s after %q: %w", name, err, rbErr)
		}
		_, _ = t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name)
		return err
	}

	if _, err := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return fmt.Errorf("release savepoint %s: %w", name, err)
	}
	return nil
}

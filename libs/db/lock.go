package db

import (
	"context"
	"hash/fnv"

	"github.com/jackc/pgx/v5"
)

// LockKey folds the parts into a stable int64 suitable for pg_advisory_xact_lock.
func LockKey(parts ...string) int64 {
	h := fnv.New64a()
	for _, p := range parts {
		_, _ = h.Write([]byte(p))
		_, _ = h.Write([]byte{0})
	}
	return int64(h.Sum64())
}

// AdvisoryXactLock blocks until the transaction holds the lock; it is released on commit or rollback.
func AdvisoryXactLock(ctx context.Context, tx pgx.Tx, key int64) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, key)
	return err
}

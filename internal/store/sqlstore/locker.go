package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/tendant/lti-provider/internal/cache"
)

// ErrLockUnsupported is returned by Lock on databases without advisory locks.
var ErrLockUnsupported = errors.New("advisory locks require postgres")

const tryLockPostgres = `SELECT pg_try_advisory_xact_lock(hashtext($1))`

var errLockHeld = errors.New("advisory lock held")

// Lock takes a transaction-scoped Postgres advisory lock on key and holds it until unlock
// is called. ctx bounds only the wait: the lock transaction runs detached from it, so
// cancelling ctx after Lock returns does not release the lock.
func (s *Store) Lock(ctx context.Context, key string) (func(), error) {
	if s.driver != DriverPostgres {
		return nil, ErrLockUnsupported
	}

	txCtx := context.WithoutCancel(ctx)
	tx, err := s.db.BeginTx(txCtx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin lock transaction: %w", err)
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 25 * time.Millisecond
	expBackoff.MaxInterval = 500 * time.Millisecond

	_, err = backoff.Retry(ctx, func() (bool, error) {
		var ok bool
		if err := tx.QueryRowContext(txCtx, s.tryLockQuery, key).Scan(&ok); err != nil {
			return false, backoff.Permanent(err)
		}
		if !ok {
			return false, errLockHeld
		}
		return true, nil
	},
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxElapsedTime(s.lockWait),
	)
	if err != nil {
		_ = tx.Rollback()
		if errors.Is(err, errLockHeld) || ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %s", cache.ErrLockTimeout, key)
		}
		return nil, fmt.Errorf("failed to acquire advisory lock: %w", err)
	}

	s.logger.Debug("advisory lock acquired", "key", key)
	return func() {
		if err := tx.Commit(); err != nil {
			s.logger.Warn("failed to release advisory lock", "key", key, "error", err)
		}
	}, nil
}

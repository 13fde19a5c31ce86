package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// Replay is a cache.ReplayCache stored in the replay_nonces table, so every process on
// the same database sees the same used values. An expired row is reclaimed by the next
// Use of its value; rows nobody reuses are purged every purgeN calls.
type Replay struct {
	store  *Store
	purgeN uint64
	calls  atomic.Uint64
}

// Use records (kind, value) until ttl passes. It reports true only for the caller whose
// insert won; the check and the insert are a single statement.
func (r *Replay) Use(ctx context.Context, kind, value string, ttl time.Duration) (bool, error) {
	kind = strings.TrimSpace(strings.ToLower(kind))
	value = strings.TrimSpace(value)
	if kind == "" || value == "" {
		return false, fmt.Errorf("replay: kind and value are required")
	}

	now := r.store.now()
	if r.calls.Add(1)%r.purgeN == 0 {
		r.purge(ctx, now)
	}

	res, err := r.store.db.ExecContext(ctx, `
		INSERT INTO replay_nonces (kind, value, expires_at) VALUES ($1,$2,$3)
		ON CONFLICT (kind, value)
		DO UPDATE SET expires_at=EXCLUDED.expires_at
		WHERE replay_nonces.expires_at <= $4`,
		kind, value, now.Add(ttl).UnixNano(), now.UnixNano())
	if err != nil {
		return false, fmt.Errorf("replay: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("replay: %w", err)
	}
	return n == 1, nil
}

func (r *Replay) purge(ctx context.Context, now time.Time) {
	res, err := r.store.db.ExecContext(ctx, `DELETE FROM replay_nonces WHERE expires_at <= $1`, now.UnixNano())
	if err != nil {
		r.store.logger.Warn("failed to purge replay cache", "error", err)
		return
	}
	if n, _ := res.RowsAffected(); n > 0 {
		r.store.logger.Debug("purged replay cache", "removed", n)
	}
}

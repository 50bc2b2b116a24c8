package repository

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

const rebuildLockNamespace = "ledger_rebuild:"

// rebuildLockKey derives a stable 64-bit advisory lock key from the tenant
// identifier. Different tenants lock independently.
func rebuildLockKey(tenantID uuid.UUID) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(rebuildLockNamespace + tenantID.String()))
	return int64(h.Sum64())
}

// sessionLock holds a dedicated pooled connection for the lifetime of the
// advisory lock. Advisory locks are session-scoped, so the lock must stay
// pinned to this connection until released; if the process dies, Postgres
// drops the session and the lock with it.
type sessionLock struct {
	conn *pgxpool.Conn
	key  int64
}

// Release unlocks and returns the connection to the pool. Best-effort: if
// the unlock round-trip fails the session teardown frees the lock anyway.
func (l *sessionLock) Release(ctx context.Context) {
	_, _ = l.conn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, l.key)
	l.conn.Release()
}

// AcquireRebuildLock makes a single non-blocking attempt to take the
// tenant's rebuild lock. There is no queueing and no retry: a denied
// attempt returns (nil, false, nil) immediately.
func (r *Repo) AcquireRebuildLock(ctx context.Context, tenantID uuid.UUID) (RebuildLock, bool, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock connection: %w", err)
	}

	key := rebuildLockKey(tenantID)

	var acquired bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try rebuild lock: %w", err)
	}

	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	return &sessionLock{conn: conn, key: key}, true, nil
}

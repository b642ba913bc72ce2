// Package lock provides the single-instance run lock the bridge binaries
// take before touching shared state. Redis is preferred when configured;
// otherwise a PostgreSQL advisory lock on the same key is used, which
// releases automatically if the holding session drops.
package lock

import (
	"context"
	"database/sql"
	"hash/fnv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RunLock guards one named process. Implementations are not safe for
// concurrent use; each goroutine needs its own instance.
type RunLock interface {
	// Acquire tries to take the lock. Returns true on success.
	Acquire(ctx context.Context) (bool, error)

	// Release gives the lock up if still held.
	Release(ctx context.Context) error

	// Keep blocks until ctx is cancelled, renewing the lock when the
	// backend needs it.
	Keep(ctx context.Context)
}

// New picks the best available backend for the named lock. A nil Redis
// client selects the PostgreSQL fallback.
func New(redisClient *redis.Client, db *sql.DB, key string, ttl time.Duration) RunLock {
	if redisClient != nil {
		return NewRedisLock(redisClient, key, ttl)
	}
	return NewPGLock(db, key)
}

// PGLock holds a PostgreSQL advisory lock on a connection pinned from the
// pool. Advisory locks are session scoped, so the pin keeps the pool from
// recycling the session out from under the lock.
type PGLock struct {
	db     *sql.DB
	conn   *sql.Conn
	lockID int64
}

// NewPGLock derives a deterministic advisory lock id from key.
func NewPGLock(db *sql.DB, key string) *PGLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &PGLock{db: db, lockID: int64(h.Sum64())}
}

// Acquire pins one connection and takes the advisory lock on it.
// Non-blocking; returns false when another session holds the lock.
func (l *PGLock) Acquire(ctx context.Context) (bool, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, err
	}

	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired); err != nil {
		conn.Close()
		return false, err
	}
	if !acquired {
		conn.Close()
		return false, nil
	}

	l.conn = conn
	return true, nil
}

// Release unlocks and returns the pinned connection to the pool.
func (l *PGLock) Release(ctx context.Context) error {
	if l.conn == nil {
		return nil
	}
	_, err := l.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	l.conn.Close()
	l.conn = nil
	return err
}

// Keep blocks until ctx is cancelled. Advisory locks need no renewal; the
// session keeps them alive.
func (l *PGLock) Keep(ctx context.Context) {
	<-ctx.Done()
}

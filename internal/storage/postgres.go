package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

const (
	postgresNotifyChannel = "kv_changes"

	createKVTableSQL = `CREATE TABLE IF NOT EXISTS kv_store (
	key        TEXT PRIMARY KEY,
	value      BYTEA NOT NULL,
	expires_at TIMESTAMPTZ,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

	selectKVSQL = `SELECT value FROM kv_store
WHERE key = $1 AND (expires_at IS NULL OR expires_at > NOW())`

	upsertKVSQL = `INSERT INTO kv_store (key, value, expires_at, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (key) DO UPDATE
SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at, updated_at = NOW()`

	deleteKVSQL = `DELETE FROM kv_store WHERE key = $1`

	notifyKVSQL = `SELECT pg_notify($1, $2)`
)

// pgxPool is the subset of *pgxpool.Pool used by PostgresStore.
type pgxPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Acquire(ctx context.Context) (*pgxpool.Conn, error)
	Ping(ctx context.Context) error
}

// listenConn is the dedicated connection that follows kv_changes.
type listenConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Release()
}

type pooledListenConn struct {
	*pgxpool.Conn
}

func (c pooledListenConn) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	return c.Conn.Conn().WaitForNotification(ctx)
}

// PostgresStore keeps values in a kv_store table and announces writes with
// NOTIFY. Only the key is sent in the notification; the store re-reads the
// value, which keeps payloads under the NOTIFY size limit.
//
// All watches share one LISTEN connection, opened on the first Watch and
// released on Close.
type PostgresStore struct {
	pool       pgxPool
	logger     *logrus.Logger
	changes    *changeHub
	acquire    func(ctx context.Context) (listenConn, error)
	retryDelay time.Duration

	mu      sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}
}

func NewPostgresStore(pool pgxPool, logger *logrus.Logger) *PostgresStore {
	ctx, cancel := context.WithCancel(context.Background())
	s := &PostgresStore{
		pool:       pool,
		logger:     logger,
		changes:    newChangeHub(),
		retryDelay: time.Second,
		ctx:        ctx,
		cancel:     cancel,
		stopped:    make(chan struct{}),
	}
	s.acquire = func(ctx context.Context) (listenConn, error) {
		conn, err := pool.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		return pooledListenConn{conn}, nil
	}
	return s
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, createKVTableSQL); err != nil {
		return fmt.Errorf("failed to create kv_store table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.pool.QueryRow(ctx, selectKVSQL, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: postgres get %s: %v", ErrUnavailable, key, err)
	}
	return value, nil
}

func (s *PostgresStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt *time.Time
	if ttl > 0 {
		t := time.Now().Add(ttl)
		expiresAt = &t
	}

	// Store value
	if _, err := s.pool.Exec(ctx, upsertKVSQL, key, value, expiresAt); err != nil {
		if isPostgresQuotaError(err) {
			return ErrQuotaExceeded
		}
		return fmt.Errorf("%w: postgres set %s: %v", ErrUnavailable, key, err)
	}

	// Announce the change
	if _, err := s.pool.Exec(ctx, notifyKVSQL, postgresNotifyChannel, key); err != nil {
		// The value is stored; only other instances miss the change.
		s.logger.WithError(err).WithField("key", key).Warn("Failed to publish storage change notification")
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, deleteKVSQL, key); err != nil {
		return fmt.Errorf("%w: postgres delete %s: %v", ErrUnavailable, key, err)
	}
	return nil
}

// Watch subscribes to key on the shared listener. It never waits for a
// connection; the listener connects in the background and retries until
// Close.
func (s *PostgresStore) Watch(ctx context.Context, key string) (<-chan []byte, error) {
	ch, err := s.changes.subscribe(ctx, key)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if !s.started {
		s.started = true
		go s.listen()
	}
	s.mu.Unlock()

	return ch, nil
}

func (s *PostgresStore) listen() {
	defer close(s.stopped)

	for s.ctx.Err() == nil {
		err := s.follow()
		if s.ctx.Err() != nil {
			return
		}
		s.logger.WithError(err).Warn("Storage change listener stopped, reconnecting")

		select {
		case <-s.ctx.Done():
			return
		case <-time.After(s.retryDelay):
		}
	}
}

// follow holds one connection in LISTEN mode and serves notifications until
// it fails or the store closes.
func (s *PostgresStore) follow() error {
	conn, err := s.acquire(s.ctx)
	if err != nil {
		return fmt.Errorf("postgres acquire: %w", err)
	}
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_, _ = conn.Exec(cleanupCtx, "UNLISTEN "+postgresNotifyChannel)
		conn.Release()
	}()

	if _, err := conn.Exec(s.ctx, "LISTEN "+postgresNotifyChannel); err != nil {
		return fmt.Errorf("postgres listen: %w", err)
	}

	for {
		notification, err := conn.WaitForNotification(s.ctx)
		if err != nil {
			return fmt.Errorf("postgres wait for notification: %w", err)
		}

		key := notification.Payload
		if !s.changes.watching(key) {
			continue
		}

		// Read on the listening connection; notifications arriving meanwhile
		// are buffered by pgx.
		var value []byte
		err = conn.QueryRow(s.ctx, selectKVSQL, key).Scan(&value)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return fmt.Errorf("postgres read %s: %w", key, err)
		}
		s.changes.publish(key, value)
	}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Close stops the shared listener and closes every watch channel. The pool
// is owned by the caller.
func (s *PostgresStore) Close() error {
	s.cancel()

	s.mu.Lock()
	started := s.started
	s.started = true
	s.mu.Unlock()

	if started {
		<-s.stopped
	}
	s.changes.close()
	return nil
}

func isPostgresQuotaError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "53100", "53200", "54000":
		return true
	}
	return false
}

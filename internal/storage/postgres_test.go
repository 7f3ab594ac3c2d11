package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	return NewPostgresStore(mock, logger), mock
}

func TestPostgresStore_Get(t *testing.T) {
	store, mock := newTestPostgresStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(selectKVSQL)).
		WithArgs("profile:u1").
		WillReturnRows(pgxmock.NewRows([]string{"value"}).AddRow([]byte(`{"a":1}`)))

	value, err := store.Get(context.Background(), "profile:u1")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"a":1}`), value)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetMissing(t *testing.T) {
	store, mock := newTestPostgresStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(selectKVSQL)).
		WithArgs("profile:nobody").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.Get(context.Background(), "profile:nobody")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetUnavailable(t *testing.T) {
	store, mock := newTestPostgresStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(selectKVSQL)).
		WithArgs("k").
		WillReturnError(errors.New("connection reset"))

	_, err := store.Get(context.Background(), "k")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestPostgresStore_SetNotifies(t *testing.T) {
	store, mock := newTestPostgresStore(t)

	mock.ExpectExec(regexp.QuoteMeta(upsertKVSQL)).
		WithArgs("profile:u1", []byte("blob"), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(regexp.QuoteMeta(notifyKVSQL)).
		WithArgs(postgresNotifyChannel, "profile:u1").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))

	err := store.Set(context.Background(), "profile:u1", []byte("blob"), time.Hour)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetNotifyFailureIsNotFatal(t *testing.T) {
	store, mock := newTestPostgresStore(t)

	mock.ExpectExec(regexp.QuoteMeta(upsertKVSQL)).
		WithArgs("k", []byte("v"), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(regexp.QuoteMeta(notifyKVSQL)).
		WithArgs(postgresNotifyChannel, "k").
		WillReturnError(errors.New("notify queue full"))

	assert.NoError(t, store.Set(context.Background(), "k", []byte("v"), 0))
}

func TestPostgresStore_SetQuota(t *testing.T) {
	store, mock := newTestPostgresStore(t)

	mock.ExpectExec(regexp.QuoteMeta(upsertKVSQL)).
		WithArgs("k", []byte("v"), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "53100", Message: "could not extend file"})

	err := store.Set(context.Background(), "k", []byte("v"), 0)
	assert.ErrorIs(t, err, ErrQuotaExceeded)
}

func TestPostgresStore_EnsureSchemaAndDelete(t *testing.T) {
	store, mock := newTestPostgresStore(t)

	mock.ExpectExec(regexp.QuoteMeta(createKVTableSQL)).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectExec(regexp.QuoteMeta(deleteKVSQL)).
		WithArgs("k").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, store.Delete(context.Background(), "k"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

type fakeRow struct {
	value []byte
	err   error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*[]byte) = r.value
	return nil
}

type fakeListenConn struct {
	mu            sync.Mutex
	values        map[string][]byte
	execs         []string
	reads         []string
	released      bool
	notifications chan *pgconn.Notification
}

func newFakeListenConn() *fakeListenConn {
	return &fakeListenConn{
		values:        make(map[string][]byte),
		notifications: make(chan *pgconn.Notification, 16),
	}
}

func (c *fakeListenConn) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.execs = append(c.execs, sql)
	return pgconn.CommandTag{}, nil
}

func (c *fakeListenConn) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := args[0].(string)
	c.reads = append(c.reads, key)
	value, ok := c.values[key]
	if !ok {
		return fakeRow{err: pgx.ErrNoRows}
	}
	return fakeRow{value: value}
}

func (c *fakeListenConn) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case n := <-c.notifications:
		return n, nil
	}
}

func (c *fakeListenConn) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.released = true
}

func (c *fakeListenConn) notify(key string, value []byte) {
	c.mu.Lock()
	c.values[key] = value
	c.mu.Unlock()
	c.notifications <- &pgconn.Notification{Channel: postgresNotifyChannel, Payload: key}
}

func (c *fakeListenConn) readKeys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.reads...)
}

func TestPostgresStore_WatchSharesOneListener(t *testing.T) {
	store, mock := newTestPostgresStore(t)
	conn := newFakeListenConn()

	var acquired atomic.Int32
	store.acquire = func(ctx context.Context) (listenConn, error) {
		acquired.Add(1)
		return conn, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// more watchers than the pool has connections
	var watched []<-chan []byte
	for i := 0; i < 50; i++ {
		ch, err := store.Watch(ctx, fmt.Sprintf("visitor:v%02d:profile", i))
		require.NoError(t, err)
		watched = append(watched, ch)
	}
	other, err := store.Watch(ctx, "visitor:v07:profile")
	require.NoError(t, err)

	conn.notify("visitor:nobody:profile", []byte("skipped"))
	conn.notify("visitor:v07:profile", []byte("p7"))

	for _, ch := range []<-chan []byte{watched[7], other} {
		select {
		case got := <-ch:
			assert.Equal(t, []byte("p7"), got)
		case <-time.After(time.Second):
			t.Fatal("expected change notification")
		}
	}
	select {
	case got := <-watched[8]:
		t.Fatalf("unexpected change for another key: %s", got)
	default:
	}

	assert.Equal(t, int32(1), acquired.Load())
	assert.Equal(t, []string{"visitor:v07:profile"}, conn.readKeys())

	require.NoError(t, store.Close())
	_, ok := <-watched[0]
	assert.False(t, ok)
	assert.True(t, conn.released)
	assert.Contains(t, conn.execs, "LISTEN "+postgresNotifyChannel)
	assert.Contains(t, conn.execs, "UNLISTEN "+postgresNotifyChannel)

	// watches never touch the shared pool
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_WatchDoesNotWaitForConnection(t *testing.T) {
	store, _ := newTestPostgresStore(t)
	store.retryDelay = 10 * time.Millisecond

	var attempts atomic.Int32
	store.acquire = func(ctx context.Context) (listenConn, error) {
		attempts.Add(1)
		<-ctx.Done()
		return nil, ctx.Err()
	}

	returned := make(chan struct{})
	go func() {
		_, err := store.Watch(context.Background(), "visitor:a:profile")
		assert.NoError(t, err)
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("Watch blocked on an exhausted pool")
	}

	require.NoError(t, store.Close())
	assert.Equal(t, int32(1), attempts.Load())
}

func TestPostgresStore_ListenerReconnects(t *testing.T) {
	store, _ := newTestPostgresStore(t)
	store.retryDelay = time.Millisecond
	conn := newFakeListenConn()

	var attempts atomic.Int32
	store.acquire = func(ctx context.Context) (listenConn, error) {
		if attempts.Add(1) == 1 {
			return nil, errors.New("too many clients")
		}
		return conn, nil
	}

	ch, err := store.Watch(context.Background(), "visitor:a:profile")
	require.NoError(t, err)

	conn.notify("visitor:a:profile", []byte("p1"))
	select {
	case got := <-ch:
		assert.Equal(t, []byte("p1"), got)
	case <-time.After(time.Second):
		t.Fatal("expected change after reconnect")
	}

	require.NoError(t, store.Close())
	assert.Equal(t, int32(2), attempts.Load())
}

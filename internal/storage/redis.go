package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const redisChangeChannelPrefix = "shopsense:changes:"

// RedisStore keeps values in Redis and publishes every write on a per-key
// channel so other instances can follow it. All watches share one pattern
// subscription, opened on the first Watch. The client is owned by the
// caller.
type RedisStore struct {
	client  *redis.Client
	logger  *logrus.Logger
	changes *changeHub

	mu  sync.Mutex
	sub *redis.PubSub
}

func NewRedisStore(client *redis.Client, logger *logrus.Logger) *RedisStore {
	return &RedisStore{client: client, logger: logger, changes: newChangeHub()}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: redis get %s: %v", ErrUnavailable, key, err)
	}
	return value, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, value, ttl)
		pipe.Publish(ctx, changeChannel(key), value)
		return nil
	})
	if err != nil {
		if isRedisOOM(err) {
			return ErrQuotaExceeded
		}
		return fmt.Errorf("%w: redis set %s: %v", ErrUnavailable, key, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: redis del %s: %v", ErrUnavailable, key, err)
	}
	return nil
}

func (s *RedisStore) Watch(ctx context.Context, key string) (<-chan []byte, error) {
	ch, err := s.changes.subscribe(ctx, key)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sub == nil {
		// go-redis resubscribes the pattern by itself after reconnecting
		s.sub = s.client.PSubscribe(context.Background(), redisChangeChannelPrefix+"*")
		go s.fanOut(s.sub.Channel())
	}

	s.logger.WithField("key", key).Debug("Watching redis key for changes")
	return ch, nil
}

func (s *RedisStore) fanOut(messages <-chan *redis.Message) {
	for msg := range messages {
		key := strings.TrimPrefix(msg.Channel, redisChangeChannelPrefix)
		s.changes.publish(key, []byte(msg.Payload))
	}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Close ends the shared subscription and closes every watch channel.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()

	s.changes.close()
	if sub != nil {
		return sub.Close()
	}
	return nil
}

func changeChannel(key string) string {
	return redisChangeChannelPrefix + key
}

func isRedisOOM(err error) bool {
	return strings.HasPrefix(err.Error(), "OOM ")
}

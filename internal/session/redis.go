package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/garyburd/redigo/redis"
	log "github.com/sirupsen/logrus"

	"github.com/dudu/eyebox/internal/drowsiness"
)

// DefaultRedisPrefix namespaces all keys written by RedisStore.
const DefaultRedisPrefix = "eyebox"

// maxEvents bounds the redis event list.
const maxEvents = 1000

// ioTimeout bounds every command when the context carries no deadline.
const ioTimeout = 5 * time.Second

// RedisStore is a Store on a redis server. A context deadline bounds both
// waiting for a pooled connection and each command's reply; cancellation
// without a deadline is checked before each command.
type RedisStore struct {
	pool   *redis.Pool
	prefix string
	log    *log.Entry
}

// OpenRedis connects to addr and checks the connection.
func OpenRedis(ctx context.Context, addr, prefix string) (*RedisStore, error) {
	pool := redis.NewPool(func() (redis.Conn, error) {
		c, err := redis.Dial("tcp", addr,
			redis.DialConnectTimeout(ioTimeout),
			redis.DialReadTimeout(ioTimeout),
			redis.DialWriteTimeout(ioTimeout))
		if err != nil {
			return nil, err
		}
		return c, err
	}, 3)

	s := newRedisStore(pool, prefix)
	conn, err := s.conn(ctx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	defer conn.Close()
	if _, err := do(ctx, conn, "PING"); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return s, nil
}

func newRedisStore(pool *redis.Pool, prefix string) *RedisStore {
	return &RedisStore{
		pool:   pool,
		prefix: prefix,
		log:    log.WithField("component", "session"),
	}
}

func (s *RedisStore) key(name string) string {
	return s.prefix + ":" + name
}

func (s *RedisStore) conn(ctx context.Context) (redis.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.pool.GetContext(ctx)
}

// do sends one command and waits for its reply no longer than ctx allows.
func do(ctx context.Context, conn redis.Conn, cmd string, args ...interface{}) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	timeout := ioTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
		if timeout <= 0 {
			return nil, context.DeadlineExceeded
		}
	}
	return redis.DoWithTimeout(conn, timeout, cmd, args...)
}

func (s *RedisStore) Microsleep(ctx context.Context) (bool, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to read microsleep flag: %w", err)
	}
	defer conn.Close()

	on, err := redis.Bool(do(ctx, conn, "GET", s.key("microsleep")))
	if errors.Is(err, redis.ErrNil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read microsleep flag: %w", err)
	}
	return on, nil
}

func (s *RedisStore) SetMicrosleep(ctx context.Context, on bool) error {
	conn, err := s.conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to write microsleep flag: %w", err)
	}
	defer conn.Close()

	if _, err := do(ctx, conn, "SET", s.key("microsleep"), on); err != nil {
		return fmt.Errorf("failed to write microsleep flag: %w", err)
	}
	return nil
}

func (s *RedisStore) RecordEvent(ctx context.Context, ev drowsiness.Event) error {
	id, err := newID()
	if err != nil {
		return err
	}
	data, err := json.Marshal(Record{ID: id, Event: ev})
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	conn, err := s.conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	defer conn.Close()

	if err := conn.Send("MULTI"); err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	conn.Send("LPUSH", s.key("events"), data)
	conn.Send("LTRIM", s.key("events"), 0, maxEvents-1)
	if _, err := do(ctx, conn, "EXEC"); err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

func (s *RedisStore) Events(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		return nil, nil
	}
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	defer conn.Close()

	items, err := redis.ByteSlices(do(ctx, conn, "LRANGE", s.key("events"), 0, limit-1))
	if err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}

	out := make([]Record, 0, len(items))
	for _, item := range items {
		var r Record
		if err := json.Unmarshal(item, &r); err != nil {
			s.log.Warnf("skipping corrupt event: %v", err)
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// Close closes the connection pool
func (s *RedisStore) Close() error {
	return s.pool.Close()
}

// Package session persists whether a microsleep happened during the last
// driving session, together with a log of microsleep events.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gofrs/uuid"

	"github.com/dudu/eyebox/internal/drowsiness"
)

// Backends accepted by Open.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

// ErrClosed is returned by stores used after Close.
var ErrClosed = errors.New("session store closed")

// Record is a stored microsleep event.
type Record struct {
	ID string `json:"id"`
	drowsiness.Event
}

// Store keeps the microsleep flag of the current or previous session.
type Store interface {
	Microsleep(ctx context.Context) (bool, error)
	SetMicrosleep(ctx context.Context, on bool) error
	RecordEvent(ctx context.Context, ev drowsiness.Event) error
	// Events returns up to limit events, newest first.
	Events(ctx context.Context, limit int) ([]Record, error)
	Close() error
}

// Options selects and configures a backend
type Options struct {
	Backend   string
	DSN       string
	RedisAddr string
}

// Open creates the store for opts.Backend, migrating SQL schemas as needed.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case BackendSQLite, BackendPostgres:
		return OpenSQL(ctx, opts.Backend, opts.DSN)
	case BackendRedis:
		return OpenRedis(ctx, opts.RedisAddr, DefaultRedisPrefix)
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown session backend %q", opts.Backend)
	}
}

func newID() (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", fmt.Errorf("failed to generate event id: %w", err)
	}
	return id.String(), nil
}

// MemoryStore keeps everything in process memory.
type MemoryStore struct {
	mu         sync.Mutex
	microsleep bool
	events     []Record
	closed     bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Microsleep(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	return s.microsleep, nil
}

func (s *MemoryStore) SetMicrosleep(ctx context.Context, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.microsleep = on
	return nil
}

func (s *MemoryStore) RecordEvent(ctx context.Context, ev drowsiness.Event) error {
	id, err := newID()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.events = append(s.events, Record{ID: id, Event: ev})
	return nil
}

func (s *MemoryStore) Events(ctx context.Context, limit int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	var out []Record
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.events[i])
	}
	return out, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

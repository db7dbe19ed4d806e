package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/dvloznov/finance-sync/internal/kv"
)

// Store is an in-memory kv.Store. It optionally enforces a byte quota
// and notifies watchers of every write.
type Store struct {
	mu       sync.RWMutex
	data     map[string]string
	size     int
	quota    int
	watchers map[chan kv.Change]struct{}
}

// Option configures a Store.
type Option func(*Store)

// WithQuota caps the summed length of keys and values.
func WithQuota(bytes int) Option {
	return func(s *Store) { s.quota = bytes }
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		data:     make(map[string]string),
		watchers: make(map[chan kv.Change]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get implements kv.Store.
func (s *Store) Get(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.data[key]
	return v, ok, nil
}

// Set implements kv.Store.
func (s *Store) Set(key, value string) error {
	return s.SetMany(map[string]string{key: value})
}

// SetMany implements kv.Batcher. Either every entry is written or none is.
func (s *Store) SetMany(entries map[string]string) error {
	s.mu.Lock()
	size := s.size
	for k, v := range entries {
		if old, ok := s.data[k]; ok {
			size -= len(k) + len(old)
		}
		size += len(k) + len(v)
	}
	if s.quota > 0 && size > s.quota {
		s.mu.Unlock()
		return kv.ErrQuotaExceeded
	}
	for k, v := range entries {
		s.data[k] = v
	}
	s.size = size
	s.mu.Unlock()

	for k := range entries {
		s.notify(kv.Change{Key: k})
	}
	return nil
}

// Remove implements kv.Store.
func (s *Store) Remove(key string) error {
	s.mu.Lock()
	old, ok := s.data[key]
	if ok {
		delete(s.data, key)
		s.size -= len(key) + len(old)
	}
	s.mu.Unlock()

	if ok {
		s.notify(kv.Change{Key: key, Removed: true})
	}
	return nil
}

// Keys implements kv.Store. Keys are returned sorted.
func (s *Store) Keys(prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Watch implements kv.Watcher. Events are dropped for a watcher whose
// buffer is full; watchers are expected to fall back to polling.
func (s *Store) Watch(ctx context.Context) (<-chan kv.Change, error) {
	ch := make(chan kv.Change, 64)

	s.mu.Lock()
	s.watchers[ch] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.watchers, ch)
		close(ch)
		s.mu.Unlock()
	}()

	return ch, nil
}

func (s *Store) notify(c kv.Change) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for ch := range s.watchers {
		select {
		case ch <- c:
		default:
		}
	}
}

var (
	_ kv.Store   = (*Store)(nil)
	_ kv.Batcher = (*Store)(nil)
	_ kv.Watcher = (*Store)(nil)
)

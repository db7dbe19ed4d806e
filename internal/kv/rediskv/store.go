// Package rediskv is a kv.Store shared between processes through Redis.
// Every write is announced on a pub/sub channel so that other processes
// watching the same namespace observe it as a storage-change event.
package rediskv

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/finance-sync/internal/kv"
	"github.com/redis/go-redis/v9"
)

const opTimeout = 5 * time.Second

// Store keeps keys under a namespace prefix in one Redis database.
type Store struct {
	rdb       *redis.Client
	namespace string
	channel   string
}

// Options configures the Redis connection.
type Options struct {
	Addr      string
	Password  string
	DB        int
	Namespace string // prepended to every key, e.g. "finsync:"
	Channel   string // change channel; defaults to Namespace + "changes"
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, opts Options) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}

	return NewWithClient(rdb, opts.Namespace, opts.Channel), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(rdb *redis.Client, namespace, channel string) *Store {
	if channel == "" {
		channel = namespace + "changes"
	}
	return &Store{rdb: rdb, namespace: namespace, channel: channel}
}

// Client exposes the underlying client for components sharing the connection.
func (s *Store) Client() *redis.Client {
	return s.rdb
}

// Close closes the client.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// Get implements kv.Store.
func (s *Store) Get(key string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	v, err := s.rdb.Get(ctx, s.namespace+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %q: %w", key, err)
	}
	return v, true, nil
}

// Set implements kv.Store.
func (s *Store) Set(key, value string) error {
	return s.SetMany(map[string]string{key: value})
}

// SetMany implements kv.Batcher with a MULTI/EXEC pipeline.
func (s *Store) SetMany(entries map[string]string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for k, v := range entries {
			pipe.Set(ctx, s.namespace+k, v, 0)
		}
		for k := range entries {
			pipe.Publish(ctx, s.channel, k)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("set %d keys: %w", len(entries), err)
	}
	return nil
}

// Remove implements kv.Store.
func (s *Store) Remove(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.namespace+key)
		pipe.Publish(ctx, s.channel, key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("remove %q: %w", key, err)
	}
	return nil
}

// Keys implements kv.Store using SCAN.
func (s *Store) Keys(prefix string) ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var keys []string
	iter := s.rdb.Scan(ctx, 0, escapeGlob(s.namespace+prefix)+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), s.namespace))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan keys: %w", err)
	}
	return keys, nil
}

// Watch implements kv.Watcher by subscribing to the change channel.
// A removal is reported as a plain change; readers re-read the key either way.
func (s *Store) Watch(ctx context.Context) (<-chan kv.Change, error) {
	sub := s.rdb.Subscribe(ctx, s.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", s.channel, err)
	}

	out := make(chan kv.Change, 64)
	go func() {
		defer close(out)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- kv.Change{Key: msg.Payload}:
				default:
				}
			}
		}
	}()
	return out, nil
}

func escapeGlob(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
	return r.Replace(s)
}

var (
	_ kv.Store   = (*Store)(nil)
	_ kv.Batcher = (*Store)(nil)
	_ kv.Watcher = (*Store)(nil)
)

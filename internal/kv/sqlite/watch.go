package sqlite

import (
	"context"
	"fmt"
	"hash/fnv"
	"path/filepath"
	"strings"
	"time"

	"github.com/dvloznov/finance-sync/internal/kv"
	"github.com/fsnotify/fsnotify"
)

// ScanInterval is how often Watch rescans when file notifications are
// unavailable.
const ScanInterval = time.Second

// Watch implements kv.Watcher. It watches the database file for commits from
// any connection, including other processes, and reports every key whose
// value changed since the previous scan. Events are dropped for a watcher
// whose buffer is full.
func (s *Store) Watch(ctx context.Context) (<-chan kv.Change, error) {
	seen, err := s.fingerprints(ctx)
	if err != nil {
		return nil, err
	}

	var (
		events <-chan fsnotify.Event
		errs   <-chan error
		tick   <-chan time.Time
		stop   func()
	)
	fw, err := s.notifier()
	if err == nil {
		events, errs = fw.Events, fw.Errors
		stop = func() { _ = fw.Close() }
	} else {
		ticker := time.NewTicker(ScanInterval)
		tick = ticker.C
		stop = ticker.Stop
	}

	ch := make(chan kv.Change, 64)
	go func() {
		defer close(ch)
		defer stop()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				if !s.ownsFile(ev.Name) {
					continue
				}
			case _, ok := <-errs:
				if !ok {
					return
				}
				// Missed notifications are caught up by the next scan.
			case <-tick:
			}

			cur, err := s.fingerprints(ctx)
			if err != nil {
				continue
			}
			for _, c := range diffFingerprints(seen, cur) {
				select {
				case ch <- c:
				default:
				}
			}
			seen = cur
		}
	}()

	return ch, nil
}

// notifier watches the directory holding the database, so journal and WAL
// files created after Watch are seen too.
func (s *Store) notifier() (*fsnotify.Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(s.path)); err != nil {
		_ = fw.Close()
		return nil, err
	}
	return fw, nil
}

// ownsFile reports whether name is the database or one of its -journal,
// -wal or -shm companions.
func (s *Store) ownsFile(name string) bool {
	base := filepath.Base(s.path)
	name = filepath.Base(name)
	return name == base || strings.HasPrefix(name, base+"-")
}

// fingerprints hashes every stored value by key.
func (s *Store) fingerprints(ctx context.Context) (map[string]uint64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM kv`)
	if err != nil {
		return nil, fmt.Errorf("scan kv: %w", err)
	}
	defer rows.Close()

	out := make(map[string]uint64)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan kv row: %w", err)
		}
		h := fnv.New64a()
		h.Write([]byte(v))
		out[k] = h.Sum64()
	}
	return out, rows.Err()
}

func diffFingerprints(prev, cur map[string]uint64) []kv.Change {
	var out []kv.Change
	for k, sum := range cur {
		if old, ok := prev[k]; !ok || old != sum {
			out = append(out, kv.Change{Key: k})
		}
	}
	for k := range prev {
		if _, ok := cur[k]; !ok {
			out = append(out, kv.Change{Key: k, Removed: true})
		}
	}
	return out
}

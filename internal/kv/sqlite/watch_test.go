package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/dvloznov/finance-sync/internal/kv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// waitFor reads changes until one for key arrives.
func waitFor(t *testing.T, ch <-chan kv.Change, key string) kv.Change {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case c, ok := <-ch:
			require.True(t, ok, "watch channel closed")
			if c.Key == key {
				return c
			}
		case <-timeout:
			t.Fatalf("no change for %q", key)
		}
	}
}

func TestWatch_SeesWritesFromOtherConnections(t *testing.T) {
	s, path := openTemp(t)
	require.NoError(t, s.Set("u1_income", "[]"))

	// A second Store on the same file stands in for another process.
	other, err := Open(path)
	require.NoError(t, err)
	defer other.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes, err := s.Watch(ctx)
	require.NoError(t, err)

	require.NoError(t, other.Set("u1_expenses", `[{"id":"q1"}]`))
	c := waitFor(t, changes, "u1_expenses")
	assert.False(t, c.Removed)

	require.NoError(t, other.Remove("u1_income"))
	c = waitFor(t, changes, "u1_income")
	assert.True(t, c.Removed)

	require.NoError(t, s.Set("u1_bills", "[]"))
	waitFor(t, changes, "u1_bills")

	cancel()
	for range changes {
	}
}

func TestDiffFingerprints(t *testing.T) {
	tests := []struct {
		name string
		prev map[string]uint64
		cur  map[string]uint64
		want []kv.Change
	}{
		{"unchanged", map[string]uint64{"a": 1}, map[string]uint64{"a": 1}, nil},
		{"added", map[string]uint64{}, map[string]uint64{"a": 1}, []kv.Change{{Key: "a"}}},
		{"modified", map[string]uint64{"a": 1}, map[string]uint64{"a": 2}, []kv.Change{{Key: "a"}}},
		{"removed", map[string]uint64{"a": 1}, map[string]uint64{}, []kv.Change{{Key: "a", Removed: true}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, diffFingerprints(tt.prev, tt.cur))
		})
	}
}

func TestOwnsFile(t *testing.T) {
	s := &Store{path: "/data/finsync.db"}
	assert.True(t, s.ownsFile("/data/finsync.db"))
	assert.True(t, s.ownsFile("/data/finsync.db-journal"))
	assert.True(t, s.ownsFile("/data/finsync.db-wal"))
	assert.False(t, s.ownsFile("/data/finsync.db.bak"))
	assert.False(t, s.ownsFile("/data/other.db"))
}

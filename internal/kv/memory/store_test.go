package memory

import (
	"context"
	"testing"
	"time"

	"github.com/dvloznov/finance-sync/internal/kv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_GetSetRemove(t *testing.T) {
	s := New()

	_, ok, err := s.Get("missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set("u1_expenses", "[]"))
	v, ok, err := s.Get("u1_expenses")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "[]", v)

	require.NoError(t, s.Remove("u1_expenses"))
	require.NoError(t, s.Remove("u1_expenses"))
	_, ok, _ = s.Get("u1_expenses")
	assert.False(t, ok)
}

func TestStore_Keys(t *testing.T) {
	s := New()
	require.NoError(t, kv.SetAll(s, map[string]string{
		"u1_income":   "[]",
		"u1_expenses": "[]",
		"u2_expenses": "[]",
		"currentUser": "{}",
	}))

	keys, err := s.Keys("u1_")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1_expenses", "u1_income"}, keys)
}

func TestStore_Quota(t *testing.T) {
	s := New(WithQuota(20))

	require.NoError(t, s.Set("k", "0123456789"))
	err := s.Set("k2", "0123456789")
	assert.ErrorIs(t, err, kv.ErrQuotaExceeded)

	_, ok, _ := s.Get("k2")
	assert.False(t, ok, "rejected write must not be visible")

	// Overwriting frees the old value's bytes first.
	require.NoError(t, s.Set("k", "01234567890123"))
}

func TestStore_SetManyIsAllOrNothing(t *testing.T) {
	s := New(WithQuota(10))
	err := s.SetMany(map[string]string{"a": "1234", "b": "123456789"})
	require.ErrorIs(t, err, kv.ErrQuotaExceeded)

	keys, _ := s.Keys("")
	assert.Empty(t, keys)
}

func TestStore_Watch(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := s.Watch(ctx)
	require.NoError(t, err)

	require.NoError(t, s.Set("u1_expenses", "[]"))
	require.NoError(t, s.Remove("u1_expenses"))

	select {
	case c := <-ch:
		assert.Equal(t, kv.Change{Key: "u1_expenses"}, c)
	case <-time.After(time.Second):
		t.Fatal("expected change event")
	}
	select {
	case c := <-ch:
		assert.True(t, c.Removed)
	case <-time.After(time.Second):
		t.Fatal("expected removal event")
	}

	cancel()
	require.Eventually(t, func() bool {
		_, open := <-ch
		return !open
	}, time.Second, 10*time.Millisecond)
}

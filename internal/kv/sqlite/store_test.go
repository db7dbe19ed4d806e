package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "finsync.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func TestStore_RoundTrip(t *testing.T) {
	s, _ := openTemp(t)

	_, ok, err := s.Get("u1_expenses")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set("u1_expenses", `[{"id":"1"}]`))
	require.NoError(t, s.Set("u1_expenses", `[{"id":"2"}]`))

	v, ok, err := s.Get("u1_expenses")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `[{"id":"2"}]`, v)

	require.NoError(t, s.Remove("u1_expenses"))
	_, ok, err = s.Get("u1_expenses")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_SetManyAndKeys(t *testing.T) {
	s, _ := openTemp(t)

	require.NoError(t, s.SetMany(map[string]string{
		"u1_expenses": "[]",
		"u1_bills":    "[]",
		"u2_expenses": "[]",
	}))

	keys, err := s.Keys("u1_")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1_bills", "u1_expenses"}, keys)

	all, err := s.Keys("")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestOpen_ReopenKeepsData(t *testing.T) {
	s, path := openTemp(t)
	require.NoError(t, s.Set("currentUser", `{"id":"u1"}`))
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	v, ok, err := reopened.Get("currentUser")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"id":"u1"}`, v)
}

func TestMigrate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "finsync.db")

	status, err := Migrate(path, "")
	require.NoError(t, err)
	assert.True(t, status.Empty)

	status, err = Migrate(path, Up)
	require.NoError(t, err)
	assert.Equal(t, SchemaStatus{Version: 1}, status)

	status, err = Migrate(path, Up)
	require.NoError(t, err, "no change is not an error")
	assert.Equal(t, uint(1), status.Version)

	status, err = Migrate(path, Down)
	require.NoError(t, err)
	assert.True(t, status.Empty)

	_, err = Migrate(path, "sideways")
	assert.Error(t, err)

	s, err := Open(path)
	require.NoError(t, err, "open migrates up again")
	require.NoError(t, s.Close())
}

package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wricardo/mcp-training/userdirectory/core/service"
)

func newUser(name string) service.NewUser {
	return service.NewUser{Name: name, Email: name + "@example.com", Address: "1 Main St", Phone: "555-0100"}
}

func TestJSONFileStore_CreatesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "users.json")

	st, err := NewJSONFileStore(path)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(data))

	users, err := st.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestJSONFileStore_AppendUsesMaxPlusOne(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")
	seed := `[{"id":1,"name":"a","email":"a@x","address":"x","phone":"1"},
	          {"id":7,"name":"b","email":"b@x","address":"x","phone":"2"}]`
	require.NoError(t, os.WriteFile(path, []byte(seed), 0644))

	st, err := NewJSONFileStore(path)
	require.NoError(t, err)

	user, err := st.Append(context.Background(), newUser("carol"))
	require.NoError(t, err)
	assert.Equal(t, 8, user.ID)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var onDisk []service.User
	require.NoError(t, json.Unmarshal(data, &onDisk))
	require.Len(t, onDisk, 3)
	assert.Equal(t, "carol", onDisk[2].Name)
	assert.Contains(t, string(data), "\n  {", "file should be indented")
}

func TestJSONFileStore_ConcurrentAppends(t *testing.T) {
	st, err := NewJSONFileStore(filepath.Join(t.TempDir(), "users.json"))
	require.NoError(t, err)

	const n = 20
	var wg sync.WaitGroup
	ids := make(chan int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u, err := st.Append(context.Background(), newUser("u"))
			if assert.NoError(t, err) {
				ids <- u.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[int]bool{}
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)

	users, err := st.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, users, n)
}

func TestJSONFileStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	st, err := NewJSONFileStore(path)
	require.NoError(t, err)

	_, err = st.List(context.Background())
	assert.Error(t, err)

	_, err = st.Append(context.Background(), newUser("x"))
	assert.Error(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(data), "failed append must not clobber the file")
}

func TestJSONFileStore_CancelledContext(t *testing.T) {
	st, err := NewJSONFileStore(filepath.Join(t.TempDir(), "users.json"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = st.Append(ctx, newUser("x"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	st, err := Open(Options{Driver: DriverJSON, Path: filepath.Join(dir, "users.json")})
	require.NoError(t, err)
	assert.IsType(t, &JSONFileStore{}, st)
	require.NoError(t, st.Close())

	_, err = Open(Options{Driver: "postgres"})
	assert.ErrorIs(t, err, ErrUnknownDriver)
}

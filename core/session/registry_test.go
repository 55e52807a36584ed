package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wricardo/mcp-training/userdirectory/core/engine"
)

var initBody = []byte(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"t","version":"1"}}}`)

func testFactory(extra ...engine.Option) Factory {
	return func(id string, opts ...engine.Option) (*engine.Engine, error) {
		srv := server.NewMCPServer("test", "0.1", server.WithToolCapabilities(true))
		return engine.New(id, srv, append(extra, opts...)...), nil
	}
}

// countingObserver records registry events
type countingObserver struct {
	created atomic.Int32
	evicted atomic.Int32
	mu      sync.Mutex
	reasons map[string][]engine.CloseReason
}

func newCountingObserver() *countingObserver {
	return &countingObserver{reasons: map[string][]engine.CloseReason{}}
}

func (o *countingObserver) SessionCreated(id string) { o.created.Add(1) }

func (o *countingObserver) SessionEvicted(id string, reason engine.CloseReason, _ time.Duration) {
	o.evicted.Add(1)
	o.mu.Lock()
	o.reasons[id] = append(o.reasons[id], reason)
	o.mu.Unlock()
}

// forEachStore runs fn against every Store implementation
func forEachStore(t *testing.T, fn func(t *testing.T, newStore func() Store)) {
	stores := map[string]func() Store{
		"locked":  func() Store { return NewLockedStore() },
		"syncmap": func() Store { return NewSyncMapStore() },
	}
	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) { fn(t, newStore) })
	}
}

func createActive(t *testing.T, reg *Registry) *Session {
	t.Helper()
	sess, err := reg.Create()
	require.NoError(t, err)
	_, err = sess.Engine.Handle(context.Background(), initBody)
	require.NoError(t, err)
	return sess
}

func TestRegistry_ConcurrentCreateYieldsDistinctIDs(t *testing.T) {
	forEachStore(t, func(t *testing.T, newStore func() Store) {
		obs := newCountingObserver()
		reg := NewRegistry(testFactory(), WithStore(newStore()), WithObserver(obs))

		const n = 100
		ids := make(chan string, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				sess, err := reg.Create()
				if assert.NoError(t, err) {
					ids <- sess.ID
				}
			}()
		}
		wg.Wait()
		close(ids)

		seen := map[string]bool{}
		for id := range ids {
			assert.NotEmpty(t, id)
			assert.False(t, seen[id], "duplicate id %s", id)
			seen[id] = true
		}
		assert.Len(t, seen, n)
		assert.Equal(t, n, reg.Count())
		assert.EqualValues(t, n, obs.created.Load())
	})
}

func TestRegistry_LookupHidesUninitialized(t *testing.T) {
	forEachStore(t, func(t *testing.T, newStore func() Store) {
		reg := NewRegistry(testFactory(), WithStore(newStore()))

		sess, err := reg.Create()
		require.NoError(t, err)

		_, err = reg.Lookup(sess.ID)
		assert.ErrorIs(t, err, ErrSessionNotFound)

		_, err = sess.Engine.Handle(context.Background(), initBody)
		require.NoError(t, err)

		got, err := reg.Lookup(sess.ID)
		require.NoError(t, err)
		assert.Same(t, sess.Engine, got.Engine)
	})
}

func TestRegistry_LookupUnknown(t *testing.T) {
	reg := NewRegistry(testFactory())
	_, err := reg.Lookup("never-created")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = reg.Lookup("")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Equal(t, 0, reg.Count())
}

func TestRegistry_EvictIsIdempotentAndFinal(t *testing.T) {
	forEachStore(t, func(t *testing.T, newStore func() Store) {
		obs := newCountingObserver()
		reg := NewRegistry(testFactory(), WithStore(newStore()), WithObserver(obs))
		sess := createActive(t, reg)

		assert.True(t, reg.Evict(sess.ID, engine.ReasonClientTerminated))
		assert.False(t, reg.Evict(sess.ID, engine.ReasonClientTerminated))
		assert.False(t, reg.Evict("nope", engine.ReasonClientTerminated))

		_, err := reg.Lookup(sess.ID)
		assert.ErrorIs(t, err, ErrSessionNotFound)
		assert.Equal(t, engine.StateClosed, sess.Engine.State())
		assert.EqualValues(t, 1, obs.evicted.Load())
		assert.Equal(t, 0, reg.Count())
	})
}

func TestRegistry_EvictExactlyOnceUnderRace(t *testing.T) {
	forEachStore(t, func(t *testing.T, newStore func() Store) {
		obs := newCountingObserver()
		reg := NewRegistry(testFactory(), WithStore(newStore()), WithObserver(obs))
		sess := createActive(t, reg)

		var removed atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				if reg.Evict(sess.ID, engine.ReasonTransportClosed) {
					removed.Add(1)
				}
			}()
			go func() {
				defer wg.Done()
				// The engine closing itself races the router's evictions.
				sess.Engine.Close(engine.ReasonEngineFault)
			}()
		}
		wg.Wait()

		assert.LessOrEqual(t, removed.Load(), int32(1))
		assert.EqualValues(t, 1, obs.evicted.Load())
		assert.Len(t, obs.reasons[sess.ID], 1)
		assert.Equal(t, 0, reg.Count())
	})
}

func TestRegistry_LookupRacingEvictNeverSeesHalfClosedEngine(t *testing.T) {
	forEachStore(t, func(t *testing.T, newStore func() Store) {
		reg := NewRegistry(testFactory(), WithStore(newStore()))
		sess := createActive(t, reg)
		ping := []byte(`{"jsonrpc":"2.0","id":5,"method":"ping"}`)

		var wg sync.WaitGroup
		for i := 0; i < 32; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				got, err := reg.Lookup(sess.ID)
				if err != nil {
					assert.ErrorIs(t, err, ErrSessionNotFound)
					return
				}
				resp, err := got.Engine.Handle(context.Background(), ping)
				if err != nil {
					assert.ErrorIs(t, err, engine.ErrClosed)
					return
				}
				assert.NotNil(t, resp)
			}()
			go func() {
				defer wg.Done()
				reg.Evict(sess.ID, engine.ReasonClientTerminated)
			}()
		}
		wg.Wait()

		_, err := reg.Lookup(sess.ID)
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})
}

func TestRegistry_EngineSelfCloseEvicts(t *testing.T) {
	obs := newCountingObserver()
	reg := NewRegistry(testFactory(), WithObserver(obs))
	sess := createActive(t, reg)

	sess.Engine.Close(engine.ReasonTransportClosed)

	assert.Equal(t, 0, reg.Count())
	assert.Equal(t, []engine.CloseReason{engine.ReasonTransportClosed}, obs.reasons[sess.ID])
	assert.False(t, reg.Evict(sess.ID, engine.ReasonClientTerminated))
}

func TestRegistry_IDGeneratorFailure(t *testing.T) {
	reg := NewRegistry(testFactory(), WithIDGenerator(func() (string, error) {
		return "", errors.New("entropy exhausted")
	}))
	_, err := reg.Create()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "entropy exhausted")
	assert.Equal(t, 0, reg.Count())
}

func TestRegistry_IDCollisionRegenerates(t *testing.T) {
	ids := []string{"dup", "dup", "dup", "fresh"}
	var i int
	var mu sync.Mutex
	reg := NewRegistry(testFactory(), WithIDGenerator(func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		id := ids[i]
		i++
		return id, nil
	}))

	first, err := reg.Create()
	require.NoError(t, err)
	assert.Equal(t, "dup", first.ID)

	second, err := reg.Create()
	require.NoError(t, err)
	assert.Equal(t, "fresh", second.ID)
	assert.NotSame(t, first.Engine, second.Engine)
	assert.Equal(t, 2, reg.Count())
}

func TestRegistry_IDExhausted(t *testing.T) {
	reg := NewRegistry(testFactory(), WithIDGenerator(func() (string, error) { return "same", nil }))
	_, err := reg.Create()
	require.NoError(t, err)
	_, err = reg.Create()
	assert.ErrorIs(t, err, ErrIDExhausted)
	assert.Equal(t, 1, reg.Count())
}

func TestRegistry_FactoryFailure(t *testing.T) {
	reg := NewRegistry(func(id string, opts ...engine.Option) (*engine.Engine, error) {
		return nil, errors.New("no engines today")
	})
	_, err := reg.Create()
	assert.Error(t, err)
	assert.Equal(t, 0, reg.Count())
}

func TestRegistry_EnginesAreNeverShared(t *testing.T) {
	reg := NewRegistry(testFactory())
	a := createActive(t, reg)
	b := createActive(t, reg)
	assert.NotEqual(t, a.ID, b.ID)
	assert.NotSame(t, a.Engine, b.Engine)

	reg.Evict(a.ID, engine.ReasonClientTerminated)
	got, err := reg.Lookup(b.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.StateActive, got.Engine.State())
}

func TestRegistry_CloseAllAndSnapshot(t *testing.T) {
	reg := NewRegistry(testFactory())
	createActive(t, reg)
	createActive(t, reg)
	_, err := reg.Create()
	require.NoError(t, err)

	infos := reg.Snapshot()
	require.Len(t, infos, 3)
	states := map[string]int{}
	for _, in := range infos {
		states[in.State]++
	}
	assert.Equal(t, map[string]int{"active": 2, "uninitialized": 1}, states)

	assert.Equal(t, 3, reg.CloseAll(engine.ReasonShutdown))
	assert.Equal(t, 0, reg.Count())
}

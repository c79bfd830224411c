package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darianhuotari/rickmorty-sre-demo/internal/store"
)

type fakeClient struct {
	mu         sync.Mutex
	characters []store.Character
	err        error
	calls      int
}

func (f *fakeClient) FetchAll(_ context.Context) ([]store.Character, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.characters, nil
}

func (f *fakeClient) Probe(_ context.Context) bool { return f.err == nil }

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeStore struct {
	store.Store

	mu          sync.Mutex
	count       int
	countErr    error
	countCalls  int
	upsertErr   error
	upsertCalls int
	upserted    []store.Character
}

func (f *fakeStore) CountCharacters(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.countCalls++
	return f.count, f.countErr
}

func (f *fakeStore) UpsertCharacters(_ context.Context, chars []store.Character) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upsertCalls++
	if f.upsertErr != nil {
		return 0, f.upsertErr
	}
	f.upserted = chars
	return len(chars), nil
}

func (f *fakeStore) upsertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.upsertCalls
}

type fakeLocker struct {
	available bool
	locked    []int64
	unlocked  []int64
}

func (f *fakeLocker) TryLock(_ context.Context, key int64) bool {
	if !f.available {
		return false
	}
	f.locked = append(f.locked, key)
	return true
}

func (f *fakeLocker) Unlock(_ context.Context, key int64) {
	f.unlocked = append(f.unlocked, key)
}

type fakeInvalidator struct {
	calls int
}

func (f *fakeInvalidator) InvalidateAll() { f.calls++ }

func sampleCharacters() []store.Character {
	return []store.Character{
		{ID: 1, Name: "Rick Sanchez", Status: "Alive", Species: "Human", Origin: "Earth (C-137)"},
		{ID: 2, Name: "Morty Smith", Status: "Alive", Species: "Human", Origin: "Earth (C-137)"},
	}
}

func TestSeedIfEmptyIngestsOnce(t *testing.T) {
	t.Parallel()

	st := &fakeStore{}
	locker := &fakeLocker{available: true}
	client := &fakeClient{characters: sampleCharacters()}
	cache := &fakeInvalidator{}
	p := NewPipeline(st, locker, client, cache, time.Minute)

	n, err := p.SeedIfEmpty(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, client.calls)
	assert.Equal(t, 1, st.upsertCalls)
	assert.Equal(t, 1, cache.calls)
	assert.Equal(t, []int64{seedLockKey}, locker.locked)
	assert.Equal(t, []int64{seedLockKey}, locker.unlocked)

	// A second seed sees a populated store and does nothing.
	st.count = 2
	n, err = p.SeedIfEmpty(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 1, client.calls, "no second fetch once seeded")
}

func TestSeedIfEmptySkipsWhenLockHeld(t *testing.T) {
	t.Parallel()

	st := &fakeStore{}
	locker := &fakeLocker{available: false}
	client := &fakeClient{characters: sampleCharacters()}
	p := NewPipeline(st, locker, client, nil, time.Minute)

	n, err := p.SeedIfEmpty(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 0, st.countCalls, "no store access without the lock")
	assert.Equal(t, 0, client.calls)
}

func TestSeedIfEmptyChecksCountAfterLock(t *testing.T) {
	t.Parallel()

	st := &fakeStore{count: 42}
	locker := &fakeLocker{available: true}
	client := &fakeClient{characters: sampleCharacters()}
	p := NewPipeline(st, locker, client, nil, time.Minute)

	n, err := p.SeedIfEmpty(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	require.Equal(t, 1, st.countCalls)
	assert.Equal(t, []int64{seedLockKey}, locker.locked, "count runs under the lock")
	assert.Equal(t, 0, client.calls)
	assert.Equal(t, []int64{seedLockKey}, locker.unlocked, "lock released on the no-op path")
}

func TestRefreshIfStaleFastPathSkipsUpstream(t *testing.T) {
	t.Parallel()

	st := &fakeStore{}
	locker := &fakeLocker{available: true}
	client := &fakeClient{characters: sampleCharacters()}
	p := NewPipeline(st, locker, client, nil, 10*time.Minute)

	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return current }

	n, err := p.RefreshIfStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n, "a never-refreshed pipeline is stale")
	require.Equal(t, 1, client.calls)

	// Within the TTL no lock is touched and no fetch happens.
	current = current.Add(5 * time.Minute)
	locker.locked = nil
	n, err = p.RefreshIfStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 1, client.calls)
	assert.Empty(t, locker.locked, "fresh data must not acquire the lock")

	// Past the TTL a refresh runs under the refresh lock.
	current = current.Add(6 * time.Minute)
	n, err = p.RefreshIfStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []int64{refreshLockKey}, locker.locked)
}

func TestRefreshIfStaleSkipsWhenLockHeld(t *testing.T) {
	t.Parallel()

	st := &fakeStore{}
	locker := &fakeLocker{available: false}
	client := &fakeClient{characters: sampleCharacters()}
	p := NewPipeline(st, locker, client, nil, time.Minute)

	n, err := p.RefreshIfStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 0, client.calls)
	assert.Equal(t, 0, st.upsertCalls)
}

func TestIngestFailureLeavesPipelineStale(t *testing.T) {
	t.Parallel()

	upstreamDown := errors.New("connect: connection refused")
	st := &fakeStore{}
	locker := &fakeLocker{available: true}
	client := &fakeClient{err: upstreamDown}
	cache := &fakeInvalidator{}
	p := NewPipeline(st, locker, client, cache, time.Minute)

	_, err := p.RefreshIfStale(context.Background())
	require.ErrorIs(t, err, upstreamDown)

	_, ok := p.LastRefreshAge()
	assert.False(t, ok, "failed sync must not advance the refresh timestamp")
	assert.Equal(t, 0, cache.calls, "failed sync must not invalidate the cache")
	assert.Equal(t, []int64{refreshLockKey}, locker.unlocked, "lock released on failure")

	// The pipeline is still stale, so the next call retries upstream.
	client.err = nil
	client.characters = sampleCharacters()
	n, err := p.RefreshIfStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestUpsertFailurePropagates(t *testing.T) {
	t.Parallel()

	dbDown := errors.New("pool closed")
	st := &fakeStore{upsertErr: dbDown}
	locker := &fakeLocker{available: true}
	client := &fakeClient{characters: sampleCharacters()}
	p := NewPipeline(st, locker, client, nil, time.Minute)

	_, err := p.RefreshIfStale(context.Background())
	require.ErrorIs(t, err, dbDown)
	_, ok := p.LastRefreshAge()
	assert.False(t, ok)
}

func TestEmptyFetchSkipsInvalidation(t *testing.T) {
	t.Parallel()

	st := &fakeStore{}
	locker := &fakeLocker{available: true}
	client := &fakeClient{characters: nil}
	cache := &fakeInvalidator{}
	p := NewPipeline(st, locker, client, cache, time.Minute)

	n, err := p.RefreshIfStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 0, cache.calls, "nothing ingested, nothing to invalidate")

	_, ok := p.LastRefreshAge()
	assert.True(t, ok, "an empty but successful sync still counts as a refresh")
}

func TestLastRefreshAge(t *testing.T) {
	t.Parallel()

	st := &fakeStore{}
	locker := &fakeLocker{available: true}
	client := &fakeClient{characters: sampleCharacters()}
	p := NewPipeline(st, locker, client, nil, time.Minute)

	_, ok := p.LastRefreshAge()
	assert.False(t, ok)

	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return current }

	_, err := p.RefreshIfStale(context.Background())
	require.NoError(t, err)

	current = current.Add(12345 * time.Millisecond)
	age, ok := p.LastRefreshAge()
	require.True(t, ok)
	assert.InDelta(t, 12.35, age, 0.001)
}

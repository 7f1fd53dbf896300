package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"voice-id/internal/cache"
	"voice-id/internal/catalog"
	"voice-id/internal/embeddings"
	"voice-id/internal/events"
	"voice-id/internal/faults"
	"voice-id/internal/identity"
	"voice-id/internal/profilestore"
)

func newStore(t *testing.T, dir string) *profilestore.Store {
	t.Helper()
	s, err := profilestore.New(dir)
	require.NoError(t, err)
	return s
}

func newRegistry(t *testing.T, store *profilestore.Store, opts ...Option) *Registry {
	t.Helper()
	r, err := New(context.Background(), store, opts...)
	require.NoError(t, err)
	return r
}

func eventOf(typ events.Type, speakerID string, count int) any {
	return mock.MatchedBy(func(ev events.Event) bool {
		return ev.Type == typ && ev.SpeakerID == speakerID && ev.SampleCount == count
	})
}

func TestNewRequiresStore(t *testing.T) {
	_, err := New(context.Background(), nil)
	assert.ErrorIs(t, err, faults.ErrConfiguration)
}

func TestNewHydratesFromStore(t *testing.T) {
	dir := t.TempDir()
	store := newStore(t, dir)
	alice := identity.New("alice")
	require.NoError(t, alice.AddSample(embeddings.Vector{1, 0}))
	require.NoError(t, alice.AddSample(embeddings.Vector{0, 1}))
	bob := identity.New("bob")
	require.NoError(t, bob.AddSample(embeddings.Vector{1, 1}))
	require.True(t, store.Save(alice))
	require.True(t, store.Save(bob))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.profile"), []byte("garbage"), 0o644))

	c := new(cache.MockCache)
	c.On("Flush", mock.Anything).Return(nil).Once()

	r := newRegistry(t, newStore(t, dir), WithCache(c, time.Minute))

	assert.Equal(t, []string{"alice", "bob"}, r.Speakers())
	assert.Equal(t, 2, r.SampleCount("alice"))
	assert.Equal(t, 3, r.TotalSamples())
	assert.Equal(t, 0, r.SampleCount("carol"))
	c.AssertExpectations(t)
}

func TestEnrollPersistsAndNotifies(t *testing.T) {
	dir := t.TempDir()
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	c := new(cache.MockCache)
	c.On("Flush", mock.Anything).Return(nil).Once()
	c.On("InvalidateSpeaker", mock.Anything, "alice").Return(nil).Twice()
	p := new(events.MockPublisher)
	p.On("Publish", mock.Anything, eventOf(events.TypeEnrolled, "alice", 1)).Return(nil).Once()
	p.On("Publish", mock.Anything, eventOf(events.TypeEnrolled, "alice", 2)).Return(nil).Once()

	r := newRegistry(t, newStore(t, dir),
		WithCache(c, time.Minute),
		WithPublisher(p),
		WithClock(func() time.Time { return fixed }),
	)

	ctx := context.Background()
	require.NoError(t, r.Enroll(ctx, "alice", embeddings.Vector{0.1, 0.2, 0.3}))
	require.NoError(t, r.Enroll(ctx, "alice", embeddings.Vector{0.4, 0.5, 0.6}))

	assert.Equal(t, 2, r.SampleCount("alice"))
	assert.True(t, r.ExistsOnDisk("alice"))

	sum, ok := r.Speaker("alice")
	require.True(t, ok)
	assert.Equal(t, 2, sum.SampleCount)
	require.NotNil(t, sum.Metadata.CreatedAt)
	assert.True(t, fixed.Equal(*sum.Metadata.CreatedAt))

	loaded := newStore(t, dir).LoadAll()
	assert.Equal(t, []embeddings.Vector{{0.1, 0.2, 0.3}, {0.4, 0.5, 0.6}}, loaded["alice"])

	c.AssertExpectations(t)
	p.AssertExpectations(t)
}

func TestEnrollRejectsInvalidInput(t *testing.T) {
	dir := t.TempDir()
	p := new(events.MockPublisher)
	r := newRegistry(t, newStore(t, dir), WithPublisher(p))
	ctx := context.Background()

	assert.ErrorIs(t, r.Enroll(ctx, "", embeddings.Vector{1}), faults.ErrValidation)
	assert.ErrorIs(t, r.Enroll(ctx, "alice", embeddings.Vector{}), faults.ErrValidation)

	assert.Empty(t, r.Speakers(), "a rejected first sample must not leave a speaker behind")
	assert.False(t, r.ExistsOnDisk("alice"))
	p.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestEnrollToleratesCollaboratorFailures(t *testing.T) {
	c := new(cache.MockCache)
	c.On("Flush", mock.Anything).Return(errors.New("redis down")).Once()
	c.On("InvalidateSpeaker", mock.Anything, "alice").Return(errors.New("redis down")).Once()
	p := new(events.MockPublisher)
	p.On("Publish", mock.Anything, mock.Anything).Return(errors.New("nats down")).Times(publishAttempts)

	r := newRegistry(t, newStore(t, t.TempDir()), WithCache(c, time.Minute), WithPublisher(p))

	require.NoError(t, r.Enroll(context.Background(), "alice", embeddings.Vector{1, 2}))
	assert.Equal(t, 1, r.SampleCount("alice"))
	assert.True(t, r.ExistsOnDisk("alice"))
	c.AssertExpectations(t)
	p.AssertExpectations(t)
}

func TestEmbeddingReadsThroughCache(t *testing.T) {
	c := new(cache.MockCache)
	c.On("Flush", mock.Anything).Return(nil).Once()
	c.On("InvalidateSpeaker", mock.Anything, "alice").Return(nil).Once()
	c.On("GetEmbedding", mock.Anything, "alice").Return(nil, nil).Once()
	c.On("SetEmbedding", mock.Anything, "alice", embeddings.Vector{0.6, 0.8}, time.Minute).Return(nil).Once()
	c.On("GetEmbedding", mock.Anything, "alice").Return(embeddings.Vector{1, 0}, nil).Once()

	r := newRegistry(t, newStore(t, t.TempDir()), WithCache(c, time.Minute))
	ctx := context.Background()
	require.NoError(t, r.Enroll(ctx, "alice", embeddings.Vector{0.6, 0.8}))

	v, err := r.Embedding(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, embeddings.Vector{0.6, 0.8}, v)

	v, err = r.Embedding(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, embeddings.Vector{1, 0}, v, "second read is served from the cache")

	c.AssertExpectations(t)
}

// memCache is a map-backed cache. beforeSet, when set, runs inside
// SetEmbedding before the value is stored.
type memCache struct {
	cache.NoOpCache
	mu        sync.Mutex
	entries   map[string]embeddings.Vector
	beforeSet func()
}

func (c *memCache) GetEmbedding(_ context.Context, speakerID string) (embeddings.Vector, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[speakerID], nil
}

func (c *memCache) SetEmbedding(_ context.Context, speakerID string, v embeddings.Vector, _ time.Duration) error {
	if hook := c.beforeSet; hook != nil {
		c.beforeSet = nil
		hook()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[speakerID] = v
	return nil
}

func (c *memCache) InvalidateSpeaker(_ context.Context, speakerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, speakerID)
	return nil
}

func TestEmbeddingNotCachedAcrossConcurrentEnroll(t *testing.T) {
	c := &memCache{entries: make(map[string]embeddings.Vector)}
	r := newRegistry(t, newStore(t, t.TempDir()), WithCache(c, time.Hour))
	ctx := context.Background()
	require.NoError(t, r.Enroll(ctx, "bob", embeddings.Vector{1, 0}))

	c.beforeSet = func() {
		require.NoError(t, r.Enroll(ctx, "bob", embeddings.Vector{0, 1}))
	}
	v, err := r.Embedding(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, embeddings.Vector{1, 0}, v)

	v, err = r.Embedding(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, v.ApproxEqual(embeddings.Vector{0.70710677, 0.70710677}, 1e-6), "got %v", v)

	v, err = r.Embedding(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, v.ApproxEqual(embeddings.Vector{0.70710677, 0.70710677}, 1e-6), "cached %v", v)
}

func TestEmbeddingSkipsCacheWriteAfterClear(t *testing.T) {
	c := &memCache{entries: make(map[string]embeddings.Vector)}
	r := newRegistry(t, newStore(t, t.TempDir()), WithCache(c, time.Hour))
	ctx := context.Background()
	require.NoError(t, r.Enroll(ctx, "bob", embeddings.Vector{1, 0}))

	c.beforeSet = func() {
		require.NoError(t, r.ClearSpeaker(ctx, "bob"))
	}
	_, err := r.Embedding(ctx, "bob")
	require.NoError(t, err)

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.NotContains(t, c.entries, "bob")
}

func TestEmbeddingAveragesSamples(t *testing.T) {
	r := newRegistry(t, newStore(t, ""))
	ctx := context.Background()
	require.NoError(t, r.Enroll(ctx, "alice", embeddings.Vector{1, 0}))
	require.NoError(t, r.Enroll(ctx, "alice", embeddings.Vector{0, 1}))

	v, err := r.Embedding(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, v.ApproxEqual(embeddings.Vector{0.70710677, 0.70710677}, 1e-6))
	assert.InDelta(t, 1.0, v.Norm(), 1e-6)

	_, err = r.Embedding(ctx, "bob")
	assert.ErrorIs(t, err, ErrSpeakerNotFound)
}

func TestRemoveSample(t *testing.T) {
	dir := t.TempDir()
	r := newRegistry(t, newStore(t, dir))
	ctx := context.Background()
	require.NoError(t, r.Enroll(ctx, "alice", embeddings.Vector{1}))
	require.NoError(t, r.Enroll(ctx, "alice", embeddings.Vector{2}))

	assert.ErrorIs(t, r.RemoveSample(ctx, "bob", 0), ErrSpeakerNotFound)
	assert.ErrorIs(t, r.RemoveSample(ctx, "alice", -1), faults.ErrValidation)
	assert.ErrorIs(t, r.RemoveSample(ctx, "alice", 2), faults.ErrValidation)
	assert.Equal(t, 2, r.SampleCount("alice"))

	require.NoError(t, r.RemoveSample(ctx, "alice", 0))
	assert.Equal(t, 1, r.SampleCount("alice"))
	assert.Equal(t, []embeddings.Vector{{2}}, newStore(t, dir).LoadAll()["alice"])

	require.NoError(t, r.RemoveSample(ctx, "alice", 0))
	_, err := r.Embedding(ctx, "alice")
	assert.ErrorIs(t, err, identity.ErrNoSamples)
}

func TestClearSpeaker(t *testing.T) {
	p := new(events.MockPublisher)
	p.On("Publish", mock.Anything, eventOf(events.TypeEnrolled, "alice", 1)).Return(nil).Once()
	p.On("Publish", mock.Anything, eventOf(events.TypeCleared, "alice", 0)).Return(nil).Once()

	r := newRegistry(t, newStore(t, t.TempDir()), WithPublisher(p))
	ctx := context.Background()
	require.NoError(t, r.Enroll(ctx, "alice", embeddings.Vector{1}))

	require.NoError(t, r.ClearSpeaker(ctx, "alice"))
	assert.Empty(t, r.Speakers())
	assert.False(t, r.ExistsOnDisk("alice"))
	assert.ErrorIs(t, r.ClearSpeaker(ctx, "alice"), ErrSpeakerNotFound)
	p.AssertExpectations(t)
}

func TestReload(t *testing.T) {
	dir := t.TempDir()
	r := newRegistry(t, newStore(t, dir))
	ctx := context.Background()
	require.NoError(t, r.Enroll(ctx, "alice", embeddings.Vector{1, 0}))

	// Another writer adds samples to the file behind the registry's back.
	other := identity.New("alice")
	require.NoError(t, other.AddSample(embeddings.Vector{1, 0}))
	require.NoError(t, other.AddSample(embeddings.Vector{0, 1}))
	require.NoError(t, other.AddSample(embeddings.Vector{1, 1}))
	require.True(t, newStore(t, dir).Save(other))

	require.NoError(t, r.Reload(ctx, "alice"))
	assert.Equal(t, 3, r.SampleCount("alice"))

	assert.ErrorIs(t, r.Reload(ctx, "bob"), ErrSpeakerNotFound)
}

func TestStorageMaintenance(t *testing.T) {
	dir := t.TempDir()
	store := newStore(t, dir)
	r := newRegistry(t, store)
	ctx := context.Background()
	require.NoError(t, r.Enroll(ctx, "alice", embeddings.Vector{1, 2}))

	ghost := identity.New("ghost")
	require.NoError(t, ghost.AddSample(embeddings.Vector{3, 4}))
	require.True(t, store.Save(ghost))

	st := r.StorageStats()
	assert.Equal(t, 1, st.TotalSpeakers)
	assert.Equal(t, 2, st.DiskProfiles)
	assert.Equal(t, 1, st.OrphanedFiles)

	assert.True(t, r.Backup(""))
	assert.FileExists(t, filepath.Join(dir, profilestore.BackupDirName, "ghost.profile"))

	assert.Equal(t, 1, r.CleanupOrphans())
	assert.Equal(t, 0, r.CleanupOrphans())
	assert.Equal(t, 1, r.SaveAll())
}

func TestExportMetadataSyncsCatalog(t *testing.T) {
	fixed := time.Date(2025, 5, 5, 0, 0, 0, 0, time.UTC)
	cat := new(catalog.MockCatalog)
	cat.On("Sync", mock.Anything, mock.MatchedBy(func(entries []catalog.Entry) bool {
		return len(entries) == 1 && entries[0].SpeakerID == "alice" &&
			entries[0].SampleCount == 1 && entries[0].FileExists && entries[0].UpdatedAt.Equal(fixed)
	})).Return(nil).Once()

	r := newRegistry(t, newStore(t, t.TempDir()), WithCatalog(cat), WithClock(func() time.Time { return fixed }))
	ctx := context.Background()
	require.NoError(t, r.Enroll(ctx, "alice", embeddings.Vector{1}))

	out := filepath.Join(t.TempDir(), "meta.json")
	exp := r.ExportMetadata(ctx, out)

	assert.Equal(t, 1, exp.TotalSpeakers)
	assert.FileExists(t, out)
	cat.AssertExpectations(t)
}

func TestEnrollAudio(t *testing.T) {
	ctx := context.Background()
	pcm := []float32{0.1, -0.1, 0.2}

	t.Run("no extractor", func(t *testing.T) {
		r := newRegistry(t, newStore(t, ""))
		assert.ErrorIs(t, r.EnrollAudio(ctx, "alice", pcm, 16000), faults.ErrConfiguration)
	})

	t.Run("extracts and enrolls", func(t *testing.T) {
		ex := new(embeddings.MockExtractor)
		ex.On("Extract", mock.Anything, pcm, 16000).Return(embeddings.Vector{0.3, 0.4}, nil).Once()
		r := newRegistry(t, newStore(t, ""), WithExtractor(ex))

		require.NoError(t, r.EnrollAudio(ctx, "alice", pcm, 16000))
		assert.Equal(t, 1, r.SampleCount("alice"))
		ex.AssertExpectations(t)
	})

	t.Run("extractor failure", func(t *testing.T) {
		ex := new(embeddings.MockExtractor)
		ex.On("Extract", mock.Anything, pcm, 16000).Return(nil, errors.New("model crashed")).Once()
		r := newRegistry(t, newStore(t, ""), WithExtractor(ex))

		assert.ErrorIs(t, r.EnrollAudio(ctx, "alice", pcm, 16000), faults.ErrComputation)
		assert.Empty(t, r.Speakers())
	})

	t.Run("invalid audio", func(t *testing.T) {
		r := newRegistry(t, newStore(t, ""), WithExtractor(new(embeddings.MockExtractor)))
		assert.ErrorIs(t, r.EnrollAudio(ctx, "alice", nil, 16000), faults.ErrValidation)
		assert.ErrorIs(t, r.EnrollAudio(ctx, "alice", pcm, 0), faults.ErrValidation)
	})
}

func TestDisabledStorage(t *testing.T) {
	r := newRegistry(t, newStore(t, ""))
	ctx := context.Background()
	require.NoError(t, r.Enroll(ctx, "alice", embeddings.Vector{1}))

	assert.False(t, r.ExistsOnDisk("alice"))
	assert.Equal(t, 0, r.SaveAll())
	assert.False(t, r.Backup(""))
	assert.Equal(t, 0, r.CleanupOrphans())
	assert.ErrorIs(t, r.Reload(ctx, "alice"), ErrSpeakerNotFound)
	assert.Equal(t, 1, r.SampleCount("alice"))
}

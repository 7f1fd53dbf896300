// Package registry owns the authoritative in-memory map of enrolled speakers
// and keeps the profile store, embedding cache, event stream and catalog in
// step with it.
//
// New hydrates from the store before returning, so no mutation can race the
// initial load. Every operation serializes on one mutex.
package registry

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"voice-id/internal/cache"
	"voice-id/internal/catalog"
	"voice-id/internal/embeddings"
	"voice-id/internal/events"
	"voice-id/internal/faults"
	"voice-id/internal/identity"
	"voice-id/internal/logger"
	"voice-id/internal/profilestore"
)

// ErrSpeakerNotFound is returned for operations on an unknown speaker id.
var ErrSpeakerNotFound = errors.New("speaker not found")

const (
	publishAttempts = 3
	publishBackoff  = 100 * time.Millisecond
)

// Registry is the set of enrolled speakers.
type Registry struct {
	mu       sync.Mutex
	speakers map[string]*identity.Speaker
	// gen counts mutations per speaker id; a cached embedding is only
	// valid for the generation it was computed at.
	gen map[string]uint64

	store     *profilestore.Store
	cache     cache.Cache
	cacheTTL  time.Duration
	pub       events.Publisher
	catalog   catalog.Catalog
	extractor embeddings.Extractor
	log       *slog.Logger
	now       func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used by the registry and its speakers.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// WithCache caches representative embeddings for ttl.
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(r *Registry) {
		if c != nil {
			r.cache = c
			r.cacheTTL = ttl
		}
	}
}

// WithPublisher announces every change on p.
func WithPublisher(p events.Publisher) Option {
	return func(r *Registry) {
		if p != nil {
			r.pub = p
		}
	}
}

// WithCatalog mirrors every metadata export into c.
func WithCatalog(c catalog.Catalog) Option {
	return func(r *Registry) { r.catalog = c }
}

// WithExtractor enables EnrollAudio.
func WithExtractor(e embeddings.Extractor) Option {
	return func(r *Registry) { r.extractor = e }
}

// WithClock overrides the time source for speaker metadata and events.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// New builds a registry over store and loads every profile it holds.
// Profiles that fail to restore are logged and skipped.
func New(ctx context.Context, store *profilestore.Store, opts ...Option) (*Registry, error) {
	if store == nil {
		return nil, faults.New(faults.ErrConfiguration, "new registry", "profile store is required")
	}
	r := &Registry{
		speakers: make(map[string]*identity.Speaker),
		gen:      make(map[string]uint64),
		store:    store,
		cache:    cache.NewNoOpCache(),
		pub:      events.NoOpPublisher{},
		log:      logger.Discard(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(r)
	}

	for _, p := range store.LoadAllProfiles() {
		sp, err := identity.Restore(p.SpeakerID, p.Embeddings, p.Metadata, r.speakerOpts()...)
		if err != nil {
			r.log.Error("failed to restore speaker", "speaker_id", p.SpeakerID, "path", p.Path, "err", err)
			continue
		}
		r.speakers[p.SpeakerID] = sp
	}
	// Entries cached by a previous process may describe samples that were
	// never persisted.
	if err := r.cache.Flush(ctx); err != nil {
		r.log.Warn("failed to flush embedding cache", "err", err)
	}
	r.log.Info("registry loaded", "count", len(r.speakers), "storage_enabled", store.Enabled())
	return r, nil
}

func (r *Registry) speakerOpts() []identity.Option {
	return []identity.Option{identity.WithLogger(r.log), identity.WithClock(r.now)}
}

// Enroll adds one sample to speakerID, creating the speaker if needed, and
// saves its profile. A rejected sample leaves the registry unchanged.
func (r *Registry) Enroll(ctx context.Context, speakerID string, v embeddings.Vector) error {
	if speakerID == "" {
		return faults.Validation("enroll", "speaker id is empty")
	}
	r.mu.Lock()
	sp, ok := r.speakers[speakerID]
	if !ok {
		sp = identity.New(speakerID, r.speakerOpts()...)
	}
	if err := sp.AddSample(v); err != nil {
		r.mu.Unlock()
		return err
	}
	r.speakers[speakerID] = sp
	r.gen[speakerID]++
	if !r.store.Save(sp) {
		r.log.Warn("enrolled sample not persisted", "speaker_id", speakerID)
	}
	count := sp.SampleCount()
	r.mu.Unlock()

	r.log.Info("enrolled sample", "speaker_id", speakerID, "count", count)
	r.changed(ctx, events.TypeEnrolled, speakerID, count)
	return nil
}

// EnrollAudio extracts an embedding from mono PCM audio and enrolls it.
func (r *Registry) EnrollAudio(ctx context.Context, speakerID string, pcm []float32, sampleRate int) error {
	if r.extractor == nil {
		return faults.New(faults.ErrConfiguration, "enroll audio", "no embedding extractor configured")
	}
	if len(pcm) == 0 || sampleRate <= 0 {
		return faults.Validation("enroll audio", "empty audio or invalid sample rate %d", sampleRate)
	}
	v, err := r.extractor.Extract(ctx, pcm, sampleRate)
	if err != nil {
		return faults.Wrap(err, faults.ErrComputation, "extract embedding")
	}
	return r.Enroll(ctx, speakerID, v)
}

// Embedding returns the representative embedding of speakerID, reading
// through the cache.
func (r *Registry) Embedding(ctx context.Context, speakerID string) (embeddings.Vector, error) {
	r.mu.Lock()
	_, ok := r.speakers[speakerID]
	r.mu.Unlock()
	if !ok {
		return nil, ErrSpeakerNotFound
	}

	if v, err := r.cache.GetEmbedding(ctx, speakerID); err != nil {
		r.log.Warn("embedding cache read failed", "speaker_id", speakerID, "err", err)
	} else if v != nil {
		return v, nil
	}

	r.mu.Lock()
	sp, ok := r.speakers[speakerID]
	if !ok {
		r.mu.Unlock()
		return nil, ErrSpeakerNotFound
	}
	v, err := sp.Embedding()
	gen := r.gen[speakerID]
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}

	// A mutation between computing v and caching it has already invalidated
	// the key, so a late write would outlive it.
	if r.generation(speakerID) != gen {
		return v, nil
	}
	if err := r.cache.SetEmbedding(ctx, speakerID, v, r.cacheTTL); err != nil {
		r.log.Warn("embedding cache write failed", "speaker_id", speakerID, "err", err)
		return v, nil
	}
	if r.generation(speakerID) != gen {
		if err := r.cache.InvalidateSpeaker(ctx, speakerID); err != nil {
			r.log.Warn("failed to invalidate cached embedding", "speaker_id", speakerID, "err", err)
		}
	}
	return v, nil
}

func (r *Registry) generation(speakerID string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gen[speakerID]
}

// RemoveSample drops sample i of speakerID and saves the profile.
func (r *Registry) RemoveSample(ctx context.Context, speakerID string, i int) error {
	r.mu.Lock()
	sp, ok := r.speakers[speakerID]
	if !ok {
		r.mu.Unlock()
		return ErrSpeakerNotFound
	}
	if !sp.RemoveSample(i) {
		n := sp.SampleCount()
		r.mu.Unlock()
		return faults.Validation("remove sample", "index %d out of range [0, %d)", i, n)
	}
	r.gen[speakerID]++
	if !r.store.Save(sp) {
		r.log.Warn("sample removal not persisted", "speaker_id", speakerID)
	}
	count := sp.SampleCount()
	r.mu.Unlock()

	r.log.Info("removed sample", "speaker_id", speakerID, "index", i, "count", count)
	r.changed(ctx, events.TypeSampleRemoved, speakerID, count)
	return nil
}

// ClearSpeaker forgets speakerID and deletes its profile file.
func (r *Registry) ClearSpeaker(ctx context.Context, speakerID string) error {
	r.mu.Lock()
	if _, ok := r.speakers[speakerID]; !ok {
		r.mu.Unlock()
		return ErrSpeakerNotFound
	}
	delete(r.speakers, speakerID)
	r.gen[speakerID]++
	if r.store.Enabled() {
		r.store.Remove(speakerID)
	}
	r.mu.Unlock()

	r.log.Info("cleared speaker", "speaker_id", speakerID)
	r.changed(ctx, events.TypeCleared, speakerID, 0)
	return nil
}

// Reload replaces speakerID in memory with the content of its profile file.
// It fails with ErrSpeakerNotFound when no loadable file with samples exists.
func (r *Registry) Reload(ctx context.Context, speakerID string) error {
	p, ok := r.store.Reload(speakerID)
	if !ok || len(p.Embeddings) == 0 {
		return ErrSpeakerNotFound
	}
	sp, err := identity.Restore(speakerID, p.Embeddings, p.Metadata, r.speakerOpts()...)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.speakers[speakerID] = sp
	r.gen[speakerID]++
	r.mu.Unlock()

	r.log.Info("reloaded speaker", "speaker_id", speakerID, "count", sp.SampleCount())
	r.changed(ctx, events.TypeReloaded, speakerID, sp.SampleCount())
	return nil
}

// Speakers returns the enrolled speaker ids in ascending order.
func (r *Registry) Speakers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.speakers))
	for id := range r.speakers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Speaker returns the summary of speakerID.
func (r *Registry) Speaker(speakerID string) (identity.Summary, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sp, ok := r.speakers[speakerID]
	if !ok {
		return identity.Summary{}, false
	}
	return sp.Summary(), true
}

// Stats returns the sample norm statistics of speakerID.
func (r *Registry) Stats(speakerID string) (identity.EmbeddingStats, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sp, ok := r.speakers[speakerID]
	if !ok {
		return identity.EmbeddingStats{}, false
	}
	return sp.Stats(), true
}

// SampleCount returns the number of samples of speakerID, 0 if unknown.
func (r *Registry) SampleCount(speakerID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sp, ok := r.speakers[speakerID]; ok {
		return sp.SampleCount()
	}
	return 0
}

// TotalSamples sums the samples of every speaker.
func (r *Registry) TotalSamples() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return identity.Snapshot(r.speakers).TotalSamples()
}

// ExistsOnDisk reports whether speakerID has a profile file.
func (r *Registry) ExistsOnDisk(speakerID string) bool {
	return r.store.Exists(speakerID)
}

// SaveAll writes every speaker and returns how many were saved.
func (r *Registry) SaveAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.SaveAll(r.speakers)
}

// Backup copies the profile files to target, or the default backup
// directory when target is empty.
func (r *Registry) Backup(target string) bool {
	return r.store.Backup(target)
}

// CleanupOrphans removes profile files of speakers that are not enrolled.
func (r *Registry) CleanupOrphans() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.CleanupOrphans(r.speakers)
}

// StorageStats compares the registry with the profile directory.
func (r *Registry) StorageStats() profilestore.StorageStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.Stats(r.speakers)
}

// ExportMetadata describes every speaker and its file, writes the document
// to output when set and mirrors it into the catalog when one is configured.
func (r *Registry) ExportMetadata(ctx context.Context, output string) profilestore.MetadataExport {
	r.mu.Lock()
	exp := r.store.ExportMetadata(r.speakers, output)
	r.mu.Unlock()

	if r.catalog != nil {
		if err := r.catalog.Sync(ctx, catalog.EntriesFromExport(exp, r.now().UTC())); err != nil {
			r.log.Error("failed to sync catalog", "err", err)
		}
	}
	return exp
}

// changed invalidates the cached embedding and publishes ev. Failures are
// logged only; the in-memory change already happened.
func (r *Registry) changed(ctx context.Context, typ events.Type, speakerID string, count int) {
	if err := r.cache.InvalidateSpeaker(ctx, speakerID); err != nil {
		r.log.Warn("failed to invalidate cached embedding", "speaker_id", speakerID, "err", err)
	}
	ev := events.Event{
		Type:        typ,
		SpeakerID:   speakerID,
		SampleCount: count,
		OccurredAt:  r.now().UTC(),
	}
	if err := events.PublishWithRetry(ctx, r.pub, ev, publishAttempts, publishBackoff); err != nil {
		r.log.Error("failed to publish event", "type", typ, "speaker_id", speakerID, "err", err)
	}
}

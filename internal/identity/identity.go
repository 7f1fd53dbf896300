// Package identity holds the in-memory record of one enrolled speaker: its
// ordered embedding samples and the metadata derived from them.
//
// A Speaker is not safe for concurrent use; the registry serializes access.
package identity

import (
	"errors"
	"log/slog"
	"math"
	"time"

	"voice-id/internal/embeddings"
	"voice-id/internal/faults"
	"voice-id/internal/logger"
)

// ErrNoSamples is returned when a representative embedding is requested
// from a speaker without samples.
var ErrNoSamples = errors.New("speaker has no samples")

// Metadata is derived state kept next to the samples.
type Metadata struct {
	SampleCount int        `json:"sample_count" msgpack:"sample_count"`
	CreatedAt   *time.Time `json:"created_at" msgpack:"created_at"`
	LastUpdated *time.Time `json:"last_updated" msgpack:"last_updated"`
}

// Summary is a compact description of a speaker.
type Summary struct {
	ID            string   `json:"speaker_id"`
	SampleCount   int      `json:"sample_count"`
	HasEmbeddings bool     `json:"has_embeddings"`
	Metadata      Metadata `json:"metadata"`
}

// EmbeddingStats describes the per-sample L2 norms. All fields are zero for
// a speaker without samples.
type EmbeddingStats struct {
	Count     int     `json:"count"`
	Dimension int     `json:"dimension"`
	MeanNorm  float64 `json:"mean_norm"`
	StdNorm   float64 `json:"std_norm"`
}

// Snapshot maps speaker id to speaker. Callers pass it to storage
// operations that need to know what currently exists in memory.
type Snapshot map[string]*Speaker

// TotalSamples sums the sample counts of every speaker in the snapshot.
func (s Snapshot) TotalSamples() int {
	n := 0
	for _, sp := range s {
		if sp != nil {
			n += sp.SampleCount()
		}
	}
	return n
}

// Speaker owns the samples of one enrolled speaker.
type Speaker struct {
	id       string
	samples  []embeddings.Vector
	metadata Metadata

	log *slog.Logger
	now func() time.Time
}

// Option configures a Speaker.
type Option func(*Speaker)

// WithLogger sets the logger used for debug and validation messages.
func WithLogger(l *slog.Logger) Option {
	return func(s *Speaker) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock overrides the time source used for metadata timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Speaker) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates an empty speaker.
func New(id string, opts ...Option) *Speaker {
	s := &Speaker{
		id:  id,
		log: logger.Discard(),
		now: time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With("speaker_id", id)
	return s
}

// Restore rebuilds a speaker from persisted samples, keeping the persisted
// timestamps instead of stamping new ones. Invalid samples are rejected as a
// whole.
func Restore(id string, samples []embeddings.Vector, meta Metadata, opts ...Option) (*Speaker, error) {
	s := New(id, opts...)
	owned := make([]embeddings.Vector, 0, len(samples))
	for i, v := range samples {
		c, err := embeddings.New(v)
		if err != nil {
			return nil, faults.Validation("restore", "sample %d: %v", i, err)
		}
		owned = append(owned, c)
	}
	s.samples = owned
	s.metadata = Metadata{
		SampleCount: len(owned),
		CreatedAt:   copyTime(meta.CreatedAt),
		LastUpdated: copyTime(meta.LastUpdated),
	}
	return s, nil
}

// ID returns the caller-assigned speaker id.
func (s *Speaker) ID() string { return s.id }

// AddSample appends an owned copy of v. On error the speaker is unchanged.
func (s *Speaker) AddSample(v embeddings.Vector) error {
	c, err := embeddings.New(v)
	if err != nil {
		s.log.Error("failed to add sample", "err", err)
		return err
	}
	s.samples = append(s.samples, c)
	t := s.now()
	if s.metadata.CreatedAt == nil {
		s.metadata.CreatedAt = &t
	}
	s.touch(t)
	return nil
}

// RemoveSample removes the sample at i. It returns false and leaves the
// speaker unchanged when i is out of range.
func (s *Speaker) RemoveSample(i int) bool {
	if i < 0 || i >= len(s.samples) {
		return false
	}
	s.samples = append(s.samples[:i:i], s.samples[i+1:]...)
	s.touch(s.now())
	s.log.Debug("removed sample", "index", i)
	return true
}

// ClearSamples removes every sample and returns how many were removed.
func (s *Speaker) ClearSamples() int {
	n := len(s.samples)
	if n == 0 {
		return 0
	}
	s.samples = nil
	s.touch(s.now())
	s.log.Debug("cleared samples", "count", n)
	return n
}

func (s *Speaker) touch(t time.Time) {
	s.metadata.SampleCount = len(s.samples)
	s.metadata.LastUpdated = &t
}

// Sample returns a copy of the sample at i.
func (s *Speaker) Sample(i int) (embeddings.Vector, bool) {
	if i < 0 || i >= len(s.samples) {
		return nil, false
	}
	return s.samples[i].Clone(), true
}

// Samples returns copies of all samples in insertion order.
func (s *Speaker) Samples() []embeddings.Vector {
	out := make([]embeddings.Vector, len(s.samples))
	for i, v := range s.samples {
		out[i] = v.Clone()
	}
	return out
}

// Embedding returns the representative embedding: the single sample
// unmodified, or the L2-normalized element-wise mean of all samples.
// A zero mean yields embeddings.ErrZeroNorm.
func (s *Speaker) Embedding() (embeddings.Vector, error) {
	switch len(s.samples) {
	case 0:
		return nil, ErrNoSamples
	case 1:
		return s.samples[0].Clone(), nil
	}
	mean, err := embeddings.Mean(s.samples...)
	if err != nil {
		return nil, err
	}
	out, err := mean.Normalize()
	if err != nil {
		s.log.Error("representative embedding undefined", "err", err)
		return nil, err
	}
	return out, nil
}

// SampleCount returns the number of stored samples.
func (s *Speaker) SampleCount() int { return len(s.samples) }

// HasEmbeddings reports whether at least one sample is stored.
func (s *Speaker) HasEmbeddings() bool { return len(s.samples) > 0 }

// IsEmpty reports whether no sample is stored.
func (s *Speaker) IsEmpty() bool { return len(s.samples) == 0 }

// Dimensions returns the length of the first sample. It does not check the
// other samples; see CheckDimensions.
func (s *Speaker) Dimensions() (int, bool) {
	if len(s.samples) == 0 {
		return 0, false
	}
	return len(s.samples[0]), true
}

// Metadata returns a copy of the derived metadata.
func (s *Speaker) Metadata() Metadata {
	return Metadata{
		SampleCount: s.metadata.SampleCount,
		CreatedAt:   copyTime(s.metadata.CreatedAt),
		LastUpdated: copyTime(s.metadata.LastUpdated),
	}
}

// Summary returns the profile summary.
func (s *Speaker) Summary() Summary {
	return Summary{
		ID:            s.id,
		SampleCount:   len(s.samples),
		HasEmbeddings: s.HasEmbeddings(),
		Metadata:      s.Metadata(),
	}
}

// Validate checks that every sample is non-empty and finite. An empty
// speaker is valid. Dimensions are not compared across samples.
func (s *Speaker) Validate() error {
	for i, v := range s.samples {
		if len(v) == 0 {
			s.log.Warn("empty sample", "index", i)
			return faults.Validation("validate", "sample %d is empty", i)
		}
		for _, x := range v {
			if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
				s.log.Warn("non-finite sample", "index", i)
				return faults.Validation("validate", "sample %d is not finite", i)
			}
		}
	}
	return nil
}

// CheckDimensions reports an error if samples differ in length.
func (s *Speaker) CheckDimensions() error {
	for i := 1; i < len(s.samples); i++ {
		if len(s.samples[i]) != len(s.samples[0]) {
			return faults.Validation("check dimensions", "sample %d has %d dimensions, want %d",
				i, len(s.samples[i]), len(s.samples[0]))
		}
	}
	return nil
}

// Stats returns count, dimension and the population mean and standard
// deviation of the per-sample L2 norms.
func (s *Speaker) Stats() EmbeddingStats {
	n := len(s.samples)
	if n == 0 {
		return EmbeddingStats{}
	}
	norms := make([]float64, n)
	var sum float64
	for i, v := range s.samples {
		norms[i] = v.Norm()
		sum += norms[i]
	}
	mean := sum / float64(n)
	var sq float64
	for _, x := range norms {
		sq += (x - mean) * (x - mean)
	}
	return EmbeddingStats{
		Count:     n,
		Dimension: len(s.samples[0]),
		MeanNorm:  mean,
		StdNorm:   math.Sqrt(sq / float64(n)),
	}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// Package profilestore mirrors speaker identities to one file per speaker
// under a storage directory. The caller's in-memory snapshot is always
// authoritative; the store only writes and reads copies of it.
//
// A Store built with an empty directory is disabled: every operation
// returns its documented sentinel without touching the filesystem.
//
// Operations never return errors. Failures are logged with the speaker id,
// path and cause and reported as false, an empty result or a lower count.
package profilestore

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"voice-id/internal/embeddings"
	"voice-id/internal/faults"
	"voice-id/internal/identity"
	"voice-id/internal/logger"
)

// BackupDirName is the default backup subdirectory of the storage directory.
const BackupDirName = "backup"

const filePerm os.FileMode = 0o644

// Store is a file-backed mirror of speaker identities.
type Store struct {
	dir         string
	enabled     bool
	compression Compression
	log         *slog.Logger
	mu          *sync.RWMutex
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// WithCompression selects the codec used for files written by this store.
func WithCompression(c Compression) Option {
	return func(s *Store) { s.compression = c }
}

// New returns a Store rooted at dir, creating the directory if needed.
// An empty dir returns a disabled store.
func New(dir string, opts ...Option) (*Store, error) {
	s := &Store{log: logger.Discard()}
	for _, o := range opts {
		o(s)
	}
	if dir == "" {
		s.mu = new(sync.RWMutex)
		s.log.Info("profile storage disabled")
		return s, nil
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, faults.IO(err, "resolve storage dir")
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, faults.IO(err, "create storage dir")
	}
	s.dir = abs
	s.enabled = true
	s.mu = lockFor(abs)
	s.log = s.log.With("storage_dir", abs)
	s.log.Info("profile storage initialized")
	return s, nil
}

// Enabled reports whether the store writes to disk.
func (s *Store) Enabled() bool { return s.enabled }

// Dir returns the absolute storage directory, or "" when disabled.
func (s *Store) Dir() string { return s.dir }

// ProfilePath returns the file path for speakerID. It fails with
// faults.ErrConfiguration when the store is disabled.
func (s *Store) ProfilePath(speakerID string) (string, error) {
	if !s.enabled {
		return "", &faults.Error{Kind: faults.ErrConfiguration, Op: "profile path", Err: errors.New("storage is disabled")}
	}
	return filepath.Join(s.dir, FileName(speakerID)), nil
}

// Save writes the speaker's samples and metadata to its profile file,
// replacing any previous content atomically. A disabled store reports
// success.
func (s *Store) Save(sp *identity.Speaker) bool {
	if !s.enabled {
		return true
	}
	if sp == nil || sp.ID() == "" {
		s.log.Error("refusing to save speaker without id")
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(sp)
}

func (s *Store) save(sp *identity.Speaker) bool {
	path, _ := s.ProfilePath(sp.ID())
	data, err := encodeProfile(Profile{
		SpeakerID:  sp.ID(),
		Embeddings: sp.Samples(),
		Metadata:   sp.Metadata(),
	}, s.compression)
	if err == nil {
		err = faults.IO(writeFileAtomic(path, data, filePerm), "write profile")
	}
	profileSaves.WithLabelValues(result(err == nil)).Inc()
	if err != nil {
		s.log.Error("failed to save profile", "speaker_id", sp.ID(), "path", path, "err", err)
		return false
	}
	s.log.Debug("saved profile", "speaker_id", sp.ID(), "path", path, "count", sp.SampleCount())
	return true
}

// Load reads one profile file. Any read or decode failure is logged and
// reported as false.
func (s *Store) Load(path string) (Profile, bool) {
	if !s.enabled {
		return Profile{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.load(path)
}

func (s *Store) load(path string) (Profile, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		err = faults.IO(err, "read profile")
	} else {
		var p Profile
		p, err = decodeProfile(data)
		if err == nil {
			p.Path = path
			profileLoads.WithLabelValues(result(true)).Inc()
			s.log.Debug("loaded profile", "speaker_id", p.SpeakerID, "path", path)
			return p, true
		}
	}
	profileLoads.WithLabelValues(result(false)).Inc()
	s.log.Error("failed to load profile", "path", path, "err", err)
	return Profile{}, false
}

// LoadAllProfiles reads every profile file in the storage directory.
// Files that fail to decode are skipped; profiles without samples are
// omitted. A missing directory is recreated and yields no profiles.
func (s *Store) LoadAllProfiles() []Profile {
	if !s.enabled {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := os.Stat(s.dir); errors.Is(err, fs.ErrNotExist) {
		s.log.Info("storage directory missing, creating")
		if err := os.MkdirAll(s.dir, 0o755); err != nil {
			s.log.Error("failed to create storage directory", "err", err)
		}
		return nil
	}

	files, err := s.profileFiles()
	if err != nil {
		s.log.Error("failed to list profiles", "err", err)
		return nil
	}
	var out []Profile
	seen := make(map[string]string, len(files))
	for _, f := range files {
		p, ok := s.load(f.path)
		if !ok || p.SpeakerID == "" || len(p.Embeddings) == 0 {
			continue
		}
		if prev, dup := seen[p.SpeakerID]; dup {
			s.log.Warn("speaker stored in more than one file", "speaker_id", p.SpeakerID, "path", f.path, "previous", prev)
		}
		seen[p.SpeakerID] = f.path
		out = append(out, p)
	}
	s.log.Info("loaded profiles from disk", "count", len(out))
	return out
}

// LoadAll returns the samples of every loadable profile keyed by speaker id.
func (s *Store) LoadAll() map[string][]embeddings.Vector {
	out := make(map[string][]embeddings.Vector)
	for _, p := range s.LoadAllProfiles() {
		out[p.SpeakerID] = p.Embeddings
	}
	return out
}

// SaveAll saves every speaker in snap and returns how many were written.
// A failure on one speaker does not stop the others.
func (s *Store) SaveAll(snap identity.Snapshot) int {
	if !s.enabled {
		s.log.Info("storage disabled, no profiles saved")
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	saved := 0
	for id, sp := range snap {
		if sp == nil || id == "" {
			continue
		}
		if s.save(sp) {
			saved++
		}
	}
	s.log.Info("saved profiles", "count", saved)
	return saved
}

// Exists reports whether speakerID has a profile file.
func (s *Store) Exists(speakerID string) bool {
	if !s.enabled {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	path, _ := s.ProfilePath(speakerID)
	_, err := os.Stat(path)
	return err == nil
}

// Reload re-reads the profile file of speakerID if it exists.
func (s *Store) Reload(speakerID string) (Profile, bool) {
	if !s.enabled {
		return Profile{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	path, _ := s.ProfilePath(speakerID)
	if _, err := os.Stat(path); err != nil {
		return Profile{}, false
	}
	return s.load(path)
}

// Remove deletes the profile file of speakerID. It returns false if the
// file does not exist, the store is disabled or the delete fails.
func (s *Store) Remove(speakerID string) bool {
	if !s.enabled {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	path, _ := s.ProfilePath(speakerID)
	if _, err := os.Stat(path); err != nil {
		return false
	}
	if err := os.Remove(path); err != nil {
		s.log.Error("failed to remove profile file", "speaker_id", speakerID, "path", path, "err", err)
		return false
	}
	s.log.Debug("removed profile file", "speaker_id", speakerID, "path", path)
	return true
}

type profileFile struct {
	stem string
	path string
	size int64
}

// profileFiles lists regular profile files directly under the storage
// directory. Subdirectories, including the backup directory, are skipped.
func (s *Store) profileFiles() ([]profileFile, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, faults.IO(err, "list profiles")
	}
	var out []profileFile
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		stem, ok := stemOf(e.Name())
		if !ok {
			continue
		}
		f := profileFile{stem: stem, path: filepath.Join(s.dir, e.Name())}
		if info, err := e.Info(); err == nil {
			f.size = info.Size()
		}
		out = append(out, f)
	}
	return out, nil
}

package profilestore

import (
	"encoding/json"
	"os"
	"path/filepath"

	"voice-id/internal/identity"
)

// StorageStats compares the in-memory snapshot with the files on disk.
type StorageStats struct {
	Enabled       bool    `json:"storage_enabled"`
	Directory     *string `json:"storage_directory"`
	TotalSpeakers int     `json:"total_speakers"`
	TotalSamples  int     `json:"total_samples"`
	DiskProfiles  int     `json:"disk_profiles"`
	TotalDiskSize int64   `json:"total_disk_size"`
	OrphanedFiles int     `json:"orphaned_files"`
}

// ProfileMetadata describes the file backing one speaker.
type ProfileMetadata struct {
	SampleCount int     `json:"sample_count"`
	ProfileFile *string `json:"profile_file"`
	FileExists  bool    `json:"file_exists"`
	FileSize    int64   `json:"file_size"`
}

// MetadataExport is the document written by ExportMetadata.
type MetadataExport struct {
	TotalSpeakers    int                        `json:"total_speakers"`
	TotalSamples     int                        `json:"total_samples"`
	StorageEnabled   bool                       `json:"storage_enabled"`
	StorageDirectory *string                    `json:"storage_directory"`
	Profiles         map[string]ProfileMetadata `json:"profiles"`
}

// Backup copies every profile file into target, which defaults to the
// backup subdirectory of the storage directory. The first failed copy
// aborts the run and returns false; files copied before it are kept.
func (s *Store) Backup(target string) bool {
	if !s.enabled {
		s.log.Info("storage disabled, no backup created")
		return false
	}
	if target == "" {
		target = filepath.Join(s.dir, BackupDirName)
	}
	if s.isStorageDir(target) {
		s.log.Error("refusing to back up profiles onto themselves", "target", target)
		profileBackups.WithLabelValues(result(false)).Inc()
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ok := s.backup(target)
	profileBackups.WithLabelValues(result(ok)).Inc()
	return ok
}

func (s *Store) backup(target string) bool {
	if err := os.MkdirAll(target, 0o755); err != nil {
		s.log.Error("failed to create backup directory", "path", target, "err", err)
		return false
	}
	files, err := s.profileFiles()
	if err != nil {
		s.log.Error("failed to create backup", "err", err)
		return false
	}
	copied := 0
	for _, f := range files {
		dst := filepath.Join(target, filepath.Base(f.path))
		if err := copyFileAtomic(f.path, dst); err != nil {
			s.log.Error("failed to create backup", "path", f.path, "target", dst, "copied", copied, "err", err)
			return false
		}
		copied++
	}
	s.log.Info("backed up profiles", "count", copied, "target", target)
	return true
}

// CleanupOrphans deletes every profile file whose stem does not belong to a
// speaker in snap and returns how many were removed. Failed deletes are
// logged and skipped.
func (s *Store) CleanupOrphans(snap identity.Snapshot) int {
	if !s.enabled {
		s.log.Info("storage disabled, no cleanup performed")
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	files, err := s.profileFiles()
	if err != nil {
		s.log.Error("failed to list profiles for cleanup", "err", err)
		return 0
	}
	live := liveStems(snap)
	removed := 0
	for _, f := range files {
		if _, ok := live[f.stem]; ok {
			continue
		}
		if err := os.Remove(f.path); err != nil {
			s.log.Error("failed to remove orphaned profile", "path", f.path, "err", err)
			continue
		}
		removed++
		s.log.Info("removed orphaned profile", "path", f.path)
	}
	orphansRemoved.Add(float64(removed))
	s.log.Info("cleaned up orphaned profiles", "count", removed)
	return removed
}

// Stats aggregates snapshot counts and the on-disk profile files.
func (s *Store) Stats(snap identity.Snapshot) StorageStats {
	st := StorageStats{
		Enabled:       s.enabled,
		Directory:     s.dirPtr(),
		TotalSpeakers: len(snap),
		TotalSamples:  snap.TotalSamples(),
	}
	if !s.enabled {
		return st
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	files, err := s.profileFiles()
	if err != nil {
		s.log.Warn("failed to list profiles for stats", "err", err)
		return st
	}
	live := liveStems(snap)
	for _, f := range files {
		st.DiskProfiles++
		st.TotalDiskSize += f.size
		if _, ok := live[f.stem]; !ok {
			st.OrphanedFiles++
		}
	}
	diskBytes.Set(float64(st.TotalDiskSize))
	return st
}

// ExportMetadata describes every speaker in snap and its profile file. When
// output is set and storage is enabled the document is also written there as
// JSON; a write failure is logged and does not change the returned value.
func (s *Store) ExportMetadata(snap identity.Snapshot, output string) MetadataExport {
	exp := MetadataExport{
		TotalSpeakers:    len(snap),
		TotalSamples:     snap.TotalSamples(),
		StorageEnabled:   s.enabled,
		StorageDirectory: s.dirPtr(),
		Profiles:         make(map[string]ProfileMetadata, len(snap)),
	}
	if s.enabled {
		s.mu.RLock()
	}
	for id, sp := range snap {
		pm := ProfileMetadata{}
		if sp != nil {
			pm.SampleCount = sp.SampleCount()
		}
		if path, err := s.ProfilePath(id); err == nil {
			pm.ProfileFile = &path
			if info, err := os.Stat(path); err == nil {
				pm.FileExists = true
				pm.FileSize = info.Size()
			}
		}
		exp.Profiles[id] = pm
	}
	if s.enabled {
		s.mu.RUnlock()
	}

	if output != "" && s.enabled {
		if s.isProfileFile(output) {
			s.log.Error("refusing to export metadata over a profile file", "path", output)
			return exp
		}
		data, err := json.MarshalIndent(exp, "", "  ")
		if err == nil {
			err = writeFileAtomic(output, append(data, '\n'), filePerm)
		}
		if err != nil {
			s.log.Error("failed to export profile metadata", "path", output, "err", err)
		} else {
			s.log.Info("exported profile metadata", "path", output)
		}
	}
	return exp
}

// isStorageDir reports whether path resolves to the storage directory.
func (s *Store) isStorageDir(path string) bool {
	abs, err := filepath.Abs(path)
	return err != nil || abs == s.dir
}

// isProfileFile reports whether path resolves to a profile file slot in the
// storage directory.
func (s *Store) isProfileFile(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return true
	}
	return filepath.Dir(abs) == s.dir && filepath.Ext(abs) == Extension
}

func (s *Store) dirPtr() *string {
	if !s.enabled {
		return nil
	}
	d := s.dir
	return &d
}

func liveStems(snap identity.Snapshot) map[string]struct{} {
	live := make(map[string]struct{}, len(snap))
	for id := range snap {
		live[FileStem(id)] = struct{}{}
	}
	return live
}

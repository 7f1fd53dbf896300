// Package catalog mirrors the profile metadata export into a SQL table so
// other services can query which speakers are enrolled without reading the
// profile directory.
package catalog

import (
	"context"
	"sort"
	"time"

	"voice-id/internal/profilestore"
)

// Entry is one row of the catalog.
type Entry struct {
	SpeakerID   string
	SampleCount int
	ProfileFile *string
	FileExists  bool
	FileSize    int64
	UpdatedAt   time.Time
}

// Catalog defines the mirror contract; Sync replaces the table content with
// entries.
type Catalog interface {
	Sync(ctx context.Context, entries []Entry) error
	List(ctx context.Context) ([]Entry, error)
}

// EntriesFromExport converts a metadata export into catalog rows sorted by
// speaker id.
func EntriesFromExport(exp profilestore.MetadataExport, now time.Time) []Entry {
	out := make([]Entry, 0, len(exp.Profiles))
	for id, pm := range exp.Profiles {
		out = append(out, Entry{
			SpeakerID:   id,
			SampleCount: pm.SampleCount,
			ProfileFile: pm.ProfileFile,
			FileExists:  pm.FileExists,
			FileSize:    pm.FileSize,
			UpdatedAt:   now,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SpeakerID < out[j].SpeakerID })
	return out
}

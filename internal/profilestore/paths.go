package profilestore

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Extension is the suffix of every profile file.
const Extension = ".profile"

// fallbackPrefix names files for ids that sanitize to nothing.
const fallbackPrefix = "speaker_"

// FileStem derives the filesystem-safe base name (without extension) for a
// speaker id. Only ASCII letters, digits, '-' and '_' are kept. An id with
// none of those maps to "speaker_" plus the hex xxhash64 of the raw id, which
// is stable across processes and platforms.
func FileStem(speakerID string) string {
	var b strings.Builder
	b.Grow(len(speakerID))
	for i := 0; i < len(speakerID); i++ {
		c := speakerID[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			b.WriteByte(c)
		}
	}
	if b.Len() > 0 {
		return b.String()
	}
	return fmt.Sprintf("%s%016x", fallbackPrefix, xxhash.Sum64String(speakerID))
}

// FileName returns FileStem(speakerID) with the profile extension.
func FileName(speakerID string) string {
	return FileStem(speakerID) + Extension
}

// stemOf returns the stem of a profile file name and whether the name
// carries the profile extension.
func stemOf(name string) (string, bool) {
	if filepath.Ext(name) != Extension {
		return "", false
	}
	stem := strings.TrimSuffix(name, Extension)
	return stem, stem != ""
}

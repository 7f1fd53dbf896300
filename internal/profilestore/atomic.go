package profilestore

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// writeFileAtomic writes data to a temp file next to filename, fsyncs it and
// renames it over filename, so readers see either the old or the new content.
func writeFileAtomic(filename string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(filename)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(filename)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		if tmpName != "" {
			_ = os.Remove(tmpName)
		}
	}()

	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, filename); err != nil {
		return err
	}
	tmpName = ""

	// Best-effort: fsync the directory so the rename is durable on POSIX.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

// copyFileAtomic copies src to dst through writeFileAtomic, preserving the
// source mode and modification time.
func copyFileAtomic(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(dst, data, info.Mode().Perm()); err != nil {
		return err
	}
	return os.Chtimes(dst, time.Now(), info.ModTime())
}

// dirLocks holds one RWMutex per absolute storage directory so that every
// Store opened on the same directory in this process serializes against
// the others.
var dirLocks sync.Map // string -> *sync.RWMutex

func lockFor(dir string) *sync.RWMutex {
	mu, _ := dirLocks.LoadOrStore(dir, new(sync.RWMutex))
	return mu.(*sync.RWMutex)
}

package audio

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
)

// RemoveAll deletes every path. Paths that are already gone count as
// removed, so calling it twice is harmless. Failures are logged and
// returned together as a *CleanupError.
func RemoveAll(log *slog.Logger, paths ...string) error {
	var failed map[string]error
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			if failed == nil {
				failed = make(map[string]error)
			}
			failed[p] = err
			if log != nil {
				log.Warn("failed to remove file", slog.String("path", p), slog.String("error", err.Error()))
			}
		}
	}
	if failed != nil {
		return &CleanupError{Failed: failed}
	}
	return nil
}

// RemoveDir deletes a run directory and anything left inside it.
func RemoveDir(log *slog.Logger, dir string) error {
	if dir == "" {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil {
		if log != nil {
			log.Warn("failed to remove directory", slog.String("path", dir), slog.String("error", err.Error()))
		}
		return &CleanupError{Failed: map[string]error{dir: err}}
	}
	return nil
}

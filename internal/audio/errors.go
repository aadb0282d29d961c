package audio

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrNoFragments     = errors.New("no fragments to assemble")
	ErrFormatMismatch  = errors.New("fragments use different audio formats")
	ErrUnknownDuration = errors.New("duration unknown for this encoding")
	ErrFFmpegRequired  = errors.New("ffmpeg is required to join ogg fragments")
)

// AssemblyError reports a failure while producing the output file.
type AssemblyError struct {
	Op   string
	Path string
	Err  error
}

func (e *AssemblyError) Error() string {
	return fmt.Sprintf("assemble %s: %s: %v", e.Path, e.Op, e.Err)
}

func (e *AssemblyError) Unwrap() error { return e.Err }

// CleanupError lists the paths that could not be removed.
type CleanupError struct {
	Failed map[string]error
}

func (e *CleanupError) Error() string {
	paths := make([]string, 0, len(e.Failed))
	for p := range e.Failed {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return fmt.Sprintf("cleanup failed for %d file(s): %s", len(paths), strings.Join(paths, ", "))
}

func (e *CleanupError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, err := range e.Failed {
		errs = append(errs, err)
	}
	return errs
}

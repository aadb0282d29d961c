package pipeline

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/loqalabs/loqa-narrator/internal/audio"
	"github.com/loqalabs/loqa-narrator/internal/ssml"
	"github.com/loqalabs/loqa-narrator/internal/tts"
)

var (
	ErrNoChunks  = errors.New("no chunks to synthesize")
	ErrInvalidID = errors.New("run id must be 1 to 64 letters, digits, '-' or '_'")
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidID reports whether id is safe to use as a file name and as a bus
// subject token.
func ValidID(id string) bool { return idPattern.MatchString(id) }

// Error is the single failure a run reports. Its message names the stage,
// backend and chunk; the underlying error stays reachable through Unwrap.
type Error struct {
	Stage      Stage
	Backend    tts.Backend
	ChunkIndex int // -1 when the failure is not tied to a chunk
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("narration failed while %s", e.Stage)
	if e.Backend.Valid() {
		msg += " with " + e.Backend.String()
	}
	if e.ChunkIndex >= 0 {
		msg += fmt.Sprintf(" at chunk %d", e.ChunkIndex)
	}
	return msg + ": " + reason(e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func reason(err error) string {
	var serr *tts.SynthesisError
	var empty *ssml.EmptyInputError
	var aerr *audio.AssemblyError
	switch {
	case err == nil:
		return "unknown error"
	case errors.As(err, &serr):
		return serr.Error()
	case errors.As(err, &empty):
		return empty.Error()
	case errors.As(err, &aerr):
		return aerr.Op + " failed"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "deadline exceeded"
	}
	return err.Error()
}

func stageError(stage Stage, backend tts.Backend, index int, err error) *Error {
	var perr *Error
	if errors.As(err, &perr) {
		return perr
	}
	var serr *tts.SynthesisError
	if index < 0 && errors.As(err, &serr) {
		index = serr.ChunkIndex
	}
	return &Error{Stage: stage, Backend: backend, ChunkIndex: index, Err: err}
}

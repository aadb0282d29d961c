package tts

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrEmptyAudio        = errors.New("backend returned no audio")
	ErrUnexpectedPayload = errors.New("backend returned a non-audio payload")
)

// SynthesisError reports a failed synthesis call for one chunk. The message
// stays free of raw transport details; Cause carries them.
type SynthesisError struct {
	Backend    Backend
	ChunkIndex int
	Status     int
	Retryable  bool
	Cause      error
}

func (e *SynthesisError) Error() string {
	reason := "request failed"
	switch {
	case errors.Is(e.Cause, ErrEmptyAudio):
		reason = ErrEmptyAudio.Error()
	case errors.Is(e.Cause, ErrUnexpectedPayload):
		reason = ErrUnexpectedPayload.Error()
	case errors.Is(e.Cause, context.Canceled):
		reason = "cancelled"
	case errors.Is(e.Cause, context.DeadlineExceeded):
		reason = "deadline exceeded"
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s synthesis of chunk %d failed: %s (status %d)", e.Backend, e.ChunkIndex, reason, e.Status)
	}
	return fmt.Sprintf("%s synthesis of chunk %d failed: %s", e.Backend, e.ChunkIndex, reason)
}

func (e *SynthesisError) Unwrap() error { return e.Cause }

func synthesisError(backend Backend, index, status int, cause error) *SynthesisError {
	return &SynthesisError{
		Backend:    backend,
		ChunkIndex: index,
		Status:     status,
		Retryable:  retryable(status, cause),
		Cause:      cause,
	}
}

func retryable(status int, cause error) bool {
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(cause, ErrEmptyAudio) || errors.Is(cause, ErrUnexpectedPayload) {
		return false
	}
	if status == 0 {
		// transport failure before any response
		return true
	}
	return status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status >= 500
}

// IsRetryable reports whether err is a synthesis failure worth retrying.
func IsRetryable(err error) bool {
	var serr *SynthesisError
	if errors.As(err, &serr) {
		return serr.Retryable
	}
	return false
}

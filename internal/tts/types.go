package tts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/loqalabs/loqa-narrator/internal/ssml"
)

// Backend selects a speech synthesis service. Each backend carries its own
// per-request character limits.
type Backend int

const (
	BackendUnknown Backend = iota
	BackendGoogle
	BackendPolly
	BackendAzure
)

var backendLimits = map[Backend]ssml.Limits{
	BackendGoogle: {Soft: 4000, Hard: 5000},
	BackendPolly:  {Soft: 2000, Hard: 3000},
	BackendAzure:  {Soft: 500, Hard: 1000}, // service limit is 1024
}

// Backends lists every supported backend in a stable order.
func Backends() []Backend {
	return []Backend{BackendGoogle, BackendPolly, BackendAzure}
}

func (b Backend) String() string {
	switch b {
	case BackendGoogle:
		return "google"
	case BackendPolly:
		return "polly"
	case BackendAzure:
		return "azure"
	}
	return "unknown"
}

// Limits returns the chunk limits the backend accepts.
func (b Backend) Limits() ssml.Limits {
	return backendLimits[b]
}

func (b Backend) Valid() bool {
	_, ok := backendLimits[b]
	return ok
}

func ParseBackend(s string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "google", "a":
		return BackendGoogle, nil
	case "polly", "aws", "b":
		return BackendPolly, nil
	case "azure", "microsoft", "c":
		return BackendAzure, nil
	}
	return BackendUnknown, fmt.Errorf("unknown tts backend %q", s)
}

func (b Backend) MarshalText() ([]byte, error) {
	if !b.Valid() {
		return nil, fmt.Errorf("invalid tts backend %d", int(b))
	}
	return []byte(b.String()), nil
}

func (b *Backend) UnmarshalText(text []byte) error {
	parsed, err := ParseBackend(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// Options configures one narration run. It is fixed for the whole run.
type Options struct {
	Backend      Backend
	LanguageCode string
	VoiceName    string
	SourceTag    string
	Encoding     Encoding
}

func (o Options) Validate() error {
	if !o.Backend.Valid() {
		return errors.New("tts options: backend must be set")
	}
	if o.VoiceName == "" {
		return errors.New("tts options: voice name must be set")
	}
	if o.Encoding == "" {
		return errors.New("tts options: encoding must be set")
	}
	if !o.Encoding.SupportedBy(o.Backend) {
		return fmt.Errorf("tts options: %s does not support encoding %s", o.Backend, o.Encoding)
	}
	return nil
}

// Synthesizer turns one chunk of text into encoded audio. Calls are single
// request/response exchanges; retrying is left to the caller.
type Synthesizer interface {
	Synthesize(ctx context.Context, chunk ssml.Chunk, opts Options) ([]byte, error)
}

func isSSML(content string) bool {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "<?xml") {
		return true
	}
	return strings.HasPrefix(trimmed, "<speak")
}

package tts

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/loqalabs/loqa-narrator/internal/audio"
	"github.com/loqalabs/loqa-narrator/internal/ssml"
)

const mockSampleRate = 24000

type mockSynth struct {
	backend Backend
	latency time.Duration
}

// NewMockSynthesizer returns a synthesizer that produces deterministic audio
// derived from the chunk content without calling any service.
func NewMockSynthesizer(backend Backend, latency time.Duration) Synthesizer {
	return &mockSynth{backend: backend, latency: latency}
}

func (m *mockSynth) Synthesize(ctx context.Context, chunk ssml.Chunk, opts Options) ([]byte, error) {
	if m.latency > 0 {
		timer := time.NewTimer(m.latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, synthesisError(m.backend, chunk.Index, 0, ctx.Err())
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return nil, synthesisError(m.backend, chunk.Index, 0, err)
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(chunk.Content))
	seed := h.Sum32()

	if opts.Encoding == EncodingLinear16 {
		spoken := len([]rune(ssml.StripMarkup(chunk.Content)))
		samples := make([]int, spoken*40)
		for i := range samples {
			samples[i] = int((seed+uint32(i))%512) - 256
		}
		data, err := audio.EncodeWAV(samples, mockSampleRate, 1)
		if err != nil {
			return nil, synthesisError(m.backend, chunk.Index, 0, err)
		}
		return data, nil
	}
	return []byte(fmt.Sprintf("%s:%04d:%08x;", m.backend, chunk.Index, seed)), nil
}

package tts

import (
	"context"
	"testing"
	"time"

	"github.com/loqalabs/loqa-narrator/internal/audio"
	"github.com/loqalabs/loqa-narrator/internal/config"
	"github.com/loqalabs/loqa-narrator/internal/ssml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockIsDeterministic(t *testing.T) {
	synth := NewMockSynthesizer(BackendGoogle, 0)
	opts := Options{Backend: BackendGoogle, VoiceName: "v", Encoding: EncodingMP3}
	chunk := ssml.Chunk{Index: 3, Content: "<speak>Hello.</speak>"}

	first, err := synth.Synthesize(context.Background(), chunk, opts)
	require.NoError(t, err)
	second, err := synth.Synthesize(context.Background(), chunk, opts)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.NotEmpty(t, first)
}

func TestMockLinear16IsWAV(t *testing.T) {
	synth := NewMockSynthesizer(BackendAzure, 0)
	opts := Options{Backend: BackendAzure, VoiceName: "v", Encoding: EncodingLinear16}
	data, err := synth.Synthesize(context.Background(), ssml.Chunk{Content: "Hello there."}, opts)
	require.NoError(t, err)
	assert.Equal(t, "RIFF", string(data[:4]))

	d, err := audio.WAVDuration(data)
	require.NoError(t, err)
	assert.Greater(t, d, time.Duration(0))
}

func TestMockHonoursCancellation(t *testing.T) {
	synth := NewMockSynthesizer(BackendPolly, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := synth.Synthesize(ctx, ssml.Chunk{Content: "x"}, Options{Backend: BackendPolly, VoiceName: "v", Encoding: EncodingMP3})
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsRetryable(err))
}

func TestNewSetSkipsBrokenBackends(t *testing.T) {
	cfg := config.Default().Backends
	cfg.Azure.Mode = "cloud"
	cfg.Azure.SubscriptionKey = ""
	set := NewSet(context.Background(), cfg, discardLogger())

	assert.Equal(t, []Backend{BackendGoogle, BackendPolly}, set.Available())
	_, err := set.Get(BackendAzure)
	require.Error(t, err)
	_, err = set.Get(BackendGoogle)
	require.NoError(t, err)
}

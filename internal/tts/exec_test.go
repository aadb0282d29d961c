package tts

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/loqalabs/loqa-narrator/internal/ssml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}
	path := filepath.Join(t.TempDir(), "synth.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestExecSynthesizerCollectsFrames(t *testing.T) {
	// "aGVs" + "bG8=" decode to "hel" + "lo"
	script := writeScript(t, `cat > /dev/null
echo '{"audio_base64":"aGVs"}'
echo '{"audio_base64":"bG8=","final":true}'
`)
	synth, err := NewExecSynthesizer(BackendGoogle, script)
	require.NoError(t, err)

	audio, err := synth.Synthesize(context.Background(), ssml.Chunk{Content: "hello"}, Options{Backend: BackendGoogle, VoiceName: "v", Encoding: EncodingMP3})
	require.NoError(t, err)
	assert.Equal(t, "hello", string(audio))
}

func TestExecSynthesizerReportsError(t *testing.T) {
	script := writeScript(t, `cat > /dev/null
echo '{"error":"quota exhausted","status":429}'
`)
	synth, err := NewExecSynthesizer(BackendPolly, script)
	require.NoError(t, err)

	_, err = synth.Synthesize(context.Background(), ssml.Chunk{Index: 1, Content: "x"}, Options{Backend: BackendPolly, VoiceName: "v", Encoding: EncodingMP3})
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
}

func TestExecSynthesizerEmptyOutput(t *testing.T) {
	script := writeScript(t, "cat > /dev/null\n")
	synth, err := NewExecSynthesizer(BackendAzure, script)
	require.NoError(t, err)

	_, err = synth.Synthesize(context.Background(), ssml.Chunk{Content: "x"}, Options{Backend: BackendAzure, VoiceName: "v", Encoding: EncodingMP3})
	require.ErrorIs(t, err, ErrEmptyAudio)
}

func TestExecSynthesizerRejectsEmptyCommand(t *testing.T) {
	_, err := NewExecSynthesizer(BackendGoogle, "   ")
	require.Error(t, err)
}

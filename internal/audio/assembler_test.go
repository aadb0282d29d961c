package audio

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-narrator/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newAssembler(mode string) *Assembler {
	return NewAssembler(config.AssemblerConfig{Mode: mode, FFmpegPath: "ffmpeg"}, discardLogger())
}

func writeFragments(t *testing.T, dir, ext string, payloads ...[]byte) []Fragment {
	t.Helper()
	out := make([]Fragment, len(payloads))
	for i, p := range payloads {
		path := FragmentPath(dir, i, ext)
		require.NoError(t, os.WriteFile(path, p, 0o644))
		out[i] = Fragment{Index: i, Path: path}
	}
	return out
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestAssembleConcatenatesInIndexOrder(t *testing.T) {
	work := t.TempDir()
	outDir := t.TempDir()
	frags := writeFragments(t, work, ".mp3", []byte("one|"), []byte("two|"), []byte("three|"))

	out, err := newAssembler("stream").Assemble(context.Background(), frags, filepath.Join(outDir, "story.mp3"))
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "one|two|three|", string(data))
	assert.Equal(t, []string{"story.mp3"}, dirEntries(t, outDir))
}

func TestAssembleSingleFragmentIsMoved(t *testing.T) {
	work := t.TempDir()
	frags := writeFragments(t, work, ".mp3", []byte("only"))
	out := filepath.Join(t.TempDir(), "single.mp3")

	got, err := newAssembler("auto").Assemble(context.Background(), frags, out)
	require.NoError(t, err)
	assert.Equal(t, out, got)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "only", string(data))
	_, err = os.Stat(frags[0].Path)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestAssembleRejectsUnorderedFragments(t *testing.T) {
	work := t.TempDir()
	frags := writeFragments(t, work, ".mp3", []byte("a"), []byte("b"))
	frags[0], frags[1] = frags[1], frags[0]
	outDir := t.TempDir()

	_, err := newAssembler("stream").Assemble(context.Background(), frags, filepath.Join(outDir, "x.mp3"))
	var aerr *AssemblyError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, "validate", aerr.Op)
	assert.Empty(t, dirEntries(t, outDir))
}

func TestAssembleEmpty(t *testing.T) {
	_, err := newAssembler("auto").Assemble(context.Background(), nil, filepath.Join(t.TempDir(), "x.mp3"))
	require.ErrorIs(t, err, ErrNoFragments)
}

func TestAssembleFailureLeavesNoPartialOutput(t *testing.T) {
	work := t.TempDir()
	frags := writeFragments(t, work, ".mp3", []byte("a"), []byte("b"))
	require.NoError(t, os.Remove(frags[1].Path))
	outDir := t.TempDir()

	_, err := newAssembler("stream").Assemble(context.Background(), frags, filepath.Join(outDir, "x.mp3"))
	var aerr *AssemblyError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, "concat", aerr.Op)
	assert.Empty(t, dirEntries(t, outDir))
}

func TestAssembleWAV(t *testing.T) {
	first, err := EncodeWAV(make([]int, 24000), 24000, 1)
	require.NoError(t, err)
	second, err := EncodeWAV(make([]int, 12000), 24000, 1)
	require.NoError(t, err)

	work := t.TempDir()
	frags := writeFragments(t, work, ".wav", first, second)
	out, err := newAssembler("auto").Assemble(context.Background(), frags, filepath.Join(t.TempDir(), "story.wav"))
	require.NoError(t, err)

	d, err := FileDuration(out)
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, d)
}

func TestAssembleWAVFormatMismatch(t *testing.T) {
	first, err := EncodeWAV(make([]int, 100), 24000, 1)
	require.NoError(t, err)
	second, err := EncodeWAV(make([]int, 100), 16000, 1)
	require.NoError(t, err)

	frags := writeFragments(t, t.TempDir(), ".wav", first, second)
	_, err = newAssembler("auto").Assemble(context.Background(), frags, filepath.Join(t.TempDir(), "x.wav"))
	require.ErrorIs(t, err, ErrFormatMismatch)
}

func TestConcatenatorSelection(t *testing.T) {
	cases := []struct {
		mode string
		ext  string
		want Concatenator
	}{
		{"auto", ".wav", WAVConcatenator{}},
		{"auto", ".mp3", StreamConcatenator{}},
		{"stream", ".wav", WAVConcatenator{}},
		{"stream", ".ogg", StreamConcatenator{}},
		{"ffmpeg", ".mp3", FFmpegConcatenator{}},
	}
	for _, tc := range cases {
		got, err := newAssembler(tc.mode).Concatenator(tc.ext)
		require.NoError(t, err, tc.mode+tc.ext)
		assert.IsType(t, tc.want, got, tc.mode+tc.ext)
	}
}

func TestAssembleOggWithoutFFmpeg(t *testing.T) {
	asm := NewAssembler(config.AssemblerConfig{Mode: "auto", FFmpegPath: filepath.Join(t.TempDir(), "no-ffmpeg")}, discardLogger())

	_, err := asm.Concatenator(".ogg")
	require.ErrorIs(t, err, ErrFFmpegRequired)

	work := t.TempDir()
	frags := writeFragments(t, work, ".ogg", []byte("OggS-a"), []byte("OggS-b"))
	outDir := t.TempDir()
	_, err = asm.Assemble(context.Background(), frags, filepath.Join(outDir, "x.ogg"))
	var aerr *AssemblyError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, "concat", aerr.Op)
	require.ErrorIs(t, err, ErrFFmpegRequired)
	assert.Empty(t, dirEntries(t, outDir))

	// a single fragment needs no joining
	out, err := asm.Assemble(context.Background(), frags[:1], filepath.Join(outDir, "one.ogg"))
	require.NoError(t, err)
	assert.FileExists(t, out)
}

func TestSkipID3v2(t *testing.T) {
	tag := []byte{'I', 'D', '3', 4, 0, 0, 0, 0, 0, 3, 'x', 'y', 'z'}
	assert.Equal(t, []byte("frame"), skipID3v2(append(tag, []byte("frame")...)))
	assert.Equal(t, []byte("frame"), skipID3v2([]byte("frame")))
}

func TestStreamConcatStripsLaterTags(t *testing.T) {
	tag := []byte{'I', 'D', '3', 4, 0, 0, 0, 0, 0, 1, 'x'}
	work := t.TempDir()
	frags := writeFragments(t, work, ".mp3", append(append([]byte{}, tag...), 'A'), append(append([]byte{}, tag...), 'B'))
	out, err := newAssembler("stream").Assemble(context.Background(), frags, filepath.Join(t.TempDir(), "x.mp3"))
	require.NoError(t, err)
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, append(append([]byte{}, tag...), 'A', 'B'), data)
}

func TestEscapeConcatPath(t *testing.T) {
	assert.Equal(t, `/tmp/it'\''s.mp3`, escapeConcatPath("/tmp/it's.mp3"))
}

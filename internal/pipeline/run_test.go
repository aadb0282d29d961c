package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/loqalabs/loqa-narrator/internal/audio"
	"github.com/loqalabs/loqa-narrator/internal/config"
	"github.com/loqalabs/loqa-narrator/internal/ssml"
	"github.com/loqalabs/loqa-narrator/internal/tts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stageRecorder struct {
	mu     sync.Mutex
	stages []Stage
}

func (s *stageRecorder) record(stage Stage, _ error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stages = append(s.stages, stage)
}

func longText(paragraphs int) string {
	var b strings.Builder
	b.WriteString("<speak>")
	for i := 0; i < paragraphs; i++ {
		b.WriteString("<p>")
		for b.Len() < (i+1)*1500 {
			b.WriteString("The narrator keeps reading the article aloud. ")
		}
		b.WriteString("</p>")
	}
	b.WriteString("</speak>")
	return b.String()
}

func TestRunWalksEveryStage(t *testing.T) {
	synth := newFakeSynth()
	p, work := newPipeline(t, synth, 2)
	rec := &stageRecorder{}

	res, err := p.Run(context.Background(), Request{ID: "job-1", Text: longText(8), Options: googleMP3, OnStage: rec.record})
	require.NoError(t, err)

	assert.Equal(t, []Stage{StageChunking, StageSynthesizing, StageAssembling, StageCleaningUp, StageDone}, rec.stages)
	assert.Greater(t, res.Chunks, 1)
	assert.Equal(t, "job-1", res.ID)
	assert.Equal(t, filepath.Join(work, "job-1.mp3"), res.OutputPath)
	assert.Equal(t, []string{"job-1.mp3"}, listFiles(t, work))

	data, err := os.ReadFile(res.OutputPath)
	require.NoError(t, err)
	var want strings.Builder
	for i := 0; i < res.Chunks; i++ {
		want.WriteString(strconv.Itoa(i) + "|")
	}
	assert.Equal(t, want.String(), string(data))
}

func TestRunDeliversAndRemovesLocalCopy(t *testing.T) {
	p, work := newPipeline(t, newFakeSynth(), 2)
	rec := &stageRecorder{}
	var delivered []byte

	res, err := p.Run(context.Background(), Request{
		Text:    "<speak>Short story.</speak>",
		Options: googleMP3,
		OnStage: rec.record,
		Deliver: func(_ context.Context, path string) (string, error) {
			data, err := os.ReadFile(path)
			delivered = data
			return "https://example.test/" + filepath.Base(path), err
		},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, res.ID)
	assert.Equal(t, 1, res.Chunks)
	assert.Equal(t, "0|", string(delivered))
	assert.Equal(t, "https://example.test/"+res.ID+".mp3", res.URL)
	assert.Empty(t, res.OutputPath)
	assert.Empty(t, listFiles(t, work))
	assert.Equal(t, []Stage{StageChunking, StageSynthesizing, StageAssembling, StageDelivering, StageCleaningUp, StageDone}, rec.stages)
}

func TestRunFailureCleansUp(t *testing.T) {
	synth := newFakeSynth()
	synth.failures[1] = []error{permanent(1)}
	p, work := newPipeline(t, synth, 1)
	rec := &stageRecorder{}

	_, err := p.Run(context.Background(), Request{Text: longText(8), Options: googleMP3, OnStage: rec.record})
	require.Error(t, err)

	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, StageSynthesizing, perr.Stage)
	assert.Equal(t, 1, perr.ChunkIndex)
	assert.Equal(t, StageFailed, rec.stages[len(rec.stages)-1])
	assert.Empty(t, listFiles(t, work))
}

func TestRunDeliveryFailureCleansUp(t *testing.T) {
	p, work := newPipeline(t, newFakeSynth(), 1)
	_, err := p.Run(context.Background(), Request{
		Text:    "<speak>Short story.</speak>",
		Options: googleMP3,
		Deliver: func(context.Context, string) (string, error) { return "", errors.New("bucket unavailable") },
	})
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, StageDelivering, perr.Stage)
	assert.Equal(t, -1, perr.ChunkIndex)
	assert.Empty(t, listFiles(t, work))
}

func TestRunEmptyInput(t *testing.T) {
	p, _ := newPipeline(t, newFakeSynth(), 1)
	rec := &stageRecorder{}
	_, err := p.Run(context.Background(), Request{Text: "<speak>   </speak>", Options: googleMP3, OnStage: rec.record})

	var empty *ssml.EmptyInputError
	require.ErrorAs(t, err, &empty)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, StageChunking, perr.Stage)
	assert.Equal(t, []Stage{StageChunking, StageFailed}, rec.stages)
}

func TestRunRejectsUnsupportedEncoding(t *testing.T) {
	p, _ := newPipeline(t, newFakeSynth(), 1)
	opts := googleMP3
	opts.Encoding = tts.EncodingOggVorbis
	_, err := p.Run(context.Background(), Request{Text: "Hello.", Options: opts})
	require.Error(t, err)
}

func TestRunRejectsUnsafeID(t *testing.T) {
	root := t.TempDir()
	work := filepath.Join(root, "a", "b", "work")
	require.NoError(t, os.MkdirAll(work, 0o755))
	victim := filepath.Join(root, "a", "b", "victim", "precious.txt")
	require.NoError(t, os.MkdirAll(filepath.Dir(victim), 0o755))
	require.NoError(t, os.WriteFile(victim, []byte("keep"), 0o644))

	asm := audio.NewAssembler(config.AssemblerConfig{Mode: "stream"}, discardLogger())
	p, err := New(Options{WorkDir: work, Concurrency: 1, MaxAttempts: 1}, tts.Set{tts.BackendGoogle: newFakeSynth()}, asm, discardLogger())
	require.NoError(t, err)

	for _, id := range []string{"../../../victim", "../victim", "a/b", "status.>", "job*", strings.Repeat("x", 65)} {
		rec := &stageRecorder{}
		res, err := p.Run(context.Background(), Request{ID: id, Text: "<speak>Short story.</speak>", Options: googleMP3, OnStage: rec.record})
		require.ErrorIs(t, err, ErrInvalidID, id)
		assert.Empty(t, res.OutputPath, id)
		assert.Empty(t, rec.stages, id)
	}

	_, err = os.Stat(victim)
	require.NoError(t, err)
	assert.Empty(t, listFiles(t, work))
	_, err = os.Stat(filepath.Join(root, "victim.mp3"))
	assert.True(t, os.IsNotExist(err))
}

func TestValidID(t *testing.T) {
	for _, id := range []string{"job-1", "JOB_2", "0b6c2f5e-5d7e-4f43-9d0a-8c1d2e3f4a5b", strings.Repeat("x", 64)} {
		assert.True(t, ValidID(id), id)
	}
	for _, id := range []string{"", ".", "..", "a.b", "a b", "a/b", "a\\b", ">", "*", strings.Repeat("x", 65)} {
		assert.False(t, ValidID(id), id)
	}
}

package eventstore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-narrator/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openStore(t *testing.T, cfg config.EventStoreConfig) *Store {
	t.Helper()
	cfg.Path = filepath.Join(t.TempDir(), "jobs.db")
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	return es
}

func TestOpenEphemeral(t *testing.T) {
	ctx := context.Background()
	cfg := config.EventStoreConfig{RetentionMode: "ephemeral"}
	es, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	if err := es.Ensure(); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	if err := es.CreateJob(ctx, Job{ID: "job"}); err != nil {
		t.Fatalf("create job on ephemeral store: %v", err)
	}
	if _, err := es.GetJob(ctx, "job"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestJobLifecycle(t *testing.T) {
	ctx := context.Background()
	es := openStore(t, config.EventStoreConfig{RetentionMode: "session"})

	job := Job{ID: "job-123", Backend: "google", Voice: "en-US-Wavenet-D", Language: "en-US", Source: "article-1", Encoding: "mp3", Status: "accepted"}
	if err := es.CreateJob(ctx, job); err != nil {
		t.Fatalf("create job: %v", err)
	}
	for _, stage := range []string{"chunking", "synthesizing", "assembling", "cleaning_up", "done"} {
		if err := es.RecordStage(ctx, job.ID, stage, ""); err != nil {
			t.Fatalf("record stage %s: %v", stage, err)
		}
	}
	if err := es.CompleteJob(ctx, job.ID, Outcome{Status: "done", Chunks: 3, ForcedChunks: 1, URL: "https://example.test/a.mp3", AudioDuration: 1500 * time.Millisecond}); err != nil {
		t.Fatalf("complete job: %v", err)
	}

	got, err := es.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != "done" || got.Chunks != 3 || got.ForcedChunks != 1 {
		t.Fatalf("unexpected job: %+v", got)
	}
	if got.URL != "https://example.test/a.mp3" || got.AudioDuration != 1500*time.Millisecond {
		t.Fatalf("unexpected outcome: %+v", got)
	}
	if got.Voice != "en-US-Wavenet-D" || got.Source != "article-1" {
		t.Fatalf("unexpected request fields: %+v", got)
	}

	events, err := es.ListJobEvents(ctx, job.ID, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 5 {
		t.Fatalf("expected 5 events, got %d", len(events))
	}
	if events[0].Stage != "chunking" || events[4].Stage != "done" {
		t.Fatalf("events out of order: %+v", events)
	}
}

func TestRecordStageUnknownJob(t *testing.T) {
	es := openStore(t, config.EventStoreConfig{RetentionMode: "session"})
	err := es.RecordStage(context.Background(), "missing", "chunking", "")
	if !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestPruneByDaysAndJobs(t *testing.T) {
	ctx := context.Background()
	es := openStore(t, config.EventStoreConfig{RetentionMode: "persistent", RetentionDays: 1, MaxJobs: 1})

	es.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := es.CreateJob(ctx, Job{ID: "old-job", Backend: "polly", Status: "accepted"}); err != nil {
		t.Fatalf("create job: %v", err)
	}
	if err := es.RecordStage(ctx, "old-job", "chunking", ""); err != nil {
		t.Fatalf("record stage: %v", err)
	}

	es.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	for _, id := range []string{"job-a", "job-b"} {
		if err := es.CreateJob(ctx, Job{ID: id, Backend: "google", Status: "accepted"}); err != nil {
			t.Fatalf("create job: %v", err)
		}
		es.clock = func() time.Time { return time.Date(2025, 1, 3, 1, 0, 0, 0, time.UTC) }
	}
	if err := es.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	if _, err := es.GetJob(ctx, "old-job"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected old job pruned, got %v", err)
	}
	events, err := es.ListJobEvents(ctx, "old-job", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected old job events pruned")
	}
	if _, err := es.GetJob(ctx, "job-a"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected job-a pruned by max jobs, got %v", err)
	}
	if _, err := es.GetJob(ctx, "job-b"); err != nil {
		t.Fatalf("expected newest job kept: %v", err)
	}
}

func TestCreateJobRejectsDuplicateID(t *testing.T) {
	ctx := context.Background()
	es := openStore(t, config.EventStoreConfig{RetentionMode: "session"})

	if err := es.CreateJob(ctx, Job{ID: "dup", Backend: "google", Status: "accepted"}); err != nil {
		t.Fatalf("create job: %v", err)
	}
	err := es.CreateJob(ctx, Job{ID: "dup", Backend: "azure", Status: "accepted"})
	if !errors.Is(err, ErrJobExists) {
		t.Fatalf("expected ErrJobExists, got %v", err)
	}
	job, err := es.GetJob(ctx, "dup")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Backend != "google" {
		t.Fatalf("duplicate create overwrote the job: backend=%s", job.Backend)
	}
}

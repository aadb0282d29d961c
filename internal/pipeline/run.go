package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-narrator/internal/audio"
	"github.com/loqalabs/loqa-narrator/internal/ssml"
	"github.com/loqalabs/loqa-narrator/internal/tts"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// DeliverFunc hands the assembled file to its final home and returns where
// it can be fetched from.
type DeliverFunc func(ctx context.Context, path string) (string, error)

type Request struct {
	ID      string
	Text    string
	Options tts.Options
	// OutputPath defaults to <work dir>/<id><ext>.
	OutputPath string
	// Deliver, when set, runs after assembly; the local output is removed
	// once it succeeds.
	Deliver DeliverFunc
	// OnStage is called on every stage change, including Failed.
	OnStage func(stage Stage, err error)
}

type Result struct {
	ID            string
	OutputPath    string
	URL           string
	Chunks        int
	ForcedChunks  int
	AudioDuration time.Duration
	Elapsed       time.Duration
}

type run struct {
	p       *Pipeline
	req     Request
	stage   Stage
	dir     string
	frags   []audio.Fragment
	output  string
	logger  *slog.Logger
	cleaned bool
}

func (r *run) advance(next Stage, err error) {
	if !r.stage.CanTransition(next) {
		r.logger.Error("invalid stage transition", slog.String("from", string(r.stage)), slog.String("to", string(next)))
		return
	}
	r.stage = next
	if err != nil {
		r.logger.Warn("narration stage changed", slog.String("stage", string(next)), slogError(err))
	} else {
		r.logger.Debug("narration stage changed", slog.String("stage", string(next)))
	}
	if r.req.OnStage != nil {
		r.req.OnStage(next, err)
	}
}

// Run executes Chunking, Synthesizing, Assembling, the optional delivery
// and CleaningUp. Any failure moves the run to Failed after removing the
// files it created; cleanup problems are logged and never replace the
// original error. IDs that are not ValidID are rejected before any file is
// touched.
func (p *Pipeline) Run(ctx context.Context, req Request) (Result, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if !ValidID(req.ID) {
		return Result{}, stageError(StageChunking, req.Options.Backend, -1, fmt.Errorf("%w: %q", ErrInvalidID, req.ID))
	}
	started := time.Now()
	backend := req.Options.Backend
	ctx, span := p.inst.tracer.Start(ctx, "narration.run", trace.WithAttributes(
		attribute.String("narration.id", req.ID),
		attribute.String("narration.backend", backend.String()),
		attribute.Int("narration.text.length", len(req.Text)),
	))
	defer span.End()

	r := &run{
		p:      p,
		req:    req,
		stage:  StageChunking,
		dir:    filepath.Join(p.opts.WorkDir, "run-"+req.ID+"-"+uuid.NewString()[:8]),
		logger: p.logger.With(slog.String("run", req.ID), slog.String("backend", backend.String())),
	}
	r.output = req.OutputPath
	if r.output == "" {
		r.output = filepath.Join(p.opts.WorkDir, req.ID+req.Options.Encoding.Ext())
	}
	if req.OnStage != nil {
		req.OnStage(StageChunking, nil)
	}

	res, err := r.execute(ctx)
	res.ID = req.ID
	res.Elapsed = time.Since(started)

	outcome := "ok"
	if err != nil {
		outcome = "error"
		r.fail(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(stageOf(err)))
	}
	span.SetAttributes(attribute.Int("narration.chunks", res.Chunks))
	p.inst.runs.Add(ctx, 1, metric.WithAttributes(
		attribute.String("backend", backend.String()),
		attribute.String("outcome", outcome),
	))
	if err != nil {
		return res, err
	}
	r.logger.Info("narration complete",
		slog.Int("chunks", res.Chunks),
		slog.Int("forced_chunks", res.ForcedChunks),
		slog.Duration("elapsed", res.Elapsed),
	)
	return res, nil
}

func (r *run) execute(ctx context.Context) (Result, error) {
	var res Result
	opts := r.req.Options
	if err := opts.Validate(); err != nil {
		return res, stageError(StageChunking, opts.Backend, -1, err)
	}

	chunks, err := ssml.Split(r.req.Text, opts.Backend.Limits())
	if err != nil {
		return res, stageError(StageChunking, opts.Backend, -1, err)
	}
	res.Chunks = len(chunks)
	for _, c := range chunks {
		if c.Forced {
			res.ForcedChunks++
		}
	}
	if res.ForcedChunks > 0 {
		r.logger.Info("chunks split at non-sentence boundaries", slog.Int("forced_chunks", res.ForcedChunks))
	}

	r.advance(StageSynthesizing, nil)
	r.frags, err = r.p.synthesizeInto(ctx, r.dir, chunks, opts)
	if err != nil {
		return res, err
	}

	r.advance(StageAssembling, nil)
	out, err := r.p.assembler.Assemble(ctx, r.frags, r.output)
	if err != nil {
		return res, stageError(StageAssembling, opts.Backend, -1, err)
	}
	res.OutputPath = out
	if d, err := audio.FileDuration(out); err == nil {
		res.AudioDuration = d
	}

	delivered := false
	if r.req.Deliver != nil {
		r.advance(StageDelivering, nil)
		url, err := r.req.Deliver(ctx, out)
		if err != nil {
			return res, stageError(StageDelivering, opts.Backend, -1, err)
		}
		res.URL = url
		delivered = true
	}

	r.advance(StageCleaningUp, nil)
	paths := audio.Paths(r.frags)
	if delivered {
		paths = append(paths, out)
		res.OutputPath = ""
	}
	r.cleanup(paths...)

	r.advance(StageDone, nil)
	return res, nil
}

func (r *run) cleanup(paths ...string) {
	if r.cleaned {
		return
	}
	r.cleaned = true
	if err := audio.RemoveAll(r.logger, paths...); err != nil {
		r.logger.Warn("cleanup incomplete", slogError(err))
	}
	if err := audio.RemoveDir(r.logger, r.dir); err != nil {
		r.logger.Warn("cleanup incomplete", slogError(err))
	}
}

// fail removes everything the run created and reports Failed. An output
// path chosen by the caller is left alone.
func (r *run) fail(err error) {
	paths := audio.Paths(r.frags)
	if r.req.OutputPath == "" {
		paths = append(paths, r.output)
	}
	r.cleanup(paths...)
	r.advance(StageFailed, err)
}

func stageOf(err error) Stage {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Stage
	}
	return StageFailed
}

// Package pipeline drives one narration run: chunk the text, synthesize the
// chunks concurrently, assemble the fragments in index order and clean up.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/loqalabs/loqa-narrator/internal/audio"
	"github.com/loqalabs/loqa-narrator/internal/config"
	"github.com/loqalabs/loqa-narrator/internal/ssml"
	"github.com/loqalabs/loqa-narrator/internal/tts"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Synthesizers resolves the synthesizer for a backend.
type Synthesizers interface {
	Get(backend tts.Backend) (tts.Synthesizer, error)
}

type Options struct {
	WorkDir           string
	Concurrency       int
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	RequestsPerSecond float64
	Burst             int
}

func OptionsFromConfig(cfg config.PipelineConfig) Options {
	return Options{
		WorkDir:           cfg.WorkDir,
		Concurrency:       cfg.Concurrency,
		MaxAttempts:       cfg.MaxAttempts,
		InitialBackoff:    time.Duration(cfg.InitialBackoffMS) * time.Millisecond,
		MaxBackoff:        time.Duration(cfg.MaxBackoffMS) * time.Millisecond,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
	}
}

type Pipeline struct {
	opts      Options
	synths    Synthesizers
	assembler *audio.Assembler
	limiters  map[tts.Backend]*rate.Limiter
	inst      instruments
	logger    *slog.Logger
}

func New(opts Options, synths Synthesizers, assembler *audio.Assembler, log *slog.Logger) (*Pipeline, error) {
	if opts.WorkDir == "" {
		return nil, errors.New("pipeline: work dir must be set")
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	inst, err := newInstruments()
	if err != nil {
		return nil, fmt.Errorf("pipeline instruments: %w", err)
	}
	limiters := make(map[tts.Backend]*rate.Limiter)
	if opts.RequestsPerSecond > 0 {
		for _, b := range tts.Backends() {
			limiters[b] = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst)
		}
	}
	return &Pipeline{
		opts:      opts,
		synths:    synths,
		assembler: assembler,
		limiters:  limiters,
		inst:      inst,
		logger:    log.With(slog.String("component", "pipeline")),
	}, nil
}

// SynthesizeAll sends every chunk to the backend named in opts and writes
// each result to its own index-keyed file. Calls run concurrently up to the
// configured limit and complete in any order; the returned fragments are in
// chunk order. The first failure cancels the remaining calls and removes
// every fragment written so far.
func (p *Pipeline) SynthesizeAll(ctx context.Context, chunks []ssml.Chunk, opts tts.Options) ([]audio.Fragment, error) {
	dir := filepath.Join(p.opts.WorkDir, "run-"+uuid.NewString())
	fragments, err := p.synthesizeInto(ctx, dir, chunks, opts)
	if err != nil {
		_ = audio.RemoveDir(p.logger, dir)
		return nil, err
	}
	return fragments, nil
}

func (p *Pipeline) synthesizeInto(ctx context.Context, dir string, chunks []ssml.Chunk, opts tts.Options) ([]audio.Fragment, error) {
	if len(chunks) == 0 {
		return nil, stageError(StageSynthesizing, opts.Backend, -1, ErrNoChunks)
	}
	if err := opts.Validate(); err != nil {
		return nil, stageError(StageSynthesizing, opts.Backend, -1, err)
	}
	for i := 1; i < len(chunks); i++ {
		if chunks[i].Index <= chunks[i-1].Index {
			return nil, stageError(StageSynthesizing, opts.Backend, chunks[i].Index,
				fmt.Errorf("chunk %d follows %d: indices must be strictly ascending", chunks[i].Index, chunks[i-1].Index))
		}
	}
	synth, err := p.synths.Get(opts.Backend)
	if err != nil {
		return nil, stageError(StageSynthesizing, opts.Backend, -1, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, stageError(StageSynthesizing, opts.Backend, -1, err)
	}

	fragments := make([]audio.Fragment, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)
	for i, chunk := range chunks {
		if gctx.Err() != nil {
			break
		}
		path := audio.FragmentPath(dir, chunk.Index, opts.Encoding.Ext())
		g.Go(func() error {
			data, err := p.synthesizeChunk(gctx, synth, chunk, opts)
			if err != nil {
				return stageError(StageSynthesizing, opts.Backend, chunk.Index, err)
			}
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return stageError(StageSynthesizing, opts.Backend, chunk.Index, err)
			}
			fragments[i] = audio.Fragment{Index: chunk.Index, Path: path}
			return nil
		})
	}
	err = g.Wait()
	if err == nil && ctx.Err() != nil {
		err = stageError(StageSynthesizing, opts.Backend, -1, ctx.Err())
	}
	if err != nil {
		var written []string
		for _, f := range fragments {
			if f.Path != "" {
				written = append(written, f.Path)
			}
		}
		if cerr := audio.RemoveAll(p.logger, written...); cerr != nil {
			p.logger.Warn("cleanup after failed synthesis incomplete", slogError(cerr))
		}
		return nil, err
	}
	return fragments, nil
}

func (p *Pipeline) synthesizeChunk(ctx context.Context, synth tts.Synthesizer, chunk ssml.Chunk, opts tts.Options) ([]byte, error) {
	ctx, span := p.inst.tracer.Start(ctx, "narration.synthesize_chunk", trace.WithAttributes(
		attribute.String("narration.backend", opts.Backend.String()),
		attribute.Int("narration.chunk.index", chunk.Index),
		attribute.Int("narration.chunk.length", chunk.Len()),
	))
	defer span.End()

	limiter := p.limiters[opts.Backend]
	attempts := 0
	started := time.Now()
	data, err := backoff.Retry(ctx, func() ([]byte, error) {
		attempts++
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return nil, backoff.Permanent(err)
			}
		}
		data, err := synth.Synthesize(ctx, chunk, opts)
		if err != nil {
			if !tts.IsRetryable(err) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		if len(data) == 0 {
			return nil, backoff.Permanent(fmt.Errorf("chunk %d: %w", chunk.Index, tts.ErrEmptyAudio))
		}
		return data, nil
	},
		backoff.WithBackOff(p.newBackOff()),
		backoff.WithMaxTries(uint(p.opts.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			p.logger.Warn("retrying chunk synthesis",
				slog.String("backend", opts.Backend.String()),
				slog.Int("chunk", chunk.Index),
				slog.Duration("backoff", next),
				slogError(err),
			)
		}),
	)

	outcome := "ok"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, "synthesis failed")
	}
	span.SetAttributes(attribute.Int("narration.attempts", attempts))
	attrs := metric.WithAttributes(
		attribute.String("backend", opts.Backend.String()),
		attribute.String("outcome", outcome),
	)
	p.inst.chunks.Add(ctx, 1, attrs)
	p.inst.duration.Record(ctx, float64(time.Since(started).Milliseconds()), attrs)
	return data, err
}

func (p *Pipeline) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.opts.InitialBackoff > 0 {
		b.InitialInterval = p.opts.InitialBackoff
	}
	if p.opts.MaxBackoff > 0 {
		b.MaxInterval = p.opts.MaxBackoff
	}
	return b
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}

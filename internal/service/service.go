package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-narrator/internal/bus"
	"github.com/loqalabs/loqa-narrator/internal/config"
	"github.com/loqalabs/loqa-narrator/internal/eventstore"
	"github.com/loqalabs/loqa-narrator/internal/pipeline"
	"github.com/loqalabs/loqa-narrator/internal/protocol"
	"github.com/loqalabs/loqa-narrator/internal/storage"
	"github.com/loqalabs/loqa-narrator/internal/tts"
	"github.com/nats-io/nats.go"
)

const (
	queueGroup      = "narrator"
	statusRetention = 24 * time.Hour
	stageAccepted   = "accepted"
)

var ErrJobInFlight = errors.New("a job with this id is already running")

// Runner executes one narration run.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

// JobRecorder keeps the history of every job.
type JobRecorder interface {
	CreateJob(ctx context.Context, job eventstore.Job) error
	RecordStage(ctx context.Context, jobID, stage, detail string) error
	CompleteJob(ctx context.Context, jobID string, out eventstore.Outcome) error
}

// Service answers narration requests from the bus.
type Service struct {
	cfg      config.ServiceConfig
	prefix   string
	bus      *bus.Client
	runner   Runner
	uploader storage.Uploader
	jobs     JobRecorder
	sem      chan struct{}
	mu       sync.Mutex
	inFlight map[string]struct{}
	sub      *nats.Subscription
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	logger   *slog.Logger
}

// NewService wires a service. uploader may be nil, in which case results
// stay in the pipeline's work directory.
func NewService(parent context.Context, cfg config.ServiceConfig, prefix string, busClient *bus.Client, runner Runner, uploader storage.Uploader, jobs JobRecorder, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	maxJobs := cfg.MaxJobs
	if maxJobs <= 0 {
		maxJobs = 1
	}
	return &Service{
		cfg:      cfg,
		prefix:   prefix,
		bus:      busClient,
		runner:   runner,
		uploader: uploader,
		jobs:     jobs,
		sem:      make(chan struct{}, maxJobs),
		inFlight: make(map[string]struct{}),
		ctx:      ctx,
		cancel:   cancel,
		logger:   log.With(slog.String("component", "narration-service")),
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	if err := s.bus.EnsureStream(protocol.StreamNarrationStatus, []string{protocol.SubjectNarrationStatusPrefix + ".>"}, statusRetention); err != nil {
		s.logger.Warn("status stream unavailable", slogError(err))
	}
	sub, err := s.bus.Conn().QueueSubscribe(protocol.SubjectNarrationRequest, queueGroup, s.handleRequest)
	if err != nil {
		return err
	}
	s.sub = sub
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return !s.cfg.Enabled || s.sub != nil }

// ActiveJobs reports how many narrations are running right now.
func (s *Service) ActiveJobs() int { return len(s.sem) }

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.NarrationRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode narration request", slogError(err))
		s.reply(msg, protocol.NarrationResult{Status: string(pipeline.StageFailed), Error: "invalid request payload", CompletedAt: time.Now().UTC()})
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.reply(msg, s.Handle(s.ctx, req))
	}()
}

// Handle runs one request to completion and returns its result. It waits
// for a free job slot first.
func (s *Service) Handle(ctx context.Context, req protocol.NarrationRequest) protocol.NarrationResult {
	if req.JobID == "" {
		req.JobID = uuid.NewString()
	}
	if !pipeline.ValidID(req.JobID) {
		s.logger.Warn("rejected narration request", slog.String("job", req.JobID), slogError(pipeline.ErrInvalidID))
		return failed(req.JobID, pipeline.ErrInvalidID)
	}
	logger := s.logger.With(slog.String("job", req.JobID))

	opts, err := s.resolveOptions(req)
	if err != nil {
		logger.Warn("rejected narration request", slogError(err))
		return failed(req.JobID, err)
	}

	if !s.claim(req.JobID) {
		logger.Warn("rejected narration request", slogError(ErrJobInFlight))
		return failed(req.JobID, ErrJobInFlight)
	}
	defer s.release(req.JobID)

	if err := s.jobs.CreateJob(ctx, eventstore.Job{
		ID:       req.JobID,
		Backend:  opts.Backend.String(),
		Voice:    opts.VoiceName,
		Language: opts.LanguageCode,
		Source:   opts.SourceTag,
		Encoding: string(opts.Encoding),
		Status:   stageAccepted,
	}); errors.Is(err, eventstore.ErrJobExists) {
		logger.Warn("rejected narration request", slogError(err))
		return failed(req.JobID, err)
	} else if err != nil {
		logger.Warn("failed to record job", slogError(err))
	}

	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	case <-ctx.Done():
		s.complete(req.JobID, pipeline.Result{ID: req.JobID}, ctx.Err())
		return failed(req.JobID, ctx.Err())
	}

	if s.cfg.JobTimeoutMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(s.cfg.JobTimeoutMS)*time.Millisecond)
		defer cancel()
	}

	run := pipeline.Request{
		ID:      req.JobID,
		Text:    req.Text,
		Options: opts,
		OnStage: func(stage pipeline.Stage, err error) {
			s.recordStage(req.JobID, stage, err)
		},
	}
	if s.uploader != nil {
		obj := storage.ObjectFor(s.prefix, req.JobID, opts)
		run.Deliver = func(ctx context.Context, path string) (string, error) {
			return s.uploader.Upload(ctx, path, obj)
		}
	}

	logger.Info("narration started", slog.String("backend", opts.Backend.String()), slog.Int("text_length", len(req.Text)))
	res, err := s.runner.Run(ctx, run)
	s.complete(req.JobID, res, err)
	if err != nil {
		return failed(req.JobID, err)
	}
	return protocol.NarrationResult{
		JobID:           req.JobID,
		Status:          string(pipeline.StageDone),
		URL:             res.URL,
		Chunks:          res.Chunks,
		ForcedChunks:    res.ForcedChunks,
		DurationSeconds: res.AudioDuration.Seconds(),
		CompletedAt:     time.Now().UTC(),
	}
}

// claim reserves id for one running job.
func (s *Service) claim(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inFlight[id]; ok {
		return false
	}
	s.inFlight[id] = struct{}{}
	return true
}

func (s *Service) release(id string) {
	s.mu.Lock()
	delete(s.inFlight, id)
	s.mu.Unlock()
}

func (s *Service) resolveOptions(req protocol.NarrationRequest) (tts.Options, error) {
	name := req.Backend
	if name == "" {
		name = s.cfg.DefaultBackend
	}
	backend, err := tts.ParseBackend(name)
	if err != nil {
		return tts.Options{}, err
	}
	opts := tts.Options{
		Backend:      backend,
		LanguageCode: req.LanguageCode,
		VoiceName:    req.VoiceName,
		SourceTag:    req.Source,
	}
	if opts.VoiceName == "" {
		opts.VoiceName = s.cfg.DefaultVoice
		if opts.LanguageCode == "" {
			opts.LanguageCode = s.cfg.DefaultLanguage
		}
	}
	mime := req.MIMEType
	if mime == "" {
		mime = s.cfg.DefaultMIMEType
	}
	if opts.Encoding, err = tts.EncodingForMIME(mime, backend); err != nil {
		return tts.Options{}, err
	}
	return opts, opts.Validate()
}

func (s *Service) recordStage(jobID string, stage pipeline.Stage, stageErr error) {
	detail := ""
	if stageErr != nil {
		detail = stageErr.Error()
	}
	// history outlives a cancelled job context
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.jobs.RecordStage(ctx, jobID, string(stage), detail); err != nil {
		s.logger.Warn("failed to record job stage", slog.String("job", jobID), slogError(err))
	}

	status := protocol.NarrationStatus{JobID: jobID, Stage: string(stage), Error: detail, Timestamp: time.Now().UTC()}
	data, err := json.Marshal(status)
	if err != nil {
		s.logger.Warn("failed to marshal narration status", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(protocol.StatusSubject(jobID), data); err != nil {
		s.logger.Warn("failed to publish narration status", slogError(err))
	}
}

func (s *Service) complete(jobID string, res pipeline.Result, runErr error) {
	out := eventstore.Outcome{
		Status:        string(pipeline.StageDone),
		Chunks:        res.Chunks,
		ForcedChunks:  res.ForcedChunks,
		URL:           res.URL,
		AudioDuration: res.AudioDuration,
	}
	if runErr != nil {
		out.Status = string(pipeline.StageFailed)
		out.Error = runErr.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.jobs.CompleteJob(ctx, jobID, out); err != nil {
		s.logger.Warn("failed to record job outcome", slog.String("job", jobID), slogError(err))
	}
	if runErr != nil {
		s.logger.Warn("narration failed", slog.String("job", jobID), slogError(runErr))
	} else {
		s.logger.Info("narration finished", slog.String("job", jobID), slog.String("url", res.URL), slog.Int("chunks", res.Chunks))
	}
}

func (s *Service) reply(msg *nats.Msg, res protocol.NarrationResult) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(res)
	if err != nil {
		s.logger.Warn("failed to marshal narration result", slogError(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("failed to reply to narration request", slogError(err))
	}
}

func failed(jobID string, err error) protocol.NarrationResult {
	res := protocol.NarrationResult{
		JobID:       jobID,
		Status:      string(pipeline.StageFailed),
		Error:       err.Error(),
		CompletedAt: time.Now().UTC(),
	}
	var perr *pipeline.Error
	if errors.As(err, &perr) {
		res.FailedStage = string(perr.Stage)
		if perr.ChunkIndex >= 0 {
			idx := perr.ChunkIndex
			res.ChunkIndex = &idx
		}
	}
	return res
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}


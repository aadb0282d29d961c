package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-narrator/internal/audio"
	"github.com/loqalabs/loqa-narrator/internal/bus"
	"github.com/loqalabs/loqa-narrator/internal/capability"
	"github.com/loqalabs/loqa-narrator/internal/config"
	"github.com/loqalabs/loqa-narrator/internal/eventstore"
	"github.com/loqalabs/loqa-narrator/internal/natsserver"
	"github.com/loqalabs/loqa-narrator/internal/pipeline"
	"github.com/loqalabs/loqa-narrator/internal/service"
	"github.com/loqalabs/loqa-narrator/internal/storage"
	"github.com/loqalabs/loqa-narrator/internal/tts"
)

type Runtime struct {
	cfg           config.Config
	logger        *slog.Logger
	httpServer    *http.Server
	metricsServer *http.Server
	tracerClose   func(context.Context) error
	nats          *natsserver.EmbeddedServer
	bus           *bus.Client
	registry      *capability.Registry
	store         *eventstore.Store
	service       *service.Service
	ready         atomic.Bool
	wg            sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(ctx, r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry
	defer r.shutdown()

	if err := r.startComponents(ctx); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.HandleFunc("/nodes", r.handleNodes)
	if local, ok := r.uploaderDir(); ok {
		mux.Handle("/audio/", http.StripPrefix("/audio/", http.FileServer(http.Dir(local))))
	}
	if metricsHandler != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricsHandler)
		r.metricsServer = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.serve(r.metricsServer, "metrics")
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.serve(r.httpServer, "http")

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr), slog.String("node", r.cfg.Node.ID))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	return nil
}

func (r *Runtime) startComponents(ctx context.Context) error {
	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}
	r.store = store
	if err := store.Ensure(); err != nil {
		return err
	}
	if err := store.Prune(ctx); err != nil {
		r.logger.Warn("job history pruning failed", slog.String("error", err.Error()))
	}

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded NATS: %w", err)
	}
	r.nats = embedded
	busCfg := r.cfg.Bus
	if embedded != nil {
		busCfg.Servers = []string{embedded.ClientURL()}
	}

	busClient, err := bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	r.bus = busClient

	synths := tts.NewSet(ctx, r.cfg.Backends, r.logger)
	if len(synths) == 0 {
		return errors.New("no tts backend could be initialized")
	}

	registry, err := capability.NewRegistry(ctx, r.cfg.Node, capabilitiesFor(synths, r.cfg.Backends), busClient, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start capability registry: %w", err)
	}
	r.registry = registry

	assembler := audio.NewAssembler(r.cfg.Assembler, r.logger)
	p, err := pipeline.New(pipeline.OptionsFromConfig(r.cfg.Pipeline), synths, assembler, r.logger)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	uploader, err := storage.New(ctx, r.cfg.Storage, r.logger)
	if err != nil {
		return fmt.Errorf("failed to create uploader: %w", err)
	}

	r.service = service.NewService(ctx, r.cfg.Service, r.cfg.Storage.Prefix, busClient, p, uploader, store, r.logger)
	if err := r.service.Start(); err != nil {
		return fmt.Errorf("failed to start narration service: %w", err)
	}
	registry.SetLoad(r.service.ActiveJobs)
	return nil
}

func (r *Runtime) serve(srv *http.Server, name string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error(name+" server failed", slog.String("error", err.Error()))
		}
	}()
}

// shutdown stops everything Start brought up, in reverse order.
func (r *Runtime) shutdown() {
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	for _, srv := range []*http.Server{r.httpServer, r.metricsServer} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	if r.service != nil {
		r.service.Close()
	}
	if r.registry != nil {
		r.registry.Close()
	}
	if r.bus != nil {
		r.bus.Close()
	}
	if r.nats != nil {
		r.nats.Shutdown()
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Error("event store close error", slog.String("error", err.Error()))
		}
	}
	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
}

func (r *Runtime) uploaderDir() (string, bool) {
	if r.cfg.Storage.Mode != "local" || r.cfg.Storage.LocalDir == "" {
		return "", false
	}
	return r.cfg.Storage.LocalDir, true
}

// capabilitiesFor advertises one capability per ready backend, carrying
// the chunk limits it is split against.
func capabilitiesFor(synths tts.Set, cfg config.BackendsConfig) []capability.Capability {
	var caps []capability.Capability
	for _, backend := range synths.Available() {
		limits := backend.Limits()
		caps = append(caps, capability.Capability{
			Name: "tts." + backend.String(),
			Tier: tts.Mode(backend, cfg),
			Attributes: map[string]string{
				"hard_limit": strconv.Itoa(limits.Hard),
				"soft_limit": strconv.Itoa(limits.Soft),
			},
		})
	}
	return caps
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.isReady() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) isReady() bool {
	if !r.ready.Load() {
		return false
	}
	if r.bus != nil && !r.bus.Healthy() {
		return false
	}
	return r.service == nil || r.service.Healthy()
}

func (r *Runtime) handleNodes(w http.ResponseWriter, req *http.Request) {
	if r.registry == nil {
		http.Error(w, "registry unavailable", http.StatusServiceUnavailable)
		return
	}
	var filter func(capability.NodeInfo) bool
	if name := req.URL.Query().Get("capability"); name != "" {
		filter = capability.WithCapabilityFilter(name)
	}
	if req.URL.Query().Get("healthy") == "true" {
		filter = capability.OnlyHealthy(filter)
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(r.registry.Query(filter)); err != nil {
		r.logger.Warn("failed to encode nodes", slog.String("error", err.Error()))
	}
}

package tts

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/loqalabs/loqa-narrator/internal/config"
)

// New builds the synthesizer for one backend according to its configured
// mode: cloud talks to the vendor API, exec runs a local command and mock
// fabricates audio.
func New(ctx context.Context, backend Backend, cfg config.BackendsConfig) (Synthesizer, error) {
	mode, command := backendMode(backend, cfg)
	switch mode {
	case "mock", "":
		return NewMockSynthesizer(backend, 0), nil
	case "exec":
		return NewExecSynthesizer(backend, command)
	case "cloud":
		switch backend {
		case BackendGoogle:
			return NewGoogleSynthesizer(ctx, cfg.Google)
		case BackendPolly:
			return NewPollySynthesizer(cfg.Polly)
		case BackendAzure:
			return NewAzureSynthesizer(cfg.Azure, &http.Client{})
		}
	}
	return nil, fmt.Errorf("tts backend %s: unsupported mode %q", backend, mode)
}

func backendMode(backend Backend, cfg config.BackendsConfig) (mode, command string) {
	switch backend {
	case BackendGoogle:
		return cfg.Google.Mode, cfg.Google.Command
	case BackendPolly:
		return cfg.Polly.Mode, cfg.Polly.Command
	case BackendAzure:
		return cfg.Azure.Mode, cfg.Azure.Command
	}
	return "", ""
}

// Mode reports how a backend is configured to run.
func Mode(backend Backend, cfg config.BackendsConfig) string {
	mode, _ := backendMode(backend, cfg)
	if mode == "" {
		return "mock"
	}
	return mode
}

// Set holds the synthesizers that could be constructed at startup.
type Set map[Backend]Synthesizer

// NewSet builds every backend, logging and skipping the ones that fail.
func NewSet(ctx context.Context, cfg config.BackendsConfig, log *slog.Logger) Set {
	logger := log.With(slog.String("component", "tts"))
	set := make(Set)
	for _, backend := range Backends() {
		synth, err := New(ctx, backend, cfg)
		if err != nil {
			logger.Warn("tts backend unavailable", slog.String("backend", backend.String()), slog.String("error", err.Error()))
			continue
		}
		mode, _ := backendMode(backend, cfg)
		logger.Info("tts backend ready", slog.String("backend", backend.String()), slog.String("mode", mode))
		set[backend] = synth
	}
	return set
}

func (s Set) Get(backend Backend) (Synthesizer, error) {
	synth, ok := s[backend]
	if !ok {
		return nil, fmt.Errorf("tts backend %s is not available", backend)
	}
	return synth, nil
}

// Available lists the ready backends in stable order.
func (s Set) Available() []Backend {
	var out []Backend
	for _, backend := range Backends() {
		if _, ok := s[backend]; ok {
			out = append(out, backend)
		}
	}
	return out
}

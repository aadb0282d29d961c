package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Service.DefaultBackend != "google" {
		t.Fatalf("expected google default backend, got %q", cfg.Service.DefaultBackend)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "narrator.yaml")
	data := []byte(`
pipeline:
  concurrency: 8
  work_dir: /tmp/narrator
backends:
  polly:
    mode: cloud
    region: us-east-1
storage:
  mode: gcs
  bucket: audio-bucket
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Pipeline.Concurrency != 8 || cfg.Pipeline.WorkDir != "/tmp/narrator" {
		t.Fatalf("pipeline section not applied: %+v", cfg.Pipeline)
	}
	if cfg.Pipeline.MaxAttempts != 3 {
		t.Fatalf("expected default max attempts to survive partial yaml, got %d", cfg.Pipeline.MaxAttempts)
	}
	if cfg.Backends.Polly.Mode != "cloud" || cfg.Backends.Polly.Region != "us-east-1" {
		t.Fatalf("polly section not applied: %+v", cfg.Backends.Polly)
	}
	if cfg.Storage.Bucket != "audio-bucket" {
		t.Fatalf("storage bucket not applied")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("NARRATOR_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("NARRATOR_BUS_USERNAME", "alice")
	t.Setenv("NARRATOR_BUS_PASSWORD", "secret")
	t.Setenv("NARRATOR_BUS_TLS_INSECURE", "true")
	t.Setenv("NARRATOR_BUS_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("NARRATOR_NODE_ID", "test-node")
	t.Setenv("NARRATOR_EVENT_STORE_PATH", "./tmp.db")
	t.Setenv("NARRATOR_EVENT_STORE_RETENTION_MODE", "persistent")
	t.Setenv("NARRATOR_EVENT_STORE_MAX_JOBS", "123")
	t.Setenv("NARRATOR_PIPELINE_CONCURRENCY", "16")
	t.Setenv("NARRATOR_PIPELINE_REQUESTS_PER_SECOND", "2.5")
	t.Setenv("NARRATOR_AZURE_MODE", "exec")
	t.Setenv("NARRATOR_AZURE_COMMAND", "python3 azure_stub.py")
	t.Setenv("NARRATOR_SERVICE_DEFAULT_BACKEND", "polly")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if cfg.Bus.ConnectTimeout != 5000 {
		t.Fatalf("expected timeout 5000, got %d", cfg.Bus.ConnectTimeout)
	}
	if cfg.Node.ID != "test-node" {
		t.Fatalf("expected node id override")
	}
	if cfg.EventStore.Path != "./tmp.db" || cfg.EventStore.RetentionMode != "persistent" {
		t.Fatalf("expected event store overrides")
	}
	if cfg.EventStore.MaxJobs != 123 {
		t.Fatalf("expected event store max jobs override")
	}
	if cfg.Pipeline.Concurrency != 16 {
		t.Fatalf("expected concurrency override, got %d", cfg.Pipeline.Concurrency)
	}
	if cfg.Pipeline.RequestsPerSecond != 2.5 {
		t.Fatalf("expected rps override, got %v", cfg.Pipeline.RequestsPerSecond)
	}
	if cfg.Backends.Azure.Mode != "exec" || cfg.Backends.Azure.Command == "" {
		t.Fatalf("expected azure exec override")
	}
	if cfg.Service.DefaultBackend != "polly" {
		t.Fatalf("expected default backend override")
	}
}

func TestValidateRejectsExecWithoutCommand(t *testing.T) {
	t.Setenv("NARRATOR_GOOGLE_MODE", "exec")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for exec mode without command")
	}
}

func TestValidateRejectsUnknownStorage(t *testing.T) {
	t.Setenv("NARRATOR_STORAGE_MODE", "ftp")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for unknown storage mode")
	}
}

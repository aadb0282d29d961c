package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
	StdoutTraces   bool   `yaml:"stdout_traces"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Node        NodeConfig       `yaml:"node"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Pipeline    PipelineConfig   `yaml:"pipeline"`
	Backends    BackendsConfig   `yaml:"backends"`
	Assembler   AssemblerConfig  `yaml:"assembler"`
	Storage     StorageConfig    `yaml:"storage"`
	Service     ServiceConfig    `yaml:"service"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type NodeConfig struct {
	ID                string `yaml:"id"`
	Role              string `yaml:"role"`
	HeartbeatInterval int    `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeout  int    `yaml:"heartbeat_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxJobs       int    `yaml:"max_jobs"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// PipelineConfig tunes a single narration run.
type PipelineConfig struct {
	WorkDir           string  `yaml:"work_dir"`
	Concurrency       int     `yaml:"concurrency"`
	MaxAttempts       int     `yaml:"max_attempts"`
	InitialBackoffMS  int     `yaml:"initial_backoff_ms"`
	MaxBackoffMS      int     `yaml:"max_backoff_ms"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

type BackendsConfig struct {
	Google GoogleConfig `yaml:"google"`
	Polly  PollyConfig  `yaml:"polly"`
	Azure  AzureConfig  `yaml:"azure"`
}

type GoogleConfig struct {
	Mode            string `yaml:"mode"` // cloud, exec, mock
	Command         string `yaml:"command"`
	CredentialsFile string `yaml:"credentials_file"`
	Endpoint        string `yaml:"endpoint"`
}

type PollyConfig struct {
	Mode            string `yaml:"mode"`
	Command         string `yaml:"command"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Engine          string `yaml:"engine"`
}

type AzureConfig struct {
	Mode            string `yaml:"mode"`
	Command         string `yaml:"command"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	SubscriptionKey string `yaml:"subscription_key"`
	TimeoutMS       int    `yaml:"timeout_ms"`
}

type AssemblerConfig struct {
	Mode       string `yaml:"mode"` // auto, stream, ffmpeg
	FFmpegPath string `yaml:"ffmpeg_path"`
}

type StorageConfig struct {
	Mode            string `yaml:"mode"` // none, local, gcs
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	LocalDir        string `yaml:"local_dir"`
	PublicBaseURL   string `yaml:"public_base_url"`
	CredentialsFile string `yaml:"credentials_file"`
	Endpoint        string `yaml:"endpoint"`
	CacheControl    string `yaml:"cache_control"`
}

type ServiceConfig struct {
	Enabled         bool   `yaml:"enabled"`
	MaxJobs         int    `yaml:"max_concurrent_jobs"`
	JobTimeoutMS    int    `yaml:"job_timeout_ms"`
	DefaultBackend  string `yaml:"default_backend"`
	DefaultVoice    string `yaml:"default_voice"`
	DefaultLanguage string `yaml:"default_language"`
	DefaultMIMEType string `yaml:"default_mime_type"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-narrator",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Host:           "0.0.0.0",
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Node: NodeConfig{
			ID:                "narrator-node-1",
			Role:              "narrator",
			HeartbeatInterval: 2000,
			HeartbeatTimeout:  6000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/narrator-jobs.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxJobs:       10000,
		},
		Pipeline: PipelineConfig{
			WorkDir:           "./data/work",
			Concurrency:       4,
			MaxAttempts:       3,
			InitialBackoffMS:  500,
			MaxBackoffMS:      5000,
			RequestsPerSecond: 0,
			Burst:             1,
		},
		Backends: BackendsConfig{
			Google: GoogleConfig{Mode: "mock"},
			Polly: PollyConfig{
				Mode:   "mock",
				Region: "eu-west-1",
				Engine: "standard",
			},
			Azure: AzureConfig{
				Mode:      "mock",
				Region:    "westeurope",
				TimeoutMS: 30000,
			},
		},
		Assembler: AssemblerConfig{
			Mode:       "auto",
			FFmpegPath: "ffmpeg",
		},
		Storage: StorageConfig{
			Mode:          "local",
			Bucket:        "synthesized-audio-files",
			Prefix:        "articles",
			LocalDir:      "./data/public",
			PublicBaseURL: "http://localhost:8080/audio",
			CacheControl:  "public, max-age=31536000",
		},
		Service: ServiceConfig{
			Enabled:         true,
			MaxJobs:         2,
			JobTimeoutMS:    600000,
			DefaultBackend:  "google",
			DefaultVoice:    "en-US-Wavenet-D",
			DefaultLanguage: "en-US",
			DefaultMIMEType: "audio/mpeg",
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "NARRATOR_RUNTIME_NAME")
	overrideString(&cfg.Environment, "NARRATOR_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "NARRATOR_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "NARRATOR_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "NARRATOR_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "NARRATOR_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "NARRATOR_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "NARRATOR_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Telemetry.StdoutTraces, "NARRATOR_TELEMETRY_STDOUT_TRACES")
	overrideBool(&cfg.Bus.Embedded, "NARRATOR_BUS_EMBEDDED")
	overrideString(&cfg.Bus.Host, "NARRATOR_BUS_HOST")
	overrideInt(&cfg.Bus.Port, "NARRATOR_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "NARRATOR_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "NARRATOR_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "NARRATOR_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "NARRATOR_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "NARRATOR_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "NARRATOR_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "NARRATOR_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Node.ID, "NARRATOR_NODE_ID")
	overrideString(&cfg.Node.Role, "NARRATOR_NODE_ROLE")
	overrideInt(&cfg.Node.HeartbeatInterval, "NARRATOR_NODE_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Node.HeartbeatTimeout, "NARRATOR_NODE_HEARTBEAT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "NARRATOR_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "NARRATOR_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "NARRATOR_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxJobs, "NARRATOR_EVENT_STORE_MAX_JOBS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "NARRATOR_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.Pipeline.WorkDir, "NARRATOR_PIPELINE_WORK_DIR")
	overrideInt(&cfg.Pipeline.Concurrency, "NARRATOR_PIPELINE_CONCURRENCY")
	overrideInt(&cfg.Pipeline.MaxAttempts, "NARRATOR_PIPELINE_MAX_ATTEMPTS")
	overrideInt(&cfg.Pipeline.InitialBackoffMS, "NARRATOR_PIPELINE_INITIAL_BACKOFF_MS")
	overrideInt(&cfg.Pipeline.MaxBackoffMS, "NARRATOR_PIPELINE_MAX_BACKOFF_MS")
	overrideFloat(&cfg.Pipeline.RequestsPerSecond, "NARRATOR_PIPELINE_REQUESTS_PER_SECOND")
	overrideInt(&cfg.Pipeline.Burst, "NARRATOR_PIPELINE_BURST")
	overrideString(&cfg.Backends.Google.Mode, "NARRATOR_GOOGLE_MODE")
	overrideString(&cfg.Backends.Google.Command, "NARRATOR_GOOGLE_COMMAND")
	overrideString(&cfg.Backends.Google.CredentialsFile, "NARRATOR_GOOGLE_CREDENTIALS_FILE")
	overrideString(&cfg.Backends.Google.Endpoint, "NARRATOR_GOOGLE_ENDPOINT")
	overrideString(&cfg.Backends.Polly.Mode, "NARRATOR_POLLY_MODE")
	overrideString(&cfg.Backends.Polly.Command, "NARRATOR_POLLY_COMMAND")
	overrideString(&cfg.Backends.Polly.Region, "NARRATOR_POLLY_REGION")
	overrideString(&cfg.Backends.Polly.Endpoint, "NARRATOR_POLLY_ENDPOINT")
	overrideString(&cfg.Backends.Polly.AccessKeyID, "NARRATOR_POLLY_ACCESS_KEY_ID")
	overrideString(&cfg.Backends.Polly.SecretAccessKey, "NARRATOR_POLLY_SECRET_ACCESS_KEY")
	overrideString(&cfg.Backends.Polly.Engine, "NARRATOR_POLLY_ENGINE")
	overrideString(&cfg.Backends.Azure.Mode, "NARRATOR_AZURE_MODE")
	overrideString(&cfg.Backends.Azure.Command, "NARRATOR_AZURE_COMMAND")
	overrideString(&cfg.Backends.Azure.Region, "NARRATOR_AZURE_REGION")
	overrideString(&cfg.Backends.Azure.Endpoint, "NARRATOR_AZURE_ENDPOINT")
	overrideString(&cfg.Backends.Azure.SubscriptionKey, "NARRATOR_AZURE_SUBSCRIPTION_KEY")
	overrideInt(&cfg.Backends.Azure.TimeoutMS, "NARRATOR_AZURE_TIMEOUT_MS")
	overrideString(&cfg.Assembler.Mode, "NARRATOR_ASSEMBLER_MODE")
	overrideString(&cfg.Assembler.FFmpegPath, "NARRATOR_ASSEMBLER_FFMPEG_PATH")
	overrideString(&cfg.Storage.Mode, "NARRATOR_STORAGE_MODE")
	overrideString(&cfg.Storage.Bucket, "NARRATOR_STORAGE_BUCKET")
	overrideString(&cfg.Storage.Prefix, "NARRATOR_STORAGE_PREFIX")
	overrideString(&cfg.Storage.LocalDir, "NARRATOR_STORAGE_LOCAL_DIR")
	overrideString(&cfg.Storage.PublicBaseURL, "NARRATOR_STORAGE_PUBLIC_BASE_URL")
	overrideString(&cfg.Storage.CredentialsFile, "NARRATOR_STORAGE_CREDENTIALS_FILE")
	overrideString(&cfg.Storage.Endpoint, "NARRATOR_STORAGE_ENDPOINT")
	overrideString(&cfg.Storage.CacheControl, "NARRATOR_STORAGE_CACHE_CONTROL")
	overrideBool(&cfg.Service.Enabled, "NARRATOR_SERVICE_ENABLED")
	overrideInt(&cfg.Service.MaxJobs, "NARRATOR_SERVICE_MAX_CONCURRENT_JOBS")
	overrideInt(&cfg.Service.JobTimeoutMS, "NARRATOR_SERVICE_JOB_TIMEOUT_MS")
	overrideString(&cfg.Service.DefaultBackend, "NARRATOR_SERVICE_DEFAULT_BACKEND")
	overrideString(&cfg.Service.DefaultVoice, "NARRATOR_SERVICE_DEFAULT_VOICE")
	overrideString(&cfg.Service.DefaultLanguage, "NARRATOR_SERVICE_DEFAULT_LANGUAGE")
	overrideString(&cfg.Service.DefaultMIMEType, "NARRATOR_SERVICE_DEFAULT_MIME_TYPE")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Node.ID == "" {
		return errors.New("node.id must not be empty")
	}
	if cfg.Node.HeartbeatInterval <= 0 {
		return errors.New("node.heartbeat_interval_ms must be positive")
	}
	if cfg.Node.HeartbeatTimeout <= cfg.Node.HeartbeatInterval {
		return errors.New("node.heartbeat_timeout_ms must be greater than heartbeat interval")
	}
	if cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Pipeline.WorkDir == "" {
		return errors.New("pipeline.work_dir must not be empty")
	}
	if cfg.Pipeline.Concurrency <= 0 {
		return errors.New("pipeline.concurrency must be >= 1")
	}
	if cfg.Pipeline.MaxAttempts <= 0 {
		return errors.New("pipeline.max_attempts must be >= 1")
	}
	if cfg.Pipeline.RequestsPerSecond < 0 {
		return errors.New("pipeline.requests_per_second must be >= 0")
	}
	if err := validateMode("backends.google", cfg.Backends.Google.Mode, cfg.Backends.Google.Command); err != nil {
		return err
	}
	if err := validateMode("backends.polly", cfg.Backends.Polly.Mode, cfg.Backends.Polly.Command); err != nil {
		return err
	}
	if cfg.Backends.Polly.Mode == "cloud" && cfg.Backends.Polly.Region == "" {
		return errors.New("backends.polly.region must be set when mode=cloud")
	}
	if err := validateMode("backends.azure", cfg.Backends.Azure.Mode, cfg.Backends.Azure.Command); err != nil {
		return err
	}
	if cfg.Backends.Azure.Mode == "cloud" && cfg.Backends.Azure.Region == "" && cfg.Backends.Azure.Endpoint == "" {
		return errors.New("backends.azure.region or backends.azure.endpoint must be set when mode=cloud")
	}
	switch cfg.Assembler.Mode {
	case "auto", "stream":
	case "ffmpeg":
		if cfg.Assembler.FFmpegPath == "" {
			return errors.New("assembler.ffmpeg_path must be set when mode=ffmpeg")
		}
	default:
		return errors.New("assembler.mode must be one of auto|stream|ffmpeg")
	}
	switch cfg.Storage.Mode {
	case "none":
	case "local":
		if cfg.Storage.LocalDir == "" {
			return errors.New("storage.local_dir must be set when mode=local")
		}
	case "gcs":
		if cfg.Storage.Bucket == "" {
			return errors.New("storage.bucket must be set when mode=gcs")
		}
	default:
		return errors.New("storage.mode must be one of none|local|gcs")
	}
	if cfg.Service.Enabled {
		if cfg.Service.MaxJobs <= 0 {
			return errors.New("service.max_concurrent_jobs must be >= 1")
		}
		switch cfg.Service.DefaultBackend {
		case "google", "polly", "azure":
		default:
			return errors.New("service.default_backend must be one of google|polly|azure")
		}
	}
	return nil
}

func validateMode(section, mode, command string) error {
	switch mode {
	case "cloud", "mock":
	case "exec":
		if command == "" {
			return fmt.Errorf("%s.command must be set when mode=exec", section)
		}
	default:
		return fmt.Errorf("%s.mode must be one of cloud|exec|mock", section)
	}
	return nil
}

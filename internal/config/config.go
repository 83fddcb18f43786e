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
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
	StdoutTraces bool   `yaml:"stdout_traces"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	TaskStore   TaskStoreConfig `yaml:"task_store"`
	LLM         LLMConfig       `yaml:"llm"`
	TTS         TTSConfig       `yaml:"tts"`
	Voices      VoicesConfig    `yaml:"voices"`
	Synthesis   SynthesisConfig `yaml:"synthesis"`
	Assembly    AssemblyConfig  `yaml:"assembly"`
	Storage     StorageConfig   `yaml:"storage"`
	Images      ImagesConfig    `yaml:"images"`
	Pipeline    PipelineConfig  `yaml:"pipeline"`
	Worker      WorkerConfig    `yaml:"worker"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type TaskStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type LLMConfig struct {
	Mode        string  `yaml:"mode"` // mock, ollama, exec, openai, gemini
	Endpoint    string  `yaml:"endpoint"`
	Command     string  `yaml:"command"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	TimeoutMS   int     `yaml:"timeout_ms"`
}

type TTSConfig struct {
	Mode       string `yaml:"mode"` // mock, exec, openai
	Command    string `yaml:"command"`
	APIKey     string `yaml:"api_key"`
	Endpoint   string `yaml:"endpoint"`
	Model      string `yaml:"model"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
}

type VoicesConfig struct {
	Family string `yaml:"family"`
	Seed   int64  `yaml:"seed"`
}

type SynthesisConfig struct {
	PaceEvery        int `yaml:"pace_every"`
	PaceDelayMS      int `yaml:"pace_delay_ms"`
	MaxInFlight      int `yaml:"max_in_flight"`
	MaxAttempts      int `yaml:"max_attempts"`
	InitialBackoffMS int `yaml:"initial_backoff_ms"`
	MaxBackoffMS     int `yaml:"max_backoff_ms"`
	RequestTimeoutMS int `yaml:"request_timeout_ms"`
}

type AssemblyConfig struct {
	LeadInMS       int `yaml:"lead_in_ms"`
	SilenceCapMS   int `yaml:"silence_cap_ms"`
	SilenceDivisor int `yaml:"silence_divisor"`
	MinSilenceMS   int `yaml:"min_silence_ms"`
}

type StorageConfig struct {
	Mode           string `yaml:"mode"` // filesystem, s3
	Root           string `yaml:"root"`
	Region         string `yaml:"region"`
	Endpoint       string `yaml:"endpoint"`
	ForcePathStyle bool   `yaml:"force_path_style"`
	AudioBucket    string `yaml:"audio_bucket"`
	CoverBucket    string `yaml:"cover_bucket"`
	AuthorBucket   string `yaml:"author_bucket"`
	UploadAttempts int    `yaml:"upload_attempts"`
}

type ImagesConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Mode        string `yaml:"mode"` // mock, openai
	APIKey      string `yaml:"api_key"`
	Endpoint    string `yaml:"endpoint"`
	Model       string `yaml:"model"`
	Size        string `yaml:"size"`
	Concurrency int    `yaml:"concurrency"`
}

type PipelineConfig struct {
	DefaultStyle   string `yaml:"default_style"`
	StageTimeoutMS int    `yaml:"stage_timeout_ms"`
}

type WorkerConfig struct {
	Enabled        bool   `yaml:"enabled"`
	QueueGroup     string `yaml:"queue_group"`
	MaxConcurrent  int    `yaml:"max_concurrent"`
	ResumePending  bool   `yaml:"resume_pending"`
	PublishUpdates bool   `yaml:"publish_updates"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-podcast",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		TaskStore: TaskStoreConfig{
			Path:          "./data/podcast-tasks.db",
			RetentionDays: 30,
		},
		LLM: LLMConfig{
			Mode:        "mock",
			Endpoint:    "http://localhost:11434",
			Temperature: 0.7,
			TimeoutMS:   120000,
		},
		TTS: TTSConfig{
			Mode:       "mock",
			Model:      "tts-1",
			SampleRate: 24000,
			Channels:   1,
		},
		Voices: VoicesConfig{
			Family: "Chirp3",
		},
		Synthesis: SynthesisConfig{
			PaceEvery:        8,
			PaceDelayMS:      1000,
			MaxInFlight:      4,
			MaxAttempts:      4,
			InitialBackoffMS: 500,
			MaxBackoffMS:     8000,
			RequestTimeoutMS: 45000,
		},
		Assembly: AssemblyConfig{
			LeadInMS:       500,
			SilenceCapMS:   500,
			SilenceDivisor: 10,
			MinSilenceMS:   1,
		},
		Storage: StorageConfig{
			Mode:           "filesystem",
			Root:           "./data/objects",
			AudioBucket:    "podcasts",
			CoverBucket:    "podcast-cover-images",
			AuthorBucket:   "podcast-authors",
			UploadAttempts: 3,
		},
		Images: ImagesConfig{
			Enabled:     true,
			Mode:        "mock",
			Model:       "dall-e-3",
			Size:        "1024x1024",
			Concurrency: 4,
		},
		Pipeline: PipelineConfig{
			DefaultStyle:   "casual",
			StageTimeoutMS: 20 * 60 * 1000,
		},
		Worker: WorkerConfig{
			Enabled:        true,
			QueueGroup:     "podcast-workers",
			MaxConcurrent:  2,
			ResumePending:  true,
			PublishUpdates: true,
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
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LOQA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LOQA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.StdoutTraces, "LOQA_TELEMETRY_STDOUT_TRACES")
	overrideBool(&cfg.Bus.Embedded, "LOQA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "LOQA_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.TaskStore.Path, "LOQA_TASK_STORE_PATH")
	overrideInt(&cfg.TaskStore.RetentionDays, "LOQA_TASK_STORE_RETENTION_DAYS")
	overrideBool(&cfg.TaskStore.VacuumOnStart, "LOQA_TASK_STORE_VACUUM_ON_START")
	overrideString(&cfg.LLM.Mode, "LOQA_LLM_MODE")
	overrideString(&cfg.LLM.Endpoint, "LOQA_LLM_ENDPOINT")
	overrideString(&cfg.LLM.Command, "LOQA_LLM_COMMAND")
	overrideString(&cfg.LLM.APIKey, "LOQA_LLM_API_KEY")
	overrideString(&cfg.LLM.Model, "LOQA_LLM_MODEL")
	overrideFloat(&cfg.LLM.Temperature, "LOQA_LLM_TEMPERATURE")
	overrideInt(&cfg.LLM.TimeoutMS, "LOQA_LLM_TIMEOUT_MS")
	overrideString(&cfg.TTS.Mode, "LOQA_TTS_MODE")
	overrideString(&cfg.TTS.Command, "LOQA_TTS_COMMAND")
	overrideString(&cfg.TTS.APIKey, "LOQA_TTS_API_KEY")
	overrideString(&cfg.TTS.Endpoint, "LOQA_TTS_ENDPOINT")
	overrideString(&cfg.TTS.Model, "LOQA_TTS_MODEL")
	overrideInt(&cfg.TTS.SampleRate, "LOQA_TTS_SAMPLE_RATE")
	overrideInt(&cfg.TTS.Channels, "LOQA_TTS_CHANNELS")
	overrideString(&cfg.Voices.Family, "LOQA_VOICES_FAMILY")
	overrideInt64(&cfg.Voices.Seed, "LOQA_VOICES_SEED")
	overrideInt(&cfg.Synthesis.PaceEvery, "LOQA_SYNTHESIS_PACE_EVERY")
	overrideInt(&cfg.Synthesis.PaceDelayMS, "LOQA_SYNTHESIS_PACE_DELAY_MS")
	overrideInt(&cfg.Synthesis.MaxInFlight, "LOQA_SYNTHESIS_MAX_IN_FLIGHT")
	overrideInt(&cfg.Synthesis.MaxAttempts, "LOQA_SYNTHESIS_MAX_ATTEMPTS")
	overrideInt(&cfg.Synthesis.InitialBackoffMS, "LOQA_SYNTHESIS_INITIAL_BACKOFF_MS")
	overrideInt(&cfg.Synthesis.MaxBackoffMS, "LOQA_SYNTHESIS_MAX_BACKOFF_MS")
	overrideInt(&cfg.Synthesis.RequestTimeoutMS, "LOQA_SYNTHESIS_REQUEST_TIMEOUT_MS")
	overrideInt(&cfg.Assembly.LeadInMS, "LOQA_ASSEMBLY_LEAD_IN_MS")
	overrideInt(&cfg.Assembly.SilenceCapMS, "LOQA_ASSEMBLY_SILENCE_CAP_MS")
	overrideInt(&cfg.Assembly.SilenceDivisor, "LOQA_ASSEMBLY_SILENCE_DIVISOR")
	overrideInt(&cfg.Assembly.MinSilenceMS, "LOQA_ASSEMBLY_MIN_SILENCE_MS")
	overrideString(&cfg.Storage.Mode, "LOQA_STORAGE_MODE")
	overrideString(&cfg.Storage.Root, "LOQA_STORAGE_ROOT")
	overrideString(&cfg.Storage.Region, "LOQA_STORAGE_REGION")
	overrideString(&cfg.Storage.Endpoint, "LOQA_STORAGE_ENDPOINT")
	overrideBool(&cfg.Storage.ForcePathStyle, "LOQA_STORAGE_FORCE_PATH_STYLE")
	overrideString(&cfg.Storage.AudioBucket, "LOQA_STORAGE_AUDIO_BUCKET")
	overrideString(&cfg.Storage.CoverBucket, "LOQA_STORAGE_COVER_BUCKET")
	overrideString(&cfg.Storage.AuthorBucket, "LOQA_STORAGE_AUTHOR_BUCKET")
	overrideInt(&cfg.Storage.UploadAttempts, "LOQA_STORAGE_UPLOAD_ATTEMPTS")
	overrideBool(&cfg.Images.Enabled, "LOQA_IMAGES_ENABLED")
	overrideString(&cfg.Images.Mode, "LOQA_IMAGES_MODE")
	overrideString(&cfg.Images.APIKey, "LOQA_IMAGES_API_KEY")
	overrideString(&cfg.Images.Endpoint, "LOQA_IMAGES_ENDPOINT")
	overrideString(&cfg.Images.Model, "LOQA_IMAGES_MODEL")
	overrideString(&cfg.Images.Size, "LOQA_IMAGES_SIZE")
	overrideInt(&cfg.Images.Concurrency, "LOQA_IMAGES_CONCURRENCY")
	overrideString(&cfg.Pipeline.DefaultStyle, "LOQA_PIPELINE_DEFAULT_STYLE")
	overrideInt(&cfg.Pipeline.StageTimeoutMS, "LOQA_PIPELINE_STAGE_TIMEOUT_MS")
	overrideBool(&cfg.Worker.Enabled, "LOQA_WORKER_ENABLED")
	overrideString(&cfg.Worker.QueueGroup, "LOQA_WORKER_QUEUE_GROUP")
	overrideInt(&cfg.Worker.MaxConcurrent, "LOQA_WORKER_MAX_CONCURRENT")
	overrideBool(&cfg.Worker.ResumePending, "LOQA_WORKER_RESUME_PENDING")
	overrideBool(&cfg.Worker.PublishUpdates, "LOQA_WORKER_PUBLISH_UPDATES")
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

func overrideInt64(target *int64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
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

// Validate checks cross-field constraints. Load calls it after env overrides.
func Validate(cfg Config) error {
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
	} else if len(cfg.Bus.Servers) == 0 {
		return errors.New("bus.servers must not be empty when embedded mode is disabled")
	}
	if cfg.TaskStore.Path == "" {
		return errors.New("task_store.path must not be empty")
	}
	if cfg.TaskStore.RetentionDays < 0 {
		return errors.New("task_store.retention_days must be >= 0")
	}

	switch cfg.LLM.Mode {
	case "mock":
	case "ollama":
		if cfg.LLM.Endpoint == "" {
			return errors.New("llm.endpoint must be set when mode=ollama")
		}
	case "exec":
		if cfg.LLM.Command == "" {
			return errors.New("llm.command must be set when mode=exec")
		}
	case "openai", "gemini":
		if cfg.LLM.APIKey == "" {
			return fmt.Errorf("llm.api_key must be set when mode=%s", cfg.LLM.Mode)
		}
	default:
		return errors.New("llm.mode must be one of mock|ollama|exec|openai|gemini")
	}

	switch cfg.TTS.Mode {
	case "mock":
	case "exec":
		if cfg.TTS.Command == "" {
			return errors.New("tts.command must be set when mode=exec")
		}
	case "openai":
		if cfg.TTS.APIKey == "" {
			return errors.New("tts.api_key must be set when mode=openai")
		}
	default:
		return errors.New("tts.mode must be one of mock|exec|openai")
	}
	if cfg.TTS.Mode == "openai" && cfg.Voices.Family != "" {
		return errors.New("voices.family must be empty when tts.mode=openai")
	}
	if cfg.TTS.SampleRate <= 0 {
		return errors.New("tts.sample_rate must be positive")
	}
	if cfg.TTS.Channels <= 0 {
		return errors.New("tts.channels must be positive")
	}

	if cfg.Synthesis.PaceEvery <= 0 {
		return errors.New("synthesis.pace_every must be >= 1")
	}
	if cfg.Synthesis.PaceDelayMS < 0 {
		return errors.New("synthesis.pace_delay_ms must be >= 0")
	}
	if cfg.Synthesis.MaxInFlight <= 0 {
		return errors.New("synthesis.max_in_flight must be >= 1")
	}
	if cfg.Synthesis.MaxAttempts <= 0 {
		return errors.New("synthesis.max_attempts must be >= 1")
	}
	if cfg.Synthesis.MaxBackoffMS < cfg.Synthesis.InitialBackoffMS {
		return errors.New("synthesis.max_backoff_ms must be >= initial_backoff_ms")
	}

	if cfg.Assembly.LeadInMS < 0 || cfg.Assembly.SilenceCapMS < 0 {
		return errors.New("assembly durations must be >= 0")
	}
	if cfg.Assembly.SilenceDivisor <= 0 {
		return errors.New("assembly.silence_divisor must be >= 1")
	}
	if cfg.Assembly.MinSilenceMS < 1 {
		return errors.New("assembly.min_silence_ms must be >= 1")
	}

	switch cfg.Storage.Mode {
	case "filesystem":
		if cfg.Storage.Root == "" {
			return errors.New("storage.root must be set when mode=filesystem")
		}
	case "s3":
		if cfg.Storage.Region == "" {
			return errors.New("storage.region must be set when mode=s3")
		}
	default:
		return errors.New("storage.mode must be one of filesystem|s3")
	}
	if cfg.Storage.AudioBucket == "" || cfg.Storage.CoverBucket == "" || cfg.Storage.AuthorBucket == "" {
		return errors.New("storage buckets must not be empty")
	}
	if cfg.Storage.UploadAttempts <= 0 {
		return errors.New("storage.upload_attempts must be >= 1")
	}

	if cfg.Images.Enabled {
		switch cfg.Images.Mode {
		case "mock":
		case "openai":
			if cfg.Images.APIKey == "" {
				return errors.New("images.api_key must be set when mode=openai")
			}
		default:
			return errors.New("images.mode must be one of mock|openai")
		}
		if cfg.Images.Concurrency <= 0 {
			return errors.New("images.concurrency must be >= 1")
		}
	}

	if cfg.Pipeline.StageTimeoutMS <= 0 {
		return errors.New("pipeline.stage_timeout_ms must be positive")
	}
	if cfg.Worker.Enabled {
		if cfg.Worker.QueueGroup == "" {
			return errors.New("worker.queue_group must not be empty when the worker is enabled")
		}
		if cfg.Worker.MaxConcurrent <= 0 {
			return errors.New("worker.max_concurrent must be >= 1")
		}
	}
	return nil
}

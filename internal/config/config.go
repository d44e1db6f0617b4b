// Package config loads service configuration from environment variables.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ServiceConfig holds process-level settings.
type ServiceConfig struct {
	Name          string
	HTTPPort      string
	ObsPort       string
	UploadDir     string
	MaxUploadSize int64
}

// PipelineConfig holds the realtime transcription pipeline knobs.
type PipelineConfig struct {
	QueueCapacity   int           // ingress queue capacity in frames
	ChunkThreshold  int           // bytes coalesced before forwarding a chunk
	PollTimeout     time.Duration // worker dequeue wait
	DispatchTimeout time.Duration // bridge handoff bound
	BridgeBuffer    int           // bridge channel buffer
	ConnectGrace    time.Duration // wait for the worker to reach streaming
	ShutdownTimeout time.Duration // wait for worker termination on stop
}

// STTConfig holds speech-to-text provider settings.
type STTConfig struct {
	Provider     string // mock, dashscope, google
	Model        string
	URL          string
	APIKey       string
	Language     string
	SampleRateHz int
	AudioFormat  string
}

// KafkaConfig holds transcript fan-out settings.
type KafkaConfig struct {
	Enabled      bool
	Brokers      []string
	TopicPartial string
	TopicFinal   string
	Principal    string
}

// LLMConfig holds the assistant chat settings.
type LLMConfig struct {
	BaseURL string
	Model   string
	APIKey  string
}

// IdentityConfig holds the face identity lookup settings.
type IdentityConfig struct {
	VectorsPath    string
	MatchThreshold float64
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string
}

// Config is the complete service configuration.
type Config struct {
	Service       ServiceConfig
	Pipeline      PipelineConfig
	STT           STTConfig
	Kafka         KafkaConfig
	LLM           LLMConfig
	Identity      IdentityConfig
	Observability ObservabilityConfig
}

// Load reads configuration from the environment, falling back to defaults
// for missing or unparseable values.
func Load() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:          envOrDefault("SERVICE_NAME", "avatar-speech-gateway"),
			HTTPPort:      envOrDefault("HTTP_PORT", "8000"),
			ObsPort:       envOrDefault("OBS_PORT", "9090"),
			UploadDir:     envOrDefault("UPLOAD_DIR", "uploads"),
			MaxUploadSize: envInt64OrDefault("MAX_UPLOAD_SIZE", 10*1024*1024),
		},
		Pipeline: PipelineConfig{
			QueueCapacity:   envIntOrDefault("PIPELINE_QUEUE_CAPACITY", 100),
			ChunkThreshold:  envIntOrDefault("PIPELINE_CHUNK_THRESHOLD", 3200),
			PollTimeout:     envDurationOrDefault("PIPELINE_POLL_TIMEOUT", 100*time.Millisecond),
			DispatchTimeout: envDurationOrDefault("PIPELINE_DISPATCH_TIMEOUT", time.Second),
			BridgeBuffer:    envIntOrDefault("PIPELINE_BRIDGE_BUFFER", 32),
			ConnectGrace:    envDurationOrDefault("PIPELINE_CONNECT_GRACE", time.Second),
			ShutdownTimeout: envDurationOrDefault("PIPELINE_SHUTDOWN_TIMEOUT", 5*time.Second),
		},
		STT: STTConfig{
			Provider:     envOrDefault("STT_PROVIDER", "mock"),
			Model:        envOrDefault("STT_MODEL", "qwen3-asr-flash-realtime"),
			URL:          envOrDefault("STT_URL", "wss://dashscope.aliyuncs.com/api-ws/v1/realtime"),
			APIKey:       os.Getenv("DASHSCOPE_API_KEY"),
			Language:     envOrDefault("STT_LANGUAGE", "zh"),
			SampleRateHz: envIntOrDefault("STT_SAMPLE_RATE_HZ", 16000),
			AudioFormat:  envOrDefault("STT_AUDIO_FORMAT", "pcm"),
		},
		Kafka: KafkaConfig{
			Enabled:      envBoolOrDefault("KAFKA_ENABLED", false),
			Brokers:      envListOrDefault("KAFKA_BROKERS", nil),
			TopicPartial: envOrDefault("KAFKA_TOPIC_PARTIAL", "session.transcript.partial"),
			TopicFinal:   envOrDefault("KAFKA_TOPIC_FINAL", "session.transcript.final"),
			Principal:    envOrDefault("SERVICE_PRINCIPAL", "svc-speech-gateway"),
		},
		LLM: LLMConfig{
			BaseURL: envOrDefault("LLM_BASE_URL", "https://dashscope.aliyuncs.com/compatible-mode/v1"),
			Model:   envOrDefault("LLM_MODEL", "qwen-plus"),
			APIKey:  os.Getenv("DASHSCOPE_API_KEY"),
		},
		Identity: IdentityConfig{
			VectorsPath:    envOrDefault("IDENTITY_VECTORS_PATH", "data/face_vectors.json"),
			MatchThreshold: envFloatOrDefault("IDENTITY_MATCH_THRESHOLD", 0.92),
		},
		Observability: ObservabilityConfig{
			LogLevel:  envOrDefault("LOG_LEVEL", "info"),
			LogFormat: envOrDefault("LOG_FORMAT", "json"),
		},
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envInt64OrDefault(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envFloatOrDefault(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envBoolOrDefault(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envDurationOrDefault(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envListOrDefault(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}

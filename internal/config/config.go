package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the runtime configuration for the crowd density server.
// Values come from the environment (optionally a .env file); cmd/server
// layers flag overrides on top.
type Config struct {
	HTTPAddr    string
	MetricsAddr string

	// Shared state backend. Empty endpoints disable the external backend
	// and force the in-process fallback store.
	EtcdEndpoints []string
	EtcdNamespace string
	DialTimeout   time.Duration
	StatsTTL      time.Duration
	StatusTTL     time.Duration

	// Pipeline defaults applied to every stream.
	HybridThresholdLow  float64
	HybridThresholdHigh float64
	EMAAlpha            float64
	FPSWindow           int

	// Ingestion and worker pacing.
	RingCapacity   int
	FrameInterval  time.Duration // file/device pacing and max update rate
	MaxFrameErrors int           // consecutive failures before a worker aborts
	PreviewEvery   int           // include a frame preview every Nth update

	// Optional alert event sink.
	KafkaBrokers    string
	KafkaAlertTopic string
}

// Load reads configuration from the environment. A .env file in the working
// directory is honored when present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		HTTPAddr:    getEnv("HTTP_ADDR", ":8000"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),

		EtcdEndpoints: splitNonEmpty(getEnv("ETCD_ENDPOINTS", "localhost:2379")),
		EtcdNamespace: getEnv("ETCD_NAMESPACE", "stream"),
		DialTimeout:   getEnvDuration("ETCD_DIAL_TIMEOUT", 5*time.Second),
		StatsTTL:      getEnvDuration("STATS_TTL", 300*time.Second),
		StatusTTL:     getEnvDuration("STATUS_TTL", 3600*time.Second),

		HybridThresholdLow:  getEnvFloat("HYBRID_THRESHOLD_LOW", 120.0),
		HybridThresholdHigh: getEnvFloat("HYBRID_THRESHOLD_HIGH", 180.0),
		EMAAlpha:            getEnvFloat("DEFAULT_EMA_ALPHA", 0.7),
		FPSWindow:           getEnvInt("FPS_WINDOW", 30),

		RingCapacity:   getEnvInt("RING_CAPACITY", 2),
		FrameInterval:  getEnvDuration("FRAME_INTERVAL", 33*time.Millisecond),
		MaxFrameErrors: getEnvInt("MAX_FRAME_ERRORS", 10),
		PreviewEvery:   getEnvInt("PREVIEW_EVERY", 2),

		KafkaBrokers:    getEnv("KAFKA_BROKERS", ""),
		KafkaAlertTopic: getEnv("KAFKA_ALERT_TOPIC", "crowd-zone-alerts"),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func splitNonEmpty(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

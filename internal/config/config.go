package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"coinrounds/internal/game"

	"github.com/joho/godotenv"
)

type APIConfig struct {
	Addr          string
	DatabaseURL   string
	IDSecret      string
	RoundDuration int
	RedisURL      string
	KafkaBrokers  []string
	KafkaTopic    string
	LockWait      time.Duration
	EnsureSchema  bool
	AllowPlainIDs bool
}

// RoundConfig is the process-wide round setting handed to lifecycle calls.
func (c APIConfig) RoundConfig() game.RoundConfig {
	return game.RoundConfig{DurationMinutes: c.RoundDuration}
}

type WorkerConfig struct {
	APIConfig
	TickEvery   time.Duration
	RunOnce     bool
	MetricsAddr string
}

type CLIConfig struct {
	APIBaseURL string
	QueuePath  string
}

// LoadDotEnv reads .env from the working directory when one exists.
func LoadDotEnv() {
	_ = godotenv.Load()
}

func LoadAPIFromEnv() (APIConfig, error) {
	LoadDotEnv()

	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("COINROUNDS_API_ADDR", ":8080")
	}

	duration, err := envIntStrict("GAME_ROUND_DURATION_MINUTES", game.DefaultRoundDurationMinutes)
	if err != nil {
		return APIConfig{}, err
	}

	cfg := APIConfig{
		Addr:          addr,
		DatabaseURL:   strings.TrimSpace(os.Getenv("DATABASE_URL")),
		IDSecret:      strings.TrimSpace(os.Getenv("COINROUNDS_ID_SECRET")),
		RoundDuration: duration,
		RedisURL:      strings.TrimSpace(os.Getenv("REDIS_URL")),
		KafkaBrokers:  envList("KAFKA_BROKERS"),
		KafkaTopic:    envDefault("KAFKA_TOPIC", "coinrounds.lifecycle"),
		LockWait:      envDurationDefault("COINROUNDS_LOCK_WAIT", 5*time.Second),
		EnsureSchema:  envBoolDefault("COINROUNDS_ENSURE_SCHEMA", true),
		AllowPlainIDs: envBoolDefault("COINROUNDS_ALLOW_PLAIN_IDS", false),
	}
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.IDSecret == "" {
		return cfg, fmt.Errorf("COINROUNDS_ID_SECRET is required")
	}
	if err := cfg.RoundConfig().Validate(); err != nil {
		return cfg, fmt.Errorf("GAME_ROUND_DURATION_MINUTES: %w", err)
	}
	return cfg, nil
}

func LoadWorkerFromEnv() (WorkerConfig, error) {
	api, err := LoadAPIFromEnv()
	if err != nil {
		return WorkerConfig{}, err
	}
	return WorkerConfig{
		APIConfig:   api,
		TickEvery:   envDurationDefault("COINROUNDS_WORKER_TICK_EVERY", 10*time.Second),
		RunOnce:     envBoolDefault("COINROUNDS_WORKER_RUN_ONCE", false),
		MetricsAddr: envDefault("COINROUNDS_WORKER_METRICS_ADDR", ":9091"),
	}, nil
}

func LoadCLIFromEnv() CLIConfig {
	LoadDotEnv()
	return CLIConfig{
		APIBaseURL: strings.TrimRight(envDefault("CRD_API_BASE_URL", "http://localhost:8080"), "/"),
		QueuePath:  envDefault("CRD_QUEUE_PATH", ""),
	}
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

// envIntStrict returns fallback only when key is unset. A value that does not
// parse is an error.
func envIntStrict(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not an integer", key, v)
	}
	return n, nil
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

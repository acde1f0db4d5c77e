package config

import (
	"errors"
	"testing"
	"time"

	"coinrounds/internal/game"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/coinrounds")
	t.Setenv("COINROUNDS_ID_SECRET", "0123456789abcdef0123")
}

func TestLoadAPIDefaults(t *testing.T) {
	setRequired(t)
	t.Setenv("PORT", "")
	t.Setenv("GAME_ROUND_DURATION_MINUTES", "")
	t.Setenv("KAFKA_BROKERS", " a:9092, ,b:9092 ")

	cfg, err := LoadAPIFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Fatalf("addr got=%q", cfg.Addr)
	}
	if cfg.RoundConfig().DurationMinutes != game.DefaultRoundDurationMinutes {
		t.Fatalf("duration got=%d", cfg.RoundDuration)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "b:9092" {
		t.Fatalf("brokers got=%v", cfg.KafkaBrokers)
	}
	if cfg.LockWait != 5*time.Second {
		t.Fatalf("lock wait got=%v", cfg.LockWait)
	}
}

func TestLoadAPIRoundDuration(t *testing.T) {
	tests := []struct {
		value   string
		want    int
		wantErr bool
	}{
		{"7", 7, false},
		{"0", 0, true},
		{"-3", 0, true},
		{"five", 0, true},
	}
	for _, tc := range tests {
		setRequired(t)
		t.Setenv("GAME_ROUND_DURATION_MINUTES", tc.value)
		cfg, err := LoadAPIFromEnv()
		if tc.wantErr {
			if err == nil {
				t.Fatalf("value %q: expected error", tc.value)
			}
			continue
		}
		if err != nil {
			t.Fatalf("value %q: %v", tc.value, err)
		}
		if cfg.RoundDuration != tc.want {
			t.Fatalf("value %q: got=%d want=%d", tc.value, cfg.RoundDuration, tc.want)
		}
	}

	setRequired(t)
	t.Setenv("GAME_ROUND_DURATION_MINUTES", "0")
	if _, err := LoadAPIFromEnv(); !errors.Is(err, game.ErrInvalidDuration) {
		t.Fatalf("expected ErrInvalidDuration, got %v", err)
	}
}

func TestLoadAPIRequiresSecrets(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("COINROUNDS_ID_SECRET", "x")
	if _, err := LoadAPIFromEnv(); err == nil {
		t.Fatalf("expected missing DATABASE_URL to fail")
	}
	t.Setenv("DATABASE_URL", "postgres://localhost/x")
	t.Setenv("COINROUNDS_ID_SECRET", "")
	if _, err := LoadAPIFromEnv(); err == nil {
		t.Fatalf("expected missing COINROUNDS_ID_SECRET to fail")
	}
}

func TestLoadWorker(t *testing.T) {
	setRequired(t)
	t.Setenv("GAME_ROUND_DURATION_MINUTES", "")
	t.Setenv("COINROUNDS_WORKER_TICK_EVERY", "2s")
	t.Setenv("COINROUNDS_WORKER_RUN_ONCE", "true")
	cfg, err := LoadWorkerFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.TickEvery != 2*time.Second || !cfg.RunOnce {
		t.Fatalf("unexpected worker config %+v", cfg)
	}
}

func TestLoadCLI(t *testing.T) {
	t.Setenv("CRD_API_BASE_URL", "http://example.test:9000/")
	if got := LoadCLIFromEnv().APIBaseURL; got != "http://example.test:9000" {
		t.Fatalf("base url got=%q", got)
	}
}

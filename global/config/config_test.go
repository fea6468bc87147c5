package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.Redis.Addr != "127.0.0.1:6379" || cfg.NodeID != 1 {
		t.Fatalf("defaults = %+v", cfg)
	}
	if cfg.Mongo.Database != "carebridge" {
		t.Fatalf("mongo database = %q", cfg.Mongo.Database)
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
httpAddr: ":9090"
nodeId: 5
redis:
  addr: "redis:6379"
scheduler:
  sweepEvery: "30s"
  reminderWindow: "5m"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CAREBRIDGE_HTTP_ADDR", ":7777")
	t.Setenv("CAREBRIDGE_JWT_SECRET", "from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	// Env beats file.
	if cfg.HTTPAddr != ":7777" {
		t.Errorf("httpAddr = %q", cfg.HTTPAddr)
	}
	if cfg.JWTSecret != "from-env" {
		t.Errorf("jwtSecret = %q", cfg.JWTSecret)
	}
	if cfg.NodeID != 5 || cfg.Redis.Addr != "redis:6379" {
		t.Errorf("file values lost: %+v", cfg)
	}
	if cfg.SweepEveryDuration() != 30*time.Second || cfg.ReminderWindowDuration() != 5*time.Minute {
		t.Errorf("durations = %v / %v", cfg.SweepEveryDuration(), cfg.ReminderWindowDuration())
	}
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("{not yaml"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestDurationFallbacks(t *testing.T) {
	cfg := &Config{}
	if cfg.SweepEveryDuration() != time.Minute {
		t.Errorf("empty sweepEvery = %v", cfg.SweepEveryDuration())
	}
	cfg.Scheduler.ReminderWindow = "garbage"
	if cfg.ReminderWindowDuration() != 15*time.Minute {
		t.Errorf("bad reminderWindow = %v", cfg.ReminderWindowDuration())
	}
}

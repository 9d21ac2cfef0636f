package config

import (
	"testing"
	"time"
)

func TestDefault_MatchesApplicationConstants(t *testing.T) {
	cfg := Default()

	if cfg.Compression.MaxDimension != 1500 {
		t.Errorf("Expected max dimension 1500, got %d", cfg.Compression.MaxDimension)
	}
	if cfg.Compression.Quality != 0.75 {
		t.Errorf("Expected quality 0.75, got %v", cfg.Compression.Quality)
	}
	if cfg.Selection.DefaultMinimumMB != 2.5 {
		t.Errorf("Expected default minimum 2.5 MB, got %v", cfg.Selection.DefaultMinimumMB)
	}
	if cfg.Selection.MinimumMB != 0.1 || cfg.Selection.MaximumMB != 5.0 {
		t.Errorf("Expected slider range 0.1-5.0 MB, got %v-%v", cfg.Selection.MinimumMB, cfg.Selection.MaximumMB)
	}
	if cfg.Albums.MarkerName != "Can Delete - Ziply" {
		t.Errorf("Expected marker album name, got %q", cfg.Albums.MarkerName)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected defaults to validate, got: %v", err)
	}
}

func TestValidate_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero dimension", func(c *Config) { c.Compression.MaxDimension = 0 }},
		{"quality above one", func(c *Config) { c.Compression.Quality = 1.5 }},
		{"quality zero", func(c *Config) { c.Compression.Quality = 0 }},
		{"inverted size range", func(c *Config) { c.Selection.MinimumMB = 10 }},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "ftp" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestDatabaseConfig_ConnectionString(t *testing.T) {
	cfg := DatabaseConfig{User: "u", Password: "p", Host: "db", Port: 5432, DBName: "ziply", SSLMode: "disable"}
	want := "postgres://u:p@db:5432/ziply?sslmode=disable"
	if got := cfg.ConnectionString(); got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}
}

func TestLoad_WorkerLockRetryDelay(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Worker.LockRetryDelay != 5*time.Second {
		t.Errorf("Expected default lock retry delay 5s, got %v", cfg.Worker.LockRetryDelay)
	}

	t.Setenv("WORKER_LOCK_RETRY_DELAY", "250ms")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Worker.LockRetryDelay != 250*time.Millisecond {
		t.Errorf("Expected lock retry delay 250ms, got %v", cfg.Worker.LockRetryDelay)
	}
}

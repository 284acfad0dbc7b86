package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultsMatchProtocolConstants(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}

	if cfg.Server.Port != 10000 || cfg.Transport.ChunkSize != 1000 || cfg.Transport.MaxRetries != 5 {
		t.Fatalf("unexpected transport defaults %+v", cfg.Transport)
	}
	if cfg.Transport.RetryInterval() != time.Second || cfg.Transport.SweepInterval() != 500*time.Millisecond {
		t.Fatalf("unexpected intervals %v %v", cfg.Transport.RetryInterval(), cfg.Transport.SweepInterval())
	}
	g := cfg.Game
	if g.MapWidth != 40 || g.MapHeight != 25 || g.RoundSeconds != 90 || g.BombFuseSeconds != 5 || g.BlastRange != 3 {
		t.Fatalf("unexpected game defaults %+v", g)
	}
	if g.ChestSpawnMin != 2 || g.ChestSpawnMax != 6 || g.BombSpawnMin != 2 || g.BombSpawnMax != 5 {
		t.Fatalf("unexpected spawn ranges %+v", g)
	}
	if !cfg.Server.QueryEnabled || cfg.Metrics.Enabled {
		t.Fatalf("query should default on and metrics off")
	}
}

func TestLoadConfigFillsUnsetFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := `
[server]
name = "lan party"
port = 12000

[transport]
checksum = "blake3"

[game]
round_seconds = 30
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Server.Name != "lan party" || cfg.Server.Port != 12000 {
		t.Fatalf("server section not read: %+v", cfg.Server)
	}
	if cfg.Transport.Checksum != ChecksumBLAKE3 || cfg.Transport.ChunkSize != 1000 {
		t.Fatalf("transport section wrong: %+v", cfg.Transport)
	}
	if cfg.Game.RoundSeconds != 30 || cfg.Game.MapWidth != 40 {
		t.Fatalf("game section wrong: %+v", cfg.Game)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("loaded config invalid: %v", err)
	}
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("missing file should not fail: %v", err)
	}
	if cfg.Server.Port != 10000 {
		t.Fatalf("port = %d, want default", cfg.Server.Port)
	}
}

func TestLoadConfigRejectsBadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	os.WriteFile(path, []byte("[server\nport = "), 0o644)
	if _, err := LoadConfig(path); err == nil || !strings.Contains(err.Error(), "failed to parse config") {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port", func(c *Config) { c.Server.Port = 70000 }},
		{"checksum", func(c *Config) { c.Transport.Checksum = "md5" }},
		{"chunk size", func(c *Config) { c.Transport.ChunkSize = -1 }},
		{"threshold", func(c *Config) { c.Game.ObstacleThreshold = 0 }},
		{"spawn range", func(c *Config) { c.Game.BombSpawnMax = 1 }},
		{"map size", func(c *Config) { c.Game.MapHeight = -3 }},
		{"blast range", func(c *Config) { c.Game.BlastRange = 0 }},
		{"max message size", func(c *Config) { c.Transport.MaxMessageSize = 10 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("TAPSERV_PORT", "11000")
	t.Setenv("TAPSERV_CHECKSUM", "blake3")
	t.Setenv("TAPSERV_METRICS_ENABLED", "true")

	cfg := Default()
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("apply env failed: %v", err)
	}
	if cfg.Server.Port != 11000 || cfg.Transport.Checksum != "blake3" || !cfg.Metrics.Enabled {
		t.Fatalf("env not applied: %+v %+v %+v", cfg.Server, cfg.Transport, cfg.Metrics)
	}

	t.Setenv("TAPSERV_PORT", "ten")
	if err := Default().ApplyEnv(); err == nil {
		t.Fatalf("expected error for non-numeric port")
	}
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const EnvPrefix = "TAPSERV_"

type Config struct {
	Server    ServerConfig
	Transport TransportConfig
	Game      GameConfig
	Metrics   MetricsConfig
	Scripting ScriptingConfig
}

type ServerConfig struct {
	Name         string `toml:"name"`
	Port         int    `toml:"port"`
	MaxPlayers   int    `toml:"max_players"`
	QueryEnabled bool   `toml:"query_enabled"`

	// logging configuration
	LogToFile bool   `toml:"log_to_file"`
	LogPath   string `toml:"log_path"`
}

type TransportConfig struct {
	ChunkSize           int    `toml:"chunk_size"`
	MaxRetries          int    `toml:"max_retries"`
	RetryIntervalMs     int    `toml:"retry_interval_ms"`
	SweepIntervalMs     int    `toml:"sweep_interval_ms"`
	ReassemblyTimeoutMs int    `toml:"reassembly_timeout_ms"`
	DedupTTLMs          int    `toml:"dedup_ttl_ms"`
	Checksum            string `toml:"checksum"`
	RateLimitPerSec     int    `toml:"rate_limit_per_sec"`
	RateLimitBurst      int    `toml:"rate_limit_burst"`
	// largest reassembled message accepted from a peer, in bytes
	MaxMessageSize int `toml:"max_message_size"`
}

type GameConfig struct {
	MapWidth          int `toml:"map_width"`
	MapHeight         int `toml:"map_height"`
	ObstacleThreshold int `toml:"obstacle_threshold"`
	RoundSeconds      int `toml:"round_seconds"`
	BombFuseSeconds   int `toml:"bomb_fuse_seconds"`
	BlastRange        int `toml:"blast_range"`

	// spawner sleeps, in seconds, before dividing by the player count
	ChestSpawnMin float64 `toml:"chest_spawn_min"`
	ChestSpawnMax float64 `toml:"chest_spawn_max"`
	BombSpawnMin  float64 `toml:"bomb_spawn_min"`
	BombSpawnMax  float64 `toml:"bomb_spawn_max"`

	LivenessIntervalMs int `toml:"liveness_interval_ms"`
	LivenessTimeoutMs  int `toml:"liveness_timeout_ms"`
	ResolverIntervalMs int `toml:"resolver_interval_ms"`
}

type MetricsConfig struct {
	Enabled    bool   `toml:"enabled"`
	ListenAddr string `toml:"listen_addr"`
}

type ScriptingConfig struct {
	HookScript string `toml:"hook_script"`
}

const DefaultMaxMessageSize = 1 << 20

const (
	ChecksumSHA256 = "sha256"
	ChecksumBLAKE3 = "blake3"
)

func Default() *Config {
	cfg := &Config{
		Server: ServerConfig{
			QueryEnabled: true,
		},
	}
	cfg.applyDefaults()
	return cfg
}

// LoadConfig reads a TOML file and fills unset fields with defaults.
// A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Server: ServerConfig{QueryEnabled: true},
	}
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	config.applyDefaults()
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Name == "" {
		c.Server.Name = "tapserv"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 10000
	}
	if c.Server.MaxPlayers == 0 {
		c.Server.MaxPlayers = 32
	}
	if c.Server.LogPath == "" {
		c.Server.LogPath = "logs/tapserv.log"
	}

	// transport defaults
	t := &c.Transport
	if t.ChunkSize == 0 {
		t.ChunkSize = 1000
	}
	if t.MaxRetries == 0 {
		t.MaxRetries = 5
	}
	if t.RetryIntervalMs == 0 {
		t.RetryIntervalMs = 1000
	}
	if t.SweepIntervalMs == 0 {
		t.SweepIntervalMs = 500
	}
	if t.ReassemblyTimeoutMs == 0 {
		t.ReassemblyTimeoutMs = 10000
	}
	if t.DedupTTLMs == 0 {
		t.DedupTTLMs = 10000
	}
	if t.Checksum == "" {
		t.Checksum = ChecksumSHA256
	}
	if t.RateLimitPerSec == 0 {
		t.RateLimitPerSec = 200
	}
	if t.RateLimitBurst == 0 {
		t.RateLimitBurst = 400
	}
	if t.MaxMessageSize == 0 {
		t.MaxMessageSize = DefaultMaxMessageSize
	}

	// game defaults
	g := &c.Game
	if g.MapWidth == 0 {
		g.MapWidth = 40
	}
	if g.MapHeight == 0 {
		g.MapHeight = 25
	}
	if g.ObstacleThreshold == 0 {
		g.ObstacleThreshold = 80
	}
	if g.RoundSeconds == 0 {
		g.RoundSeconds = 90
	}
	if g.BombFuseSeconds == 0 {
		g.BombFuseSeconds = 5
	}
	if g.BlastRange == 0 {
		g.BlastRange = 3
	}
	if g.ChestSpawnMin == 0 && g.ChestSpawnMax == 0 {
		g.ChestSpawnMin, g.ChestSpawnMax = 2, 6
	}
	if g.BombSpawnMin == 0 && g.BombSpawnMax == 0 {
		g.BombSpawnMin, g.BombSpawnMax = 2, 5
	}
	if g.LivenessIntervalMs == 0 {
		g.LivenessIntervalMs = 2000
	}
	if g.LivenessTimeoutMs == 0 {
		g.LivenessTimeoutMs = 1000
	}
	if g.ResolverIntervalMs == 0 {
		g.ResolverIntervalMs = 100
	}

	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = "127.0.0.1:6060"
	}
}

// ApplyEnv overlays TAPSERV_* environment variables, e.g. TAPSERV_PORT or
// TAPSERV_CHECKSUM. Unparseable values are reported, not ignored.
func (c *Config) ApplyEnv() error {
	ints := map[string]*int{
		"PORT":               &c.Server.Port,
		"MAX_PLAYERS":        &c.Server.MaxPlayers,
		"CHUNK_SIZE":         &c.Transport.ChunkSize,
		"MAX_RETRIES":        &c.Transport.MaxRetries,
		"RATE_LIMIT":         &c.Transport.RateLimitPerSec,
		"RATE_BURST":         &c.Transport.RateLimitBurst,
		"MAX_MESSAGE_SIZE":   &c.Transport.MaxMessageSize,
		"ROUND_SECONDS":      &c.Game.RoundSeconds,
		"MAP_WIDTH":          &c.Game.MapWidth,
		"MAP_HEIGHT":         &c.Game.MapHeight,
		"OBSTACLE_THRESHOLD": &c.Game.ObstacleThreshold,
	}
	for key, dst := range ints {
		v, ok := os.LookupEnv(EnvPrefix + key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
		}
		*dst = n
	}

	bools := map[string]*bool{
		"LOG_TO_FILE":     &c.Server.LogToFile,
		"QUERY_ENABLED":   &c.Server.QueryEnabled,
		"METRICS_ENABLED": &c.Metrics.Enabled,
	}
	for key, dst := range bools {
		v, ok := os.LookupEnv(EnvPrefix + key)
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
		}
		*dst = b
	}

	strs := map[string]*string{
		"NAME":         &c.Server.Name,
		"LOG_PATH":     &c.Server.LogPath,
		"CHECKSUM":     &c.Transport.Checksum,
		"METRICS_ADDR": &c.Metrics.ListenAddr,
		"HOOK_SCRIPT":  &c.Scripting.HookScript,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			*dst = strings.TrimSpace(v)
		}
	}

	return nil
}

func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return fmt.Errorf("server name cannot be empty")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65534 {
		// port+1 carries the LAN query
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	if c.Server.MaxPlayers <= 0 {
		return fmt.Errorf("max_players must be positive")
	}

	t := c.Transport
	if t.ChunkSize <= 0 || t.ChunkSize > 65507-48 {
		return fmt.Errorf("chunk_size out of range: %d", t.ChunkSize)
	}
	if t.MaxRetries <= 0 {
		return fmt.Errorf("max_retries must be positive")
	}
	if t.RetryIntervalMs <= 0 || t.SweepIntervalMs <= 0 || t.ReassemblyTimeoutMs <= 0 || t.DedupTTLMs <= 0 {
		return fmt.Errorf("transport intervals must be positive")
	}
	if t.Checksum != ChecksumSHA256 && t.Checksum != ChecksumBLAKE3 {
		return fmt.Errorf("unknown checksum %q, want %s or %s", t.Checksum, ChecksumSHA256, ChecksumBLAKE3)
	}
	if t.RateLimitPerSec <= 0 || t.RateLimitBurst <= 0 {
		return fmt.Errorf("rate limit must be positive")
	}
	if t.MaxMessageSize < t.ChunkSize {
		return fmt.Errorf("max_message_size %d is smaller than chunk_size %d", t.MaxMessageSize, t.ChunkSize)
	}

	g := c.Game
	if g.MapWidth <= 0 || g.MapHeight <= 0 {
		return fmt.Errorf("invalid map size %dx%d", g.MapWidth, g.MapHeight)
	}
	if g.ObstacleThreshold < 1 || g.ObstacleThreshold > 100 {
		// at least some cells must stay empty for spawning
		return fmt.Errorf("obstacle_threshold must be between 1 and 100")
	}
	if g.RoundSeconds <= 0 || g.BombFuseSeconds <= 0 || g.BlastRange <= 0 {
		return fmt.Errorf("round_seconds, bomb_fuse_seconds and blast_range must be positive")
	}
	if g.ChestSpawnMin <= 0 || g.ChestSpawnMax < g.ChestSpawnMin {
		return fmt.Errorf("invalid chest spawn range [%v, %v]", g.ChestSpawnMin, g.ChestSpawnMax)
	}
	if g.BombSpawnMin <= 0 || g.BombSpawnMax < g.BombSpawnMin {
		return fmt.Errorf("invalid bomb spawn range [%v, %v]", g.BombSpawnMin, g.BombSpawnMax)
	}
	if g.LivenessIntervalMs <= 0 || g.LivenessTimeoutMs <= 0 || g.ResolverIntervalMs <= 0 {
		return fmt.Errorf("game intervals must be positive")
	}

	if c.Metrics.Enabled && c.Metrics.ListenAddr == "" {
		return fmt.Errorf("metrics listen_addr cannot be empty")
	}

	return nil
}

func (t TransportConfig) RetryInterval() time.Duration {
	return time.Duration(t.RetryIntervalMs) * time.Millisecond
}

func (t TransportConfig) SweepInterval() time.Duration {
	return time.Duration(t.SweepIntervalMs) * time.Millisecond
}

func (t TransportConfig) ReassemblyTimeout() time.Duration {
	return time.Duration(t.ReassemblyTimeoutMs) * time.Millisecond
}

func (t TransportConfig) DedupTTL() time.Duration {
	return time.Duration(t.DedupTTLMs) * time.Millisecond
}

func (g GameConfig) LivenessInterval() time.Duration {
	return time.Duration(g.LivenessIntervalMs) * time.Millisecond
}

func (g GameConfig) LivenessTimeout() time.Duration {
	return time.Duration(g.LivenessTimeoutMs) * time.Millisecond
}

func (g GameConfig) ResolverInterval() time.Duration {
	return time.Duration(g.ResolverIntervalMs) * time.Millisecond
}


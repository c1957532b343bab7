// Package config loads chaosgarden's runtime configuration from CLI flags
// and environment variables, following the same precedence the daemon's
// channels, tempo, and content-store layers all expect.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds all runtime configuration for the chaosgarden daemon.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	DataDir           string
	ControlAddr       string
	ShellAddr         string
	IOPubAddr         string
	HeartbeatAddr     string
	QueryAddr         string
	AdminAddr         string
	CASPath           string // filesystem root of the content-addressed blob store
	CASReadOnly       bool
	BaseTempoBPM      float64
	BlockFrames       int
	SampleRate        int
	PrerenderPoolSize int
	MaxRunningLatent  int
	LogLevel          string
	LogFormat         string // log output format: "text" or "json"
}

// defaults
const (
	defaultDataDir           = "./data"
	defaultControlAddr       = "127.0.0.1:9001"
	defaultShellAddr         = "127.0.0.1:9002"
	defaultIOPubAddr         = "127.0.0.1:9003"
	defaultHeartbeatAddr     = "127.0.0.1:9004"
	defaultQueryAddr         = "127.0.0.1:9005"
	defaultAdminAddr         = "127.0.0.1:9090"
	defaultCASPath           = "./data/content"
	defaultBaseTempoBPM      = 120.0
	defaultBlockFrames       = 256
	defaultSampleRate        = 48000
	defaultPrerenderPoolSize = 64
	defaultMaxRunningLatent  = 4
	defaultLogLevel          = "info"
	defaultLogFormat         = "text"
)

// envPrefix is the prefix for all chaosgarden environment variables.
const envPrefix = "HALFREMEMBERED_"

// Load parses configuration from CLI flags and environment variables.
// Precedence: CLI flags > env vars > defaults.
func Load() (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("chaosgarden", flag.ContinueOnError)

	fs.StringVar(&cfg.DataDir, "data-dir", defaultDataDir, "data directory for the durable store")
	fs.StringVar(&cfg.ControlAddr, "control-addr", defaultControlAddr, "bind address for the Control channel")
	fs.StringVar(&cfg.ShellAddr, "shell-addr", defaultShellAddr, "bind address for the Shell channel")
	fs.StringVar(&cfg.IOPubAddr, "iopub-addr", defaultIOPubAddr, "bind address for the IOPub channel")
	fs.StringVar(&cfg.HeartbeatAddr, "heartbeat-addr", defaultHeartbeatAddr, "bind address for the Heartbeat channel")
	fs.StringVar(&cfg.QueryAddr, "query-addr", defaultQueryAddr, "bind address for the Query channel")
	fs.StringVar(&cfg.AdminAddr, "admin-addr", defaultAdminAddr, "bind address for the admin health/metrics HTTP mux")
	fs.StringVar(&cfg.CASPath, "cas-path", defaultCASPath, "filesystem root of the content-addressed blob store")
	fs.BoolVar(&cfg.CASReadOnly, "cas-readonly", false, "open the content store read-only")
	fs.Float64Var(&cfg.BaseTempoBPM, "base-tempo-bpm", defaultBaseTempoBPM, "initial tempo in beats per minute")
	fs.IntVar(&cfg.BlockFrames, "block-frames", defaultBlockFrames, "audio block size in frames")
	fs.IntVar(&cfg.SampleRate, "sample-rate", defaultSampleRate, "audio sample rate in Hz")
	fs.IntVar(&cfg.PrerenderPoolSize, "prerender-pool-size", defaultPrerenderPoolSize, "number of pre-allocated pre-render buffers")
	fs.IntVar(&cfg.MaxRunningLatent, "max-running-latent", defaultMaxRunningLatent, "concurrency cap on Running latent jobs")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	// Apply env var overrides for any flags not explicitly set on the command line.
	// CLI flags take precedence over env vars.
	applyEnvOverrides(fs, cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides checks environment variables for any flag that was not
// explicitly provided on the command line. This preserves the precedence:
// CLI flags > env vars > defaults.
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config) {
	// Track which flags were explicitly set via CLI.
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	// Map of flag name to env var name.
	envMap := map[string]string{
		"data-dir":            envPrefix + "DATA_DIR",
		"control-addr":        envPrefix + "CONTROL_ADDR",
		"shell-addr":          envPrefix + "SHELL_ADDR",
		"iopub-addr":          envPrefix + "IOPUB_ADDR",
		"heartbeat-addr":      envPrefix + "HEARTBEAT_ADDR",
		"query-addr":          envPrefix + "QUERY_ADDR",
		"admin-addr":          envPrefix + "ADMIN_ADDR",
		"cas-path":            envPrefix + "CAS_PATH",
		"cas-readonly":        envPrefix + "CAS_READONLY",
		"base-tempo-bpm":      envPrefix + "BASE_TEMPO_BPM",
		"block-frames":        envPrefix + "BLOCK_FRAMES",
		"sample-rate":         envPrefix + "SAMPLE_RATE",
		"prerender-pool-size": envPrefix + "PRERENDER_POOL_SIZE",
		"max-running-latent":  envPrefix + "MAX_RUNNING_LATENT",
		"log-level":           envPrefix + "LOG_LEVEL",
		"log-format":          envPrefix + "LOG_FORMAT",
	}

	for flagName, envVar := range envMap {
		if set[flagName] {
			continue
		}
		val, ok := os.LookupEnv(envVar)
		if !ok || val == "" {
			continue
		}
		switch flagName {
		case "data-dir":
			cfg.DataDir = val
		case "control-addr":
			cfg.ControlAddr = val
		case "shell-addr":
			cfg.ShellAddr = val
		case "iopub-addr":
			cfg.IOPubAddr = val
		case "heartbeat-addr":
			cfg.HeartbeatAddr = val
		case "query-addr":
			cfg.QueryAddr = val
		case "admin-addr":
			cfg.AdminAddr = val
		case "cas-path":
			cfg.CASPath = val
		case "cas-readonly":
			if v, err := strconv.ParseBool(val); err == nil {
				cfg.CASReadOnly = v
			}
		case "base-tempo-bpm":
			if v, err := strconv.ParseFloat(val, 64); err == nil {
				cfg.BaseTempoBPM = v
			}
		case "block-frames":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.BlockFrames = v
			}
		case "sample-rate":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.SampleRate = v
			}
		case "prerender-pool-size":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.PrerenderPoolSize = v
			}
		case "max-running-latent":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.MaxRunningLatent = v
			}
		case "log-level":
			cfg.LogLevel = val
		case "log-format":
			cfg.LogFormat = val
		}
	}
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.BaseTempoBPM <= 0 {
		return fmt.Errorf("base-tempo-bpm must be positive, got %v", c.BaseTempoBPM)
	}
	if c.BlockFrames <= 0 {
		return fmt.Errorf("block-frames must be positive, got %v", c.BlockFrames)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample-rate must be positive, got %v", c.SampleRate)
	}
	if c.PrerenderPoolSize <= 0 {
		return fmt.Errorf("prerender-pool-size must be positive, got %v", c.PrerenderPoolSize)
	}
	if c.MaxRunningLatent <= 0 {
		return fmt.Errorf("max-running-latent must be positive, got %v", c.MaxRunningLatent)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	return nil
}

// SlogHandler returns a slog.Handler configured with the appropriate format
// (text or json) and log level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

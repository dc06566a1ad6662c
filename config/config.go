// Package config holds the server configuration. Values come from the
// defaults, an optional JSON file, SPSERVER_* environment variables and
// command line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"runtime"
	"time"

	"github.com/searchktools/spserver/core/filecache"
	"github.com/spf13/pflag"
)

// EnvPrefix prefixes the environment variable of every flag.
const EnvPrefix = "SPSERVER"

// Config holds all application configuration.
type Config struct {
	Addr    string
	Workers int
	Env     string
	File    string

	Root              string
	RouteCacheBuckets int

	FileCacheMin     int
	FileCacheInitial int
	FileCacheMax     int
	TargetHitRatio   int
	StaleInterval    time.Duration
	MaxMmapSize      int64
	MaxPurgePerTick  int
	SendChunk        int

	StatsPath   string
	MetricsPath string

	LogLevel  string
	LogFormat string

	GCPercent   int
	MemoryLimit int64
}

// Default returns the default configuration.
func Default() *Config {
	fc := filecache.DefaultConfig()
	return &Config{
		Addr:    ":8080",
		Workers: runtime.NumCPU(),
		Env:     "development",

		Root:              ".",
		RouteCacheBuckets: 1024,

		FileCacheMin:     fc.MinCapacity,
		FileCacheInitial: fc.InitialCapacity,
		FileCacheMax:     fc.MaxCapacity,
		TargetHitRatio:   fc.TargetHitRatio,
		StaleInterval:    fc.StaleCheckInterval,
		MaxMmapSize:      fc.MaxMmapSize,
		MaxPurgePerTick:  fc.MaxPurgePerTick,
		SendChunk:        fc.SendChunk,

		StatsPath:   "/_stats",
		MetricsPath: "/metrics",

		LogLevel:  "info",
		LogFormat: "text",

		GCPercent: 200,
	}
}

// BindFlags registers a flag for every field, with the current values as
// defaults.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&c.Addr, "addr", "a", c.Addr, "Listen address (host:port)")
	fs.IntVarP(&c.Workers, "workers", "w", c.Workers, "Number of worker threads, one listening socket each")
	fs.StringVar(&c.Env, "env", c.Env, "Environment (development/production)")
	fs.StringVarP(&c.File, "config", "c", c.File, "JSON configuration file")

	fs.StringVarP(&c.Root, "root", "r", c.Root, "Directory served for requests no route matches")
	fs.IntVar(&c.RouteCacheBuckets, "route-cache-buckets", c.RouteCacheBuckets, "Route cache buckets per worker (power of two)")

	fs.IntVar(&c.FileCacheMin, "file-cache-min", c.FileCacheMin, "Minimum file cache capacity")
	fs.IntVar(&c.FileCacheInitial, "file-cache-initial", c.FileCacheInitial, "Initial file cache capacity")
	fs.IntVar(&c.FileCacheMax, "file-cache-max", c.FileCacheMax, "Maximum file cache capacity")
	fs.IntVar(&c.TargetHitRatio, "target-hit-ratio", c.TargetHitRatio, "Requests per load below which the file cache grows")
	fs.DurationVar(&c.StaleInterval, "stale-interval", c.StaleInterval, "Minimum time between staleness checks of a cached file")
	fs.Int64Var(&c.MaxMmapSize, "mmap-threshold", c.MaxMmapSize, "Largest file served from a memory mapping; larger files use sendfile")
	fs.IntVar(&c.MaxPurgePerTick, "max-purge", c.MaxPurgePerTick, "Maximum files evicted per maintenance tick")
	fs.IntVar(&c.SendChunk, "send-chunk", c.SendChunk, "Bytes per sendfile call")

	fs.StringVar(&c.StatsPath, "stats-path", c.StatsPath, "Path of the worker stats endpoint (empty disables it)")
	fs.StringVar(&c.MetricsPath, "metrics-path", c.MetricsPath, "Path of the Prometheus endpoint (empty disables it)")

	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level (debug, info, warn, error)")
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, "Log format (text, json)")

	fs.IntVar(&c.GCPercent, "gc-percent", c.GCPercent, "GOGC value applied at startup")
	fs.Int64Var(&c.MemoryLimit, "memory-limit", c.MemoryLimit, "Soft memory limit in bytes (0 keeps the runtime default)")
}

// FileCache returns the file cache configuration.
func (c *Config) FileCache() filecache.Config {
	return filecache.Config{
		BasePath:           c.Root,
		MaxMmapSize:        c.MaxMmapSize,
		MinCapacity:        c.FileCacheMin,
		InitialCapacity:    c.FileCacheInitial,
		MaxCapacity:        c.FileCacheMax,
		TargetHitRatio:     c.TargetHitRatio,
		StaleCheckInterval: c.StaleInterval,
		MaxPurgePerTick:    c.MaxPurgePerTick,
		SendChunk:          c.SendChunk,
	}
}

// Level returns the parsed log level.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	err := l.UnmarshalText([]byte(c.LogLevel))
	return l, err
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if _, _, err := net.SplitHostPort(c.Addr); err != nil {
		errs = append(errs, fmt.Errorf("addr %q: %w", c.Addr, err))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	if b := c.RouteCacheBuckets; b <= 0 || b&(b-1) != 0 {
		errs = append(errs, fmt.Errorf("route-cache-buckets must be a power of two, got %d", b))
	}
	if c.FileCacheMin < 1 {
		errs = append(errs, fmt.Errorf("file-cache-min must be at least 1, got %d", c.FileCacheMin))
	}
	if c.FileCacheMax < c.FileCacheMin {
		errs = append(errs, fmt.Errorf("file-cache-max %d is below file-cache-min %d", c.FileCacheMax, c.FileCacheMin))
	}
	if c.FileCacheInitial < c.FileCacheMin || c.FileCacheInitial > c.FileCacheMax {
		errs = append(errs, fmt.Errorf("file-cache-initial %d is outside [%d, %d]", c.FileCacheInitial, c.FileCacheMin, c.FileCacheMax))
	}
	if c.TargetHitRatio < 1 {
		errs = append(errs, fmt.Errorf("target-hit-ratio must be at least 1, got %d", c.TargetHitRatio))
	}
	if c.StaleInterval <= 0 {
		errs = append(errs, fmt.Errorf("stale-interval must be positive, got %s", c.StaleInterval))
	}
	if c.MaxMmapSize < 0 {
		errs = append(errs, fmt.Errorf("mmap-threshold must not be negative, got %d", c.MaxMmapSize))
	}
	if c.MaxPurgePerTick < 1 || c.SendChunk < 1 {
		errs = append(errs, errors.New("max-purge and send-chunk must be at least 1"))
	}
	for _, p := range []string{c.StatsPath, c.MetricsPath} {
		if p != "" && p[0] != '/' {
			errs = append(errs, fmt.Errorf("endpoint path %q must begin with '/'", p))
		}
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, fmt.Errorf("log-level: %w", err))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log-format must be text or json, got %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

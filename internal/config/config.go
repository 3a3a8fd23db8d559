// Package config provides configuration management for the replay engine.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Config is the engine's full runtime configuration.
type Config struct {
	Version string       `yaml:"version"`
	Engine  EngineConfig `yaml:"engine"`
	Cameras CamerasConfig `yaml:"cameras"`
	Bus     BusConfig    `yaml:"bus"`
	Logging LoggingConfig `yaml:"logging"`
	Storage StorageConfig `yaml:"storage"`
	API     APIConfig    `yaml:"api"`

	mu       sync.RWMutex    `yaml:"-"`
	path     string          `yaml:"-"`
	watchers []func(*Config) `yaml:"-"`
}

// EngineConfig holds the Segment Window Manager and pacing constants
// Allow/Block are kind-name lists for the bus filter; the ALLOW/BLOCK
// environment variables override them when set.
type EngineConfig struct {
	BackwardSegments     int      `yaml:"backward_segments"`
	ForwardSegments      int      `yaml:"forward_segments"`
	SegmentLengthSeconds int      `yaml:"segment_length_seconds"`
	CameraBufferCount    int      `yaml:"camera_buffer_count"`
	PollQuantumMs        int      `yaml:"poll_quantum_ms"`
	Allow                []string `yaml:"allow,omitempty"`
	Block                []string `yaml:"block,omitempty"`
}

// CamerasConfig holds the expected geometry per camera stream.
type CamerasConfig struct {
	Road     GeometryConfig `yaml:"road"`
	Driver   GeometryConfig `yaml:"driver"`
	WideRoad GeometryConfig `yaml:"wide_road"`
}

// GeometryConfig is one camera stream's expected frame size.
type GeometryConfig struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// BusConfig holds message bus connection settings.
type BusConfig struct {
	Embedded bool   `yaml:"embedded"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// StorageConfig holds the session audit log path.
type StorageConfig struct {
	SessionLogPath string `yaml:"session_log_path"`
}

// APIConfig holds the optional HTTP control surface settings.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Load loads configuration from a YAML file, applying ALLOW/BLOCK
// environment overrides and defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.path = path
	cfg.applyEnvOverrides()
	cfg.setDefaults()

	return &cfg, nil
}

// Default returns a Config with every field at its production default,
// for callers with no config file (tests, quick starts).
func Default() *Config {
	cfg := &Config{}
	cfg.applyEnvOverrides()
	cfg.setDefaults()
	return cfg
}

// applyEnvOverrides lets ALLOW/BLOCK environment variables win over
// whatever the YAML file sets.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("ALLOW"); v != "" {
		c.Engine.Allow = splitCSV(v)
	}
	if v := os.Getenv("BLOCK"); v != "" {
		c.Engine.Block = splitCSV(v)
	}
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Save writes the configuration back to its YAML file atomically.
func (c *Config) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveUnlocked()
}

func (c *Config) saveUnlocked() error {
	cfgCopy := &Config{
		Version: c.Version,
		Engine:  c.Engine,
		Cameras: c.Cameras,
		Bus:     c.Bus,
		Logging: c.Logging,
		Storage: c.Storage,
		API:     c.API,
	}

	data, err := yaml.Marshal(cfgCopy)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := "# Replay engine configuration\n# Auto-generated - manual edits are preserved\n\n"
	data = append([]byte(header), data...)

	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return os.Rename(tmpPath, c.path)
}

// Watch starts watching the config file for changes and reloading on
// write, debounced and discarding malformed reloads.
func (c *Config) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	go func() {
		defer watcher.Close()

		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(c.path) {
					continue
				}
				// Save replaces the file by rename, which shows up as Create.
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					time.Sleep(100 * time.Millisecond)
					c.reload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("config watch error", "error", err)
			}
		}
	}()

	return watcher.Add(filepath.Dir(c.path))
}

// OnChange registers a callback invoked with the new Config every time a
// reload succeeds.
func (c *Config) OnChange(fn func(*Config)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watchers = append(c.watchers, fn)
}

// reload re-reads the config file. A malformed file is logged and
// discarded, leaving the previous config live.
func (c *Config) reload() {
	newCfg, err := Load(c.path)
	if err != nil {
		slog.Error("failed to reload config, keeping previous config live", "error", err)
		return
	}

	c.mu.Lock()
	c.Version = newCfg.Version
	c.Engine = newCfg.Engine
	c.Cameras = newCfg.Cameras
	c.Bus = newCfg.Bus
	c.Logging = newCfg.Logging
	c.Storage = newCfg.Storage
	c.API = newCfg.API
	watchers := c.watchers
	c.mu.Unlock()

	slog.Info("configuration reloaded")

	for _, fn := range watchers {
		fn(c)
	}
}

// SetPath sets the path used by Save.
func (c *Config) SetPath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.path = path
}

// GetPath returns the current config file path.
func (c *Config) GetPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.path
}

// AllowSet and BlockSet return the current allow/block lists as sets,
// for internal/bus.Filter construction.
func (c *Config) AllowSet() map[string]bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return toSet(c.Engine.Allow)
}

func (c *Config) BlockSet() map[string]bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return toSet(c.Engine.Block)
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[it] = true
	}
	return set
}

// setDefaults fills in production defaults for unset fields. Segment
// length defaults to 60s but is still a field so tests can use shorter
// segments.
func (c *Config) setDefaults() {
	if c.Version == "" {
		c.Version = "1.0"
	}
	if c.Engine.BackwardSegments == 0 {
		c.Engine.BackwardSegments = 2
	}
	if c.Engine.ForwardSegments == 0 {
		c.Engine.ForwardSegments = 2
	}
	if c.Engine.SegmentLengthSeconds == 0 {
		c.Engine.SegmentLengthSeconds = 60
	}
	if c.Engine.CameraBufferCount == 0 {
		c.Engine.CameraBufferCount = 4
	}
	if c.Engine.PollQuantumMs == 0 {
		c.Engine.PollQuantumMs = 20
	}
	if !c.Bus.Embedded && c.Bus.Host == "" && c.Bus.Port == 0 {
		c.Bus.Embedded = true
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Storage.SessionLogPath == "" {
		c.Storage.SessionLogPath = "./replay-sessions.db"
	}
	if c.API.Addr == "" {
		c.API.Addr = "127.0.0.1:8080"
	}
}

// Package config loads the process-wide configuration: the
// replication matrix (SyncConfig) plus transport/observer wiring
// settings, from a flat JSON file with an optional fsnotify
// hot-reload.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// SyncConfig is the per-channel replication matrix: which playback
// transitions replicate, who may produce audio, and the handshake
// timings.
type SyncConfig struct {
	SyncPlay        bool `json:"sync_play"`
	SyncPause       bool `json:"sync_pause"`
	SyncSeek        bool `json:"sync_seek"`
	SyncTrackChange bool `json:"sync_track_change"`

	SinglePlayback            bool `json:"single_playback"`
	AllowRemoteControl        bool `json:"allow_remote_control"`
	AutoClaimLeadershipIfNone bool `json:"auto_claim_leadership_if_none"`

	SyncIntervalMs               int `json:"sync_interval_ms"`
	LeadershipHandshakeTimeoutMs int `json:"leadership_handshake_timeout_ms"`
}

// Playlist is the optional playlist sub-config.
type Playlist struct {
	AutoAdvance    bool   `json:"auto_advance"`
	DefaultRepeat  string `json:"default_repeat"`
	DefaultShuffle bool   `json:"default_shuffle"`
	Replicate      bool   `json:"replicate"`
}

// Transport selects which concrete transport.Bus implementation an
// Instance wires in.
type Transport struct {
	Kind       string `json:"kind"` // "mesh" or "local"
	ListenPort int    `json:"listen_port"`
}

// Observer configures the optional read-only websocket fan-out.
type Observer struct {
	Enabled  bool   `json:"enabled"`
	HTTPAddr string `json:"http_addr"`
}

// Config is the top-level flat record loaded at startup.
type Config struct {
	ChannelName string     `json:"channel_name"`
	Sync        SyncConfig `json:"sync"`
	Playlist    Playlist   `json:"playlist"`
	Transport   Transport  `json:"transport"`
	Observer    Observer   `json:"observer"`
}

// Default returns the configuration a fresh Instance uses absent a
// config file.
func Default() Config {
	return Config{
		ChannelName: "playmesh-default",
		Sync: SyncConfig{
			SyncPlay:                     true,
			SyncPause:                    true,
			SyncSeek:                     true,
			SyncTrackChange:              true,
			SinglePlayback:               false,
			AllowRemoteControl:           true,
			AutoClaimLeadershipIfNone:    true,
			SyncIntervalMs:               5000,
			LeadershipHandshakeTimeoutMs: 800,
		},
		Playlist: Playlist{
			AutoAdvance:    true,
			DefaultRepeat:  "none",
			DefaultShuffle: false,
			Replicate:      true,
		},
		Transport: Transport{
			Kind:       "local",
			ListenPort: 0,
		},
		Observer: Observer{
			Enabled:  false,
			HTTPAddr: "127.0.0.1:8790",
		},
	}
}

// Validate flags mutually confusing combinations as warnings, not
// construction failures. It never returns an error for a combination
// the core can still run with; callers log the returned warnings.
func (c *Config) Validate() []string {
	var warnings []string
	if strings.TrimSpace(c.ChannelName) == "" {
		warnings = append(warnings, "channel_name is empty; defaulting to \"default\"")
		c.ChannelName = "default"
	}
	if c.Sync.LeadershipHandshakeTimeoutMs <= 0 {
		warnings = append(warnings, "sync.leadership_handshake_timeout_ms must be > 0; forcing to 800")
		c.Sync.LeadershipHandshakeTimeoutMs = 800
	}
	if c.Sync.SyncIntervalMs < 0 {
		warnings = append(warnings, "sync.sync_interval_ms must be >= 0; forcing to 0")
		c.Sync.SyncIntervalMs = 0
	}
	if c.Sync.SinglePlayback && !c.Sync.SyncPlay {
		warnings = append(warnings, "single_playback=true with sync_play=false: followers will never learn the leader started playing")
	}
	if c.Sync.AllowRemoteControl && !c.Sync.SinglePlayback {
		warnings = append(warnings, "allow_remote_control has no effect unless single_playback=true")
	}
	return warnings
}

// Load reads a Config from path, applying Default() for any field the
// file omits by unmarshalling onto a Default() base value.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Watcher hot-reloads a Config file and notifies subscribers of every
// successfully parsed change — future handshakes pick up the new
// SyncConfig; existing leadership/playback state is left untouched.
type Watcher struct {
	mu        sync.Mutex
	path      string
	current   Config
	listeners []func(Config)
	watcher   *fsnotify.Watcher
	done      chan struct{}
}

// NewWatcher loads path once and starts watching its containing
// directory for changes (watching the directory, not the file
// directly, survives editors that replace the file instead of
// writing in place).
func NewWatcher(path string) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("start config watcher: %w", err)
	}
	dir := filepath.Dir(path)
	if dir == "" {
		dir = "."
	}
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch config directory %s: %w", dir, err)
	}

	w := &Watcher{path: path, current: cfg, watcher: fw, done: make(chan struct{})}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	target := filepath.Clean(w.path)
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				continue
			}
			w.mu.Lock()
			w.current = cfg
			ls := append([]func(Config){}, w.listeners...)
			w.mu.Unlock()
			for _, l := range ls {
				l(cfg)
			}
		case <-w.watcher.Errors:
			continue
		case <-w.done:
			return
		}
	}
}

// Current returns the most recently loaded Config.
func (w *Watcher) Current() Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// OnChange registers a callback invoked with every successfully
// reloaded Config.
func (w *Watcher) OnChange(fn func(Config)) {
	w.mu.Lock()
	w.listeners = append(w.listeners, fn)
	w.mu.Unlock()
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}

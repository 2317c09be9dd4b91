package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestValidateNeverFailsConstruction(t *testing.T) {
	cfg := Config{}
	warnings := cfg.Validate()
	if len(warnings) == 0 {
		t.Fatal("an all-zero config should trigger at least one warning")
	}
	if cfg.ChannelName == "" {
		t.Fatal("Validate should fill in a usable channel_name")
	}
	if cfg.Sync.LeadershipHandshakeTimeoutMs <= 0 {
		t.Fatal("Validate should force a positive handshake timeout")
	}
}

func TestValidateFlagsSinglePlaybackWithoutSyncPlay(t *testing.T) {
	cfg := Default()
	cfg.Sync.SinglePlayback = true
	cfg.Sync.SyncPlay = false
	warnings := cfg.Validate()
	found := false
	for _, w := range warnings {
		if strings.Contains(w, "single_playback") && strings.Contains(w, "sync_play") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a warning about single_playback with sync_play=false, got %v", warnings)
	}
}

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if err != nil {
		t.Fatalf("Load on a missing file should not error, got %v", err)
	}
	if cfg.ChannelName != Default().ChannelName {
		t.Fatalf("expected defaults for a missing config file, got %+v", cfg)
	}
}

func TestLoadOverlaysPartialFileOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	partial := map[string]any{"channel_name": "my-room"}
	raw, _ := json.Marshal(partial)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ChannelName != "my-room" {
		t.Fatalf("expected channel_name override, got %q", cfg.ChannelName)
	}
	if cfg.Sync.LeadershipHandshakeTimeoutMs != Default().Sync.LeadershipHandshakeTimeoutMs {
		t.Fatal("fields omitted from the file should keep their Default() value")
	}
}

func TestWatcherPicksUpFileChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	initial, _ := json.Marshal(map[string]any{"channel_name": "room-a"})
	if err := os.WriteFile(path, initial, 0o644); err != nil {
		t.Fatalf("write initial config: %v", err)
	}

	w, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	changed := make(chan Config, 1)
	w.OnChange(func(c Config) { changed <- c })

	updated, _ := json.Marshal(map[string]any{"channel_name": "room-b"})
	if err := os.WriteFile(path, updated, 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case c := <-changed:
		if c.ChannelName != "room-b" {
			t.Fatalf("expected reloaded channel_name room-b, got %q", c.ChannelName)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watcher never observed the file rewrite")
	}
}

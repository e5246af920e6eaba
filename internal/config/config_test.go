package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.RefreshInterval != 3 || cfg.PageSize != 15 || cfg.KillRefreshDelayMs != 1000 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.Interval() != 3*time.Second || cfg.KillRefreshDelay() != time.Second {
		t.Errorf("durations: %s %s", cfg.Interval(), cfg.KillRefreshDelay())
	}
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RefreshInterval != Default().RefreshInterval {
		t.Errorf("expected defaults, got %+v", cfg)
	}
}

func TestLoadFrom_PartialAndInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := "refresh_interval: 5\npage_size: -2\nexclude:\n  - rapportd\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RefreshInterval != 5 {
		t.Errorf("refresh: got %d, want 5", cfg.RefreshInterval)
	}
	if cfg.PageSize != 15 {
		t.Errorf("invalid page size should fall back to default, got %d", cfg.PageSize)
	}
	if len(cfg.Exclude) != 1 || cfg.Exclude[0] != "rapportd" {
		t.Errorf("exclude: %v", cfg.Exclude)
	}
	if !cfg.ColorEnabled {
		t.Error("missing fields keep defaults")
	}
}

func TestLoadFrom_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("refresh_interval: [oops"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFrom(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Default()
	cfg.DefaultFilter = "3000-3999"
	if err := cfg.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.DefaultFilter != "3000-3999" {
		t.Errorf("filter: got %q", loaded.DefaultFilter)
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := Default().Save(path); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 8)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, nil, func(c *Config) { changes <- c })
	}()

	// Give the watcher a moment to register before writing.
	deadline := time.After(3 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case c := <-changes:
			if c.RefreshInterval == 7 {
				cancel()
				if err := <-done; err != nil {
					t.Errorf("watch returned %v", err)
				}
				return
			}
		case <-tick.C:
			os.WriteFile(path, []byte("refresh_interval: 7\n"), 0o644)
		case <-deadline:
			t.Fatal("config change not observed")
		}
	}
}

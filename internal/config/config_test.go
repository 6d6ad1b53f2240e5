package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := Default()
	if cfg != want {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg != Default() {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadOverlaysOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "termd.yaml")
	if err := os.WriteFile(path, []byte("listen: \":7681\"\nmax_orphans: 64\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Listen != ":7681" {
		t.Fatalf("expected listen overridden, got %q", cfg.Listen)
	}
	if cfg.MaxOrphans != 64 {
		t.Fatalf("expected max_orphans overridden, got %d", cfg.MaxOrphans)
	}
	if cfg.IdleTimeout != Default().IdleTimeout {
		t.Fatalf("expected idle_timeout to keep its default, got %v", cfg.IdleTimeout)
	}
	if cfg.TaskChunkSize != Default().TaskChunkSize {
		t.Fatalf("expected task_chunk_size to keep its default")
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg != Default() {
		t.Fatalf("Load(missing) = %+v, want Default()", cfg)
	}
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rvengine.yml")
	if err := os.WriteFile(path, []byte("hart_count: 4\nxlen: 32\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HartCount != 4 {
		t.Errorf("HartCount = %d, want 4", cfg.HartCount)
	}
	if cfg.XLen != 32 {
		t.Errorf("XLen = %d, want 32", cfg.XLen)
	}
	if cfg.RAMSizeMB != Default().RAMSizeMB {
		t.Errorf("RAMSizeMB = %d, want default %d", cfg.RAMSizeMB, Default().RAMSizeMB)
	}
}

func TestLoadRejectsInvalidXLen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rvengine.yml")
	if err := os.WriteFile(path, []byte("xlen: 16\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected Load to reject xlen: 16")
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rvengine.yml")
	if err := os.WriteFile(path, []byte("hart_count: [this is not an int\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected Load to reject malformed YAML")
	}
}

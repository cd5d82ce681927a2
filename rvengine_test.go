package rvengine

import (
	"testing"

	"github.com/rvcore/rvengine/internal/config"
	"github.com/rvcore/rvengine/internal/jit"
)

func TestNewWithoutJIT(t *testing.T) {
	cfg := config.Default()
	cfg.EnableJIT = false

	e, err := New(cfg, jit.ArchAMD64)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	if e.Heap != nil || e.Tracer != nil {
		t.Fatal("jit disabled, Heap/Tracer should be nil")
	}
	if len(e.Harts) != cfg.HartCount {
		t.Fatalf("got %d harts, want %d", len(e.Harts), cfg.HartCount)
	}
}

func TestNewWithJIT(t *testing.T) {
	cfg := config.Default()
	cfg.CodeHeapSizeMB = 1

	e, err := New(cfg, jit.ArchAMD64)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	if e.Heap == nil || e.Tracer == nil {
		t.Fatal("jit enabled, Heap/Tracer should be populated")
	}
}

func TestNewRejectsUnknownBackend(t *testing.T) {
	cfg := config.Default()
	if _, err := New(cfg, jit.HostArch("made-up-arch")); err == nil {
		t.Fatal("expected an error for an unregistered host arch")
	}
}

func TestLoadImage(t *testing.T) {
	cfg := config.Default()
	cfg.EnableJIT = false
	e, err := New(cfg, jit.ArchAMD64)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	prog := []byte{0x73, 0x00, 0x10, 0x00} // ebreak
	if err := e.LoadImage(e.ResetVector, prog); err != nil {
		t.Fatalf("LoadImage: %v", err)
	}
}

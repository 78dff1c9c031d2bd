package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMergesOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quidx.yaml")
	yaml := "data-dir: /var/lib/quidx\nwalker-workers: 8\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DataDir != "/var/lib/quidx" {
		t.Errorf("DataDir = %q, want /var/lib/quidx", cfg.DataDir)
	}
	if cfg.WalkerWorkers != 8 {
		t.Errorf("WalkerWorkers = %d, want 8", cfg.WalkerWorkers)
	}
	if cfg.InspectAddr != Default().InspectAddr {
		t.Errorf("InspectAddr = %q, expected default to survive merge", cfg.InspectAddr)
	}
}

func TestValidateAccumulatesErrors(t *testing.T) {
	cfg := Config{DataDir: "", InspectAddr: "", WalkerWorkers: 0, FlushInterval: 0}
	err := Validate(cfg)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if len(ve.Errors) != 5 {
		t.Fatalf("expected 5 accumulated errors, got %d: %v", len(ve.Errors), ve.Errors)
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	if err := Validate(Default()); err != nil {
		t.Fatalf("expected defaults to validate cleanly, got %v", err)
	}
}

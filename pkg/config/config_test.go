package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
)

const testDefaultYAML = `
instance:
  name: test-instance
  email: test@example.com
  directory: ./data
storage:
  encrypted: true
reverse_maps:
  enabled:
    - type: Access
      field: object
logging:
  level: info
`

func TestLoadDefault(t *testing.T) {
	viper.Reset()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "default.yaml"), []byte(testDefaultYAML), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cfg, err := Load(dir, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Instance.Name != "test-instance" {
		t.Fatalf("unexpected instance name: %s", cfg.Instance.Name)
	}
	if !cfg.Storage.Encrypted {
		t.Fatalf("expected storage.encrypted true")
	}
	if len(cfg.ReverseMaps.Enabled) != 1 || cfg.ReverseMaps.Enabled[0].Type != "Access" {
		t.Fatalf("unexpected reverse maps: %+v", cfg.ReverseMaps.Enabled)
	}
}

func TestLoadMergesEnvOverlay(t *testing.T) {
	viper.Reset()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "default.yaml"), []byte(testDefaultYAML), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	overlay := "logging:\n  level: debug\n"
	if err := os.WriteFile(filepath.Join(dir, "staging.yaml"), []byte(overlay), 0o600); err != nil {
		t.Fatalf("write overlay: %v", err)
	}

	cfg, err := Load(dir, "staging")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("expected overlay to win, got %s", cfg.Logging.Level)
	}
	if cfg.Instance.Name != "test-instance" {
		t.Fatalf("expected base config to survive merge, got %s", cfg.Instance.Name)
	}
}

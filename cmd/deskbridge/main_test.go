package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestVersionCommand(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != version {
		t.Errorf("version output = %q, want %q", got, version)
	}
}

func TestLoadConfigFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := "backend:\n  url: https://example.test\nws:\n  port: 9001\n"
	if err := os.WriteFile(path, []byte(yaml), 0600); err != nil {
		t.Fatal(err)
	}

	root := newRootCmd()
	if err := root.PersistentFlags().Set("config", path); err != nil {
		t.Fatal(err)
	}
	if err := root.PersistentFlags().Set("log-level", "debug"); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfig(root)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Backend.URL != "https://example.test" || cfg.WS.Port != 9001 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %q", cfg.Logging.Level)
	}
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	root := newRootCmd()
	root.PersistentFlags().Set("config", filepath.Join(t.TempDir(), "nope.yaml"))
	_, err := loadConfig(root)
	if err == nil || !strings.Contains(err.Error(), "read config") {
		t.Errorf("err = %v, want read error", err)
	}
}

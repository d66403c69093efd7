//go:build linux

package config

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestParseFlags_Version(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{
			name: "long form",
			args: []string{"--version"},
		},
		{
			name: "short form -v",
			args: []string{"-v"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Capture stdout
			oldStdout := os.Stdout
			r, w, _ := os.Pipe()
			os.Stdout = w

			cfg, setFlags, configFile, err := ParseFlags(tt.args)

			w.Close()
			os.Stdout = oldStdout
			var buf bytes.Buffer
			io.Copy(&buf, r)

			if !errors.Is(err, ErrVersionRequested) {
				t.Errorf("expected ErrVersionRequested, got %v", err)
			}
			if cfg != nil {
				t.Errorf("expected nil config, got %v", cfg)
			}
			if setFlags != nil {
				t.Errorf("expected nil setFlags, got %v", setFlags)
			}
			if configFile != "" {
				t.Errorf("expected empty config file, got %q", configFile)
			}
			if buf.Len() == 0 {
				t.Error("expected version output on stdout")
			}
		})
	}
}

func TestParseFlags_Defaults(t *testing.T) {
	cfg, setFlags, configFile, err := ParseFlags(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Debug {
		t.Error("debug should default to false")
	}
	if cfg.RPCPort != 1025 {
		t.Errorf("expected default rpc port 1025, got %d", cfg.RPCPort)
	}
	if cfg.VSockContextID != 3 {
		t.Errorf("expected default vsock cid 3, got %d", cfg.VSockContextID)
	}
	if len(setFlags) != 0 {
		t.Errorf("expected no set flags, got %v", setFlags)
	}
	if configFile != "" {
		t.Errorf("expected empty config file, got %q", configFile)
	}
}

func TestParseFlags_Explicit(t *testing.T) {
	cfg, setFlags, configFile, err := ParseFlags([]string{
		"-debug",
		"-vsock-rpc-port", "2000",
		"-config", "/etc/boxlite/guest.json",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !cfg.Debug {
		t.Error("expected debug to be set")
	}
	if cfg.RPCPort != 2000 {
		t.Errorf("expected rpc port 2000, got %d", cfg.RPCPort)
	}
	if !setFlags["debug"] || !setFlags["vsock-rpc-port"] {
		t.Errorf("set flags not tracked: %v", setFlags)
	}
	if setFlags["vsock-cid"] {
		t.Error("vsock-cid was not passed but is tracked as set")
	}
	if configFile != "/etc/boxlite/guest.json" {
		t.Errorf("unexpected config file %q", configFile)
	}
}

func TestLoadFromFile_Merge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{"vsock_context_id": 7, "rpc_port": 3000, "debug": true}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := &ServiceConfig{VSockContextID: 3, RPCPort: 1025}
	if err := LoadFromFile(path, cfg, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.VSockContextID != 7 || cfg.RPCPort != 3000 || !cfg.Debug {
		t.Errorf("file values not applied: %+v", cfg)
	}
}

func TestLoadFromFile_FlagsWin(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{"rpc_port": 3000, "debug": true}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := &ServiceConfig{RPCPort: 2000, Debug: false}
	setFlags := map[string]bool{"vsock-rpc-port": true, "debug": true}
	if err := LoadFromFile(path, cfg, setFlags); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.RPCPort != 2000 {
		t.Errorf("flag rpc port should win, got %d", cfg.RPCPort)
	}
	if cfg.Debug {
		t.Error("flag debug=false should win over file")
	}
}

func TestLoadFromFile_Errors(t *testing.T) {
	cfg := &ServiceConfig{}

	if err := LoadFromFile("/nonexistent/config.json", cfg, nil); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := LoadFromFile(path, cfg, nil); err == nil {
		t.Error("expected error for malformed JSON")
	}
}

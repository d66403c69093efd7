//go:build linux

// Package config provides configuration loading and merging for boxinitd.
package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/containerd/containerd/v2/pkg/shutdown"

	"github.com/aledbf/boxlite/guest/internal/version"
)

// ErrVersionRequested is returned by ParseFlags when the user asked for
// the version; the caller should exit cleanly.
var ErrVersionRequested = errors.New("version requested")

// ServiceConfig holds the configuration for the boxinitd service.
type ServiceConfig struct {
	VSockContextID int              `json:"vsock_context_id,omitempty"`
	RPCPort        int              `json:"rpc_port,omitempty"`
	Debug          bool             `json:"debug,omitempty"`
	Shutdown       shutdown.Service `json:"-"`
}

// ParseFlags parses command-line flags and returns the config, the set of
// flags the user explicitly passed, and the config file path if any.
func ParseFlags(args []string) (*ServiceConfig, map[string]bool, string, error) {
	var (
		config      ServiceConfig
		configFile  string
		showVersion bool
	)

	fs := flag.NewFlagSet("boxinitd", flag.ContinueOnError)
	fs.StringVar(&configFile, "config", "", "Path to configuration file")
	fs.BoolVar(&config.Debug, "debug", false, "Debug log level")
	fs.IntVar(&config.RPCPort, "vsock-rpc-port", 1025, "vsock port to listen for rpc on")
	fs.IntVar(&config.VSockContextID, "vsock-cid", 3, "vsock context ID for vsock listen")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.BoolVar(&showVersion, "v", false, "Print version and exit (shorthand)")

	if err := fs.Parse(args); err != nil {
		return nil, nil, "", err
	}

	if showVersion {
		fmt.Println(version.Info())
		return nil, nil, "", ErrVersionRequested
	}

	// Track which flags were explicitly set by the user
	setFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	return &config, setFlags, configFile, nil
}

// LoadFromFile loads configuration from a JSON file and merges it with the
// provided config. Flags the user explicitly set take precedence over the
// file.
func LoadFromFile(path string, config *ServiceConfig, setFlags map[string]bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// Store flag values before unmarshaling
	flagDebug := config.Debug
	flagRPCPort := config.RPCPort
	flagVSockContextID := config.VSockContextID

	if err := json.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	// Restore flag values that were explicitly set by the user
	if setFlags["debug"] {
		config.Debug = flagDebug
	}
	if setFlags["vsock-rpc-port"] {
		config.RPCPort = flagRPCPort
	}
	if setFlags["vsock-cid"] {
		config.VSockContextID = flagVSockContextID
	}

	return nil
}

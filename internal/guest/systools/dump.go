//go:build linux

// Package systools provides system inspection helpers for boxinitd.
package systools

import (
	"context"
	"os"
	"runtime"

	"github.com/containerd/log"
)

// DumpInfo logs a snapshot of system state useful for debugging boot and
// mount issues. Only active at debug level.
func DumpInfo(ctx context.Context) {
	if !log.G(ctx).Logger.IsLevelEnabled(log.DebugLevel) {
		return
	}

	DumpFile(ctx, "/proc/cmdline")
	DumpFile(ctx, "/proc/mounts")
	DumpFile(ctx, "/proc/meminfo")
	log.G(ctx).WithField("ncpu", runtime.NumCPU()).Debug("runtime CPU count")
}

// DumpFile logs a file's contents for debugging. Missing or unreadable
// files are logged as warnings, never escalated.
func DumpFile(ctx context.Context, name string) {
	data, err := os.ReadFile(name)
	if err != nil {
		log.G(ctx).WithError(err).WithField("f", name).Warn("failed to read file")
		return
	}

	log.G(ctx).WithField("f", name).Debugf("%s", data)
}

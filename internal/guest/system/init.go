//go:build linux

// Package system provides system initialization for the VM guest
// environment.
package system

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/containerd/containerd/v2/core/mount"
	"github.com/containerd/log"

	"github.com/aledbf/boxlite/guest/internal/guest/tmpfs"
)

// Initialize performs all system initialization tasks for the VM guest.
// It runs once, before the readiness RPC starts accepting requests:
// pseudo-filesystems first, then the tmpfs-backed volatile directories,
// then cgroups and DNS.
func Initialize(ctx context.Context) error {
	if err := mountBaseFilesystems(); err != nil {
		return err
	}

	// Volatile directories come after the base mounts so /proc/mounts is
	// usually readable for the idempotence check; the check itself
	// tolerates a missing /proc either way.
	if err := tmpfs.NewPreparer().Prepare(ctx, tmpfs.RequiredMounts()); err != nil {
		return err
	}

	if err := setupCgroupControl(); err != nil {
		return err
	}

	// #nosec G301 -- /etc must be world-readable inside the VM.
	if err := os.Mkdir("/etc", 0755); err != nil && !os.IsExist(err) {
		return fmt.Errorf("failed to create /etc: %w", err)
	}

	// Configure DNS from kernel command line
	if err := configureDNS(ctx); err != nil {
		log.G(ctx).WithError(err).Warn("failed to configure DNS, continuing anyway")
	}

	return nil
}

// mountBaseFilesystems mounts the kernel pseudo-filesystems the guest
// needs. The tmpfs-backed directories are not handled here; they go
// through the tmpfs package, which mounts them flagless and idempotently.
func mountBaseFilesystems() error {
	return mount.All([]mount.Mount{
		{
			Type:    "proc",
			Source:  "proc",
			Target:  "/proc",
			Options: []string{"nosuid", "noexec", "nodev"},
		},
		{
			Type:    "sysfs",
			Source:  "sysfs",
			Target:  "/sys",
			Options: []string{"nosuid", "noexec", "nodev"},
		},
		{
			Type:   "cgroup2",
			Source: "none",
			Target: "/sys/fs/cgroup",
		},
		{
			Type:    "devtmpfs",
			Source:  "devtmpfs",
			Target:  "/dev",
			Options: []string{"nosuid", "noexec"},
		},
	}, "/")
}

// setupCgroupControl enables cgroup controllers for workload resource
// management.
func setupCgroupControl() error {
	// #nosec G306 -- kernel-managed cgroup control file expects 0644.
	return os.WriteFile("/sys/fs/cgroup/cgroup.subtree_control", []byte("+cpu +cpuset +io +memory +pids"), 0644)
}

// configureDNS parses DNS servers from the kernel ip= parameter and writes
// /etc/resolv.conf.
func configureDNS(ctx context.Context) error {
	cmdlineBytes, err := os.ReadFile("/proc/cmdline")
	if err != nil {
		return fmt.Errorf("failed to read /proc/cmdline: %w", err)
	}

	cmdline := string(cmdlineBytes)
	log.G(ctx).WithField("cmdline", cmdline).Debug("parsing kernel command line for DNS config")

	nameservers := parseNameservers(cmdline)
	if len(nameservers) == 0 {
		log.G(ctx).Debug("no DNS servers found in kernel ip= parameter")
		return nil
	}

	var resolvConf strings.Builder
	for _, ns := range nameservers {
		fmt.Fprintf(&resolvConf, "nameserver %s\n", ns)
	}

	// #nosec G306 -- /etc/resolv.conf must be world-readable for non-root processes.
	if err := os.WriteFile("/etc/resolv.conf", []byte(resolvConf.String()), 0644); err != nil {
		return fmt.Errorf("failed to write /etc/resolv.conf: %w", err)
	}

	log.G(ctx).WithField("nameservers", nameservers).Info("configured DNS resolvers from kernel ip= parameter")
	return nil
}

// parseNameservers extracts DNS servers from the kernel ip= parameter:
// ip=<client-ip>:<server-ip>:<gw-ip>:<netmask>:<hostname>:<device>:<autoconf>:<dns0-ip>:<dns1-ip>
func parseNameservers(cmdline string) []string {
	var nameservers []string
	for param := range strings.FieldsSeq(cmdline) {
		ipParam, ok := strings.CutPrefix(param, "ip=")
		if !ok {
			continue
		}
		parts := strings.Split(ipParam, ":")

		// DNS servers sit at index 7 and 8
		if len(parts) > 7 && parts[7] != "" {
			nameservers = append(nameservers, parts[7])
		}
		if len(parts) > 8 && parts[8] != "" {
			nameservers = append(nameservers, parts[8])
		}
		break
	}
	return nameservers
}

//go:build linux

// Package tmpfs prepares the guest directories that must be backed by an
// in-memory filesystem. The guest root is virtio-fs backed, and virtio-fs
// does not support the open-unlink-fstat pattern that apt and similar tools
// rely on, so /tmp, /var/tmp and /run get their own tmpfs mounts before any
// service starts.
package tmpfs

import (
	"context"
	"fmt"
	"os"

	"github.com/containerd/log"
	"golang.org/x/sys/unix"
)

// fsType is the filesystem type mounted on every prepared directory.
const fsType = "tmpfs"

// Spec describes one directory that must be backed by tmpfs.
type Spec struct {
	// Path is the absolute mount point.
	Path string

	// Mode holds the permission bits applied after mounting, including
	// the sticky bit for world-writable scratch directories.
	Mode uint32
}

// RequiredMounts returns the fixed, ordered set of directories that need
// tmpfs in the guest. The set is deployment configuration; order only
// affects iteration and reporting.
func RequiredMounts() []Spec {
	return []Spec{
		{Path: "/tmp", Mode: 0o1777},
		{Path: "/var/tmp", Mode: 0o1777},
		{Path: "/run", Mode: 0o755},
	}
}

// Preparer mounts tmpfs on required directories. Construct with
// NewPreparer; the zero value has no syscall implementations.
type Preparer struct {
	// mountsFile is the kernel's live mount table, normally /proc/mounts.
	mountsFile string

	mount    func(source, target, fstype string, flags uintptr, data string) error
	chmod    func(path string, mode uint32) error
	mkdirAll func(path string, perm os.FileMode) error
}

// NewPreparer returns a Preparer backed by the real mount, chmod and mkdir
// syscalls and the kernel mount table at /proc/mounts.
func NewPreparer() *Preparer {
	return &Preparer{
		mountsFile: "/proc/mounts",
		mount:      unix.Mount,
		chmod:      unix.Chmod,
		mkdirAll:   os.MkdirAll,
	}
}

// Prepare ensures every entry in the table is mounted with the configured
// permissions. Entries are processed in order and the first failure stops
// the run: a missing scratch mount is boot-blocking, not a degraded mode.
// Rerunning after a successful run performs no mount or chmod syscalls.
func (p *Preparer) Prepare(ctx context.Context, table []Spec) error {
	log.G(ctx).Info("preparing tmpfs mounts")

	for _, spec := range table {
		if err := p.ensureMount(ctx, spec); err != nil {
			return err
		}
	}

	return nil
}

// ensureMount makes a single spec hold: the path exists, is backed by
// tmpfs, and carries the configured permission bits.
func (p *Preparer) ensureMount(ctx context.Context, spec Spec) error {
	if p.isMounted(spec.Path, fsType) {
		log.G(ctx).WithField("path", spec.Path).Debug("already tmpfs, skipping")
		return nil
	}

	if _, err := os.Stat(spec.Path); os.IsNotExist(err) {
		if err := p.mkdirAll(spec.Path, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", spec.Path, err)
		}
	}

	log.G(ctx).WithField("path", spec.Path).Debug("mounting tmpfs")

	// Deliberately flagless: restrictive flag sets broke under some
	// kernel/guest configurations.
	if err := p.mount(fsType, spec.Path, fsType, 0, ""); err != nil {
		log.G(ctx).WithError(err).WithField("path", spec.Path).Error("failed to mount tmpfs")
		p.dumpMountTable(ctx)
		return fmt.Errorf("failed to mount tmpfs on %s: %w", spec.Path, err)
	}

	// A fresh tmpfs arrives with default permissions, so the mode is set
	// explicitly even right after mounting.
	if err := p.chmod(spec.Path, spec.Mode); err != nil {
		return fmt.Errorf("failed to set permissions on %s: %w", spec.Path, err)
	}

	log.G(ctx).WithField("path", spec.Path).Info("mounted tmpfs")
	return nil
}

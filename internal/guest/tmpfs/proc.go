//go:build linux

package tmpfs

import (
	"bufio"
	"context"
	"os"
	"strings"

	"github.com/containerd/log"
)

// mountEntry is one parsed row of the kernel mount table. Columns past the
// filesystem type (options, dump/pass fields) are ignored.
type mountEntry struct {
	device     string
	mountPoint string
	fsType     string
}

// readMountTable parses the live kernel mount table. A fresh read happens
// on every call so the result reflects kernel state at that instant. The
// format is untrusted: rows with fewer than three columns are skipped.
func (p *Preparer) readMountTable() ([]mountEntry, error) {
	f, err := os.Open(p.mountsFile)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []mountEntry
	s := bufio.NewScanner(f)
	for s.Scan() {
		fields := strings.Fields(s.Text())
		if len(fields) < 3 {
			continue
		}
		entries = append(entries, mountEntry{
			device:     fields[0],
			mountPoint: fields[1],
			fsType:     fields[2],
		})
	}
	if err := s.Err(); err != nil {
		return nil, err
	}

	return entries, nil
}

// isMounted reports whether path is already backed by fstype according to
// the kernel mount table. Matching is literal string equality on the mount
// point column; paths are not canonicalized first. An unreadable table
// reads as "not mounted" because /proc may not be up yet this early in
// boot, and this check must never block startup on its own.
func (p *Preparer) isMounted(path, fstype string) bool {
	entries, err := p.readMountTable()
	if err != nil {
		return false
	}

	for _, e := range entries {
		if e.mountPoint == path && e.fsType == fstype {
			return true
		}
	}
	return false
}

// dumpMountTable logs the current mount table for postmortem diagnosis of
// a failed mount. Best effort: a read failure here is logged and never
// replaces the error that triggered the dump.
func (p *Preparer) dumpMountTable(ctx context.Context) {
	data, err := os.ReadFile(p.mountsFile)
	if err != nil {
		log.G(ctx).WithError(err).Warn("failed to read mount table for diagnostics")
		return
	}
	log.G(ctx).Debugf("current mounts:\n%s", data)
}

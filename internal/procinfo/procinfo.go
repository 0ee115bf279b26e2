// Package procinfo reports diagnostic information about a running child
// by reading /proc/[pid]. It replaces the teacher's hand-rolled status/fd/
// maps parser with github.com/prometheus/procfs, which already knows the
// field layout of /proc/[pid]/stat and /proc/[pid]/status and is
// exercised across the retrieval pack (altuslabsxyz-devnet-builder,
// other_examples' gpud).
//
// This is read-only and best-effort: it is never called from group's
// monitor loop, only invoked on demand the way the teacher's
// Supervisor.Introspect was invoked from a SIGUSR1 handler.
package procinfo

import (
	"fmt"

	"github.com/prometheus/procfs"
)

// Info is a snapshot of a child's resource usage at the moment Snapshot
// was called.
type Info struct {
	PID      int
	Comm     string
	State    string
	Threads  int
	RSSBytes int64
	NumFDs   int
}

// Snapshot reads /proc/[pid] for the given pid. Returns an error if the
// process has already exited and been reaped (ESRCH-equivalent: the
// /proc/[pid] directory is gone).
func Snapshot(pid int) (*Info, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, fmt.Errorf("procinfo: open procfs: %w", err)
	}

	proc, err := fs.Proc(pid)
	if err != nil {
		return nil, fmt.Errorf("procinfo: pid %d: %w", pid, err)
	}

	stat, err := proc.Stat()
	if err != nil {
		return nil, fmt.Errorf("procinfo: stat pid %d: %w", pid, err)
	}

	info := &Info{
		PID:     pid,
		Comm:    stat.Comm,
		State:   stat.State,
		Threads: stat.NumThreads,
	}

	if pageSize := 4096; pageSize > 0 {
		info.RSSBytes = int64(stat.RSS) * int64(pageSize)
	}

	if fds, err := proc.FileDescriptors(); err == nil {
		info.NumFDs = len(fds)
	}

	return info, nil
}

// String renders Info for a human-facing dump, in the spirit of the
// teacher's ProcInfo.String.
func (i *Info) String() string {
	return fmt.Sprintf("pid=%d comm=%s state=%s threads=%d rss=%dKB fds=%d",
		i.PID, i.Comm, i.State, i.Threads, i.RSSBytes/1024, i.NumFDs)
}

package watcher

import (
	"github.com/prometheus/procfs"
)

// ProcessCache reports whether a process with a given comm name is running.
// It remembers the last matching PID so most checks read a single file.
type ProcessCache struct {
	comm string
	fs   procfs.FS
	pid  int
	err  error
}

// NewProcessCache watches for comm under the default /proc mount. An empty
// comm disables the check.
func NewProcessCache(comm string) *ProcessCache {
	return newProcessCache(comm, procfs.DefaultMountPoint)
}

func newProcessCache(comm, mountPoint string) *ProcessCache {
	c := &ProcessCache{comm: comm}
	if comm != "" {
		c.fs, c.err = procfs.NewFS(mountPoint)
	}
	return c
}

// Running reports whether the process is currently running. Errors reading
// /proc count as not running.
func (c *ProcessCache) Running() bool {
	if c.comm == "" || c.err != nil {
		return false
	}

	if c.pid > 0 {
		if p, err := c.fs.Proc(c.pid); err == nil {
			if comm, err := p.Comm(); err == nil && comm == c.comm {
				return true
			}
		}
		c.pid = 0
	}

	procs, err := c.fs.AllProcs()
	if err != nil {
		return false
	}
	for _, p := range procs {
		if comm, err := p.Comm(); err == nil && comm == c.comm {
			c.pid = p.PID
			return true
		}
	}
	return false
}

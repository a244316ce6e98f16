//go:build unix

package health

import (
	"context"

	"golang.org/x/sys/unix"
)

// DiskSpaceCheck degrades when the filesystem holding dir has fewer than
// minFree bytes available to unprivileged users.
func DiskSpaceCheck(dir string, minFree uint64) Check {
	return func(context.Context) CheckResult {
		var st unix.Statfs_t
		if err := unix.Statfs(dir, &st); err != nil {
			return CheckResult{Status: StatusUnknown, Message: "statfs failed", Error: err.Error()}
		}

		bsize := uint64(st.Bsize)
		free := uint64(st.Bavail) * bsize
		res := CheckResult{
			Status:  StatusHealthy,
			Message: "disk space ok",
			Details: map[string]any{
				"path":           dir,
				"free_bytes":     free,
				"total_bytes":    uint64(st.Blocks) * bsize,
				"min_free_bytes": minFree,
			},
		}
		if free < minFree {
			res.Status = StatusDegraded
			res.Message = "low disk space"
		}
		return res
	}
}

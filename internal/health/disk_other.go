//go:build !unix

package health

import "context"

// DiskSpaceCheck is not supported on this platform and always reports unknown.
func DiskSpaceCheck(path string, minFreeBytes uint64) Check {
	return func(ctx context.Context) CheckResult {
		return CheckResult{
			Status:  StatusUnknown,
			Message: "disk space check unsupported",
			Details: map[string]any{"path": path},
		}
	}
}

//go:build linux || darwin

package disk

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// UsagePercent returns the used share of the filesystem holding path, counting
// blocks reserved for root as unavailable (same figure as df).
func UsagePercent(path string) (float64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", path, err)
	}

	bsize := uint64(stat.Bsize)
	if bsize == 0 {
		return 0, fmt.Errorf("invalid block size for %s", path)
	}

	used := (uint64(stat.Blocks) - uint64(stat.Bfree)) * bsize
	avail := uint64(stat.Bavail) * bsize

	if used+avail == 0 {
		return 0, nil
	}
	return float64(used) / float64(used+avail) * 100.0, nil
}

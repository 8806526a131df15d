//go:build windows

package disk

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// UsagePercent returns the used share of the volume holding path.
func UsagePercent(path string) (float64, error) {
	var freeBytesAvailable, totalBytes, totalFreeBytes uint64

	pathPtr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return 0, err
	}

	if err := windows.GetDiskFreeSpaceEx(pathPtr, &freeBytesAvailable, &totalBytes, &totalFreeBytes); err != nil {
		return 0, fmt.Errorf("GetDiskFreeSpaceEx %s: %w", path, err)
	}

	if totalBytes == 0 {
		return 0, nil
	}

	used := totalBytes - totalFreeBytes
	return float64(used) / float64(totalBytes) * 100.0, nil
}

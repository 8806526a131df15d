//go:build !linux && !darwin && !windows

package disk

import (
	"fmt"
	"runtime"
)

func UsagePercent(path string) (float64, error) {
	return 0, fmt.Errorf("disk usage not supported on %s", runtime.GOOS)
}

// Package disk decides whether storage is under pressure.
package disk

import (
	"context"
	"errors"
)

// UsageFunc reports the used percentage for a path.
type UsageFunc func(path string) (float64, error)

// Probe implements core.DiskProbe by comparing usage against a threshold.
type Probe struct {
	Threshold float64
	Path      string

	usage UsageFunc
}

// NewProbe creates a probe for path.
func NewProbe(path string, threshold float64) *Probe {
	return &Probe{Threshold: threshold, Path: path, usage: UsagePercent}
}

// WithUsage replaces the platform probe, mainly for tests.
func (p *Probe) WithUsage(fn UsageFunc) *Probe {
	p.usage = fn
	return p
}

// Check reports whether used space is at or above the threshold.
func (p *Probe) Check(ctx context.Context) (bool, float64, error) {
	if err := ctx.Err(); err != nil {
		return false, 0, err
	}
	if p.Path == "" {
		return false, 0, errors.New("disk probe: no path configured")
	}

	usage := p.usage
	if usage == nil {
		usage = UsagePercent
	}

	pct, err := usage(p.Path)
	if err != nil {
		return false, 0, err
	}
	return pct >= p.Threshold, pct, nil
}

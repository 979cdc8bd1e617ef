// Package resource implements C5, the resource monitor: point-in-time
// snapshots of memory, load average, and disk usage, captured at named
// checkpoints around each stage.
package resource

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

// Snapshot is the ResourceSnapshot named tuple of spec.md §3. Any counter
// gopsutil cannot read becomes the string "N/A" in its rendered form
// rather than failing the snapshot (spec.md §4.5: "Never fails; missing
// counters become N/A").
type Snapshot struct {
	Label         string
	MemUsedBytes  uint64
	MemTotalBytes uint64
	MemOK         bool
	Load1         float64
	Load5         float64
	Load15        float64
	LoadOK        bool
	DiskUsedBytes uint64
	DiskFreeBytes uint64
	DiskOK        bool
}

// Monitor captures Snapshots against a fixed disk path (the derivatives
// root, per spec.md §3).
type Monitor struct {
	DerivativesRoot string
}

// Snapshot reads the current system counters and labels them, per
// spec.md §4.5. It never returns an error: individual counter failures
// are absorbed into the corresponding *OK field.
func (m Monitor) Snapshot(ctx context.Context, label string) Snapshot {
	s := Snapshot{Label: label}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		s.MemUsedBytes = vm.Used
		s.MemTotalBytes = vm.Total
		s.MemOK = true
	}

	if avg, err := load.AvgWithContext(ctx); err == nil {
		s.Load1, s.Load5, s.Load15 = avg.Load1, avg.Load5, avg.Load15
		s.LoadOK = true
	}

	if m.DerivativesRoot != "" {
		if u, err := disk.UsageWithContext(ctx, m.DerivativesRoot); err == nil {
			s.DiskUsedBytes = u.Used
			s.DiskFreeBytes = u.Free
			s.DiskOK = true
		}
	}

	return s
}

// Line renders the snapshot as the single INFO record spec.md §4.5 says
// the monitor writes into the logger.
func (s Snapshot) Line() string {
	mem := "N/A"
	if s.MemOK {
		mem = fmt.Sprintf("%.1fGiB/%.1fGiB", gib(s.MemUsedBytes), gib(s.MemTotalBytes))
	}
	load := "N/A"
	if s.LoadOK {
		load = fmt.Sprintf("%.2f %.2f %.2f", s.Load1, s.Load5, s.Load15)
	}
	disk := "N/A"
	if s.DiskOK {
		disk = fmt.Sprintf("%.1fGiB free", gib(s.DiskFreeBytes))
	}
	return fmt.Sprintf("resource snapshot [%s]: mem=%s load=%s disk=%s", s.Label, mem, load, disk)
}

func gib(b uint64) float64 {
	return float64(b) / (1024 * 1024 * 1024)
}

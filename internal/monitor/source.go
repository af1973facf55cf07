package monitor

import (
	"fmt"
	"sync"
	"time"

	v1 "github.com/aegis-labs/aegis/pkg/aegis/v1"
	"github.com/prometheus/procfs"
)

// ProcFSSource implements the MetricsSource collaborator interface by
// reading the current process's memory and CPU accounting from procfs.
// CPU percent is derived from the CPU-time delta between consecutive
// samples, so the first reading reports 0.
type ProcFSSource struct {
	fs procfs.FS

	mu          sync.Mutex
	lastCPUTime float64
	lastSampled time.Time

	// totalMemMB is read once at construction; physical memory does not
	// change while we run.
	totalMemMB float64
}

var _ v1.MetricsSource = (*ProcFSSource)(nil)

// NewProcFSSource mounts the default procfs and caches total system memory.
func NewProcFSSource() (*ProcFSSource, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, fmt.Errorf("failed to mount procfs: %w", err)
	}

	source := &ProcFSSource{fs: fs}

	meminfo, err := fs.Meminfo()
	if err != nil {
		return nil, fmt.Errorf("failed to read meminfo: %w", err)
	}
	if meminfo.MemTotal != nil && *meminfo.MemTotal > 0 {
		source.totalMemMB = float64(*meminfo.MemTotal) / 1024.0
	}

	return source, nil
}

// Sample reads resident memory and CPU time for the current process.
func (s *ProcFSSource) Sample() (v1.Sample, error) {
	proc, err := s.fs.Self()
	if err != nil {
		return v1.Sample{}, fmt.Errorf("failed to read process entry: %w", err)
	}
	stat, err := proc.Stat()
	if err != nil {
		return v1.Sample{}, fmt.Errorf("failed to read process stat: %w", err)
	}

	now := time.Now()
	memMB := float64(stat.ResidentMemory()) / (1024.0 * 1024.0)
	memPercent := 0.0
	if s.totalMemMB > 0 {
		memPercent = memMB / s.totalMemMB * 100.0
	}

	cpuTime := stat.CPUTime()

	s.mu.Lock()
	cpuPercent := 0.0
	if !s.lastSampled.IsZero() {
		elapsed := now.Sub(s.lastSampled).Seconds()
		if elapsed > 0 {
			cpuPercent = (cpuTime - s.lastCPUTime) / elapsed * 100.0
			if cpuPercent < 0 {
				cpuPercent = 0
			}
		}
	}
	s.lastCPUTime = cpuTime
	s.lastSampled = now
	s.mu.Unlock()

	return v1.Sample{
		Timestamp:     now,
		MemoryMB:      memMB,
		MemoryPercent: memPercent,
		CPUPercent:    cpuPercent,
	}, nil
}

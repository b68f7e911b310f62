// Package sysmon samples host CPU, memory and disk utilization for perfmetrics
package sysmon

import (
	"context"
	"runtime"
	"sync"
	"time"
)

// Sample is one observation of host resource usage.
type Sample struct {
	Timestamp       float64 `json:"timestamp"`
	CPUPercent      float64 `json:"cpu_percent"`
	MemoryPercent   float64 `json:"memory_percent"`
	MemoryAvailable uint64  `json:"memory_available"`
	DiskPercent     float64 `json:"disk_percent"`
	DiskFree        uint64  `json:"disk_free"`
	Goroutines      int     `json:"goroutines,omitempty"`
}

// cpuTimes are cumulative CPU times in seconds.
type cpuTimes struct {
	busy  float64
	total float64
}

// Probe collects Samples for the filesystem containing path.
// CPU utilization is computed between consecutive calls; the first call reports
// the average since boot.
type Probe struct {
	path string

	mu   sync.Mutex
	prev cpuTimes

	// overridable in tests
	readCPU    func() (cpuTimes, error)
	readMemory func() (total, available uint64, err error)
	readDisk   func(path string) (total, free, avail uint64, err error)
	now        func() time.Time
}

// NewProbe creates a probe reporting disk usage for the filesystem holding path.
func NewProbe(path string) *Probe {
	if path == "" {
		path = "/"
	}
	return &Probe{
		path:       path,
		readCPU:    readCPUTimes,
		readMemory: readMemory,
		readDisk:   readDisk,
		now:        time.Now,
	}
}

// Sample reads the current resource usage.
func (p *Probe) Sample(ctx context.Context) (Sample, error) {
	if err := ctx.Err(); err != nil {
		return Sample{}, err
	}

	s := Sample{
		Timestamp:  float64(p.now().UnixNano()) / float64(time.Second),
		Goroutines: runtime.NumGoroutine(),
	}

	cpu, err := p.readCPU()
	if err != nil {
		return Sample{}, probeError("cpu", err)
	}
	p.mu.Lock()
	busy := cpu.busy - p.prev.busy
	total := cpu.total - p.prev.total
	p.prev = cpu
	p.mu.Unlock()
	if total > 0 {
		s.CPUPercent = clampPercent(busy / total * 100)
	}

	memTotal, memAvail, err := p.readMemory()
	if err != nil {
		return Sample{}, probeError("memory", err)
	}
	s.MemoryAvailable = memAvail
	if memTotal > 0 {
		s.MemoryPercent = clampPercent(float64(memTotal-memAvail) / float64(memTotal) * 100)
	}

	diskTotal, diskFree, diskAvail, err := p.readDisk(p.path)
	if err != nil {
		return Sample{}, probeError("disk", err)
	}
	s.DiskFree = diskAvail
	// Matches df: used / (used + available to unprivileged users).
	used := diskTotal - diskFree
	if used+diskAvail > 0 {
		s.DiskPercent = clampPercent(float64(used) / float64(used+diskAvail) * 100)
	}

	return s, nil
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

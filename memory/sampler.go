package memory

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/procfs"
)

// cgroupMemoryMax is the cgroup v2 limit file of the current container
const cgroupMemoryMax = "/sys/fs/cgroup/memory.max"

// Snapshot is one reading of the two memory pressure signals
type Snapshot struct {
	Time time.Time `json:"time"`

	// RenderPercent is resident memory as a percentage of the host or
	// container limit. This is the primary signal.
	RenderPercent float64 `json:"renderPercent"`
	RSS           uint64  `json:"rss"`
	Limit         uint64  `json:"limit"`

	// HeapPercent is heap in use as a percentage of heap obtained from the OS
	HeapPercent float64 `json:"heapPercent"`
	HeapAlloc   uint64  `json:"heapAlloc"`
	HeapSys     uint64  `json:"heapSys"`
}

// HeapRatio returns HeapPercent as a fraction
func (s Snapshot) HeapRatio() float64 {
	return s.HeapPercent / 100
}

// Sampler reads the current memory pressure
type Sampler interface {
	Sample() (Snapshot, error)
}

// SamplerFunc adapts a function to Sampler
type SamplerFunc func() (Snapshot, error)

// Sample implements Sampler
func (f SamplerFunc) Sample() (Snapshot, error) {
	return f()
}

// RuntimeSampler reads heap figures from the Go runtime and resident memory
// from procfs
type RuntimeSampler struct {
	// limit in bytes; 0 means discover it
	limit uint64
	fs    *procfs.FS

	once       sync.Once
	discovered uint64
	cgroupFile string
	logger     *slog.Logger
}

// NewRuntimeSampler creates a sampler. A zero limit is discovered from the
// cgroup, then from /proc/meminfo. Without procfs resident memory falls back
// to the runtime's view of memory obtained from the OS; when no limit can be
// found RenderPercent stays 0 and only heap pressure is acted on.
func NewRuntimeSampler(limit uint64) *RuntimeSampler {
	s := &RuntimeSampler{limit: limit, cgroupFile: cgroupMemoryMax, logger: slog.Default()}
	if fs, err := procfs.NewDefaultFS(); err == nil {
		s.fs = &fs
	}
	return s
}

// Sample implements Sampler
func (s *RuntimeSampler) Sample() (Snapshot, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	snap := Snapshot{
		Time:      time.Now(),
		HeapAlloc: ms.HeapAlloc,
		HeapSys:   ms.HeapSys,
		RSS:       ms.Sys,
	}
	if ms.HeapSys > 0 {
		snap.HeapPercent = float64(ms.HeapAlloc) / float64(ms.HeapSys) * 100
	}

	if s.fs != nil {
		proc, err := s.fs.Self()
		if err != nil {
			return snap, fmt.Errorf("failed to open process stats: %w", err)
		}
		stat, err := proc.Stat()
		if err != nil {
			return snap, fmt.Errorf("failed to read process stats: %w", err)
		}
		snap.RSS = uint64(stat.ResidentMemory())
	}

	snap.Limit = s.Limit()
	if snap.Limit > 0 {
		snap.RenderPercent = float64(snap.RSS) / float64(snap.Limit) * 100
	}
	return snap, nil
}

// Limit returns the memory limit the render percentage is measured against
func (s *RuntimeSampler) Limit() uint64 {
	if s.limit > 0 {
		return s.limit
	}
	s.once.Do(func() {
		s.discovered = s.discoverLimit()
	})
	return s.discovered
}

func (s *RuntimeSampler) discoverLimit() uint64 {
	limit := s.lookupLimit()
	if limit == 0 {
		s.logger.Warn("No memory limit found, process memory pressure is not monitored",
			"cgroup_file", s.cgroupFile,
			"procfs", s.fs != nil,
		)
	}
	return limit
}

func (s *RuntimeSampler) lookupLimit() uint64 {
	if limit, ok := readCgroupLimit(s.cgroupFile); ok {
		return limit
	}
	if s.fs == nil {
		return 0
	}
	info, err := s.fs.Meminfo()
	if err != nil || info.MemTotal == nil {
		return 0
	}
	// meminfo reports kB
	return *info.MemTotal * 1024
}

// readCgroupLimit parses a cgroup v2 memory.max file. "max" means unlimited.
func readCgroupLimit(path string) (uint64, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	value := strings.TrimSpace(string(data))
	if value == "" || value == "max" {
		return 0, false
	}
	limit, err := strconv.ParseUint(value, 10, 64)
	if err != nil || limit == 0 {
		return 0, false
	}
	return limit, true
}

// StaticSampler returns fixed percentages. Hosts with their own memory signal
// and tests set it directly.
type StaticSampler struct {
	mu   sync.Mutex
	snap Snapshot
	err  error
}

// NewStaticSampler creates a static sampler
func NewStaticSampler(renderPercent, heapPercent float64) *StaticSampler {
	s := &StaticSampler{}
	s.Set(renderPercent, heapPercent)
	return s
}

// Set changes the reported percentages
func (s *StaticSampler) Set(renderPercent, heapPercent float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = Snapshot{RenderPercent: renderPercent, HeapPercent: heapPercent}
	s.err = nil
}

// Fail makes the next samples return err
func (s *StaticSampler) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Sample implements Sampler
func (s *StaticSampler) Sample() (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return Snapshot{}, s.err
	}
	snap := s.snap
	snap.Time = time.Now()
	return snap, nil
}

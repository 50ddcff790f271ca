package debug

import (
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// Sample is one point-in-time measurement of the running process.
type Sample struct {
	Timestamp  time.Time `json:"timestamp"`
	RSSBytes   uint64    `json:"rss_bytes"`
	VMSBytes   uint64    `json:"vms_bytes"`
	CPUPercent float64   `json:"cpu_percent"`
}

// Report summarizes a run's performance.
type Report struct {
	TotalTime     time.Duration         `json:"total_time"`
	StepDurations map[int]time.Duration `json:"step_durations"`
	AvgRSSMB      float64               `json:"avg_rss_mb"`
	PeakRSSMB     float64               `json:"peak_rss_mb"`
	AvgCPUPercent float64               `json:"avg_cpu_percent"`
	SampleCount   int                   `json:"sample_count"`
}

// DefaultSampleInterval is the background resource sampling period.
const DefaultSampleInterval = time.Second

// PerformanceMetrics tracks wall-clock step timings and process resource
// samples across one flow run. Samples are taken on step boundaries and
// periodically from a background ticker while a run is in progress.
type PerformanceMetrics struct {
	mu        sync.Mutex
	proc      *process.Process
	interval  time.Duration
	stopCh    chan struct{}
	startTime time.Time
	endTime   time.Time
	steps     map[int]*stepTiming
	samples   []Sample
}

type stepTiming struct {
	start time.Time
	end   time.Time
}

// NewPerformanceMetrics returns a metrics tracker for the current process.
func NewPerformanceMetrics() *PerformanceMetrics {
	// Errors are deliberately dropped; a process that cannot introspect
	// itself still runs flows, just without resource samples.
	proc, _ := process.NewProcess(int32(os.Getpid()))
	return &PerformanceMetrics{
		proc:     proc,
		interval: DefaultSampleInterval,
		steps:    map[int]*stepTiming{},
	}
}

// SetSampleInterval adjusts the background sampling period. A non-positive
// interval disables periodic sampling; step boundary samples are still taken.
// Takes effect on the next Start.
func (m *PerformanceMetrics) SetSampleInterval(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interval = d
}

// Start resets the tracker and marks the beginning of a run.
func (m *PerformanceMetrics) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopSamplerLocked()
	m.startTime = time.Now()
	m.endTime = time.Time{}
	m.steps = map[int]*stepTiming{}
	m.samples = nil
	m.sampleLocked()
	if m.interval > 0 {
		m.stopCh = make(chan struct{})
		go m.sampleLoop(m.stopCh, m.interval)
	}
}

// Stop marks the end of a run and stops the background sampler.
func (m *PerformanceMetrics) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopSamplerLocked()
	m.endTime = time.Now()
	m.sampleLocked()
}

func (m *PerformanceMetrics) stopSamplerLocked() {
	if m.stopCh != nil {
		close(m.stopCh)
		m.stopCh = nil
	}
}

func (m *PerformanceMetrics) sampleLoop(stop <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.mu.Lock()
			m.sampleLocked()
			m.mu.Unlock()
		}
	}
}

// StartStep records the start time of a step.
func (m *PerformanceMetrics) StartStep(index int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps[index] = &stepTiming{start: time.Now()}
}

// StopStep records the end time of a step and takes a resource sample.
func (m *PerformanceMetrics) StopStep(index int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.steps[index]; ok {
		t.end = time.Now()
	}
	m.sampleLocked()
}

func (m *PerformanceMetrics) sampleLocked() {
	if m.proc == nil {
		return
	}
	s := Sample{Timestamp: time.Now()}
	if mem, err := m.proc.MemoryInfo(); err == nil && mem != nil {
		s.RSSBytes = mem.RSS
		s.VMSBytes = mem.VMS
	}
	if cpu, err := m.proc.CPUPercent(); err == nil {
		s.CPUPercent = cpu
	}
	m.samples = append(m.samples, s)
}

// Report returns the aggregated metrics for the run so far.
func (m *PerformanceMetrics) Report() Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := Report{StepDurations: map[int]time.Duration{}}
	end := m.endTime
	if end.IsZero() {
		end = time.Now()
	}
	if !m.startTime.IsZero() {
		r.TotalTime = end.Sub(m.startTime)
	}
	for index, t := range m.steps {
		stepEnd := t.end
		if stepEnd.IsZero() {
			stepEnd = end
		}
		r.StepDurations[index] = stepEnd.Sub(t.start)
	}
	r.SampleCount = len(m.samples)
	if len(m.samples) > 0 {
		var rssSum, cpuSum float64
		var peak uint64
		for _, s := range m.samples {
			rssSum += float64(s.RSSBytes)
			cpuSum += s.CPUPercent
			if s.RSSBytes > peak {
				peak = s.RSSBytes
			}
		}
		const mb = 1024 * 1024
		r.AvgRSSMB = rssSum / float64(len(m.samples)) / mb
		r.PeakRSSMB = float64(peak) / mb
		r.AvgCPUPercent = cpuSum / float64(len(m.samples))
	}
	return r
}

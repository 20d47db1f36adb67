// Package readiness infers the compute engine's state from passive signals:
// probe latency, GPU memory trend and queue depth.
package readiness

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/jonathan/content-pipeline/internal/comfy"
	"go.uber.org/zap"
)

// State is the inferred engine state.
type State string

// Engine states
const (
	StateOffline       State = "OFFLINE"
	StateStarting      State = "STARTING"
	StateLoadingModels State = "LOADING_MODELS"
	StateReady         State = "READY"
	StateDegraded      State = "DEGRADED"
)

// Classification thresholds
const (
	StartingLatency      = 10 * time.Second
	LoadingLatency       = 3 * time.Second
	MemoryJumpPoints     = 5.0
	MemoryJumpsToLoad    = 2
	MemoryJumpWindow     = 3
	DegradedQueueDepth   = 10
	DegradedMemoryPct    = 95.0
	DefaultHistorySize   = 5
	DefaultMaxBackoff    = 30 * time.Second
	DefaultProbeTimeout  = 15 * time.Second
	loadingProgressBase  = 20.0
	loadingProgressScale = 0.7
	loadingProgressCap   = 90
)

// EngineProbe is the passive signal source. comfy.Client satisfies it.
type EngineProbe interface {
	GetSystemStats(ctx context.Context) (*comfy.SystemStats, error)
	GetQueue(ctx context.Context) (*comfy.QueueStatus, error)
}

// Info is a snapshot of the monitor's view of the engine.
type Info struct {
	State              State     `json:"state"`
	LastCheck          time.Time `json:"last_check"`
	LatencyMs          int64     `json:"latency_ms"`
	MemoryUsagePercent float64   `json:"memory_usage_percent"`
	QueueSize          int       `json:"queue_size"`
	ModelLoadProgress  int       `json:"model_load_progress"`
	DeviceCount        int       `json:"device_count"`
	LastError          string    `json:"last_error,omitempty"`
}

// Signals are the inputs to Classify.
type Signals struct {
	Latency       time.Duration
	MemoryPercent float64
	// MemoryHistory holds recent memory samples, oldest first, including the current one.
	MemoryHistory []float64
	QueueSize     int
	DeviceCount   int
}

// Options configure a Monitor.
type Options struct {
	HistorySize  int
	MaxBackoff   time.Duration
	ProbeTimeout time.Duration
}

// Monitor tracks engine readiness. It is safe for concurrent use.
type Monitor struct {
	probe  EngineProbe
	opts   Options
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	info    Info
	history []float64

	pollMu   sync.Mutex
	pollStop chan struct{}
	pollDone chan struct{}
}

// NewMonitor creates a monitor in the OFFLINE state.
func NewMonitor(probe EngineProbe, opts Options, logger *zap.Logger) *Monitor {
	if opts.HistorySize <= 0 {
		opts.HistorySize = DefaultHistorySize
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = DefaultMaxBackoff
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = DefaultProbeTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		probe:  probe,
		opts:   opts,
		logger: logger,
		now:    time.Now,
		info:   Info{State: StateOffline},
	}
}

// Classify maps signals to a state. Rules are checked in order; the first match wins.
func Classify(s Signals) State {
	switch {
	case s.Latency > StartingLatency:
		return StateStarting
	case s.Latency > LoadingLatency:
		return StateLoadingModels
	case memoryJumps(s.MemoryHistory) >= MemoryJumpsToLoad:
		return StateLoadingModels
	case s.QueueSize > DegradedQueueDepth, s.MemoryPercent > DegradedMemoryPct, s.DeviceCount == 0:
		return StateDegraded
	default:
		return StateReady
	}
}

// memoryJumps counts the recent sample-to-sample increases larger than MemoryJumpPoints.
func memoryJumps(history []float64) int {
	start := len(history) - MemoryJumpWindow - 1
	if start < 0 {
		start = 0
	}
	jumps := 0
	for i := start + 1; i < len(history); i++ {
		if history[i]-history[i-1] > MemoryJumpPoints {
			jumps++
		}
	}
	return jumps
}

// CheckHealth probes the engine once and updates the snapshot. Probe failures
// yield OFFLINE; no error is returned. A probe cancelled by the caller leaves the state unchanged.
func (m *Monitor) CheckHealth(ctx context.Context) Info {
	start := m.now()
	stats, err := m.probe.GetSystemStats(ctx)
	latency := m.now().Sub(start)

	if err == nil && stats == nil {
		err = errors.New("empty system stats")
	}
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return m.Info()
		}
		return m.update(func(info *Info) {
			info.State = StateOffline
			info.LatencyMs = latency.Milliseconds()
			info.LastError = err.Error()
		})
	}

	memory := stats.MemoryUsagePercent()
	queueSize := 0
	if queue, qerr := m.probe.GetQueue(ctx); qerr != nil {
		m.logger.Warn("queue query failed, assuming empty queue", zap.Error(qerr))
	} else {
		queueSize = queue.Depth()
	}

	return m.update(func(info *Info) {
		m.history = append(m.history, memory)
		if len(m.history) > m.opts.HistorySize {
			m.history = m.history[len(m.history)-m.opts.HistorySize:]
		}
		info.State = Classify(Signals{
			Latency:       latency,
			MemoryPercent: memory,
			MemoryHistory: m.history,
			QueueSize:     queueSize,
			DeviceCount:   len(stats.Devices),
		})
		info.LatencyMs = latency.Milliseconds()
		info.MemoryUsagePercent = memory
		info.QueueSize = queueSize
		info.DeviceCount = len(stats.Devices)
		info.LastError = ""
	})
}

// update applies fn under the lock, stamps the check, logs transitions and returns the snapshot.
func (m *Monitor) update(fn func(info *Info)) Info {
	m.mu.Lock()
	previous := m.info.State
	fn(&m.info)
	m.info.LastCheck = m.now()
	m.info.ModelLoadProgress = estimateProgress(m.info.State, m.info.MemoryUsagePercent)
	snapshot := m.info
	m.mu.Unlock()

	if snapshot.State != previous {
		if previous == StateOffline {
			m.logger.Info("engine recovered", zap.String("state", string(snapshot.State)), zap.Int64("latency_ms", snapshot.LatencyMs))
		} else {
			m.logger.Info("engine state changed",
				zap.String("from", string(previous)),
				zap.String("to", string(snapshot.State)),
				zap.String("error", snapshot.LastError))
		}
	}
	return snapshot
}

// Info returns the latest snapshot.
func (m *Monitor) Info() Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.info
}

// State returns the latest inferred state.
func (m *Monitor) State() State {
	return m.Info().State
}

// EstimateModelLoadProgress maps the current state to a 0-100 progress estimate.
func (m *Monitor) EstimateModelLoadProgress() int {
	info := m.Info()
	return estimateProgress(info.State, info.MemoryUsagePercent)
}

func estimateProgress(state State, memory float64) int {
	switch state {
	case StateStarting:
		return 10
	case StateReady:
		return 100
	case StateLoadingModels:
		return min(loadingProgressCap, int(math.Round(loadingProgressBase+loadingProgressScale*memory)))
	case StateDegraded:
		return 75
	default:
		return 0
	}
}

// WaitForReady probes until the engine is READY (true) or ctx ends (false).
// While OFFLINE the interval doubles up to MaxBackoff; other states use interval.
func (m *Monitor) WaitForReady(ctx context.Context, interval time.Duration) bool {
	if interval <= 0 {
		interval = time.Second
	}
	backoff := interval
	for {
		info := m.CheckHealth(ctx)
		if info.State == StateReady {
			return true
		}
		wait := interval
		if info.State == StateOffline {
			wait = backoff
			backoff = min(backoff*2, m.opts.MaxBackoff)
		} else {
			backoff = interval
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	}
}

// StartPolling probes in the background every interval, replacing any running poller.
func (m *Monitor) StartPolling(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultProbeTimeout
	}
	m.pollMu.Lock()
	defer m.pollMu.Unlock()
	m.stopLocked()

	stop := make(chan struct{})
	done := make(chan struct{})
	m.pollStop, m.pollDone = stop, done

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			m.probeOnce(stop)
			select {
			case <-stop:
				return
			case <-ticker.C:
			}
		}
	}()
	m.logger.Debug("readiness polling started", zap.Duration("interval", interval))
}

// StopPolling stops the background poller. Safe to call when none is running.
func (m *Monitor) StopPolling() {
	m.pollMu.Lock()
	defer m.pollMu.Unlock()
	m.stopLocked()
}

// Polling reports whether a background poller is running.
func (m *Monitor) Polling() bool {
	m.pollMu.Lock()
	defer m.pollMu.Unlock()
	return m.pollStop != nil
}

func (m *Monitor) stopLocked() {
	if m.pollStop == nil {
		return
	}
	close(m.pollStop)
	<-m.pollDone
	m.pollStop, m.pollDone = nil, nil
}

func (m *Monitor) probeOnce(stop <-chan struct{}) {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.ProbeTimeout)
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()
	m.CheckHealth(ctx)
}

package sysmonitor

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Limits configures AdmissionGuard's static thresholds. All fields come
// from config.Config so the guard's behavior is environment-tunable
// without a redeploy.
type Limits struct {
	MaxSecureChannels int
	MaxSessions       int
	CPURejectPercent  float64 // refuse new channels/sessions above this
	CPUPausePercent   float64 // pause Publish processing above this
	MemoryLimitBytes  int64
	MaxGoroutines     int

	PublishRatePerSec float64 // Publish requests admitted per second, across all sessions
}

// AdmissionGuard enforces static resource limits on the operations that
// create long-lived state (OpenSecureChannel Issue, CreateSession) and
// rate-limits the operation that runs every event-loop tick (Publish),
// so a burst of Publish requests can't starve channel/session handling.
//
// Grounded on the teacher's ResourceGuard (src/resource_guard.go): same
// static-configuration philosophy (no auto-calculated limits), same
// split between a hard-reject check and a pause signal for backpressure,
// generalized from WebSocket connections/broadcasts to secure channels,
// sessions and Publish requests.
type AdmissionGuard struct {
	limits Limits
	logger zerolog.Logger
	cpu    *CPUMonitor

	publishLimiter *rate.Limiter

	currentChannels atomic.Int64
	currentSessions atomic.Int64
	currentCPU      atomic.Value // float64
	currentMemory   atomic.Value // int64
}

func NewAdmissionGuard(limits Limits, logger zerolog.Logger, cpu *CPUMonitor) *AdmissionGuard {
	burst := int(limits.PublishRatePerSec * 2)
	if burst < 1 {
		burst = 1
	}
	g := &AdmissionGuard{
		limits:         limits,
		logger:         logger,
		cpu:            cpu,
		publishLimiter: rate.NewLimiter(rate.Limit(limits.PublishRatePerSec), burst),
	}
	g.currentCPU.Store(0.0)
	g.currentMemory.Store(int64(0))
	return g
}

// ShouldAcceptChannel reports whether an OpenSecureChannel Issue request
// may proceed, per C3. Checked before the channel table's own capacity
// check so a CPU/memory emergency rejects before any state is allocated.
func (g *AdmissionGuard) ShouldAcceptChannel() (accept bool, reason string) {
	if n := g.currentChannels.Load(); n >= int64(g.limits.MaxSecureChannels) {
		g.logger.Warn().Int64("current", n).Int("max", g.limits.MaxSecureChannels).
			Msg("secure channel rejected: at max channels")
		return false, fmt.Sprintf("at max secure channels (%d)", g.limits.MaxSecureChannels)
	}
	return g.shouldAcceptUnderPressure("secure channel")
}

// ShouldAcceptSession reports whether a CreateSession request may
// proceed, per C5. The session table's own maxSessions eviction policy
// runs independently; this is the earlier, cheaper resource check.
func (g *AdmissionGuard) ShouldAcceptSession() (accept bool, reason string) {
	if n := g.currentSessions.Load(); n >= int64(g.limits.MaxSessions) {
		g.logger.Warn().Int64("current", n).Int("max", g.limits.MaxSessions).
			Msg("session rejected: at max sessions")
		return false, fmt.Sprintf("at max sessions (%d)", g.limits.MaxSessions)
	}
	return g.shouldAcceptUnderPressure("session")
}

func (g *AdmissionGuard) shouldAcceptUnderPressure(kind string) (accept bool, reason string) {
	cpuPct := g.currentCPU.Load().(float64)
	if cpuPct > g.limits.CPURejectPercent {
		g.logger.Warn().Float64("cpu", cpuPct).Float64("threshold", g.limits.CPURejectPercent).
			Msg(kind + " rejected: CPU overload")
		return false, fmt.Sprintf("CPU %.1f%% > %.1f%%", cpuPct, g.limits.CPURejectPercent)
	}
	memBytes := g.currentMemory.Load().(int64)
	if g.limits.MemoryLimitBytes > 0 && memBytes > g.limits.MemoryLimitBytes {
		g.logger.Warn().Int64("memory_mb", memBytes/(1024*1024)).
			Int64("limit_mb", g.limits.MemoryLimitBytes/(1024*1024)).
			Msg(kind + " rejected: memory limit exceeded")
		return false, "memory limit exceeded"
	}
	if goros := runtime.NumGoroutine(); goros > g.limits.MaxGoroutines {
		g.logger.Warn().Int("goroutines", goros).Int("max", g.limits.MaxGoroutines).
			Msg(kind + " rejected: goroutine limit exceeded")
		return false, fmt.Sprintf("goroutine limit exceeded (%d > %d)", goros, g.limits.MaxGoroutines)
	}
	return true, "OK"
}

// ShouldPausePublish signals backpressure on the publish engine's tick
// loop: when CPU is critically high, defer draining ready notifications
// rather than pushing more work onto an already saturated process.
func (g *AdmissionGuard) ShouldPausePublish() bool {
	return g.currentCPU.Load().(float64) > g.limits.CPUPausePercent
}

// AllowPublish rate-limits admission of new Publish requests across all
// sessions, independent of the per-session Matcher queue cap: it exists
// to protect the event loop itself from a thundering herd of clients
// all issuing Publish at once.
func (g *AdmissionGuard) AllowPublish() bool {
	return g.publishLimiter.Allow()
}

// ChannelOpened/ChannelClosed/SessionCreated/SessionClosed track the
// live counts ShouldAcceptChannel/ShouldAcceptSession check against.
func (g *AdmissionGuard) ChannelOpened() { g.currentChannels.Add(1) }
func (g *AdmissionGuard) ChannelClosed() { g.currentChannels.Add(-1) }
func (g *AdmissionGuard) SessionCreated() { g.currentSessions.Add(1) }
func (g *AdmissionGuard) SessionClosed()  { g.currentSessions.Add(-1) }

// UpdateResources refreshes the CPU/memory snapshot the accept checks
// read. Call this from the same periodic collector that drives
// metrics.Collector.
func (g *AdmissionGuard) UpdateResources() {
	if g.cpu != nil {
		if pct, _, err := g.cpu.GetPercent(); err == nil {
			g.currentCPU.Store(pct)
		}
	}
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	g.currentMemory.Store(int64(mem.Alloc))
}

// StartMonitoring runs UpdateResources on a ticker until stop fires.
func (g *AdmissionGuard) StartMonitoring(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				g.UpdateResources()
			case <-stop:
				return
			}
		}
	}()
}

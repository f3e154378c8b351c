// Package metrics exposes the server's Prometheus instrumentation.
//
// Grounded on the teacher's root-level metrics.go: same registration
// pattern (package-level vars registered in init, a periodic
// MetricsCollector), regrouped from WebSocket/Kafka concerns to secure
// channel (C3), session (C5) and subscription-engine (C6/C7/C8)
// concerns.
package metrics

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ChannelsOpened = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "opcua_secure_channels_opened_total",
		Help: "Total number of secure channels opened (Issue)",
	})
	ChannelsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "opcua_secure_channels_active",
		Help: "Current number of open secure channels",
	})
	ChannelsRenewed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "opcua_secure_channels_renewed_total",
		Help: "Total number of secure channel token renewals",
	})
	ChannelFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "opcua_secure_channel_failures_total",
		Help: "Secure channel validation failures by status code",
	}, []string{"status"})

	SessionsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "opcua_sessions_created_total",
		Help: "Total number of sessions created",
	})
	SessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "opcua_sessions_active",
		Help: "Current number of sessions (New or Active)",
	})
	SessionsEvicted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "opcua_sessions_evicted_total",
		Help: "Total number of sessions evicted to admit a new one",
	})
	SessionsExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "opcua_sessions_expired_total",
		Help: "Total number of sessions closed by the timeout watchdog",
	})

	SubscriptionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "opcua_subscriptions_active",
		Help: "Current number of subscriptions, including orphaned ones",
	})
	SubscriptionsOrphaned = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "opcua_subscriptions_orphaned",
		Help: "Current number of subscriptions detached from a closed session",
	})
	MonitoredItemsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "opcua_monitored_items_active",
		Help: "Current number of monitored items across all subscriptions",
	})
	NotificationsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "opcua_notifications_sent_total",
		Help: "Total number of NotificationMessages delivered via Publish",
	})
	QueueOverflows = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "opcua_monitored_item_queue_overflows_total",
		Help: "Total number of MonitoredItem ring-queue overflow events",
	})
	PublishRequestsQueued = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "opcua_publish_requests_queued",
		Help: "Current number of parked Publish requests across all sessions",
	})
	PublishRequestsRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "opcua_publish_requests_rejected_total",
		Help: "Total number of Publish requests rejected with Bad_TooManyPublishRequests",
	})

	MemoryUsageBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "opcua_memory_bytes",
		Help: "Current process memory usage in bytes",
	})
	MemoryLimitBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "opcua_memory_limit_bytes",
		Help: "Memory limit in bytes, from cgroup when containerized",
	})
	CPUUsagePercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "opcua_cpu_usage_percent",
		Help: "Current CPU usage percentage",
	})
	GoroutinesActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "opcua_goroutines_active",
		Help: "Current number of active goroutines",
	})

	AdmissionRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "opcua_admission_rejections_total",
		Help: "Requests rejected by the resource admission guard, by reason",
	}, []string{"reason"})

	ServiceErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "opcua_service_errors_total",
		Help: "Service invocation errors by service name and status code",
	}, []string{"service", "status"})
)

func init() {
	prometheus.MustRegister(
		ChannelsOpened, ChannelsActive, ChannelsRenewed, ChannelFailures,
		SessionsCreated, SessionsActive, SessionsEvicted, SessionsExpired,
		SubscriptionsActive, SubscriptionsOrphaned, MonitoredItemsActive,
		NotificationsSent, QueueOverflows, PublishRequestsQueued, PublishRequestsRejected,
		MemoryUsageBytes, MemoryLimitBytes, CPUUsagePercent, GoroutinesActive,
		AdmissionRejections, ServiceErrors,
	)
}

// Collector periodically samples process-wide gauges that aren't
// naturally pushed by an event (memory, goroutine count).
type Collector struct {
	interval   time.Duration
	cpuPercent func() float64
	memLimit   func() (int64, error)
	stop       chan struct{}
}

func NewCollector(interval time.Duration, cpuPercent func() float64, memLimit func() (int64, error)) *Collector {
	return &Collector{interval: interval, cpuPercent: cpuPercent, memLimit: memLimit, stop: make(chan struct{})}
}

func (c *Collector) Start() {
	if limit, err := c.memLimit(); err == nil && limit > 0 {
		MemoryLimitBytes.Set(float64(limit))
	}
	ticker := time.NewTicker(c.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stop:
				return
			}
		}
	}()
}

func (c *Collector) Stop() { close(c.stop) }

func (c *Collector) collect() {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	MemoryUsageBytes.Set(float64(mem.Alloc))
	GoroutinesActive.Set(float64(runtime.NumGoroutine()))
	if c.cpuPercent != nil {
		CPUUsagePercent.Set(c.cpuPercent())
	}
}

// Handler serves the Prometheus exposition format.
func Handler() http.Handler { return promhttp.Handler() }

// Package sysmonitor provides container-aware resource measurement and
// the admission guard that rejects new secure channels/sessions when
// the process is under CPU or memory pressure (spec.md §5 ambient
// concern: the server core must not melt down when overloaded).
//
// Grounded on ws/internal/single/platform/cgroup_cpu.go: same cgroup
// v1/v2 detection and gopsutil fallback, carried over near verbatim
// since the measurement technique is orthogonal to WebSocket vs OPC UA.
package sysmonitor

import (
	"bufio"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
)

// ThrottleStats reports cgroup CFS throttling counters.
type ThrottleStats struct {
	NrPeriods    uint64
	NrThrottled  uint64
	ThrottledSec float64
}

// ContainerCPU reads CPU usage directly from cgroup accounting files,
// giving a percentage relative to the container's own quota rather
// than the host's core count.
type ContainerCPU struct {
	mu               sync.RWMutex
	lastCPUUsec      uint64
	lastSampleTime   time.Time
	cgroupVersion    int
	cgroupPath       string
	cpuQuota         int64
	cpuPeriod        int64
	numCPUsAllocated float64
	lastThrottle     ThrottleStats
}

func NewContainerCPU() (*ContainerCPU, error) {
	cc := &ContainerCPU{lastSampleTime: time.Now()}

	path, version, err := detectCgroupPath()
	if err != nil {
		return nil, fmt.Errorf("detect cgroup: %w", err)
	}
	cc.cgroupPath, cc.cgroupVersion = path, version

	quota, period, err := readCPUQuota(path, version)
	if err != nil {
		return nil, fmt.Errorf("read cpu quota: %w", err)
	}
	cc.cpuQuota, cc.cpuPeriod = quota, period
	if quota > 0 && period > 0 {
		cc.numCPUsAllocated = float64(quota) / float64(period)
	} else {
		cc.numCPUsAllocated = float64(runtime.NumCPU())
	}

	usage, err := readCPUUsage(path, version)
	if err != nil {
		return nil, fmt.Errorf("read initial cpu usage: %w", err)
	}
	cc.lastCPUUsec = usage
	if throttle, err := readThrottleStats(path, version); err == nil {
		cc.lastThrottle = throttle
	}
	return cc, nil
}

// GetPercent returns CPU usage as a percentage of the allocated quota.
func (cc *ContainerCPU) GetPercent() (float64, ThrottleStats, error) {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	now := time.Now()
	timeDeltaUsec := now.Sub(cc.lastSampleTime).Microseconds()
	if timeDeltaUsec == 0 {
		return 0, ThrottleStats{}, fmt.Errorf("time delta too small")
	}

	currentUsec, err := readCPUUsage(cc.cgroupPath, cc.cgroupVersion)
	if err != nil {
		return 0, ThrottleStats{}, err
	}
	usageDelta := currentUsec - cc.lastCPUUsec
	rawPercent := (float64(usageDelta) / float64(timeDeltaUsec)) * 100.0
	percent := rawPercent / cc.numCPUsAllocated

	var throttled ThrottleStats
	if current, err := readThrottleStats(cc.cgroupPath, cc.cgroupVersion); err == nil {
		throttled = ThrottleStats{
			NrPeriods:    current.NrPeriods - cc.lastThrottle.NrPeriods,
			NrThrottled:  current.NrThrottled - cc.lastThrottle.NrThrottled,
			ThrottledSec: current.ThrottledSec - cc.lastThrottle.ThrottledSec,
		}
		cc.lastThrottle = current
	}

	cc.lastCPUUsec = currentUsec
	cc.lastSampleTime = now
	return percent, throttled, nil
}

func (cc *ContainerCPU) GetAllocation() float64 {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	return cc.numCPUsAllocated
}

func detectCgroupPath() (path string, version int, err error) {
	file, err := os.Open("/proc/self/cgroup")
	if err != nil {
		return "", 0, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		parts := strings.Split(scanner.Text(), ":")
		if len(parts) != 3 {
			continue
		}
		if parts[0] == "0" && parts[1] == "" {
			return "/sys/fs/cgroup" + parts[2], 2, nil
		}
		if strings.Contains(parts[1], "cpu") {
			return "/sys/fs/cgroup/cpu" + parts[2], 1, nil
		}
	}
	return "", 0, fmt.Errorf("could not detect cgroup path")
}

func readCPUQuota(path string, version int) (quota, period int64, err error) {
	if version == 2 {
		data, err := os.ReadFile(path + "/cpu.max")
		if err != nil {
			return 0, 0, err
		}
		fields := strings.Fields(string(data))
		if len(fields) != 2 {
			return 0, 0, fmt.Errorf("unexpected cpu.max format: %s", data)
		}
		if fields[0] == "max" {
			return -1, 0, nil
		}
		quota, err = strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return 0, 0, err
		}
		period, err = strconv.ParseInt(fields[1], 10, 64)
		return quota, period, err
	}

	quotaData, err := os.ReadFile(path + "/cpu.cfs_quota_us")
	if err != nil {
		return 0, 0, err
	}
	periodData, err := os.ReadFile(path + "/cpu.cfs_period_us")
	if err != nil {
		return 0, 0, err
	}
	quota, err = strconv.ParseInt(strings.TrimSpace(string(quotaData)), 10, 64)
	if err != nil {
		return 0, 0, err
	}
	period, err = strconv.ParseInt(strings.TrimSpace(string(periodData)), 10, 64)
	return quota, period, err
}

func readCPUUsage(path string, version int) (uint64, error) {
	if version == 2 {
		file, err := os.Open(path + "/cpu.stat")
		if err != nil {
			return 0, err
		}
		defer file.Close()
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			if fields := strings.Fields(scanner.Text()); len(fields) == 2 && fields[0] == "usage_usec" {
				return strconv.ParseUint(fields[1], 10, 64)
			}
		}
		return 0, fmt.Errorf("usage_usec not found in cpu.stat")
	}

	data, err := os.ReadFile(path + "/cpuacct.usage")
	if err != nil {
		return 0, err
	}
	nsec, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	return nsec / 1000, err
}

func readThrottleStats(path string, version int) (ThrottleStats, error) {
	var stats ThrottleStats
	file, err := os.Open(path + "/cpu.stat")
	if err != nil {
		return stats, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 2 {
			continue
		}
		value, _ := strconv.ParseUint(fields[1], 10, 64)
		switch fields[0] {
		case "nr_periods":
			stats.NrPeriods = value
		case "nr_throttled":
			stats.NrThrottled = value
		case "throttled_usec":
			stats.ThrottledSec = float64(value) / 1e6
		case "throttled_time":
			stats.ThrottledSec = float64(value) / 1e9
		}
	}
	return stats, nil
}

// CPUMonitor measures CPU usage relative to the container's own
// allocation when running under cgroups, falling back to gopsutil's
// host-wide measurement otherwise.
type CPUMonitor struct {
	mode         string
	containerCPU *ContainerCPU
	logger       zerolog.Logger
}

func NewCPUMonitor(logger zerolog.Logger) *CPUMonitor {
	containerCPU, err := NewContainerCPU()
	if err == nil {
		logger.Info().
			Float64("cpus_allocated", containerCPU.GetAllocation()).
			Msg("using container-aware CPU measurement")
		return &CPUMonitor{mode: "container", containerCPU: containerCPU, logger: logger}
	}
	logger.Warn().Err(err).Msg("falling back to host CPU measurement")
	return &CPUMonitor{mode: "host", logger: logger}
}

func (cm *CPUMonitor) GetPercent() (float64, ThrottleStats, error) {
	if cm.mode == "container" {
		return cm.containerCPU.GetPercent()
	}
	percents, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		return 0, ThrottleStats{}, err
	}
	if len(percents) == 0 {
		return 0, ThrottleStats{}, fmt.Errorf("no CPU data")
	}
	return percents[0], ThrottleStats{}, nil
}

func (cm *CPUMonitor) GetAllocation() float64 {
	if cm.mode == "container" {
		return cm.containerCPU.GetAllocation()
	}
	return float64(runtime.NumCPU())
}

func (cm *CPUMonitor) Mode() string { return cm.mode }

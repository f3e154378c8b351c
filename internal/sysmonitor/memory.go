package sysmonitor

import (
	"os"
	"strconv"
	"strings"
)

// MemoryLimit returns the container memory limit in bytes, from cgroup
// v2 (memory.max) or v1 (memory.limit_in_bytes). Returns 0 when no
// limit is detected (bare metal, VM, unconstrained container).
//
// Grounded on the teacher's getMemoryLimit (root cgroup.go).
func MemoryLimit() (int64, error) {
	if data, err := os.ReadFile("/sys/fs/cgroup/memory.max"); err == nil {
		limit := strings.TrimSpace(string(data))
		if limit != "max" {
			return strconv.ParseInt(limit, 10, 64)
		}
		return 0, nil
	}
	if data, err := os.ReadFile("/sys/fs/cgroup/memory/memory.limit_in_bytes"); err == nil {
		return strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	}
	return 0, nil
}

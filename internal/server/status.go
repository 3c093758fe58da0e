package server

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	log "github.com/sirupsen/logrus"
)

// SystemStats carries current system and application statistics.
type SystemStats struct {
	NumCPU      int     `json:"num_cpu"`
	GoRoutines  int     `json:"go_routines"`
	CPUUsage    float64 `json:"cpu_usage"`
	MemoryUsed  uint64  `json:"memory_used"`
	MemoryTotal uint64  `json:"memory_total"`
	HeapAlloc   uint64  `json:"heap_alloc"`

	UptimeSeconds float64   `json:"uptime_seconds"`
	Timestamp     time.Time `json:"timestamp"`
}

func (s *Server) handleSystemStatus(c *gin.Context) {
	stats := SystemStats{
		NumCPU:        runtime.NumCPU(),
		GoRoutines:    runtime.NumGoroutine(),
		UptimeSeconds: time.Since(s.started).Seconds(),
		Timestamp:     time.Now(),
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	stats.HeapAlloc = memStats.HeapAlloc

	if percentages, err := cpu.Percent(0, false); err == nil && len(percentages) > 0 {
		stats.CPUUsage = percentages[0]
	} else if err != nil {
		log.WithFields(logFields).Debugf("CPU usage unavailable: %v", err)
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		stats.MemoryUsed = vm.Used
		stats.MemoryTotal = vm.Total
	}

	c.JSON(http.StatusOK, gin.H{
		"system": stats,
		"kiosk":  s.ctrl.Snapshot(),
	})
}

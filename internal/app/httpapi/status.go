package httpapi

import (
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/lenslab/vision-gateway/pkg/status"
)

func (h *handler) status(w http.ResponseWriter, _ *http.Request) {
	version := h.build.Version
	if version == "" {
		version = "dev"
	}
	writeJSON(w, http.StatusOK, status.Status{
		Service:   "vision-gateway",
		Version:   version,
		Commit:    h.build.Commit,
		BuildTime: h.build.BuildTime,
		StartedAt: h.started,
		UptimeSec: int64(time.Since(h.started).Seconds()),
		Providers: h.providers(),
		Host:      hostStats(),
		Process:   processStats(),
	})
}

// hostStats collects machine stats. A probe failure omits the section rather
// than failing the endpoint.
func hostStats() *status.HostStats {
	info, err := host.Info()
	if err != nil {
		return nil
	}
	stats := &status.HostStats{
		Hostname: info.Hostname,
		OS:       info.OS,
		Platform: info.Platform,
	}
	if count, err := cpu.Counts(true); err == nil {
		stats.CPUCount = count
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		stats.MemoryTotal = vm.Total
		stats.MemoryUsedPct = vm.UsedPercent
	}
	return stats
}

func processStats() *status.ProcessStats {
	stats := &status.ProcessStats{
		PID:        int32(os.Getpid()),
		Goroutines: runtime.NumGoroutine(),
		GoVersion:  runtime.Version(),
		NumCPU:     runtime.NumCPU(),
	}
	if proc, err := process.NewProcess(stats.PID); err == nil {
		if info, err := proc.MemoryInfo(); err == nil && info != nil {
			stats.MemoryRSS = info.RSS
		}
	}
	return stats
}

package httpapi

import (
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/R3E-Network/provenance_layer/internal/httputil"
)

// SystemStatus is the body of GET /system/status.
type SystemStatus struct {
	Uptime         string   `json:"uptime"`
	StorageDriver  string   `json:"storage_driver"`
	Services       []string `json:"services"`
	BufferedEvents int      `json:"buffered_events"`
	Goroutines     int      `json:"goroutines"`
	Host           HostStat `json:"host"`
}

// HostStat is best effort; fields stay zero when the platform does not
// expose them.
type HostStat struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	MemoryTotal   uint64  `json:"memory_total"`
	ProcessRSS    uint64  `json:"process_rss"`
}

func (h *handler) systemStatus(w http.ResponseWriter, r *http.Request) {
	status := SystemStatus{
		Uptime:         time.Since(h.started).Round(time.Second).String(),
		StorageDriver:  h.app.Config.Storage.Driver,
		Services:       h.app.Services(),
		BufferedEvents: h.app.Events.Count(),
		Goroutines:     runtime.NumGoroutine(),
		Host:           hostStat(r),
	}
	httputil.WriteJSON(w, http.StatusOK, status)
}

func hostStat(r *http.Request) HostStat {
	var stat HostStat
	ctx := r.Context()
	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		stat.CPUPercent = pct[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		stat.MemoryPercent = vm.UsedPercent
		stat.MemoryTotal = vm.Total
	}
	if proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid())); err == nil {
		if info, err := proc.MemoryInfoWithContext(ctx); err == nil {
			stat.ProcessRSS = info.RSS
		}
	}
	return stat
}

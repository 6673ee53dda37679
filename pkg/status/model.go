// Package status provides the wire types of the operational status
// endpoint. They live outside internal/ so clients and tooling can decode
// the response.
package status

import "time"

// BuildInfo identifies the running binary. Values are injected at link time.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildTime string `json:"build_time,omitempty"`
}

// HostStats summarises the machine the gateway runs on.
type HostStats struct {
	Hostname      string  `json:"hostname"`
	OS            string  `json:"os"`
	Platform      string  `json:"platform"`
	CPUCount      int     `json:"cpu_count"`
	MemoryTotal   uint64  `json:"memory_total_bytes"`
	MemoryUsedPct float64 `json:"memory_used_percent"`
}

// ProcessStats summarises the gateway process itself.
type ProcessStats struct {
	PID        int32  `json:"pid"`
	Goroutines int    `json:"goroutines"`
	MemoryRSS  uint64 `json:"memory_rss_bytes"`
	GoVersion  string `json:"go_version"`
	NumCPU     int    `json:"num_cpu"`
}

// Status is the full status document.
type Status struct {
	Service   string          `json:"service"`
	Version   string          `json:"version"`
	Commit    string          `json:"commit,omitempty"`
	BuildTime string          `json:"build_time,omitempty"`
	StartedAt time.Time       `json:"started_at"`
	UptimeSec int64           `json:"uptime_seconds"`
	Providers map[string]bool `json:"providers"`
	Host      *HostStats      `json:"host,omitempty"`
	Process   *ProcessStats   `json:"process,omitempty"`
}

// Package health reports the orchestrator process's own vitals for the
// health endpoint.
package health

import (
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

type Reporter struct {
	proc  *process.Process
	start time.Time
}

type Status struct {
	Status         string  `json:"status"`
	UptimeSeconds  int64   `json:"uptimeSeconds"`
	ActiveSessions int     `json:"activeSessions"`
	Observers      int     `json:"observers"`
	CPUPercent     float64 `json:"cpuPercent"`
	MemoryMB       float64 `json:"memoryMb"`
	Goroutines     int     `json:"goroutines"`
}

func NewReporter() *Reporter {
	r := &Reporter{start: time.Now()}
	// Process stats are best-effort; a lookup failure just leaves the CPU
	// and memory fields at zero.
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		r.proc = p
	}
	return r
}

func (r *Reporter) Status(activeSessions, observers int) Status {
	st := Status{
		Status:         "ok",
		UptimeSeconds:  int64(time.Since(r.start).Seconds()),
		ActiveSessions: activeSessions,
		Observers:      observers,
		Goroutines:     runtime.NumGoroutine(),
	}
	if r.proc != nil {
		if cpu, err := r.proc.CPUPercent(); err == nil {
			st.CPUPercent = cpu
		}
		if mem, err := r.proc.MemoryInfo(); err == nil {
			st.MemoryMB = float64(mem.RSS) / (1024 * 1024)
		}
	}
	return st
}

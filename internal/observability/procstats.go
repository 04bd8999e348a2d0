// Package observability samples gopsutil process stats into the
// Prometheus gauges of pkg/metrics; cmd/markov starts it alongside its
// SwitchTo loop. Sampling is grounded on the teacher's
// execution/cost.UsageTracker monitor-goroutine shape, repurposed from
// per-execution CPU/network accounting to a single process-wide RSS
// gauge sampled on a fixed interval.
package observability

import (
	"context"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/distgrid/distgrid/pkg/logger"
	"github.com/distgrid/distgrid/pkg/metrics"
)

// SampleRSS starts a goroutine that samples this process's resident set
// size into distgrid_process_rss_bytes every interval, labeled by group,
// until ctx is done. It is safe to call once per process per group.
func SampleRSS(ctx context.Context, group string, interval time.Duration, log logger.Logger) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		log.Warn("observability: could not open self process handle", "error", err)
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				info, err := proc.MemoryInfo()
				if err != nil {
					continue
				}
				metrics.ProcessRSSBytes.WithLabelValues(group).Set(float64(info.RSS))
			}
		}
	}()
}

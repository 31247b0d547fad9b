package metrics

import (
	"time"

	"github.com/lufia/iostat"

	"github.com/cea-hpc/lhsm-coordinator/clog"
)

// SampleDiskStats runs until stop is closed, summing read/write bytes
// across all drives lufia/iostat can see every interval and pushing the
// totals into r. The coordinator's state/reporting directories live on
// whichever mount backs the process, so a per-device filter isn't worth
// the platform-specific plumbing; this is a coarse "is the box doing disk
// I/O" signal, not per-volume accounting.
func SampleDiskStats(r *Registry, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			stats, err := iostat.ReadDriveStats()
			if err != nil {
				clog.Warnf("diskstats sample failed: %v", err)
				continue
			}
			var readBytes, writeBytes uint64
			for _, d := range stats {
				readBytes += d.BytesRead
				writeBytes += d.BytesWritten
			}
			r.SetDiskStats(readBytes, writeBytes)
		}
	}
}

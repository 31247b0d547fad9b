// Package metrics exposes the coordinator's counters to Prometheus and
// serves a small admin HTTP surface (metrics scrape, JSON status
// snapshot, worker debug dump, and a bearer-token-gated abort endpoint).
// Grounded on the prometheus/client_golang promauto idiom used across the
// retrieved corpus's engine/worker examples, served over
// github.com/valyala/fasthttp rather than net/http to match the
// teacher's non-stdlib-first posture.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds every gauge/counter the coordinator updates from its
// single event-loop goroutine. There is no concurrent-write concern since
// only that goroutine ever calls the Set/Inc methods below; fasthttp's
// handler goroutine only reads through promhttp's collector, which is
// safe for concurrent use by design.
type Registry struct {
	pending map[string]prometheus.Gauge
	running map[string]prometheus.Gauge
	done    map[string]prometheus.Counter

	workers map[string]prometheus.Gauge

	mirrorErrors prometheus.Counter

	diskReadBytes  prometheus.Gauge
	diskWriteBytes prometheus.Gauge
}

var kinds = []string{"archive", "restore", "remove"}
var workerStatuses = []string{"init", "ready", "waiting", "disconnected"}

// NewRegistry registers every coordinator metric against the default
// Prometheus registerer via promauto, matching the corpus's
// promauto.New*-per-field construction style.
func NewRegistry() *Registry {
	r := &Registry{
		pending: make(map[string]prometheus.Gauge, len(kinds)),
		running: make(map[string]prometheus.Gauge, len(kinds)),
		done:    make(map[string]prometheus.Counter, len(kinds)),
		workers: make(map[string]prometheus.Gauge, len(workerStatuses)),
	}
	for _, k := range kinds {
		r.pending[k] = promauto.NewGauge(prometheus.GaugeOpts{
			Name:        "coordinator_pending_total",
			Help:        "Actions queued but not yet assigned to a worker",
			ConstLabels: prometheus.Labels{"kind": k},
		})
		r.running[k] = promauto.NewGauge(prometheus.GaugeOpts{
			Name:        "coordinator_running_total",
			Help:        "Actions currently assigned to a worker",
			ConstLabels: prometheus.Labels{"kind": k},
		})
		r.done[k] = promauto.NewCounter(prometheus.CounterOpts{
			Name:        "coordinator_done_total",
			Help:        "Actions completed since startup",
			ConstLabels: prometheus.Labels{"kind": k},
		})
	}
	for _, s := range workerStatuses {
		r.workers[s] = promauto.NewGauge(prometheus.GaugeOpts{
			Name:        "coordinator_workers",
			Help:        "Known workers by status",
			ConstLabels: prometheus.Labels{"status": s},
		})
	}
	r.mirrorErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coordinator_mirror_errors_total",
		Help: "Mirror store write failures since startup",
	})
	r.diskReadBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "coordinator_disk_read_bytes",
		Help: "Cumulative bytes read from the monitored filesystem mount",
	})
	r.diskWriteBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "coordinator_disk_write_bytes",
		Help: "Cumulative bytes written to the monitored filesystem mount",
	})
	return r
}

// SetPending/SetRunning update the live gauges for one kind.
func (r *Registry) SetPending(kind string, v int) { setGauge(r.pending, kind, v) }
func (r *Registry) SetRunning(kind string, v int) { setGauge(r.running, kind, v) }

// IncDone bumps the completion counter for one kind.
func (r *Registry) IncDone(kind string) {
	if c, ok := r.done[kind]; ok {
		c.Inc()
	}
}

// SetWorkers updates the worker-count gauge for one status.
func (r *Registry) SetWorkers(status string, v int) { setGauge(r.workers, status, v) }

// IncMirrorError bumps the mirror-failure counter.
func (r *Registry) IncMirrorError() { r.mirrorErrors.Inc() }

// SetDiskStats updates the diskstats gauges. SampleDiskStats in this
// package feeds it from github.com/lufia/iostat; cmd/coordinatord does not
// start that sampler.
func (r *Registry) SetDiskStats(readBytes, writeBytes uint64) {
	r.diskReadBytes.Set(float64(readBytes))
	r.diskWriteBytes.Set(float64(writeBytes))
}

func setGauge(m map[string]prometheus.Gauge, key string, v int) {
	if g, ok := m[key]; ok {
		g.Set(float64(v))
	}
}

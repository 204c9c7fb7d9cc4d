package main

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/miretskiy/flashsim/simulator"
)

var (
	// Prometheus metrics (gauges)
	promMetrics = struct {
		writeAmp       prometheus.Gauge
		freePages      prometheus.Gauge
		availablePages prometheus.Gauge
		logBlocks      prometheus.Gauge
		erases         prometheus.Gauge
		switchMerges   prometheus.Gauge
		seqMerges      prometheus.Gauge
		randMerges     prometheus.Gauge
		gcMigrations   prometheus.Gauge
		ageSpread      prometheus.Gauge
	}{
		writeAmp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flashsim_write_amplification",
			Help: "Physical writes per user write",
		}),
		freePages: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flashsim_free_pages",
			Help: "Pages in state FREE",
		}),
		availablePages: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flashsim_available_pages",
			Help: "Free pages not reserved by in-flight GC",
		}),
		logBlocks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flashsim_log_blocks_in_use",
			Help: "Random log blocks currently allocated",
		}),
		erases: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flashsim_erases_total",
			Help: "Block erases completed",
		}),
		switchMerges: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flashsim_switch_merges_total",
			Help: "Switch operations (zero-copy log promotions)",
		}),
		seqMerges: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flashsim_sequential_merges_total",
			Help: "Sequential log merges",
		}),
		randMerges: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flashsim_random_merges_total",
			Help: "Random log merges",
		}),
		gcMigrations: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flashsim_gc_migrations_total",
			Help: "Pages migrated by garbage collection",
		}),
		ageSpread: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flashsim_age_spread",
			Help: "Difference between maximum and minimum block erase counts",
		}),
	}
)

func initPrometheusMetrics() {
	prometheus.MustRegister(
		promMetrics.writeAmp,
		promMetrics.freePages,
		promMetrics.availablePages,
		promMetrics.logBlocks,
		promMetrics.erases,
		promMetrics.switchMerges,
		promMetrics.seqMerges,
		promMetrics.randMerges,
		promMetrics.gcMigrations,
		promMetrics.ageSpread,
	)
}

func updatePrometheusMetrics(metrics *simulator.Metrics) {
	promMetrics.writeAmp.Set(metrics.WriteAmplification())
	promMetrics.freePages.Set(float64(metrics.FreePages))
	promMetrics.availablePages.Set(float64(metrics.AvailablePages))
	promMetrics.logBlocks.Set(float64(metrics.LogBlocksInUse))
	promMetrics.erases.Set(float64(metrics.Erases))
	promMetrics.switchMerges.Set(float64(metrics.SwitchMerges))
	promMetrics.seqMerges.Set(float64(metrics.SequentialMerges))
	promMetrics.randMerges.Set(float64(metrics.RandomMerges))
	promMetrics.gcMigrations.Set(float64(metrics.GCMigrations))
	promMetrics.ageSpread.Set(float64(metrics.MaxAge - metrics.MinAge))
}

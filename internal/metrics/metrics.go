// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package metrics exposes acquisition and analysis state to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relabs-tech/vibration_node/internal/acquisition"
	"github.com/relabs-tech/vibration_node/internal/vibration"
)

const namespace = "vibration"

// Metrics holds the node's collectors. A nil *Metrics is a no-op.
type Metrics struct {
	gatherer prometheus.Gatherer

	analysisDuration prometheus.Histogram
	axis             *prometheus.GaugeVec
	spectrum         *prometheus.GaugeVec
	calibration      prometheus.Gauge
	snapshots        prometheus.Counter
	reportErrors     *prometheus.CounterVec
}

// New registers the collectors on reg. stats is polled at scrape time for
// the acquisition counters.
func New(reg *prometheus.Registry, stats func() acquisition.Stats) *Metrics {
	m := &Metrics{
		gatherer: reg,
		analysisDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_duration_seconds",
			Help:      "Time to extract features from one window.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		axis: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "axis_feature",
			Help:      "Time-domain features of the last window in g (kurtosis dimensionless).",
		}, []string{"axis", "feature"}),
		spectrum: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "z_feature",
			Help:      "Z-axis spectral, envelope and velocity features of the last window.",
		}, []string{"feature"}),
		calibration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "calibration_offset_g",
			Help:      "Accumulated Z calibration offset.",
		}),
		snapshots: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "waveform_snapshots_total",
			Help:      "Waveform snapshots published.",
		}),
		reportErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "report_errors_total",
			Help:      "Failed report deliveries by sink.",
		}, []string{"sink"}),
	}

	counter := func(name, help string, get func(acquisition.Stats) uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "acquisition",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(get(stats())) })
	}

	reg.MustRegister(
		m.analysisDuration,
		m.axis,
		m.spectrum,
		m.calibration,
		m.snapshots,
		m.reportErrors,
		counter("transfers_total", "Burst transfers started.", func(s acquisition.Stats) uint64 { return s.Transfers }),
		counter("transfer_faults_total", "Burst transfers that timed out or failed.", func(s acquisition.Stats) uint64 { return s.TransferFaults }),
		counter("windows_published_total", "Complete windows handed to analysis.", func(s acquisition.Stats) uint64 { return s.Published }),
		counter("resets_total", "Reset requests applied.", func(s acquisition.Stats) uint64 { return s.Resets }),
		counter("overruns_total", "Windows dropped because analysis still held the previous one.", func(s acquisition.Stats) uint64 { return s.Overruns }),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveAnalysis records one extraction.
func (m *Metrics) ObserveAnalysis(d time.Duration, f vibration.Features) {
	if m == nil {
		return
	}
	m.analysisDuration.Observe(d.Seconds())

	for name, a := range map[string]vibration.AxisFeatures{"x": f.X, "y": f.Y, "z": f.Z.AxisFeatures} {
		m.axis.WithLabelValues(name, "mean").Set(a.Mean)
		m.axis.WithLabelValues(name, "rms").Set(a.RMS)
		m.axis.WithLabelValues(name, "peak_to_peak").Set(a.PeakToPeak)
		m.axis.WithLabelValues(name, "kurtosis").Set(a.Kurtosis)
	}
	z := f.Z
	m.spectrum.WithLabelValues("gravity_compensated_mean").Set(z.GravityCompensatedMean)
	m.spectrum.WithLabelValues("peak_frequency_hz").Set(z.PeakFrequency)
	m.spectrum.WithLabelValues("peak_amplitude_g").Set(z.PeakAmplitude)
	m.spectrum.WithLabelValues("second_harmonic_g").Set(z.SecondHarmonicAmplitude)
	m.spectrum.WithLabelValues("envelope_rms_g").Set(z.EnvelopeRMS)
	m.spectrum.WithLabelValues("envelope_peak_g").Set(z.EnvelopePeak)
	m.spectrum.WithLabelValues("velocity_rms_mm_s").Set(z.VelocityRMS)
}

// SetCalibrationOffset records the current calibration offset.
func (m *Metrics) SetCalibrationOffset(g float64) {
	if m == nil {
		return
	}
	m.calibration.Set(g)
}

// SnapshotPublished counts one waveform publication.
func (m *Metrics) SnapshotPublished() {
	if m == nil {
		return
	}
	m.snapshots.Inc()
}

// ReportFailed counts a failed delivery to sink.
func (m *Metrics) ReportFailed(sink string) {
	if m == nil {
		return
	}
	m.reportErrors.WithLabelValues(sink).Inc()
}

// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/vibration_node/internal/acquisition"
	"github.com/relabs-tech/vibration_node/internal/vibration"
)

func TestObserveAnalysis(t *testing.T) {
	m := New(prometheus.NewRegistry(), func() acquisition.Stats { return acquisition.Stats{} })

	f := vibration.Features{X: vibration.AxisFeatures{RMS: 0.5}}
	f.Z.VelocityRMS = 2.5
	f.Z.Kurtosis = 3.1
	m.ObserveAnalysis(3*time.Millisecond, f)

	require.Equal(t, 0.5, testutil.ToFloat64(m.axis.WithLabelValues("x", "rms")))
	require.Equal(t, 3.1, testutil.ToFloat64(m.axis.WithLabelValues("z", "kurtosis")))
	require.Equal(t, 2.5, testutil.ToFloat64(m.spectrum.WithLabelValues("velocity_rms_mm_s")))
}

func TestHandlerExposesAcquisitionCounters(t *testing.T) {
	stats := acquisition.Stats{Transfers: 10, TransferFaults: 2, Published: 3, Overruns: 1}
	m := New(prometheus.NewRegistry(), func() acquisition.Stats { return stats })
	m.SetCalibrationOffset(0.02)
	m.SnapshotPublished()
	m.ReportFailed("mqtt")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	text := string(body)
	require.Contains(t, text, "vibration_acquisition_transfers_total 10")
	require.Contains(t, text, "vibration_acquisition_transfer_faults_total 2")
	require.Contains(t, text, "vibration_acquisition_windows_published_total 3")
	require.Contains(t, text, "vibration_acquisition_overruns_total 1")
	require.Contains(t, text, "vibration_calibration_offset_g 0.02")
	require.Contains(t, text, "vibration_waveform_snapshots_total 1")
	require.Contains(t, text, `vibration_report_errors_total{sink="mqtt"} 1`)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveAnalysis(time.Millisecond, vibration.Features{})
	m.SetCalibrationOffset(1)
	m.SnapshotPublished()
	m.ReportFailed("serial")
}

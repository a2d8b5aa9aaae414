// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/vibration_node/internal/report"
	"github.com/relabs-tech/vibration_node/internal/vibration"
)

type commandLog struct {
	mu   sync.Mutex
	cmds []report.Command
	err  error
}

func (c *commandLog) send(cmd report.Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cmds = append(c.cmds, cmd)
	return c.err
}

func (c *commandLog) fail(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

func (c *commandLog) actions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, cmd := range c.cmds {
		out = append(out, cmd.Action)
	}
	return out
}

func newTestWeb(t *testing.T, send func(report.Command) error) (*webState, *httptest.Server) {
	t.Helper()
	state := newWebState(send, quietLogger())
	srv := httptest.NewServer(state.handler(""))
	t.Cleanup(srv.Close)
	return state, srv
}

func sampleReport(seq uint64) report.Report {
	return report.Report{
		Address:      5,
		Sequence:     seq,
		SampleRateHz: 25600,
		WindowPoints: 8192,
		Features: vibration.Features{
			Z: vibration.ZAxisFeatures{PeakFrequency: 1000, PeakAmplitude: 0.5},
		},
		GravityBiasG: -1,
	}
}

func TestWebFeaturesBeforeAndAfterReport(t *testing.T) {
	state, srv := newTestWeb(t, (&commandLog{}).send)

	resp, err := http.Get(srv.URL + "/api/features")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	state.setReport(sampleReport(7))

	resp, err = http.Get(srv.URL + "/api/features")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got report.Report
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Equal(t, uint64(7), got.Sequence)
	require.Equal(t, 1000.0, got.Features.Z.PeakFrequency)
}

func TestWebWaveformAndSpectrum(t *testing.T) {
	state, srv := newTestWeb(t, (&commandLog{}).send)

	resp, err := http.Get(srv.URL + "/api/spectrum")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	const n = 64
	z := make([]float64, n)
	for i := range z {
		z[i] = math.Sin(2 * math.Pi * 8 * float64(i) / n)
	}
	state.setWaveform(report.Waveform{Sequence: 3, SampleRateHz: 6400, Z: z})

	resp, err = http.Get(srv.URL + "/api/waveform")
	require.NoError(t, err)
	var wf report.Waveform
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&wf))
	resp.Body.Close()
	require.Len(t, wf.Z, n)

	resp, err = http.Get(srv.URL + "/api/spectrum")
	require.NoError(t, err)
	defer resp.Body.Close()
	var got struct {
		Seq        uint64    `json:"seq"`
		BinWidthHz float64   `json:"bin_width_hz"`
		Magnitude  []float64 `json:"magnitude_g"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Equal(t, uint64(3), got.Seq)
	require.Equal(t, 100.0, got.BinWidthHz)
	require.Len(t, got.Magnitude, n/2)
	require.InDelta(t, 1, got.Magnitude[8], 1e-9)
}

func TestWebCommands(t *testing.T) {
	cmds := &commandLog{}
	_, srv := newTestWeb(t, cmds.send)

	for _, path := range []string{"/api/snapshot", "/api/reset"} {
		resp, err := http.Post(srv.URL+path, "application/json", nil)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
	}
	require.Equal(t, []string{report.ActionSnapshot, report.ActionReset}, cmds.actions())

	resp, err := http.Get(srv.URL + "/api/snapshot")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	cmds.fail(errors.New("broker down"))
	resp, err = http.Post(srv.URL+"/api/reset", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func dialWS(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWebStreamPushesReports(t *testing.T) {
	state, srv := newTestWeb(t, (&commandLog{}).send)
	state.setReport(sampleReport(1))

	conn := dialWS(t, srv, "/ws")
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var ev wsEvent
	require.NoError(t, conn.ReadJSON(&ev))
	require.Equal(t, "features", ev.Type)
	require.Equal(t, uint64(1), ev.Report.Sequence)

	require.Eventually(t, func() bool {
		state.hub.mu.Lock()
		defer state.hub.mu.Unlock()
		return len(state.hub.clients) == 1
	}, 2*time.Second, 5*time.Millisecond)

	state.setReport(sampleReport(2))
	require.NoError(t, conn.ReadJSON(&ev))
	require.Equal(t, uint64(2), ev.Report.Sequence)
}

func TestWebCalibrationSession(t *testing.T) {
	state := newWebState(nil, quietLogger())
	deltas := []float64{0.05, 0.0004}
	var mu sync.Mutex
	send := func(cmd report.Command) error {
		if cmd.Action != report.ActionCalibrate {
			return nil
		}
		mu.Lock()
		d := deltas[0]
		deltas = deltas[1:]
		mu.Unlock()
		go state.calibrationResult(report.CalibrationResult{TargetG: *cmd.TargetG, DeltaG: d, OffsetG: 0.0504})
		return nil
	}
	state.send = send
	srv := httptest.NewServer(state.handler(""))
	t.Cleanup(srv.Close)

	conn := dialWS(t, srv, "/ws/calibration")
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	require.NoError(t, conn.WriteJSON(calibrationWSMessage{
		Action:            "start",
		CalibrationParams: CalibrationParams{TargetG: -1, ToleranceG: 0.001, MaxSteps: 5},
	}))

	var resp calibrationWSResponse
	require.NoError(t, conn.ReadJSON(&resp))
	require.Equal(t, "step", resp.Type)
	require.Equal(t, 1, resp.Step)

	require.NoError(t, conn.ReadJSON(&resp))
	require.Equal(t, "step", resp.Type)
	require.Equal(t, 2, resp.Step)

	require.NoError(t, conn.ReadJSON(&resp))
	require.Equal(t, "complete", resp.Type)
	require.InDelta(t, 0.0504, resp.Result.OffsetG, 1e-12)
	require.InDelta(t, -1, resp.Result.TargetG, 1e-12)

	require.NoError(t, conn.WriteJSON(calibrationWSMessage{Action: "bogus"}))
	require.NoError(t, conn.ReadJSON(&resp))
	require.Equal(t, "error", resp.Type)
}

// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/relabs-tech/vibration_node/internal/config"
	"github.com/relabs-tech/vibration_node/internal/features"
	"github.com/relabs-tech/vibration_node/internal/report"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // local network UI
	},
}

// webState holds the latest node outputs seen on MQTT.
type webState struct {
	mu       sync.RWMutex
	latest   *report.Report
	waveform *report.Waveform

	hub          *wsHub
	send         func(report.Command) error
	calResults   chan report.CalibrationResult
	calibrating  atomic.Bool
	calStepLimit time.Duration
	log          *slog.Logger
}

func newWebState(send func(report.Command) error, logger *slog.Logger) *webState {
	if logger == nil {
		logger = slog.Default()
	}
	return &webState{
		hub:          newWSHub(logger),
		send:         send,
		calResults:   make(chan report.CalibrationResult, 4),
		calStepLimit: DefaultCalibrationParams().StepTimeout,
		log:          logger,
	}
}

func (s *webState) setReport(r report.Report) {
	s.mu.Lock()
	s.latest = &r
	s.mu.Unlock()
	s.hub.broadcast(wsEvent{Type: "features", Report: &r})
}

func (s *webState) setWaveform(w report.Waveform) {
	s.mu.Lock()
	s.waveform = &w
	s.mu.Unlock()
	s.hub.broadcast(wsEvent{Type: "waveform", Seq: w.Sequence})
}

// calibrationResult forwards to the running session, if any.
func (s *webState) calibrationResult(c report.CalibrationResult) {
	if !s.calibrating.Load() {
		return
	}
	select {
	case s.calResults <- c:
	default:
		s.log.Warn("web: calibration result dropped, session not reading")
	}
}

// wsEvent is pushed to every /ws client.
type wsEvent struct {
	Type   string         `json:"type"` // features, waveform
	Report *report.Report `json:"report,omitempty"`
	Seq    uint64         `json:"seq,omitempty"`
}

type wsHub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
	log     *slog.Logger
}

func newWSHub(logger *slog.Logger) *wsHub {
	return &wsHub{clients: make(map[*websocket.Conn]struct{}), log: logger}
}

func (h *wsHub) add(c *websocket.Conn) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *wsHub) remove(c *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.Close()
}

func (h *wsHub) broadcast(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.log.Warn("web: websocket marshal error", "err", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.SetWriteDeadline(time.Now().Add(time.Second))
		if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
			delete(h.clients, c)
			c.Close()
		}
	}
}

func (s *webState) handler(staticDir string) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/api/features", s.getFeatures).Methods("GET")
	r.HandleFunc("/api/waveform", s.getWaveform).Methods("GET")
	r.HandleFunc("/api/spectrum", s.getSpectrum).Methods("GET")
	r.HandleFunc("/api/snapshot", s.postCommand(report.ActionSnapshot)).Methods("POST")
	r.HandleFunc("/api/reset", s.postCommand(report.ActionReset)).Methods("POST")

	r.HandleFunc("/ws", s.handleStream)
	r.HandleFunc("/ws/calibration", s.handleCalibrationWS)

	if staticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(staticDir)))
	}
	return r
}

func (s *webState) getFeatures(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	latest := s.latest
	s.mu.RUnlock()
	if latest == nil {
		http.Error(w, "no data yet", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, s.log, latest)
}

func (s *webState) getWaveform(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	wf := s.waveform
	s.mu.RUnlock()
	if wf == nil {
		http.Error(w, "no waveform captured", http.StatusNotFound)
		return
	}
	writeJSON(w, s.log, wf)
}

// getSpectrum returns the single-sided amplitude spectrum of the latest
// waveform.
func (s *webState) getSpectrum(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	wf := s.waveform
	s.mu.RUnlock()
	if wf == nil || len(wf.Z) == 0 {
		http.Error(w, "no waveform captured", http.StatusNotFound)
		return
	}
	writeJSON(w, s.log, map[string]any{
		"seq":          wf.Sequence,
		"bin_width_hz": float64(wf.SampleRateHz) / float64(len(wf.Z)),
		"magnitude_g":  features.Magnitudes(nil, wf.Z),
	})
}

func (s *webState) postCommand(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.send(report.Command{Action: action}); err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func writeJSON(w http.ResponseWriter, log *slog.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn("web: json encode error", "err", err)
	}
}

// handleStream pushes every new report to the client until it disconnects.
func (s *webState) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("web: websocket upgrade error", "err", err)
		return
	}
	s.mu.RLock()
	latest := s.latest
	s.mu.RUnlock()
	if latest != nil {
		conn.WriteJSON(wsEvent{Type: "features", Report: latest})
	}
	s.hub.add(conn)
	defer s.hub.remove(conn)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug("web: websocket closed", "err", err)
			}
			return
		}
	}
}

// Calibration websocket messages.
type calibrationWSMessage struct {
	Action string `json:"action"` // start, cancel
	CalibrationParams
}

type calibrationWSResponse struct {
	Type    string                    `json:"type"` // step, complete, error
	Step    int                       `json:"step,omitempty"`
	Result  *report.CalibrationResult `json:"result,omitempty"`
	Message string                    `json:"message,omitempty"`
}

// handleCalibrationWS runs one guided calibration per "start" message and
// streams each step back to the browser.
func (s *webState) handleCalibrationWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("web: calibration websocket upgrade error", "err", err)
		return
	}
	defer conn.Close()

	var (
		writeMu sync.Mutex
		cancel  context.CancelFunc = func() {}
	)
	defer func() { cancel() }()
	reply := func(resp calibrationWSResponse) {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.WriteJSON(resp)
	}

	for {
		var msg calibrationWSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Action {
		case "start":
			if !s.calibrating.CompareAndSwap(false, true) {
				reply(calibrationWSResponse{Type: "error", Message: "calibration already running"})
				continue
			}
			cancel()
			var ctx context.Context
			ctx, cancel = context.WithCancel(r.Context())
			params := msg.CalibrationParams
			params.StepTimeout = s.calStepLimit
			go func() {
				defer s.calibrating.Store(false)
				s.drainCalibrationResults()
				final, err := RunCalibration(ctx, s.send, s.calResults, params, func(step int, res report.CalibrationResult) {
					reply(calibrationWSResponse{Type: "step", Step: step, Result: &res})
				})
				if err != nil {
					reply(calibrationWSResponse{Type: "error", Result: &final, Message: err.Error()})
					return
				}
				s.log.Info("web: calibration complete", "offset_g", final.OffsetG)
				reply(calibrationWSResponse{Type: "complete", Result: &final})
			}()

		case "cancel":
			cancel()
			s.log.Info("web: calibration cancelled by user")

		default:
			reply(calibrationWSResponse{Type: "error", Message: fmt.Sprintf("unknown action %q", msg.Action)})
		}
	}
}

func (s *webState) drainCalibrationResults() {
	for {
		select {
		case <-s.calResults:
		default:
			return
		}
	}
}

// RunWeb serves the web UI and API backed by the node's MQTT topics.
func RunWeb(ctx context.Context, cfg *config.Config) error {
	log := slog.Default()

	profile, err := config.NewStore(cfg.DeviceProfilePath).Load()
	if err != nil {
		log.Warn("web: device profile unreadable, assuming defaults", "err", err)
	}
	topics := report.NewTopics(cfg.TopicPrefix, profile.Address)

	client, err := report.Connect(cfg.MQTTBroker, cfg.MQTTClientIDWeb)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)
	log.Info("web: connected to MQTT broker", "broker", cfg.MQTTBroker)

	state := newWebState(func(cmd report.Command) error {
		return report.SendCommand(client, topics, cmd)
	}, log)

	if err := subscribeJSON(client, topics.Features, log, state.setReport); err != nil {
		return err
	}
	if err := subscribeJSON(client, topics.Waveform, log, state.setWaveform); err != nil {
		return err
	}
	if err := subscribeJSON(client, topics.Calibration, log, state.calibrationResult); err != nil {
		return err
	}

	addr := fmt.Sprintf(":%d", cfg.WebServerPort)
	logged := handlers.LoggingHandler(os.Stdout, state.handler("web"))
	srv := &http.Server{Addr: addr, Handler: logged, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info("web: server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// subscribeJSON subscribes to topic and decodes each payload into T.
func subscribeJSON[T any](client mqtt.Client, topic string, log *slog.Logger, fn func(T)) error {
	token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var v T
		if err := json.Unmarshal(msg.Payload(), &v); err != nil {
			log.Warn("mqtt payload unmarshal error", "topic", topic, "err", err)
			return
		}
		fn(v)
	})
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	log.Info("subscribed to MQTT topic", "topic", topic)
	return nil
}

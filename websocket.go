package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cwsl/acoustictransfer/transfer/calibrate"
	"github.com/cwsl/acoustictransfer/transfer/modem"
	"github.com/cwsl/acoustictransfer/transfer/packet"
	"github.com/cwsl/acoustictransfer/transfer/session"
)

// upgrader uses a permissive origin check and generous buffers, since the
// control surface carries base64 file bodies and PCM sample batches inline
// as JSON text frames.
var upgrader = websocket.Upgrader{
	ReadBufferSize:    8192,
	WriteBufferSize:   65536,
	EnableCompression: false,
	CheckOrigin:       func(r *http.Request) bool { return true },
}

// wsConn wraps a *websocket.Conn with a write mutex. gorilla connections
// are not safe for concurrent writers, and both the message loop and async
// event callbacks (chunk_sent, transfer_done, ...) write to the same
// connection.
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (wc *wsConn) writeJSON(v interface{}) error {
	wc.writeMu.Lock()
	defer wc.writeMu.Unlock()
	wc.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return wc.conn.WriteJSON(v)
}

func (wc *wsConn) readJSON(v interface{}) error { return wc.conn.ReadJSON(v) }
func (wc *wsConn) close() error                 { return wc.conn.Close() }

// ClientMessage is the control-surface request envelope. Which fields
// matter depends on Type.
type ClientMessage struct {
	Type    string `json:"type"`
	Profile string `json:"profile,omitempty"` // set_profile
	Kind    string `json:"kind,omitempty"`    // calibrate: "quick" | "full"

	Filename string `json:"filename,omitempty"` // send
	Data     string `json:"data,omitempty"`     // send: base64 file bytes

	SNRdB *float64 `json:"snr_db,omitempty"` // optional power-controller feedback

	// audio_in carries one frame of audio from the host: either a
	// magnitude spectrum (calibration, or FSK listen) or raw PCM
	// (QPSK/8-PSK listen). Calibration consumes magnitudes only.
	Magnitudes []float64 `json:"magnitudes,omitempty"`
	BinHz      float64   `json:"bin_hz,omitempty"`
	PCM        []float64 `json:"pcm,omitempty"`
}

// ServerMessage is the control-surface response/event envelope.
type ServerMessage struct {
	Type string `json:"type"`

	Profile     string   `json:"profile,omitempty"`
	Frequencies []float64 `json:"frequencies,omitempty"` // calibration_done

	Index int `json:"index,omitempty"` // chunk_sent / chunk_received
	Count int `json:"count,omitempty"` // chunk_sent

	Status   string               `json:"status,omitempty"`   // transfer_done
	Metadata *packet.FileMetadata `json:"metadata,omitempty"` // transfer_done
	Filename string               `json:"filename,omitempty"` // transfer_done
	Data     string               `json:"data,omitempty"`     // transfer_done: base64 reassembled bytes

	ErrorKind string `json:"error_kind,omitempty"` // error
	Message   string `json:"message,omitempty"`    // error

	// audio_out carries one frame of modulated PCM the host must play,
	// emitted once per Modulate() call during a send.
	PCM        []float32 `json:"pcm,omitempty"`
	SampleRate int       `json:"sample_rate,omitempty"`
}

// wsSpectrumSource bridges inbound audio_in spectrum frames to
// calibrate.SpectrumSource, so Calibrate can run against whatever the
// connected host's microphone/FFT pipeline delivers.
type wsSpectrumSource struct {
	frames chan calibrate.SpectrumSample
}

func newWSSpectrumSource() *wsSpectrumSource {
	return &wsSpectrumSource{frames: make(chan calibrate.SpectrumSample, 8)}
}

func (s *wsSpectrumSource) push(sample calibrate.SpectrumSample) {
	select {
	case s.frames <- sample:
	default:
		// Drop under backpressure; calibration just samples fewer frames.
	}
}

func (s *wsSpectrumSource) NextSpectrum(ctx context.Context) (calibrate.SpectrumSample, error) {
	select {
	case <-ctx.Done():
		return calibrate.SpectrumSample{}, ctx.Err()
	case sample := <-s.frames:
		return sample, nil
	}
}

// wsAudioSink implements modem.AudioSink by forwarding every Modulate()
// buffer to the control-surface client as an audio_out event.
type wsAudioSink struct {
	wsh    *WebSocketHandler
	conn   *wsConn
}

func (s *wsAudioSink) PlaySamples(pcm []float32, sampleRateHz int) error {
	return s.wsh.send(s.conn, ServerMessage{Type: "audio_out", PCM: pcm, SampleRate: sampleRateHz})
}

// WebSocketHandler serves the acoustic-transfer control surface: profile
// selection, calibration, send/cancel, and listen/stop_listen,
// each driving the transfer/session package against one DeviceSession.
type WebSocketHandler struct {
	config            *Config
	sessions          *SessionManager
	prometheusMetrics *PrometheusMetrics
}

// NewWebSocketHandler builds a WebSocketHandler bound to config and
// sessions. prometheusMetrics may be nil if metrics are disabled.
func NewWebSocketHandler(config *Config, sessions *SessionManager, prometheusMetrics *PrometheusMetrics) *WebSocketHandler {
	return &WebSocketHandler{config: config, sessions: sessions, prometheusMetrics: prometheusMetrics}
}

// ServeHTTP upgrades the connection, allocates a DeviceSession, and runs
// the message loop until the client disconnects.
func (wsh *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WebSocket] upgrade failed: %v", err)
		return
	}
	conn := &wsConn{conn: raw}
	defer conn.close()

	defaultProf, err := wsh.config.resolveProfile(wsh.config.Server.DefaultProfile)
	if err != nil {
		log.Printf("[WebSocket] resolve default profile: %v", err)
		return
	}
	device, err := wsh.sessions.CreateDevice(defaultProf)
	if err != nil {
		wsh.sendError(conn, "resource", err.Error())
		return
	}
	defer wsh.sessions.DestroyDevice(device.ID)

	if wsh.prometheusMetrics != nil {
		wsh.prometheusMetrics.SetActiveDevices(wsh.sessions.Count())
		defer wsh.prometheusMetrics.SetActiveDevices(wsh.sessions.Count() - 1)
	}

	var calibMu sync.Mutex
	var calibSrc *wsSpectrumSource

	for {
		var msg ClientMessage
		if err := conn.readJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[WebSocket] read error: %v", err)
			}
			break
		}
		wsh.sessions.TouchDevice(device.ID)

		switch msg.Type {
		case "set_profile":
			wsh.handleSetProfile(conn, device, msg)

		case "get_profile":
			wsh.send(conn, ServerMessage{Type: "profile", Profile: device.Profile().Name})

		case "calibrate":
			calibMu.Lock()
			if calibSrc != nil {
				calibMu.Unlock()
				wsh.sendError(conn, "busy", "calibration already in progress")
				continue
			}
			calibSrc = newWSSpectrumSource()
			src := calibSrc
			calibMu.Unlock()

			go func() {
				wsh.handleCalibrate(conn, device, msg, src)
				calibMu.Lock()
				calibSrc = nil
				calibMu.Unlock()
			}()

		case "audio_in":
			calibMu.Lock()
			src := calibSrc
			calibMu.Unlock()
			if src != nil && len(msg.Magnitudes) > 0 {
				src.push(calibrate.SpectrumSample{Magnitudes: msg.Magnitudes, BinHz: msg.BinHz})
				continue
			}
			wsh.handleAudioIn(device, msg)

		case "send":
			wsh.handleSend(conn, device, msg)

		case "cancel_send":
			device.CancelSend()

		case "listen":
			wsh.handleListen(conn, device)

		case "stop_listen":
			device.StopListening()

		case "ping":
			wsh.send(conn, ServerMessage{Type: "pong"})

		default:
			wsh.sendError(conn, "bad_request", fmt.Sprintf("unknown message type %q", msg.Type))
		}
	}
}

func (wsh *WebSocketHandler) handleSetProfile(conn *wsConn, device *DeviceSession, msg ClientMessage) {
	prof, err := wsh.config.resolveProfile(msg.Profile)
	if err != nil {
		wsh.sendError(conn, "bad_request", err.Error())
		return
	}
	device.SetProfile(prof)
	wsh.send(conn, ServerMessage{Type: "profile", Profile: prof.Name})
}

func (wsh *WebSocketHandler) handleCalibrate(conn *wsConn, device *DeviceSession, msg ClientMessage, src *wsSpectrumSource) {
	duration := calibrate.QuickDuration
	if msg.Kind == "full" {
		duration = calibrate.FullDuration
	}

	prof := device.Profile()
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), duration+5*time.Second)
	defer cancel()

	result, err := calibrate.Calibrate(ctx, duration, prof, src)
	if wsh.prometheusMetrics != nil {
		wsh.prometheusMetrics.RecordCalibration(time.Since(start).Seconds())
	}
	if err != nil {
		wsh.sendError(conn, "calibration_failed", err.Error())
		return
	}

	device.setCalibration(result)
	wsh.send(conn, ServerMessage{Type: "calibration_done", Frequencies: result.Frequencies})
}

// handleAudioIn routes a raw audio_in frame (outside of an active
// calibration) to the device's running receiver demodulator, per whether
// the active profile is FSK (spectrum magnitudes) or QPSK/8-PSK (raw PCM).
func (wsh *WebSocketHandler) handleAudioIn(device *DeviceSession, msg ClientMessage) {
	demod, ok := device.ActiveDemodulator()
	if !ok {
		return
	}
	if len(msg.Magnitudes) > 0 {
		demod.ProcessSpectrumTick(calibrate.SpectrumSample{Magnitudes: msg.Magnitudes, BinHz: msg.BinHz})
	}
	if len(msg.PCM) > 0 {
		demod.ProcessSymbolWindow(msg.PCM)
	}
}

func (wsh *WebSocketHandler) handleListen(conn *wsConn, device *DeviceSession) {
	receiver, err := device.StartListening()
	if err != nil {
		wsh.sendError(conn, "bad_request", err.Error())
		return
	}

	profName := device.Profile().Name
	receiver.OnChunkReceived(func(i int) {
		if wsh.prometheusMetrics != nil {
			wsh.prometheusMetrics.chunksRecvTotal.WithLabelValues(profName).Inc()
		}
		wsh.send(conn, ServerMessage{Type: "chunk_received", Index: i})
	})
	receiver.OnTransferDone(func(r session.Result) {
		mismatched := r.Status == session.StatusIntegrityMismatch
		if wsh.prometheusMetrics != nil {
			wsh.prometheusMetrics.bytesRecvTotal.WithLabelValues(profName).Add(float64(len(r.Data)))
			wsh.prometheusMetrics.RecordTransferDone(profName, string(r.Status), mismatched)
		}
		meta := r.Metadata
		wsh.send(conn, ServerMessage{
			Type:     "transfer_done",
			Status:   string(r.Status),
			Metadata: &meta,
			Filename: r.Filename,
			Data:     base64.StdEncoding.EncodeToString(r.Data),
		})
	})
}

func (wsh *WebSocketHandler) handleSend(conn *wsConn, device *DeviceSession, msg ClientMessage) {
	calib, ok := device.Calibration()
	if !ok {
		wsh.sendError(conn, "bad_request", "device has no calibration result; calibrate first")
		return
	}
	data, err := base64.StdEncoding.DecodeString(msg.Data)
	if err != nil {
		wsh.sendError(conn, "bad_request", fmt.Sprintf("invalid base64 file data: %v", err))
		return
	}

	prof := device.Profile()
	mod, err := modem.NewModulator(prof, calib, wsh.config.Calibration.AdaptivePower)
	if err != nil {
		wsh.sendError(conn, "bad_request", err.Error())
		return
	}
	if msg.SNRdB != nil {
		mod.ReportSNR(*msg.SNRdB)
		if wsh.prometheusMetrics != nil {
			wsh.prometheusMetrics.RecordSNR(*msg.SNRdB)
		}
	}

	sink := &wsAudioSink{wsh: wsh, conn: conn}
	sender := session.NewSenderSession(prof, mod, sink)
	profName := prof.Name
	sender.OnChunkSent(func(i, n int) {
		wsh.send(conn, ServerMessage{Type: "chunk_sent", Index: i, Count: n})
		if wsh.prometheusMetrics != nil {
			wsh.prometheusMetrics.RecordChunkSent(profName, prof.ChunkSize)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	if err := device.BeginSend(sender, cancel); err != nil {
		cancel()
		wsh.sendError(conn, "busy", err.Error())
		return
	}

	go func() {
		defer device.EndSend()
		err := sender.Send(ctx, msg.Filename, data)
		if err != nil {
			wsh.sendError(conn, "send_failed", err.Error())
			return
		}
		wsh.send(conn, ServerMessage{Type: "transfer_done", Status: "sent", Filename: msg.Filename})
	}()
}

func (wsh *WebSocketHandler) send(conn *wsConn, msg ServerMessage) error {
	if err := conn.writeJSON(msg); err != nil {
		log.Printf("[WebSocket] write error: %v", err)
		return err
	}
	return nil
}

func (wsh *WebSocketHandler) sendError(conn *wsConn, kind, message string) {
	wsh.send(conn, ServerMessage{Type: "error", ErrorKind: kind, Message: message})
}

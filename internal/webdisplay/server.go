// Package webdisplay is the networked display sink: it serves the latest
// color frame with a region overlay, streams recognition results to
// browsers, and exposes status, recording and history endpoints.
package webdisplay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/or-samples/tracking-web/internal/logger"
	"github.com/or-samples/tracking-web/internal/recorder"
	"github.com/or-samples/tracking-web/internal/resultstore"
	"github.com/or-samples/tracking-web/internal/webrtc"
	"github.com/or-samples/tracking-web/pkg/types"
)

// DefaultServiceName labels the server until Start names it.
const DefaultServiceName = "or_web_display"

const maxOfferSize = 1 << 20

// RecordingControl starts and stops the frame-pair recorder.
type RecordingControl interface {
	Start() error
	Stop() error
	GetStatus() recorder.RecordingStatus
}

// HistoryReader reads stored result sets.
type HistoryReader interface {
	Recent(limit int) ([]resultstore.Record, error)
	Sessions() ([]resultstore.SessionSummary, error)
}

// ResultChannel delivers results to WebRTC data channel clients.
type ResultChannel interface {
	HandleOffer(offerJSON []byte) ([]byte, error)
	SendResults(payload []byte)
	GetClientCount() int
}

type rawFrame struct {
	ts     int64
	width  int
	height int
	pixels []byte
}

// Server serves the web display endpoints.
type Server struct {
	cfg     Config
	monitor *monitor
	frames  *broadcaster[[]byte]
	results *broadcaster[*SerializedEvent]
	blank   []byte

	nameMu  sync.RWMutex
	service string

	frameMu sync.Mutex
	pending *rawFrame
	notify  chan struct{}

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	srvMu    sync.Mutex
	httpSrv  *http.Server
	listener net.Listener
}

// NewServer returns a configured server with its frame renderer running.
func NewServer(cfg Config) *Server {
	cfg = cfg.withDefaults()

	blank, err := blankJPEG(640, 480, cfg.JPEGQuality)
	if err != nil {
		logger.Warn("WebDisplay", "Failed to render placeholder frame: %v", err)
	}

	s := &Server{
		cfg:     cfg,
		monitor: newMonitor(cfg.HistorySize),
		frames:  newBroadcaster[[]byte]("FrameBroadcaster", 2),
		results: newBroadcaster[*SerializedEvent]("ResultBroadcaster", 16),
		blank:   blank,
		service: DefaultServiceName,
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	s.wg.Add(1)
	go s.renderFrames()
	return s
}

// ServiceName returns the label shown on the page and the overlay.
func (s *Server) ServiceName() string {
	s.nameMu.RLock()
	defer s.nameMu.RUnlock()
	return s.service
}

// Start listens on port and serves in the background. Port 0 picks a free port.
func (s *Server) Start(serviceName string, port int) error {
	s.srvMu.Lock()
	defer s.srvMu.Unlock()

	if s.httpSrv != nil {
		return fmt.Errorf("web display already started")
	}
	if serviceName != "" {
		s.nameMu.Lock()
		s.service = serviceName
		s.nameMu.Unlock()
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", port, err)
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpSrv = srv
	s.listener = ln

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("WebDisplay", "Server stopped: %v", err)
		}
	}()

	logger.Info("WebDisplay", "%s listening on %s", s.ServiceName(), ln.Addr())
	return nil
}

// Addr returns the listening address once started.
func (s *Server) Addr() string {
	s.srvMu.Lock()
	defer s.srvMu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown disconnects streaming clients and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() {
		close(s.done)
		s.frames.Close()
		s.results.Close()
	})
	s.wg.Wait()

	s.srvMu.Lock()
	srv := s.httpSrv
	s.srvMu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// PublishObjectClasses sets the class names used to label regions.
func (s *Server) PublishObjectClasses(names []string) {
	s.monitor.setClasses(names)
	logger.Info("WebDisplay", "Published %d object classes", len(names))
}

// PublishFrame hands a color frame to the MJPEG renderer. Pixels are packed
// RGB8 or RGBA8 and are copied; the caller keeps ownership.
func (s *Server) PublishFrame(ts int64, width, height int, pixels []byte) {
	s.monitor.recordFrame(ts, width, height, time.Now())

	// No viewers, nothing to encode.
	if s.frames.Count() == 0 {
		return
	}

	f := &rawFrame{ts: ts, width: width, height: height, pixels: append([]byte(nil), pixels...)}
	s.frameMu.Lock()
	s.pending = f
	s.frameMu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// PublishResults forwards a result set to SSE and WebRTC clients.
func (s *Server) PublishResults(results types.Results) {
	ev := s.monitor.updateResults(newResultEvent(results, s.monitor.classNames()))

	event, err := serialize(ev)
	if err != nil {
		logger.Error("WebDisplay", "Failed to serialize results for frame %d: %v", ev.FrameNumber, err)
		return
	}

	s.results.Publish(event)
	if s.cfg.WebRTC != nil {
		s.cfg.WebRTC.SendResults(event.JSONData)
	}
}

func (s *Server) renderFrames() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return
		case <-s.notify:
		}

		s.frameMu.Lock()
		f := s.pending
		s.pending = nil
		s.frameMu.Unlock()

		if f == nil || s.frames.Count() == 0 {
			continue
		}

		mode, regions := s.monitor.latestRegions()
		caption := s.ServiceName()
		if mode != "" {
			caption += "  " + mode
		}
		data, err := renderJPEG(f.pixels, f.width, f.height, mode, regions, caption, s.cfg.JPEGQuality)
		if err != nil {
			logger.Warn("WebDisplay", "Failed to render frame: %v", err)
			continue
		}
		s.frames.Publish(data)
	}
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/stream", s.handleStream)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/status/stream", s.handleStatusStream)
	mux.HandleFunc("/api/results/stream", s.handleResultsStream)
	mux.HandleFunc("/api/objects", s.handleObjects)
	mux.HandleFunc("/api/history", s.handleHistory)
	mux.HandleFunc("/api/recording/start", s.handleRecordingStart)
	mux.HandleFunc("/api/recording/stop", s.handleRecordingStop)
	mux.HandleFunc("/api/recording/status", s.handleRecordingStatus)
	mux.HandleFunc("/api/webrtc/offer", s.handleWebRTCOffer)

	return mux
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, map[string]string{"Service": s.ServiceName()}); err != nil {
		logger.Warn("WebDisplay", "Failed to render index: %v", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":  "ok",
		"service": s.ServiceName(),
	})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id, frameCh := s.frames.Subscribe()
	defer s.frames.Unsubscribe(id)
	streamMJPEGFromChannel(w, r, frameCh, s.blank, s.cfg.KeepaliveInterval)
}

func (s *Server) statusPayload() map[string]any {
	stats, latest, history := s.monitor.snapshot()
	payload := map[string]any{
		"service":         s.ServiceName(),
		"monitor":         stats,
		"latest_results":  latest,
		"results_history": history,
		"object_classes":  s.monitor.classNames(),
		"timestamp":       float64(time.Now().Unix()),
	}
	if s.cfg.State != nil {
		payload["session"] = s.cfg.State.Snapshot()
	}
	if s.cfg.Metrics != nil {
		payload["metrics"] = s.cfg.Metrics.Snapshot()
	}
	if s.cfg.WebRTC != nil {
		payload["webrtc_clients"] = s.cfg.WebRTC.GetClientCount()
	}
	if s.cfg.Recorder != nil {
		payload["recording"] = s.cfg.Recorder.GetStatus()
	}
	return payload
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.statusPayload())
}

func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := startSSE(w)
	if !ok {
		return
	}

	ticker := time.NewTicker(s.cfg.StatusInterval)
	defer ticker.Stop()

	for {
		if err := writeSSE(w, s.statusPayload()); err != nil {
			return
		}
		flusher.Flush()

		select {
		case <-r.Context().Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) handleResultsStream(w http.ResponseWriter, r *http.Request) {
	id, eventCh := s.results.Subscribe()
	defer s.results.Unsubscribe(id)

	accept := r.Header.Get("Accept")
	useProtobuf := strings.Contains(accept, "application/protobuf") ||
		strings.Contains(accept, "application/x-protobuf")

	streamEventsFromChannel(w, r, eventCh, useProtobuf, s.cfg.KeepaliveInterval)
}

func (s *Server) handleObjects(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"classes": s.monitor.classNames()})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.cfg.History == nil {
		writeJSONWithStatus(w, map[string]any{"error": "result history is not configured"}, http.StatusServiceUnavailable)
		return
	}

	limit := s.cfg.HistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSONWithStatus(w, map[string]any{"error": "invalid limit"}, http.StatusBadRequest)
			return
		}
		limit = n
	}

	records, err := s.cfg.History.Recent(limit)
	if err != nil {
		logger.Warn("WebDisplay", "History query failed: %v", err)
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusInternalServerError)
		return
	}
	sessions, err := s.cfg.History.Sessions()
	if err != nil {
		logger.Warn("WebDisplay", "Session query failed: %v", err)
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]any{
		"sessions": sessions,
		"results":  records,
	})
}

func (s *Server) handleRecordingStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.cfg.Recorder == nil {
		writeJSONWithStatus(w, map[string]any{"error": "recorder is not configured"}, http.StatusServiceUnavailable)
		return
	}

	if err := s.cfg.Recorder.Start(); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
		return
	}

	st := s.cfg.Recorder.GetStatus()
	writeJSON(w, map[string]any{
		"status":     "recording",
		"file":       st.Filename,
		"started_at": float64(st.StartTime.Unix()),
	})
}

func (s *Server) handleRecordingStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.cfg.Recorder == nil {
		writeJSONWithStatus(w, map[string]any{"error": "recorder is not configured"}, http.StatusServiceUnavailable)
		return
	}

	if err := s.cfg.Recorder.Stop(); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
		return
	}

	st := s.cfg.Recorder.GetStatus()
	writeJSON(w, map[string]any{
		"status":     "stopped",
		"file":       st.Filename,
		"stats":      st,
		"stopped_at": float64(time.Now().Unix()),
	})
}

func (s *Server) handleRecordingStatus(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Recorder == nil {
		writeJSONWithStatus(w, map[string]any{"error": "recorder is not configured"}, http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, s.cfg.Recorder.GetStatus())
}

func (s *Server) handleWebRTCOffer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.cfg.WebRTC == nil {
		writeJSONWithStatus(w, map[string]any{"error": "WebRTC is not configured"}, http.StatusServiceUnavailable)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxOfferSize))
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid offer data"}, http.StatusBadRequest)
		return
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid offer data"}, http.StatusBadRequest)
		return
	}
	if payload["sdp"] == nil || payload["type"] == nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid offer data"}, http.StatusBadRequest)
		return
	}

	answer, err := s.cfg.WebRTC.HandleOffer(body)
	if err != nil {
		logger.Warn("WebDisplay", "WebRTC offer rejected: %v", err)
		status := http.StatusServiceUnavailable
		if errors.Is(err, webrtc.ErrInvalidOffer) {
			status = http.StatusBadRequest
		}
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(answer)
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":%q}`, err.Error())
	}
}

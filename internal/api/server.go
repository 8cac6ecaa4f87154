package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"mime"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/banshee-data/alertcam/internal/capture"
	"github.com/banshee-data/alertcam/internal/httputil"
	"github.com/banshee-data/alertcam/internal/pipeline"
	"github.com/banshee-data/alertcam/internal/recorder"
	"github.com/banshee-data/alertcam/internal/snapshot"
	"github.com/banshee-data/alertcam/internal/vision"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Pipeline is the part of the detection pipeline exposed over HTTP.
type Pipeline interface {
	Start(ctx context.Context) error
	Stop() error
	ToggleRecording() error
	SetConfidenceThreshold(v float64) float64
	Status() pipeline.Status
	RecentSnapshots() []snapshot.Record
	Log(n int) []vision.LogEntry
	LatestFrame() *pipeline.FrameSlot
	FrameSeries() (fps, latencyMs []float64)
	Subscribe() (string, <-chan pipeline.Event)
	Unsubscribe(id string)
}

// Server serves the pipeline's commands and state.
type Server struct {
	p           Pipeline
	ctx         context.Context
	snapshotDir string
	jpegQuality int
	upgrader    websocket.Upgrader
}

// NewServer returns a Server for p. Pipelines started over HTTP run until
// ctx is cancelled rather than for the lifetime of the request.
func NewServer(ctx context.Context, p Pipeline, snapshotDir string) *Server {
	return &Server{
		p:           p,
		ctx:         ctx,
		snapshotDir: snapshotDir,
		jpegQuality: 80,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (lrw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := lrw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	lrw.statusCode = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (lrw *loggingResponseWriter) Unwrap() http.ResponseWriter {
	return lrw.ResponseWriter
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/start", s.post(s.handleStart))
	mux.HandleFunc("/api/stop", s.post(s.handleStop))
	mux.HandleFunc("/api/record", s.post(s.handleRecord))
	mux.HandleFunc("/api/threshold", s.post(s.handleThreshold))
	mux.HandleFunc("/api/status", s.get(s.handleStatus))
	mux.HandleFunc("/api/snapshots", s.get(s.handleSnapshots))
	mux.HandleFunc("/api/log", s.get(s.handleLog))
	mux.HandleFunc("/api/frame.jpg", s.get(s.handleFrame))
	mux.HandleFunc("/api/stream.mjpeg", s.get(s.handleStream))
	mux.HandleFunc("/api/events", s.get(s.handleEvents))
	if s.snapshotDir != "" {
		mux.Handle("/snapshots/", http.StripPrefix("/snapshots/", http.FileServer(http.Dir(s.snapshotDir))))
	}
	return mux
}

func (s *Server) post(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			httputil.MethodNotAllowed(w)
			return
		}
		h(w, r)
	}
}

func (s *Server) get(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httputil.MethodNotAllowed(w)
			return
		}
		h(w, r)
	}
}

// writeCommandError maps pipeline errors onto HTTP statuses.
func writeCommandError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, capture.ErrCameraUnavailable),
		errors.Is(err, recorder.ErrRecorderUnavailable):
		httputil.ServiceUnavailable(w, err.Error())
	case errors.Is(err, pipeline.ErrNotRunning):
		httputil.Conflict(w, err.Error())
	default:
		httputil.InternalServerError(w, err.Error())
	}
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.p.Start(s.ctx); err != nil {
		writeCommandError(w, err)
		return
	}
	httputil.WriteJSONOK(w, s.p.Status())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.p.Stop(); err != nil {
		writeCommandError(w, err)
		return
	}
	httputil.WriteJSONOK(w, s.p.Status())
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	if err := s.p.ToggleRecording(); err != nil {
		writeCommandError(w, err)
		return
	}
	httputil.WriteJSONOK(w, s.p.Status())
}

type thresholdRequest struct {
	Value *float64 `json:"value"`
}

func (s *Server) handleThreshold(w http.ResponseWriter, r *http.Request) {
	var v float64
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		var req thresholdRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&req); err != nil {
			httputil.BadRequest(w, "invalid JSON body")
			return
		}
		if req.Value == nil {
			httputil.BadRequest(w, "missing value")
			return
		}
		v = *req.Value
	} else {
		raw := strings.TrimSpace(r.FormValue("value"))
		if raw == "" {
			httputil.BadRequest(w, "missing value")
			return
		}
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			httputil.BadRequest(w, "value must be a number")
			return
		}
		v = parsed
	}
	s.p.SetConfidenceThreshold(v)
	httputil.WriteJSONOK(w, s.p.Status())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, s.p.Status())
}

func (s *Server) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, s.p.RecentSnapshots())
}

type logLine struct {
	Time  string  `json:"time"`
	Class string  `json:"class"`
	Conf  float64 `json:"confidence"`
	Line  string  `json:"line"`
}

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	n := 100
	if raw := r.URL.Query().Get("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			httputil.BadRequest(w, "n must be a non-negative integer")
			return
		}
		n = parsed
	}
	entries := s.p.Log(n)
	out := make([]logLine, len(entries))
	for i, e := range entries {
		out[i] = logLine{Time: e.Clock(), Class: e.ClassName, Conf: e.Confidence, Line: e.String()}
	}
	httputil.WriteJSONOK(w, out)
}

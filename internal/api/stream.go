package api

import (
	"bytes"
	"image/jpeg"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/banshee-data/alertcam/internal/httputil"
	"github.com/banshee-data/alertcam/internal/monitoring"
)

var logf = monitoring.Prefixed("[API]")

const (
	mjpegBoundary = "frame"
	wsWriteWait   = 5 * time.Second
	wsPingPeriod  = 30 * time.Second
)

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	frame, seq := s.p.LatestFrame().Latest()
	if frame == nil {
		httputil.NotFound(w, "no frame published yet")
		return
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame, &jpeg.Options{Quality: s.jpegQuality}); err != nil {
		httputil.InternalServerError(w, "failed to encode frame")
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Frame-Seq", strconv.FormatUint(seq, 10))
	w.Write(buf.Bytes())
}

// handleStream serves the latest-frame slot as multipart MJPEG. Frames the
// client is too slow to receive are skipped, never queued.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.InternalServerError(w, "streaming unsupported")
		return
	}

	mw := multipart.NewWriter(w)
	if err := mw.SetBoundary(mjpegBoundary); err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mjpegBoundary)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	slot := s.p.LatestFrame()
	var seq uint64
	var buf bytes.Buffer
	for {
		frame, next, err := slot.Wait(r.Context(), seq)
		if err != nil {
			return
		}
		seq = next

		buf.Reset()
		if err := jpeg.Encode(&buf, frame, &jpeg.Options{Quality: s.jpegQuality}); err != nil {
			logf("failed to encode stream frame: %v", err)
			continue
		}
		part, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":   {"image/jpeg"},
			"Content-Length": {strconv.Itoa(buf.Len())},
		})
		if err != nil {
			return
		}
		if _, err := part.Write(buf.Bytes()); err != nil {
			return
		}
		flusher.Flush()
	}
}

// handleEvents upgrades to a WebSocket and forwards pipeline events as JSON
// text messages until either side goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	id, events := s.p.Subscribe()
	defer s.p.Unsubscribe(id)

	// Reader: discards client messages and notices the close.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(wsWriteWait))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}

package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"tailscale.com/tsweb"

	"github.com/banshee-data/alertcam/internal/httputil"
	"github.com/banshee-data/alertcam/internal/version"
)

// AttachAdminRoutes attaches admin debugging endpoints to the given HTTP
// mux served at /debug/. These routes are accessible only over
// localhost/via Tailscale and are not publicly accessible.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.KV("Version", version.String())
	debug.KVFunc("Pipeline state", func() any { return s.p.Status().State })
	debug.KVFunc("Session", func() any { return s.p.Status().Session })
	debug.KVFunc("Total detections", func() any { return s.p.Status().TotalDetections })
	debug.KVFunc("Frame rate", func() any { return fmt.Sprintf("%.1f", s.p.Status().FrameRate) })
	debug.KVFunc("Frames dropped", func() any { return s.p.Status().FramesDropped })
	debug.KVFunc("Events dropped", func() any { return s.p.Status().EventsDropped })

	debug.Handle("pipeline-status", "Full pipeline status as JSON", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, s.p.Status())
	}))
	debug.Handle("snapshots", "Most recent alert snapshots", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, s.p.RecentSnapshots())
	}))
	debug.Handle("fps-chart", "Session frame rate and inference latency chart", http.HandlerFunc(s.handleFPSChart))

	// Server-Sent Events mirror of /api/events for quick inspection with curl.
	debug.HandleSilent("tail", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, c := s.p.Subscribe()
		defer s.p.Unsubscribe(id)

		// Send initial ping to establish connection
		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case ev, ok := <-c:
				if !ok {
					return
				}
				payload, err := json.Marshal(ev)
				if err != nil {
					continue
				}
				if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, payload); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	}))
}

package rangefinder

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"tailscale.com/tsweb"
)

// AttachAdminRoutes registers debug endpoints for this sensor on the
// admin mux under /debug/. The tail endpoint streams raw measurement
// lines as Server-Sent Events; the status endpoint reports the cached
// reading. These routes are served on the admin listener only, never
// the public API.
func (s *SerialSource[T]) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	slug := strings.ToLower(s.name)

	debug.HandleSilentFunc("sensor-"+slug+"-status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		reading, at, ok := s.LastReading()
		resp := map[string]any{
			"sensor":      s.name,
			"have_sample": ok,
		}
		if ok {
			resp["range_cm"] = reading.RangeCm
			resp["uptime_ms"] = reading.UptimeMs
			resp["age_ms"] = s.clock.Since(at) / time.Millisecond
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})

	debug.HandleSilentFunc("sensor-"+slug+"-tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering

		id, c := s.Subscribe()
		defer s.Unsubscribe(id)

		w.Write([]byte(": ping\n\n"))
		w.(http.Flusher).Flush()

		for {
			select {
			case line, ok := <-c:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", line); err != nil {
					return
				}
				w.(http.Flusher).Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}

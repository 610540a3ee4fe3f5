// Package api exposes the intersection controller over HTTP: live
// state and status, calibration, stored telemetry, and the chart
// pages.
package api

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/junctionworks/crossflow/internal/db"
	"github.com/junctionworks/crossflow/internal/httputil"
	"github.com/junctionworks/crossflow/internal/live"
	"github.com/junctionworks/crossflow/internal/monitoring"
	"github.com/junctionworks/crossflow/internal/traffic"
	"github.com/junctionworks/crossflow/internal/units"
	"github.com/junctionworks/crossflow/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Engine is the slice of the controller the HTTP layer needs.
// *traffic.Controller satisfies it; tests substitute a fake.
type Engine interface {
	Snapshot() traffic.Snapshot
	Status() traffic.Status
	CalibrateLane(ctx context.Context, lane traffic.LaneID, samples int) (float64, error)
}

type Server struct {
	engine Engine
	db     *db.DB
	hub    *live.Hub
	units  string
}

// NewServer wires the HTTP surface. database and hub may be nil; the
// handlers that depend on them answer 503 instead of panicking.
func NewServer(engine Engine, database *db.DB, hub *live.Hub, outputUnits string) *Server {
	return &Server{
		engine: engine,
		db:     database,
		hub:    hub,
		units:  outputUnits,
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

// Hijack forwards to the wrapped writer so the websocket upgrade works
// behind the middleware.
func (lrw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hj, ok := lrw.ResponseWriter.(http.Hijacker); ok {
		return hj.Hijack()
	}
	return nil, nil, http.ErrNotSupported
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
	case statusCode >= 400 && statusCode < 500:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 500:
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
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.healthz)
	mux.HandleFunc("/api/state", s.showState)
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/calibrate", s.calibrateLane)
	mux.HandleFunc("/api/config", s.showConfig)
	mux.HandleFunc("/api/transits", s.listTransits)
	mux.HandleFunc("/api/signals", s.listSignalChanges)
	mux.HandleFunc("/api/calibrations", s.listCalibrations)
	mux.HandleFunc("/api/stats", s.showLaneStats)
	mux.HandleFunc("/api/volumes", s.showVolumes)
	mux.HandleFunc("/charts/traffic", s.trafficChart)
	mux.HandleFunc("/ws", s.liveSocket)
	return mux
}

func (s *Server) liveSocket(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		httputil.ServiceUnavailable(w, "live hub not configured")
		return
	}
	s.hub.HandleWebSocket(w, r)
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	httputil.WriteJSONOK(w, map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}

// showState serves the snapshot the dashboard polls. The controller
// reports lane speeds in km/h; the response carries them in the
// configured units.
func (s *Server) showState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	snap := s.engine.Snapshot()
	snap.LaneA.Speed = units.Round2(units.ConvertSpeed(snap.LaneA.Speed, s.units))
	snap.LaneB.Speed = units.Round2(units.ConvertSpeed(snap.LaneB.Speed, s.units))

	httputil.WriteJSONOK(w, snap)
}

// showStatus serves the extended controller view. Fields named *_kmh
// stay in km/h regardless of the configured output units.
func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	httputil.WriteJSONOK(w, s.engine.Status())
}

func (s *Server) calibrateLane(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	lane := traffic.LaneID(r.FormValue("lane"))
	if !lane.Valid() {
		httputil.BadRequest(w, "Invalid 'lane' parameter (want A or B)")
		return
	}

	samples := traffic.DefaultCalibrationSamples
	if v := r.FormValue("samples"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			httputil.BadRequest(w, "Invalid 'samples' parameter")
			return
		}
		samples = parsed
	}

	baseline, err := s.engine.CalibrateLane(r.Context(), lane, samples)
	if err != nil {
		httputil.InternalServerError(w, "Calibration failed: "+err.Error())
		return
	}

	httputil.WriteJSONOK(w, map[string]interface{}{
		"lane":        lane,
		"baseline_cm": units.Round2(baseline),
		"samples":     samples,
	})
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	config := map[string]interface{}{
		"units":      s.units,
		"version":    version.Version,
		"git_sha":    version.GitSHA,
		"build_time": version.BuildTime,
	}

	httputil.WriteJSONOK(w, config)
}

package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/junctionworks/crossflow/internal/db"
	"github.com/junctionworks/crossflow/internal/httputil"
	"github.com/junctionworks/crossflow/internal/traffic"
	"github.com/junctionworks/crossflow/internal/units"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000

	defaultStatsHours = 24
	maxStatsHours     = 24 * 90
)

// transitAPI is the wire shape for stored transits. The row keeps
// speed_kmh; the response carries speed in the configured units, so
// we control the output format independently of the schema.
type transitAPI struct {
	ID            int64   `json:"id"`
	TransitID     string  `json:"transit_id"`
	Lane          string  `json:"lane"`
	BlockingMs    int64   `json:"blocking_ms"`
	Speed         float64 `json:"speed"`
	SpeedAccepted bool    `json:"speed_accepted"`
	LaneCount     int     `json:"lane_count"`
	OccurredAtMs  int64   `json:"occurred_at_ms"`
}

func (s *Server) transitToAPI(tr db.Transit) transitAPI {
	return transitAPI{
		ID:            tr.ID,
		TransitID:     tr.TransitID,
		Lane:          tr.Lane,
		BlockingMs:    tr.BlockingMs,
		Speed:         units.Round2(units.ConvertSpeed(tr.SpeedKmh, s.units)),
		SpeedAccepted: tr.SpeedAccepted,
		LaneCount:     tr.LaneCount,
		OccurredAtMs:  tr.OccurredAtMs,
	}
}

// laneStatsAPI mirrors db.LaneStats with the speed fields converted
// to the configured units and renamed to stay honest about it.
type laneStatsAPI struct {
	Lane     string  `json:"lane"`
	Units    string  `json:"units"`
	Count    int     `json:"count"`
	Rejected int     `json:"rejected"`
	Mean     float64 `json:"mean_speed"`
	P50      float64 `json:"p50_speed"`
	P85      float64 `json:"p85_speed"`
	P98      float64 `json:"p98_speed"`
	Min      float64 `json:"min_speed"`
	Max      float64 `json:"max_speed"`
}

func (s *Server) laneStatsToAPI(st db.LaneStats) laneStatsAPI {
	conv := func(kmh float64) float64 {
		return units.Round2(units.ConvertSpeed(kmh, s.units))
	}
	return laneStatsAPI{
		Lane:     st.Lane,
		Units:    s.units,
		Count:    st.Count,
		Rejected: st.Rejected,
		Mean:     conv(st.MeanKmh),
		P50:      conv(st.P50Kmh),
		P85:      conv(st.P85Kmh),
		P98:      conv(st.P98Kmh),
		Min:      conv(st.MinKmh),
		Max:      conv(st.MaxKmh),
	}
}

// requireDB answers 503 and returns false when no telemetry store was
// wired at startup (run with -db "" for a store-less controller).
func (s *Server) requireDB(w http.ResponseWriter) bool {
	if s.db == nil {
		httputil.ServiceUnavailable(w, "telemetry store not configured")
		return false
	}
	return true
}

// parseLimit reads the optional limit query parameter. Values above
// maxListLimit are clamped.
func parseLimit(r *http.Request) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultListLimit, nil
	}
	limit, err := strconv.Atoi(v)
	if err != nil || limit < 1 {
		return 0, fmt.Errorf("Invalid 'limit' parameter")
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit, nil
}

// parseLane reads the optional lane filter. Empty selects both lanes.
func parseLane(r *http.Request) (string, error) {
	v := r.URL.Query().Get("lane")
	if v == "" {
		return "", nil
	}
	if !traffic.LaneID(v).Valid() {
		return "", fmt.Errorf("Invalid 'lane' parameter (want A or B)")
	}
	return v, nil
}

// parseHoursWindow reads the optional hours query parameter and
// returns the [since, until] window it spans, ending now.
func parseHoursWindow(r *http.Request) (sinceMs, untilMs int64, err error) {
	hours := defaultStatsHours
	if v := r.URL.Query().Get("hours"); v != "" {
		parsed, perr := strconv.Atoi(v)
		if perr != nil || parsed < 1 || parsed > maxStatsHours {
			return 0, 0, fmt.Errorf("Invalid 'hours' parameter")
		}
		hours = parsed
	}
	until := time.Now()
	since := until.Add(-time.Duration(hours) * time.Hour)
	return since.UnixMilli(), until.UnixMilli(), nil
}

func (s *Server) listTransits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if !s.requireDB(w) {
		return
	}

	lane, err := parseLane(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	transits, err := s.db.RecentTransits(lane, limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve transits: %v", err))
		return
	}

	apiTransits := make([]transitAPI, len(transits))
	for i, tr := range transits {
		apiTransits[i] = s.transitToAPI(tr)
	}

	httputil.WriteJSONOK(w, apiTransits)
}

func (s *Server) listSignalChanges(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if !s.requireDB(w) {
		return
	}

	limit, err := parseLimit(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	changes, err := s.db.RecentSignalChanges(limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve signal changes: %v", err))
		return
	}

	httputil.WriteJSONOK(w, changes)
}

func (s *Server) listCalibrations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if !s.requireDB(w) {
		return
	}

	lane, err := parseLane(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	cals, err := s.db.Calibrations(lane, limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve calibrations: %v", err))
		return
	}

	httputil.WriteJSONOK(w, cals)
}

func (s *Server) showLaneStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if !s.requireDB(w) {
		return
	}

	lane := r.URL.Query().Get("lane")
	if !traffic.LaneID(lane).Valid() {
		httputil.BadRequest(w, "Invalid 'lane' parameter (want A or B)")
		return
	}
	sinceMs, untilMs, err := parseHoursWindow(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	stats, err := s.db.LaneStatsFor(lane, sinceMs, untilMs)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve lane stats: %v", err))
		return
	}

	httputil.WriteJSONOK(w, s.laneStatsToAPI(stats))
}

func (s *Server) showVolumes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if !s.requireDB(w) {
		return
	}

	sinceMs, untilMs, err := parseHoursWindow(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	volumes, err := s.db.HourlyVolumes(sinceMs, untilMs)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve volumes: %v", err))
		return
	}

	httputil.WriteJSONOK(w, volumes)
}

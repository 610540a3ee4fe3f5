package api

import (
	"bytes"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/junctionworks/crossflow/internal/db"
	"github.com/junctionworks/crossflow/internal/httputil"
	"github.com/junctionworks/crossflow/internal/traffic"
	"github.com/junctionworks/crossflow/internal/units"
)

// echartsAssetsPrefix is where the rendered chart pages load the
// ECharts runtime from. Offline sites can mirror the assets and
// rebuild with this pointed at the mirror.
const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// trafficChart renders the commissioning page: a bar chart of hourly
// transit volumes per lane and a line chart of the hourly mean
// accepted speed beneath it.
func (s *Server) trafficChart(w http.ResponseWriter, r *http.Request) {
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

	hours, countsByLane, speedsByLane := s.bucketVolumes(volumes)

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "480px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{
			Title: "Lane Volumes",
			Subtitle: fmt.Sprintf("%s to %s",
				time.UnixMilli(sinceMs).UTC().Format(time.RFC3339),
				time.UnixMilli(untilMs).UTC().Format(time.RFC3339)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(hours).
		AddSeries("lane A", countsByLane[string(traffic.LaneA)],
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		).
		AddSeries("lane B", countsByLane[string(traffic.LaneB)],
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "480px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Mean Speed",
			Subtitle: fmt.Sprintf("accepted transits only, %s", s.units),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	line.SetXAxis(hours).
		AddSeries("lane A", speedsByLane[string(traffic.LaneA)]).
		AddSeries("lane B", speedsByLane[string(traffic.LaneB)])

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsPrefix)
	page.AddCharts(bar, line)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// bucketVolumes reshapes hour/lane rows into one x axis of hours and
// aligned per-lane series: counts as bar data and mean accepted speed
// (converted to the configured units) as line data. Hours where only
// one lane saw traffic get a zero entry in the other series so the
// axes line up.
func (s *Server) bucketVolumes(volumes []db.HourlyVolume) ([]string, map[string][]opts.BarData, map[string][]opts.LineData) {
	buckets := make(map[string]map[string]db.HourlyVolume) // hour -> lane
	for _, v := range volumes {
		if buckets[v.Hour] == nil {
			buckets[v.Hour] = make(map[string]db.HourlyVolume)
		}
		buckets[v.Hour][v.Lane] = v
	}

	hours := make([]string, 0, len(buckets))
	for hour := range buckets {
		hours = append(hours, hour)
	}
	sort.Strings(hours)

	counts := make(map[string][]opts.BarData)
	speeds := make(map[string][]opts.LineData)
	for _, hour := range hours {
		for _, lane := range []string{string(traffic.LaneA), string(traffic.LaneB)} {
			v := buckets[hour][lane]
			counts[lane] = append(counts[lane], opts.BarData{Value: v.Count})
			speeds[lane] = append(speeds[lane], opts.LineData{
				Value: units.Round2(units.ConvertSpeed(v.MeanKmh, s.units)),
			})
		}
	}
	return hours, counts, speeds
}

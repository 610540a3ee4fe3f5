package diag

import (
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/junctionworks/crossflow/internal/httputil"
	"github.com/junctionworks/crossflow/internal/monitoring"
	"github.com/junctionworks/crossflow/internal/security"
)

// AttachAdminRoutes registers the capture control endpoints on mux.
// They sit under /debug/ next to the tsweb debugger routes.
func (tp *TickPlotter) AttachAdminRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/debug/plots/start", tp.handleStart)
	mux.HandleFunc("/debug/plots/stop", tp.handleStop)
	mux.HandleFunc("/debug/plots/status", tp.handleStatus)
}

func (tp *TickPlotter) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	dir := r.FormValue("dir")
	if dir == "" {
		dir = filepath.Join("plots", time.Now().Format("20060102_150405"))
	}
	if err := security.ValidateExportPath(dir); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("Invalid 'dir' parameter: %v", err))
		return
	}

	if err := tp.Start(dir); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to start capture: %v", err))
		return
	}

	monitoring.Logf("[diag] tick capture started, writing to %s", dir)
	httputil.WriteJSONOK(w, map[string]interface{}{
		"capturing": true,
		"dir":       dir,
	})
}

func (tp *TickPlotter) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	tp.Stop()
	plots, err := tp.GeneratePlots()
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to generate plots: %v", err))
		return
	}

	monitoring.Logf("[diag] tick capture stopped, wrote %d plot(s) to %s", plots, tp.OutputDir())
	httputil.WriteJSONOK(w, map[string]interface{}{
		"capturing": false,
		"plots":     plots,
		"samples":   tp.SampleCount(),
		"dir":       tp.OutputDir(),
	})
}

func (tp *TickPlotter) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	httputil.WriteJSONOK(w, map[string]interface{}{
		"capturing": tp.IsEnabled(),
		"samples":   tp.SampleCount(),
		"dir":       tp.OutputDir(),
	})
}

package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/junctionworks/crossflow"
	"github.com/junctionworks/crossflow/internal/api"
	"github.com/junctionworks/crossflow/internal/config"
	"github.com/junctionworks/crossflow/internal/db"
	"github.com/junctionworks/crossflow/internal/diag"
	"github.com/junctionworks/crossflow/internal/live"
	"github.com/junctionworks/crossflow/internal/notify"
	"github.com/junctionworks/crossflow/internal/rangefinder"
	"github.com/junctionworks/crossflow/internal/traffic"
	"github.com/junctionworks/crossflow/internal/units"
	"github.com/junctionworks/crossflow/internal/version"
)

var (
	devMode        = flag.Bool("dev", false, "Run in dev mode: replay fixture data instead of opening serial ports")
	disableSensors = flag.Bool("disable-sensors", false, "Run without sensor hardware; both lanes read permanently empty")
	listen         = flag.String("listen", ":8080", "Listen address")
	dbPath         = flag.String("db", "crossflow.db", "Path to the telemetry database; empty disables recording")
	configPath     = flag.String("config", "", "Path to a tuning config JSON file")
	portA          = flag.String("port-a", "/dev/ttyUSB0", "Serial port for the lane A sensor (ignored in dev mode)")
	portB          = flag.String("port-b", "/dev/ttyUSB1", "Serial port for the lane B sensor (ignored in dev mode)")
	fixturesDir    = flag.String("fixtures", "fixtures", "Directory holding lane_a.txt and lane_b.txt replay data (dev mode)")
	natsURL        = flag.String("nats", "", "NATS server URL for event publishing; empty disables it")
	outputUnits    = flag.String("units", "", "Display units for API speeds (default: config value)")
	plotDir        = flag.String("plot-dir", "", "Capture tick traces and write tuning plots here on shutdown")
	showVersion    = flag.Bool("version", false, "Print version information and exit")
)

// fixtureInterval is the replay cadence in dev mode: two lines per
// control tick, matching the output rate of the real sensor boards.
const fixtureInterval = 50 * time.Millisecond

// sensor is the slice of a serial source the main loop drives. Both
// the real and replay instantiations satisfy it; fixed sources need
// neither a monitor nor debug routes and stay out of the slice.
type sensor interface {
	Monitor(ctx context.Context) error
	AttachAdminRoutes(mux *http.ServeMux)
	Name() string
}

// laneSources builds the per-lane distance sources for the selected
// mode. Setup failures are fatal: a controller with no working sensor
// path has nothing to do.
func laneSources(tuning *config.TuningConfig) (srcA, srcB rangefinder.Source, sensors []sensor) {
	switch {
	case *devMode:
		dataA, err := os.ReadFile(filepath.Join(*fixturesDir, "lane_a.txt"))
		if err != nil {
			log.Fatalf("failed to read lane A fixture: %v", err)
		}
		dataB, err := os.ReadFile(filepath.Join(*fixturesDir, "lane_b.txt"))
		if err != nil {
			log.Fatalf("failed to read lane B fixture: %v", err)
		}
		a := rangefinder.NewReplaySource("lane-a", dataA, fixtureInterval)
		b := rangefinder.NewReplaySource("lane-b", dataB, fixtureInterval)
		a.SetStaleAfter(tuning.GetStaleAfter())
		b.SetStaleAfter(tuning.GetStaleAfter())
		return a, b, []sensor{a, b}

	case *disableSensors:
		// Pin both lanes to their baselines so they read permanently
		// empty and the signal settles into idle RED.
		return rangefinder.NewFixed(tuning.GetBaselineACm()),
			rangefinder.NewFixed(tuning.GetBaselineBCm()), nil

	default:
		a, err := rangefinder.NewRealSource("lane-a", *portA, rangefinder.PortOptions{})
		if err != nil {
			log.Fatalf("failed to open lane A sensor port: %v", err)
		}
		b, err := rangefinder.NewRealSource("lane-b", *portB, rangefinder.PortOptions{})
		if err != nil {
			log.Fatalf("failed to open lane B sensor port: %v", err)
		}
		a.SetStaleAfter(tuning.GetStaleAfter())
		b.SetStaleAfter(tuning.GetStaleAfter())
		return a, b, []sensor{a, b}
	}
}

// calibrateAtBoot derives fresh baselines once the sensors are
// streaming. The first line can land a beat after Monitor starts, so
// each lane gets a few tries. Failure is not fatal: the lane keeps the
// baseline from the tuning config.
func calibrateAtBoot(ctx context.Context, controller *traffic.Controller, samples int) {
	for _, lane := range []traffic.LaneID{traffic.LaneA, traffic.LaneB} {
		var err error
		for attempt := 0; attempt < 3; attempt++ {
			if _, err = controller.CalibrateLane(ctx, lane, samples); err == nil {
				break
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(500 * time.Millisecond):
			}
		}
		if err != nil {
			log.Printf("lane %s boot calibration skipped: %v", lane, err)
		}
	}
}

// Main
func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("crossflow %s (%s) built %s\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	// Subcommands run against the database and exit without starting
	// the controller.
	if flag.NArg() > 0 {
		switch flag.Arg(0) {
		case "migrate":
			db.RunMigrateCommand(flag.Args()[1:], *dbPath)
			return
		case "transits":
			db.RunTransitsCommand(flag.Args()[1:], *dbPath)
			return
		default:
			log.Fatalf("unknown command %q (want migrate or transits)", flag.Arg(0))
		}
	}

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	tuning := config.EmptyTuningConfig()
	if *configPath != "" {
		var err error
		tuning, err = config.LoadTuningConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
		log.Printf("loaded tuning config from %s", *configPath)
	}

	displayUnits := tuning.GetUnits()
	if *outputUnits != "" {
		if !units.IsValid(*outputUnits) {
			log.Fatalf("invalid units %q: valid units are %s", *outputUnits, units.ValidUnitsString())
		}
		displayUnits = *outputUnits
	}

	srcA, srcB, sensors := laneSources(tuning)

	laneA := traffic.NewLaneMonitor(traffic.LaneConfigFromTuning(tuning, traffic.LaneA, srcA))
	laneB := traffic.NewLaneMonitor(traffic.LaneConfigFromTuning(tuning, traffic.LaneB, srcB))

	plotter := diag.NewTickPlotter(nil)
	if *plotDir != "" {
		if err := plotter.Start(*plotDir); err != nil {
			log.Fatalf("failed to start tick capture: %v", err)
		}
	}
	controller := traffic.NewController(laneA, laneB, traffic.ConfigFromTuning(tuning, nil, plotter.Observe))
	defer controller.Close()

	var database *db.DB
	if *dbPath != "" {
		var err error
		database, err = db.NewDB(*dbPath)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer database.Close()
	} else {
		log.Print("telemetry database disabled")
	}

	publisher := notify.NewPublisher()
	if *natsURL != "" {
		if err := publisher.Connect(*natsURL); err != nil {
			log.Printf("nats connect failed, events will not be published: %v", err)
		}
		defer publisher.Close()
	}

	// Create a wait group for the HTTP server, sensor monitors, and
	// event consumer routines
	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run one monitor routine per serial sensor to manage IO on the port
	for _, s := range sensors {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Monitor(ctx); err != nil && err != context.Canceled {
				log.Printf("sensor %s monitor failed: %v", s.Name(), err)
			}
			log.Printf("sensor %s monitor terminated", s.Name())
		}()
	}

	// Event consumers subscribe before boot calibration so the boot
	// baselines land in the calibration history too.
	if database != nil {
		recID, recEvents := controller.SubscribeEvents()
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer controller.UnsubscribeEvents(recID)
			if err := db.NewRecorder(database, recEvents).Run(ctx); err != nil && err != context.Canceled {
				log.Printf("telemetry recorder failed: %v", err)
			}
			log.Print("telemetry recorder terminated")
		}()
	}

	// mirror controller events onto the broker for downstream consumers
	if *natsURL != "" {
		notifyID, notifyEvents := controller.SubscribeEvents()
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer controller.UnsubscribeEvents(notifyID)
			if err := notify.NewNotifier(publisher, notifyEvents).Run(ctx); err != nil && err != context.Canceled {
				log.Printf("event notifier failed: %v", err)
			}
			log.Print("event notifier terminated")
		}()
	}

	if !*disableSensors {
		calibrateAtBoot(ctx, controller, tuning.GetCalibrationSamples())
	}

	if err := controller.Start(ctx); err != nil {
		log.Fatalf("failed to start controller: %v", err)
	}

	hub := live.NewHub()
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := hub.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("live hub failed: %v", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		broadcaster := live.NewBroadcaster(hub, controller, tuning.GetBroadcastInterval(), nil)
		if err := broadcaster.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("snapshot broadcaster failed: %v", err)
		}
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		// create a new API server instance using the controller and
		// database and mount the API handlers
		mux := api.NewServer(controller, database, hub, displayUnits).ServeMux()

		if database != nil {
			database.AttachAdminRoutes(mux)
		}
		for _, s := range sensors {
			s.AttachAdminRoutes(mux)
		}
		plotter.AttachAdminRoutes(mux)

		// read static files from the embedded filesystem in production or from
		// the local ./static in dev for easier iteration without restarting the
		// server
		var staticHandler http.Handler
		if *devMode {
			staticHandler = http.FileServer(http.Dir("./static"))
		} else {
			staticFS, err := fs.Sub(crossflow.StaticFiles, "static")
			if err != nil {
				log.Fatalf("failed to mount embedded assets: %v", err)
			}
			staticHandler = http.FileServer(http.FS(staticFS))
		}
		mux.Handle("/", staticHandler)

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			log.Printf("crossflow %s listening on %s", version.Version, *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		// Create a shutdown context with a shorter timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			// Force close the server if graceful shutdown fails
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	// Wait for all goroutines to finish
	wg.Wait()

	// The control loop runs outside the wait group; Stop blocks until
	// its final tick completes so the capture below is settled.
	controller.Stop()

	if *plotDir != "" {
		plotter.Stop()
		if n, err := plotter.GeneratePlots(); err != nil {
			log.Printf("failed to write tuning plots: %v", err)
		} else {
			log.Printf("wrote %d tuning plot(s) to %s", n, *plotDir)
		}
	}

	log.Printf("Graceful shutdown complete")
}

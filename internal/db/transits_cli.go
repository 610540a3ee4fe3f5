// Package db provides database operations for crossflow.
package db

import (
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"time"
)

// TransitCLI provides CLI operations for stored transit data. It
// wraps DB queries behind an io.Writer to keep the `crossflow
// transits` subcommand testable.
type TransitCLI struct {
	DB     *DB
	Output io.Writer // where to write output (os.Stdout by default)
}

// NewTransitCLI creates a new TransitCLI instance.
func NewTransitCLI(db *DB, output io.Writer) *TransitCLI {
	if output == nil {
		output = os.Stdout
	}
	return &TransitCLI{DB: db, Output: output}
}

// List prints the most recent transits, newest first. An empty lane
// matches both lanes.
func (c *TransitCLI) List(lane string, limit int) error {
	transits, err := c.DB.RecentTransits(lane, limit)
	if err != nil {
		return fmt.Errorf("failed to list transits: %w", err)
	}

	fmt.Fprintf(c.Output, "%-36s %-4s %11s %10s %-8s %5s %s\n",
		"TRANSIT ID", "LANE", "BLOCKING MS", "SPEED KMH", "ACCEPTED", "COUNT", "TIME")
	for _, tr := range transits {
		fmt.Fprintf(c.Output, "%-36s %-4s %11d %10.2f %-8v %5d %s\n",
			tr.TransitID, tr.Lane, tr.BlockingMs, tr.SpeedKmh, tr.SpeedAccepted,
			tr.LaneCount, time.UnixMilli(tr.OccurredAtMs).UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(c.Output, "\n%d transit(s)\n", len(transits))

	return nil
}

// Stats prints speed statistics for one lane over the trailing window.
func (c *TransitCLI) Stats(lane string, window time.Duration) error {
	until := time.Now().UTC()
	since := until.Add(-window)

	stats, err := c.DB.LaneStatsFor(lane, since.UnixMilli(), until.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to compute lane stats: %w", err)
	}

	fmt.Fprintf(c.Output, "Lane %s Speed Statistics (last %s)\n", lane, window)
	fmt.Fprintf(c.Output, "==================================\n")
	fmt.Fprintf(c.Output, "Accepted transits: %d\n", stats.Count)
	fmt.Fprintf(c.Output, "Rejected readings: %d\n", stats.Rejected)
	if stats.Count > 0 {
		fmt.Fprintf(c.Output, "Mean: %.2f km/h\n", stats.MeanKmh)
		fmt.Fprintf(c.Output, "P50:  %.2f km/h\n", stats.P50Kmh)
		fmt.Fprintf(c.Output, "P85:  %.2f km/h\n", stats.P85Kmh)
		fmt.Fprintf(c.Output, "P98:  %.2f km/h\n", stats.P98Kmh)
		fmt.Fprintf(c.Output, "Min:  %.2f km/h\n", stats.MinKmh)
		fmt.Fprintf(c.Output, "Max:  %.2f km/h\n", stats.MaxKmh)
	}

	return nil
}

// Volumes prints hourly transit counts and mean accepted speeds per
// lane over the trailing window.
func (c *TransitCLI) Volumes(window time.Duration) error {
	until := time.Now().UTC()
	since := until.Add(-window)

	volumes, err := c.DB.HourlyVolumes(since.UnixMilli(), until.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to compute hourly volumes: %w", err)
	}

	fmt.Fprintf(c.Output, "%-14s %-4s %6s %10s\n", "HOUR (UTC)", "LANE", "COUNT", "MEAN KMH")
	for _, hv := range volumes {
		fmt.Fprintf(c.Output, "%-14s %-4s %6d %10.2f\n", hv.Hour, hv.Lane, hv.Count, hv.MeanKmh)
	}
	fmt.Fprintf(c.Output, "\n%d bucket(s)\n", len(volumes))

	return nil
}

// PrintUsage prints the transits subcommand usage.
func (c *TransitCLI) PrintUsage() {
	fmt.Fprintln(c.Output, "Usage: crossflow transits <command> [options]")
	fmt.Fprintln(c.Output, "")
	fmt.Fprintln(c.Output, "Commands:")
	fmt.Fprintln(c.Output, "  list [lane] [limit]      Show recent transits (default: both lanes, 20)")
	fmt.Fprintln(c.Output, "  stats <lane> [hours]     Show speed statistics for a lane (default: 24h)")
	fmt.Fprintln(c.Output, "  volumes [hours]          Show hourly transit counts (default: 24h)")
	fmt.Fprintln(c.Output, "")
}

// RunTransitsCommand handles the 'transits' subcommand dispatching.
func RunTransitsCommand(args []string, dbPath string) {
	database, err := NewDB(dbPath)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	cli := NewTransitCLI(database, os.Stdout)

	if len(args) < 1 {
		cli.PrintUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "list":
		lane := ""
		limit := 20
		if len(args) > 1 {
			lane = args[1]
		}
		if len(args) > 2 {
			if n, err := strconv.Atoi(args[2]); err == nil {
				limit = n
			}
		}
		if err := cli.List(lane, limit); err != nil {
			log.Fatalf("transits list failed: %v", err)
		}

	case "stats":
		if len(args) < 2 {
			log.Fatal("Usage: crossflow transits stats <lane> [hours]")
		}
		window := 24 * time.Hour
		if len(args) > 2 {
			if n, err := strconv.Atoi(args[2]); err == nil {
				window = time.Duration(n) * time.Hour
			}
		}
		if err := cli.Stats(args[1], window); err != nil {
			log.Fatalf("transits stats failed: %v", err)
		}

	case "volumes":
		window := 24 * time.Hour
		if len(args) > 1 {
			if n, err := strconv.Atoi(args[1]); err == nil {
				window = time.Duration(n) * time.Hour
			}
		}
		if err := cli.Volumes(window); err != nil {
			log.Fatalf("transits volumes failed: %v", err)
		}

	case "help":
		cli.PrintUsage()

	default:
		fmt.Printf("Unknown transits action: %s\n\n", args[0])
		cli.PrintUsage()
		os.Exit(1)
	}
}

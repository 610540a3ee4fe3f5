// Package crossflow carries the assets baked into the crossflow
// binary so a deployment is a single file.
package crossflow

import "embed"

// StaticFiles holds the dashboard assets. Dev mode bypasses the
// embedded copy and serves ./static straight from disk so the page can
// be edited without rebuilding.
//
//go:embed static
var StaticFiles embed.FS

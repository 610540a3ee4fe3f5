// Package monitoring holds the process-wide diagnostic logger.
package monitoring

import (
	"fmt"
	"log"
	"sync"
)

// Logf is the diagnostic logger used across the controller. It defaults
// to log.Printf and may be swapped with SetLogger; tests mute or capture
// it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. A nil f installs a no-op.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Capture redirects Logf into an in-memory buffer and returns the
// buffer plus a restore func. Intended for tests asserting on log
// output.
func Capture() (*LogBuffer, func()) {
	prev := Logf
	buf := &LogBuffer{}
	Logf = buf.logf
	return buf, func() { Logf = prev }
}

// LogBuffer collects formatted log lines.
type LogBuffer struct {
	mu    sync.Mutex
	lines []string
}

func (b *LogBuffer) logf(format string, v ...interface{}) {
	b.mu.Lock()
	b.lines = append(b.lines, fmt.Sprintf(format, v...))
	b.mu.Unlock()
}

// Lines returns a copy of the captured lines.
func (b *LogBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.lines...)
}

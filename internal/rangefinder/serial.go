package rangefinder

import (
	"bufio"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/junctionworks/crossflow/internal/monitoring"
	"github.com/junctionworks/crossflow/internal/timeutil"
)

// DefaultStaleAfter is how old a cached sample may be before Distance
// reports ErrStale. Five ticks of headroom over the 100ms control
// cadence tolerates a dropped line or two without declaring the sensor
// dead.
const DefaultStaleAfter = 500 * time.Millisecond

// SerialSource reads measurement lines from a sensor board and caches
// the most recent range. The control loop polls Distance; any number of
// debug clients can Subscribe to the raw line stream.
type SerialSource[T Porter] struct {
	name       string
	port       T
	clock      timeutil.Clock
	staleAfter time.Duration

	mu       sync.Mutex
	last     Reading
	lastAt   time.Time
	haveRead bool

	subMu       sync.Mutex
	subscribers map[string]chan string
	closing     bool
}

// NewSerialSource wraps an already open port. The source is inert until
// Monitor is running.
func NewSerialSource[T Porter](name string, port T) *SerialSource[T] {
	return &SerialSource[T]{
		name:        name,
		port:        port,
		clock:       timeutil.RealClock{},
		staleAfter:  DefaultStaleAfter,
		subscribers: make(map[string]chan string),
	}
}

// NewRealSource opens the serial device at path and wraps it.
func NewRealSource(name, path string, opts PortOptions) (*SerialSource[serial.Port], error) {
	port, err := OpenPort(path, opts)
	if err != nil {
		return nil, err
	}
	return NewSerialSource(name, port), nil
}

// SetClock replaces the staleness clock. Tests drive a MockClock.
func (s *SerialSource[T]) SetClock(c timeutil.Clock) { s.clock = c }

// SetStaleAfter overrides the staleness cutoff.
func (s *SerialSource[T]) SetStaleAfter(d time.Duration) { s.staleAfter = d }

// Name returns the lane-facing identifier for this sensor.
func (s *SerialSource[T]) Name() string { return s.name }

// Distance returns the most recent range sample in centimetres.
// It returns ErrNoReading before the first line arrives and ErrStale
// when the cached sample has outlived the cutoff.
func (s *SerialSource[T]) Distance() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.haveRead {
		return 0, ErrNoReading
	}
	if s.staleAfter > 0 && s.clock.Since(s.lastAt) > s.staleAfter {
		return 0, ErrStale
	}
	return s.last.RangeCm, nil
}

// LastReading returns the most recent parsed reading and its arrival
// time; ok is false before the first line.
func (s *SerialSource[T]) LastReading() (Reading, time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.lastAt, s.haveRead
}

// randomID generates a subscriber ID (8 random bytes, hex encoded).
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe registers a channel receiving each raw line from the
// sensor. The returned ID is used to Unsubscribe.
func (s *SerialSource[T]) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string)
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if s.closing {
		close(ch)
		return id, ch
	}
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (s *SerialSource[T]) Unsubscribe(id string) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

// Monitor reads lines from the port until the context is cancelled or
// the port closes. Parsed readings update the Distance cache; every raw
// line is fanned out to subscribers. Unparseable lines are logged and
// skipped so one corrupt line never takes the sensor down.
func (s *SerialSource[T]) Monitor(ctx context.Context) error {
	scan := bufio.NewScanner(s.port)

	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	// The blocking scan.Scan runs in its own goroutine so the outer
	// loop can await lines and cancellation at the same time.
	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			select {
			case scanErrChan <- err:
			case <-ctx.Done():
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-scanErrChan:
			return err

		case line, ok := <-lineChan:
			if !ok {
				if err := scan.Err(); err != nil {
					return err
				}
				return nil
			}

			s.subMu.Lock()
			if s.closing {
				s.subMu.Unlock()
				return nil
			}
			for _, ch := range s.subscribers {
				select {
				case ch <- line:
				default:
					// Never let a slow tail block the sensor.
				}
			}
			s.subMu.Unlock()

			reading, err := ParseLine(line)
			if err != nil {
				monitoring.Logf("[rangefinder %s] skipping line: %v", s.name, err)
				continue
			}
			s.mu.Lock()
			s.last = reading
			s.lastAt = s.clock.Now()
			s.haveRead = true
			s.mu.Unlock()
		}
	}
}

// Close closes all subscriber channels and the underlying port.
func (s *SerialSource[T]) Close() error {
	s.subMu.Lock()
	s.closing = true
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.subMu.Unlock()
	return s.port.Close()
}

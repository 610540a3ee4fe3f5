package rangefinder

import (
	"io"
	"strings"
	"time"
)

// ReplayPort is a Porter that plays a fixture of measurement lines on a
// fixed interval, looping when it reaches the end. It backs dev mode,
// where no hardware is attached but the full serial path should run.
type ReplayPort struct {
	reader *io.PipeReader
	writer *io.PipeWriter
	stop   chan struct{}
}

// NewReplayPort starts replaying the given fixture data (one
// measurement per line) at the given interval.
func NewReplayPort(data []byte, interval time.Duration) *ReplayPort {
	r, w := io.Pipe()
	p := &ReplayPort{
		reader: r,
		writer: w,
		stop:   make(chan struct{}),
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")

	go func() {
		defer w.Close()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		i := 0
		for {
			select {
			case <-p.stop:
				return
			case <-ticker.C:
				if len(lines) == 0 {
					continue
				}
				line := strings.TrimSpace(lines[i%len(lines)])
				i++
				if line == "" {
					continue
				}
				if _, err := w.Write([]byte(line + "\n")); err != nil {
					return
				}
			}
		}
	}()

	return p
}

func (p *ReplayPort) Read(b []byte) (int, error) { return p.reader.Read(b) }

func (p *ReplayPort) Close() error {
	select {
	case <-p.stop:
	default:
		close(p.stop)
	}
	return p.reader.Close()
}

// NewReplaySource wraps a ReplayPort in a SerialSource. Dev mode feeds
// both lanes from fixture files this way.
func NewReplaySource(name string, data []byte, interval time.Duration) *SerialSource[*ReplayPort] {
	return NewSerialSource(name, NewReplayPort(data, interval))
}

package rangefinder

import (
	"bytes"
	"errors"
	"sync"
)

// TestPort is a Porter with hand-fed data for tests. Read blocks until
// a line is added or the port closes, mimicking a quiet serial device.
type TestPort struct {
	mu       sync.Mutex
	cond     *sync.Cond
	buf      bytes.Buffer
	readErr  error
	closed   bool
	ReadCnt  int
	CloseCnt int
}

// NewTestPort returns an empty TestPort.
func NewTestPort() *TestPort {
	p := &TestPort{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// AddLine queues one measurement line (newline appended) for readers.
func (p *TestPort) AddLine(line string) {
	p.mu.Lock()
	p.buf.WriteString(line + "\n")
	p.cond.Signal()
	p.mu.Unlock()
}

// FailNextRead makes the next Read return err.
func (p *TestPort) FailNextRead(err error) {
	p.mu.Lock()
	p.readErr = err
	p.cond.Signal()
	p.mu.Unlock()
}

func (p *TestPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ReadCnt++

	for {
		if p.readErr != nil {
			err := p.readErr
			p.readErr = nil
			return 0, err
		}
		if p.closed {
			return 0, errors.New("port closed")
		}
		if p.buf.Len() > 0 {
			return p.buf.Read(b)
		}
		p.cond.Wait()
	}
}

func (p *TestPort) Close() error {
	p.mu.Lock()
	p.closed = true
	p.CloseCnt++
	p.cond.Broadcast()
	p.mu.Unlock()
	return nil
}

package modem

import (
	"io"
	"sync"
)

// TestTransport is a test helper that simulates a blocking transport using
// channels. The session's read task continuously reads from the transport,
// so reads must block until data is available, like a real serial port would.
type TestTransport struct {
	mu        sync.Mutex
	readChan  chan []byte
	written   [][]byte
	failReads bool
	closed    bool
}

// NewTestTransport creates a new test transport for testing.
// Exported for use in tests.
func NewTestTransport() *TestTransport {
	return &TestTransport{
		readChan: make(chan []byte, 10),
	}
}

func (t *TestTransport) Write(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	buf := make([]byte, len(p))
	copy(buf, p)
	t.written = append(t.written, buf)
	return len(p), nil
}

func (t *TestTransport) Read(p []byte) (n int, err error) {
	t.mu.Lock()
	fail := t.failReads
	t.mu.Unlock()
	if fail {
		return 0, io.ErrUnexpectedEOF
	}

	data, ok := <-t.readChan
	if !ok {
		return 0, io.EOF
	}
	return copy(p, data), nil
}

func (t *TestTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.readChan)
	return nil
}

// SendData queues data to be read by the transport.
// This simulates receiving data from the modem.
func (t *TestTransport) SendData(data string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.readChan <- []byte(data)
	}
}

// FailReads makes every subsequent Read return an error, simulating a dead
// or power-cycled device.
func (t *TestTransport) FailReads() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failReads = true
	// Wake a reader blocked on the channel so the failure is seen promptly.
	if !t.closed {
		select {
		case t.readChan <- nil:
		default:
		}
	}
}

// Written returns a copy of everything written to the transport so far.
func (t *TestTransport) Written() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.written))
	for i, b := range t.written {
		out[i] = string(b)
	}
	return out
}

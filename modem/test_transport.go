package modem

import (
	"context"
	"io"
	"strings"
	"sync"
)

// TestTransport is a test helper that simulates a blocking transport using channels.
// This is needed because the Loop's scanner goroutine continuously reads from the transport,
// and we need reads to block until data is available (like a real serial port would).
// Written command lines are published on Writes, and commands registered with
// Reply are answered automatically.
type TestTransport struct {
	mu       sync.Mutex
	readChan chan []byte
	writes   chan string
	replies  map[string]string
	closed   bool
}

// NewTestTransport creates a new test transport for testing.
// Exported for use in tests.
func NewTestTransport() *TestTransport {
	return &TestTransport{
		readChan: make(chan []byte, 100),
		writes:   make(chan string, 100),
		replies:  map[string]string{},
	}
}

// Reply makes the transport answer every write of cmd with response.
func (t *TestTransport) Reply(cmd, response string) *TestTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.replies[cmd] = response
	return t
}

// ReplyInit answers the commands a Modem sends during New with a ready SIM.
func (t *TestTransport) ReplyInit() *TestTransport {
	return t.
		Reply("AT", "OK\r\n").
		Reply("ATE0", "OK\r\n").
		Reply("AT+CMEE=2", "OK\r\n").
		Reply("AT+CPIN?", "+CPIN: READY\r\nOK\r\n")
}

// Writes returns the command lines written so far, without the trailing CR.
func (t *TestTransport) Writes() <-chan string {
	return t.writes
}

func (t *TestTransport) Write(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, io.ErrClosedPipe
	}

	cmd := strings.TrimRight(string(p), "\r\n")
	select {
	case t.writes <- cmd:
	default:
	}
	if resp, ok := t.replies[cmd]; ok {
		t.readChan <- []byte(resp)
	}
	return len(p), nil
}

func (t *TestTransport) Read(p []byte) (n int, err error) {
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

// Dial returns the transport itself, so a TestTransport also serves as Dialer.
func (t *TestTransport) Dial(context.Context) (Transport, error) {
	return t, nil
}

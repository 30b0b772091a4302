package modem

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"i4.energy/across/modemcore/at"
)

// ChatFunc receives the outcome of a command issued with Chat. ok is true
// when the command completed with OK.
type ChatFunc = func(ok bool, res at.Result)

// Modem represents a GSM/3G/4G cellular modem that communicates via AT commands.
// It is an asynchronous AT channel: commands are queued with Chat, written
// one at a time by a central event loop that owns all transport I/O, and
// their results, like notifications, are delivered on a Dispatcher.
type Modem struct {
	// transport provides the physical connection to the modem (serial, TCP, etc.)
	transport Transport
	// config contains the modem configuration settings
	config Config
	logger *slog.Logger
	// limiter paces command writes; nil when no minimum interval is set
	limiter *rate.Limiter
	// dispatcher runs command callbacks and notification handlers
	dispatcher     *Dispatcher
	ownsDispatcher bool

	mu sync.Mutex
	// closed indicates if the modem has been shut down
	closed bool
	// loopRunning indicates if the Loop is currently running
	loopRunning bool
	// pending queues commands not yet written to the transport
	pending []*commandRequest
	// notifications maps line prefixes to handlers
	notifications []notification
	// wake signals the Loop that pending has grown
	wake chan struct{}

	// urcChan receives Unsolicited Result Codes that have no handler
	urcChan chan string

	// loopCtx controls the lifecycle of the main event loop
	loopCtx context.Context
	// loopCancel cancels the main event loop
	loopCancel context.CancelFunc
	// done is closed when a Loop has returned
	done     chan struct{}
	doneOnce sync.Once
}

// commandRequest represents an AT command request to be executed by the Loop.
type commandRequest struct {
	// cmd is the AT command string to send to the modem
	cmd string
	// done receives the result on the dispatcher; may be nil
	done ChatFunc
}

type notification struct {
	prefix       string
	mayBeCommand bool
	handler      func(line string)
}

// PollConfig defines configuration for polling operations like waiting for SIM readiness.
type PollConfig struct {
	// Interval is the time between polling attempts
	Interval time.Duration
	// Timeout is the maximum time to wait for the condition
	Timeout time.Duration
	// MaxRetries is the maximum number of polling attempts
	MaxRetries int
}

// New creates a new Modem instance with the given configuration.
// It establishes the transport connection, initializes the modem
// hardware with common actions and prepares the event loop context.
//
// Returns an error if the transport connection or modem initialization
// fails.
func New(ctx context.Context, config Config) (*Modem, error) {
	if config.dialer == nil {
		return nil, ErrNoDialer
	}
	config.setDefaults()

	transport, err := config.dialer.Dial(ctx)
	if err != nil {
		return nil, err
	}

	m := &Modem{
		transport: transport,
		config:    config,
		logger:    config.logger,
		wake:      make(chan struct{}, 1),
		urcChan:   make(chan string, 100), // Buffered to prevent blocking on URCs
		done:      make(chan struct{}),
	}
	if config.minSendInterval > 0 {
		m.limiter = rate.NewLimiter(rate.Every(config.minSendInterval), 1)
	}

	// Prepare context for Loop (but don't start it yet)
	m.loopCtx, m.loopCancel = context.WithCancel(ctx)

	// Initialize the modem with proper timeout
	initCtx := ctx
	if config.initTimeout > 0 {
		var cancel context.CancelFunc
		initCtx, cancel = context.WithTimeout(ctx, config.initTimeout)
		defer cancel()
	}

	if err := m.init(initCtx); err != nil {
		m.loopCancel()
		if m.transport != nil {
			transport.Close()
		}
		return nil, fmt.Errorf("initialize modem: %w", err)
	}

	m.dispatcher = config.dispatcher
	if m.dispatcher == nil {
		m.dispatcher = NewDispatcher()
		m.ownsDispatcher = true
	}

	return m, nil
}

// Loop is the main event loop that handles all transport I/O operations.
// It must be called after New() for queued commands to reach the modem.
// The Loop coordinates all communication with the modem hardware:
//
// 1. Takes queued commands in FIFO order
// 2. Writes AT commands to the transport, no faster than the minimum send interval
// 3. Reads and parses responses from the transport
// 4. Dispatches notifications to their registered handlers
// 5. Completes commands on their final result or timeout
//
// The Loop runs until the provided context is cancelled, the modem is closed
// or the transport fails. It's the ONLY goroutine that reads from the
// transport, preventing race conditions and ensuring notifications are never
// lost. When it returns every outstanding command completes with
// at.ResultDead.
//
// Usage:
//
//	modem, err := New(ctx, config)
//	if err != nil { return err }
//
//	// Start the loop (typically in a goroutine)
//	go modem.Loop(ctx)
//
//	// Now commands will be executed
//	res, err := modem.Exec(ctx, "AT+CREG?")
func (m *Modem) Loop(ctx context.Context) error {
	m.mu.Lock()
	if m.loopRunning {
		m.mu.Unlock()
		return ErrLoopRunning
	}
	m.loopRunning = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.loopRunning = false
		m.mu.Unlock()
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(m.loopCtx, cancel)
	defer stop()

	scanner := bufio.NewScanner(m.transport)
	scanner.Split(at.ScanLines)

	// Channels for tokens and errors from the scanner goroutine
	tokens := make(chan string, 10)
	scanErrs := make(chan error, 1)

	// Start goroutine to read tokens from transport
	go func() {
		defer close(tokens)
		for scanner.Scan() {
			token := scanner.Text()
			if token != "" {
				select {
				case tokens <- token:
				case <-ctx.Done():
					return
				}
			}
		}
		// Scanner stopped - check if there was an error
		if err := scanner.Err(); err != nil {
			if errors.Is(err, bufio.ErrTooLong) {
				err = ErrLineTooLong
			}
			select {
			case scanErrs <- err:
			case <-ctx.Done():
			}
		}
	}()

	var (
		// current is the command being processed
		current *commandRequest
		// written is set once current has reached the transport
		written bool
		lines   []string

		sendTimer    *time.Timer
		sendC        <-chan time.Time
		timeoutTimer *time.Timer
		timeoutC     <-chan time.Time
	)

	defer func() {
		if sendTimer != nil {
			sendTimer.Stop()
		}
		if timeoutTimer != nil {
			timeoutTimer.Stop()
		}
		if current != nil {
			m.complete(current, at.Result{Command: current.cmd, Code: at.ResultDead})
		}
		m.failPending()
		m.doneOnce.Do(func() { close(m.done) })
	}()

	finish := func(res at.Result) {
		if timeoutTimer != nil {
			timeoutTimer.Stop()
		}
		timeoutC = nil
		m.complete(current, res)
		current, written, lines = nil, false, nil
	}

	send := func() {
		wire := strings.TrimSpace(current.cmd) + "\r"
		if _, err := m.transport.Write([]byte(wire)); err != nil {
			m.logger.Error("Failed to write command", "command", current.cmd, "error", err)
			finish(at.Result{Command: current.cmd, Code: at.ResultDead})
			return
		}
		written = true
		timeoutTimer = time.NewTimer(m.config.timeoutFor(current.cmd))
		timeoutC = timeoutTimer.C
	}

	for {
		for current == nil {
			current = m.dequeue()
			if current == nil {
				break
			}
			if delay := m.reserve(); delay > 0 {
				sendTimer = time.NewTimer(delay)
				sendC = sendTimer.C
				break
			}
			send()
		}

		select {
		case <-ctx.Done():
			// Context cancelled - shut down gracefully
			return ctx.Err()

		case <-m.wake:
			// new commands are picked up at the top of the loop

		case <-sendC:
			sendC = nil
			send()

		case <-timeoutC:
			m.logger.Warn("Command timed out", "command", current.cmd)
			finish(at.Result{Command: current.cmd, Content: strings.Join(lines, "\n"), Code: at.ResultDead})

		case token, ok := <-tokens:
			if !ok {
				// the scanner reports its error before closing tokens
				select {
				case err := <-scanErrs:
					return fmt.Errorf("scanner error: %w", err)
				default:
				}
				return io.EOF
			}

			line := token
			if line != at.Prompt {
				line = strings.TrimSpace(token)
			}
			if line == "" {
				continue
			}

			active := current
			if !written {
				active = nil
			}

			if handler, ok := m.notificationHandler(line, active); ok {
				m.dispatcher.Post(func() { handler(line) })
				continue
			}

			// route by line kind
			switch at.KindOf(line) {
			case at.LineUnsolicited:
				select {
				case m.urcChan <- line:
				default:
					m.logger.Warn("Dropping unsolicited result code", "line", line)
				}

			case at.LineFinal:
				if active == nil {
					m.logger.Debug("Ignoring orphaned final response", "line", line)
					continue
				}
				finish(at.Result{
					Command: active.cmd,
					Content: strings.Join(lines, "\n"),
					Code:    at.ParseResultCode(line),
				})

			case at.LineData:
				if active == nil {
					m.logger.Debug("Ignoring orphaned data", "line", line)
					continue
				}
				lines = append(lines, line)

			case at.LinePrompt:
				// input prompt completes the command line; the payload is sent as the next command
				if active != nil {
					finish(at.Result{Command: active.cmd, Content: strings.Join(lines, "\n"), Code: at.ResultOK})
				}
			}

		case err := <-scanErrs:
			return fmt.Errorf("scanner error: %w", err)
		}
	}
}

// Chat queues cmd for execution and returns immediately. done, if not nil,
// is invoked on the dispatcher with the command's result. A command issued
// on a closed modem completes with at.ResultDead.
func (m *Modem) Chat(cmd string, done ChatFunc) {
	req := &commandRequest{cmd: cmd, done: done}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.complete(req, at.Result{Command: cmd, Code: at.ResultDead})
		return
	}
	m.pending = append(m.pending, req)
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Exec sends an AT command to the modem and waits for the response.
// The Loop must be running for the command to complete. Exec must not be
// called from a dispatcher callback.
func (m *Modem) Exec(ctx context.Context, cmd string) (at.Result, error) {
	if m.transport == nil {
		return at.Result{}, ErrNotInitialized
	}
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return at.Result{}, ErrAlreadyClosed
	}

	resp := make(chan at.Result, 1) // Buffered to prevent blocking the dispatcher
	m.Chat(cmd, func(_ bool, res at.Result) {
		resp <- res
	})

	select {
	case res := <-resp:
		if !res.OK() {
			return res, &CommandError{Result: res}
		}
		return res, nil
	case <-ctx.Done():
		return at.Result{Command: cmd, Code: at.ResultDead}, fmt.Errorf("command timeout: %w", ctx.Err())
	}
}

// RegisterNotification routes lines starting with prefix to handler, which
// runs on the dispatcher. When mayBeCommand is set, such a line arriving
// while the matching command (AT followed by the prefix without its colon)
// is outstanding is treated as that command's response data instead.
func (m *Modem) RegisterNotification(prefix string, mayBeCommand bool, handler func(line string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications = append(m.notifications, notification{
		prefix:       prefix,
		mayBeCommand: mayBeCommand,
		handler:      handler,
	})
}

// Post runs fn on the modem's dispatcher, in order with command callbacks
// and notifications.
func (m *Modem) Post(fn func()) {
	m.dispatcher.Post(fn)
}

// URC returns a read-only channel that receives Unsolicited Result Codes
// for which no notification handler is registered. The channel is buffered,
// but may drop some URC if not consumed fast enough.
func (m *Modem) URC() <-chan string {
	return m.urcChan
}

// Done returns a channel that is closed once the Loop has stopped, for
// example because the transport reached EOF.
func (m *Modem) Done() <-chan struct{} {
	return m.done
}

// Close shuts down the modem and releases all resources.
// It stops the event loop, closes the transport connection, and marks
// the modem as closed. After calling Close(), the modem cannot be reused.
// Close must not be called from a dispatcher callback.
func (m *Modem) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrAlreadyClosed
	}
	m.closed = true
	m.mu.Unlock()

	m.failPending()

	// Stop the Loop if it's running
	if m.loopCancel != nil {
		m.loopCancel()
	}

	var err error
	if m.transport != nil {
		err = m.transport.Close()
	}

	if m.ownsDispatcher {
		m.dispatcher.Close()
	}

	return err
}

func (m *Modem) dequeue() *commandRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) == 0 {
		return nil
	}
	req := m.pending[0]
	m.pending[0] = nil
	m.pending = m.pending[1:]
	return req
}

// reserve books the next write slot and returns how long to wait for it.
func (m *Modem) reserve() time.Duration {
	if m.limiter == nil {
		return 0
	}
	return m.limiter.Reserve().Delay()
}

func (m *Modem) failPending() {
	m.mu.Lock()
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()
	for _, req := range pending {
		m.complete(req, at.Result{Command: req.cmd, Code: at.ResultDead})
	}
}

func (m *Modem) complete(req *commandRequest, res at.Result) {
	m.logger.Debug("Command completed", "command", req.cmd, "result", int(res.Code))
	if req.done == nil || m.dispatcher == nil {
		return
	}
	m.dispatcher.Post(func() { req.done(res.OK(), res) })
}

func (m *Modem) notificationHandler(line string, active *commandRequest) (func(string), bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.notifications {
		if !strings.HasPrefix(line, n.prefix) {
			continue
		}
		if n.mayBeCommand && active != nil && answers(active.cmd, n.prefix) {
			return nil, false
		}
		return n.handler, true
	}
	return nil, false
}

// answers reports whether prefix is the response tag of cmd, e.g. +CREG:
// for AT+CREG?.
func answers(cmd, prefix string) bool {
	tag := strings.TrimSuffix(prefix, ":")
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(cmd)), "AT"+strings.ToUpper(tag))
}

// init performs the initial setup sequence for the modem hardware.
// This method is called during New() and must complete successfully
// before the modem can be used.
func (m *Modem) init(ctx context.Context) error {
	// 1. Wake-up / sanity check
	if err := m.expectOkDirect(ctx, at.CmdAt); err != nil {
		return fmt.Errorf("modem not responding: %w", err)
	}

	if err := m.expectOkDirect(ctx, at.CmdEchoOff); err != nil {
		return fmt.Errorf("could not disable echo: %w", err)
	}

	if err := m.expectOkDirect(ctx, at.CmdVerboseErrors); err != nil {
		return fmt.Errorf("could not enable verbose errors: %w", err)
	}

	// 4. Check SIM status
	simStatus, err := m.execDirect(ctx, at.CmdSimStatus)
	if err != nil {
		return fmt.Errorf("query SIM status: %w", err)
	}

	switch {
	case strings.Contains(simStatus, at.SimReady):
		// OK

	case strings.Contains(simStatus, at.SimPin):
		if m.config.simPIN == "" {
			return ErrSIMPinRequired
		}
		if err := m.expectOkDirect(ctx, fmt.Sprintf(`AT+CPIN="%s"`, m.config.simPIN)); err != nil {
			return fmt.Errorf("enter SIM PIN: %w", err)
		}

		// Wait until SIM becomes ready
		if err := m.waitForSIMReady(ctx, PollConfig{}); err != nil {
			return err
		}

	default:
		return fmt.Errorf("unsupported SIM state: %q", simStatus)
	}

	return nil
}

// execDirect executes an AT command directly on the transport without
// using the queue and handles the complete request-response cycle
// including timeout management. It is used during modem initialization
// before the Loop is accepting commands.
//
// WARNING: This method should only be used during initialization.
// Use Chat() or Exec() for normal operations.
func (m *Modem) execDirect(ctx context.Context, cmd string) (string, error) {
	if m.closed {
		return "", ErrAlreadyClosed
	}
	if m.transport == nil {
		return "", ErrNotInitialized
	}

	if _, ok := ctx.Deadline(); !ok && m.config.atTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.atTimeout)
		defer cancel()
	}

	wire := strings.TrimSpace(cmd) + "\r"
	if _, err := m.transport.Write([]byte(wire)); err != nil {
		return "", fmt.Errorf("write command %q: %w", cmd, err)
	}

	scanner := bufio.NewScanner(m.transport)
	scanner.Split(at.ScanLines)

	var lines []string

	for {
		select {
		case <-ctx.Done():
			return strings.Join(lines, "\n"), ctx.Err()
		default:
		}
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return strings.Join(lines, "\n"), fmt.Errorf("read error: %w", err)
			}
			return strings.Join(lines, "\n"), io.EOF
		}

		token := scanner.Text()
		if token == "" {
			continue
		}

		switch at.KindOf(token) {
		case at.LineFinal:
			lines = append(lines, token)

			response := strings.Join(lines, "\n")
			if token == at.OK {
				return response, nil
			}
			return response, errors.New(token)

		case at.LineData:
			lines = append(lines, token)

		case at.LineUnsolicited:
			// Ignore URCs in direct exec
			continue

		case at.LinePrompt:
			lines = append(lines, token)
			return strings.Join(lines, "\n"), nil
		}
	}
}

// expectOkDirect executes an AT command and validates that the response
// contains "OK". This is a convenience method for commands that should
// succeed with a simple OK response.
//
// Used during initialization for basic configuration commands.
func (m *Modem) expectOkDirect(ctx context.Context, cmd string) error {
	resp, err := m.execDirect(ctx, cmd)
	if err != nil {
		return err
	}
	if !strings.Contains(resp, at.OK) {
		return fmt.Errorf("unexpected response: %q", resp)
	}
	return nil
}

// waitForSIMReady polls the SIM card status until it reports ready state.
// This is necessary after entering a SIM PIN, as the SIM card needs time
// to authenticate and become operational. Uses configurable polling interval
// and retry limits to avoid infinite waiting.
func (m *Modem) waitForSIMReady(ctx context.Context, config PollConfig) error {
	var (
		pollInterval = config.Interval
		timeout      = config.Timeout
		maxRetries   = config.MaxRetries
	)

	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxRetries <= 0 {
		maxRetries = int(timeout / pollInterval)
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	retries := 0

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("SIM not ready: %w", ctx.Err())
		case <-ticker.C:
			retries++
			if retries > maxRetries {
				return fmt.Errorf("SIM not ready after %d retries", maxRetries)
			}
			resp, err := m.execDirect(ctx, at.CmdSimStatus)
			if err != nil {
				// Fail fast on critical errors
				if errors.Is(err, ErrAlreadyClosed) || errors.Is(err, ErrNotInitialized) {
					return fmt.Errorf("SIM status check failed: %w", err)
				}
				continue
			}
			if strings.Contains(resp, at.SimReady) {
				return nil
			}
		}
	}
}

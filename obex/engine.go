package obex

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// Engine runs one Session over a connection: it decodes the peer's
// requests, feeds them to the session and writes the responses.
type Engine struct {
	conn    io.ReadWriteCloser
	session *Session
	logger  *slog.Logger
	// aborts carries Abort calls into the loop
	aborts chan struct{}

	// maxPacket is the largest packet the peer accepts
	maxPacket int

	// requestDone is told the final response of every request
	requestDone func(req Request, code ResponseCode)

	putActive bool
	getActive bool
	getFirst  bool
	pending   []byte
}

// NewEngine returns an engine for session on conn. The engine owns conn.
func NewEngine(conn io.ReadWriteCloser, session *Session, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{
		conn:      conn,
		session:   session,
		logger:    logger.With("session", session.ID()),
		aborts:    make(chan struct{}, 1),
		maxPacket: MinPacketLength,
	}
}

func (e *Engine) Session() *Session { return e.session }

// OnRequestFinished registers fn to be called with the final response code
// of each request. It must be called before Run.
func (e *Engine) OnRequestFinished(fn func(req Request, code ResponseCode)) {
	e.requestDone = fn
}

// Abort asks the session to stop its running transfer. It is safe to call
// from any goroutine.
func (e *Engine) Abort() {
	select {
	case e.aborts <- struct{}{}:
	default:
	}
}

// Run serves requests until the peer disconnects, the connection fails or
// ctx is cancelled. The connection is closed and the session released when
// Run returns. A regular disconnect or a closed connection returns nil.
func (e *Engine) Run(ctx context.Context) error {
	defer e.session.Release()
	defer e.conn.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	packets := make(chan *Packet)
	malformed := make(chan *MalformedError)
	readErrs := make(chan error, 1)

	// Start goroutine to read requests from the connection
	go func() {
		for {
			p, err := ReadRequest(e.conn)
			var bad *MalformedError
			if errors.As(err, &bad) {
				select {
				case malformed <- bad:
					continue
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				readErrs <- err
				return
			}
			select {
			case packets <- p:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			e.session.TransportError(ConnectionError, "session cancelled")
			return ctx.Err()

		case <-e.aborts:
			e.logger.Info("Aborting transfer")
			e.session.Abort()

		case err := <-readErrs:
			if errors.Is(err, io.EOF) {
				e.session.TransportError(ConnectionError, "connection closed by peer")
				return nil
			}
			e.session.TransportError(ConnectionError, err.Error())
			return fmt.Errorf("read request: %w", err)

		case bad := <-malformed:
			e.logger.Warn("Malformed request", "opcode", fmt.Sprintf("0x%02X", bad.Code), "error", bad.Err)
			if err := e.rejectMalformed(); err != nil {
				e.session.TransportError(ConnectionError, err.Error())
				return fmt.Errorf("write response: %w", err)
			}

		case p := <-packets:
			if err := e.handle(p); err != nil {
				e.session.TransportError(ConnectionError, err.Error())
				return fmt.Errorf("write response: %w", err)
			}
			if e.session.State() == Closed {
				return nil
			}
		}
	}
}

func (e *Engine) handle(p *Packet) error {
	switch op := p.Opcode(); op {
	case OpConnect:
		e.maxPacket = p.PeerMaxPacketLength()
		code := e.session.Connect(p.Header())
		resp := &Packet{Code: byte(code), Prefix: ConnectPrefix(MaxPacketLength)}
		if err := WritePacket(e.conn, resp); err != nil {
			return err
		}
		e.requestFinished(RequestConnect, code)
		return nil

	case OpDisconnect:
		e.resetTransfer()
		return e.finalResponse(e.session.Disconnect(p.Header()), RequestDisconnect)

	case OpPut, OpPutFinal:
		return e.handlePut(p)

	case OpGet, OpGetFinal:
		return e.handleGet(p)

	case OpAbort:
		if err := e.respond(ResponseSuccess); err != nil {
			return err
		}
		if req, ok := e.activeRequest(); ok {
			e.report(req, ResponseSuccess)
			e.resetTransfer()
			e.session.TransportError(Aborted, "aborted by peer")
		}
		return nil

	default:
		e.logger.Debug("Unsupported request", "opcode", fmt.Sprintf("0x%02X", byte(op)))
		return e.respond(ResponseNotImplemented)
	}
}

func (e *Engine) handlePut(p *Packet) error {
	if !e.putActive {
		if code := e.session.Put(p.Header()); code != ResponseSuccess {
			return e.finalResponse(code, RequestPut)
		}
		e.putActive = true
	}

	if body, _ := p.Body(); len(body) > 0 {
		if code := e.session.DataAvailable(body); code != ResponseSuccess {
			e.putActive = false
			return e.finalResponse(code, RequestPut)
		}
	}

	if !p.Opcode().Final() {
		return e.respond(ResponseContinue)
	}
	e.putActive = false
	return e.finalResponse(ResponseSuccess, RequestPut)
}

func (e *Engine) handleGet(p *Packet) error {
	if !e.getActive {
		if code := e.session.Get(p.Header()); code != ResponseSuccess {
			return e.finalResponse(code, RequestGet)
		}
		e.getActive, e.getFirst, e.pending = true, true, nil
	}

	resp := &Packet{Code: byte(ResponseContinue)}
	if !p.Opcode().Final() {
		// the peer has more request headers to send
		return WritePacket(e.conn, resp)
	}
	if e.getFirst {
		_, total := e.session.Progress()
		resp.Fields = append(resp.Fields, ValueField(HeaderLength, total))
		e.getFirst = false
	}

	if len(e.pending) == 0 {
		data, code := e.session.ProvideData()
		if code != ResponseSuccess {
			e.getActive = false
			return e.finalResponse(code, RequestGet)
		}
		if len(data) == 0 {
			e.getActive = false
			resp.Code = byte(ResponseSuccess)
			resp.Fields = append(resp.Fields, DataField(HeaderEndOfBody, nil))
			if err := WritePacket(e.conn, resp); err != nil {
				return err
			}
			e.requestFinished(RequestGet, ResponseSuccess)
			return nil
		}
		e.pending = data
	}

	room := max(e.maxPacket-resp.Len()-3, 1)
	n := min(room, len(e.pending))
	resp.Fields = append(resp.Fields, DataField(HeaderBody, e.pending[:n]))
	e.pending = e.pending[n:]
	return WritePacket(e.conn, resp)
}

// rejectMalformed answers an undecodable request with BadRequest. A
// transfer in progress ends with it.
func (e *Engine) rejectMalformed() error {
	if err := e.respond(ResponseBadRequest); err != nil {
		return err
	}
	if req, ok := e.activeRequest(); ok {
		e.report(req, ResponseBadRequest)
		e.resetTransfer()
		e.session.TransportError(Aborted, "malformed request")
	}
	return nil
}

// activeRequest returns the transfer in progress, if any.
func (e *Engine) activeRequest() (Request, bool) {
	switch {
	case e.putActive:
		return RequestPut, true
	case e.getActive:
		return RequestGet, true
	default:
		return 0, false
	}
}

func (e *Engine) resetTransfer() {
	e.putActive, e.getActive, e.getFirst, e.pending = false, false, false, nil
}

func (e *Engine) respond(code ResponseCode) error {
	return WritePacket(e.conn, &Packet{Code: byte(code)})
}

func (e *Engine) finalResponse(code ResponseCode, req Request) error {
	if err := e.respond(code); err != nil {
		return err
	}
	e.requestFinished(req, code)
	return nil
}

func (e *Engine) requestFinished(req Request, code ResponseCode) {
	e.report(req, code)
	e.session.FinalResponseSent(req)
}

// report hands the final response of req to the OnRequestFinished hook.
func (e *Engine) report(req Request, code ResponseCode) {
	e.logger.Debug("Request finished", "request", req.String(), "response", code.String())
	if e.requestDone != nil {
		e.requestDone(req, code)
	}
}

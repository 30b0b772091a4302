package obex

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
)

// GetChunkSize is the largest amount of data ProvideData returns at once.
const GetChunkSize = 8192

// BusinessCardType is the only object type served by Get.
const BusinessCardType = "text/x-vCard"

// BusinessCardProvider returns the vCard to serve, or nil when there is
// none. It may block and may call back into the session.
type BusinessCardProvider func(s *Session) []byte

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithAcceptor replaces the default InboxAcceptor.
func WithAcceptor(a Acceptor) SessionOption {
	return func(s *Session) {
		s.acceptor = a
		s.defaultAcceptor = false
	}
}

// WithInbox sets the directory the default acceptor writes to.
func WithInbox(dir string) SessionOption {
	return func(s *Session) {
		if s.defaultAcceptor {
			s.acceptor = InboxAcceptor{Dir: dir}
		}
	}
}

func WithBusinessCardProvider(p BusinessCardProvider) SessionOption {
	return func(s *Session) {
		s.cardProvider = p
	}
}

func WithObserver(o Observer) SessionOption {
	return func(s *Session) {
		s.observers = append(s.observers, o)
	}
}

func WithSessionLogger(l *slog.Logger) SessionOption {
	return func(s *Session) {
		s.logger = l
	}
}

// guard tells code that ran a hook whether the session survived it.
type guard struct {
	alive bool
}

// Session is the server side of an OBEX Object Push session. Its methods
// are the requests of the peer as delivered by a transport; they must be
// called one at a time, and the final response of a request must be
// confirmed with FinalResponseSent before the next request is delivered.
//
// Hooks (Acceptor, BusinessCardProvider and Observer methods) may re-enter
// the session, including releasing it.
type Session struct {
	id              string
	acceptor        Acceptor
	defaultAcceptor bool
	cardProvider    BusinessCardProvider
	card            []byte
	observers       observers
	logger          *slog.Logger

	guard *guard
	state State

	request      Request
	transferErr  Error
	abortPending bool
	sink         Sink
	sinkDefault  bool
	source       *bytes.Reader
	done         uint32
	total        uint32

	// inAccept counts AcceptFile calls on the stack
	inAccept     int
	doneDeferred bool
	doneError    bool
}

// NewSession returns a session in the Ready state. Without options,
// accepted objects are written to the current directory.
func NewSession(id string, opts ...SessionOption) *Session {
	s := &Session{
		id:              id,
		acceptor:        InboxAcceptor{Dir: "."},
		defaultAcceptor: true,
		logger:          slog.New(slog.DiscardHandler),
		guard:           &guard{alive: true},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("session", id)
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State { return s.state }

// Progress returns the bytes transferred and the expected total of the
// running request.
func (s *Session) Progress() (done, total uint32) { return s.done, s.total }

// Released reports whether Release has been called.
func (s *Session) Released() bool { return !s.guard.alive }

// SetBusinessCard sets the vCard served to Get requests when no
// BusinessCardProvider is configured.
func (s *Session) SetBusinessCard(card []byte) {
	s.card = bytes.Clone(card)
}

// Abort asks for the running transfer to stop. It takes effect at the next
// data exchange; the state does not change until the request finishes.
func (s *Session) Abort() {
	if s.state == Closed {
		return
	}
	s.abortPending = true
}

// Release ends the session without further events. An open sink is
// closed. After Release every request is refused.
func (s *Session) Release() {
	if !s.guard.alive {
		return
	}
	s.guard.alive = false
	s.releaseDevice(false)
	s.state = Closed
}

// Connect handles a Connect request. It is always accepted.
func (s *Session) Connect(Header) ResponseCode {
	if !s.usable() {
		return ResponseServiceUnavailable
	}
	s.setState(Connecting)
	return ResponseSuccess
}

// Disconnect handles a Disconnect request. The session closes once the
// response has been sent.
func (s *Session) Disconnect(Header) ResponseCode {
	if !s.usable() {
		return ResponseServiceUnavailable
	}
	s.setState(Disconnecting)
	return ResponseSuccess
}

// Put handles the headers of a Put request. The object is refused with
// Forbidden when the acceptor returns no sink.
func (s *Session) Put(h Header) ResponseCode {
	if !s.usable() {
		return ResponseServiceUnavailable
	}
	s.beginRequest(RequestPut)
	s.logger.Info("Put requested", "name", h.Name, "type", h.Type, "size", h.Length)
	s.observers.PutRequested(h.Name, h.Type, h.Length, h.Description)

	g := s.guard
	s.inAccept++
	sink := s.acceptor.AcceptFile(s, h.Name, h.Type, h.Length, h.Description)
	s.inAccept--

	if !g.alive {
		closeQuietly(sink)
		return ResponseInternalServerError
	}
	if s.flushDeferredDone() {
		closeQuietly(sink)
		return ResponseInternalServerError
	}
	if s.transferErr != NoError {
		closeQuietly(sink)
		return ResponseInternalServerError
	}
	if sink == nil {
		s.logger.Info("Put refused", "name", h.Name)
		return ResponseForbidden
	}

	if opener, ok := sink.(Opener); ok {
		if err := opener.Open(); err != nil {
			s.logger.Error("Failed to open sink", "name", h.Name, "error", err)
			closeQuietly(sink)
			return ResponseInternalServerError
		}
	}

	s.sink = sink
	s.sinkDefault = s.defaultAcceptor
	s.done, s.total = 0, h.Length
	s.setState(Streaming)
	return ResponseSuccess
}

// DataAvailable writes a chunk of the Put body to the sink.
func (s *Session) DataAvailable(data []byte) ResponseCode {
	if !s.usable() {
		return ResponseServiceUnavailable
	}
	if s.state != Streaming || s.request != RequestPut {
		return ResponseBadRequest
	}
	// a recorded failure outlives a later abort
	if s.transferErr != NoError {
		return ResponseInternalServerError
	}
	if s.abortPending {
		s.transferErr = Aborted
		return ResponseForbidden
	}

	n, err := s.sink.Write(data)
	if err != nil {
		s.logger.Error("Failed to write object", "error", err)
		s.transferErr = UnknownError
		return ResponseInternalServerError
	}
	s.done += uint32(n)
	s.observers.DataTransferProgress(s.done, s.total)
	return ResponseSuccess
}

// Get handles a Get request. Only the default object, the business card,
// is served: a request with a name is Forbidden, as is any type other than
// text/x-vCard.
func (s *Session) Get(h Header) ResponseCode {
	if !s.usable() {
		return ResponseServiceUnavailable
	}
	s.beginRequest(RequestGet)

	if h.Name != "" || !strings.EqualFold(h.Type, BusinessCardType) {
		s.logger.Info("Get refused", "name", h.Name, "type", h.Type)
		return ResponseForbidden
	}

	s.observers.BusinessCardRequested()
	if !s.guard.alive {
		return ResponseInternalServerError
	}

	card := s.card
	if s.cardProvider != nil {
		g := s.guard
		card = s.cardProvider(s)
		if !g.alive {
			return ResponseInternalServerError
		}
	}
	if len(card) == 0 {
		return ResponseNotFound
	}

	s.source = bytes.NewReader(card)
	s.done, s.total = 0, uint32(len(card))
	s.setState(Streaming)
	return ResponseSuccess
}

// ProvideData returns the next chunk of the Get body. An empty chunk with
// ResponseSuccess marks the end of the object.
func (s *Session) ProvideData() ([]byte, ResponseCode) {
	if !s.usable() {
		return nil, ResponseServiceUnavailable
	}
	if s.state != Streaming || s.request != RequestGet {
		return nil, ResponseBadRequest
	}
	if s.transferErr != NoError {
		return nil, ResponseInternalServerError
	}
	if s.abortPending {
		s.transferErr = Aborted
		return nil, ResponseForbidden
	}

	chunk := make([]byte, GetChunkSize)
	n, err := s.source.Read(chunk)
	if err != nil && err != io.EOF {
		s.transferErr = UnknownError
		return nil, ResponseInternalServerError
	}
	if n == 0 {
		return nil, ResponseSuccess
	}
	s.done += uint32(n)
	s.observers.DataTransferProgress(s.done, s.total)
	return chunk[:n], ResponseSuccess
}

// FinalResponseSent confirms that the final response to req is on the
// wire. It completes connects, disconnects and transfers.
func (s *Session) FinalResponseSent(req Request) {
	if !s.usable() {
		return
	}
	switch req {
	case RequestConnect:
		if s.state == Connecting {
			s.setState(Ready)
		}
	case RequestDisconnect:
		if s.state == Disconnecting {
			s.close(false)
		}
	case RequestPut, RequestGet:
		if s.state == Streaming && s.request == req {
			s.finish()
		}
	}
}

// TransportError reports a failure of the underlying transport.
// Aborted ends the running request; any other kind ends the session.
func (s *Session) TransportError(kind Error, msg string) {
	if !s.usable() {
		return
	}
	s.logger.Warn("Transport error", "kind", kind.String(), "message", msg)

	if kind == Aborted {
		s.failRequest(Aborted)
		return
	}
	if kind != ConnectionError {
		kind = UnknownError
	}

	if s.state != Ready {
		s.failRequest(kind)
		return
	}
	s.transferErr = kind
	s.close(true)
}

func (s *Session) usable() bool {
	return s.guard.alive && s.state != Closed
}

func (s *Session) beginRequest(req Request) {
	s.request = req
	s.transferErr = NoError
	s.abortPending = false
}

// failRequest ends the running request as if it finished with err. The
// first error recorded for a request is kept.
func (s *Session) failRequest(err Error) {
	if s.transferErr == NoError {
		s.transferErr = err
	}
	switch {
	case s.state == Streaming:
		s.finish()
	case err != Aborted && s.state != Ready:
		s.close(true)
	}
}

// finish completes a Put or Get. Connection and sink failures leave the
// session unusable.
func (s *Session) finish() {
	err := s.transferErr
	s.abortPending = false
	s.releaseDevice(err == Aborted)

	if err == NoError || err == Aborted {
		s.setState(Ready)
		s.observers.RequestFinished(err != NoError)
		return
	}
	s.observers.RequestFinished(true)
	s.close(true)
}

func (s *Session) close(hasError bool) {
	s.releaseDevice(false)
	s.setState(Closed)
	s.emitDone(hasError)
}

// releaseDevice closes the sink or source of the running request.
// A partial file from the default acceptor is deleted when removePartial
// is set.
func (s *Session) releaseDevice(removePartial bool) {
	if s.sink != nil {
		sink := s.sink
		s.sink = nil
		if err := sink.Close(); err != nil {
			s.logger.Warn("Failed to close sink", "error", err)
		}
		if remover, ok := sink.(Remover); ok && removePartial && s.sinkDefault {
			if err := remover.Remove(); err != nil {
				s.logger.Warn("Failed to remove partial object", "error", err)
			}
		}
	}
	s.source = nil
}

func (s *Session) setState(state State) {
	if s.state == state {
		return
	}
	s.state = state
	s.logger.Debug("State changed", "state", state.String())
	s.observers.StateChanged(state)
}

// emitDone reports the end of the session, or postpones it while an
// acceptor is on the stack.
func (s *Session) emitDone(hasError bool) {
	if s.inAccept > 0 {
		s.doneDeferred = true
		s.doneError = s.doneError || hasError
		return
	}
	s.observers.Done(hasError)
}

func (s *Session) flushDeferredDone() bool {
	if !s.doneDeferred || s.inAccept > 0 {
		return false
	}
	s.doneDeferred = false
	s.observers.Done(s.doneError)
	return true
}

func closeQuietly(sink Sink) {
	if sink != nil {
		sink.Close()
	}
}

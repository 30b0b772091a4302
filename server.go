package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"i4.energy/across/modemcore/at"
	"i4.energy/across/modemcore/netreg"
	"i4.energy/across/modemcore/obex"
)

// maxCardSize bounds the vCard accepted by PUT /business-card.
const maxCardSize = 64 << 10

// Poster runs functions on the goroutine that owns the registration.
type Poster interface {
	Post(fn func())
}

// Server handles incoming HTTP requests for inspecting and controlling the
// network registration and the OBEX push service
type Server struct {
	Logger       *slog.Logger
	Dispatcher   Poster
	Registration *netreg.Registration
	Results      *ResultWaiters
	Obex         *obex.Server
	Cards        *CardStore
	Events       http.Handler
	Metrics      http.Handler
}

// ServeHTTP implements the http.Handler interface for the Server struct
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /registration", s.handleRegistration)
	mux.HandleFunc("POST /registration/reset", s.handleReset)
	mux.HandleFunc("GET /operators", s.handleOperators)
	mux.HandleFunc("POST /operator", s.handleSetOperator)
	mux.HandleFunc("PUT /business-card", s.handleBusinessCard)
	mux.HandleFunc("POST /obex/abort", s.handleObexAbort)
	if s.Events != nil {
		mux.Handle("GET /events", s.Events)
	}
	if s.Metrics != nil {
		mux.Handle("GET /metrics", s.Metrics)
	}
	mux.ServeHTTP(w, r)
}

func (s *Server) sendError(w http.ResponseWriter, message string, statusCode int) {
	if message == "" {
		w.WriteHeader(statusCode)
		return
	}

	type ErrorResponse struct {
		Message string `json:"message"`
	}
	resp := ErrorResponse{Message: message}
	s.sendJSON(w, resp, statusCode)
}

func (s *Server) sendJSON(w http.ResponseWriter, v any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Logger.Warn("Failed to write response", "error", err)
	}
}

// call runs fn on the dispatcher and waits for it to finish.
func (s *Server) call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	s.Dispatcher.Post(func() {
		fn()
		close(done)
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) sendTimeout(w http.ResponseWriter, err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		s.sendError(w, "modem did not answer in time", http.StatusGatewayTimeout)
		return
	}
	// the client went away
	w.WriteHeader(http.StatusServiceUnavailable)
}

type registrationResponse struct {
	State                      string          `json:"state"`
	LocationAreaCode           int             `json:"lac"`
	CellID                     int             `json:"ci"`
	Operator                   netreg.Operator `json:"operator"`
	SupportsOperatorTechnology bool            `json:"supports_operator_technology"`
	Initialized                bool            `json:"initialized"`
}

// handleRegistration returns the current registration snapshot
func (s *Server) handleRegistration(w http.ResponseWriter, r *http.Request) {
	var resp registrationResponse
	err := s.call(r.Context(), func() {
		reg := s.Registration
		resp = registrationResponse{
			State:                      reg.State().String(),
			LocationAreaCode:           reg.LocationAreaCode(),
			CellID:                     reg.CellID(),
			Operator:                   reg.CurrentOperator(),
			SupportsOperatorTechnology: reg.SupportsOperatorTechnology(),
			Initialized:                reg.Initialized(),
		}
	})
	if err != nil {
		s.sendTimeout(w, err)
		return
	}
	s.sendJSON(w, resp, http.StatusOK)
}

// handleReset reconfigures registration reporting on the modem
func (s *Server) handleReset(w http.ResponseWriter, _ *http.Request) {
	s.Dispatcher.Post(s.Registration.ResetModem)
	s.Logger.Info("Registration reset requested")
	w.WriteHeader(http.StatusAccepted)
}

// handleOperators scans for networks and returns the result
func (s *Server) handleOperators(w http.ResponseWriter, r *http.Request) {
	result := make(chan []netreg.AvailableOperator, 1)
	s.Dispatcher.Post(func() {
		s.Results.waitOperators(result)
		s.Registration.RequestAvailableOperators()
	})

	select {
	case ops := <-result:
		if ops == nil {
			ops = []netreg.AvailableOperator{}
		}
		s.sendJSON(w, ops, http.StatusOK)
	case <-r.Context().Done():
		s.sendTimeout(w, r.Context().Err())
	}
}

// handleSetOperator selects the network operator
func (s *Server) handleSetOperator(w http.ResponseWriter, r *http.Request) {
	type OperatorRequest struct {
		Mode       string `json:"mode"`
		ID         string `json:"id"`
		Technology string `json:"technology"`
	}

	var req OperatorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	mode := netreg.Automatic
	if req.Mode != "" {
		var ok bool
		if mode, ok = netreg.ParseOperatorMode(req.Mode); !ok {
			s.sendError(w, "unknown mode "+req.Mode, http.StatusBadRequest)
			return
		}
	}
	if mode != netreg.Automatic && mode != netreg.Deregister && req.ID == "" {
		s.sendError(w, "'id' is required for manual selection", http.StatusBadRequest)
		return
	}

	result := make(chan at.ResultCode, 1)
	s.Dispatcher.Post(func() {
		s.Results.waitSelection(result)
		s.Registration.SetCurrentOperator(mode, req.ID, req.Technology)
	})

	type OperatorResponse struct {
		OK   bool          `json:"ok"`
		Code at.ResultCode `json:"code"`
	}

	select {
	case code := <-result:
		s.Logger.Info("Operator selected", "mode", mode.String(), "id", req.ID, "code", int(code))
		status := http.StatusOK
		if code != at.ResultOK {
			status = http.StatusBadGateway
		}
		s.sendJSON(w, OperatorResponse{OK: code == at.ResultOK, Code: code}, status)
	case <-r.Context().Done():
		s.sendTimeout(w, r.Context().Err())
	}
}

// handleBusinessCard replaces the vCard served over OBEX
func (s *Server) handleBusinessCard(w http.ResponseWriter, r *http.Request) {
	if s.Cards == nil {
		s.sendError(w, "OBEX is disabled", http.StatusServiceUnavailable)
		return
	}
	card, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCardSize))
	if err != nil {
		s.sendError(w, err.Error(), http.StatusRequestEntityTooLarge)
		return
	}
	s.Cards.Set(card)
	s.Logger.Info("Business card updated", "size", len(card))
	w.WriteHeader(http.StatusNoContent)
}

// handleObexAbort stops the transfer of one session, or of all sessions
// when no session is given
func (s *Server) handleObexAbort(w http.ResponseWriter, r *http.Request) {
	if s.Obex == nil {
		s.sendError(w, "OBEX is disabled", http.StatusServiceUnavailable)
		return
	}

	type AbortResponse struct {
		Aborted int `json:"aborted"`
	}

	id := r.URL.Query().Get("session")
	if id == "" {
		s.sendJSON(w, AbortResponse{Aborted: s.Obex.AbortAll()}, http.StatusOK)
		return
	}
	if !s.Obex.Abort(id) {
		s.sendError(w, "unknown session "+id, http.StatusNotFound)
		return
	}
	s.sendJSON(w, AbortResponse{Aborted: 1}, http.StatusOK)
}

// ResultWaiters hands the asynchronous results of the registration to the
// requests waiting for them. Results arrive in request order, so waiters
// are served first in, first out.
type ResultWaiters struct {
	mu         sync.Mutex
	operators  []chan<- []netreg.AvailableOperator
	selections []chan<- at.ResultCode
}

// Observer returns the observer to register with the Registration.
func (rw *ResultWaiters) Observer() netreg.Observer {
	return netreg.ObserverFuncs{
		OnAvailableOperators: func(ops []netreg.AvailableOperator) {
			if c := shift(&rw.mu, &rw.operators); c != nil {
				c <- ops
			}
		},
		OnSetCurrentOperatorResult: func(code at.ResultCode) {
			if c := shift(&rw.mu, &rw.selections); c != nil {
				c <- code
			}
		},
	}
}

func (rw *ResultWaiters) waitOperators(c chan<- []netreg.AvailableOperator) {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	rw.operators = append(rw.operators, c)
}

func (rw *ResultWaiters) waitSelection(c chan<- at.ResultCode) {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	rw.selections = append(rw.selections, c)
}

// shift pops the oldest waiter. Waiter channels are buffered, so sending
// to them never blocks.
func shift[T any](mu *sync.Mutex, queue *[]chan<- T) chan<- T {
	mu.Lock()
	defer mu.Unlock()
	if len(*queue) == 0 {
		return nil
	}
	c := (*queue)[0]
	*queue = (*queue)[1:]
	return c
}

// Package control implements the JSON-over-HTTP control API consumed by
// cmd/dnp3ctl. Every mutating handler constructs a master.Message and
// pushes it onto the session's control channel; GET /associations answers
// from the server's own record of associations added through it. It is a
// thin adapter over the control queue, not a second control path.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/dantte-lp/dnp3master/internal/master"
)

// ErrUnknownAssociation describes a request that names an address the
// server has not registered. The handlers in this package do not return
// it: an unknown address on an enqueued task is reported by the session
// as master.ErrNoSuchAssociation.
var ErrUnknownAssociation = errors.New("unknown association address")

// Server adapts HTTP requests onto a master.Session's control channel.
//
// A thin struct holding a logger and a handle to the domain engine, with
// one method per endpoint that validates the request, calls into the
// domain, and maps the result back onto the wire format — a plain
// net/http/encoding/json surface rather than a generated RPC service,
// since the control queue it fronts is an in-process message channel,
// not a remote API.
type Server struct {
	messages chan<- master.Message
	log      *slog.Logger

	mu           sync.Mutex
	associations map[uint16]associationInfo
}

type associationInfo struct {
	Class1, Class2, Class3 bool
	PollPeriod             time.Duration
}

// New constructs a Server that posts control messages onto messages.
func New(messages chan<- master.Message, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		messages:     messages,
		log:          log.With(slog.String("component", "control")),
		associations: make(map[uint16]associationInfo),
	}
}

// Handler returns the control API's http.Handler, routed by method and
// path.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /associations", s.handleAddAssociation)
	mux.HandleFunc("GET /associations", s.handleListAssociations)
	mux.HandleFunc("DELETE /associations/{address}", s.handleRemoveAssociation)
	mux.HandleFunc("POST /associations/{address}/tasks", s.handleEnqueueTask)
	mux.HandleFunc("PUT /decode-level", s.handleSetDecodeLevel)
	return mux
}

// -------------------------------------------------------------------------
// POST /associations
// -------------------------------------------------------------------------

type addAssociationRequest struct {
	Address             uint16 `json:"address"`
	Class1              bool   `json:"class1"`
	Class2              bool   `json:"class2"`
	Class3              bool   `json:"class3"`
	IntegrityPollPeriod string `json:"integrity_poll_period,omitempty"`
}

func (s *Server) handleAddAssociation(w http.ResponseWriter, r *http.Request) {
	var req addAssociationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var pollPeriod time.Duration
	if req.IntegrityPollPeriod != "" {
		d, err := time.ParseDuration(req.IntegrityPollPeriod)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("parse integrity_poll_period: %w", err))
			return
		}
		pollPeriod = d
	}

	address := master.EndpointAddress(req.Address)
	assoc := master.NewAssociation(address)
	assoc.SetEnabledEventClasses(master.EventClasses{Class1: req.Class1, Class2: req.Class2, Class3: req.Class3})
	if pollPeriod > 0 {
		assoc.AddPoll(master.PollDefinition{
			Request: master.NewClassScanRequest(master.IntegrityClasses()),
			Period:  pollPeriod,
		})
	}

	result := make(chan error, 1)
	s.post(r.Context(), master.NewAddAssociationMessage(assoc, func(err error) { result <- err }))

	if err := s.waitResult(r.Context(), result); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}

	s.mu.Lock()
	s.associations[req.Address] = associationInfo{Class1: req.Class1, Class2: req.Class2, Class3: req.Class3, PollPeriod: pollPeriod}
	s.mu.Unlock()

	s.log.Info("association added", "address", req.Address)
	w.WriteHeader(http.StatusCreated)
}

// -------------------------------------------------------------------------
// GET /associations
// -------------------------------------------------------------------------

type associationView struct {
	Address             uint16 `json:"address"`
	Class1              bool   `json:"class1"`
	Class2              bool   `json:"class2"`
	Class3              bool   `json:"class3"`
	IntegrityPollPeriod string `json:"integrity_poll_period,omitempty"`
}

func (s *Server) handleListAssociations(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	views := make([]associationView, 0, len(s.associations))
	for addr, info := range s.associations {
		v := associationView{Address: addr, Class1: info.Class1, Class2: info.Class2, Class3: info.Class3}
		if info.PollPeriod > 0 {
			v.IntegrityPollPeriod = info.PollPeriod.String()
		}
		views = append(views, v)
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, views)
}

// -------------------------------------------------------------------------
// DELETE /associations/{address}
// -------------------------------------------------------------------------

func (s *Server) handleRemoveAssociation(w http.ResponseWriter, r *http.Request) {
	address, err := parseAddress(r.PathValue("address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	s.post(r.Context(), master.NewRemoveAssociationMessage(master.EndpointAddress(address)))

	s.mu.Lock()
	delete(s.associations, address)
	s.mu.Unlock()

	s.log.Info("association removed", "address", address)
	w.WriteHeader(http.StatusNoContent)
}

// -------------------------------------------------------------------------
// POST /associations/{address}/tasks
// -------------------------------------------------------------------------

type enqueueTaskRequest struct {
	// Kind is "integrity" for a Class 0 + events read, or "events" for
	// an events-only read.
	Kind string `json:"kind"`
}

func (s *Server) handleEnqueueTask(w http.ResponseWriter, r *http.Request) {
	address, err := parseAddress(r.PathValue("address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var req enqueueTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var classes master.Classes
	switch req.Kind {
	case "integrity":
		classes = master.IntegrityClasses()
	case "events":
		classes = master.EventClassesOnly(master.AllEventClasses())
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown task kind %q", req.Kind))
		return
	}

	readReq := master.NewClassScanRequest(classes)
	task := master.Task{
		Kind: master.TaskKindRead,
		Read: &master.ReadTask{Request: readReq},
	}

	failure := make(chan error, 1)
	s.post(r.Context(), master.NewEnqueueTaskMessage(master.EndpointAddress(address), task, func(err error) { failure <- err }))

	// The control queue reports only failure for association-scoped
	// messages (see master.AssociationMessage.OnAssociationFailure); a
	// short grace period with no failure is treated as accepted.
	select {
	case err := <-failure:
		writeError(w, http.StatusNotFound, err)
	case <-time.After(200 * time.Millisecond):
		w.WriteHeader(http.StatusAccepted)
	case <-r.Context().Done():
		writeError(w, http.StatusRequestTimeout, r.Context().Err())
	}
}

// -------------------------------------------------------------------------
// PUT /decode-level
// -------------------------------------------------------------------------

type setDecodeLevelRequest struct {
	Level string `json:"level"`
}

func (s *Server) handleSetDecodeLevel(w http.ResponseWriter, r *http.Request) {
	var req setDecodeLevelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	level, err := parseLevel(req.Level)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	s.post(r.Context(), master.NewSetDecodeLogLevelMessage(level))
	w.WriteHeader(http.StatusNoContent)
}

// -------------------------------------------------------------------------
// Helpers
// -------------------------------------------------------------------------

func (s *Server) post(ctx context.Context, msg master.Message) {
	select {
	case s.messages <- msg:
	case <-ctx.Done():
	}
}

func (s *Server) waitResult(ctx context.Context, result <-chan error) error {
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Second):
		return fmt.Errorf("control request: %w", context.DeadlineExceeded)
	}
}

func parseAddress(raw string) (uint16, error) {
	v, err := strconv.ParseUint(raw, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", raw, err)
	}
	return uint16(v), nil
}

func parseLevel(raw string) (slog.Level, error) {
	switch raw {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown decode level %q", raw)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

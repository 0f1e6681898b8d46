package master

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Default and minimum request buffer sizes, carried over from the
// teacher's session sizing knobs in spirit.
const (
	DefaultTxBufferSize = 2048
	MinTxBufferSize     = 249
)

// SessionOption configures a Session at construction time using the
// standard functional-options pattern.
type SessionOption func(*Session)

// WithResponseTimeout overrides the default per-request response
// timeout.
func WithResponseTimeout(d time.Duration) SessionOption {
	return func(s *Session) { s.timeout = NewTimeout(d) }
}

// WithLogger overrides the session's structured logger.
func WithLogger(log *slog.Logger) SessionOption {
	return func(s *Session) {
		if log != nil {
			s.log = log
		}
	}
}

// WithDecodeLevel sets the initial frame-decode log level.
func WithDecodeLevel(level slog.Level) SessionOption {
	return func(s *Session) { s.level = level }
}

// WithControlQueueDepth sets the buffer size of the session's control
// message channel.
func WithControlQueueDepth(n int) SessionOption {
	return func(s *Session) { s.queueDepth = n }
}

// Session is the single-threaded master session engine. One Session
// multiplexes every configured Association over one shared transport,
// serializing requests, reassembling responses, accepting unsolicited
// reports, and running housekeeping.
//
// Grounded on the original source's master/session.rs MasterSession, and
// on the Session/Manager split used elsewhere in this codebase for the
// channel-driven control surface and functional-options construction
// style.
type Session struct {
	log   *slog.Logger
	level slog.Level

	timeout Timeout

	associations *AssociationMap

	queue      chan Message
	queueDepth int

	metrics sessionMetrics
}

// sessionMetrics is the minimal counter set the session updates directly;
// internal/metrics.Collector observes it through the accessor methods
// below rather than the session importing the metrics package, avoiding
// a dependency from the domain core onto an ambient concern.
type sessionMetrics struct {
	requestsSent        uint64
	responsesTimedOut   uint64
	fragmentsAccepted   uint64
	fragmentsDiscarded  uint64
	confirmationsSent   uint64
	unsolicitedAccepted uint64
	tasksCompleted      uint64
	tasksFailed         uint64
}

// NewSession constructs a Session with a ready-to-use control channel.
func NewSession(log *slog.Logger, opts ...SessionOption) *Session {
	if log == nil {
		log = slog.Default()
	}
	s := &Session{
		log:          log,
		level:        slog.LevelDebug,
		timeout:      NewTimeout(DefaultResponseTimeout),
		associations: NewAssociationMap(),
		queueDepth:   64,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.queue = make(chan Message, s.queueDepth)
	return s
}

// Messages returns the channel callers send control Messages on.
func (s *Session) Messages() chan<- Message {
	return s.queue
}

// Metrics returns a point-in-time snapshot of the session's counters,
// consumed by internal/metrics.Collector.
func (s *Session) Metrics() (requestsSent, timedOut, accepted, discarded, confirmed, unsolicited, completed, failed uint64) {
	m := &s.metrics
	return m.requestsSent, m.responsesTimedOut, m.fragmentsAccepted, m.fragmentsDiscarded, m.confirmationsSent, m.unsolicitedAccepted, m.tasksCompleted, m.tasksFailed
}

// Run drives the session loop until ctx is canceled, the transport fails,
// or the control channel is closed. It
// returns only on the conditions summarized by RunError.
func (s *Session) Run(ctx context.Context, reader FrameReader, writer FrameWriter) *RunError {
	for {
		next := s.associations.NextTask(time.Now())

		var err *RunError
		switch next.Kind {
		case NextNow:
			err = s.runTask(ctx, next.Task, reader, writer)
		case NextNotBefore:
			err = s.idleUntil(ctx, next.Deadline, reader, writer)
		case NextNone:
			err = s.idleForever(ctx, reader, writer)
		}

		if err != nil {
			s.associations.Reset()
			reader.Reset()
			writer.Reset()
			return err
		}
	}
}

// DelayFor blocks for duration, processing control messages in the
// meantime, returning early only on shutdown.
func (s *Session) DelayFor(ctx context.Context, duration time.Duration) error {
	deadline := time.Now().Add(duration)
	for {
		timer := time.NewTimer(time.Until(deadline))
		select {
		case msg, ok := <-s.queue:
			timer.Stop()
			if !ok {
				return ErrTaskShutdown
			}
			s.processMessage(msg, false)
		case <-timer.C:
			return nil
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// startRead launches reader.Read in the background under a cancelable
// child context, so that whichever select branch wins, the caller can
// cancel the read and wait for it to actually return before looping
// again — otherwise a second Read could be launched concurrently with
// one still in flight. Rust's tokio::select! gets this for free by
// dropping the losing future; Go needs it spelled out.
func (s *Session) startRead(ctx context.Context, reader FrameReader) (done <-chan error, stop func()) {
	readCtx, cancel := context.WithCancel(ctx)
	ch := make(chan error, 1)
	go func() { ch <- reader.Read(readCtx) }()
	return ch, func() {
		cancel()
		<-ch
	}
}

func (s *Session) idleForever(ctx context.Context, reader FrameReader, writer FrameWriter) *RunError {
	readDone, stopRead := s.startRead(ctx, reader)

	select {
	case msg, ok := <-s.queue:
		stopRead()
		if !ok {
			return &RunError{Shutdown: true}
		}
		s.processMessage(msg, true)
		return nil
	case err := <-readDone:
		if err != nil {
			return &RunError{Link: err}
		}
		return s.handleFragmentWhileIdle(ctx, reader, writer)
	case <-ctx.Done():
		stopRead()
		return &RunError{Shutdown: true}
	}
}

func (s *Session) idleUntil(ctx context.Context, deadline time.Time, reader FrameReader, writer FrameWriter) *RunError {
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	readDone, stopRead := s.startRead(ctx, reader)

	select {
	case msg, ok := <-s.queue:
		stopRead()
		if !ok {
			return &RunError{Shutdown: true}
		}
		s.processMessage(msg, true)
		return nil
	case err := <-readDone:
		if err != nil {
			return &RunError{Link: err}
		}
		return s.handleFragmentWhileIdle(ctx, reader, writer)
	case <-timer.C:
		stopRead()
		return nil
	case <-ctx.Done():
		stopRead()
		return &RunError{Shutdown: true}
	}
}

func (s *Session) processMessage(msg Message, isConnected bool) {
	switch {
	case msg.Master != nil:
		s.processMasterMessage(msg.Master)
	case msg.Association != nil:
		assoc, err := s.associations.Get(msg.Association.Address)
		if err != nil {
			msg.Association.OnAssociationFailure(err)
			return
		}
		assoc.ProcessMessage(msg.Association)
		_ = isConnected
	}
}

func (s *Session) processMasterMessage(msg *MasterMessage) {
	switch msg.Kind {
	case MsgAddAssociation:
		err := s.associations.Register(msg.NewAssociation)
		if msg.AddResult != nil {
			msg.AddResult(err)
		}
	case MsgRemoveAssociation:
		s.associations.Remove(msg.RemoveAddress)
	case MsgSetDecodeLogLevel:
		s.level = msg.NewLevel
	case MsgGetDecodeLogLevel:
		if msg.LevelResult != nil {
			msg.LevelResult(s.level)
		}
	}
}

// readNextResponse blocks until a fragment is buffered or the deadline
// passes, racing both against the control queue the way session.rs's
// read_next_response does: a control message that arrives meanwhile is
// processed and the wait continues against the same deadline.
func (s *Session) readNextResponse(ctx context.Context, deadline time.Time, reader FrameReader) error {
	for {
		timer := time.NewTimer(time.Until(deadline))
		readDone, stopRead := s.startRead(ctx, reader)

		select {
		case <-timer.C:
			stopRead()
			s.metrics.responsesTimedOut++
			s.log.Warn("no response within timeout", "timeout", s.timeout.Duration())
			return ErrResponseTimeout
		case err := <-readDone:
			timer.Stop()
			if err != nil {
				return &linkFailure{err: err}
			}
			return nil
		case msg, ok := <-s.queue:
			timer.Stop()
			stopRead()
			if !ok {
				return ErrTaskShutdown
			}
			s.processMessage(msg, true)
		case <-ctx.Done():
			timer.Stop()
			stopRead()
			return ErrTaskShutdown
		}
	}
}

func (s *Session) runTask(ctx context.Context, at AssociationTask, reader FrameReader, writer FrameWriter) *RunError {
	var taskErr error
	if at.Task.Kind == TaskKindRead {
		taskErr = s.runReadTask(ctx, at.Address, at.Task.Read, reader, writer)
	} else {
		taskErr = s.runNonReadTask(ctx, at.Address, at.Task.NonRead, reader, writer)
	}

	if taskErr == nil {
		s.metrics.tasksCompleted++
		return nil
	}
	s.metrics.tasksFailed++

	if errors.Is(taskErr, ErrTaskShutdown) {
		return &RunError{Shutdown: true}
	}
	var linkErr *linkFailure
	if errors.As(taskErr, &linkErr) {
		return &RunError{Link: linkErr.err}
	}
	return nil
}

// linkFailure wraps a transport-level error so runTask can distinguish
// it from an ordinary task-scoped failure.
type linkFailure struct{ err error }

func (l *linkFailure) Error() string { return l.err.Error() }
func (l *linkFailure) Unwrap() error { return l.err }

func (s *Session) sendRequest(ctx context.Context, address EndpointAddress, task Task, writer FrameWriter) (Sequence, error) {
	assoc, err := s.associations.Get(address)
	if err != nil {
		return 0, err
	}
	seq := assoc.IncrementSeq()
	payload, err := task.Encode()
	if err != nil {
		return 0, err
	}

	frame := make([]byte, 0, len(payload)+2)
	control := RequestControl(seq)
	frame = append(frame, control.Byte(), byte(task.FunctionCode()))
	frame = append(frame, payload...)

	if err := writer.Write(ctx, s.level, address, frame); err != nil {
		return 0, &linkFailure{err: err}
	}
	s.metrics.requestsSent++
	return seq, nil
}

func (s *Session) confirmSolicited(ctx context.Context, address EndpointAddress, seq Sequence, writer FrameWriter) error {
	return s.sendConfirm(ctx, address, seq, writer)
}

func (s *Session) confirmUnsolicited(ctx context.Context, address EndpointAddress, seq Sequence, writer FrameWriter) error {
	return s.sendConfirm(ctx, address, seq, writer)
}

func (s *Session) sendConfirm(ctx context.Context, address EndpointAddress, seq Sequence, writer FrameWriter) error {
	control := Control{FIN: true, Seq: seq}
	frame := []byte{control.Byte(), byte(FuncConfirm)}
	if err := writer.Write(ctx, s.level, address, frame); err != nil {
		return &linkFailure{err: err}
	}
	s.metrics.confirmationsSent++
	return nil
}

func (s *Session) runNonReadTask(ctx context.Context, destination EndpointAddress, task *NonReadTask, reader FrameReader, writer FrameWriter) error {
	for {
		seq, err := s.sendRequest(ctx, destination, task.wrap(), writer)
		if err != nil {
			task.OnTaskError(s.associationOrNil(destination), err)
			return err
		}

		deadline := s.timeout.DeadlineFromNow()

		for {
			if err := s.readNextResponse(ctx, deadline, reader); err != nil {
				task.OnTaskError(s.associationOrNil(destination), err)
				return err
			}

			response, action, err := s.validateNonReadResponse(ctx, destination, seq, reader, writer)
			if err != nil {
				task.OnTaskError(s.associationOrNil(destination), err)
				return err
			}
			if action == readActionIgnore {
				continue
			}

			assoc, err := s.associations.Get(destination)
			if err != nil {
				task.OnTaskError(nil, err)
				return err
			}
			assoc.ProcessIIN(response.Header.IIN)
			s.metrics.fragmentsAccepted++

			next, err := task.Handle(assoc, response.Header, response.Echoed)
			if err != nil {
				task.OnTaskError(assoc, err)
				return err
			}
			if next == nil {
				task.OnSuccess(destination)
				return nil
			}
			task = next
			break
		}
	}
}

type readAction int

const (
	readActionIgnore readAction = iota
	readActionAccept
)

func (s *Session) validateNonReadResponse(ctx context.Context, destination EndpointAddress, seq Sequence, reader FrameReader, writer FrameWriter) (Response, readAction, error) {
	source, response, ok := reader.PopResponse(s.level)
	if !ok {
		return Response{}, readActionIgnore, nil
	}

	if response.Header.Function.IsUnsolicited() {
		if err := s.handleUnsolicited(ctx, source, response, writer); err != nil {
			return Response{}, readActionIgnore, &linkFailure{err: err}
		}
		return Response{}, readActionIgnore, nil
	}

	if source != destination {
		s.log.Warn("received response from unexpected association", "source", source, "expected", destination)
		s.metrics.fragmentsDiscarded++
		return Response{}, readActionIgnore, nil
	}

	if !response.Header.Control.Seq.Equal(seq) {
		s.log.Warn("unexpected sequence number in response", "got", response.Header.Control.Seq.Value(), "want", seq.Value())
		s.metrics.fragmentsDiscarded++
		return Response{}, readActionIgnore, nil
	}

	if !response.Header.Control.IsFirAndFin() {
		return Response{}, readActionIgnore, ErrMultiFragmentResponse
	}

	if response.Header.Control.CON {
		if err := s.confirmSolicited(ctx, destination, seq, writer); err != nil {
			return Response{}, readActionIgnore, err
		}
	}

	return response, readActionAccept, nil
}

func (s *Session) runReadTask(ctx context.Context, destination EndpointAddress, task *ReadTask, reader FrameReader, writer FrameWriter) error {
	err := s.executeReadTask(ctx, destination, task, reader, writer)

	assoc := s.associationOrNil(destination)
	if err == nil {
		if assoc != nil {
			if task.AutoIntegrityPoll {
				assoc.onIntegrityPollResponse()
			}
			task.OnSuccess(destination)
		} else {
			task.OnTaskError(destination, ErrNoSuchAssociation)
		}
	} else {
		if assoc != nil && task.AutoIntegrityPoll {
			assoc.onIntegrityPollFailure()
		}
		task.OnTaskError(destination, err)
	}
	return err
}

func (s *Session) executeReadTask(ctx context.Context, destination EndpointAddress, task *ReadTask, reader FrameReader, writer FrameWriter) error {
	seq, err := s.sendRequest(ctx, destination, task.wrap(), writer)
	if err != nil {
		return err
	}
	isFirst := true

	for {
		deadline := s.timeout.DeadlineFromNow()

		for {
			if err := s.readNextResponse(ctx, deadline, reader); err != nil {
				return err
			}

			action, err := s.processReadResponse(ctx, destination, isFirst, seq, task, reader, writer)
			if err != nil {
				return err
			}

			switch action {
			case readResponseIgnore:
				continue
			case readResponseComplete:
				return nil
			case readResponseNext:
				isFirst = false
				assoc, err := s.associations.Get(destination)
				if err != nil {
					return err
				}
				seq = assoc.IncrementSeq()
			}
			break
		}
	}
}

type readResponseAction int

const (
	readResponseIgnore readResponseAction = iota
	readResponseComplete
	readResponseNext
)

func (s *Session) processReadResponse(ctx context.Context, destination EndpointAddress, isFirst bool, seq Sequence, task *ReadTask, reader FrameReader, writer FrameWriter) (readResponseAction, error) {
	source, response, ok := reader.PopResponse(s.level)
	if !ok {
		return readResponseIgnore, nil
	}

	if response.Header.Function.IsUnsolicited() {
		if err := s.handleUnsolicited(ctx, source, response, writer); err != nil {
			return readResponseIgnore, &linkFailure{err: err}
		}
		return readResponseIgnore, nil
	}

	if source != destination {
		s.log.Warn("received response from unexpected association", "source", source, "expected", destination)
		s.metrics.fragmentsDiscarded++
		return readResponseIgnore, nil
	}

	if !response.Header.Control.Seq.Equal(seq) {
		s.log.Warn("response sequence mismatch", "got", response.Header.Control.Seq.Value(), "want", seq.Value())
		s.metrics.fragmentsDiscarded++
		return readResponseIgnore, nil
	}

	if response.Header.Control.FIR && !isFirst {
		return readResponseIgnore, ErrUnexpectedFir
	}
	if !response.Header.Control.FIR && isFirst {
		return readResponseIgnore, ErrNeverReceivedFir
	}
	if !response.Header.Control.FIN && !response.Header.Control.CON {
		return readResponseIgnore, ErrNonFinWithoutCon
	}

	assoc, err := s.associations.Get(destination)
	if err != nil {
		return readResponseIgnore, err
	}
	assoc.ProcessIIN(response.Header.IIN)
	s.metrics.fragmentsAccepted++
	task.ProcessResponse(response.Header, response.Objects, destination)

	if response.Header.Control.CON {
		if err := s.confirmSolicited(ctx, destination, seq, writer); err != nil {
			return readResponseIgnore, err
		}
	}

	if response.Header.Control.FIN {
		return readResponseComplete, nil
	}
	return readResponseNext, nil
}

func (s *Session) handleFragmentWhileIdle(ctx context.Context, reader FrameReader, writer FrameWriter) *RunError {
	source, response, ok := reader.PopResponse(s.level)
	if !ok {
		return nil
	}

	if response.Header.Function.IsUnsolicited() {
		if err := s.handleUnsolicited(ctx, source, response, writer); err != nil {
			return &RunError{Link: err}
		}
		return nil
	}

	s.log.Warn("unexpected response while idle", "source", source, "seq", response.Header.Control.Seq.Value())
	s.metrics.fragmentsDiscarded++
	return nil
}

func (s *Session) handleUnsolicited(ctx context.Context, source EndpointAddress, response Response, writer FrameWriter) error {
	assoc, err := s.associations.Get(source)
	if err != nil {
		s.log.Warn("unsolicited response from unknown association", "source", source)
		return nil
	}

	assoc.ProcessIIN(response.Header.IIN)
	valid := assoc.HandleUnsolicitedResponse(response.Header, response.Objects)
	if valid {
		s.metrics.unsolicitedAccepted++
	}

	if valid && response.Header.Control.CON {
		if err := s.confirmUnsolicited(ctx, source, response.Header.Control.Seq, writer); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) associationOrNil(address EndpointAddress) *Association {
	a, err := s.associations.Get(address)
	if err != nil {
		return nil
	}
	return a
}

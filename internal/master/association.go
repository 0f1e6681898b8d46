package master

import (
	"container/list"
	"time"
)

// housekeepingCooldown is the minimum interval between repeated attempts
// of the same auto task on one association after a failure, so a
// permanently unreachable or misbehaving outstation cannot monopolize
// the scheduler (Open Question: auto-task retry cooldown).
const housekeepingCooldown = 30 * time.Second

// PollDefinition describes one periodically repeated Read request.
type PollDefinition struct {
	Request  ReadRequest
	Period   time.Duration
	Handler  ResponseHandler
	lastRun  time.Time
	nextRun  time.Time
}

// Association holds all per-association state: the link sequence
// counter, pending housekeeping flags, the enqueued ad-hoc task queue,
// configured polls, and the user-supplied callbacks.
type Association struct {
	Address EndpointAddress

	seq Sequence

	// unsolicitedEnabled tracks whether this association believes
	// unsolicited reporting is currently turned on at the outstation.
	unsolicitedEnabled bool
	// enabledClasses is the set of event classes the caller wants
	// unsolicited reporting enabled for.
	enabledClasses EventClasses

	// pendingClearRestart is set whenever the last received IIN had the
	// device-restart bit, until a successful ClearRestartBit auto task
	// runs.
	pendingClearRestart bool
	// pendingEnableUnsolicited / pendingDisableUnsolicited request the
	// matching auto task be scheduled.
	pendingEnableUnsolicited  bool
	pendingDisableUnsolicited bool
	// pendingIntegrityPoll is set once the last received IIN signalled
	// buffered events the outstation wants polled, until a successful
	// integrity-poll auto task runs.
	pendingIntegrityPoll bool

	lastAutoAttempt map[AutoTaskKind]time.Time

	polls []*PollDefinition

	// userTasks is the FIFO of ad-hoc tasks enqueued through the control
	// surface.
	userTasks *list.List

	Response     ResponseHandler
	Unsolicited  UnsolicitedHandler
	TaskComplete TaskCompletionHandler

	lastIIN IIN
}

// NewAssociation constructs an Association with default (everything
// disabled) housekeeping state.
func NewAssociation(address EndpointAddress) *Association {
	return &Association{
		Address:         address,
		lastAutoAttempt: make(map[AutoTaskKind]time.Time),
		userTasks:       list.New(),
	}
}

// IncrementSeq returns the current sequence and advances it, mirroring
// the original source's Association::increment_seq.
func (a *Association) IncrementSeq() Sequence {
	cur := a.seq
	a.seq = a.seq.Next()
	return cur
}

// CurrentSeq returns the sequence without advancing it.
func (a *Association) CurrentSeq() Sequence {
	return a.seq
}

// EnqueueTask appends an ad-hoc task to this association's user queue.
func (a *Association) EnqueueTask(t Task) {
	a.userTasks.PushBack(t)
}

// SetEnabledEventClasses updates which classes unsolicited reporting
// should be enabled for, and schedules the matching auto task: disable
// when no class is selected, enable otherwise.
func (a *Association) SetEnabledEventClasses(classes EventClasses) {
	a.enabledClasses = classes
	if classes.None() {
		a.pendingDisableUnsolicited = true
		a.pendingEnableUnsolicited = false
	} else {
		a.pendingEnableUnsolicited = true
		a.pendingDisableUnsolicited = false
	}
}

// AddPoll registers a periodic poll, due to run immediately on the next
// scheduling pass.
func (a *Association) AddPoll(p PollDefinition) *PollDefinition {
	p.nextRun = time.Time{}
	entry := p
	a.polls = append(a.polls, &entry)
	return &entry
}

// ProcessIIN updates housekeeping flags from the IIN of a just-received
// response (grounded on session.rs
// handle_unsolicited / run_non_read_task calling association.process_iin,
// and auto.rs semantics).
func (a *Association) ProcessIIN(iin IIN) {
	a.lastIIN = iin
	if iin.Has(IINDeviceRestart) {
		a.pendingClearRestart = true
	}
	if iin.Has(IINNeedTime) {
		// Time sync is scheduled by the caller via an explicit
		// NonReadTimeSync task; the session only surfaces the bit
		// through the response handler callback.
		_ = iin
	}
	if iin.Has(IINEventBufferOverflow) || iin.HasAnyEventClass() {
		a.pendingIntegrityPoll = true
	}
}

// nextAutoTask returns the highest-priority pending housekeeping task
// for this association, honoring the retry cooldown, or false if none
// is due. Priority order is fixed: clear the restart bit, disable
// unsolicited reporting, run an integrity poll, then enable unsolicited
// reporting.
func (a *Association) nextAutoTask(now time.Time) (Task, bool) {
	try := func(kind AutoTaskKind, pending bool) (Task, bool) {
		if !pending {
			return Task{}, false
		}
		if last, ok := a.lastAutoAttempt[kind]; ok && now.Sub(last) < housekeepingCooldown {
			return Task{}, false
		}
		a.lastAutoAttempt[kind] = now
		switch kind {
		case AutoClearRestartBit:
			return (&NonReadTask{Kind: NonReadAuto, Auto: AutoClearRestartBit}).wrap(), true
		case AutoDisableUnsolicited:
			return (&NonReadTask{Kind: NonReadAuto, Auto: AutoDisableUnsolicited, EventClasses: a.enabledClasses}).wrap(), true
		case AutoIntegrityPoll:
			return (&ReadTask{Request: NewClassScanRequest(IntegrityClasses()), Handler: a.Response, AutoIntegrityPoll: true}).wrap(), true
		case AutoEnableUnsolicited:
			return (&NonReadTask{Kind: NonReadAuto, Auto: AutoEnableUnsolicited, EventClasses: a.enabledClasses}).wrap(), true
		}
		return Task{}, false
	}

	if t, ok := try(AutoClearRestartBit, a.pendingClearRestart); ok {
		return t, true
	}
	if t, ok := try(AutoDisableUnsolicited, a.pendingDisableUnsolicited); ok {
		return t, true
	}
	if t, ok := try(AutoIntegrityPoll, a.pendingIntegrityPoll); ok {
		return t, true
	}
	if t, ok := try(AutoEnableUnsolicited, a.pendingEnableUnsolicited); ok {
		return t, true
	}
	return Task{}, false
}

// duePoll returns the earliest poll due to run at or before now, and its
// next-due time otherwise.
func (a *Association) duePoll(now time.Time) (*PollDefinition, bool) {
	var earliest *PollDefinition
	for _, p := range a.polls {
		if !p.nextRun.After(now) {
			if earliest == nil || p.nextRun.Before(earliest.nextRun) {
				earliest = p
			}
		}
	}
	return earliest, earliest != nil
}

// nextPollDeadline returns the soonest time any configured poll will
// next be due, or zero if there are none.
func (a *Association) nextPollDeadline() (time.Time, bool) {
	var earliest time.Time
	found := false
	for _, p := range a.polls {
		if !found || p.nextRun.Before(earliest) {
			earliest = p.nextRun
			found = true
		}
	}
	return earliest, found
}

func (p *PollDefinition) markRun(now time.Time) {
	p.lastRun = now
	p.nextRun = now.Add(p.Period)
}

// onDisableUnsolicitedResponse clears the pending flag on success.
func (a *Association) onDisableUnsolicitedResponse(iin IIN) {
	a.pendingDisableUnsolicited = false
	a.unsolicitedEnabled = false
	a.lastIIN = iin
}

func (a *Association) onDisableUnsolicitedFailure() {}

func (a *Association) onEnableUnsolicitedResponse(iin IIN) {
	a.pendingEnableUnsolicited = false
	a.unsolicitedEnabled = true
	a.lastIIN = iin
}

func (a *Association) onEnableUnsolicitedFailure() {}

func (a *Association) onClearRestartIINResponse(iin IIN) {
	a.pendingClearRestart = false
	a.lastIIN = iin
}

func (a *Association) onClearRestartIINFailure() {}

func (a *Association) onIntegrityPollResponse() {
	a.pendingIntegrityPoll = false
}

func (a *Association) onIntegrityPollFailure() {}

// HandleUnsolicitedResponse delivers an unsolicited response's object
// headers to the association's unsolicited handler and returns its
// validity report. Returns true (confirm) when no handler is registered,
// matching the original source's Association::handle_unsolicited_response
// contract referenced from session.rs handle_unsolicited.
func (a *Association) HandleUnsolicitedResponse(header ResponseHeader, objects []byte) bool {
	if a.Unsolicited == nil {
		return true
	}
	return a.Unsolicited.HandleUnsolicited(a.Address, header, objects)
}

// ProcessMessage applies an AssociationMessage to this association.
func (a *Association) ProcessMessage(msg *AssociationMessage) {
	switch msg.Kind {
	case MsgEnqueueTask:
		a.EnqueueTask(msg.Task)
	case MsgConfigurePolls:
		polls := make([]*PollDefinition, 0, len(msg.ConfigurePolls))
		for _, p := range msg.ConfigurePolls {
			entry := p
			entry.nextRun = time.Time{}
			polls = append(polls, &entry)
		}
		a.polls = polls
	case MsgSetEventClasses:
		a.SetEnabledEventClasses(msg.EnabledClasses)
	}
}

// reset clears in-flight housekeeping retry timers on a link failure so
// that auto tasks are retried promptly once the link comes back up.
func (a *Association) reset() {
	a.lastAutoAttempt = make(map[AutoTaskKind]time.Time)
}

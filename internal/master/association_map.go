package master

import (
	"errors"
	"time"
)

// NextKind discriminates the three outcomes of scheduling: a task is
// ready now, nothing is ready but something will be before a deadline,
// or nothing is scheduled at all (grounded on
// the original source's master/association.rs Next enum referenced from
// session.rs get_next_task).
type NextKind int

const (
	NextNow NextKind = iota
	NextNotBefore
	NextNone
)

// AssociationTask pairs a scheduled Task with the association it targets.
type AssociationTask struct {
	Address EndpointAddress
	Task    Task
}

// Next is the result of AssociationMap.NextTask.
type Next struct {
	Kind     NextKind
	Task     AssociationTask
	Deadline time.Time
}

// AssociationMap owns every Association known to the session and decides
// which one runs next. Iteration order is the
// registration order, so associations are served round-robin rather than
// one starving the rest.
type AssociationMap struct {
	order []EndpointAddress
	byID  map[EndpointAddress]*Association
	// rr is the round-robin cursor into order, advanced every time a
	// task is handed out so repeated polls don't monopolize one
	// association ahead of its peers.
	rr int
}

// NewAssociationMap returns an empty map.
func NewAssociationMap() *AssociationMap {
	return &AssociationMap{byID: make(map[EndpointAddress]*Association)}
}

// Register adds a new association, returning ErrDuplicateAssociation if
// the address is already registered.
func (m *AssociationMap) Register(a *Association) error {
	if _, exists := m.byID[a.Address]; exists {
		return ErrDuplicateAssociation
	}
	m.byID[a.Address] = a
	m.order = append(m.order, a.Address)
	return nil
}

// ErrDuplicateAssociation is returned by Register when the address is
// already known.
var ErrDuplicateAssociation = errors.New("association already registered")

// Remove deregisters an association, if present.
func (m *AssociationMap) Remove(address EndpointAddress) {
	if _, ok := m.byID[address]; !ok {
		return
	}
	delete(m.byID, address)
	for i, a := range m.order {
		if a == address {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// Get returns the association for address, or ErrNoSuchAssociation.
func (m *AssociationMap) Get(address EndpointAddress) (*Association, error) {
	a, ok := m.byID[address]
	if !ok {
		return nil, ErrNoSuchAssociation
	}
	return a, nil
}

// Reset clears transient retry state on every association after a link
// failure.
func (m *AssociationMap) Reset() {
	for _, a := range m.byID {
		a.reset()
	}
}

// NextTask picks the next unit of work to run, in fixed priority order
// per association (user-enqueued tasks first, then housekeeping auto
// tasks, then due polls), round-robining across associations so that no
// single one starves its peers.
func (m *AssociationMap) NextTask(now time.Time) Next {
	if len(m.order) == 0 {
		return Next{Kind: NextNone}
	}

	var earliestDeadline time.Time
	haveDeadline := false

	for i := 0; i < len(m.order); i++ {
		idx := (m.rr + i) % len(m.order)
		address := m.order[idx]
		a := m.byID[address]

		if a.userTasks.Len() > 0 {
			front := a.userTasks.Front()
			a.userTasks.Remove(front)
			m.rr = (idx + 1) % len(m.order)
			return Next{Kind: NextNow, Task: AssociationTask{Address: address, Task: front.Value.(Task)}}
		}

		if auto, ok := a.nextAutoTask(now); ok {
			m.rr = (idx + 1) % len(m.order)
			return Next{Kind: NextNow, Task: AssociationTask{Address: address, Task: auto}}
		}

		if poll, due := a.duePoll(now); due {
			poll.markRun(now)
			m.rr = (idx + 1) % len(m.order)
			task := (&ReadTask{Request: poll.Request, Handler: poll.Handler}).wrap()
			return Next{Kind: NextNow, Task: AssociationTask{Address: address, Task: task}}
		}

		if deadline, ok := a.nextPollDeadline(); ok {
			if !haveDeadline || deadline.Before(earliestDeadline) {
				earliestDeadline = deadline
				haveDeadline = true
			}
		}
	}

	if haveDeadline {
		return Next{Kind: NextNotBefore, Deadline: earliestDeadline}
	}
	return Next{Kind: NextNone}
}

package master

import (
	"errors"
	"fmt"
)

// Sentinel errors describing why a single task (one Read or non-Read
// exchange) was abandoned. Grounded on the original source's
// master/tasks/task.rs TaskError enum.
var (
	// ErrTaskShutdown means the session was shut down while the task was
	// outstanding.
	ErrTaskShutdown = errors.New("master session shut down")

	// ErrResponseTimeout means no response arrived before the
	// configured response timeout elapsed.
	ErrResponseTimeout = errors.New("response timeout")

	// ErrMultiFragmentResponse means a non-read task received a response
	// with FIN=0, which is only legal for Read exchanges.
	ErrMultiFragmentResponse = errors.New("non-read task received a multi-fragment response")

	// ErrUnexpectedFir means a continuation fragment arrived with FIR=1
	// set, which is only legal on the first fragment of a reassembly.
	ErrUnexpectedFir = errors.New("unexpected FIR bit on continuation fragment")

	// ErrNeverReceivedFir means a fragment with FIR=0 arrived before any
	// fragment with FIR=1 was seen for this exchange.
	ErrNeverReceivedFir = errors.New("first fragment of reassembly never had FIR set")

	// ErrNonFinWithoutCon means a non-final fragment (FIN=0) asked for
	// no confirmation, violating the solicited read confirmation rule.
	ErrNonFinWithoutCon = errors.New("non-final fragment did not request confirmation")

	// ErrNoSuchAssociation means the fragment's source address does not
	// match any association known to the session.
	ErrNoSuchAssociation = errors.New("no such association")

	// ErrUnexpectedResponseHeaders means the response's object headers do
	// not echo the command headers the task sent, failing select-before-
	// operate validation.
	ErrUnexpectedResponseHeaders = errors.New("response headers do not match request")
)

// TaskError wraps a sentinel task error with the task that failed, for
// delivery to a TaskCompletionHandler.
type TaskError struct {
	Association EndpointAddress
	Err         error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task on association %s failed: %v", e.Association, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// RunError is returned by Session.Run when the session loop exits.
// Grounded on the original source's master/session.rs RunError enum.
type RunError struct {
	// Link is the transport error that ended the run, if any. A nil
	// Link with Shutdown true means the session was stopped cleanly: its
	// context was canceled or its control channel was closed.
	Link     error
	Shutdown bool
}

func (e *RunError) Error() string {
	if e.Shutdown {
		return "master session shut down"
	}
	return fmt.Sprintf("master session link error: %v", e.Link)
}

func (e *RunError) Unwrap() error {
	return e.Link
}

// ErrLinkClosed is returned by a transport when the underlying connection
// has been closed by the peer or by the caller.
var ErrLinkClosed = errors.New("link closed")

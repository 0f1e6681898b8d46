package master_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dantte-lp/dnp3master/internal/master"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mustRegister sends an AddAssociation control message and blocks until
// the session (already running via Run in another goroutine) has
// processed it, failing the test on error.
func mustRegister(t *testing.T, sess *master.Session, assoc *master.Association) {
	t.Helper()
	result := make(chan error, 1)
	sess.Messages() <- master.NewAddAssociationMessage(assoc, func(err error) { result <- err })
	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("AddAssociation failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for AddAssociation to be processed")
	}
}

func TestSessionRunCompletesMultiFragmentReadTask(t *testing.T) {
	t.Parallel()

	sess := master.NewSession(testLogger())
	link := newFakeLink()

	const addr = master.EndpointAddress(1)
	assoc := master.NewAssociation(addr)

	done := make(chan struct{})
	link.onWrite = func(idx int, dest master.EndpointAddress, _ []byte, push func(master.EndpointAddress, master.Response)) {
		switch idx {
		case 0: // the Read request itself: answer with the first fragment, CON=true
			push(dest, master.Response{Header: master.ResponseHeader{
				Function: master.FuncResponse,
				Control:  master.Control{FIR: true, FIN: false, CON: true, Seq: 0},
			}})
		case 1: // the confirm the session sends in response to CON=true: answer with the final fragment
			push(dest, master.Response{Header: master.ResponseHeader{
				Function: master.FuncResponse,
				Control:  master.Control{FIR: false, FIN: true, CON: false, Seq: 1},
			}})
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan *master.RunError, 1)
	go func() { runErr <- sess.Run(ctx, link, link) }()

	mustRegister(t, sess, assoc)

	task := master.Task{Kind: master.TaskKindRead, Read: &master.ReadTask{
		Request: master.NewClassScanRequest(master.IntegrityClasses()),
		Complete: master.TaskCompletionFuncs{
			Success: func(master.EndpointAddress) { close(done) },
			Failure: func(_ master.EndpointAddress, err error) { t.Errorf("task failed: %v", err) },
		},
	}}
	sess.Messages() <- master.NewEnqueueTaskMessage(addr, task, func(err error) { t.Errorf("enqueue failed: %v", err) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for read task to complete")
	}

	cancel()
	select {
	case err := <-runErr:
		if !err.Shutdown {
			t.Errorf("RunError = %+v, want Shutdown=true", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}

	if got := link.writeCountSnapshot(); got != 2 {
		t.Errorf("write count = %d, want 2 (request + confirm)", got)
	}
}

func TestSessionRunCompletesDirectOperateCommand(t *testing.T) {
	t.Parallel()

	sess := master.NewSession(testLogger())
	link := newFakeLink()

	const addr = master.EndpointAddress(2)
	assoc := master.NewAssociation(addr)

	done := make(chan struct{})
	link.onWrite = func(idx int, dest master.EndpointAddress, _ []byte, push func(master.EndpointAddress, master.Response)) {
		if idx != 0 {
			return
		}
		push(dest, master.Response{
			Header: master.ResponseHeader{
				Function: master.FuncResponse,
				Control:  master.Control{FIR: true, FIN: true, Seq: 0},
			},
			Echoed: [][]byte{{0xAA, 0xBB, 0x00}},
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan *master.RunError, 1)
	go func() { runErr <- sess.Run(ctx, link, link) }()

	mustRegister(t, sess, assoc)

	task := master.Task{Kind: master.TaskKindNonRead, NonRead: &master.NonReadTask{
		Kind:        master.NonReadCommand,
		Command:     newCommandHeaders(),
		CommandMode: master.DirectOperate,
		Complete: master.TaskCompletionFuncs{
			Success: func(master.EndpointAddress) { close(done) },
			Failure: func(_ master.EndpointAddress, err error) { t.Errorf("task failed: %v", err) },
		},
	}}
	sess.Messages() <- master.NewEnqueueTaskMessage(addr, task, func(err error) { t.Errorf("enqueue failed: %v", err) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for command task to complete")
	}

	cancel()
	select {
	case err := <-runErr:
		if !err.Shutdown {
			t.Errorf("RunError = %+v, want Shutdown=true", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestSessionRunDeliversUnsolicitedResponseWhileIdle(t *testing.T) {
	t.Parallel()

	sess := master.NewSession(testLogger())
	link := newFakeLink()

	const addr = master.EndpointAddress(3)
	assoc := master.NewAssociation(addr)

	delivered := make(chan master.EndpointAddress, 1)
	assoc.Unsolicited = master.UnsolicitedHandlerFunc(func(address master.EndpointAddress, _ master.ResponseHeader, _ []byte) bool {
		delivered <- address
		return true
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan *master.RunError, 1)
	go func() { runErr <- sess.Run(ctx, link, link) }()

	mustRegister(t, sess, assoc)

	link.push(addr, master.Response{Header: master.ResponseHeader{
		Function: master.FuncUnsolicitedResponse,
		Control:  master.Control{FIR: true, FIN: true, CON: true, Seq: 0},
	}})

	select {
	case got := <-delivered:
		if got != addr {
			t.Errorf("unsolicited handler address = %v, want %v", got, addr)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for unsolicited response delivery")
	}

	cancel()
	select {
	case err := <-runErr:
		if !err.Shutdown {
			t.Errorf("RunError = %+v, want Shutdown=true", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestSessionRunReturnsLinkErrorOnReadFailure(t *testing.T) {
	t.Parallel()

	sess := master.NewSession(testLogger())
	link := newFakeLink()
	linkErr := errors.New("transport closed")
	link.readErr = linkErr

	got := sess.Run(context.Background(), link, link)
	if got == nil || !errors.Is(got.Link, linkErr) {
		t.Errorf("RunError = %+v, want Link=%v", got, linkErr)
	}
	if got.Shutdown {
		t.Error("RunError.Shutdown = true, want false on a link failure")
	}
}

func TestSessionRunDiscardsMismatchedSequenceThenCompletes(t *testing.T) {
	t.Parallel()

	sess := master.NewSession(testLogger())
	link := newFakeLink()

	const addr = master.EndpointAddress(4)
	assoc := master.NewAssociation(addr)

	done := make(chan struct{})
	link.onWrite = func(idx int, dest master.EndpointAddress, _ []byte, push func(master.EndpointAddress, master.Response)) {
		if idx != 0 {
			return
		}
		// Wrong sequence: must be discarded without completing the task.
		push(dest, master.Response{Header: master.ResponseHeader{
			Function: master.FuncResponse,
			Control:  master.Control{FIR: true, FIN: true, Seq: 5},
		}})
		// Correct sequence: completes the task.
		push(dest, master.Response{Header: master.ResponseHeader{
			Function: master.FuncResponse,
			Control:  master.Control{FIR: true, FIN: true, Seq: 0},
		}})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan *master.RunError, 1)
	go func() { runErr <- sess.Run(ctx, link, link) }()

	mustRegister(t, sess, assoc)

	task := master.Task{Kind: master.TaskKindRead, Read: &master.ReadTask{
		Request: master.NewClassScanRequest(master.IntegrityClasses()),
		Complete: master.TaskCompletionFuncs{
			Success: func(master.EndpointAddress) { close(done) },
			Failure: func(_ master.EndpointAddress, err error) { t.Errorf("task failed: %v", err) },
		},
	}}
	sess.Messages() <- master.NewEnqueueTaskMessage(addr, task, func(err error) { t.Errorf("enqueue failed: %v", err) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for read task to complete")
	}

	_, _, _, discarded, _, _, completed, _ := sess.Metrics()
	if discarded == 0 {
		t.Error("fragmentsDiscarded metric = 0, want at least 1")
	}
	if completed == 0 {
		t.Error("tasksCompleted metric = 0, want at least 1")
	}

	cancel()
	<-runErr
}

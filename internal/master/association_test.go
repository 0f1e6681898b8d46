package master_test

import (
	"testing"
	"time"

	"github.com/dantte-lp/dnp3master/internal/master"
)

func TestAssociationIncrementSeqWraps(t *testing.T) {
	t.Parallel()

	a := master.NewAssociation(1)
	if a.CurrentSeq().Value() != 0 {
		t.Fatalf("initial CurrentSeq() = %d, want 0", a.CurrentSeq().Value())
	}

	var last master.Sequence
	for i := 0; i < 16; i++ {
		last = a.IncrementSeq()
	}
	if last.Value() != 15 {
		t.Errorf("16th IncrementSeq() = %d, want 15", last.Value())
	}
	if a.CurrentSeq().Value() != 0 {
		t.Errorf("CurrentSeq() after 16 increments = %d, want 0 (wrapped)", a.CurrentSeq().Value())
	}
}

func TestAssociationProcessIINTracksRestart(t *testing.T) {
	t.Parallel()

	a := master.NewAssociation(1)
	a.ProcessIIN(master.IINDeviceRestart)

	m := master.NewAssociationMap()
	if err := m.Register(a); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	next := m.NextTask(time.Now())
	if next.Kind != master.NextNow {
		t.Fatalf("NextTask() kind = %v, want NextNow (pending clear-restart auto task)", next.Kind)
	}
	if next.Task.Task.Kind != master.TaskKindNonRead {
		t.Errorf("auto task kind = %v, want NonRead", next.Task.Task.Kind)
	}
}

func TestAssociationHandleUnsolicitedResponseDeliversToHandler(t *testing.T) {
	t.Parallel()

	var gotAddr master.EndpointAddress
	a := master.NewAssociation(7)
	a.Unsolicited = master.UnsolicitedHandlerFunc(func(address master.EndpointAddress, _ master.ResponseHeader, _ []byte) bool {
		gotAddr = address
		return true
	})

	ok := a.HandleUnsolicitedResponse(master.ResponseHeader{}, []byte{0x01})
	if !ok {
		t.Error("HandleUnsolicitedResponse() = false, want true")
	}
	if gotAddr != 7 {
		t.Errorf("handler received address %v, want 7", gotAddr)
	}
}

func TestAssociationHandleUnsolicitedResponseRejectsInvalid(t *testing.T) {
	t.Parallel()

	a := master.NewAssociation(7)
	a.Unsolicited = master.UnsolicitedHandlerFunc(func(master.EndpointAddress, master.ResponseHeader, []byte) bool {
		return false
	})

	if a.HandleUnsolicitedResponse(master.ResponseHeader{}, []byte{0x01}) {
		t.Error("HandleUnsolicitedResponse() = true, want false when the handler reports invalid")
	}
}

func TestAssociationHandleUnsolicitedResponseNoHandlerConfirms(t *testing.T) {
	t.Parallel()

	a := master.NewAssociation(7)

	if !a.HandleUnsolicitedResponse(master.ResponseHeader{}, []byte{0x01}) {
		t.Error("HandleUnsolicitedResponse() = false with no handler registered, want true")
	}
}

func TestAssociationEnqueueTaskFeedsMap(t *testing.T) {
	t.Parallel()

	a := master.NewAssociation(1)
	task := master.Task{Kind: master.TaskKindRead, Read: &master.ReadTask{Request: master.NewClassScanRequest(master.IntegrityClasses())}}
	a.EnqueueTask(task)

	m := master.NewAssociationMap()
	if err := m.Register(a); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	next := m.NextTask(time.Now())
	if next.Kind != master.NextNow {
		t.Fatalf("NextTask() kind = %v, want NextNow", next.Kind)
	}
	if next.Task.Address != 1 {
		t.Errorf("task address = %v, want 1", next.Task.Address)
	}
}

package master_test

import (
	"errors"
	"testing"

	"github.com/dantte-lp/dnp3master/internal/master"
)

func TestNewEndpointAddressValid(t *testing.T) {
	t.Parallel()

	addr, err := master.NewEndpointAddress(1)
	if err != nil {
		t.Fatalf("NewEndpointAddress(1) error: %v", err)
	}
	if addr != 1 {
		t.Errorf("addr = %d, want 1", addr)
	}
}

func TestNewEndpointAddressReservedBroadcast(t *testing.T) {
	t.Parallel()

	_, err := master.NewEndpointAddress(uint16(master.MinBroadcastAddress))
	if !errors.Is(err, master.ErrReservedAddress) {
		t.Errorf("err = %v, want %v", err, master.ErrReservedAddress)
	}
}

func TestEndpointAddressString(t *testing.T) {
	t.Parallel()

	addr := master.EndpointAddress(0x2A)
	if got := addr.String(); got != "0x002A" {
		t.Errorf("String() = %q, want %q", got, "0x002A")
	}
}

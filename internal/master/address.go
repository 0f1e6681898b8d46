package master

import "fmt"

// EndpointAddress is the 16-bit DNP3 link-layer address that uniquely
// identifies an association within a session.
//
// RFC-equivalent source: src/entry (referenced by dnp3/src/master/session.rs
// as EndpointAddress). Addresses 0xFFF0-0xFFFF, which include the
// broadcast addresses 0xFFFD-0xFFFF, are reserved by the protocol and
// rejected by NewEndpointAddress.
type EndpointAddress uint16

const (
	// MinBroadcastAddress is the first address of the reserved range.
	MinBroadcastAddress EndpointAddress = 0xFFF0
)

// ErrReservedAddress indicates an endpoint address falls in the reserved
// broadcast range and cannot be used for an association.
var ErrReservedAddress = fmt.Errorf("address is reserved for broadcast")

// NewEndpointAddress validates and constructs an EndpointAddress.
func NewEndpointAddress(raw uint16) (EndpointAddress, error) {
	addr := EndpointAddress(raw)
	if addr >= MinBroadcastAddress {
		return 0, fmt.Errorf("address 0x%04X: %w", raw, ErrReservedAddress)
	}
	return addr, nil
}

// String renders the address in the conventional hex form.
func (a EndpointAddress) String() string {
	return fmt.Sprintf("0x%04X", uint16(a))
}

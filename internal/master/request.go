package master

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Group 60 is the class-data object group; variations 1-4 address class 0
// (static data) and event classes 1-3 respectively (grounded on original
// source's master/types.rs EventClasses/Classes write logic).
const (
	group60 = 60

	group60Class0 = 1
	group60Class1 = 2
	group60Class2 = 3
	group60Class3 = 4

	qualAllObjects = 0x06
	qualRange1Byte = 0x00
	qualRange2Byte = 0x01
)

// writeAllObjectsHeader appends a group/variation/qualifier header
// requesting every instance of the object, with no range or count field.
func writeAllObjectsHeader(buf *bytes.Buffer, group, variation uint8) {
	buf.WriteByte(group)
	buf.WriteByte(variation)
	buf.WriteByte(qualAllObjects)
}

// EventClasses selects which event classes a Read or unsolicited-enable
// request applies to (grounded on
// original source's master/types.rs EventClasses).
type EventClasses struct {
	Class1 bool
	Class2 bool
	Class3 bool
}

// AllEventClasses selects class 1, 2 and 3.
func AllEventClasses() EventClasses {
	return EventClasses{Class1: true, Class2: true, Class3: true}
}

// None reports whether no event class is selected.
func (e EventClasses) None() bool {
	return !e.Class1 && !e.Class2 && !e.Class3
}

// encode appends one all-objects header per selected class, Group60Var2
// through Group60Var4.
func (e EventClasses) encode(buf *bytes.Buffer) {
	if e.Class1 {
		writeAllObjectsHeader(buf, group60, group60Class1)
	}
	if e.Class2 {
		writeAllObjectsHeader(buf, group60, group60Class2)
	}
	if e.Class3 {
		writeAllObjectsHeader(buf, group60, group60Class3)
	}
}

// Classes selects static (class 0) data together with zero or more event
// classes, the shape used by an integrity poll.
type Classes struct {
	Class0 bool
	Events EventClasses
}

// IntegrityClasses is class 0 plus all event classes, the conventional
// integrity-poll request.
func IntegrityClasses() Classes {
	return Classes{Class0: true, Events: AllEventClasses()}
}

// EventClassesOnly builds a Classes request carrying no static data.
func EventClassesOnly(e EventClasses) Classes {
	return Classes{Events: e}
}

// encode writes the event class headers first, then the class 0 header
// if selected, matching the order the original master encodes a class
// scan in.
func (c Classes) encode(buf *bytes.Buffer) {
	c.Events.encode(buf)
	if c.Class0 {
		writeAllObjectsHeader(buf, group60, group60Class0)
	}
}

// RangeScan requests a fixed range [Start, Stop] of a single static
// object/variation, addressed by start-stop qualifiers (grounded on original source's master/types.rs RangeScan<T>).
type RangeScan struct {
	Group     uint8
	Variation uint8
	Start     uint16
	Stop      uint16
}

// Validate reports whether the range is well-formed (Start <= Stop).
func (r RangeScan) Validate() error {
	if r.Start > r.Stop {
		return fmt.Errorf("range scan start %d exceeds stop %d", r.Start, r.Stop)
	}
	return nil
}

// encode writes the group/variation header followed by a start-stop
// range qualifier, using the 1-byte form when both indexes fit in a
// byte and the 2-byte form otherwise (the original's Range8/Range16
// split).
func (r RangeScan) encode(buf *bytes.Buffer) {
	buf.WriteByte(r.Group)
	buf.WriteByte(r.Variation)
	if r.Start > 0xFF || r.Stop > 0xFF {
		buf.WriteByte(qualRange2Byte)
		var idx [4]byte
		binary.BigEndian.PutUint16(idx[0:2], r.Start)
		binary.BigEndian.PutUint16(idx[2:4], r.Stop)
		buf.Write(idx[:])
		return
	}
	buf.WriteByte(qualRange1Byte)
	buf.WriteByte(byte(r.Start))
	buf.WriteByte(byte(r.Stop))
}

// ReadRequestKind discriminates the shape carried by a ReadRequest.
type ReadRequestKind int

const (
	// ReadClassScan requests static/event data by class.
	ReadClassScan ReadRequestKind = iota
	// ReadRange requests a fixed point range of a single variation.
	ReadRange
	// ReadRaw submits a pre-encoded application-layer object payload,
	// used when a caller builds its own object headers.
	ReadRaw
)

// ReadRequest is the payload of a solicited Read task.
type ReadRequest struct {
	Kind    ReadRequestKind
	Classes Classes
	Range   RangeScan
	Raw     []byte
}

// NewClassScanRequest builds a Read request for the given classes.
func NewClassScanRequest(c Classes) ReadRequest {
	return ReadRequest{Kind: ReadClassScan, Classes: c}
}

// NewRangeRequest builds a Read request for a fixed point range.
func NewRangeRequest(r RangeScan) ReadRequest {
	return ReadRequest{Kind: ReadRange, Range: r}
}

// NewRawRequest builds a Read request from a caller-supplied, already
// encoded application-layer object payload.
func NewRawRequest(payload []byte) ReadRequest {
	return ReadRequest{Kind: ReadRaw, Raw: payload}
}

// Encode renders the request into its application-layer object-header
// payload: the bytes that follow the function code in a Read fragment.
// A ReadRaw request passes its caller-supplied payload through unchanged.
func (r ReadRequest) Encode() ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	switch r.Kind {
	case ReadClassScan:
		var buf bytes.Buffer
		r.Classes.encode(&buf)
		return buf.Bytes(), nil
	case ReadRange:
		var buf bytes.Buffer
		r.Range.encode(&buf)
		return buf.Bytes(), nil
	case ReadRaw:
		return r.Raw, nil
	default:
		return nil, fmt.Errorf("unknown read request kind %d", r.Kind)
	}
}

// Validate checks internal consistency of the request shape.
func (r ReadRequest) Validate() error {
	switch r.Kind {
	case ReadClassScan:
		if r.Classes.Events.None() && !r.Classes.Class0 {
			return fmt.Errorf("class scan request selects no classes")
		}
	case ReadRange:
		return r.Range.Validate()
	case ReadRaw:
		if len(r.Raw) == 0 {
			return fmt.Errorf("raw read request has empty payload")
		}
	}
	return nil
}

package master

import (
	"context"
	"log/slog"
)

// Response is one decoded application-layer fragment, as produced by a
// FrameReader. Object/variation
// decoding is left to the caller; Objects carries the still-encoded
// object-header payload plus, for command responses, the raw echoed
// header segments needed for SBO validation.
type Response struct {
	Header  ResponseHeader
	Objects []byte
	// Echoed holds the response's object headers split into segments,
	// one per header, in wire order — the shape CommandHeaders.Compare
	// needs to validate a Select/Operate echo. Read-task handlers use
	// Objects instead.
	Echoed [][]byte
}

// FrameReader reads and reassembles link-layer frames into application
// fragments for one transport connection.
// Link framing, CRCs and transport-segment reassembly are entirely its
// concern; the session only ever sees decoded fragments.
type FrameReader interface {
	// Read blocks until at least one full fragment has been buffered,
	// or ctx is canceled, or the link fails.
	Read(ctx context.Context) error
	// PopResponse removes and returns the oldest buffered fragment, if
	// any, logging it at the given decode level as a side effect.
	PopResponse(level slog.Level) (EndpointAddress, Response, bool)
	// Reset discards any partially reassembled state, called after a
	// link failure or clean shutdown.
	Reset()
}

// FrameWriter sends one application fragment to a destination address
// over the shared transport.
type FrameWriter interface {
	Write(ctx context.Context, level slog.Level, dest EndpointAddress, payload []byte) error
	Reset()
}

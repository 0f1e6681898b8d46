// Package master implements the master-side session engine for a
// request/response SCADA protocol that multiplexes many associations over
// a single link-layer transport.
//
// The core is the session loop (Session.Run): it serializes application
// requests toward outstations, reassembles and validates solicited
// multi-fragment responses, accepts and acknowledges unsolicited
// responses, schedules per-association housekeeping tasks, and drains a
// control-message queue through which callers add/remove associations and
// enqueue ad-hoc requests. Link/transport framing and object/variation
// encoders are external collaborators: the session consumes framing only
// through the FrameReader/FrameWriter interfaces declared in this package
// (implemented by internal/transport), and takes requests as pre-encoded
// ReadRequest/CommandHeaders values.
package master

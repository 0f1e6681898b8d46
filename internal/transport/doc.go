// Package transport implements the link-layer framing the master session
// engine consumes through the master.FrameReader/master.FrameWriter
// interfaces: buffering raw bytes from a net.Conn, splitting them into
// application fragments, and writing fragments back out addressed to a
// destination endpoint.
//
// FrameTransport uses a simple length-prefixed framing (the 2-byte
// big-endian destination/source EndpointAddress, a 2-byte big-endian
// length, then the application fragment bytes) — the link-layer CRC/framing details of
// the underlying protocol are explicitly out of scope.
package transport

package transport

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/dantte-lp/dnp3master/internal/master"
)

// maxFragmentSize bounds a single application fragment, matching the
// protocol's maximum application-layer fragment size.
const maxFragmentSize = 2048

// FrameTransport implements master.FrameReader and master.FrameWriter
// over a single net.Conn shared by every association, using a simple
// length-prefixed wire framing (see package doc).
//
// Grounded on the construction/Run-loop shape used by other transport
// listeners in this codebase: a small buffered reader loop, explicit
// Reset on link failure, and slog-based frame-decode logging gated by a
// level parameter.
type FrameTransport struct {
	conn net.Conn
	log  *slog.Logger

	mu      sync.Mutex
	reader  *bufio.Reader
	pending []pendingResponse
}

type pendingResponse struct {
	source EndpointAddress
	resp   master.Response
}

// EndpointAddress is a local alias kept for readability in this file;
// it is always master.EndpointAddress.
type EndpointAddress = master.EndpointAddress

// NewFrameTransport wraps conn for use as a master.FrameReader/FrameWriter.
func NewFrameTransport(conn net.Conn, log *slog.Logger) *FrameTransport {
	if log == nil {
		log = slog.Default()
	}
	return &FrameTransport{
		conn:   conn,
		log:    log,
		reader: bufio.NewReaderSize(conn, maxFragmentSize*2),
	}
}

// frameHeaderSize is address (2 bytes) + length prefix (2 bytes).
const frameHeaderSize = 4

// Read blocks until one full frame has been read off the connection and
// queued for PopResponse, or ctx is done, or the connection fails.
func (t *FrameTransport) Read(ctx context.Context) error {
	type result struct {
		addr    EndpointAddress
		payload []byte
		err     error
	}
	done := make(chan result, 1)

	go func() {
		header := make([]byte, frameHeaderSize)
		if _, err := io.ReadFull(t.reader, header); err != nil {
			done <- result{err: err}
			return
		}
		addr := EndpointAddress(binary.BigEndian.Uint16(header[0:2]))
		length := binary.BigEndian.Uint16(header[2:4])
		if int(length) > maxFragmentSize {
			done <- result{err: fmt.Errorf("frame length %d exceeds maximum %d", length, maxFragmentSize)}
			return
		}
		payload := make([]byte, length)
		if _, err := io.ReadFull(t.reader, payload); err != nil {
			done <- result{err: err}
			return
		}
		done <- result{addr: addr, payload: payload}
	}()

	select {
	case <-ctx.Done():
		// Unblock the goroutine's pending Read via a deadline rather
		// than closing the connection: ctx here may just be a
		// superseded per-call context (see master.Session.startRead),
		// and the link itself is still good.
		t.conn.SetReadDeadline(time.Now())
		<-done
		t.conn.SetReadDeadline(time.Time{})
		return ctx.Err()
	case r := <-done:
		if r.err != nil {
			return fmt.Errorf("%w: %v", master.ErrLinkClosed, r.err)
		}
		resp, err := decodeFragment(r.payload)
		if err != nil {
			t.log.Warn("discarding malformed fragment", "source", r.addr, "error", err)
			return nil
		}
		t.mu.Lock()
		t.pending = append(t.pending, pendingResponse{source: r.addr, resp: resp})
		t.mu.Unlock()
		return nil
	}
}

// PopResponse removes and returns the oldest buffered fragment.
func (t *FrameTransport) PopResponse(level slog.Level) (master.EndpointAddress, master.Response, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.pending) == 0 {
		return 0, master.Response{}, false
	}
	next := t.pending[0]
	t.pending = t.pending[1:]

	t.log.Log(context.Background(), level, "received fragment",
		"source", next.source,
		"function", next.resp.Header.Function,
		"fir", next.resp.Header.Control.FIR,
		"fin", next.resp.Header.Control.FIN,
		"con", next.resp.Header.Control.CON,
		"seq", next.resp.Header.Control.Seq.Value(),
	)

	return next.source, next.resp, true
}

// Reset discards any buffered, unconsumed fragments.
func (t *FrameTransport) Reset() {
	t.mu.Lock()
	t.pending = nil
	t.mu.Unlock()
}

// Write sends one fragment addressed to dest.
func (t *FrameTransport) Write(ctx context.Context, level slog.Level, dest master.EndpointAddress, payload []byte) error {
	if len(payload) > maxFragmentSize {
		return fmt.Errorf("fragment of %d bytes exceeds maximum %d", len(payload), maxFragmentSize)
	}

	frame := make([]byte, frameHeaderSize+len(payload))
	binary.BigEndian.PutUint16(frame[0:2], uint16(dest))
	binary.BigEndian.PutUint16(frame[2:4], uint16(len(payload)))
	copy(frame[frameHeaderSize:], payload)

	if deadline, ok := ctx.Deadline(); ok {
		t.conn.SetWriteDeadline(deadline)
		defer t.conn.SetWriteDeadline(time.Time{})
	}

	t.log.Log(context.Background(), level, "sending fragment", "dest", dest, "bytes", len(payload))

	_, err := t.conn.Write(frame)
	if err != nil {
		return fmt.Errorf("%w: %v", master.ErrLinkClosed, err)
	}
	return nil
}

func decodeFragment(payload []byte) (master.Response, error) {
	if len(payload) < 2 {
		return master.Response{}, fmt.Errorf("fragment too short: %d bytes", len(payload))
	}
	control := master.ParseControl(payload[0])
	function := master.FunctionCode(payload[1])

	var iin master.IIN
	objects := payload[2:]
	if function == master.FuncResponse || function == master.FuncUnsolicitedResponse {
		if len(payload) < 4 {
			return master.Response{}, fmt.Errorf("response fragment missing IIN bytes")
		}
		iin = master.IIN(binary.BigEndian.Uint16(payload[2:4]))
		objects = payload[4:]
	}

	return master.Response{
		Header: master.ResponseHeader{
			Function: function,
			Control:  control,
			IIN:      iin,
		},
		Objects: objects,
	}, nil
}

package master_test

import (
	"context"
	"log/slog"
	"sync"

	"github.com/dantte-lp/dnp3master/internal/master"
)

// taggedResponse pairs a decoded Response with the association address it
// arrived from, mirroring what a real FrameReader buffers internally.
type taggedResponse struct {
	source master.EndpointAddress
	resp   master.Response
}

// fakeLink is a scriptable master.FrameReader/master.FrameWriter double.
// Reads are driven off a buffered channel so tests can push scripted
// outstation responses either unconditionally or synchronously from an
// onWrite hook, keeping sequence numbers in lockstep with whatever the
// session under test actually sent.
type fakeLink struct {
	mu      sync.Mutex
	pending []taggedResponse
	writes  [][]byte

	incoming chan taggedResponse

	writeCount int
	onWrite    func(writeIndex int, dest master.EndpointAddress, payload []byte, push func(master.EndpointAddress, master.Response))

	readErr error
}

func newFakeLink() *fakeLink {
	return &fakeLink{incoming: make(chan taggedResponse, 16)}
}

func (f *fakeLink) push(source master.EndpointAddress, resp master.Response) {
	f.incoming <- taggedResponse{source: source, resp: resp}
}

func (f *fakeLink) Read(ctx context.Context) error {
	if f.readErr != nil {
		return f.readErr
	}
	select {
	case tr := <-f.incoming:
		f.mu.Lock()
		f.pending = append(f.pending, tr)
		f.mu.Unlock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeLink) PopResponse(_ slog.Level) (master.EndpointAddress, master.Response, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) == 0 {
		return 0, master.Response{}, false
	}
	tr := f.pending[0]
	f.pending = f.pending[1:]
	return tr.source, tr.resp, true
}

func (f *fakeLink) Reset() {
	f.mu.Lock()
	f.pending = nil
	f.mu.Unlock()
}

func (f *fakeLink) Write(_ context.Context, _ slog.Level, dest master.EndpointAddress, payload []byte) error {
	f.mu.Lock()
	idx := f.writeCount
	f.writeCount++
	f.writes = append(f.writes, append([]byte(nil), payload...))
	f.mu.Unlock()

	if f.onWrite != nil {
		f.onWrite(idx, dest, payload, f.push)
	}
	return nil
}

func (f *fakeLink) writeCountSnapshot() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writeCount
}

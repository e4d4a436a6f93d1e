package instrument

import (
	"bytes"
	"io"
	"net/http"
	"sync"
	"time"
)

// responseSnapshotWait bounds how long a settled handler waits for a
// response body to produce its snapshot prefix.
const responseSnapshotWait = 50 * time.Millisecond

const tapChunk = 4 << 10

// errReader returns err on every read.
type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }

// readCloser pairs a replacement reader with the original body's Close.
type readCloser struct {
	io.Reader
	io.Closer
}

// captureRequestBody reads at most limit bytes of the request body for the
// snapshot and puts back a body that yields the same bytes, then the rest
// of the original stream. A read error is replayed to the handler after the
// bytes that preceded it.
func captureRequestBody(req *http.Request, limit int) []byte {
	if req == nil || req.Body == nil || req.Body == http.NoBody {
		return nil
	}
	if req.GetBody != nil {
		if rc, err := req.GetBody(); err == nil {
			defer rc.Close()
			prefix, _ := io.ReadAll(io.LimitReader(rc, int64(limit)))
			return prefix
		}
	}
	orig := req.Body
	prefix, err := io.ReadAll(io.LimitReader(orig, int64(limit)))
	switch {
	case err != nil:
		req.Body = readCloser{io.MultiReader(bytes.NewReader(prefix), errReader{err}), orig}
	case len(prefix) < limit:
		// The whole body is in memory.
		_ = orig.Close()
		body := prefix
		req.Body = io.NopCloser(bytes.NewReader(body))
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	default:
		req.Body = readCloser{io.MultiReader(bytes.NewReader(prefix), orig), orig}
	}
	return prefix
}

// bodyTap pumps up to limit bytes of a body into memory on its own
// goroutine while handing them to the reader in the order they arrive. Once
// the limit is reached the reader continues on the original body directly.
type bodyTap struct {
	src   io.ReadCloser
	limit int

	mu       sync.Mutex
	cond     *sync.Cond
	buf      []byte
	off      int
	done     bool
	err      error
	finished chan struct{}
}

func newBodyTap(src io.ReadCloser, limit int) *bodyTap {
	t := &bodyTap{src: src, limit: limit, finished: make(chan struct{})}
	t.cond = sync.NewCond(&t.mu)
	go t.pump()
	return t
}

func (t *bodyTap) pump() {
	defer close(t.finished)
	chunk := make([]byte, tapChunk)
	for {
		t.mu.Lock()
		room := t.limit - len(t.buf)
		t.mu.Unlock()
		if room <= 0 {
			break
		}
		n, err := t.src.Read(chunk[:min(room, len(chunk))])
		t.mu.Lock()
		t.buf = append(t.buf, chunk[:n]...)
		if err != nil {
			t.err = err
			t.done = true
			t.cond.Broadcast()
			t.mu.Unlock()
			return
		}
		t.cond.Broadcast()
		t.mu.Unlock()
	}
	t.mu.Lock()
	t.done = true
	t.cond.Broadcast()
	t.mu.Unlock()
}

// Read serves the pumped bytes, then the pump's terminal error or the rest
// of the original body.
func (t *bodyTap) Read(p []byte) (int, error) {
	t.mu.Lock()
	for t.off == len(t.buf) && !t.done {
		t.cond.Wait()
	}
	if t.off < len(t.buf) {
		n := copy(p, t.buf[t.off:])
		t.off += n
		t.mu.Unlock()
		return n, nil
	}
	err := t.err
	t.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return t.src.Read(p)
}

// Close closes the original body, which also stops a blocked pump.
func (t *bodyTap) Close() error {
	return t.src.Close()
}

// Snapshot returns the bytes pumped so far, waiting at most wait for the
// pump to reach EOF or the limit.
func (t *bodyTap) Snapshot(wait time.Duration) []byte {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-t.finished:
	case <-timer.C:
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]byte(nil), t.buf...)
}

// tapResponseBody swaps resp.Body for a tap and returns the prefix that is
// available within wait. The consumer still reads the full stream.
func tapResponseBody(resp *http.Response, limit int, wait time.Duration) []byte {
	if resp == nil || resp.Body == nil || resp.Body == http.NoBody {
		return nil
	}
	tap := newBodyTap(resp.Body, limit)
	resp.Body = tap
	return tap.Snapshot(wait)
}

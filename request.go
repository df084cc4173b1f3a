package fcgi

import (
	"context"
	"fmt"
	"io"
	"sync"
	"unicode/utf8"

	"github.com/mickamy/fastcgi/internal/wire"
)

// NameValue is a decoded PARAMS entry. Order and duplicates are preserved
// exactly as they arrived on the wire.
type NameValue struct {
	Name  string
	Value string
}

// inputStream is the buffered, incrementally-filled backing store for a
// request's stdin or data stream. The demultiplexer's read loop appends
// to it as STDIN/DATA records arrive (blocking if MaxInputBufferBytesPerStream
// is exceeded, the backpressure mechanism); the handler's goroutine reads
// from it via Request.Stdin()/Data(). Both sides operate without knowledge
// of each other beyond this type.
type inputStream struct {
	mu    sync.Mutex
	buf   []byte
	eof   bool
	limit int

	notifyc chan struct{} // closed and replaced whenever buf/eof changes
	drainc  chan struct{} // closed and replaced whenever buf shrinks
	abortc  chan struct{} // closed exactly once, on abort
	aborted bool
}

func newInputStream(limit int) *inputStream {
	return &inputStream{
		limit:   limit,
		notifyc: make(chan struct{}),
		drainc:  make(chan struct{}),
		abortc:  make(chan struct{}),
	}
}

// append adds p to the stream's buffer, blocking while the buffer is at
// its configured limit. It returns ctx.Err() if ctx is cancelled while
// waiting, or ErrAborted if the request is aborted while waiting.
func (s *inputStream) append(ctx context.Context, p []byte) error {
	for {
		s.mu.Lock()
		if s.aborted {
			s.mu.Unlock()
			return ErrAborted
		}
		if s.limit <= 0 || len(s.buf) < s.limit {
			s.buf = append(s.buf, p...)
			s.wakeReaders()
			s.mu.Unlock()
			return nil
		}
		waitc := s.drainc
		s.mu.Unlock()

		select {
		case <-waitc:
		case <-s.abortc:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *inputStream) closeEOS() {
	s.mu.Lock()
	s.eof = true
	s.wakeReaders()
	s.mu.Unlock()
}

func (s *inputStream) abort() {
	s.mu.Lock()
	if !s.aborted {
		s.aborted = true
		close(s.abortc)
	}
	s.mu.Unlock()
}

// wakeReaders must be called with s.mu held; it unblocks Read calls
// waiting on the stream's state.
func (s *inputStream) wakeReaders() {
	close(s.notifyc)
	s.notifyc = make(chan struct{})
}

// wakeWriters must be called with s.mu held; it unblocks append calls
// waiting for buffer space.
func (s *inputStream) wakeWriters() {
	close(s.drainc)
	s.drainc = make(chan struct{})
}

func (s *inputStream) read(ctx context.Context, p []byte) (int, error) {
	for {
		s.mu.Lock()
		if s.aborted {
			s.mu.Unlock()
			return 0, ErrAborted
		}
		if len(s.buf) > 0 {
			n := copy(p, s.buf)
			s.buf = s.buf[n:]
			s.wakeWriters()
			s.mu.Unlock()
			return n, nil
		}
		if s.eof {
			s.mu.Unlock()
			return 0, io.EOF
		}
		waitc := s.notifyc
		s.mu.Unlock()

		select {
		case <-waitc:
		case <-s.abortc:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// ctxReader binds an inputStream to the context that governs a single
// Request.Serve call, so handlers can use it as a plain io.Reader.
type ctxReader struct {
	ctx context.Context
	s   *inputStream
}

func (r ctxReader) Read(p []byte) (int, error) { return r.s.read(r.ctx, p) }

// RequestResult is the outcome a handler reports at the end of
// Request.Serve, determining the END_REQUEST record the demultiplexer
// emits. Construct one with Complete, Aborted, AbortedStatus,
// HandlerError, or HandlerErrorStatus.
type RequestResult struct {
	appStatus      uint32
	protocolStatus uint8
	err            error
	aborted        bool
}

// Complete reports ordinary completion with the given application exit
// status (mirroring a CGI program's process exit code).
func Complete(appStatus uint32) RequestResult {
	return RequestResult{appStatus: appStatus, protocolStatus: wire.StatusRequestComplete}
}

// AbortedStatus reports that the handler observed cancellation (via
// ctx.Done() or an ErrAborted read) and stopped, reporting appStatus as
// its chosen application exit status.
func AbortedStatus(appStatus uint32) RequestResult {
	return RequestResult{appStatus: appStatus, protocolStatus: wire.StatusRequestComplete, aborted: true}
}

// Aborted is AbortedStatus(0), the common case of a handler with nothing
// meaningful to report after cancellation.
func Aborted() RequestResult { return AbortedStatus(0) }

// HandlerErrorStatus reports that the handler failed, with a
// caller-chosen application exit status. The error is not transmitted to
// the peer; it is only available to the code that called Serve.
func HandlerErrorStatus(err error, appStatus uint32) RequestResult {
	return RequestResult{appStatus: appStatus, protocolStatus: wire.StatusRequestComplete, err: err}
}

// HandlerError is HandlerErrorStatus(err, 0xFFFFFFFF), the conventional
// "something went wrong" application status.
func HandlerError(err error) RequestResult {
	return HandlerErrorStatus(err, 0xFFFFFFFF)
}

// Err returns the error a handler reported via HandlerError, or nil.
func (r RequestResult) Err() error { return r.err }

// Handler processes one Request to completion. It must not retain req or
// its streams past return.
type Handler func(ctx context.Context, req *Request) RequestResult

// Request is one FastCGI request, demultiplexed from its connection. Its
// stdin/data readers and stdout/stderr writers are only valid for the
// duration of the Serve call that owns it.
type Request struct {
	ID            uint16
	Role          Role
	KeepConn      bool
	CorrelationID string

	params []NameValue

	stdin *inputStream
	data  *inputStream

	conn *Requests

	stdout *streamWriter
	stderr *streamWriter

	// ctx starts out as the connection-derived context that ABORT_REQUEST
	// cancels (set by the demultiplexer at yield time) and is replaced by
	// Serve with a context merging that abort signal with the caller's
	// own ctx.
	ctx context.Context

	finishOnce sync.Once
}

// Params returns the request's decoded PARAMS, in wire order.
func (req *Request) Params() []NameValue { return req.params }

// StringParams returns the request's PARAMS as a map, skipping any pair
// whose name or value is not valid UTF-8. Later duplicates win.
func (req *Request) StringParams() map[string]string { return stringParamsOf(req.params) }

// stringParamsOf is StringParams' underlying conversion, usable from the
// demultiplexer before a Request exists (e.g. for Event.Params).
func stringParamsOf(params []NameValue) map[string]string {
	m := make(map[string]string, len(params))
	for _, p := range params {
		if !utf8.ValidString(p.Name) || !utf8.ValidString(p.Value) {
			continue
		}
		m[p.Name] = p.Value
	}
	return m
}

// GetParam returns the value of the last PARAMS entry with the given
// name, and whether one was present.
func (req *Request) GetParam(name string) (string, bool) {
	value, ok := "", false
	for _, p := range req.params {
		if p.Name == name {
			value, ok = p.Value, true
		}
	}
	return value, ok
}

// Stdin returns the request body stream. For an Authorizer request this
// reader is always immediately at io.EOF: the demultiplexer accepts and
// discards Authorizer STDIN rather than buffering it for a role that
// never consumes it.
func (req *Request) Stdin() io.Reader { return ctxReader{ctx: req.ctx, s: req.stdin} }

// Data returns the Filter role's second input stream. For Responder and
// Authorizer requests this reader is always immediately at io.EOF.
func (req *Request) Data() io.Reader { return ctxReader{ctx: req.ctx, s: req.data} }

// Stdout returns the request's output stream.
func (req *Request) Stdout() io.Writer { return req.stdout }

// Stderr returns the request's diagnostic output stream.
func (req *Request) Stderr() io.Writer { return req.stderr }

// Serve runs h to completion, then flushes stdout/stderr and emits
// END_REQUEST. ctx governs cancellation in addition to the
// connection's own abort signal: either cancelling ctx or the peer
// sending ABORT_REQUEST for this request causes req.Stdin()/Data() reads
// blocked inside h to return an error at their next suspension point.
// Serve must be called exactly once per Request.
func (req *Request) Serve(ctx context.Context, h Handler) RequestResult {
	abortCtx := req.ctx

	mergedCtx, cancelMerged := context.WithCancel(ctx)
	defer cancelMerged()
	stop := context.AfterFunc(abortCtx, cancelMerged)
	defer stop()

	req.ctx = mergedCtx

	var result RequestResult
	func() {
		defer func() {
			if p := recover(); p != nil {
				result = HandlerErrorStatus(fmt.Errorf("fcgi: handler panic: %v", p), 0xFFFFFFFF)
			}
		}()
		result = h(mergedCtx, req)
	}()

	req.finishOnce.Do(func() { req.finish(result) })
	return result
}

func (req *Request) finish(result RequestResult) {
	_ = req.stdout.close()
	_ = req.stderr.close()

	kind := EventCompleted
	if result.aborted {
		kind = EventAborted
	}
	req.conn.publish(Event{
		CorrelationID: req.CorrelationID,
		RequestID:     req.ID,
		Role:          req.Role,
		Kind:          kind,
		KeepConn:      req.KeepConn,
		ScriptName:    scriptNameOf(req.params),
		Params:        stringParamsOf(req.params),
		AppStatus:     result.appStatus,
	})

	_ = req.conn.finishRequest(req.ID, result.appStatus, result.protocolStatus)
}

// scriptNameOf returns the SCRIPT_NAME param's value, or "" if absent,
// for populating Event.ScriptName without retaining a *Request.
func scriptNameOf(params []NameValue) string {
	for _, p := range params {
		if p.Name == "SCRIPT_NAME" {
			return p.Value
		}
	}
	return ""
}

func decodeParams(raw []byte) ([]NameValue, error) {
	pairs, err := wire.DecodePairs(raw)
	if err != nil {
		return nil, err
	}
	out := make([]NameValue, len(pairs))
	for i, p := range pairs {
		out[i] = NameValue{Name: string(p.Name), Value: string(p.Value)}
	}
	return out, nil
}

package fcgi

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/mickamy/fastcgi/internal/wire"
)

// requestState is the demultiplexer's view of a request still being
// assembled: PARAMS/STDIN/DATA have arrived in part or not at all, and no
// Request has been handed to the application yet.
type requestState struct {
	id       uint16
	role     Role
	keepConn bool
	corrID   string

	paramsRaw []byte
	paramsEOS bool
	params    []NameValue

	stdin     *inputStream
	stdinEOS  bool
	data      *inputStream
	dataEOS   bool

	abortCtx    context.Context
	abortCancel context.CancelFunc
}

// liveHandle is what the demultiplexer keeps for a request after handing
// it to the application: just enough to route ABORT_REQUEST to the
// request's streams and context, without owning its lifecycle.
type liveHandle struct {
	stdin       *inputStream
	data        *inputStream
	abortCancel context.CancelFunc
}

// Requests demultiplexes one FastCGI connection into a stream of
// Request values. Create one with NewFromConn or NewFromSplit; call
// Next in a loop until it returns an error, and Close when done.
type Requests struct {
	r    io.Reader
	out  *outputFramer
	opts Options

	connID string

	connCtx    context.Context
	connCancel context.CancelFunc

	mu               sync.Mutex
	assembling       map[uint16]*requestState
	live             map[uint16]*liveHandle
	outstanding      int
	anyKeepConnFalse bool

	ready     chan *Request
	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}

	closer io.Closer
}

type closeWriter interface {
	CloseWrite() error
}

// NewFromConn builds a Requests that reads and writes conn directly,
// closing conn (or, if conn supports half-close, its write half) once
// every request has completed on a connection the peer asked not to
// keep alive.
func NewFromConn(conn io.ReadWriteCloser, opts Options) *Requests {
	return newRequests(conn, conn, conn, opts)
}

// NewFromSplit builds a Requests over independently supplied read and
// write halves, for transports where the two are not the same value.
// closer may be nil if there is nothing meaningful to close.
func NewFromSplit(r io.Reader, w io.Writer, closer io.Closer, opts Options) *Requests {
	return newRequests(r, w, closer, opts)
}

func newRequests(r io.Reader, w io.Writer, closer io.Closer, opts Options) *Requests {
	opts = opts.withDefaults()
	connCtx, connCancel := context.WithCancel(context.Background())

	rs := &Requests{
		r:          r,
		out:        newOutputFramer(w, closer),
		opts:       opts,
		connID:     uuid.NewString(),
		connCtx:    connCtx,
		connCancel: connCancel,
		assembling: make(map[uint16]*requestState),
		live:       make(map[uint16]*liveHandle),
		ready:      make(chan *Request, opts.MaxConcurrentRequests),
		closed:     make(chan struct{}),
		closer:     closer,
	}
	go rs.readLoop()
	return rs
}

// Next blocks until a request has finished assembling (all the PARAMS,
// and stdin/data if its role requires them, have arrived) or ctx is
// cancelled or the connection ends.
func (rs *Requests) Next(ctx context.Context) (*Request, error) {
	select {
	case req, ok := <-rs.ready:
		if !ok {
			return nil, rs.terminalError()
		}
		return req, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close tears down the connection immediately, regardless of
// outstanding requests. Requests already handed out via Next continue
// to run; their stdin/data reads will observe cancellation through
// their context once the connection context is cancelled, but Close
// does not itself abort them the way ABORT_REQUEST does.
func (rs *Requests) Close() error {
	rs.shutdown(ErrConnectionClosed)
	if rs.closer != nil {
		return rs.closer.Close()
	}
	return nil
}

func (rs *Requests) terminalError() error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.closeErr != nil {
		return rs.closeErr
	}
	return ErrConnectionClosed
}

func (rs *Requests) shutdown(err error) {
	rs.closeOnce.Do(func() {
		rs.mu.Lock()
		if err == nil {
			err = ErrConnectionClosed
		}
		rs.closeErr = err
		rs.mu.Unlock()

		rs.connCancel()
		close(rs.ready)
		close(rs.closed)
	})
}

func (rs *Requests) readLoop() {
	for {
		h, err := wire.ReadHeader(rs.r)
		if err != nil {
			rs.shutdown(err)
			return
		}
		body, err := wire.ReadBody(rs.r, int(h.ContentLength), int(h.PaddingLength))
		if err != nil {
			rs.shutdown(err)
			return
		}
		if err := rs.dispatch(h, body); err != nil {
			rs.shutdown(err)
			return
		}
	}
}

func (rs *Requests) dispatch(h wire.Header, body []byte) error {
	if h.RequestID == 0 {
		return rs.dispatchManagement(h.Kind, body)
	}

	switch h.Kind {
	case wire.KindBeginRequest:
		return rs.handleBeginRequest(h.RequestID, body)
	case wire.KindAbortRequest:
		return rs.handleAbortRequest(h.RequestID)
	case wire.KindParams:
		return rs.handleParams(h.RequestID, body)
	case wire.KindStdin:
		return rs.handleInput(h.RequestID, body, false)
	case wire.KindData:
		return rs.handleInput(h.RequestID, body, true)
	default:
		return rs.out.writeRecord(wire.KindUnknownType, 0, wire.EncodeUnknownTypeBody(uint8(h.Kind)))
	}
}

func (rs *Requests) dispatchManagement(kind wire.Kind, body []byte) error {
	if kind != wire.KindGetValues {
		return rs.out.writeRecord(wire.KindUnknownType, 0, wire.EncodeUnknownTypeBody(uint8(kind)))
	}

	queried, err := wire.DecodePairs(body)
	if err != nil {
		// Malformed GET_VALUES is recoverable: reply empty rather than
		// tearing down the connection.
		return rs.out.writeRecord(wire.KindGetValuesResult, 0, nil)
	}

	var reply []wire.NameValue
	for _, q := range queried {
		if v, ok := rs.opts.managementValue(string(q.Name)); ok {
			reply = append(reply, wire.NameValue{Name: q.Name, Value: []byte(v)})
		}
	}
	return rs.out.writeRecord(wire.KindGetValuesResult, 0, wire.EncodePairs(reply))
}

func (rs *Requests) handleBeginRequest(id uint16, body []byte) error {
	role, flags, err := wire.DecodeBeginRequestBody(body)
	if err != nil {
		return fmt.Errorf("fcgi: malformed BEGIN_REQUEST: %w", err)
	}

	rs.mu.Lock()
	if _, ok := rs.live[id]; ok {
		rs.mu.Unlock()
		rs.opts.Logger.Printf("fcgi: duplicate BEGIN_REQUEST id=%d while already dispatched; ignoring", id)
		return nil
	}
	if _, ok := rs.assembling[id]; ok {
		delete(rs.assembling, id)
		shouldClose := rs.noteOutstandingDoneLocked()
		rs.mu.Unlock()
		if err := rs.out.writeEndRequest(id, 0, wire.StatusCantMpxConn); err != nil {
			return err
		}
		if shouldClose {
			rs.closeWriteHalf()
		}
		return nil
	}

	if role != wire.RoleResponder && role != wire.RoleAuthorizer && role != wire.RoleFilter {
		rs.mu.Unlock()
		return rs.out.writeEndRequest(id, 0, wire.StatusUnknownRole)
	}

	keepConn := flags&wire.FlagKeepConn != 0
	abortCtx, abortCancel := context.WithCancel(rs.connCtx)
	st := &requestState{
		id:          id,
		role:        Role(role),
		keepConn:    keepConn,
		corrID:      uuid.NewString(),
		stdin:       newInputStream(rs.opts.MaxInputBufferBytesPerStream),
		data:        newInputStream(rs.opts.MaxInputBufferBytesPerStream),
		abortCtx:    abortCtx,
		abortCancel: abortCancel,
	}
	// Streams the role never reads start at EOF, so Request.Stdin/Data
	// report io.EOF at once even if no empty record for them arrives
	// before the request is handed out.
	if !st.role.wantsStdin() {
		st.stdin.closeEOS()
	}
	if !st.role.wantsData() {
		st.data.closeEOS()
	}
	rs.assembling[id] = st
	rs.outstanding++
	if !keepConn {
		rs.anyKeepConnFalse = true
	}
	rs.mu.Unlock()

	rs.publish(Event{CorrelationID: st.corrID, RequestID: id, Role: st.role, Kind: EventBegin, KeepConn: keepConn})
	return nil
}

func (rs *Requests) handleAbortRequest(id uint16) error {
	rs.mu.Lock()
	if st, ok := rs.assembling[id]; ok {
		delete(rs.assembling, id)
		shouldClose := rs.noteOutstandingDoneLocked()
		rs.mu.Unlock()

		st.abortCancel()
		rs.publish(Event{CorrelationID: st.corrID, RequestID: id, Role: st.role, Kind: EventAborted, KeepConn: st.keepConn, ScriptName: scriptNameOf(st.params), Params: stringParamsOf(st.params)})
		if err := rs.out.writeEndRequest(id, 0, wire.StatusRequestComplete); err != nil {
			return err
		}
		if shouldClose {
			rs.closeWriteHalf()
		}
		return nil
	}

	if lh, ok := rs.live[id]; ok {
		rs.mu.Unlock()
		lh.stdin.abort()
		lh.data.abort()
		lh.abortCancel()
		// The handler's own Serve call owns this request's END_REQUEST;
		// it observes the abort at its next blocked read or via ctx.
		return nil
	}

	rs.mu.Unlock()
	return nil
}

func (rs *Requests) handleParams(id uint16, body []byte) error {
	rs.mu.Lock()
	st, ok := rs.assembling[id]
	rs.mu.Unlock()
	if !ok {
		return nil
	}

	if st.paramsEOS {
		return nil
	}

	if len(body) == 0 {
		st.paramsEOS = true
		params, err := decodeParams(st.paramsRaw)
		if err != nil {
			return fmt.Errorf("fcgi: malformed PARAMS for request %d: %w", id, err)
		}
		st.paramsRaw = nil
		st.params = params
		rs.maybeReady(st)
		return nil
	}

	st.paramsRaw = append(st.paramsRaw, body...)
	return nil
}

func (rs *Requests) handleInput(id uint16, body []byte, isData bool) error {
	rs.mu.Lock()
	st, ok := rs.assembling[id]
	rs.mu.Unlock()
	if !ok {
		return nil
	}

	wantStream := st.role.wantsStdin()
	stream := st.stdin
	if isData {
		wantStream = st.role.wantsData()
		stream = st.data
	}

	if len(body) == 0 {
		if isData {
			st.dataEOS = true
		} else {
			st.stdinEOS = true
		}
		// Closed unconditionally, including Authorizer STDIN and DATA on
		// a non-Filter role: those bytes were discarded, not buffered,
		// but the stream still needs to reach EOF for Request.Stdin/Data.
		stream.closeEOS()
		rs.maybeReady(st)
		return nil
	}

	if !wantStream {
		// Accept and discard: never buffered for a role that won't read it.
		return nil
	}

	return stream.append(rs.connCtx, body)
}

// maybeReady checks whether st has reached the readiness condition for
// its role and, if so, hands it to the application via the ready
// channel. st.params is populated by handleParams before this is ever
// called with st.paramsEOS true, so it is always safe to read here.
func (rs *Requests) maybeReady(st *requestState) {
	if !st.paramsEOS {
		return
	}
	if st.role.wantsStdin() && !st.stdinEOS {
		return
	}
	if st.role.wantsData() && !st.dataEOS {
		return
	}

	rs.mu.Lock()
	if _, ok := rs.assembling[st.id]; !ok {
		// Already promoted (or dropped by a concurrent abort) — guards
		// against calling maybeReady twice for the same state.
		rs.mu.Unlock()
		return
	}
	delete(rs.assembling, st.id)
	rs.live[st.id] = &liveHandle{stdin: st.stdin, data: st.data, abortCancel: st.abortCancel}
	rs.mu.Unlock()

	req := &Request{
		ID:            st.id,
		Role:          st.role,
		KeepConn:      st.keepConn,
		CorrelationID: st.corrID,
		params:        st.params,
		stdin:         st.stdin,
		data:          st.data,
		conn:          rs,
		ctx:           st.abortCtx,
		stdout:        &streamWriter{framer: rs.out, requestID: st.id, kind: wire.KindStdout},
		stderr:        &streamWriter{framer: rs.out, requestID: st.id, kind: wire.KindStderr},
	}

	rs.publish(Event{CorrelationID: st.corrID, RequestID: st.id, Role: st.role, Kind: EventReady, KeepConn: st.keepConn, ScriptName: scriptNameOf(st.params), Params: stringParamsOf(st.params)})

	select {
	case rs.ready <- req:
	case <-rs.closed:
	}
}

// finishRequest is called exactly once per request, by Request.finish,
// to record its END_REQUEST and apply the close-after-last-request rule.
func (rs *Requests) finishRequest(id uint16, appStatus uint32, protocolStatus uint8) error {
	rs.mu.Lock()
	delete(rs.live, id)
	shouldClose := rs.noteOutstandingDoneLocked()
	rs.mu.Unlock()

	if err := rs.out.writeEndRequest(id, appStatus, protocolStatus); err != nil {
		return err
	}
	if shouldClose {
		rs.closeWriteHalf()
	}
	return nil
}

// noteOutstandingDoneLocked must be called with rs.mu held. It reports
// whether, now that one fewer request is outstanding, the connection
// should shut its write half down per FastCGI's keep_conn rule.
func (rs *Requests) noteOutstandingDoneLocked() bool {
	rs.outstanding--
	return rs.outstanding <= 0 && rs.anyKeepConnFalse
}

func (rs *Requests) closeWriteHalf() {
	if cw, ok := rs.out.w.(closeWriter); ok {
		_ = cw.CloseWrite()
		return
	}
	if rs.closer != nil {
		_ = rs.closer.Close()
	}
}

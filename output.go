package fcgi

import (
	"fmt"
	"io"
	"sync"

	"github.com/mickamy/fastcgi/internal/wire"
)

// outputFramer serializes every outbound record on a connection behind a
// single mutex: one record is written atomically, but nothing stops two
// streams (or two requests, when multiplexed) from interleaving whole
// records between writes. A write failure is sticky and connection-fatal;
// it also closes the underlying connection so a blocked or future Read in
// the demultiplexer's read loop unblocks instead of waiting forever on a
// connection nobody can write to anymore.
type outputFramer struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
	err    error
}

func newOutputFramer(w io.Writer, closer io.Closer) *outputFramer {
	return &outputFramer{w: w, closer: closer}
}

func (f *outputFramer) writeRecord(kind wire.Kind, requestID uint16, payload []byte) error {
	framed, err := wire.EncodeRecord(kind, requestID, payload)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if _, err := f.w.Write(framed); err != nil {
		f.err = fmt.Errorf("fcgi: write %s record: %w", kind, err)
		if f.closer != nil {
			_ = f.closer.Close()
		}
		return f.err
	}
	return nil
}

func (f *outputFramer) writeEndRequest(requestID uint16, appStatus uint32, protocolStatus uint8) error {
	return f.writeRecord(wire.KindEndRequest, requestID, wire.EncodeEndRequestBody(appStatus, protocolStatus))
}

// streamWriter is the io.Writer exposed to handlers as Request.Stdout() or
// Request.Stderr(). Each logical Write is split into records of at most
// wire.MaxPayloadSize bytes; close emits the empty record that marks the
// stream's end-of-stream.
type streamWriter struct {
	framer    *outputFramer
	requestID uint16
	kind      wire.Kind
}

func (w *streamWriter) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		n := len(p)
		if n > wire.MaxPayloadSize {
			n = wire.MaxPayloadSize
		}
		if err := w.framer.writeRecord(w.kind, w.requestID, p[:n]); err != nil {
			return total, err
		}
		total += n
		p = p[n:]
	}
	return total, nil
}

func (w *streamWriter) close() error {
	return w.framer.writeRecord(w.kind, w.requestID, nil)
}

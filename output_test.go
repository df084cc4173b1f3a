package fcgi

import (
	"bytes"
	"testing"

	"github.com/mickamy/fastcgi/internal/wire"
)

// decodeAllRecords reads every record in buf and returns them in order;
// it is test-only plumbing, not part of the package's wire decoding path.
func decodeAllRecords(t *testing.T, buf []byte) []wire.Header {
	t.Helper()
	var headers []wire.Header
	r := bytes.NewReader(buf)
	for r.Len() > 0 {
		h, err := wire.ReadHeader(r)
		if err != nil {
			t.Fatalf("ReadHeader: %v", err)
		}
		if _, err := wire.ReadBody(r, int(h.ContentLength), int(h.PaddingLength)); err != nil {
			t.Fatalf("ReadBody: %v", err)
		}
		headers = append(headers, h)
	}
	return headers
}

func TestStreamWriterChunksLargeWrites(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	framer := newOutputFramer(&out, nil)
	w := &streamWriter{framer: framer, requestID: 1, kind: wire.KindStdout}

	payload := bytes.Repeat([]byte("x"), 200000)
	n, err := w.Write(payload)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != len(payload) {
		t.Fatalf("wrote %d bytes, want %d", n, len(payload))
	}

	headers := decodeAllRecords(t, out.Bytes())
	wantLens := []int{65535, 65535, 65535, 3395}
	if len(headers) != len(wantLens) {
		t.Fatalf("got %d records, want %d", len(headers), len(wantLens))
	}
	for i, want := range wantLens {
		if int(headers[i].ContentLength) != want {
			t.Fatalf("record %d content length = %d, want %d", i, headers[i].ContentLength, want)
		}
	}
}

func TestStreamWriterCloseEmitsEmptyRecord(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	framer := newOutputFramer(&out, nil)
	w := &streamWriter{framer: framer, requestID: 5, kind: wire.KindStdout}

	if err := w.close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	headers := decodeAllRecords(t, out.Bytes())
	if len(headers) != 1 || headers[0].ContentLength != 0 || headers[0].Kind != wire.KindStdout {
		t.Fatalf("got %+v, want a single empty STDOUT record", headers)
	}
}

func TestStreamWriterEmptyWriteDoesNotEmitRecord(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	framer := newOutputFramer(&out, nil)
	w := &streamWriter{framer: framer, requestID: 1, kind: wire.KindStdout}

	n, err := w.Write(nil)
	if err != nil || n != 0 {
		t.Fatalf("Write(nil) = %d, %v", n, err)
	}
	if out.Len() != 0 {
		t.Fatalf("expected no bytes written for an empty Write, got %d", out.Len())
	}
}

func TestOutputFramerStickyErrorClosesConnection(t *testing.T) {
	t.Parallel()

	fw := &failingWriter{failAfter: 0}
	cl := &countingCloser{}
	framer := newOutputFramer(fw, cl)

	if err := framer.writeRecord(wire.KindStdout, 1, []byte("x")); err == nil {
		t.Fatal("expected write error")
	}
	if cl.closes != 1 {
		t.Fatalf("closer called %d times, want 1", cl.closes)
	}
	if err := framer.writeRecord(wire.KindStdout, 1, []byte("y")); err == nil {
		t.Fatal("expected sticky error on subsequent write")
	}
	if cl.closes != 1 {
		t.Fatalf("closer called %d times after sticky error, want still 1", cl.closes)
	}
}

type failingWriter struct {
	failAfter int
	n         int
}

func (f *failingWriter) Write(p []byte) (int, error) {
	if f.n >= f.failAfter {
		return 0, bytes.ErrTooLarge
	}
	f.n++
	return len(p), nil
}

type countingCloser struct{ closes int }

func (c *countingCloser) Close() error {
	c.closes++
	return nil
}

//go:build integration

package fcgi_test

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"

	fastcgi "github.com/mickamy/fastcgi"
	"github.com/mickamy/fastcgi/internal/wire"
)

// startServer listens on a loopback TCP port and serves every accepted
// connection with handle, returning the listen address. This exercises
// the demultiplexer over a real socket instead of the in-memory
// io.ReadWriteCloser the package's own unit tests use, so TCP-level
// fragmentation of records is part of what gets tested.
func startServer(t *testing.T, handle fastcgi.Handler) string {
	t.Helper()

	var lc net.ListenConfig
	lis, err := lc.Listen(t.Context(), "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(t.Context())
	go func() {
		<-ctx.Done()
		_ = lis.Close()
	}()
	t.Cleanup(cancel)

	go func() {
		for {
			conn, err := lis.Accept()
			if err != nil {
				return
			}
			go func() {
				reqs := fastcgi.NewFromConn(conn, fastcgi.DefaultOptions())
				defer func() { _ = reqs.Close() }()
				for {
					req, err := reqs.Next(ctx)
					if err != nil {
						return
					}
					req.Serve(ctx, handle)
				}
			}()
		}
	}()

	return lis.Addr().String()
}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	d := net.Dialer{Timeout: 2 * time.Second}
	conn, err := d.DialContext(t.Context(), "tcp", addr)
	if err != nil {
		t.Fatalf("dial %s: %v", addr, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendRecord(t *testing.T, w io.Writer, kind wire.Kind, id uint16, payload []byte) {
	t.Helper()
	b, err := wire.EncodeRecord(kind, id, payload)
	if err != nil {
		t.Fatalf("EncodeRecord: %v", err)
	}
	if _, err := w.Write(b); err != nil {
		t.Fatalf("write record: %v", err)
	}
}

func readRecord(t *testing.T, r io.Reader) (wire.Header, []byte) {
	t.Helper()
	h, err := wire.ReadHeader(r)
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	body, err := wire.ReadBody(r, int(h.ContentLength), int(h.PaddingLength))
	if err != nil {
		t.Fatalf("ReadBody: %v", err)
	}
	return h, body
}

// TestRealSocketResponderRoundTrip drives a full BEGIN_REQUEST/PARAMS/
// STDIN/response cycle over a real TCP connection end to end.
func TestRealSocketResponderRoundTrip(t *testing.T) {
	addr := startServer(t, func(ctx context.Context, req *fastcgi.Request) fastcgi.RequestResult {
		in, err := io.ReadAll(req.Stdin())
		if err != nil {
			return fastcgi.HandlerError(err)
		}
		if _, err := req.Stdout().Write(append([]byte("echo:"), in...)); err != nil {
			return fastcgi.HandlerError(err)
		}
		return fastcgi.Complete(0)
	})

	conn := dial(t, addr)

	params := wire.EncodePairs([]wire.NameValue{
		{Name: []byte("SCRIPT_NAME"), Value: []byte("/real")},
	})
	sendRecord(t, conn, wire.KindBeginRequest, 1, wire.EncodeBeginRequestBody(wire.RoleResponder, 0))
	sendRecord(t, conn, wire.KindParams, 1, params)
	sendRecord(t, conn, wire.KindParams, 1, nil)
	sendRecord(t, conn, wire.KindStdin, 1, []byte("payload-over-the-wire"))
	sendRecord(t, conn, wire.KindStdin, 1, nil)

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	h, body := readRecord(t, conn)
	if h.Kind != wire.KindStdout {
		t.Fatalf("first record kind = %v, want STDOUT", h.Kind)
	}
	if !bytes.Equal(body, []byte("echo:payload-over-the-wire")) {
		t.Fatalf("stdout body = %q", body)
	}

	h, body = readRecord(t, conn)
	if h.Kind != wire.KindStdout || len(body) != 0 {
		t.Fatalf("expected empty STDOUT EOS record, got kind=%v len=%d", h.Kind, len(body))
	}

	h, body = readRecord(t, conn)
	if h.Kind != wire.KindStderr || len(body) != 0 {
		t.Fatalf("expected empty STDERR EOS record, got kind=%v len=%d", h.Kind, len(body))
	}

	h, body = readRecord(t, conn)
	if h.Kind != wire.KindEndRequest {
		t.Fatalf("expected END_REQUEST, got kind=%v", h.Kind)
	}
	if len(body) != 5 || body[4] != wire.StatusRequestComplete {
		t.Fatalf("END_REQUEST body = %v", body)
	}
}

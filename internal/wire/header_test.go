package wire_test

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/mickamy/fastcgi/internal/wire"
)

func TestEncodeDecodeHeaderRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		kind      wire.Kind
		requestID uint16
		payload   []byte
	}{
		{"empty stdin", wire.KindStdin, 1, nil},
		{"short params", wire.KindParams, 7, []byte("SCRIPT_NAME")},
		{"max request id", wire.KindStdout, 0xFFFF, []byte("hello")},
		{"needs no padding", wire.KindStdout, 1, make([]byte, 8)},
		{"needs padding", wire.KindStdout, 1, make([]byte, 9)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			framed, err := wire.EncodeRecord(tt.kind, tt.requestID, tt.payload)
			if err != nil {
				t.Fatalf("EncodeRecord: %v", err)
			}
			if len(framed)%8 != 0 {
				t.Fatalf("framed record length %d is not 8-byte aligned", len(framed))
			}

			h, err := wire.ReadHeader(bytes.NewReader(framed))
			if err != nil {
				t.Fatalf("ReadHeader: %v", err)
			}
			if h.Kind != tt.kind || h.RequestID != tt.requestID || int(h.ContentLength) != len(tt.payload) {
				t.Fatalf("decoded header %+v does not match input", h)
			}

			body, err := wire.ReadBody(bytes.NewReader(framed[wire.HeaderLen:]), int(h.ContentLength), int(h.PaddingLength))
			if err != nil {
				t.Fatalf("ReadBody: %v", err)
			}
			if !bytes.Equal(body, tt.payload) && !(len(body) == 0 && len(tt.payload) == 0) {
				t.Fatalf("body round-trip mismatch: got %q want %q", body, tt.payload)
			}
		})
	}
}

func TestDecodeHeaderInvalidVersion(t *testing.T) {
	t.Parallel()

	buf := make([]byte, wire.HeaderLen)
	buf[0] = 2 // unsupported version
	_, err := wire.DecodeHeader(buf)
	if !errors.Is(err, wire.ErrInvalidVersion) {
		t.Fatalf("expected ErrInvalidVersion, got %v", err)
	}
}

func TestReadHeaderShortRead(t *testing.T) {
	t.Parallel()

	_, err := wire.ReadHeader(bytes.NewReader([]byte{1, 2, 3}))
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected io.ErrUnexpectedEOF, got %v", err)
	}
}

func TestEncodeRecordTooLong(t *testing.T) {
	t.Parallel()

	_, err := wire.EncodeRecord(wire.KindStdout, 1, make([]byte, wire.MaxPayloadSize+1))
	if err == nil {
		t.Fatal("expected error for oversized payload")
	}
}

func TestBeginRequestBodyRoundTrip(t *testing.T) {
	t.Parallel()

	body := wire.EncodeBeginRequestBody(wire.RoleFilter, wire.FlagKeepConn)
	role, flags, err := wire.DecodeBeginRequestBody(body)
	if err != nil {
		t.Fatalf("DecodeBeginRequestBody: %v", err)
	}
	if role != wire.RoleFilter || flags != wire.FlagKeepConn {
		t.Fatalf("got role=%d flags=%d", role, flags)
	}
}

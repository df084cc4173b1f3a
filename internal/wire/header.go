// Package wire implements the FastCGI 1.0 record and name-value pair
// codecs. Every function here is pure: no I/O beyond the io.Reader handed
// in for reading a record body, and no state beyond the bytes passed by
// the caller.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Kind identifies a FastCGI record type.
type Kind uint8

const (
	KindBeginRequest    Kind = 1
	KindAbortRequest    Kind = 2
	KindEndRequest      Kind = 3
	KindParams          Kind = 4
	KindStdin           Kind = 5
	KindStdout          Kind = 6
	KindStderr          Kind = 7
	KindData            Kind = 8
	KindGetValues       Kind = 9
	KindGetValuesResult Kind = 10
	KindUnknownType     Kind = 11
)

func (k Kind) String() string {
	switch k {
	case KindBeginRequest:
		return "BEGIN_REQUEST"
	case KindAbortRequest:
		return "ABORT_REQUEST"
	case KindEndRequest:
		return "END_REQUEST"
	case KindParams:
		return "PARAMS"
	case KindStdin:
		return "STDIN"
	case KindStdout:
		return "STDOUT"
	case KindStderr:
		return "STDERR"
	case KindData:
		return "DATA"
	case KindGetValues:
		return "GET_VALUES"
	case KindGetValuesResult:
		return "GET_VALUES_RESULT"
	case KindUnknownType:
		return "UNKNOWN_TYPE"
	default:
		return fmt.Sprintf("KIND(%d)", uint8(k))
	}
}

// Protocol constants from the FastCGI 1.0 specification.
const (
	Version1 = 1

	HeaderLen      = 8
	MaxPayloadSize = 65535

	// Roles.
	RoleResponder  = 1
	RoleAuthorizer = 2
	RoleFilter     = 3

	// END_REQUEST protocol_status values.
	StatusRequestComplete = 0
	StatusCantMpxConn     = 1
	StatusOverloaded      = 2
	StatusUnknownRole     = 3

	// keep_conn bit within BEGIN_REQUEST's flags byte.
	FlagKeepConn = 1 << 0
)

var (
	// ErrInvalidVersion means a record header declared an unsupported
	// FastCGI protocol version. Connection-fatal.
	ErrInvalidVersion = errors.New("wire: invalid protocol version")

	// ErrUnsupportedKind names a record type byte that is not one this
	// codec recognizes. DecodeHeader and ReadHeader do not return it:
	// they accept any kind byte, and the demultiplexer answers a kind it
	// does not handle with UNKNOWN_TYPE and continues.
	ErrUnsupportedKind = errors.New("wire: unsupported record kind")
)

// Header is a decoded 8-byte FastCGI record header.
type Header struct {
	Version       uint8
	Kind          Kind
	RequestID     uint16
	ContentLength uint16
	PaddingLength uint8
}

// DecodeHeader parses an 8-byte FastCGI record header. b must be exactly
// HeaderLen bytes, as returned by reading the wire's fixed-size prefix.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) != HeaderLen {
		return Header{}, fmt.Errorf("wire: header must be %d bytes, got %d", HeaderLen, len(b))
	}
	h := Header{
		Version:       b[0],
		Kind:          Kind(b[1]),
		RequestID:     binary.BigEndian.Uint16(b[2:4]),
		ContentLength: binary.BigEndian.Uint16(b[4:6]),
		PaddingLength: b[6],
		// b[7] is reserved.
	}
	if h.Version != Version1 {
		return Header{}, fmt.Errorf("%w: %d", ErrInvalidVersion, h.Version)
	}
	return h, nil
}

// ReadHeader reads and decodes the next 8-byte header from r.
func ReadHeader(r io.Reader) (Header, error) {
	var buf [HeaderLen]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return Header{}, err
		}
		return Header{}, fmt.Errorf("wire: read header: %w", err)
	}
	return DecodeHeader(buf[:])
}

// ReadBody reads a record's content followed by its padding, discarding
// the padding and returning only the content bytes.
func ReadBody(r io.Reader, contentLength, paddingLength int) ([]byte, error) {
	body := make([]byte, contentLength)
	if contentLength > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, fmt.Errorf("wire: read body: %w", io.ErrUnexpectedEOF)
		}
	}
	if paddingLength > 0 {
		if _, err := io.CopyN(io.Discard, r, int64(paddingLength)); err != nil {
			return nil, fmt.Errorf("wire: read padding: %w", io.ErrUnexpectedEOF)
		}
	}
	return body, nil
}

// padding returns the number of padding bytes needed to align n to 8.
func padding(n int) uint8 {
	return uint8((8 - (n % 8)) % 8)
}

// EncodeRecord frames payload as a single FastCGI record: header, content,
// then alignment padding. payload must not exceed MaxPayloadSize; callers
// that hold more than one record's worth of data must chunk it themselves
// (the output framer does this).
func EncodeRecord(kind Kind, requestID uint16, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("wire: payload %d exceeds max record size %d", len(payload), MaxPayloadSize)
	}
	pad := padding(len(payload))
	buf := make([]byte, HeaderLen+len(payload)+int(pad))
	buf[0] = Version1
	buf[1] = byte(kind)
	binary.BigEndian.PutUint16(buf[2:4], requestID)
	binary.BigEndian.PutUint16(buf[4:6], uint16(len(payload)))
	buf[6] = pad
	buf[7] = 0
	copy(buf[HeaderLen:], payload)
	// Trailing bytes are already zero from make(); content is arbitrary
	// padding per spec, zero is as good as any.
	return buf, nil
}

// EncodeBeginRequestBody packs the BEGIN_REQUEST payload: role, flags,
// and 5 reserved bytes.
func EncodeBeginRequestBody(role uint16, flags uint8) []byte {
	var b [8]byte
	binary.BigEndian.PutUint16(b[0:2], role)
	b[2] = flags
	return b[:]
}

// DecodeBeginRequestBody parses a BEGIN_REQUEST payload.
func DecodeBeginRequestBody(payload []byte) (role uint16, flags uint8, err error) {
	if len(payload) < 8 {
		return 0, 0, fmt.Errorf("wire: short BEGIN_REQUEST body: %d bytes", len(payload))
	}
	return binary.BigEndian.Uint16(payload[0:2]), payload[2], nil
}

// EncodeEndRequestBody packs the END_REQUEST payload: app_status,
// protocol_status, and 3 reserved bytes.
func EncodeEndRequestBody(appStatus uint32, protocolStatus uint8) []byte {
	var b [8]byte
	binary.BigEndian.PutUint32(b[0:4], appStatus)
	b[4] = protocolStatus
	return b[:]
}

// EncodeUnknownTypeBody packs the UNKNOWN_TYPE payload: the unrecognized
// kind byte and 7 reserved bytes.
func EncodeUnknownTypeBody(unknownKind uint8) []byte {
	var b [8]byte
	b[0] = unknownKind
	return b[:]
}

package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrMalformedPairs means a name-value pair payload declared a length
// that exceeds the remaining bytes. On PARAMS this is connection-fatal
// (a corrupt environment cannot be recovered); on GET_VALUES it is
// recoverable (the caller replies with an empty result).
var ErrMalformedPairs = errors.New("wire: malformed name-value pair length")

// NameValue is a single decoded (name, value) pair. Order and duplicates
// are preserved exactly as they appeared on the wire.
type NameValue struct {
	Name  []byte
	Value []byte
}

// writeLength appends l's length-prefix encoding: one byte if l < 128,
// otherwise four bytes with the high bit set per the FastCGI 1.0 rule.
func writeLength(buf *bytes.Buffer, l int) {
	if l < 128 {
		buf.WriteByte(byte(l))
		return
	}
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(l)|(1<<31))
	buf.Write(b[:])
}

// readLength decodes one length field starting at payload[0], returning
// the decoded value and the number of bytes it consumed.
func readLength(payload []byte) (length, consumed int, err error) {
	if len(payload) < 1 {
		return 0, 0, fmt.Errorf("%w: empty length field", ErrMalformedPairs)
	}
	if payload[0]&0x80 == 0 {
		return int(payload[0]), 1, nil
	}
	if len(payload) < 4 {
		return 0, 0, fmt.Errorf("%w: truncated 4-byte length", ErrMalformedPairs)
	}
	v := binary.BigEndian.Uint32(payload[0:4]) &^ (1 << 31)
	return int(v), 4, nil
}

// EncodePairs encodes a sequence of name-value pairs into a single PARAMS
// or GET_VALUES(_RESULT) payload, in order, picking the shorter length
// form for each length.
func EncodePairs(pairs []NameValue) []byte {
	var buf bytes.Buffer
	for _, p := range pairs {
		writeLength(&buf, len(p.Name))
		writeLength(&buf, len(p.Value))
		buf.Write(p.Name)
		buf.Write(p.Value)
	}
	return buf.Bytes()
}

// DecodePairs strictly decodes a name-value pair payload. Declared
// lengths that exceed the remaining payload produce ErrMalformedPairs.
func DecodePairs(payload []byte) ([]NameValue, error) {
	var pairs []NameValue
	i := 0
	for i < len(payload) {
		nameLen, n, err := readLength(payload[i:])
		if err != nil {
			return nil, err
		}
		i += n

		valueLen, n, err := readLength(payload[i:])
		if err != nil {
			return nil, err
		}
		i += n

		if nameLen < 0 || valueLen < 0 || i+nameLen+valueLen > len(payload) {
			return nil, fmt.Errorf("%w: declared %d+%d bytes, %d remain", ErrMalformedPairs, nameLen, valueLen, len(payload)-i)
		}

		name := payload[i : i+nameLen]
		i += nameLen
		value := payload[i : i+valueLen]
		i += valueLen

		pairs = append(pairs, NameValue{Name: name, Value: value})
	}
	return pairs, nil
}

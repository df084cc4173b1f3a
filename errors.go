package fcgi

import "errors"

// Sentinel errors returned by Request and Requests. Wrap with %w and
// unwrap with errors.Is/errors.As as usual.
var (
	// ErrAborted is returned by a Request's stdin/data readers once the
	// peer has sent ABORT_REQUEST for that request.
	ErrAborted = errors.New("fcgi: request aborted")

	// ErrConnectionClosed is returned by Requests.Next once Close has
	// torn the connection down. When the connection ends for another
	// reason (peer hangup, a read or framing error, a write error), Next
	// returns that underlying error instead, e.g. io.EOF.
	ErrConnectionClosed = errors.New("fcgi: connection closed")
)

// Logger is the minimal logging surface fcgi needs. *log.Logger and most
// structured-logging wrappers satisfy it without an adapter.
type Logger interface {
	Printf(format string, args ...any)
}

type discardLogger struct{}

func (discardLogger) Printf(string, ...any) {}

package fcgi

import "github.com/mickamy/fastcgi/internal/eventbus"

// Options configures a Requests demultiplexer. The zero value is not
// ready to use directly; start from DefaultOptions and override fields,
// the same plain-struct-plus-constructor shape the rest of this module
// uses instead of functional options.
type Options struct {
	// MaxConcurrentRequests sizes the buffer of assembled requests waiting
	// to be returned by Next(); while it is full, the read loop waits for
	// Next before reading further records. It does not limit how many
	// requests are assembled or processed at once and does not reject
	// extra BEGIN_REQUEST records (FCGI_MAX_REQS is advisory, advertised
	// via GET_VALUES_RESULT).
	MaxConcurrentRequests int

	// MaxInputBufferBytesPerStream bounds how many undrained bytes a
	// single request's stdin or data stream may hold before the
	// demultiplexer stops reading further records from the connection.
	MaxInputBufferBytesPerStream int

	// ManagementValues answers GET_VALUES queries: keys the peer asks
	// about that are present here are echoed back with their value;
	// unrecognized keys are dropped from the reply.
	ManagementValues map[string]string

	// Logger receives diagnostic messages for protocol violations that
	// are recoverable and don't warrant tearing down the connection.
	// Defaults to a no-op logger.
	Logger Logger

	// Events, if set, receives a lifecycle Event for every request this
	// connection assembles, dispatches, and completes or aborts.
	Events *eventbus.Bus[Event]
}

// DefaultOptions returns the conservative single-request-at-a-time
// configuration: no multiplexing advertised, a 1 MiB per-stream input
// buffer, and a discarding logger.
func DefaultOptions() Options {
	return Options{
		MaxConcurrentRequests:        1,
		MaxInputBufferBytesPerStream: 1 << 20,
		ManagementValues: map[string]string{
			"FCGI_MAX_CONNS":  "1",
			"FCGI_MAX_REQS":   "1",
			"FCGI_MPXS_CONNS": "0",
		},
	}
}

// withDefaults fills any unset field with DefaultOptions' value.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxConcurrentRequests <= 0 {
		o.MaxConcurrentRequests = d.MaxConcurrentRequests
	}
	if o.MaxInputBufferBytesPerStream <= 0 {
		o.MaxInputBufferBytesPerStream = d.MaxInputBufferBytesPerStream
	}
	if o.ManagementValues == nil {
		o.ManagementValues = d.ManagementValues
	}
	if o.Logger == nil {
		o.Logger = discardLogger{}
	}
	return o
}

func (o Options) managementValue(key string) (string, bool) {
	v, ok := o.ManagementValues[key]
	return v, ok
}

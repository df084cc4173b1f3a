// fcgi.go holds no code of its own: the entry points NewFromConn and
// NewFromSplit live in conn.go with the demultiplexer, the per-request
// state machine in request.go, and the output record framer in output.go.
package fcgi

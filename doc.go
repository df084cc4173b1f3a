// Copyright and license: none carried — the teacher repository this
// package is adapted from ships no license header on its own source
// files, so none is added here.

// Package fcgi implements the server side of the FastCGI 1.0 protocol:
// it terminates a byte-level connection from a web server, demultiplexes
// concurrent requests sharing that connection, and exposes each as a
// Request with incrementally-readable stdin/data streams and
// record-framed stdout/stderr writers.
//
// Socket acceptance and goroutine spawning are the host's job. A typical
// server loop looks like:
//
//	reqs := fcgi.NewFromConn(conn, fcgi.DefaultOptions())
//	for {
//		req, err := reqs.Next(ctx)
//		if err != nil {
//			break
//		}
//		go req.Serve(ctx, handler)
//	}
//
// Out of scope, per the protocol this library implements: the FastCGI
// client role, listening-socket management, HTTP parsing of request
// bodies, and any built-in connection pooling — one connection gets one
// *Requests demultiplexer.
package fcgi

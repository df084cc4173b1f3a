package paramsutil

import "strings"

// RequestLine reconstructs an access-log-style summary of a request from
// its PARAMS (as returned by Request.StringParams): "METHOD
// PATH?QUERY SERVER_PROTOCOL". Method, query and protocol are omitted
// when the peer didn't send them rather than shown as empty tokens; the
// path falls back from DOCUMENT_URI to SCRIPT_NAME and then to "/".
func RequestLine(m map[string]string) string {
	var b strings.Builder
	if method := m["REQUEST_METHOD"]; method != "" {
		b.WriteString(method)
		b.WriteByte(' ')
	}

	path := m["DOCUMENT_URI"]
	if path == "" {
		path = m["SCRIPT_NAME"]
	}
	if path == "" {
		path = "/"
	}
	b.WriteString(path)

	if q := m["QUERY_STRING"]; q != "" {
		b.WriteByte('?')
		b.WriteString(q)
	}

	if proto := m["SERVER_PROTOCOL"]; proto != "" {
		b.WriteByte(' ')
		b.WriteString(proto)
	}

	return b.String()
}

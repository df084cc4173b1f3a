// Package paramsutil turns a request's raw PARAMS into the two things a
// human actually wants to look at: a redacted copy safe to log or show on
// a dashboard, and a single summary line in the shape of an access log
// entry.
package paramsutil

import (
	"strings"

	"github.com/mickamy/fastcgi"
)

const redactedPlaceholder = "[redacted]"

// sensitiveNames are CGI param names whose values commonly carry
// credentials. Matching is case-insensitive since servers vary in how
// they capitalize HTTP_* param names.
var sensitiveNames = map[string]struct{}{
	"HTTP_AUTHORIZATION": {},
	"HTTP_COOKIE":        {},
	"HTTP_SET_COOKIE":    {},
	"HTTP_X_API_KEY":     {},
	"PHP_AUTH_PW":        {},
	"PHP_AUTH_USER":      {},
}

// Redact returns a copy of params with the value of every sensitive
// param replaced by a placeholder. Names not on the sensitive list pass
// through unchanged; the input slice is never mutated.
func Redact(params []fcgi.NameValue) []fcgi.NameValue {
	out := make([]fcgi.NameValue, len(params))
	for i, p := range params {
		out[i] = p
		if isSensitive(p.Name) {
			out[i].Value = redactedPlaceholder
		}
	}
	return out
}

func isSensitive(name string) bool {
	_, ok := sensitiveNames[strings.ToUpper(name)]
	return ok
}

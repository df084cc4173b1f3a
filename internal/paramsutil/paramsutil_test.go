package paramsutil_test

import (
	"testing"

	fastcgi "github.com/mickamy/fastcgi"
	"github.com/mickamy/fastcgi/internal/paramsutil"
)

func TestRedactMasksSensitiveParamsOnly(t *testing.T) {
	t.Parallel()

	in := []fastcgi.NameValue{
		{Name: "HTTP_AUTHORIZATION", Value: "Bearer secret"},
		{Name: "http_cookie", Value: "session=abc"},
		{Name: "SCRIPT_NAME", Value: "/index.php"},
	}

	out := paramsutil.Redact(in)
	if out[0].Value != "[redacted]" {
		t.Fatalf("HTTP_AUTHORIZATION not redacted: %q", out[0].Value)
	}
	if out[1].Value != "[redacted]" {
		t.Fatalf("case-insensitive cookie not redacted: %q", out[1].Value)
	}
	if out[2].Value != "/index.php" {
		t.Fatalf("non-sensitive param was modified: %q", out[2].Value)
	}
	if in[0].Value != "Bearer secret" {
		t.Fatal("Redact mutated its input slice")
	}
}

func TestRequestLine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		params map[string]string
		want   string
	}{
		{
			name: "full set",
			params: map[string]string{
				"REQUEST_METHOD":  "GET",
				"DOCUMENT_URI":    "/users",
				"QUERY_STRING":    "id=1",
				"SERVER_PROTOCOL": "HTTP/1.1",
			},
			want: "GET /users?id=1 HTTP/1.1",
		},
		{
			name:   "missing everything falls back to root",
			params: map[string]string{},
			want:   "/",
		},
		{
			name: "no query string",
			params: map[string]string{
				"REQUEST_METHOD": "POST",
				"SCRIPT_NAME":    "/submit",
			},
			want: "POST /submit",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := paramsutil.RequestLine(tt.params); got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

package fcgi

import (
	"fmt"

	"github.com/mickamy/fastcgi/internal/wire"
)

// Role identifies which of the three FastCGI roles a request was begun
// with. The numeric values match the wire encoding.
type Role uint16

const (
	RoleResponder  Role = wire.RoleResponder
	RoleAuthorizer Role = wire.RoleAuthorizer
	RoleFilter     Role = wire.RoleFilter
)

func (r Role) String() string {
	switch r {
	case RoleResponder:
		return "Responder"
	case RoleAuthorizer:
		return "Authorizer"
	case RoleFilter:
		return "Filter"
	default:
		return fmt.Sprintf("Role(%d)", uint16(r))
	}
}

// wantsStdin reports whether requests in this role gate readiness on
// STDIN reaching end-of-stream.
func (r Role) wantsStdin() bool {
	return r == RoleResponder || r == RoleFilter
}

// wantsData reports whether requests in this role gate readiness on DATA
// reaching end-of-stream. Only Filter uses the DATA stream.
func (r Role) wantsData() bool {
	return r == RoleFilter
}

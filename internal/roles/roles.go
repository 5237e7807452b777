package roles

import "strings"

// Role is the closed set of account roles ordered by privilege.
type Role string

const (
	Visitor Role = "VISITOR"
	Owner   Role = "OWNER"
	Editor  Role = "EDITOR"
	Admin   Role = "ADMIN"
)

// rank assigns a strictly increasing integer to each known role. Unknown or
// malformed values rank below Visitor so access checks fail closed.
var rank = map[Role]int{
	Visitor: 1,
	Owner:   2,
	Editor:  3,
	Admin:   4,
}

// Parse normalises a stored or user-supplied role string. Unrecognised values
// map to Visitor.
func Parse(value string) Role {
	role := Role(strings.ToUpper(strings.TrimSpace(value)))
	if _, ok := rank[role]; ok {
		return role
	}
	return Visitor
}

// Valid reports whether the value is one of the known roles.
func Valid(value string) bool {
	_, ok := rank[Role(strings.ToUpper(strings.TrimSpace(value)))]
	return ok
}

// Satisfies reports whether current meets the required role floor.
func Satisfies(current, required Role) bool {
	return rankOf(current) >= rankOf(required)
}

func rankOf(r Role) int {
	if v, ok := rank[r]; ok {
		return v
	}
	return 0
}

package roles

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseNormalises(t *testing.T) {
	require.Equal(t, Editor, Parse("editor"))
	require.Equal(t, Admin, Parse("  ADMIN  "))
	require.Equal(t, Owner, Parse("Owner"))
}

func TestParseUnknownFallsBackToVisitor(t *testing.T) {
	for _, value := range []string{"", "superuser", "root", "ADMINISTRATOR", "ed1tor"} {
		require.Equal(t, Visitor, Parse(value), "value %q", value)
	}
}

func TestValid(t *testing.T) {
	require.True(t, Valid("visitor"))
	require.True(t, Valid("ADMIN"))
	require.False(t, Valid(""))
	require.False(t, Valid("moderator"))
}

func TestSatisfiesOrdering(t *testing.T) {
	ordered := []Role{Visitor, Owner, Editor, Admin}
	for i, current := range ordered {
		for j, required := range ordered {
			require.Equal(t, i >= j, Satisfies(current, required),
				"current=%s required=%s", current, required)
		}
	}
}

func TestSatisfiesFailsClosedForUnknownRoles(t *testing.T) {
	// An unrecognised current role outranks nothing, not even Visitor.
	require.False(t, Satisfies(Role("SUPERADMIN"), Visitor))
	require.False(t, Satisfies(Role(""), Visitor))

	// An unknown floor is below Visitor, so any known role passes it.
	require.True(t, Satisfies(Visitor, Role("UNKNOWN")))
}

package identity

import (
	"errors"
	"testing"

	"github.com/dmitrijs2005/tenantguard/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUniversalID_Valid(t *testing.T) {
	id, err := ParseUniversalID("U1$7")
	require.NoError(t, err)
	assert.Equal(t, ScopedUserID{LocalID: "U1", TenantID: 7}, id)
}

func TestParseUniversalID_TrimsParts(t *testing.T) {
	id, err := ParseUniversalID("  alice@example.com $ 42 ")
	require.NoError(t, err)
	assert.Equal(t, NewScopedUserID("alice@example.com", 42), id)
}

func TestParseUniversalID_LocalIDWithDelimiter(t *testing.T) {
	id, err := ParseUniversalID("a$b$3")
	require.NoError(t, err)
	assert.Equal(t, "a$b", id.LocalID)
	assert.Equal(t, int64(3), id.TenantID)
	assert.Equal(t, "a$b$3", id.UniversalID())
}

func TestParseUniversalID_Rejects(t *testing.T) {
	for _, raw := range []string{"$7", "U1$", "U1", "", "  $  ", "U1$abc", "U1$7.5", "U1$0x10"} {
		t.Run(raw, func(t *testing.T) {
			_, err := ParseUniversalID(raw)
			if !errors.Is(err, common.ErrMalformedIdentity) {
				t.Fatalf("ParseUniversalID(%q) error = %v, want ErrMalformedIdentity", raw, err)
			}
		})
	}
}

func TestUniversalID_RoundTrip(t *testing.T) {
	for _, id := range []ScopedUserID{
		NewScopedUserID("U1", 7),
		NewScopedUserID("user-42", 0),
		NewScopedUserID("x", -3),
		NewScopedUserID("+38599123", 9223372036854775807),
	} {
		parsed, err := ParseUniversalID(id.UniversalID())
		require.NoError(t, err)
		assert.Equal(t, id, parsed)
	}
}

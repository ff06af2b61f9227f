package authz

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func datePtr(t *testing.T, value string) *time.Time {
	t.Helper()
	parsed, err := time.Parse("2006-01-02", value)
	require.NoError(t, err)
	return &parsed
}

func TestDateWindowActiveAt(t *testing.T) {
	now, err := time.Parse("2006-01-02", "2025-06-15")
	require.NoError(t, err)

	cases := []struct {
		name   string
		window DateWindow
		active bool
	}{
		{"open both sides", DateWindow{}, true},
		{"start in past", DateWindow{StartsOn: datePtr(t, "2025-01-01")}, true},
		{"start today", DateWindow{StartsOn: datePtr(t, "2025-06-15")}, true},
		{"start in future", DateWindow{StartsOn: datePtr(t, "2025-07-01")}, false},
		{"end today", DateWindow{EndsOn: datePtr(t, "2025-06-15")}, true},
		{"end in past", DateWindow{EndsOn: datePtr(t, "2025-06-01")}, false},
		{"bounded and inside", DateWindow{StartsOn: datePtr(t, "2025-06-01"), EndsOn: datePtr(t, "2025-06-30")}, true},
		{"bounded and expired", DateWindow{StartsOn: datePtr(t, "2025-05-01"), EndsOn: datePtr(t, "2025-05-31")}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.active, tc.window.ActiveAt(now))
		})
	}
}

func TestDateWindowEqual(t *testing.T) {
	a := DateWindow{StartsOn: datePtr(t, "2025-01-01")}
	b := DateWindow{StartsOn: datePtr(t, "2025-01-01")}
	assert.True(t, a.Equal(b))
	assert.True(t, DateWindow{}.Equal(DateWindow{}))
	assert.False(t, a.Equal(DateWindow{}))
	assert.False(t, a.Equal(DateWindow{StartsOn: datePtr(t, "2025-01-02")}))
}

func TestParseAccess(t *testing.T) {
	access, err := ParseAccess(" Grant ")
	require.NoError(t, err)
	assert.Equal(t, AccessGrant, access)

	access, err = ParseAccess("deny")
	require.NoError(t, err)
	assert.Equal(t, AccessDeny, access)

	_, err = ParseAccess("maybe")
	assert.Error(t, err)
}

package roomcode

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandom_MatchesPattern(t *testing.T) {
	pattern := regexp.MustCompile(`^[A-Z]{3}-[0-9]{3}$`)
	for i := 0; i < 500; i++ {
		code, err := Random()
		require.NoError(t, err)
		assert.Regexp(t, pattern, code)
		assert.True(t, IsRandom(code))
	}
}

func TestDated(t *testing.T) {
	day := time.Date(2026, time.October, 16, 9, 30, 0, 0, time.UTC)

	code, err := Dated(day, 7)
	require.NoError(t, err)
	assert.Equal(t, "261016-007", code)
	assert.True(t, IsDated(code))

	_, err = Dated(day, 0)
	assert.Error(t, err)

	_, err = Dated(day, MaxSequence+1)
	assert.ErrorIs(t, err, ErrSequenceExceeded)
}

func TestToday(t *testing.T) {
	day := time.Date(2026, time.January, 2, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, "260102", Today(day))
	assert.NoError(t, Validate(Today(day)))
}

func TestNormalizeAndParse(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "  abc-123 ", want: "ABC-123"},
		{in: "abc-12#3", want: "ABC-123"},
		{in: "261016-001", want: "261016-001"},
		{in: "261016", want: "261016"},
		{in: "ab-123", wantErr: true},
		{in: "", wantErr: true},
		{in: "ABC123", wantErr: true},
	}
	for _, tc := range cases {
		got, err := Parse(tc.in)
		if tc.wantErr {
			assert.ErrorIs(t, err, ErrInvalidCode, "input %q", tc.in)
			continue
		}
		require.NoError(t, err, "input %q", tc.in)
		assert.Equal(t, tc.want, got)
	}
}

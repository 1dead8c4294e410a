package topic

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeTopicFilter(t *testing.T) {
	tests := []struct {
		filter string
		want   Levels
	}{
		{"a/+/e", Levels{"a", "+", "e", End}},
		{"a/#", Levels{"a", "#", End}},
		{"#", Levels{"#", End}},
		{"+/+", Levels{"+", "+", End}},
		{"sport/tennis/player1", Levels{"sport", "tennis", "player1", End}},
	}
	for _, tt := range tests {
		got, err := SanitizeTopicFilter(tt.filter)
		require.NoError(t, err, tt.filter)
		assert.Equal(t, tt.want, got, tt.filter)
		assert.Equal(t, tt.filter, got.Topic())
	}
}

func TestSanitizeRejects(t *testing.T) {
	filters := []string{"", "a//b", "/a", "a/", "a/#/b", "a/b#", "a+/b", "a/^/b", "a\x00b", string([]byte{0xff, 0xfe})}
	for _, f := range filters {
		_, err := SanitizeTopicFilter(f)
		assert.ErrorIs(t, err, ErrInvalidTopicFilter, "%q", f)
	}

	names := []string{"", "a/+", "a/#", "a//b", "^"}
	for _, n := range names {
		_, err := SanitizeTopicName(n)
		assert.ErrorIs(t, err, ErrInvalidTopicName, "%q", n)
	}
}

func TestLevelsHelpers(t *testing.T) {
	levels, err := SanitizeTopicName("a/c/f")
	require.NoError(t, err)

	assert.Equal(t, "a/c/f/^", levels.String())
	assert.Equal(t, 3, levels.Last())
	assert.Equal(t, Levels{"a", "#", End}, levels.Truncate(1, MultiWildcard))
	assert.Equal(t, Levels{"a", "+", "f", End}, levels.Replace(1, SingleWildcard))
	assert.Equal(t, "a/c", levels.Prefix(2))
	assert.Equal(t, "", levels.Prefix(0))
	assert.Equal(t, levels, Decode(levels.String()))

	// helpers never alias the receiver
	assert.Equal(t, "c", levels[1])
}

func TestCacheReturnsCopies(t *testing.T) {
	ConfigureCache(16, time.Minute)
	defer ConfigureCache(4096, time.Hour)

	first, err := SanitizeTopicFilter("x/y")
	require.NoError(t, err)
	first[0] = "mutated"

	second, err := SanitizeTopicFilter("x/y")
	require.NoError(t, err)
	assert.Equal(t, Levels{"x", "y", End}, second)

	_, err = SanitizeTopicName("x/+")
	assert.ErrorIs(t, err, ErrInvalidTopicName)
	_, err = SanitizeTopicName("x/+")
	assert.ErrorIs(t, err, ErrInvalidTopicName)

	ConfigureCache(0, 0)
	got, err := Sanitize("x/y")
	require.NoError(t, err)
	assert.Equal(t, "x/y/^", got.String())
}

package storage

import (
	"sort"
	"strconv"
	"strings"
)

// Page returns the members strictly after cursor, at most limit of them
// (all when limit <= 0), and the cursor for the next page. sorted must be in
// ascending order.
func Page(sorted []string, cursor string, limit int) ([]string, string, error) {
	start := 0
	if cursor != "" {
		start = sort.Search(len(sorted), func(i int) bool { return sorted[i] > cursor })
	}
	rest := sorted[start:]
	if limit <= 0 || len(rest) <= limit {
		out := make([]string, len(rest))
		copy(out, rest)
		return out, "", nil
	}
	out := make([]string, limit)
	copy(out, rest[:limit])
	return out, out[limit-1], nil
}

type ScoredMember struct {
	Member string
	Score  float64
}

// SortScored orders by score, then member, and returns the members.
func SortScored(scored []ScoredMember) []string {
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score < scored[j].Score
		}
		return strings.Compare(scored[i].Member, scored[j].Member) < 0
	})
	out := make([]string, len(scored))
	for i, s := range scored {
		out[i] = s.Member
	}
	return out
}

// FormatScore encodes a score for backends that persist it as text.
func FormatScore(score float64) string {
	return strconv.FormatFloat(score, 'g', -1, 64)
}

// ParseScore is the inverse of FormatScore.
func ParseScore(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}

package common

import (
	"sort"
)

// Median gets the median number in a slice of numbers. For an even count it
// returns the mean of the two middle values. An empty slice yields 0.
func Median(input []int64) (median int64) {
	s := make([]int64, len(input))
	copy(s, input)
	sort.Slice(s, func(i, j int) bool { return s[i] < s[j] })

	l := len(s)
	if l == 0 {
		return 0
	} else if l%2 == 0 {
		lo, hi := s[l/2-1], s[l/2]
		// lo + (hi-lo)/2 avoids overflowing on nanosecond timestamps
		median = lo + (hi-lo)/2
	} else {
		median = s[l/2]
	}

	return median
}

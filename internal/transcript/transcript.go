package transcript

import (
	"errors"
	"sort"
)

// ErrUnordered is returned when word start times are not ascending.
var ErrUnordered = errors.New("transcript: words are not ordered by start time")

// Word is one timed word of a transcript. Times are in seconds.
type Word struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end,omitempty"`
}

// Validate checks that start times never decrease.
func Validate(words []Word) error {
	for i := 1; i < len(words); i++ {
		if words[i].Start < words[i-1].Start {
			return ErrUnordered
		}
	}
	return nil
}

// ActiveWordIndex returns the index of the last word whose start time is at
// or before t, or -1 when t precedes the first word. words must be ordered
// by Start.
func ActiveWordIndex(words []Word, t float64) int {
	// first index whose start is strictly after t
	i := sort.Search(len(words), func(i int) bool {
		return words[i].Start > t
	})
	return i - 1
}

// ActiveWordIndices maps every timestamp in times to its active word.
func ActiveWordIndices(words []Word, times []float64) []int {
	out := make([]int, len(times))
	for i, t := range times {
		out[i] = ActiveWordIndex(words, t)
	}
	return out
}

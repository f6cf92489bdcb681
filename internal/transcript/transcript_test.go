package transcript

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func words() []Word {
	return []Word{
		{Text: "the", Start: 0.0, End: 0.2},
		{Text: "quick", Start: 0.25, End: 0.6},
		{Text: "brown", Start: 0.7, End: 1.0},
		{Text: "fox", Start: 1.1, End: 1.4},
	}
}

func TestActiveWordIndex(t *testing.T) {
	w := words()
	tests := []struct {
		name string
		t    float64
		want int
	}{
		{"before first", -0.5, -1},
		{"exactly first", 0.0, 0},
		{"gap between words", 0.22, 0},
		{"exact start", 0.7, 2},
		{"inside word", 0.9, 2},
		{"after last", 9, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ActiveWordIndex(w, tt.t))
		})
	}
}

func TestActiveWordIndexEmpty(t *testing.T) {
	assert.Equal(t, -1, ActiveWordIndex(nil, 1))
}

func TestActiveWordIndexDuplicateStarts(t *testing.T) {
	w := []Word{{Start: 0}, {Start: 1}, {Start: 1}, {Start: 2}}
	assert.Equal(t, 2, ActiveWordIndex(w, 1))
}

func TestActiveWordIndices(t *testing.T) {
	assert.Equal(t, []int{-1, 1, 3}, ActiveWordIndices(words(), []float64{-1, 0.3, 2}))
	assert.Empty(t, ActiveWordIndices(words(), nil))
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(words()))
	assert.NoError(t, Validate(nil))
	assert.ErrorIs(t, Validate([]Word{{Start: 1}, {Start: 0.5}}), ErrUnordered)
}

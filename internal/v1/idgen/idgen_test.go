package idgen

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_ClampsOutOfRangeLength(t *testing.T) {
	assert.Equal(t, DefaultLength, New(2).length)
	assert.Equal(t, DefaultLength, New(99).length)
	assert.Equal(t, 8, New(8).length)
}

func TestGenerate_ProducesIDFromAlphabet(t *testing.T) {
	g := New(6)
	id, err := g.Generate(func(string) (bool, error) { return false, nil })
	require.NoError(t, err)
	assert.Len(t, id, 6)
	for _, c := range id {
		assert.True(t, strings.ContainsRune(Alphabet, c))
	}
}

func TestGenerate_RetriesOnCollision(t *testing.T) {
	g := New(6)
	calls := 0
	id, err := g.Generate(func(string) (bool, error) {
		calls++
		return calls < 3, nil
	})
	require.NoError(t, err)
	assert.Len(t, id, 6)
	assert.Equal(t, 3, calls)
}

func TestGenerate_ExhaustsAfterMaxAttempts(t *testing.T) {
	g := New(6)
	_, err := g.Generate(func(string) (bool, error) { return true, nil })
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestGenerate_PropagatesExistsError(t *testing.T) {
	g := New(6)
	sentinel := assert.AnError
	_, err := g.Generate(func(string) (bool, error) { return false, sentinel })
	assert.ErrorIs(t, err, sentinel)
}

func TestAlphabet_ExcludesAmbiguousCharacters(t *testing.T) {
	for _, c := range []rune{'0', '1', 'I', 'O'} {
		assert.False(t, strings.ContainsRune(Alphabet, c))
	}
}

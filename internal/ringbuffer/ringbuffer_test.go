package ringbuffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushBackAndPopFrontOrder(t *testing.T) {
	b := New[int](3)
	require.NoError(t, b.PushBack(1))
	require.NoError(t, b.PushBack(2))
	require.NoError(t, b.PushBack(3))
	assert.Equal(t, 3, b.Count())

	v, err := b.PopFront()
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestPushBackFullReturnsErrFull(t *testing.T) {
	b := New[int](2)
	require.NoError(t, b.PushBack(1))
	require.NoError(t, b.PushBack(2))
	err := b.PushBack(3)
	assert.ErrorIs(t, err, ErrFull)
	assert.Equal(t, 2, b.Count())
}

func TestPopFrontEmptyReturnsErrEmpty(t *testing.T) {
	b := New[int](2)
	_, err := b.PopFront()
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestClearResetsCount(t *testing.T) {
	b := New[int](2)
	_ = b.PushBack(1)
	b.Clear()
	assert.Equal(t, 0, b.Count())
}

func TestMatchSequenceFindsContiguousSubsequence(t *testing.T) {
	b := New[rune](8)
	for _, r := range "ABCDE" {
		require.NoError(t, b.PushBack(r))
	}
	assert.True(t, b.MatchSequence([]rune("BCD")))
	assert.False(t, b.MatchSequence([]rune("BCE")))
	assert.False(t, b.MatchSequence([]rune("ABCDEF")))
}

func TestMatchSequenceEmptyPatternAlwaysMatches(t *testing.T) {
	b := New[int](2)
	assert.True(t, b.MatchSequence(nil))
}

func TestPushBackOverwriteEvictsOldestWhenFull(t *testing.T) {
	b := New[int](3)
	b.PushBackOverwrite(1)
	b.PushBackOverwrite(2)
	b.PushBackOverwrite(3)
	b.PushBackOverwrite(4)

	assert.Equal(t, 3, b.Count())
	assert.True(t, b.MatchSequence([]int{2, 3, 4}))
	assert.False(t, b.MatchSequence([]int{1, 2, 3}))
}

func TestPushBackOverwriteBelowCapacityDoesNotEvict(t *testing.T) {
	b := New[int](3)
	b.PushBackOverwrite(1)
	b.PushBackOverwrite(2)
	assert.Equal(t, 2, b.Count())
	assert.True(t, b.MatchSequence([]int{1, 2}))
}

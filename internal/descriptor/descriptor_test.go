package descriptor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objfuse/ovfs/internal/vbuffer"
)

func slicesOf(parts ...string) []vbuffer.Slice {
	out := make([]vbuffer.Slice, len(parts))
	for i, p := range parts {
		out[i] = vbuffer.Slice{Bytes: []byte(p)}
	}
	return out
}

func concat(slices []vbuffer.Slice) string {
	var out []byte
	for _, s := range slices {
		out = append(out, s.Bytes...)
	}
	return string(out)
}

func TestConsume_AccumulatesConsumedAndShrinksRemaining(t *testing.T) {
	c := NewChain(slicesOf("hello", " ", "world"))
	total := c.Remaining()

	var ks []uint64
	for _, n := range []uint64{3, 4} {
		k, err := c.Consume(n, func(prefix []vbuffer.Slice) (uint64, error) {
			return uint64(len(concat(prefix))), nil
		})
		require.NoError(t, err)
		ks = append(ks, k)
	}

	var sum uint64
	for _, k := range ks {
		sum += k
	}
	assert.Equal(t, sum, c.Consumed())
	assert.Equal(t, total-sum, c.Remaining())
}

func TestConsume_StraddlingSliceReplacedWithSuffix(t *testing.T) {
	c := NewChain(slicesOf("hello", "world"))

	k, err := c.Consume(7, func(prefix []vbuffer.Slice) (uint64, error) {
		assert.Equal(t, "hellowo", concat(prefix))
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(7), k)
	assert.Equal(t, uint64(3), c.Remaining())
	assert.Equal(t, "rld", concat(c.q))
}

func TestConsume_PartialAcceptLeavesRestQueued(t *testing.T) {
	c := NewChain(slicesOf("abcde"))

	k, err := c.Consume(5, func(prefix []vbuffer.Slice) (uint64, error) {
		return 2, nil // only accept the first 2 bytes
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), k)
	assert.Equal(t, "cde", concat(c.q))
}

func TestConsume_RequestLongerThanQueueUsesWholeQueue(t *testing.T) {
	c := NewChain(slicesOf("ab"))

	_, err := c.Consume(100, func(prefix []vbuffer.Slice) (uint64, error) {
		assert.Equal(t, "ab", concat(prefix))
		return uint64(len(concat(prefix))), nil
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(0), c.Remaining())
}

func TestConsume_EmptyChain(t *testing.T) {
	c := NewChain(nil)
	k, err := c.Consume(10, func(prefix []vbuffer.Slice) (uint64, error) {
		assert.Empty(t, prefix)
		return 0, nil
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(0), k)
}

func TestSplitAt_ExactSliceBoundary(t *testing.T) {
	c := NewChain(slicesOf("hello", "world"))
	tail, err := c.SplitAt(5)
	require.NoError(t, err)

	assert.Equal(t, "hello", concat(c.q))
	assert.Equal(t, "world", concat(tail.q))
}

func TestSplitAt_MidSlice(t *testing.T) {
	c := NewChain(slicesOf("hello", "world"))
	tail, err := c.SplitAt(7)
	require.NoError(t, err)

	assert.Equal(t, "hellowo", concat(c.q))
	assert.Equal(t, "rld", concat(tail.q))
}

func TestSplitAt_Zero(t *testing.T) {
	c := NewChain(slicesOf("hello"))
	tail, err := c.SplitAt(0)
	require.NoError(t, err)

	assert.Equal(t, "", concat(c.q))
	assert.Equal(t, "hello", concat(tail.q))
}

func TestSplitAt_ErrorsWhenPastEnd(t *testing.T) {
	c := NewChain(slicesOf("hello"))
	_, err := c.SplitAt(6)
	assert.Error(t, err)
}

func TestSplitAt_ThenRecombineYieldsOriginalBytes(t *testing.T) {
	original := "the quick brown fox"
	c := NewChain(slicesOf("the quick ", "brown fox"))

	tail, err := c.SplitAt(10)
	require.NoError(t, err)

	var headOut, tailOut []byte
	_, err = c.Consume(c.Remaining(), func(prefix []vbuffer.Slice) (uint64, error) {
		headOut = []byte(concat(prefix))
		return uint64(len(headOut)), nil
	})
	require.NoError(t, err)
	_, err = tail.Consume(tail.Remaining(), func(prefix []vbuffer.Slice) (uint64, error) {
		tailOut = []byte(concat(prefix))
		return uint64(len(tailOut)), nil
	})
	require.NoError(t, err)

	assert.Equal(t, original, string(headOut)+string(tailOut))
}

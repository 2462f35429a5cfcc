// Package descriptor implements the descriptor-chain consumer of §4.B:
// an ordered queue of guest-memory slices with a cursor, supporting a
// "consume n bytes, hand them to f" pattern and a suffix split used to
// carve off response-header space.
package descriptor

import (
	"errors"
	"fmt"
	"math"

	"github.com/objfuse/ovfs/internal/vbuffer"
)

// ErrOverflow is returned by Consume when bytesConsumed would overflow.
var ErrOverflow = errors.New("descriptor: bytes_consumed overflow")

// Chain is the descriptor-chain consumer: a queue of volatile slices
// plus a monotonic consumed-byte counter.
type Chain struct {
	q        []vbuffer.Slice
	consumed uint64
}

// NewChain builds a consumer over the given ordered slices.
func NewChain(slices []vbuffer.Slice) *Chain {
	q := make([]vbuffer.Slice, len(slices))
	copy(q, slices)
	return &Chain{q: q}
}

// Remaining returns the total number of unconsumed bytes left in the
// chain.
func (c *Chain) Remaining() uint64 {
	var total uint64
	for _, s := range c.q {
		total += uint64(s.Len())
	}
	return total
}

// Consumed returns the running total of bytes consumed so far.
func (c *Chain) Consumed() uint64 { return c.consumed }

// Consume builds the prefix of the queue whose cumulative length is at
// least n (or the whole queue if shorter), passes it to f, and
// interprets f's returned k as "the first k bytes of the queue are now
// consumed". Whole slices are popped off the front while k is at least
// as long as the front slice; a straddling front slice is replaced by
// its suffix.
func (c *Chain) Consume(n uint64, f func(prefix []vbuffer.Slice) (uint64, error)) (uint64, error) {
	prefix := c.prefixOfLength(n)

	k, err := f(prefix)
	if err != nil {
		return 0, err
	}

	if c.consumed > math.MaxUint64-k {
		return 0, ErrOverflow
	}

	remaining := k
	for remaining > 0 && len(c.q) > 0 {
		front := c.q[0]
		flen := uint64(front.Len())
		if remaining >= flen {
			c.q = c.q[1:]
			remaining -= flen
			continue
		}
		c.q[0] = sliceOffset(front, remaining)
		remaining = 0
	}

	c.consumed += k
	return k, nil
}

// SplitAt returns a new Chain containing the suffix of the queue
// starting n bytes from the current head, removing that suffix from c.
// If n falls inside a slice, that slice is split into a kept prefix and
// a moved suffix. Errors if n exceeds the total remaining length.
func (c *Chain) SplitAt(n uint64) (*Chain, error) {
	if n > c.Remaining() {
		return nil, fmt.Errorf("descriptor: split_at(%d) exceeds remaining %d", n, c.Remaining())
	}

	remaining := n
	idx := 0
	for idx < len(c.q) {
		flen := uint64(c.q[idx].Len())
		if remaining < flen {
			break
		}
		remaining -= flen
		idx++
	}

	var suffix []vbuffer.Slice
	if idx < len(c.q) && remaining > 0 {
		front := c.q[idx]
		suffix = append(suffix, sliceOffset(front, remaining))
		c.q[idx] = slicePrefix(front, remaining)
		idx++
	}
	suffix = append(suffix, c.q[idx:]...)
	c.q = c.q[:idx]

	return &Chain{q: suffix}, nil
}

// prefixOfLength returns a copy of the leading slices whose cumulative
// length is >= n, truncating the final slice if needed so that the
// returned prefix's total length is exactly min(n, Remaining()).
func (c *Chain) prefixOfLength(n uint64) []vbuffer.Slice {
	var out []vbuffer.Slice
	var total uint64
	for _, s := range c.q {
		if total >= n {
			break
		}
		need := n - total
		if uint64(s.Len()) <= need {
			out = append(out, s)
			total += uint64(s.Len())
			continue
		}
		out = append(out, slicePrefix(s, need))
		total += need
		break
	}
	return out
}

func sliceOffset(s vbuffer.Slice, off uint64) vbuffer.Slice {
	return vbuffer.Slice{
		Bytes:  s.Bytes[off:],
		Offset: s.Offset + off,
		Dirty:  s.Dirty,
	}
}

func slicePrefix(s vbuffer.Slice, n uint64) vbuffer.Slice {
	return vbuffer.Slice{
		Bytes:  s.Bytes[:n],
		Offset: s.Offset,
		Dirty:  s.Dirty,
	}
}

// Package kbuf implements the byte chain used to carry PDUs between the SSCOP
// engine and the layers above and below it. A [Chain] is a sequence of
// fragments which need not be contiguous in memory. Chains are values: Split,
// Concat and the trimming methods never modify the fragments' bytes, they only
// produce new views over them.
package kbuf

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/google/netstack/tcpip/buffer"
)

var (
	errSplitRange = errors.New("kbuf: split offset out of range")
	errShortChain = errors.New("kbuf: chain too short")
)

// Chain is an immutable view over an ordered list of byte fragments.
// The zero value is an empty chain ready to use.
type Chain struct {
	vv buffer.VectorisedView
}

// New returns a chain over frags. The fragments are not copied and must not be modified
// by the caller afterwards. Zero length fragments are kept.
func New(frags ...[]byte) Chain {
	if len(frags) == 0 {
		return Chain{}
	}
	views := make([]buffer.View, len(frags))
	size := 0
	for i := range frags {
		views[i] = buffer.View(frags[i])
		size += len(frags[i])
	}
	return Chain{vv: buffer.NewVectorisedView(size, views)}
}

// FromBytes returns a single fragment chain holding a copy of b.
func FromBytes(b []byte) Chain {
	if len(b) == 0 {
		return Chain{}
	}
	return Chain{vv: buffer.NewViewFromBytes(b).ToVectorisedView()}
}

// Concat joins chains in order into a new chain. Fragments are shared, not copied.
func Concat(chains ...Chain) Chain {
	nviews, size := 0, 0
	for i := range chains {
		nviews += len(chains[i].vv.Views())
		size += chains[i].vv.Size()
	}
	if nviews == 0 {
		return Chain{}
	}
	views := make([]buffer.View, 0, nviews)
	for i := range chains {
		views = append(views, chains[i].vv.Views()...)
	}
	return Chain{vv: buffer.NewVectorisedView(size, views)}
}

// Len returns the total number of bytes in the chain.
func (c Chain) Len() int { return c.vv.Size() }

// IsEmpty returns true if the chain holds no bytes. A chain made of only
// zero length fragments is empty.
func (c Chain) IsEmpty() bool { return c.vv.Size() == 0 }

// NumFragments returns the number of fragments including zero length ones.
func (c Chain) NumFragments() int { return len(c.vv.Views()) }

// Fragment returns the i'th fragment. The returned slice must not be modified.
func (c Chain) Fragment(i int) []byte { return c.vv.Views()[i] }

// Split returns the first n bytes of the chain as head and the rest as tail.
func (c Chain) Split(n int) (head, tail Chain, err error) {
	if n < 0 || n > c.Len() {
		return Chain{}, Chain{}, errSplitRange
	}
	head.vv = c.vv.Clone(nil)
	head.vv.CapLength(n)
	tail.vv = c.vv.Clone(nil)
	tail.vv.TrimFront(n)
	return head, tail, nil
}

// TrimBack returns the chain without its last n bytes.
func (c Chain) TrimBack(n int) (Chain, error) {
	head, _, err := c.Split(c.Len() - n)
	return head, err
}

// Tail returns the last n bytes of the chain.
func (c Chain) Tail(n int) (Chain, error) {
	_, tail, err := c.Split(c.Len() - n)
	return tail, err
}

// Copy returns a deep copy of the chain in a single fragment. Mutating the
// copy's bytes never affects c.
func (c Chain) Copy() Chain {
	if c.IsEmpty() {
		return Chain{}
	}
	return Chain{vv: buffer.View(c.Bytes()).ToVectorisedView()}
}

// Bytes returns the chain's contents in a newly allocated contiguous slice.
func (c Chain) Bytes() []byte {
	b := make([]byte, 0, c.Len())
	return c.AppendTo(b)
}

// AppendTo appends the chain's contents to b and returns the extended slice.
func (c Chain) AppendTo(b []byte) []byte {
	for _, v := range c.vv.Views() {
		b = append(b, v...)
	}
	return b
}

// Cursor returns a reader positioned at the start of the chain.
func (c Chain) Cursor() Cursor {
	return Cursor{views: c.vv.Views(), remaining: c.vv.Size()}
}

// Cursor reads a chain sequentially across fragment boundaries. Zero length
// fragments are skipped transparently.
type Cursor struct {
	views     []buffer.View
	frag      int
	off       int
	remaining int
}

// Remaining returns the amount of unread bytes.
func (cur *Cursor) Remaining() int { return cur.remaining }

// Read implements [io.Reader]. It returns [io.EOF] once the chain is exhausted.
func (cur *Cursor) Read(p []byte) (n int, err error) {
	if cur.remaining == 0 {
		return 0, io.EOF
	}
	for n < len(p) && cur.frag < len(cur.views) {
		v := cur.views[cur.frag]
		if cur.off >= len(v) {
			cur.frag++
			cur.off = 0
			continue
		}
		ncopy := copy(p[n:], v[cur.off:])
		n += ncopy
		cur.off += ncopy
	}
	cur.remaining -= n
	return n, nil
}

// Uint32 reads a 4 byte big endian word which may straddle fragments.
func (cur *Cursor) Uint32() (uint32, error) {
	var buf [4]byte
	if cur.remaining < len(buf) {
		return 0, errShortChain
	}
	_, err := io.ReadFull(cur, buf[:])
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

// Discard advances the cursor n bytes.
func (cur *Cursor) Discard(n int) error {
	if n > cur.remaining {
		return errShortChain
	}
	for n > 0 {
		v := cur.views[cur.frag]
		avail := len(v) - cur.off
		if avail <= 0 {
			cur.frag++
			cur.off = 0
			continue
		}
		adv := min(avail, n)
		cur.off += adv
		cur.remaining -= adv
		n -= adv
	}
	return nil
}

package saal

import "strconv"

const (
	// SeqBits is the width of the sequence number space carried on the wire.
	SeqBits = 24
	// SeqModulus is the size of the circular sequence number space.
	SeqModulus = 1 << SeqBits
	// SeqMask masks a 32 bit word down to a valid [Seq].
	SeqMask = SeqModulus - 1
)

// Seq is a wrapping SSCOP sequence number such as N(S), N(R), N(MR) or N(PS).
// Only the low 24 bits are significant.
//
// Sequence numbers have no absolute order. Every comparison takes a
// reference value, which for the send side is the lowest unacknowledged
// sequence (the window floor) and for the receive side is the next expected
// sequence. Both operands are normalized as distances from the reference before
// they are compared, so ordering is correct as long as the operands and the reference
// lie within one window of each other.
//
//	     1          2          3
//	----------|----------|----------
//	         ref        ref+window
//	1. behind the reference: compares as "far in the future"
//	2. sequence numbers correctly ordered relative to ref
//	3. outside the window: ordering undefined
type Seq uint32

// Add returns s+n wrapped around the sequence space.
func (s Seq) Add(n uint32) Seq { return Seq((uint32(s) + n) & SeqMask) }

// Incr is shorthand for s.Add(1).
func (s Seq) Incr() Seq { return s.Add(1) }

// Dist returns the forward distance from ref to s, always in 0..SeqMask.
func (s Seq) Dist(ref Seq) uint32 { return (uint32(s) - uint32(ref)) & SeqMask }

// LessThan reports whether s precedes b when both are measured from ref.
func (s Seq) LessThan(b, ref Seq) bool { return s.Dist(ref) < b.Dist(ref) }

// LessThanEq reports whether s precedes or is equal to b when measured from ref.
func (s Seq) LessThanEq(b, ref Seq) bool { return s.Dist(ref) <= b.Dist(ref) }

// GreaterThan reports whether s follows b when both are measured from ref.
func (s Seq) GreaterThan(b, ref Seq) bool { return s.Dist(ref) > b.Dist(ref) }

// GreaterThanEq reports whether s follows or is equal to b when measured from ref.
func (s Seq) GreaterThanEq(b, ref Seq) bool { return s.Dist(ref) >= b.Dist(ref) }

// InWindow reports whether s lies in the half open range [start, start+size).
func (s Seq) InWindow(start Seq, size uint32) bool { return s.Dist(start) < size }

// Valid reports whether s fits in the 24 bit sequence space.
func (s Seq) Valid() bool { return s&^SeqMask == 0 }

func (s Seq) String() string { return strconv.FormatUint(uint64(s), 10) }

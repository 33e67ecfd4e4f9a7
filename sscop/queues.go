package sscop

import (
	"slices"

	"github.com/google/btree"
	"github.com/pkg/errors"
	"github.com/soypat/saal"
	"github.com/soypat/saal/internal"
	"github.com/soypat/saal/kbuf"
)

// handle addresses a pduRecord in a recordArena. The zero handle is invalid.
type handle uint32

// pduRecord is an SD PDU that has been sent at least once and awaits acknowledgement.
// A live record is always a member of the pending-ack queue and may additionally be a member
// of the retransmit queue. The pending-ack queue owns pdu.
type pduRecord struct {
	seq      saal.Seq   // N(S) assigned on first transmission.
	pollSeq  saal.Seq   // N(PS) in effect at the last (re)transmission.
	pdu      kbuf.Chain // framed SD PDU, trailer included.
	live     bool
	inRexmit bool
}

// recordArena stores pduRecords addressed by stable handles.
type recordArena struct {
	recs  []pduRecord
	free  []handle
	nlive int
	max   int
}

func (a *recordArena) reset(maxLive int) {
	internal.SliceReuse(&a.recs, 0)
	internal.SliceReuse(&a.free, 0)
	a.nlive = 0
	a.max = maxLive
}

// alloc returns a zeroed live record or [saal.ErrResource] if the arena is at capacity.
func (a *recordArena) alloc() (handle, *pduRecord, error) {
	if a.max > 0 && a.nlive >= a.max {
		return 0, nil, saal.ErrResource
	}
	var h handle
	if n := len(a.free); n > 0 {
		h = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		internal.SliceReclaim(&a.recs)
		h = handle(len(a.recs))
	}
	rec := &a.recs[h-1]
	*rec = pduRecord{live: true}
	a.nlive++
	return h, rec, nil
}

func (a *recordArena) get(h handle) *pduRecord {
	return &a.recs[h-1]
}

// release frees the record's payload and returns its handle to the free list.
// Releasing a record that is not live returns an error wrapping [saal.ErrInvariant].
func (a *recordArena) release(h handle) error {
	rec := a.get(h)
	if !rec.live {
		return errors.Wrapf(saal.ErrInvariant, "arena release: handle %d seq=%d not live", h, rec.seq)
	}
	*rec = pduRecord{}
	a.free = append(a.free, h)
	a.nlive--
	return nil
}

func (a *recordArena) live() int { return a.nlive }

// transmitQueue holds SDUs written by the user and not yet sent. FIFO.
type transmitQueue struct {
	sdus []kbuf.Chain
	off  int
}

func (q *transmitQueue) len() int { return len(q.sdus) - q.off }

func (q *transmitQueue) enqueue(sdu kbuf.Chain) {
	if q.off > 0 && q.off == len(q.sdus) {
		q.sdus = q.sdus[:0]
		q.off = 0
	}
	q.sdus = append(q.sdus, sdu)
}

func (q *transmitQueue) peek() (kbuf.Chain, bool) {
	if q.len() == 0 {
		return kbuf.Chain{}, false
	}
	return q.sdus[q.off], true
}

// pop discards the head SDU. It must only be called after a successful peek.
func (q *transmitQueue) pop() {
	q.sdus[q.off] = kbuf.Chain{}
	q.off++
	if q.off == len(q.sdus) {
		q.sdus = q.sdus[:0]
		q.off = 0
	}
}

func (q *transmitQueue) drain() int {
	n := q.len()
	clear(q.sdus)
	q.sdus = q.sdus[:0]
	q.off = 0
	return n
}

// rexmitQueue lists records awaiting retransmission ordered by ascending N(S)
// relative to VT(A). It does not own the records it references.
type rexmitQueue struct {
	hs []handle
}

func (q *rexmitQueue) len() int { return len(q.hs) }

// insert links h before the first record whose sequence is not less than h's.
func (q *rexmitQueue) insert(a *recordArena, h handle, ack saal.Seq) error {
	rec := a.get(h)
	if !rec.live {
		return errors.Wrapf(saal.ErrInvariant, "rexmit insert: record seq=%d not live", rec.seq)
	} else if rec.inRexmit {
		return errors.Wrapf(saal.ErrInvariant, "rexmit insert: seq=%d already linked", rec.seq)
	}
	i := 0
	for ; i < len(q.hs); i++ {
		if !a.get(q.hs[i]).seq.LessThan(rec.seq, ack) {
			break
		}
	}
	q.hs = slices.Insert(q.hs, i, h)
	rec.inRexmit = true
	return nil
}

// popHead unlinks and returns the lowest sequence record.
func (q *rexmitQueue) popHead(a *recordArena) (handle, bool) {
	if len(q.hs) == 0 {
		return 0, false
	}
	h := q.hs[0]
	q.hs = slices.Delete(q.hs, 0, 1)
	a.get(h).inRexmit = false
	return h, true
}

// unlink removes h from the queue without releasing it.
func (q *rexmitQueue) unlink(a *recordArena, h handle) error {
	rec := a.get(h)
	i := slices.Index(q.hs, h)
	if !rec.inRexmit || i < 0 {
		return errors.Wrapf(saal.ErrInvariant, "rexmit unlink: seq=%d not linked", rec.seq)
	}
	q.hs = slices.Delete(q.hs, i, i+1)
	rec.inRexmit = false
	return nil
}

func (q *rexmitQueue) drain(a *recordArena) int {
	n := len(q.hs)
	for _, h := range q.hs {
		a.get(h).inRexmit = false
	}
	q.hs = q.hs[:0]
	return n
}

// pendingAckQueue lists every sent and unacknowledged record ordered by ascending N(S)
// relative to VT(A). It owns the records it references.
type pendingAckQueue struct {
	hs []handle
}

func (q *pendingAckQueue) len() int { return len(q.hs) }

func (q *pendingAckQueue) insert(a *recordArena, h handle, ack saal.Seq) {
	seq := a.get(h).seq
	i := len(q.hs)
	// New transmissions arrive in sequence order so the scan usually stops immediately.
	for i > 0 && seq.LessThan(a.get(q.hs[i-1]).seq, ack) {
		i--
	}
	q.hs = slices.Insert(q.hs, i, h)
}

// locate returns the index of the first record that does not precede seq and whether
// that record has sequence seq. If every record precedes seq the index is q.len().
func (q *pendingAckQueue) locate(a *recordArena, seq, ack saal.Seq) (int, bool) {
	for i, h := range q.hs {
		rseq := a.get(h).seq
		if !rseq.LessThan(seq, ack) {
			return i, rseq == seq
		}
	}
	return len(q.hs), false
}

// free releases the record with sequence seq, unlinking it from the retransmit queue first.
// Freeing an absent sequence is a no-op and returns false.
func (q *pendingAckQueue) free(a *recordArena, rq *rexmitQueue, seq, ack saal.Seq) (bool, error) {
	i, ok := q.locate(a, seq, ack)
	if !ok {
		return false, nil
	}
	return true, q.freeAt(a, rq, i)
}

func (q *pendingAckQueue) freeAt(a *recordArena, rq *rexmitQueue, i int) error {
	h := q.hs[i]
	if a.get(h).inRexmit {
		if err := rq.unlink(a, h); err != nil {
			return err
		}
	}
	q.hs = slices.Delete(q.hs, i, i+1)
	return a.release(h)
}

// freeBelow frees all records with sequence less than nr and returns the amount freed.
func (q *pendingAckQueue) freeBelow(a *recordArena, rq *rexmitQueue, nr, ack saal.Seq) (int, error) {
	n := 0
	for len(q.hs) > 0 && a.get(q.hs[0]).seq.LessThan(nr, ack) {
		if err := q.freeAt(a, rq, 0); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// freeRange frees records with sequence in [start, end).
func (q *pendingAckQueue) freeRange(a *recordArena, rq *rexmitQueue, start, end, ack saal.Seq) (int, error) {
	i, _ := q.locate(a, start, ack)
	n := 0
	for i < len(q.hs) && a.get(q.hs[i]).seq.LessThan(end, ack) {
		if err := q.freeAt(a, rq, i); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// rangeHandles appends handles of records with sequence in [start, end) to dst.
func (q *pendingAckQueue) rangeHandles(a *recordArena, start, end, ack saal.Seq, dst []handle) []handle {
	i, _ := q.locate(a, start, ack)
	for ; i < len(q.hs) && a.get(q.hs[i]).seq.LessThan(end, ack); i++ {
		dst = append(dst, q.hs[i])
	}
	return dst
}

// drain releases every record. The queue is emptied even if a release fails;
// the first failure is returned.
func (q *pendingAckQueue) drain(a *recordArena) (n int, err error) {
	n = len(q.hs)
	for _, h := range q.hs {
		if rerr := a.release(h); rerr != nil && err == nil {
			err = rerr
		}
	}
	q.hs = q.hs[:0]
	return n, err
}

// rcvRecord is an out of sequence SD PDU waiting for the gap before it to be filled.
type rcvRecord struct {
	seq saal.Seq
	sdu kbuf.Chain
}

// reorderQueue holds out of sequence received PDUs ordered relative to VR(R).
// All members lie in [VR(R)+1, VR(R)+window) so their relative order does not change
// as VR(R) advances.
type reorderQueue struct {
	tree *btree.BTreeG[rcvRecord]
	ref  *saal.Seq
}

const reorderDegree = 8

func (q *reorderQueue) reset(rcvNext saal.Seq) {
	if q.tree == nil {
		ref := new(saal.Seq)
		q.ref = ref
		q.tree = btree.NewG(reorderDegree, func(a, b rcvRecord) bool {
			return a.seq.LessThan(b.seq, *ref)
		})
	} else {
		q.tree.Clear(false)
	}
	*q.ref = rcvNext
}

func (q *reorderQueue) len() int {
	if q.tree == nil {
		return 0
	}
	return q.tree.Len()
}

// setRef updates the ordering reference after VR(R) advances.
func (q *reorderQueue) setRef(rcvNext saal.Seq) { *q.ref = rcvNext }

// insert adds rec in order. It returns true and does not insert if a record with
// the same sequence number is already queued.
func (q *reorderQueue) insert(rec rcvRecord) (duplicate bool) {
	if q.tree.Has(rec) {
		return true
	}
	q.tree.ReplaceOrInsert(rec)
	return false
}

// popSeq removes and returns the lowest record if its sequence equals seq.
func (q *reorderQueue) popSeq(seq saal.Seq) (rcvRecord, bool) {
	head, ok := q.tree.Min()
	if !ok || head.seq != seq {
		return rcvRecord{}, false
	}
	q.tree.DeleteMin()
	return head, true
}

func (q *reorderQueue) ascend(fn func(rcvRecord) bool) {
	q.tree.Ascend(fn)
}

func (q *reorderQueue) drain() int {
	if q.tree == nil {
		return 0
	}
	n := q.tree.Len()
	q.tree.Clear(false)
	return n
}

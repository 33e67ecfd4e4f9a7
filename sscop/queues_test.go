package sscop

import (
	"errors"
	"math/rand"
	"slices"
	"testing"

	"github.com/soypat/saal"
	"github.com/soypat/saal/kbuf"
)

func newTestRecord(t *testing.T, a *recordArena, seq saal.Seq) handle {
	t.Helper()
	h, rec, err := a.alloc()
	if err != nil {
		t.Fatal(err)
	}
	rec.seq = seq
	rec.pdu = BuildSD(seq, kbuf.FromBytes([]byte{byte(seq)}))
	return h
}

func packSeqs(a *recordArena, q *pendingAckQueue) []saal.Seq {
	seqs := make([]saal.Seq, 0, q.len())
	for _, h := range q.hs {
		seqs = append(seqs, a.get(h).seq)
	}
	return seqs
}

func TestPendingAckDoubleFree(t *testing.T) {
	var a recordArena
	var pack pendingAckQueue
	var rq rexmitQueue
	a.reset(0)
	for _, seq := range []saal.Seq{10, 11, 12} {
		pack.insert(&a, newTestRecord(t, &a, seq), 10)
	}
	found, err := pack.free(&a, &rq, 11, 10)
	if err != nil || !found {
		t.Fatalf("first free: found=%v err=%v", found, err)
	}
	if got := packSeqs(&a, &pack); !slices.Equal(got, []saal.Seq{10, 12}) {
		t.Fatalf("after free: %v", got)
	}
	found, err = pack.free(&a, &rq, 11, 10)
	if err != nil || found {
		t.Fatalf("second free: found=%v err=%v", found, err)
	}
	if a.live() != 2 {
		t.Fatalf("arena live=%d, want 2", a.live())
	}
}

func TestPendingAckRangePastTail(t *testing.T) {
	var a recordArena
	var pack pendingAckQueue
	var rq rexmitQueue
	a.reset(0)
	for _, seq := range []saal.Seq{10, 11} {
		pack.insert(&a, newTestRecord(t, &a, seq), 10)
	}
	if i, found := pack.locate(&a, 12, 10); found || i != 2 {
		t.Fatalf("locate past tail: i=%d found=%v", i, found)
	}
	if hs := pack.rangeHandles(&a, 12, 14, 10, nil); len(hs) != 0 {
		t.Fatalf("range past tail returned %d handles", len(hs))
	}
	n, err := pack.freeRange(&a, &rq, 12, 14, 10)
	if err != nil || n != 0 {
		t.Fatalf("freeRange past tail: n=%d err=%v", n, err)
	}
	if got := packSeqs(&a, &pack); !slices.Equal(got, []saal.Seq{10, 11}) || a.live() != 2 {
		t.Fatalf("records freed outside range: %v live=%d", got, a.live())
	}
}

func TestArenaDoubleRelease(t *testing.T) {
	var a recordArena
	a.reset(0)
	h := newTestRecord(t, &a, 5)
	if err := a.release(h); err != nil {
		t.Fatal(err)
	}
	if err := a.release(h); !errors.Is(err, saal.ErrInvariant) {
		t.Fatalf("want invariant error on double release, got %v", err)
	}
	if a.live() != 0 || len(a.free) != 1 {
		t.Fatalf("double release changed arena: live=%d free=%d", a.live(), len(a.free))
	}
}

func TestPendingAckOrderAcrossWrap(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	const n = 64
	ack := saal.Seq(saal.SeqMask - 20)
	for iter := 0; iter < 32; iter++ {
		var a recordArena
		var pack pendingAckQueue
		var rq rexmitQueue
		a.reset(n)
		perm := rng.Perm(n)
		for _, off := range perm {
			pack.insert(&a, newTestRecord(t, &a, ack.Add(uint32(off))), ack)
		}
		// Mark a random subset for retransmission.
		for _, h := range pack.hs {
			if rng.Intn(3) == 0 {
				if err := rq.insert(&a, h, ack); err != nil {
					t.Fatal(err)
				}
			}
		}
		assertAscending(t, &a, pack.hs, ack)
		assertAscending(t, &a, rq.hs, ack)

		// Free in random order. Every sequence must be freed exactly once.
		freed := 0
		for _, off := range rng.Perm(2 * n) {
			found, err := pack.free(&a, &rq, ack.Add(uint32(off)), ack)
			if err != nil {
				t.Fatal(err)
			}
			if found != (off < n) {
				t.Fatalf("free(%d): found=%v", off, found)
			}
			if found {
				freed++
			}
			assertAscending(t, &a, pack.hs, ack)
			for _, h := range rq.hs {
				if !slices.Contains(pack.hs, h) {
					t.Fatal("retransmit member not in pending-ack")
				}
			}
		}
		if freed != n || pack.len() != 0 || rq.len() != 0 || a.live() != 0 {
			t.Fatalf("freed=%d pack=%d rexmit=%d live=%d", freed, pack.len(), rq.len(), a.live())
		}
	}
}

func assertAscending(t *testing.T, a *recordArena, hs []handle, ref saal.Seq) {
	t.Helper()
	for i := 1; i < len(hs); i++ {
		prev, cur := a.get(hs[i-1]).seq, a.get(hs[i]).seq
		if !prev.LessThan(cur, ref) {
			t.Fatalf("not ascending at %d: %d then %d", i, prev, cur)
		}
	}
}

func TestPendingAckRanges(t *testing.T) {
	var a recordArena
	var pack pendingAckQueue
	var rq rexmitQueue
	a.reset(0)
	for seq := saal.Seq(0); seq < 10; seq++ {
		pack.insert(&a, newTestRecord(t, &a, seq), 0)
	}
	hs := pack.rangeHandles(&a, 3, 6, 0, nil)
	if len(hs) != 3 || a.get(hs[0]).seq != 3 || a.get(hs[2]).seq != 5 {
		t.Fatalf("range [3,6) returned %d handles", len(hs))
	}
	if err := rq.insert(&a, hs[1], 0); err != nil {
		t.Fatal(err)
	}
	n, err := pack.freeRange(&a, &rq, 3, 6, 0)
	if err != nil || n != 3 {
		t.Fatalf("freeRange: n=%d err=%v", n, err)
	}
	if rq.len() != 0 {
		t.Fatal("freed record left in retransmit queue")
	}
	n, err = pack.freeBelow(&a, &rq, 2, 0)
	if err != nil || n != 2 {
		t.Fatalf("freeBelow: n=%d err=%v", n, err)
	}
	if got := packSeqs(&a, &pack); !slices.Equal(got, []saal.Seq{2, 6, 7, 8, 9}) {
		t.Fatalf("remaining %v", got)
	}
}

func TestRexmitInvariantErrors(t *testing.T) {
	var a recordArena
	var rq rexmitQueue
	a.reset(0)
	h := newTestRecord(t, &a, 4)
	err := rq.unlink(&a, h)
	if !errors.Is(err, saal.ErrInvariant) {
		t.Fatalf("unlink of unlinked record: %v", err)
	}
	if err = rq.insert(&a, h, 0); err != nil {
		t.Fatal(err)
	}
	if err = rq.insert(&a, h, 0); !errors.Is(err, saal.ErrInvariant) {
		t.Fatalf("double insert: %v", err)
	}
	if err = rq.unlink(&a, h); err != nil {
		t.Fatal(err)
	}
	if err = a.release(h); err != nil {
		t.Fatal(err)
	}
	if err = rq.insert(&a, h, 0); !errors.Is(err, saal.ErrInvariant) {
		t.Fatalf("insert of released record: %v", err)
	}
}

func TestArenaLimit(t *testing.T) {
	var a recordArena
	a.reset(2)
	h1 := newTestRecord(t, &a, 1)
	newTestRecord(t, &a, 2)
	if _, _, err := a.alloc(); err != saal.ErrResource {
		t.Fatalf("alloc past limit: %v", err)
	}
	if err := a.release(h1); err != nil {
		t.Fatal(err)
	}
	h3 := newTestRecord(t, &a, 3)
	if h3 != h1 {
		t.Fatalf("released handle %d not reused, got %d", h1, h3)
	}
	rec := a.get(h3)
	if rec.inRexmit || rec.pollSeq != 0 || !rec.live {
		t.Fatal("reused record not zeroed")
	}
}

func TestTransmitQueueFIFO(t *testing.T) {
	var q transmitQueue
	for _, s := range []string{"a", "b", "c"} {
		q.enqueue(kbuf.FromBytes([]byte(s)))
	}
	var got []string
	for q.len() > 0 {
		sdu, _ := q.peek()
		got = append(got, string(sdu.Bytes()))
		q.pop()
		if len(got) == 1 {
			q.enqueue(kbuf.FromBytes([]byte("d")))
		}
	}
	if !slices.Equal(got, []string{"a", "b", "c", "d"}) {
		t.Fatalf("dequeued %v", got)
	}
	if _, ok := q.peek(); ok {
		t.Fatal("peek on empty queue")
	}
	q.enqueue(kbuf.FromBytes([]byte("e")))
	if q.drain() != 1 || q.len() != 0 {
		t.Fatal("drain")
	}
}

func TestReorderQueueWrap(t *testing.T) {
	var q reorderQueue
	ref := saal.Seq(saal.SeqMask - 1)
	q.reset(ref)
	for _, seq := range []saal.Seq{1, saal.SeqMask, 0} {
		if q.insert(rcvRecord{seq: seq}) {
			t.Fatalf("seq %d reported duplicate", seq)
		}
	}
	if !q.insert(rcvRecord{seq: 0}) {
		t.Fatal("duplicate not detected")
	}
	if _, ok := q.popSeq(ref); ok {
		t.Fatal("popped absent head")
	}
	var order []saal.Seq
	q.ascend(func(r rcvRecord) bool {
		order = append(order, r.seq)
		return true
	})
	if want := []saal.Seq{saal.SeqMask, 0, 1}; !slices.Equal(order, want) {
		t.Fatalf("order %v, want %v", order, want)
	}
	next := ref.Incr()
	for q.len() > 0 {
		rec, ok := q.popSeq(next)
		if !ok {
			t.Fatalf("expected %d at head", next)
		}
		next = rec.seq.Incr()
		q.setRef(next)
	}
	if next != 2 {
		t.Fatalf("stopped at %d", next)
	}
}

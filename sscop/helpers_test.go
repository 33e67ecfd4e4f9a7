package sscop

import (
	"errors"
	"testing"
	"time"

	"github.com/soypat/saal"
	"github.com/soypat/saal/kbuf"
)

var errLinkDown = errors.New("link down")

// testLower records every frame sent. failNext makes the next n sends fail.
type testLower struct {
	frames   []kbuf.Chain
	failNext int
}

func (l *testLower) SendFrame(token uint64, frame kbuf.Chain) error {
	if l.failNext > 0 {
		l.failNext--
		return errLinkDown
	}
	l.frames = append(l.frames, frame)
	return nil
}

// take returns and forgets all recorded frames.
func (l *testLower) take() []kbuf.Chain {
	f := l.frames
	l.frames = nil
	return f
}

type testTimers struct {
	armed [numTimers]bool
	dur   [numTimers]time.Duration
	arms  [numTimers]int
	log   []string
}

func (tt *testTimers) Arm(id TimerID, d time.Duration) {
	tt.armed[id] = true
	tt.dur[id] = d
	tt.arms[id]++
	tt.log = append(tt.log, "arm:"+id.String())
}

func (tt *testTimers) Disarm(id TimerID) {
	tt.armed[id] = false
	tt.log = append(tt.log, "disarm:"+id.String())
}

type testUpper struct {
	sdus   []string
	faults []error
}

func (u *testUpper) DeliverSDU(token uint64, sdu kbuf.Chain) {
	u.sdus = append(u.sdus, string(sdu.Bytes()))
}

func (u *testUpper) Fault(token uint64, err error) {
	u.faults = append(u.faults, err)
}

type testEnv struct {
	h      *Handler
	lower  *testLower
	timers *testTimers
	upper  *testUpper
}

func newTestEnv(t *testing.T, cfg Config, st SeqState) testEnv {
	t.Helper()
	env := testEnv{
		h:      new(Handler),
		lower:  new(testLower),
		timers: new(testTimers),
		upper:  new(testUpper),
	}
	cfg.Lower = env.lower
	cfg.Timers = env.timers
	cfg.Upper = env.upper
	if err := env.h.Configure(cfg); err != nil {
		t.Fatal(err)
	}
	if err := env.h.Open(st); err != nil {
		t.Fatal(err)
	}
	return env
}

func (env testEnv) write(t *testing.T, payloads ...string) error {
	t.Helper()
	var err error
	for _, p := range payloads {
		err = env.h.Write(kbuf.FromBytes([]byte(p)))
		if err != nil {
			return err
		}
	}
	return nil
}

func (env testEnv) recv(t *testing.T, pdu kbuf.Chain) {
	t.Helper()
	if err := env.h.Recv(pdu); err != nil {
		t.Fatalf("recv %s: %v", mustType(t, pdu), err)
	}
}

func mustType(t *testing.T, pdu kbuf.Chain) saal.PDUType {
	t.Helper()
	typ, err := PDUType(pdu)
	if err != nil {
		t.Fatal(err)
	}
	return typ
}

func frameTypes(t *testing.T, frames []kbuf.Chain) []saal.PDUType {
	t.Helper()
	types := make([]saal.PDUType, len(frames))
	for i := range frames {
		types[i] = mustType(t, frames[i])
	}
	return types
}

// sdSeqs returns the N(S) of every SD frame in frames.
func sdSeqs(t *testing.T, frames []kbuf.Chain) []saal.Seq {
	t.Helper()
	var seqs []saal.Seq
	for _, f := range frames {
		if mustType(t, f) != saal.PDUSd {
			continue
		}
		seq, _, err := ParseSD(f)
		if err != nil {
			t.Fatal(err)
		}
		seqs = append(seqs, seq)
	}
	return seqs
}

// checkQueues verifies the structural queue invariants: pending-ack strictly ascending
// relative to VT(A) and inside [VT(A), VT(S)), retransmit ascending and a subset of
// pending-ack, and arena accounting.
func checkQueues(t *testing.T, h *Handler) {
	t.Helper()
	cb := &h.cb
	inPack := make(map[handle]bool)
	for i, rh := range h.pack.hs {
		rec := h.arena.get(rh)
		if !rec.live {
			t.Fatalf("pending-ack holds released record seq=%d", rec.seq)
		}
		if !rec.seq.InWindow(cb.ack, cb.send.Dist(cb.ack)) {
			t.Fatalf("pending-ack seq=%d outside [%d, %d)", rec.seq, cb.ack, cb.send)
		}
		if i > 0 && !h.arena.get(h.pack.hs[i-1]).seq.LessThan(rec.seq, cb.ack) {
			t.Fatalf("pending-ack not ascending at index %d", i)
		}
		inPack[rh] = true
	}
	for i, rh := range h.rexmit.hs {
		rec := h.arena.get(rh)
		if !inPack[rh] {
			t.Fatalf("retransmit seq=%d not in pending-ack", rec.seq)
		}
		if !rec.inRexmit {
			t.Fatalf("retransmit member seq=%d not flagged", rec.seq)
		}
		if i > 0 && !h.arena.get(h.rexmit.hs[i-1]).seq.LessThan(rec.seq, cb.ack) {
			t.Fatalf("retransmit not ascending at index %d", i)
		}
	}
	if h.arena.live() != h.pack.len() {
		t.Fatalf("arena live=%d != pending-ack len=%d", h.arena.live(), h.pack.len())
	}
}

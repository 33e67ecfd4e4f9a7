package sscop

import (
	"slices"
	"strconv"
	"testing"

	"github.com/soypat/saal"
	"github.com/soypat/saal/kbuf"
)

func sd(seq saal.Seq, s string) kbuf.Chain {
	return BuildSD(seq, kbuf.FromBytes([]byte(s)))
}

func TestRecvInSequenceAcrossWrap(t *testing.T) {
	env := newTestEnv(t, Config{}, SeqState{RecvNext: saal.SeqMask})
	env.recv(t, sd(saal.SeqMask, "a"))
	env.recv(t, sd(0, "b"))
	if !slices.Equal(env.upper.sdus, []string{"a", "b"}) {
		t.Fatalf("delivered %q", env.upper.sdus)
	}
	cb := env.h.ControlBlock()
	if cb.RecvNext() != 1 || cb.RecvHighest() != 1 {
		t.Fatalf("VR(R)=%d VR(H)=%d", cb.RecvNext(), cb.RecvHighest())
	}
	if len(env.lower.frames) != 0 {
		t.Fatal("in-sequence data produced frames")
	}
}

func TestRecvReorder(t *testing.T) {
	env := newTestEnv(t, Config{RecvWindow: 16}, SeqState{})
	h := env.h
	env.recv(t, sd(2, "c"))
	frames := env.lower.take()
	if len(frames) != 1 {
		t.Fatalf("want one USTAT, got %v", frameTypes(t, frames))
	}
	u, err := ParseUSTAT(frames[0], nil)
	if err != nil {
		t.Fatal(err)
	}
	if u.NR != 0 || u.NMR != 16 || u.List != [2]saal.Seq{0, 2} {
		t.Fatalf("USTAT %+v", u)
	}
	if h.OutOfSequence() != 1 || h.cb.RecvHighest() != 3 {
		t.Fatalf("reorder=%d VR(H)=%d", h.OutOfSequence(), h.cb.RecvHighest())
	}

	env.recv(t, sd(2, "c")) // duplicate
	env.recv(t, sd(1, "b")) // fills part of a known gap
	env.recv(t, sd(40, "x")) // beyond VR(MR)
	if len(env.lower.frames) != 0 || h.OutOfSequence() != 2 {
		t.Fatalf("frames=%d reorder=%d", len(env.lower.frames), h.OutOfSequence())
	}
	if len(env.upper.sdus) != 0 {
		t.Fatal("out of sequence data delivered")
	}

	env.recv(t, sd(0, "a"))
	if !slices.Equal(env.upper.sdus, []string{"a", "b", "c"}) {
		t.Fatalf("delivered %q", env.upper.sdus)
	}
	if h.OutOfSequence() != 0 || h.cb.RecvNext() != 3 {
		t.Fatalf("reorder=%d VR(R)=%d", h.OutOfSequence(), h.cb.RecvNext())
	}
	// Old data is discarded silently.
	env.recv(t, sd(1, "b"))
	if len(env.upper.sdus) != 3 || len(env.lower.frames) != 0 {
		t.Fatal("stale SD was not discarded")
	}
}

func TestRecvPOLLAnswersWithGaps(t *testing.T) {
	env := newTestEnv(t, Config{}, SeqState{})
	env.recv(t, sd(1, "b"))
	env.recv(t, sd(3, "d"))
	env.lower.take()
	env.recv(t, BuildPOLL(7, 6))
	frames := env.lower.take()
	if len(frames) != 1 {
		t.Fatalf("want one STAT, got %d frames", len(frames))
	}
	stat, err := ParseSTAT(frames[0], nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if stat.NPS != 7 || stat.NR != 0 || stat.NMR != DefaultRecvWindow {
		t.Fatalf("STAT %+v", stat)
	}
	if want := []saal.Seq{0, 1, 2, 3, 4, 6}; !slices.Equal(stat.List, want) {
		t.Fatalf("list %v, want %v", stat.List, want)
	}
	if env.h.cb.RecvHighest() != 6 {
		t.Fatalf("VR(H)=%d", env.h.cb.RecvHighest())
	}

	// Everything received: STAT carries no list.
	env.recv(t, sd(0, "a"))
	env.recv(t, sd(2, "c"))
	env.recv(t, sd(4, "e"))
	env.recv(t, sd(5, "f"))
	env.lower.take()
	env.recv(t, BuildPOLL(8, 6))
	stat, err = ParseSTAT(env.lower.take()[0], nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if stat.NR != 6 || len(stat.List) != 0 {
		t.Fatalf("STAT %+v", stat)
	}
}

func TestRecvUnhandledPDU(t *testing.T) {
	env := newTestEnv(t, Config{}, SeqState{})
	bgn := make([]byte, 8)
	bgn[4] = byte(saal.PDUBgn)
	if err := env.h.Recv(kbuf.New(bgn)); err != ErrUnhandledPDU {
		t.Fatalf("got %v", err)
	}
}

// pump exchanges frames between a and b until both are quiet. drop decides
// whether a frame sent by a is lost.
func pump(t *testing.T, a, b testEnv, drop func(pdu kbuf.Chain) bool) {
	t.Helper()
	for i := 0; i < 100; i++ {
		fa, fb := a.lower.take(), b.lower.take()
		if len(fa) == 0 && len(fb) == 0 {
			return
		}
		for _, f := range fa {
			if drop != nil && drop(f) {
				continue
			}
			if err := b.h.Recv(f); err != nil {
				t.Fatal(err)
			}
		}
		for _, f := range fb {
			if err := a.h.Recv(f); err != nil {
				t.Fatal(err)
			}
		}
	}
	t.Fatal("frame exchange did not settle")
}

func TestLossyExchange(t *testing.T) {
	cfg := Config{MaxPDUsBeforePoll: 4, RecvWindow: 32}
	a := newTestEnv(t, cfg, SeqState{SendMax: 32})
	b := newTestEnv(t, cfg, SeqState{SendMax: 32})
	var want []string
	for i := 0; i < 10; i++ {
		want = append(want, "sdu"+strconv.Itoa(i))
	}
	if err := a.write(t, want...); err != nil {
		t.Fatal(err)
	}
	dropped := map[saal.Seq]bool{}
	pump(t, a, b, func(pdu kbuf.Chain) bool {
		seq, _, err := ParseSD(pdu)
		if err != nil || (seq != 3 && seq != 5) || dropped[seq] {
			return false
		}
		dropped[seq] = true
		return true
	})
	if !slices.Equal(b.upper.sdus, want) {
		t.Fatalf("delivered %q", b.upper.sdus)
	}
	// POLL emitted with the retransmissions collects the final acknowledgement.
	if a.h.Unacked() != 0 || a.h.cb.Ack() != 10 {
		t.Fatalf("unacked=%d VT(A)=%d", a.h.Unacked(), a.h.cb.Ack())
	}
	if len(dropped) != 2 {
		t.Fatalf("dropped %d frames, want 2", len(dropped))
	}
	if !a.h.cb.Keepalive() {
		t.Fatal("sender not in keepalive with nothing outstanding")
	}
	checkQueues(t, a.h)

	// Keepalive expiry without traffic returns to idle.
	if err := a.h.HandleTimer(TimerPoll); err != nil {
		t.Fatal(err)
	}
	if !a.h.cb.Idle() {
		t.Fatal("sender not idle after keepalive period")
	}
}

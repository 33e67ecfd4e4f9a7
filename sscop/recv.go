package sscop

import (
	"log/slog"

	"github.com/soypat/saal"
	"github.com/soypat/saal/kbuf"
)

// recvSD admits an inbound SD PDU. In-sequence data is delivered together with any
// queued PDUs it makes contiguous. Out of sequence data inside the receive window is
// queued for reordering and a newly detected gap is reported to the peer with a USTAT.
func (h *Handler) recvSD(pdu kbuf.Chain) error {
	seq, sdu, err := ParseSD(pdu)
	if err != nil {
		return err
	}
	cb := &h.cb
	ref := cb.rcvNext
	switch {
	case seq == ref:
		h.deliver(seq, sdu)
		cb.rcvNext = seq.Incr()
		for {
			rec, ok := h.reorder.popSeq(cb.rcvNext)
			if !ok {
				break
			}
			h.deliver(rec.seq, rec.sdu)
			cb.rcvNext = cb.rcvNext.Incr()
		}
		if cb.rcvHighest.LessThan(cb.rcvNext, ref) {
			cb.rcvHighest = cb.rcvNext
		}
		h.reorder.setRef(cb.rcvNext)

	case seq.InWindow(ref, cb.rcvWindow):
		if h.reorder.insert(rcvRecord{seq: seq, sdu: sdu}) {
			h.debug("sscop:rcv.sd-dup", slog.Uint64("seq", uint64(seq)), slog.Uint64("vr.r", uint64(ref)))
			return nil
		}
		switch {
		case seq == cb.rcvHighest:
			cb.rcvHighest = seq.Incr()
		case seq.GreaterThan(cb.rcvHighest, ref):
			gap := Ustat{NMR: cb.rcvMax(), NR: ref, List: [2]saal.Seq{cb.rcvHighest, seq}}
			cb.rcvHighest = seq.Incr()
			err = h.sendFrame(saal.PDUUstat, ref, BuildUSTAT(gap))
		}

	default:
		// Already delivered or beyond VR(MR).
		h.debug("sscop:rcv.sd-discard", slog.Uint64("seq", uint64(seq)), slog.Uint64("vr.r", uint64(ref)),
			slog.Uint64("vr.mr", uint64(cb.rcvMax())))
	}
	h.traceRcv("sscop:rcv.sd")
	return err
}

func (h *Handler) deliver(seq saal.Seq, sdu kbuf.Chain) {
	h.trace("sscop:deliver", slog.Uint64("seq", uint64(seq)), slog.Int("len", sdu.Len()))
	if h.cfg.Upper != nil {
		h.cfg.Upper.DeliverSDU(h.cfg.Token, sdu)
	}
}

// recvPOLL answers a POLL with a STAT listing the gaps in [VR(R), VR(H)).
func (h *Handler) recvPOLL(pdu kbuf.Chain) error {
	nps, ns, err := ParsePOLL(pdu, &h.validator)
	if err != nil {
		return err
	}
	cb := &h.cb
	if ns.InWindow(cb.rcvNext, cb.rcvWindow+1) && ns.GreaterThan(cb.rcvHighest, cb.rcvNext) {
		cb.rcvHighest = ns
	}
	stat := Stat{NPS: nps, NMR: cb.rcvMax(), NR: cb.rcvNext, List: h.statList(h.list[:0])}
	h.list = stat.List
	h.trace("sscop:rcv.poll", slog.Uint64("n.ps", uint64(nps)), slog.Uint64("n.s", uint64(ns)), slog.Int("gaps", len(stat.List)/2))
	return h.sendFrame(saal.PDUStat, nps, BuildSTAT(stat))
}

// statList appends the boundaries of every run of missing sequence numbers in
// [VR(R), VR(H)) to dst. Each run contributes its first missing and first received
// sequence number, so the result always has even length.
func (h *Handler) statList(dst []saal.Seq) []saal.Seq {
	cb := &h.cb
	ref := cb.rcvNext
	next := ref
	h.reorder.ascend(func(rec rcvRecord) bool {
		if !rec.seq.LessThan(cb.rcvHighest, ref) {
			return false
		}
		if rec.seq != next {
			dst = append(dst, next, rec.seq)
		}
		next = rec.seq.Incr()
		return true
	})
	if next != cb.rcvHighest {
		dst = append(dst, next, cb.rcvHighest)
	}
	return dst
}

// recvSTAT processes the peer's answer to a POLL. N(R) acknowledges everything before
// it. List pairs [a, b) name missing PDUs which are queued for retransmission if sent
// before the POLL being answered. PDUs between one pair's end and the next pair's start
// were received and are freed.
func (h *Handler) recvSTAT(pdu kbuf.Chain) error {
	stat, err := ParseSTAT(pdu, &h.validator, h.list)
	if err != nil {
		return err
	}
	h.list = stat.List
	cb := &h.cb
	ack := cb.ack
	if err = h.validateNR(stat.NR, stat.NMR); err != nil {
		return err
	}
	list := stat.List
	if len(list)%2 != 0 {
		return errSTATOddList
	}
	prev := stat.NR
	for i, e := range list {
		if e.LessThan(prev, ack) || (i > 0 && e == prev) || e.GreaterThan(cb.send, ack) {
			return errSTATOrder
		}
		prev = e
	}

	if err = h.ackUpTo(stat.NR); err != nil {
		return err
	}
	pollRef := cb.pollSend.Incr()
	for i := 0; i < len(list); i += 2 {
		h.handles = h.pack.rangeHandles(&h.arena, list[i], list[i+1], cb.ack, h.handles[:0])
		for _, rh := range h.handles {
			rec := h.arena.get(rh)
			if rec.inRexmit || !rec.pollSeq.LessThan(stat.NPS, pollRef) {
				continue
			}
			if err = h.rexmit.insert(&h.arena, rh, cb.ack); err != nil {
				return err
			}
		}
		if i+2 < len(list) {
			_, err = h.pack.freeRange(&h.arena, &h.rexmit, list[i+1], list[i+2], cb.ack)
			if err != nil {
				return err
			}
		}
	}
	cb.sendMax = stat.NMR
	h.traceSnd("sscop:rcv.stat")
	if cb.phase == phaseActive {
		h.arm(TimerNoResponse, h.cfg.NoResponseInterval)
		h.setPollTimer()
	}
	return h.serviceIfNeeded()
}

// recvUSTAT processes an unsolicited report of a single gap [List[0], List[1]).
func (h *Handler) recvUSTAT(pdu kbuf.Chain) error {
	u, err := ParseUSTAT(pdu, &h.validator)
	if err != nil {
		return err
	}
	cb := &h.cb
	ack := cb.ack
	if err = h.validateNR(u.NR, u.NMR); err != nil {
		return err
	}
	a, b := u.List[0], u.List[1]
	if a.LessThan(u.NR, ack) || !a.LessThan(b, ack) || b.GreaterThan(cb.send, ack) {
		return errUSTATBadRange
	}
	if err = h.ackUpTo(u.NR); err != nil {
		return err
	}
	h.handles = h.pack.rangeHandles(&h.arena, a, b, cb.ack, h.handles[:0])
	for _, rh := range h.handles {
		if h.arena.get(rh).inRexmit {
			continue
		}
		if err = h.rexmit.insert(&h.arena, rh, cb.ack); err != nil {
			return err
		}
	}
	cb.sendMax = u.NMR
	h.traceSnd("sscop:rcv.ustat")
	return h.serviceIfNeeded()
}

// validateNR checks VT(A) <= N(R) <= VT(S) and N(R) <= N(MR).
func (h *Handler) validateNR(nr, nmr saal.Seq) error {
	ack := h.cb.ack
	if !nr.LessThanEq(h.cb.send, ack) {
		return errNROutOfWindow
	} else if nmr.LessThan(nr, ack) {
		return errNMRBehindNR
	}
	return nil
}

// ackUpTo frees every pending-ack record before nr and advances VT(A) to nr.
func (h *Handler) ackUpTo(nr saal.Seq) error {
	n, err := h.pack.freeBelow(&h.arena, &h.rexmit, nr, h.cb.ack)
	if err != nil {
		return err
	}
	if n > 0 {
		h.trace("sscop:ack", slog.Uint64("n.r", uint64(nr)), slog.Int("freed", n))
	}
	h.cb.ack = nr
	return nil
}

func (h *Handler) serviceIfNeeded() error {
	if h.cb.needService || h.rexmit.len() > 0 {
		return h.service()
	}
	return nil
}

package sscop

import (
	"errors"
	"log/slog"

	"github.com/soypat/saal"
)

// service is the transmit scheduler. Retransmissions are sent first, then new data
// while the window allows. Every MaxPDUsBeforePoll SD PDUs a POLL is emitted.
//
// A send failure aborts the run and is returned. A retransmission that fails to send
// is not requeued; it stays in the pending-ack queue until the peer reports it
// missing again. New data that fails to send stays at the head of the transmit queue.
// If a run aborts before emitting a POLL one is emitted anyway so the peer learns the
// sender's state; a failure of that POLL is joined to the returned error. A POLL at the
// regular cadence that fails to send does not abort the run since the poll timer
// sends another.
func (h *Handler) service() (err error) {
	h.cb.needService = true
	polled := false
	for {
		if rh, ok := h.rexmit.popHead(&h.arena); ok {
			rec := h.arena.get(rh)
			rec.pollSeq = h.cb.pollSend
			err = h.sendFrame(saal.PDUSd, rec.seq, rec.pdu.Copy())
			if err != nil {
				break
			}
			h.traceSnd("sscop:snd.rexmit")
		} else if h.tx.len() > 0 {
			if !h.cb.windowOpen() {
				// Window closed. Service stays required until STAT or USTAT moves VT(MS).
				h.armIfDisarmed(TimerNoResponse, h.cfg.NoResponseInterval)
				h.traceSnd("sscop:snd.wnd-closed")
				break
			}
			err = h.sendNewSD()
			if err != nil {
				if h.cb.phase == phaseIdle {
					h.arm(TimerNoResponse, h.cfg.NoResponseInterval)
				}
				break
			}
			h.traceSnd("sscop:snd.sd")
		} else {
			h.cb.needService = false
			break
		}

		h.cb.pollDataCount++
		if h.cb.phase == phaseIdle {
			h.enterActive()
		}
		if h.cb.pollDataCount >= h.cfg.MaxPDUsBeforePoll {
			// Logged by sendFrame.
			_ = h.emitPoll()
			polled = true
		}
	}
	if err != nil && !polled {
		if perr := h.emitPoll(); perr != nil {
			err = errors.Join(err, perr)
		}
	}
	return err
}

// sendNewSD sends the head of the transmit queue as SD PDU VT(S) and moves it to the
// pending-ack queue. On failure the transmit queue is left untouched.
func (h *Handler) sendNewSD() error {
	sdu, _ := h.tx.peek()
	rh, rec, err := h.arena.alloc()
	if err != nil {
		h.logerr("sscop:snd.alloc", slog.Int("pack", h.pack.len()), slog.String("err", err.Error()))
		return err
	}
	seq := h.cb.send
	pdu := BuildSD(seq, sdu)
	err = h.sendFrame(saal.PDUSd, seq, pdu.Copy())
	if err != nil {
		if rerr := h.arena.release(rh); rerr != nil {
			return errors.Join(err, rerr)
		}
		return err
	}
	rec.seq = seq
	rec.pollSeq = h.cb.pollSend
	rec.pdu = pdu
	h.tx.pop()
	h.pack.insert(&h.arena, rh, h.cb.ack)
	h.cb.send = seq.Incr()
	return nil
}

// emitPoll advances VT(PS), sends a POLL and restarts the poll timer.
// A POLL that fails to send is not retried: the next poll timer expiry sends another.
func (h *Handler) emitPoll() error {
	h.cb.pollSend = h.cb.pollSend.Incr()
	h.cb.pollDataCount = 0
	err := h.sendFrame(saal.PDUPoll, h.cb.pollSend, BuildPOLL(h.cb.pollSend, h.cb.send))
	h.setPollTimer()
	if err == nil {
		h.trace("sscop:snd.poll", slog.Uint64("vt.ps", uint64(h.cb.pollSend)), slog.Uint64("vt.s", uint64(h.cb.send)))
	}
	return err
}

// setPollTimer arms the poll timer with the poll interval while data is queued or
// outstanding and with the keepalive interval otherwise. No-op in the idle phase.
func (h *Handler) setPollTimer() {
	if h.cb.phase != phaseActive {
		return
	}
	if h.tx.len() > 0 || h.cb.send != h.cb.ack {
		h.cb.keepalive = false
		h.arm(TimerPoll, h.cfg.PollInterval)
	} else {
		h.cb.keepalive = true
		h.arm(TimerPoll, h.cfg.KeepaliveInterval)
	}
}

// enterActive leaves the idle phase: the idle timer stops, the no-response timer starts
// and the poll timer is set.
func (h *Handler) enterActive() {
	h.cb.phase = phaseActive
	h.disarm(TimerIdle)
	h.arm(TimerNoResponse, h.cfg.NoResponseInterval)
	h.setPollTimer()
	h.debug("sscop:phase", slog.String("phase", "active"), slog.Uint64("token", h.cfg.Token))
}

// enterIdle stops polling and waits for the idle timer or new data.
func (h *Handler) enterIdle() {
	h.cb.phase = phaseIdle
	h.cb.keepalive = false
	h.disarm(TimerPoll)
	h.disarm(TimerNoResponse)
	h.arm(TimerIdle, h.cfg.IdleInterval)
	h.debug("sscop:phase", slog.String("phase", "idle"), slog.Uint64("token", h.cfg.Token))
}

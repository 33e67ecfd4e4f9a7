package sscop

import "github.com/soypat/saal"

// ControlBlock holds the sequence state variables of an SSCOP connection in data transfer.
//
// # Send sequence space
//
//	     1          2          3          4
//	----------|----------|----------|----------
//	        VT(A)      VT(S)      VT(MS)
//	1. acknowledged sequence numbers
//	2. sent and unacknowledged, held in the pending-ack queue
//	3. may be assigned to new SD PDUs
//	4. beyond the peer's receive window
//
// VT(A) is the reference for every send side comparison.
//
// # Receive sequence space
//
//	     1          2          3          4
//	----------|----------|----------|----------
//	        VR(R)      VR(H)      VR(MR)
//	1. delivered to the user
//	2. partially received, out of sequence PDUs are in the reorder queue
//	3. allowed but not yet seen
//	4. outside the receive window
//
// VR(R) is the reference for every receive side comparison.
type ControlBlock struct {
	send    saal.Seq // VT(S): next N(S) to assign to new data.
	sendMax saal.Seq // VT(MS): upper edge of transmit window, exclusive.
	ack     saal.Seq // VT(A): lowest unacknowledged N(S).

	rcvNext    saal.Seq // VR(R): next in-sequence N(S) expected.
	rcvHighest saal.Seq // VR(H): one past the highest N(S) known to have been sent by peer.
	rcvWindow  uint32

	pollSend      saal.Seq // VT(PS): current poll cycle.
	pollDataCount int      // VT(PD): SD PDUs sent since last POLL.

	phase       phase
	keepalive   bool // poll timer running with keepalive interval.
	needService bool // transmit service required.

	// last N(SQ) seen on BGN/RS/ER for retransmission detection.
	lastConnSeq  uint8
	connSeqValid bool
}

// SeqState is the sequence state a connection enters data transfer with.
// It is the result of connection establishment which is handled by the caller.
type SeqState struct {
	// Send is used as both VT(S) and VT(A).
	Send saal.Seq
	// SendMax is the peer's initial N(MR).
	SendMax  saal.Seq
	RecvNext saal.Seq
	PollSend saal.Seq
}

func (cb *ControlBlock) reset(st SeqState, rcvWindow uint32) {
	*cb = ControlBlock{
		send:         st.Send & saal.SeqMask,
		ack:          st.Send & saal.SeqMask,
		sendMax:      st.SendMax & saal.SeqMask,
		rcvNext:      st.RecvNext & saal.SeqMask,
		rcvHighest:   st.RecvNext & saal.SeqMask,
		rcvWindow:    rcvWindow,
		pollSend:     st.PollSend & saal.SeqMask,
		lastConnSeq:  cb.lastConnSeq,
		connSeqValid: cb.connSeqValid,
	}
}

// Send returns VT(S), the sequence number the next new SD PDU will carry.
func (cb *ControlBlock) Send() saal.Seq { return cb.send }

// SendMax returns VT(MS), the exclusive upper edge of the transmit window.
func (cb *ControlBlock) SendMax() saal.Seq { return cb.sendMax }

// Ack returns VT(A), the lowest unacknowledged sequence number.
func (cb *ControlBlock) Ack() saal.Seq { return cb.ack }

// RecvNext returns VR(R).
func (cb *ControlBlock) RecvNext() saal.Seq { return cb.rcvNext }

// RecvHighest returns VR(H).
func (cb *ControlBlock) RecvHighest() saal.Seq { return cb.rcvHighest }

// PollSend returns VT(PS).
func (cb *ControlBlock) PollSend() saal.Seq { return cb.pollSend }

// PollDataCount returns VT(PD).
func (cb *ControlBlock) PollDataCount() int { return cb.pollDataCount }

// NeedsService reports whether the transmit service flag is set.
func (cb *ControlBlock) NeedsService() bool { return cb.needService }

// Idle reports whether the connection is in the idle timer phase.
func (cb *ControlBlock) Idle() bool { return cb.phase == phaseIdle }

// Keepalive reports whether the poll timer is running with the keepalive interval.
func (cb *ControlBlock) Keepalive() bool { return cb.keepalive }

// windowOpen reports whether a new SD PDU may be sent.
func (cb *ControlBlock) windowOpen() bool {
	return cb.send.LessThan(cb.sendMax, cb.ack)
}

// rcvMax returns VR(MR), advertised to the peer as N(MR).
func (cb *ControlBlock) rcvMax() saal.Seq { return cb.rcvNext.Add(cb.rcvWindow) }

// isRetransmit records nsq and reports whether it equals the previously recorded value,
// meaning the PDU carrying it is a retransmission already processed. Variants without
// N(SQ) never report retransmission.
func (cb *ControlBlock) isRetransmit(v saal.Variant, nsq uint8) bool {
	if !v.HasConnSeq() {
		return false
	}
	if cb.connSeqValid && cb.lastConnSeq == nsq {
		return true
	}
	cb.lastConnSeq = nsq
	cb.connSeqValid = true
	return false
}

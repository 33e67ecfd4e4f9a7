package sscop

import (
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"github.com/soypat/saal"
	"github.com/soypat/saal/kbuf"
)

// Handler is the SSCOP data transfer engine of a single connection. It implements
// the transmit, retransmit, pending-ack and receive reorder queues, the transmit
// scheduler and the poll/keepalive/idle timer phases.
//
// Handler performs no locking. All calls for one connection, including timer
// expiries, must be serialized by the caller; [Conn] does so with a mutex.
// Does NOT implement connection establishment or release (BGN, END, RS, ER).
type Handler struct {
	cb      ControlBlock
	cfg     Config
	arena   recordArena
	tx      transmitQueue
	rexmit  rexmitQueue
	pack    pendingAckQueue
	reorder reorderQueue
	armed   [numTimers]bool
	logger
	validator saal.Validator
	// scratch buffers reused across STAT processing.
	list    []saal.Seq
	handles []handle
}

// Configure sets the handler's configuration. The handler must be closed.
func (h *Handler) Configure(cfg Config) error {
	if h.cb.phase != phaseClosed {
		return errAlreadyOpen
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return err
	}
	h.cfg = cfg
	h.logger = logger{log: cfg.Logger}
	h.validator = saal.NewValidator(cfg.ValidateFlags)
	return nil
}

// ControlBlock returns the handler's sequence state for inspection.
func (h *Handler) ControlBlock() *ControlBlock { return &h.cb }

// Open enters data transfer with the sequence state negotiated during connection
// establishment. The connection starts in the idle phase.
func (h *Handler) Open(st SeqState) error {
	if h.cfg.Lower == nil || h.cfg.Timers == nil {
		return errNotOpen
	} else if h.cb.phase != phaseClosed {
		return errAlreadyOpen
	}
	h.cb.reset(st, h.cfg.RecvWindow)
	h.arena.reset(h.cfg.MaxPendingPDUs)
	h.tx.drain()
	h.rexmit.hs = h.rexmit.hs[:0]
	h.pack.hs = h.pack.hs[:0]
	h.reorder.reset(h.cb.rcvNext)
	h.enterIdle()
	h.debug("sscop:open", slog.Uint64("token", h.cfg.Token), slog.Uint64("vt.s", uint64(h.cb.send)),
		slog.Uint64("vt.ms", uint64(h.cb.sendMax)), slog.Uint64("vr.r", uint64(h.cb.rcvNext)))
	return nil
}

// IsOpen reports whether the handler is in data transfer.
func (h *Handler) IsOpen() bool { return h.cb.phase != phaseClosed }

// Write queues an SDU for transmission and runs the transmit scheduler.
// SDUs larger than the configured maximum are a caller fault and return an
// error wrapping [saal.ErrInvariant]. A returned [*SendError] or [saal.ErrResource]
// does not reject the SDU: it stays queued until the next service run.
func (h *Handler) Write(sdu kbuf.Chain) error {
	if !h.IsOpen() {
		return saal.ErrClosed
	} else if sdu.Len() > h.cfg.MaxSDUSize {
		return errors.Wrapf(saal.ErrInvariant, "SDU size %d exceeds maximum %d", sdu.Len(), h.cfg.MaxSDUSize)
	}
	h.tx.enqueue(sdu)
	return h.service()
}

// Service runs the transmit scheduler if transmit service is required.
// Callers use it to retry after a transient send failure.
func (h *Handler) Service() error {
	if !h.IsOpen() {
		return saal.ErrClosed
	} else if !h.cb.needService && h.rexmit.len() == 0 && h.tx.len() == 0 {
		return nil
	}
	return h.service()
}

// Recv processes an inbound PDU. SD, POLL, STAT and USTAT PDUs are handled;
// other PDU types return [ErrUnhandledPDU] for the connection state machine to process.
func (h *Handler) Recv(pdu kbuf.Chain) error {
	if !h.IsOpen() {
		return saal.ErrClosed
	}
	typ, err := PDUType(pdu)
	if err != nil {
		return err
	}
	h.validator.ResetErr()
	switch typ {
	case saal.PDUSd:
		err = h.recvSD(pdu)
	case saal.PDUPoll:
		err = h.recvPOLL(pdu)
	case saal.PDUStat:
		err = h.recvSTAT(pdu)
	case saal.PDUUstat:
		err = h.recvUSTAT(pdu)
	default:
		err = ErrUnhandledPDU
	}
	var serr *SendError
	if err != nil && err != ErrUnhandledPDU && !errors.As(err, &serr) {
		h.warn("sscop:rcv.reject", slog.String("type", typ.String()), slog.String("err", err.Error()))
	}
	return err
}

// HandleTimer processes the expiry of timer id. Expiries of timers that are not
// armed are ignored.
func (h *Handler) HandleTimer(id TimerID) error {
	if id >= numTimers {
		return errUnknownTimerID
	} else if !h.IsOpen() || !h.armed[id] {
		return nil
	}
	h.armed[id] = false
	h.trace("sscop:timer", slog.String("timer", id.String()), slog.String("phase", h.cb.phase.String()))
	switch id {
	case TimerPoll:
		if h.cb.keepalive {
			// Nothing outstanding for a whole keepalive period.
			h.enterIdle()
			return nil
		}
		return h.emitPoll()

	case TimerIdle:
		h.enterActive()
		return h.emitPoll()

	case TimerNoResponse:
		h.logerr("sscop:no-response", slog.Uint64("token", h.cfg.Token))
		if h.cfg.Upper != nil {
			h.cfg.Upper.Fault(h.cfg.Token, ErrNoResponse)
		}
	}
	return nil
}

// IsRetransmit reports whether a connection control PDU carrying N(SQ) nsq is a
// retransmission of the last such PDU processed, in which case it must be discarded.
// The value is recorded otherwise. Always false for variants without N(SQ).
func (h *Handler) IsRetransmit(nsq uint8) bool {
	return h.cb.isRetransmit(h.cfg.Variant, nsq)
}

// Close tears the connection's data transfer state down: timers are cancelled first,
// then every queue is drained and the transmit service flag is cleared.
func (h *Handler) Close() error {
	if !h.IsOpen() {
		return saal.ErrClosed
	}
	for id := TimerID(0); id < numTimers; id++ {
		h.disarm(id)
	}
	ntx := h.tx.drain()
	nrex := h.rexmit.drain(&h.arena)
	npack, err := h.pack.drain(&h.arena)
	nrcv := h.reorder.drain()
	h.cb.needService = false
	h.cb.keepalive = false
	h.cb.phase = phaseClosed
	h.debug("sscop:close", slog.Uint64("token", h.cfg.Token), slog.Int("txq", ntx),
		slog.Int("rexq", nrex), slog.Int("pack", npack), slog.Int("reorder", nrcv))
	return err
}

// Buffered returns the number of SDUs waiting in the transmit queue.
func (h *Handler) Buffered() int { return h.tx.len() }

// Unacked returns the number of sent SD PDUs awaiting acknowledgement.
func (h *Handler) Unacked() int { return h.pack.len() }

// PendingRetransmit returns the number of SD PDUs queued for retransmission.
func (h *Handler) PendingRetransmit() int { return h.rexmit.len() }

// OutOfSequence returns the number of received PDUs held in the reorder queue.
func (h *Handler) OutOfSequence() int { return h.reorder.len() }

func (h *Handler) arm(id TimerID, d time.Duration) {
	h.armed[id] = true
	h.cfg.Timers.Arm(id, d)
}

func (h *Handler) armIfDisarmed(id TimerID, d time.Duration) {
	if !h.armed[id] {
		h.arm(id, d)
	}
}

func (h *Handler) disarm(id TimerID) {
	if h.armed[id] {
		h.armed[id] = false
		h.cfg.Timers.Disarm(id)
	}
}

// TimerArmed reports whether timer id is currently armed.
func (h *Handler) TimerArmed(id TimerID) bool { return id < numTimers && h.armed[id] }

func (h *Handler) sendFrame(typ saal.PDUType, seq saal.Seq, frame kbuf.Chain) error {
	err := h.cfg.Lower.SendFrame(h.cfg.Token, frame)
	if err != nil {
		h.logerr("sscop:snd.fail", slog.String("type", typ.String()), slog.Uint64("seq", uint64(seq)),
			slog.String("err", err.Error()))
		return &SendError{Type: typ, Seq: seq, Err: err}
	}
	return nil
}

package sscop

import (
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/soypat/saal"
	"github.com/soypat/saal/kbuf"
)

var (
	// ErrNoResponse is reported to [Upper.Fault] when the peer did not answer
	// within the no-response interval.
	ErrNoResponse = errors.New("sscop: no response from peer")
	// ErrUnhandledPDU is returned by Recv for connection control PDUs (BGN, END, RS, ER...)
	// which belong to the connection state machine and not to the data transfer engine.
	ErrUnhandledPDU = errors.New("sscop: PDU not handled by data transfer engine")

	errNotOpen        = errors.New("sscop: handler not open")
	errAlreadyOpen    = errors.New("sscop: handler already open")
	errNilLower       = errors.New("sscop: nil lower layer")
	errNilTimers      = errors.New("sscop: nil timer service")
	errBadMaxPD       = errors.New("sscop: MaxPDUsBeforePoll must be >= 1")
	errBadRecvWindow  = errors.New("sscop: receive window out of range")
	errBadInterval    = errors.New("sscop: negative timer interval")
	errSTATOddList    = errors.New("sscop: STAT list has odd element count")
	errSTATOrder      = errors.New("sscop: STAT list not ascending")
	errNROutOfWindow  = errors.New("sscop: N(R) outside [VT(A), VT(S)]")
	errNMRBehindNR    = errors.New("sscop: N(MR) precedes N(R)")
	errUSTATBadRange  = errors.New("sscop: USTAT list range invalid")
	errUnknownTimerID = errors.New("sscop: unknown timer")
)

// Default configuration values, taken from the Q.2110 recommended values.
const (
	DefaultMaxPDUsBeforePoll  = 25
	DefaultPollInterval       = 750 * time.Millisecond
	DefaultKeepaliveInterval  = 2 * time.Second
	DefaultIdleInterval       = 15 * time.Second
	DefaultNoResponseInterval = 7 * time.Second
	DefaultMaxSDUSize         = 4096
	DefaultMaxPendingPDUs     = 1024
	DefaultRecvWindow         = 256
)

// Lower is the layer below SSCOP, typically AAL5 common part convergence.
// SendFrame always receives a copy of the PDU so implementations may keep or modify it.
// A returned error leaves engine state untouched.
type Lower interface {
	SendFrame(token uint64, frame kbuf.Chain) error
}

// Upper is the SSCOP user. DeliverSDU is called with in-sequence data;
// Fault reports conditions the connection owner must act on such as [ErrNoResponse].
type Upper interface {
	DeliverSDU(token uint64, sdu kbuf.Chain)
	Fault(token uint64, err error)
}

// TimerID identifies one of the per-connection timers.
type TimerID uint8

const (
	// TimerPoll drives POLL emission. It runs either with the short poll
	// interval or with the keepalive interval when nothing is outstanding.
	TimerPoll TimerID = iota
	// TimerIdle runs while the connection is in the idle phase.
	TimerIdle
	// TimerNoResponse detects an unresponsive peer.
	TimerNoResponse
	numTimers
)

func (id TimerID) String() string {
	switch id {
	case TimerPoll:
		return "poll"
	case TimerIdle:
		return "idle"
	case TimerNoResponse:
		return "no-response"
	}
	return "TimerID(" + strconv.Itoa(int(id)) + ")"
}

// TimerService arms and disarms timers on behalf of a connection. Expiry must be
// delivered back to the connection's HandleTimer method. Arming an armed timer restarts it.
type TimerService interface {
	Arm(id TimerID, d time.Duration)
	Disarm(id TimerID)
}

// Config configures a [Handler] or [Conn]. Zero valued fields take their default.
type Config struct {
	// Token identifies the connection to the lower and upper layers.
	Token   uint64
	Variant saal.Variant
	// MaxPDUsBeforePoll is the number of SD PDUs sent before a POLL is emitted.
	MaxPDUsBeforePoll  int
	PollInterval       time.Duration
	KeepaliveInterval  time.Duration
	IdleInterval       time.Duration
	NoResponseInterval time.Duration
	// MaxSDUSize is the largest SDU accepted by Write.
	MaxSDUSize int
	// MaxPendingPDUs bounds the number of sent and unacknowledged SD PDUs.
	// Sends beyond this limit fail with [saal.ErrResource].
	MaxPendingPDUs int
	// RecvWindow is the number of sequence numbers the peer may send ahead of VR(R).
	RecvWindow uint32
	// ValidateFlags configures inbound PDU validation.
	ValidateFlags saal.ValidateFlags

	Lower  Lower
	Upper  Upper
	Timers TimerService
	Logger *slog.Logger
}

func (cfg *Config) setDefaults() {
	if cfg.MaxPDUsBeforePoll == 0 {
		cfg.MaxPDUsBeforePoll = DefaultMaxPDUsBeforePoll
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.KeepaliveInterval == 0 {
		cfg.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if cfg.IdleInterval == 0 {
		cfg.IdleInterval = DefaultIdleInterval
	}
	if cfg.NoResponseInterval == 0 {
		cfg.NoResponseInterval = DefaultNoResponseInterval
	}
	if cfg.MaxSDUSize == 0 {
		cfg.MaxSDUSize = DefaultMaxSDUSize
	}
	if cfg.MaxPendingPDUs == 0 {
		cfg.MaxPendingPDUs = DefaultMaxPendingPDUs
	}
	if cfg.RecvWindow == 0 {
		cfg.RecvWindow = DefaultRecvWindow
	}
}

func (cfg *Config) validate() error {
	switch {
	case cfg.Lower == nil:
		return errNilLower
	case cfg.Timers == nil:
		return errNilTimers
	case cfg.MaxPDUsBeforePoll < 1:
		return errBadMaxPD
	case cfg.RecvWindow >= saal.SeqModulus/2:
		return errBadRecvWindow
	case cfg.PollInterval < 0 || cfg.KeepaliveInterval < 0 || cfg.IdleInterval < 0 || cfg.NoResponseInterval < 0:
		return errBadInterval
	case cfg.MaxSDUSize < 0 || cfg.MaxPendingPDUs < 0:
		return errors.New("sscop: negative size limit")
	}
	return nil
}

// SendError is returned when the lower layer rejects a PDU.
// Queued data is left in place and will be sent on a later service call.
type SendError struct {
	Type saal.PDUType
	Seq  saal.Seq
	Err  error
}

func (e *SendError) Error() string {
	return "sscop: send " + e.Type.String() + " seq=" + e.Seq.String() + ": " + e.Err.Error()
}

func (e *SendError) Unwrap() error { return e.Err }

// phase is the timer phase of a connection in data transfer.
type phase uint8

const (
	phaseClosed phase = iota
	phaseIdle
	phaseActive
)

func (p phase) String() string {
	switch p {
	case phaseClosed:
		return "closed"
	case phaseIdle:
		return "idle"
	case phaseActive:
		return "active"
	}
	return "phase(" + strconv.Itoa(int(p)) + ")"
}

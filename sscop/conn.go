package sscop

import (
	"log/slog"
	"sync"

	"github.com/soypat/saal"
	"github.com/soypat/saal/kbuf"
)

// Conn wraps a [Handler] with a mutex so that user writes, inbound PDUs and timer
// expiries for one connection are serialized. Separate Conns share no state.
type Conn struct {
	mu     sync.Mutex
	h      Handler
	timers *AfterFuncTimers
}

// Configure configures the connection. If cfg.Timers is nil the Conn runs its own
// timers on [time.AfterFunc].
func (conn *Conn) Configure(cfg Config) error {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if cfg.Timers == nil {
		if conn.timers == nil {
			conn.timers = NewAfterFuncTimers(conn.timerFired)
		}
		cfg.Timers = conn.timers
	}
	return conn.h.Configure(cfg)
}

// Open enters data transfer. See [Handler.Open].
func (conn *Conn) Open(st SeqState) error {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	return conn.h.Open(st)
}

// Write queues an SDU for transmission. See [Handler.Write].
func (conn *Conn) Write(sdu []byte) error {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	return conn.h.Write(kbuf.FromBytes(sdu))
}

// WriteChain is like Write but takes ownership of a byte chain without copying it.
func (conn *Conn) WriteChain(sdu kbuf.Chain) error {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	return conn.h.Write(sdu)
}

// Recv processes an inbound PDU received from the lower layer. See [Handler.Recv].
func (conn *Conn) Recv(pdu kbuf.Chain) error {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	return conn.h.Recv(pdu)
}

// Service retries transmission after a transient failure. See [Handler.Service].
func (conn *Conn) Service() error {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	return conn.h.Service()
}

// HandleTimer delivers a timer expiry. Used when the Conn is configured with an external [TimerService].
func (conn *Conn) HandleTimer(id TimerID) error {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	return conn.h.HandleTimer(id)
}

func (conn *Conn) timerFired(id TimerID, gen uint64) {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if !conn.timers.Current(id, gen) {
		return // Re-armed or disarmed after this expiry was scheduled.
	}
	err := conn.h.HandleTimer(id)
	if err != nil {
		conn.h.logerr("sscop:timer", slog.String("timer", id.String()), slog.String("err", err.Error()))
	}
}

// IsRetransmit reports whether N(SQ) nsq repeats the last one seen. See [Handler.IsRetransmit].
func (conn *Conn) IsRetransmit(nsq uint8) bool {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	return conn.h.IsRetransmit(nsq)
}

// Close cancels timers and drains all queues. See [Handler.Close].
func (conn *Conn) Close() error {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	return conn.h.Close()
}

// Status is a snapshot of a connection's sequence state and queue occupancy.
type Status struct {
	Open          bool
	Idle          bool
	Keepalive     bool
	NeedsService  bool
	Send          saal.Seq
	SendMax       saal.Seq
	Ack           saal.Seq
	RecvNext      saal.Seq
	PollSend      saal.Seq
	PollDataCount int
	Buffered      int
	Unacked       int
	Retransmit    int
	OutOfSequence int
}

// Status returns a snapshot of the connection state.
func (conn *Conn) Status() Status {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	h := &conn.h
	cb := &h.cb
	return Status{
		Open:          h.IsOpen(),
		Idle:          cb.Idle(),
		Keepalive:     cb.keepalive,
		NeedsService:  cb.needService,
		Send:          cb.send,
		SendMax:       cb.sendMax,
		Ack:           cb.ack,
		RecvNext:      cb.rcvNext,
		PollSend:      cb.pollSend,
		PollDataCount: cb.pollDataCount,
		Buffered:      h.tx.len(),
		Unacked:       h.pack.len(),
		Retransmit:    h.rexmit.len(),
		OutOfSequence: h.reorder.len(),
	}
}

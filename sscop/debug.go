package sscop

import (
	"log/slog"

	"github.com/soypat/saal/internal"
)

type logger struct {
	log *slog.Logger
}

func (l logger) logenabled(lvl slog.Level) bool {
	return internal.LogEnabled(l.log, lvl)
}

func (l logger) logattrs(lvl slog.Level, msg string, attrs ...slog.Attr) {
	internal.LogAttrs(l.log, lvl, msg, attrs...)
}

func (l logger) debug(msg string, attrs ...slog.Attr) {
	l.logattrs(slog.LevelDebug, msg, attrs...)
}

func (l logger) trace(msg string, attrs ...slog.Attr) {
	l.logattrs(internal.LevelTrace, msg, attrs...)
}

func (l logger) warn(msg string, attrs ...slog.Attr) {
	l.logattrs(slog.LevelWarn, msg, attrs...)
}

func (l logger) logerr(msg string, attrs ...slog.Attr) {
	l.logattrs(slog.LevelError, msg, attrs...)
}

func (h *Handler) traceSnd(msg string) {
	if !h.logenabled(internal.LevelTrace) {
		return
	}
	h.trace(msg,
		slog.Uint64("vt.s", uint64(h.cb.send)),
		slog.Uint64("vt.a", uint64(h.cb.ack)),
		slog.Uint64("vt.ms", uint64(h.cb.sendMax)),
		slog.Uint64("vt.ps", uint64(h.cb.pollSend)),
		slog.Int("vt.pd", h.cb.pollDataCount),
		slog.Int("txq", h.tx.len()),
		slog.Int("rexq", h.rexmit.len()),
		slog.Int("pack", h.pack.len()),
		slog.String("phase", h.cb.phase.String()),
	)
}

func (h *Handler) traceRcv(msg string) {
	if !h.logenabled(internal.LevelTrace) {
		return
	}
	h.trace(msg,
		slog.Uint64("vr.r", uint64(h.cb.rcvNext)),
		slog.Uint64("vr.h", uint64(h.cb.rcvHighest)),
		slog.Uint64("vr.mr", uint64(h.cb.rcvMax())),
		slog.Int("reorder", h.reorder.len()),
	)
}

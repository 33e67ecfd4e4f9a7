//go:build debugheaplog

package internal

import (
	"log/slog"
	"runtime"
	"sync"
)

const HeapAllocDebugging = true

var (
	memstats   runtime.MemStats
	lastAllocs uint64
	allocmu    sync.Mutex
)

// LogAttrs prints msg and its scalar attributes with the runtime's print builtins,
// which do not allocate, followed by the heap growth since the previous call.
func LogAttrs(_ *slog.Logger, level slog.Level, msg string, attrs ...slog.Attr) {
	allocmu.Lock()
	defer allocmu.Unlock()
	runtime.ReadMemStats(&memstats)
	if level == LevelTrace {
		print("TRACE ")
	} else {
		print(level.String(), " ")
	}
	print(msg)
	for _, a := range attrs {
		switch a.Value.Kind() {
		case slog.KindString:
			print(" ", a.Key, "=", a.Value.String())
		case slog.KindInt64:
			print(" ", a.Key, "=", a.Value.Int64())
		case slog.KindUint64:
			print(" ", a.Key, "=", a.Value.Uint64())
		case slog.KindBool:
			print(" ", a.Key, "=", a.Value.Bool())
		}
	}
	if memstats.TotalAlloc != lastAllocs {
		print(" [ALLOC inc=", int64(memstats.TotalAlloc)-int64(lastAllocs), "]")
	}
	println()
	lastAllocs = memstats.TotalAlloc
}

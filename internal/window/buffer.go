// Package window implements the size-and-time-triggered text buffer that
// turns a stream of generator deltas into fixed-size classification units.
package window

import "time"

// Buffer accumulates incoming text and emits fixed-size windows. It is
// owned exclusively by one gateway request's goroutine — there is no
// locking here because, unlike the guardrail service's batch queue, a
// Buffer is never shared across goroutines.
//
// Counting is over runes (Unicode code points), not bytes, so multi-byte
// UTF-8 text windows the same way regardless of script.
type Buffer struct {
	size    int
	pending []rune

	flushInterval time.Duration
	lastFlush     time.Time
}

// New creates a Buffer that emits windows of exactly size runes (except
// for the final/time-triggered remainder, which may be shorter). A
// flushInterval of 0 disables time-triggered flushing.
func New(size int, flushInterval time.Duration) *Buffer {
	return &Buffer{
		size:          size,
		flushInterval: flushInterval,
		lastFlush:     time.Now(),
	}
}

// Add appends s to the pending text. Call Next afterward (in a loop) to
// drain any full-size windows the append produced — a single delta can
// contain enough text for more than one window (spec §8 scenario S1:
// a 12-rune delta against BufferSize=5 yields two full windows plus a
// remainder), so detaching is Next's job, not Add's.
func (b *Buffer) Add(s string) {
	b.pending = append(b.pending, []rune(s)...)
}

// Next detaches and returns the first `size` runes as a window if the
// buffer currently holds at least that many; ok is false otherwise. Call
// it in a loop after Add to drain every full window before moving on.
func (b *Buffer) Next() (window string, ok bool) {
	if len(b.pending) < b.size {
		return "", false
	}
	out := b.pending[:b.size]
	b.pending = b.pending[b.size:]
	return string(out), true
}

// Flush returns and clears whatever text is pending, resetting the
// time-flush clock. The caller must not emit anything when window is
// empty.
func (b *Buffer) Flush() (window string) {
	b.lastFlush = time.Now()

	if len(b.pending) == 0 {
		return ""
	}

	out := string(b.pending)
	b.pending = nil
	return out
}

// DueForTimeFlush reports whether enough idle time has elapsed since the
// last flush to force a time-triggered emission. It is evaluated once per
// upstream line processed, matching §4.2's policy — a long upstream
// silence between lines will not trigger a flush until the next line
// arrives and this is checked again.
func (b *Buffer) DueForTimeFlush() bool {
	if b.flushInterval <= 0 {
		return false
	}
	return time.Since(b.lastFlush) >= b.flushInterval
}

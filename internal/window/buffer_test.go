package window

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func drainWindows(b *Buffer) []string {
	var out []string
	for {
		w, ok := b.Next()
		if !ok {
			break
		}
		out = append(out, w)
	}
	return out
}

func TestAddEmitsFixedSizeWindows(t *testing.T) {
	b := New(5, 0)
	b.Add("hello world!")

	assert.Equal(t, []string{"hello", " worl"}, drainWindows(b))

	_, ok := b.Next()
	assert.False(t, ok)
}

func TestAddAccumulatesBelowThreshold(t *testing.T) {
	b := New(5, 0)
	b.Add("hi")

	_, ok := b.Next()
	assert.False(t, ok)

	b.Add("!")
	_, ok = b.Next()
	assert.False(t, ok)
}

func TestFlushReturnsRemainderAndClears(t *testing.T) {
	b := New(100, 0)
	b.Add("hi")

	w := b.Flush()
	assert.Equal(t, "hi", w)

	// A second flush with nothing pending returns empty.
	assert.Empty(t, b.Flush())
}

func TestDueForTimeFlushDisabledWhenZero(t *testing.T) {
	b := New(100, 0)
	time.Sleep(5 * time.Millisecond)
	assert.False(t, b.DueForTimeFlush())
}

func TestDueForTimeFlushFiresAfterInterval(t *testing.T) {
	b := New(100, 10*time.Millisecond)
	assert.False(t, b.DueForTimeFlush())

	time.Sleep(15 * time.Millisecond)
	assert.True(t, b.DueForTimeFlush())
}

func TestCountsRunesNotBytes(t *testing.T) {
	// "héllo" has 5 runes but 6 bytes (é is 2 bytes in UTF-8).
	b := New(5, 0)
	b.Add("héllo world")

	w, ok := b.Next()
	assert.True(t, ok)
	assert.Equal(t, "héllo", w)
}

func TestTextConservationAcrossManyAdds(t *testing.T) {
	b := New(3, 0)
	input := "the quick brown fox jumps"
	var out string

	for _, r := range input {
		b.Add(string(r))
		for _, w := range drainWindows(b) {
			out += w
		}
	}
	out += b.Flush()

	assert.Equal(t, input, out)
}

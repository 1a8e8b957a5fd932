package orchestration

import (
	"strings"
	"time"
	"unicode/utf8"
)

// deltaBuffer coalesces streamed text fragments before they are committed to
// the assistant message. It is owned by the lane; the debounce timer only
// schedules a flush back onto it.
type deltaBuffer struct {
	chunks []string
	length int

	minLength   int
	quietPeriod time.Duration

	afterFunc func(time.Duration, func()) timerHandle
	schedule  func(func()) bool
	commit    func(string)

	timer      timerHandle
	generation int
}

func newDeltaBuffer(minLength int, quietPeriod time.Duration, afterFunc func(time.Duration, func()) timerHandle, schedule func(func()) bool, commit func(string)) *deltaBuffer {
	return &deltaBuffer{
		minLength:   minLength,
		quietPeriod: quietPeriod,
		afterFunc:   afterFunc,
		schedule:    schedule,
		commit:      commit,
	}
}

// Append buffers a fragment. Sentence endings and long buffers flush right
// away; anything else waits for the quiet period.
func (b *deltaBuffer) Append(delta string) {
	if b == nil || delta == "" {
		return
	}

	b.chunks = append(b.chunks, delta)
	b.length += utf8.RuneCountInString(delta)

	if endsSentence(delta) || b.length >= b.minLength {
		b.Flush()
		return
	}

	b.stopTimer()
	b.generation++
	generation := b.generation
	b.timer = b.afterFunc(b.quietPeriod, func() {
		b.schedule(func() {
			if b.generation == generation {
				b.Flush()
			}
		})
	})
}

// Flush commits whatever is buffered. It reports whether anything was
// committed.
func (b *deltaBuffer) Flush() bool {
	if b == nil {
		return false
	}

	b.stopTimer()
	b.generation++
	if len(b.chunks) == 0 {
		return false
	}

	text := strings.Join(b.chunks, "")
	b.chunks = b.chunks[:0]
	b.length = 0
	b.commit(text)
	return true
}

func (b *deltaBuffer) Len() int {
	if b == nil {
		return 0
	}
	return b.length
}

// Discard drops buffered text without committing it.
func (b *deltaBuffer) Discard() {
	if b == nil {
		return
	}
	b.stopTimer()
	b.generation++
	b.chunks = b.chunks[:0]
	b.length = 0
}

func (b *deltaBuffer) stopTimer() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

func endsSentence(delta string) bool {
	last, _ := utf8.DecodeLastRuneInString(delta)
	switch last {
	case '.', '!', '?', '\n':
		return true
	}
	return false
}

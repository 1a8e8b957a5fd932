package orchestration

import (
	"testing"
	"time"
)

func newTestDeltaBuffer(clock *manualClock, committed *[]string) *deltaBuffer {
	return newDeltaBuffer(20, 150*time.Millisecond, clock.AfterFunc,
		func(fn func()) bool { fn(); return true },
		func(text string) { *committed = append(*committed, text) },
	)
}

func TestDeltaBufferFlushesOnSentenceEnd(t *testing.T) {
	var committed []string
	buffer := newTestDeltaBuffer(&manualClock{}, &committed)

	buffer.Append("Hi")
	buffer.Append(" there.")

	if len(committed) != 1 || committed[0] != "Hi there." {
		t.Fatalf("committed = %q, want [\"Hi there.\"]", committed)
	}
	if buffer.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", buffer.Len())
	}
}

func TestDeltaBufferFlushesAtMinimumLength(t *testing.T) {
	var committed []string
	buffer := newTestDeltaBuffer(&manualClock{}, &committed)

	buffer.Append("abcdefghij")
	buffer.Append("klmnopqrst")

	if len(committed) != 1 || committed[0] != "abcdefghijklmnopqrst" {
		t.Fatalf("committed = %q", committed)
	}
}

func TestDeltaBufferDebouncesShortText(t *testing.T) {
	clock := &manualClock{}
	var committed []string
	buffer := newTestDeltaBuffer(clock, &committed)

	buffer.Append("Hel")
	buffer.Append("lo")
	if len(committed) != 0 {
		t.Fatalf("committed before quiet period: %q", committed)
	}

	clock.FireAll()
	if len(committed) != 1 || committed[0] != "Hello" {
		t.Fatalf("committed = %q, want [\"Hello\"]", committed)
	}
}

func TestDeltaBufferStaleTimerDoesNothing(t *testing.T) {
	clock := &manualClock{}
	var committed []string
	buffer := newTestDeltaBuffer(clock, &committed)

	buffer.Append("Hel")
	timer := clock.timers[0]
	buffer.Flush()
	buffer.Append("lo")
	timer.fn()

	if len(committed) != 1 || committed[0] != "Hel" {
		t.Fatalf("committed = %q, want [\"Hel\"]", committed)
	}
}

func TestDeltaBufferDiscard(t *testing.T) {
	var committed []string
	buffer := newTestDeltaBuffer(&manualClock{}, &committed)

	buffer.Append("abc")
	buffer.Discard()
	if buffer.Flush() {
		t.Fatalf("Flush() after Discard() committed %q", committed)
	}
}

func TestFileCacheEvictsOldest(t *testing.T) {
	cache := newFileCache(2)
	cache.put("a", []byte("1"))
	cache.put("b", []byte("2"))
	cache.put("a", []byte("3"))
	cache.put("c", []byte("4"))

	if cache.len() != 2 {
		t.Fatalf("len() = %d, want 2", cache.len())
	}
	if _, ok := cache.get("a"); ok {
		t.Fatalf("oldest entry was not evicted")
	}
	if data, ok := cache.get("c"); !ok || string(data) != "4" {
		t.Fatalf("get(c) = %q, %v", data, ok)
	}
}

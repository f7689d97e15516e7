// Package playback schedules decoded agent speech onto a gapless timeline
// driven by the output device clock.
//
// Time is measured in output frames, counted as the device pulls samples
// through [Scheduler.Render]. Nothing in this package consults wall-clock
// time, so scheduling jitter on the device thread cannot reorder segments.
package playback

import (
	"container/heap"
	"sync"
	"time"

	"github.com/Sangini-spec/InterVue-X/pkg/audio"
)

// Clock counts frames rendered by the output device and runs callbacks when
// the count reaches their deadline. It is safe for concurrent use.
type Clock struct {
	sampleRate int

	mu     sync.Mutex
	frames int64
	timers timerHeap
	seq    uint64
}

// NewClock returns a clock at frame zero for a device running at sampleRate.
func NewClock(sampleRate int) *Clock {
	return &Clock{sampleRate: sampleRate}
}

// SampleRate returns the device rate the clock counts in.
func (c *Clock) SampleRate() int { return c.sampleRate }

// Frames returns the number of frames rendered so far.
func (c *Clock) Frames() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames
}

// Now returns [Clock.Frames] expressed as a duration.
func (c *Clock) Now() time.Duration {
	return c.Duration(c.Frames())
}

// Duration converts a frame count in this clock's time base to a duration.
func (c *Clock) Duration(frames int64) time.Duration {
	return audio.SamplesDuration(int(frames), c.sampleRate)
}

// At schedules fn to run once the clock reaches frame. A deadline already in
// the past fires on the next [Clock.Advance]. fn runs on the goroutine that
// advances the clock and must not block.
func (c *Clock) At(frame int64, fn func()) *Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &Timer{clock: c, at: frame, seq: c.seq, fn: fn}
	heap.Push(&c.timers, t)
	return t
}

// Advance moves the clock forward by n frames and runs every timer whose
// deadline has been reached, in deadline order. Advance(0) only fires timers
// that are already due.
func (c *Clock) Advance(n int) {
	runTimers(c.advance(n))
}

// advance moves the clock and detaches the due timers without running them,
// so callers holding their own locks can run them after unlocking.
func (c *Clock) advance(n int) []*Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames += int64(n)
	var due []*Timer
	for c.timers.Len() > 0 && c.timers[0].at <= c.frames {
		t := heap.Pop(&c.timers).(*Timer)
		t.fired = true
		due = append(due, t)
	}
	return due
}

func runTimers(due []*Timer) {
	for _, t := range due {
		t.fn()
	}
}

// Pending returns the number of timers that have not fired or been stopped.
func (c *Clock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timers.Len()
}

// Timer is a callback registered with [Clock.At].
type Timer struct {
	clock *Clock
	at    int64
	seq   uint64
	fn    func()
	index int
	fired bool
}

// Stop cancels the timer. It reports whether the call prevented the timer
// from firing; false means it already fired or was stopped.
func (t *Timer) Stop() bool {
	c := t.clock
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.fired || t.index < 0 {
		return false
	}
	heap.Remove(&c.timers, t.index)
	return true
}

// timerHeap is a min-heap of timers ordered by deadline, with FIFO
// tie-breaking on registration order.
type timerHeap []*Timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].at != h[j].at {
		return h[i].at < h[j].at
	}
	return h[i].seq < h[j].seq
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

// Push appends x to the heap. Called by [container/heap.Push]; callers must
// not invoke this directly.
func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}

// Pop removes and returns the last element. Called by [container/heap.Pop];
// callers must not invoke this directly.
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

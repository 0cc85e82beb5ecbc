package clock

import (
	"sync"
	"time"
)

// Manual is a Clock for tests. Timers never fire on their own; the test
// drives them with FireNext()/FireAll(), and Now() returns a settable time.
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers map[int]*manualTimer
}

func NewManual(now time.Time) *Manual {
	return &Manual{now: now, timers: map[int]*manualTimer{}}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the manual wall clock forward without firing timers.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

func (m *Manual) AfterFunc(d time.Duration, f func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t := &manualTimer{owner: m, id: m.seq, due: m.now.Add(d), delay: d, fn: f}
	m.timers[t.id] = t
	return t
}

// Armed reports how many timers are currently pending.
func (m *Manual) Armed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// Delays returns the arm delays of all pending timers, oldest first.
func (m *Manual) Delays() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int, 0, len(m.timers))
	for id := range m.timers {
		ids = append(ids, id)
	}
	sortInts(ids)
	out := make([]time.Duration, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.timers[id].delay)
	}
	return out
}

// FireNext fires the oldest pending timer synchronously on the calling
// goroutine. Returns false if no timer is pending.
func (m *Manual) FireNext() bool {
	m.mu.Lock()
	var next *manualTimer
	for _, t := range m.timers {
		if next == nil || t.id < next.id {
			next = t
		}
	}
	if next == nil {
		m.mu.Unlock()
		return false
	}
	delete(m.timers, next.id)
	if next.due.After(m.now) {
		m.now = next.due
	}
	fn := next.fn
	m.mu.Unlock()

	fn()
	return true
}

type manualTimer struct {
	owner *Manual
	id    int
	due   time.Time
	delay time.Duration
	fn    func()
}

func (t *manualTimer) Stop() bool {
	t.owner.mu.Lock()
	defer t.owner.mu.Unlock()
	if _, ok := t.owner.timers[t.id]; !ok {
		return false
	}
	delete(t.owner.timers, t.id)
	return true
}

func sortInts(a []int) {
	for i := 1; i < len(a); i++ {
		for j := i; j > 0 && a[j] < a[j-1]; j-- {
			a[j], a[j-1] = a[j-1], a[j]
		}
	}
}

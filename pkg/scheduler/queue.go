package scheduler

import (
	"container/heap"
	"time"
)

// entry is one queued run. Entries whose gen no longer matches their
// task's gen are stale and discarded when they reach the top.
type entry struct {
	due time.Time
	key key
	gen uint64
	seq uint64
}

// entryHeap orders entries by due time, then insertion order.
type entryHeap []entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].due.Equal(h[j].due) {
		return h[i].seq < h[j].seq
	}
	return h[i].due.Before(h[j].due)
}

func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x any) { *h = append(*h, x.(entry)) }

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// pushLocked enqueues t at its current due time and generation.
func (s *Scheduler) pushLocked(t *task) {
	s.seq++
	heap.Push(&s.queue, entry{due: t.due, key: t.key, gen: t.gen, seq: s.seq})
}

// peekLocked returns the earliest live entry's task, discarding stale
// entries on the way.
func (s *Scheduler) peekLocked() (*task, bool) {
	for s.queue.Len() > 0 {
		top := s.queue[0]
		t, ok := s.tasks[top.key]
		if ok && t.gen == top.gen && !t.running {
			return t, true
		}
		heap.Pop(&s.queue)
		s.stats.Dropped++
	}
	return nil, false
}

// pruneLocked removes every stale entry from the queue.
func (s *Scheduler) pruneLocked() {
	live := s.queue[:0]
	for _, e := range s.queue {
		if t, ok := s.tasks[e.key]; ok && t.gen == e.gen && !t.running {
			live = append(live, e)
			continue
		}
		s.stats.Dropped++
	}
	s.queue = live
	heap.Init(&s.queue)
}

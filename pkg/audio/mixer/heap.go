package mixer

import "github.com/nwang783/just-in-case/pkg/audio"

// entry is a queued segment. seq orders equal priorities first-in first-out.
type entry struct {
	segment  *audio.AudioSegment
	priority int
	seq      uint64
}

// segmentHeap is a max-heap on priority.
type segmentHeap []entry

func (h segmentHeap) Len() int { return len(h) }

func (h segmentHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h segmentHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *segmentHeap) Push(x any) {
	*h = append(*h, x.(entry))
}

func (h *segmentHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

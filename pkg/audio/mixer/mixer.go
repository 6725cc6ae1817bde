// Package mixer provides the [audio.Mixer] that plays the interviewer's
// replies one at a time. Segments are ordered by priority and then by
// arrival; a candidate barge-in drops everything queued.
package mixer

import (
	"container/heap"
	"log/slog"
	"sync"
	"time"

	"github.com/nwang783/just-in-case/pkg/audio"
	"github.com/nwang783/just-in-case/pkg/types"
)

var _ audio.Mixer = (*PriorityMixer)(nil)

const (
	// DefaultGap is the silence inserted between consecutive segments.
	DefaultGap = 150 * time.Millisecond

	defaultQueueCap = 8
)

// Option configures a [PriorityMixer].
type Option func(*PriorityMixer)

// WithGap sets the silence between consecutive segments. Zero disables it.
func WithGap(d time.Duration) Option {
	return func(m *PriorityMixer) { m.gap = d }
}

// WithQueueCapacity sets the initial capacity of the queue.
func WithQueueCapacity(n int) Option {
	return func(m *PriorityMixer) {
		if n > 0 {
			m.queue = make(segmentHeap, 0, n)
		}
	}
}

// PriorityMixer is a concrete [audio.Mixer] backed by [container/heap].
type PriorityMixer struct {
	output func(types.AudioFrame)

	mu             sync.Mutex
	queue          segmentHeap
	seq            uint64
	gap            time.Duration
	playing        *audio.AudioSegment
	playingPri     int
	cancelPlaying  chan struct{}
	bargeInHandler func(string)

	notify chan struct{}
	done   chan struct{}
	closed bool
}

// New creates a [PriorityMixer] that hands frames to output and starts its
// dispatch goroutine. output is called sequentially and should not block
// for long. Call Close to stop the mixer.
func New(output func(types.AudioFrame), opts ...Option) *PriorityMixer {
	m := &PriorityMixer{
		output: output,
		queue:  make(segmentHeap, 0, defaultQueueCap),
		gap:    DefaultGap,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	heap.Init(&m.queue)
	go m.dispatch()
	return m
}

// Enqueue implements audio.Mixer. Segments without a valid format are
// drained and dropped.
func (m *PriorityMixer) Enqueue(segment *audio.AudioSegment, priority int) {
	if segment.SampleRate <= 0 || segment.Channels <= 0 {
		slog.Warn("mixer: dropping segment with invalid format",
			"label", segment.Label, "sample_rate", segment.SampleRate, "channels", segment.Channels)
		go audio.Drain(segment.Audio)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		go audio.Drain(segment.Audio)
		return
	}

	m.seq++
	heap.Push(&m.queue, entry{segment: segment, priority: priority, seq: m.seq})
	if m.playing != nil && priority > m.playingPri {
		m.interruptLocked(false)
	}
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// Interrupt implements audio.Mixer.
func (m *PriorityMixer) Interrupt(reason audio.InterruptReason) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interruptLocked(reason == audio.CandidateBargeIn)
}

// OnBargeIn implements audio.Mixer. The handler runs on a new goroutine.
func (m *PriorityMixer) OnBargeIn(handler func(participantID string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bargeInHandler = handler
}

// BargeIn implements audio.Mixer.
func (m *PriorityMixer) BargeIn(participantID string) {
	m.mu.Lock()
	handler := m.bargeInHandler
	m.interruptLocked(true)
	m.mu.Unlock()

	if handler != nil {
		go handler(participantID)
	}
}

// Playing implements audio.Mixer.
func (m *PriorityMixer) Playing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playing != nil
}

// SetGap implements audio.Mixer.
func (m *PriorityMixer) SetGap(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gap = d
}

// Close stops playback, drains the queue and stops the dispatch goroutine.
// It is idempotent.
func (m *PriorityMixer) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.interruptLocked(true)
	m.mu.Unlock()

	close(m.done)
	return nil
}

// interruptLocked must be called with m.mu held.
func (m *PriorityMixer) interruptLocked(clearQueue bool) {
	if m.cancelPlaying != nil {
		close(m.cancelPlaying)
		m.cancelPlaying = nil
	}
	m.playing = nil

	if clearQueue {
		for m.queue.Len() > 0 {
			e := heap.Pop(&m.queue).(entry)
			go audio.Drain(e.segment.Audio)
		}
	}
}

func (m *PriorityMixer) dispatch() {
	var played bool
	for {
		select {
		case <-m.done:
			return
		case <-m.notify:
		}

		for {
			seg, cancel, ok := m.dequeue()
			if !ok {
				break
			}
			if played && !m.wait(m.currentGap(), cancel) {
				go audio.Drain(seg.Audio)
				continue
			}

			m.play(seg, cancel)
			played = true

			m.mu.Lock()
			if m.playing == seg {
				m.playing = nil
				m.cancelPlaying = nil
			}
			m.mu.Unlock()
		}
	}
}

// wait sleeps for d. It returns false when interrupted or closed.
func (m *PriorityMixer) wait(d time.Duration, cancel <-chan struct{}) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-cancel:
		return false
	case <-m.done:
		return false
	}
}

func (m *PriorityMixer) currentGap() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gap
}

// dequeue pops the next segment and marks it as playing.
func (m *PriorityMixer) dequeue() (*audio.AudioSegment, chan struct{}, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.queue.Len() == 0 {
		return nil, nil, false
	}
	e := heap.Pop(&m.queue).(entry)
	cancel := make(chan struct{})
	m.playing = e.segment
	m.playingPri = e.priority
	m.cancelPlaying = cancel
	return e.segment, cancel, true
}

// play forwards seg until it ends or is interrupted.
func (m *PriorityMixer) play(seg *audio.AudioSegment, cancel chan struct{}) {
	var offset time.Duration
	bytesPerSecond := seg.SampleRate * seg.Channels * 2
	for {
		select {
		case <-m.done:
			go audio.Drain(seg.Audio)
			return
		case <-cancel:
			go audio.Drain(seg.Audio)
			return
		case chunk, ok := <-seg.Audio:
			if !ok {
				if err := seg.Err(); err != nil {
					slog.Warn("mixer: segment ended with error", "label", seg.Label, "err", err)
				}
				return
			}
			m.output(types.AudioFrame{
				Data:       chunk,
				SampleRate: seg.SampleRate,
				Channels:   seg.Channels,
				Timestamp:  offset,
			})
			offset += time.Duration(len(chunk)) * time.Second / time.Duration(bytesPerSecond)
		}
	}
}

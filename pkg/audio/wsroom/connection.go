package wsroom

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nwang783/just-in-case/pkg/audio"
	"github.com/nwang783/just-in-case/pkg/types"
)

const (
	outputBuffer = 64
	inputBuffer  = 64
	peerBuffer   = 128
)

var (
	// ErrDisconnected is returned when a peer joins a room the bot has left.
	ErrDisconnected = errors.New("wsroom: connection is disconnected")

	// ErrPeerExists is returned when a participant ID is already in use.
	ErrPeerExists = errors.New("wsroom: participant already connected")
)

// Peer is one participant's side of the room. The transport pushes received
// audio with Receive and writes everything from Outgoing to the participant.
type Peer struct {
	id       string
	name     string
	input    chan types.AudioFrame
	outgoing chan []byte
	done     chan struct{}
	format   audio.Format
	started  time.Time

	mu     sync.Mutex
	closed bool
}

// ID returns the participant ID.
func (p *Peer) ID() string { return p.id }

// Receive queues one chunk of participant PCM. It drops the chunk when the
// consumer is behind and returns false once the peer has left.
func (p *Peer) Receive(pcm []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	select {
	case p.input <- types.AudioFrame{
		Data:       pcm,
		SampleRate: p.format.SampleRate,
		Channels:   p.format.Channels,
		Timestamp:  time.Since(p.started),
	}:
	default:
	}
	return true
}

func (p *Peer) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.done)
	close(p.input)
}

// Outgoing delivers the bot's audio for this participant.
func (p *Peer) Outgoing() <-chan []byte { return p.outgoing }

// Done is closed when the peer is removed.
func (p *Peer) Done() <-chan struct{} { return p.done }

// Connection is the bot's presence in one room. It implements
// [audio.Connection].
type Connection struct {
	room     string
	format   audio.Format
	onClose  func()
	outputCh chan types.AudioFrame

	mu           sync.RWMutex
	peers        map[string]*Peer
	onChange     func(audio.Event)
	disconnected bool

	ctx    context.Context
	cancel context.CancelFunc
}

var _ audio.Connection = (*Connection)(nil)

func newConnection(room string, format audio.Format, onClose func()) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		room:     room,
		format:   format,
		onClose:  onClose,
		outputCh: make(chan types.AudioFrame, outputBuffer),
		peers:    make(map[string]*Peer),
		ctx:      ctx,
		cancel:   cancel,
	}
	go c.forwardOutput()
	return c
}

// Room returns the room name.
func (c *Connection) Room() string { return c.room }

// InputStreams implements audio.Connection.
func (c *Connection) InputStreams() map[string]<-chan types.AudioFrame {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap := make(map[string]<-chan types.AudioFrame, len(c.peers))
	for id, p := range c.peers {
		snap[id] = p.input
	}
	return snap
}

// OutputStream implements audio.Connection.
func (c *Connection) OutputStream() chan<- types.AudioFrame { return c.outputCh }

// OutputFormat implements audio.Connection.
func (c *Connection) OutputFormat() audio.Format { return c.format }

// OnParticipantChange implements audio.Connection.
func (c *Connection) OnParticipantChange(cb func(audio.Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = cb
}

// Participants returns the IDs of the connected participants.
func (c *Connection) Participants() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.peers))
	for id := range c.peers {
		ids = append(ids, id)
	}
	return ids
}

// Disconnect implements audio.Connection.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	if c.disconnected {
		c.mu.Unlock()
		return nil
	}
	c.disconnected = true
	c.cancel()
	for id, p := range c.peers {
		p.close()
		delete(c.peers, id)
	}
	c.mu.Unlock()

	if c.onClose != nil {
		c.onClose()
	}
	return nil
}

// AddPeer registers a participant and emits [audio.EventJoin].
func (c *Connection) AddPeer(id, name string) (*Peer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disconnected {
		return nil, ErrDisconnected
	}
	if _, ok := c.peers[id]; ok {
		return nil, fmt.Errorf("%w: %q in room %q", ErrPeerExists, id, c.room)
	}
	p := &Peer{
		id:       id,
		name:     name,
		input:    make(chan types.AudioFrame, inputBuffer),
		outgoing: make(chan []byte, peerBuffer),
		done:     make(chan struct{}),
		format:   c.format,
		started:  time.Now(),
	}
	c.peers[id] = p
	if cb := c.onChange; cb != nil {
		go cb(audio.Event{Type: audio.EventJoin, ParticipantID: id, Name: name})
	}
	return p, nil
}

// RemovePeer removes a participant, closes its input stream and emits
// [audio.EventLeave]. Removing an unknown participant is a no-op.
func (c *Connection) RemovePeer(id string) {
	c.mu.RLock()
	p := c.peers[id]
	c.mu.RUnlock()
	if p != nil {
		c.removePeer(p)
	}
}

// removePeer removes p unless a newer peer has taken over its ID.
func (c *Connection) removePeer(p *Peer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := p.id
	if c.peers[id] != p {
		return
	}
	p.close()
	delete(c.peers, id)
	if cb := c.onChange; cb != nil {
		go cb(audio.Event{Type: audio.EventLeave, ParticipantID: id, Name: p.name})
	}
}

// forwardOutput fans the bot's audio out to every peer. Frames in any other
// format are converted first. Slow peers lose frames rather than stall the
// room.
func (c *Connection) forwardOutput() {
	conv := audio.NewConverter("room output", c.format)
	for {
		select {
		case <-c.ctx.Done():
			return
		case frame := <-c.outputCh:
			frame, ok := conv.Convert(frame)
			if !ok {
				continue
			}
			c.mu.RLock()
			for _, p := range c.peers {
				select {
				case p.outgoing <- frame.Data:
				default:
				}
			}
			c.mu.RUnlock()
		}
	}
}

// Package mock provides in-memory implementations of [audio.Platform] and
// [audio.Connection] for unit tests.
//
//	conn := mock.NewConnection(audio.Format{SampleRate: 16000, Channels: 1})
//	in := conn.AddParticipant("candidate")
//	platform := &mock.Platform{ConnectResult: conn}
package mock

import (
	"context"
	"sync"

	"github.com/nwang783/just-in-case/pkg/audio"
	"github.com/nwang783/just-in-case/pkg/types"
)

// Connection is a mock implementation of [audio.Connection]. Frames written
// to OutputStream are collected and can be read with Output.
type Connection struct {
	mu       sync.Mutex
	format   audio.Format
	inputs   map[string]chan types.AudioFrame
	output   chan types.AudioFrame
	frames   []types.AudioFrame
	onChange func(audio.Event)
	done     chan struct{}
	closed   bool

	// DisconnectError is returned by Disconnect.
	DisconnectError error

	disconnects int
}

var _ audio.Connection = (*Connection)(nil)

// NewConnection returns a Connection with the given output format.
func NewConnection(format audio.Format) *Connection {
	c := &Connection{
		format: format,
		inputs: make(map[string]chan types.AudioFrame),
		output: make(chan types.AudioFrame, 256),
		done:   make(chan struct{}),
	}
	go c.collect()
	return c
}

func (c *Connection) collect() {
	for {
		select {
		case <-c.done:
			return
		case f := <-c.output:
			c.mu.Lock()
			c.frames = append(c.frames, f)
			c.mu.Unlock()
		}
	}
}

// AddParticipant creates an input stream and fires EventJoin synchronously.
// The returned channel is owned by the test; close it to end the stream.
func (c *Connection) AddParticipant(id string) chan types.AudioFrame {
	ch := make(chan types.AudioFrame, 256)
	c.mu.Lock()
	c.inputs[id] = ch
	cb := c.onChange
	c.mu.Unlock()
	if cb != nil {
		cb(audio.Event{Type: audio.EventJoin, ParticipantID: id})
	}
	return ch
}

// RemoveParticipant drops the stream and fires EventLeave synchronously.
func (c *Connection) RemoveParticipant(id string) {
	c.mu.Lock()
	delete(c.inputs, id)
	cb := c.onChange
	c.mu.Unlock()
	if cb != nil {
		cb(audio.Event{Type: audio.EventLeave, ParticipantID: id})
	}
}

// InputStreams implements audio.Connection.
func (c *Connection) InputStreams() map[string]<-chan types.AudioFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]<-chan types.AudioFrame, len(c.inputs))
	for id, ch := range c.inputs {
		out[id] = ch
	}
	return out
}

// OutputStream implements audio.Connection.
func (c *Connection) OutputStream() chan<- types.AudioFrame { return c.output }

// OutputFormat implements audio.Connection.
func (c *Connection) OutputFormat() audio.Format { return c.format }

// OnParticipantChange implements audio.Connection.
func (c *Connection) OnParticipantChange(cb func(audio.Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = cb
}

// Disconnect implements audio.Connection.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnects++
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	return c.DisconnectError
}

// Output returns the frames written to OutputStream so far.
func (c *Connection) Output() []types.AudioFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.AudioFrame(nil), c.frames...)
}

// Disconnects returns how often Disconnect was called.
func (c *Connection) Disconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnects
}

// Platform is a mock implementation of [audio.Platform].
type Platform struct {
	mu sync.Mutex

	ConnectResult audio.Connection
	ConnectError  error

	rooms []string
}

var _ audio.Platform = (*Platform)(nil)

// Connect records roomName and returns ConnectResult, ConnectError.
func (p *Platform) Connect(_ context.Context, roomName string) (audio.Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rooms = append(p.rooms, roomName)
	return p.ConnectResult, p.ConnectError
}

// Rooms returns every room passed to Connect.
func (p *Platform) Rooms() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.rooms...)
}

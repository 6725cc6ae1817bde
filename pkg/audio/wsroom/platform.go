// Package wsroom provides an [audio.Platform] whose rooms are joined over
// WebSocket. The bot joins a room with Connect; the candidate's browser
// joins the same room through the handler returned by [Platform.Handler],
// sending 16-bit PCM as binary messages and receiving the bot's voice the
// same way.
package wsroom

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/nwang783/just-in-case/pkg/audio"
)

// ErrRoomInUse is returned by Connect when a bot is already in the room.
var ErrRoomInUse = errors.New("wsroom: room already has a bot")

var _ audio.Platform = (*Platform)(nil)

// Option configures a [Platform].
type Option func(*Platform)

// WithFormat sets the PCM format spoken on the wire. Defaults to 16 kHz mono.
func WithFormat(f audio.Format) Option {
	return func(p *Platform) { p.format = f }
}

// WithOriginPatterns sets the browser origins allowed to open a socket.
func WithOriginPatterns(patterns ...string) Option {
	return func(p *Platform) { p.originPatterns = patterns }
}

// Platform tracks the rooms the bot is currently in.
type Platform struct {
	format         audio.Format
	originPatterns []string

	mu    sync.Mutex
	rooms map[string]*Connection
}

// New creates a Platform.
func New(opts ...Option) *Platform {
	p := &Platform{
		format: audio.PipelineFormat,
		rooms:  make(map[string]*Connection),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Connect implements audio.Platform.
func (p *Platform) Connect(_ context.Context, roomName string) (audio.Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.rooms[roomName]; ok {
		return nil, fmt.Errorf("%w: %q", ErrRoomInUse, roomName)
	}
	var conn *Connection
	conn = newConnection(roomName, p.format, func() { p.release(roomName, conn) })
	p.rooms[roomName] = conn
	return conn, nil
}

func (p *Platform) release(roomName string, conn *Connection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rooms[roomName] == conn {
		delete(p.rooms, roomName)
	}
}

func (p *Platform) room(name string) (*Connection, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.rooms[name]
	return c, ok
}

// Handler serves the participant side of a room:
//
//	GET /rooms/{room}/audio?participant=<id>&name=<display name>
//
// The room must have a bot in it. A missing participant ID is generated.
func (p *Platform) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /rooms/{room}/audio", p.serveAudio)
	return mux
}

func (p *Platform) serveAudio(w http.ResponseWriter, r *http.Request) {
	roomName := r.PathValue("room")
	conn, ok := p.room(roomName)
	if !ok {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}

	id := r.URL.Query().Get("participant")
	if id == "" {
		id = uuid.NewString()
	}
	peer, err := conn.AddPeer(id, r.URL.Query().Get("name"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	defer conn.removePeer(peer)

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: p.originPatterns})
	if err != nil {
		slog.Warn("wsroom: accept failed", "room", roomName, "participant", id, "err", err)
		return
	}
	defer ws.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-peer.Done():
				return
			case pcm := <-peer.Outgoing():
				if err := ws.Write(ctx, websocket.MessageBinary, pcm); err != nil {
					return
				}
			}
		}
	}()

	slog.Info("participant joined room", "room", roomName, "participant", id)
	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			break
		}
		if typ != websocket.MessageBinary {
			continue
		}
		if !peer.Receive(data) {
			break
		}
	}
	slog.Info("participant left room", "room", roomName, "participant", id)
	ws.Close(websocket.StatusNormalClosure, "")
}

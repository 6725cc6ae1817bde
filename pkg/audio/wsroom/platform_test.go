package wsroom

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/nwang783/just-in-case/pkg/audio"
	"github.com/nwang783/just-in-case/pkg/types"
)

func waitEvent(t *testing.T, ch <-chan audio.Event) audio.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for participant event")
		return audio.Event{}
	}
}

func waitStream(t *testing.T, conn audio.Connection, id string) <-chan types.AudioFrame {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ch, ok := conn.InputStreams()[id]; ok {
			return ch
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no input stream for %q", id)
	return nil
}

func TestPlatform_ConnectTwice(t *testing.T) {
	p := New()
	conn, err := p.Connect(context.Background(), "case-coach-1")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if _, err := p.Connect(context.Background(), "case-coach-1"); !errors.Is(err, ErrRoomInUse) {
		t.Fatalf("second Connect err = %v, want ErrRoomInUse", err)
	}
	if err := conn.Disconnect(); err != nil {
		t.Fatal(err)
	}
	if err := conn.Disconnect(); err != nil {
		t.Fatalf("second Disconnect: %v", err)
	}
	again, err := p.Connect(context.Background(), "case-coach-1")
	if err != nil {
		t.Fatalf("Connect after Disconnect: %v", err)
	}
	_ = again.Disconnect()
}

func TestConnection_Peers(t *testing.T) {
	p := New()
	raw, err := p.Connect(context.Background(), "room")
	if err != nil {
		t.Fatal(err)
	}
	conn := raw.(*Connection)
	t.Cleanup(func() { _ = conn.Disconnect() })

	events := make(chan audio.Event, 4)
	conn.OnParticipantChange(func(ev audio.Event) { events <- ev })

	peer, err := conn.AddPeer("candidate", "Ada")
	if err != nil {
		t.Fatalf("AddPeer: %v", err)
	}
	if ev := waitEvent(t, events); ev.Type != audio.EventJoin || ev.ParticipantID != "candidate" || ev.Name != "Ada" {
		t.Errorf("join event = %+v", ev)
	}
	if _, err := conn.AddPeer("candidate", ""); !errors.Is(err, ErrPeerExists) {
		t.Errorf("duplicate AddPeer err = %v", err)
	}

	in := conn.InputStreams()["candidate"]
	if !peer.Receive([]byte{1, 2}) {
		t.Fatal("Receive returned false for live peer")
	}
	frame := <-in
	if frame.SampleRate != 16000 || frame.Channels != 1 || len(frame.Data) != 2 {
		t.Errorf("frame = %+v", frame)
	}

	conn.RemovePeer("candidate")
	if ev := waitEvent(t, events); ev.Type != audio.EventLeave {
		t.Errorf("leave event = %+v", ev)
	}
	if _, ok := <-in; ok {
		t.Error("input stream should be closed after leave")
	}
	if peer.Receive([]byte{1, 2}) {
		t.Error("Receive should fail after leave")
	}
}

func TestConnection_OutputConvertsFormat(t *testing.T) {
	p := New(WithFormat(audio.Format{SampleRate: 16000, Channels: 2}))
	raw, _ := p.Connect(context.Background(), "room")
	conn := raw.(*Connection)
	t.Cleanup(func() { _ = conn.Disconnect() })

	peer, err := conn.AddPeer("candidate", "")
	if err != nil {
		t.Fatal(err)
	}
	conn.OutputStream() <- types.AudioFrame{Data: []byte{1, 0, 2, 0}, SampleRate: 16000, Channels: 1}

	select {
	case pcm := <-peer.Outgoing():
		if len(pcm) != 8 {
			t.Errorf("stereo output is %d bytes, want 8", len(pcm))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no output delivered")
	}
}

func TestHandler_RoundTrip(t *testing.T) {
	p := New()
	srv := httptest.NewServer(p.Handler())
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Without a bot in the room the upgrade is refused.
	_, resp, err := websocket.Dial(ctx, wsURL+"/rooms/empty/audio", nil)
	if err == nil {
		t.Fatal("expected dial to fail for a room without a bot")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %v, want 404", resp)
	}

	bot, err := p.Connect(ctx, "case-room")
	if err != nil {
		t.Fatal(err)
	}
	defer bot.Disconnect()
	events := make(chan audio.Event, 4)
	bot.OnParticipantChange(func(ev audio.Event) { events <- ev })

	client, _, err := websocket.Dial(ctx, wsURL+"/rooms/case-room/audio?participant=cand-1&name=Ada", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.CloseNow()
	waitEvent(t, events)

	in := waitStream(t, bot, "cand-1")
	if err := client.Write(ctx, websocket.MessageBinary, []byte{9, 9, 9, 9}); err != nil {
		t.Fatal(err)
	}
	select {
	case frame := <-in:
		if len(frame.Data) != 4 {
			t.Errorf("frame data = %v", frame.Data)
		}
	case <-ctx.Done():
		t.Fatal("no input frame")
	}

	bot.OutputStream() <- types.AudioFrame{Data: []byte{5, 0, 6, 0}, SampleRate: 16000, Channels: 1}
	typ, data, err := client.Read(ctx)
	if err != nil {
		t.Fatalf("client Read: %v", err)
	}
	if typ != websocket.MessageBinary || len(data) != 4 {
		t.Errorf("client got %v %v", typ, data)
	}

	client.Close(websocket.StatusNormalClosure, "")
	if ev := waitEvent(t, events); ev.Type != audio.EventLeave || ev.ParticipantID != "cand-1" {
		t.Errorf("leave event = %+v", ev)
	}
}

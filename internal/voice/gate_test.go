package voice

import (
	"errors"
	"testing"

	vadmock "github.com/nwang783/just-in-case/pkg/provider/vad/mock"
	"github.com/nwang783/just-in-case/pkg/types"
)

func TestGate_ForwardsSpeechWithPreroll(t *testing.T) {
	sess := &vadmock.Session{
		Events: []types.VADEvent{
			{Type: types.VADSilence},
			{Type: types.VADSpeechStart},
			{Type: types.VADSpeechContinue},
			{Type: types.VADSpeechEnd},
			{Type: types.VADSilence},
		},
		Fallback: types.VADEvent{Type: types.VADSilence},
	}
	a := &Agent{cfg: Config{VAD: &vadmock.Engine{Session: sess}}}
	g, err := a.newGate()
	if err != nil {
		t.Fatalf("newGate: %v", err)
	}
	defer g.close()

	const frame = 640 // 20 ms at 16 kHz mono
	pcm := make([]byte, 5*frame)
	for i := range 5 {
		pcm[i*frame] = byte(i + 1)
	}

	starts := 0
	out := g.push(pcm, func() { starts++ })
	if starts != 1 {
		t.Errorf("onStart called %d times, want 1", starts)
	}
	if len(out) != 4 {
		t.Fatalf("forwarded %d frames, want 4", len(out))
	}
	for i, f := range out {
		if len(f) != frame {
			t.Errorf("frame %d has %d bytes", i, len(f))
		}
		if f[0] != byte(i+1) {
			t.Errorf("frame %d out of order: marker %d", i, f[0])
		}
	}
}

func TestGate_PrerollBounded(t *testing.T) {
	sess := &vadmock.Session{Fallback: types.VADEvent{Type: types.VADSilence}}
	a := &Agent{cfg: Config{VAD: &vadmock.Engine{Session: sess}}}
	g, err := a.newGate()
	if err != nil {
		t.Fatal(err)
	}
	if out := g.push(make([]byte, 640*50), nil); len(out) != 0 {
		t.Errorf("silence forwarded %d frames", len(out))
	}
	if len(g.preroll) != g.maxRoll {
		t.Errorf("preroll = %d frames, want %d", len(g.preroll), g.maxRoll)
	}
}

func TestGate_Disabled(t *testing.T) {
	a := &Agent{}
	g, err := a.newGate()
	if err != nil || g != nil {
		t.Errorf("newGate without engine = %v, %v", g, err)
	}
}

func TestGate_EngineError(t *testing.T) {
	a := &Agent{cfg: Config{VAD: &vadmock.Engine{NewSessionErr: errors.New("no model")}}}
	if _, err := a.newGate(); err == nil {
		t.Error("expected error")
	}
}

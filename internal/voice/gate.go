package voice

import (
	"fmt"

	"github.com/nwang783/just-in-case/pkg/audio"
	"github.com/nwang783/just-in-case/pkg/provider/vad"
	"github.com/nwang783/just-in-case/pkg/types"
)

// gate decides which audio reaches STT. Frames are forwarded while the VAD
// reports speech. The frames seen while speech was still being confirmed are
// kept in a short pre-roll and released together with the start event, so
// the first syllables are not lost.
type gate struct {
	framer  *audio.Framer
	vad     vad.SessionHandle
	preroll [][]byte
	maxRoll int
}

func (a *Agent) newGate() (*gate, error) {
	if a.cfg.VAD == nil {
		return nil, nil
	}
	cfg := a.cfg.VADConfig.WithDefaults()
	cfg.SampleRate = audio.PipelineFormat.SampleRate
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sess, err := a.cfg.VAD.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("start vad: %w", err)
	}
	return &gate{
		framer:  audio.NewFramer(cfg.FrameBytes()),
		vad:     sess,
		maxRoll: int(cfg.StartDelay.Milliseconds())/cfg.FrameSizeMs + 1,
	}, nil
}

// push returns the chunks of pcm that should be sent to STT. onStart runs
// when the VAD confirms the start of speech.
func (g *gate) push(pcm []byte, onStart func()) [][]byte {
	var out [][]byte
	for _, frame := range g.framer.Push(pcm) {
		ev, err := g.vad.ProcessFrame(frame)
		if err != nil {
			continue
		}
		switch ev.Type {
		case types.VADSpeechStart:
			if onStart != nil {
				onStart()
			}
			out = append(out, g.preroll...)
			g.preroll = g.preroll[:0]
			out = append(out, frame)
		case types.VADSpeechContinue, types.VADSpeechEnd:
			out = append(out, frame)
		default:
			g.preroll = append(g.preroll, frame)
			if len(g.preroll) > g.maxRoll {
				g.preroll = g.preroll[1:]
			}
		}
	}
	return out
}

func (g *gate) close() {
	g.vad.Close()
}

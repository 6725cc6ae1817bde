package audio

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nwang783/just-in-case/pkg/types"
)

// All PCM handled here is little-endian signed 16-bit with channels
// interleaved.
const bytesPerSample = 2

// PipelineFormat is what the interviewer works in end to end: browser rooms
// send it, Deepgram transcribes it as linear16, and synthesised speech is
// brought back to it before mixing.
var PipelineFormat = Format{SampleRate: 16000, Channels: 1}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Valid reports whether f describes a playable stream.
func (f Format) Valid() bool {
	return f.SampleRate > 0 && f.Channels > 0
}

// String returns e.g. "16000Hz mono".
func (f Format) String() string {
	switch f.Channels {
	case 1:
		return fmt.Sprintf("%dHz mono", f.SampleRate)
	case 2:
		return fmt.Sprintf("%dHz stereo", f.SampleRate)
	}
	return fmt.Sprintf("%dHz %dch", f.SampleRate, f.Channels)
}

// FrameBytes returns the byte length of d worth of audio in f.
func (f Format) FrameBytes(d time.Duration) int {
	samples := int64(f.SampleRate) * int64(d) / int64(time.Second)
	return int(samples) * f.Channels * bytesPerSample
}

// Duration returns the playback time of n bytes of audio in f.
func (f Format) Duration(n int) time.Duration {
	if !f.Valid() {
		return 0
	}
	samples := int64(n / (f.Channels * bytesPerSample))
	return time.Duration(samples * int64(time.Second) / int64(f.SampleRate))
}

func frameFormat(f types.AudioFrame) Format {
	return Format{SampleRate: f.SampleRate, Channels: f.Channels}
}

// Converter brings frames of any format to a fixed target. One Converter
// serves one stream and must not be shared between goroutines.
type Converter struct {
	name    string
	target  Format
	warned  sync.Once
	dropped atomic.Int64
}

// NewConverter returns a converter to target. name labels its log lines,
// e.g. "stt input" or "room output".
func NewConverter(name string, target Format) *Converter {
	return &Converter{name: name, target: target}
}

// Target returns the format frames are converted to.
func (c *Converter) Target() Format { return c.target }

// Dropped returns how many frames were discarded as unconvertible.
func (c *Converter) Dropped() int64 { return c.dropped.Load() }

// Convert returns frame in the target format. ok is false when the frame has
// no valid format, is not aligned to whole samples, or resamples to nothing;
// such frames are counted and should be skipped. A frame already in the
// target format is returned as is.
func (c *Converter) Convert(frame types.AudioFrame) (out types.AudioFrame, ok bool) {
	src := frameFormat(frame)
	if !src.Valid() || len(frame.Data)%(src.Channels*bytesPerSample) != 0 {
		c.dropped.Add(1)
		return types.AudioFrame{}, false
	}
	if src == c.target {
		return frame, len(frame.Data) > 0
	}

	c.warned.Do(func() {
		slog.Info("audio: converting stream", "stream", c.name, "from", src.String(), "to", c.target.String())
	})

	pcm := frame.Data
	// Fewer channels first so the resampler touches less data.
	if c.target.Channels < src.Channels {
		pcm = Remix(pcm, src.Channels, c.target.Channels)
		pcm = Resample(pcm, c.target.Channels, src.SampleRate, c.target.SampleRate)
	} else {
		pcm = Resample(pcm, src.Channels, src.SampleRate, c.target.SampleRate)
		pcm = Remix(pcm, src.Channels, c.target.Channels)
	}
	if len(pcm) == 0 {
		c.dropped.Add(1)
		return types.AudioFrame{}, false
	}
	return types.AudioFrame{
		Data:       pcm,
		SampleRate: c.target.SampleRate,
		Channels:   c.target.Channels,
		Timestamp:  frame.Timestamp,
	}, true
}

// ConvertStream converts every frame of in to target on its own goroutine.
// Unconvertible frames are skipped. The returned channel has the same buffer
// size as in and is closed after in is.
func ConvertStream(name string, in <-chan types.AudioFrame, target Format) <-chan types.AudioFrame {
	out := make(chan types.AudioFrame, cap(in))
	go func() {
		defer close(out)
		conv := NewConverter(name, target)
		for frame := range in {
			if f, ok := conv.Convert(frame); ok {
				out <- f
			}
		}
		if n := conv.Dropped(); n > 0 {
			slog.Warn("audio: dropped unconvertible frames", "stream", name, "frames", n)
		}
	}()
	return out
}

// Remix changes the channel count of interleaved pcm. Going to mono averages
// every channel of a frame; going from mono copies the sample to each
// channel. Other layouts pass through mono.
func Remix(pcm []byte, from, to int) []byte {
	if from == to || from <= 0 || to <= 0 {
		return pcm
	}
	if from != 1 && to != 1 {
		return Remix(Remix(pcm, from, 1), 1, to)
	}

	frames := len(pcm) / (from * bytesPerSample)
	out := make([]byte, frames*to*bytesPerSample)
	for i := range frames {
		if to == 1 {
			var sum int32
			for ch := range from {
				sum += int32(sampleAt(pcm, i*from+ch))
			}
			putSample(out, i, clamp16(sum/int32(from)))
			continue
		}
		s := sampleAt(pcm, i)
		for ch := range to {
			putSample(out, i*to+ch, s)
		}
	}
	return out
}

// Resample converts interleaved pcm with the given channel count from
// srcRate to dstRate by linear interpolation. Non-positive rates and equal
// rates return pcm unchanged.
func Resample(pcm []byte, channels, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || channels <= 0 || srcRate == dstRate {
		return pcm
	}
	srcFrames := len(pcm) / (channels * bytesPerSample)
	if srcFrames == 0 {
		return nil
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*channels*bytesPerSample)
	step := float64(srcRate) / float64(dstRate)
	for i := range dstFrames {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)
		next := min(idx+1, srcFrames-1)
		for ch := range channels {
			s0 := float64(sampleAt(pcm, idx*channels+ch))
			s1 := float64(sampleAt(pcm, next*channels+ch))
			putSample(out, i*channels+ch, int16(s0+(s1-s0)*frac))
		}
	}
	return out
}

func sampleAt(pcm []byte, i int) int16 {
	return int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
}

func putSample(pcm []byte, i int, s int16) {
	pcm[i*2] = byte(s)
	pcm[i*2+1] = byte(s >> 8)
}

func clamp16(v int32) int16 {
	return int16(max(-32768, min(32767, v)))
}

package audio

// Framer re-chunks a PCM byte stream into fixed-size frames. Transports
// deliver packets of whatever size the network produced; VAD needs exact
// frame lengths.
//
// A Framer is not safe for concurrent use.
type Framer struct {
	size int
	buf  []byte
}

// NewFramer returns a Framer emitting frames of size bytes. size is rounded
// up to an even number so frames never split a 16-bit sample.
func NewFramer(size int) *Framer {
	if size%2 != 0 {
		size++
	}
	return &Framer{size: size, buf: make([]byte, 0, size*2)}
}

// Size returns the frame size in bytes.
func (f *Framer) Size() int { return f.size }

// Push appends pcm and returns every complete frame now available. The
// returned frames do not alias pcm.
func (f *Framer) Push(pcm []byte) [][]byte {
	f.buf = append(f.buf, pcm...)
	var frames [][]byte
	for len(f.buf) >= f.size {
		frame := make([]byte, f.size)
		copy(frame, f.buf[:f.size])
		frames = append(frames, frame)
		f.buf = f.buf[f.size:]
	}
	// Compact so the buffer does not grow without bound.
	if len(f.buf) > 0 && cap(f.buf)-len(f.buf) < f.size {
		rest := make([]byte, len(f.buf), f.size*2)
		copy(rest, f.buf)
		f.buf = rest
	}
	return frames
}

// Pending returns the number of buffered bytes not yet emitted.
func (f *Framer) Pending() int { return len(f.buf) }

// Reset discards buffered bytes.
func (f *Framer) Reset() { f.buf = f.buf[:0] }

package audio

// CaptureBuffer accumulates raw capture samples and cuts them into
// fixed-duration [Frame] values on demand. It is not safe for concurrent
// use; the voice pipeline owns one per capture stream and is the only
// writer and reader.
type CaptureBuffer struct {
	sampleRate int
	samples    []float32
}

// NewCaptureBuffer creates a buffer for the given sample rate.
func NewCaptureBuffer(sampleRate int) *CaptureBuffer {
	return &CaptureBuffer{sampleRate: sampleRate}
}

// Push appends captured samples to the buffer.
func (b *CaptureBuffer) Push(samples []float32) {
	b.samples = append(b.samples, samples...)
}

// Len returns the number of buffered samples.
func (b *CaptureBuffer) Len() int { return len(b.samples) }

// Clear drops all buffered samples. Called when the pipeline mutes so a
// later unmute does not replay stale audio.
func (b *CaptureBuffer) Clear() { b.samples = b.samples[:0] }

// ReadNextFrames drains the buffer into frames, greedily taking the
// largest class the remaining samples can fill. Draining stops once fewer
// samples remain than the smallest frame class needs; those stay buffered
// for the next call. Returns nil when no complete frame is available.
func (b *CaptureBuffer) ReadNextFrames() []Frame {
	var frames []Frame
	for {
		frame, ok := b.cutLargest()
		if !ok {
			return frames
		}
		frames = append(frames, frame)
	}
}

// cutLargest removes the largest frame the buffer can satisfy.
func (b *CaptureBuffer) cutLargest() (Frame, bool) {
	for _, class := range FrameClasses {
		n := class.Samples(b.sampleRate)
		if n == 0 || len(b.samples) < n {
			continue
		}
		data := make([]float32, n)
		copy(data, b.samples[:n])
		b.samples = b.samples[:copy(b.samples, b.samples[n:])]
		return Frame{Data: data, Class: class}, true
	}
	return Frame{}, false
}

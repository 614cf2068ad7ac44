package dsp

import "fmt"

// Frame is one fixed-length slice of the analysis signal. Data is owned by
// whoever is processing the frame and is transformed in place.
type Frame struct {
	Index  int
	Offset int // start offset in samples
	Data   []complex128
}

// Time returns the frame start in seconds.
func (f Frame) Time(sampleRate int) float64 {
	return float64(f.Offset) / float64(sampleRate)
}

// Framer slices an incrementally supplied sample sequence into frames.
//
// With pad set (only valid when hop == length) the final partial frame is
// zero-padded on Flush; otherwise incomplete trailing windows are dropped.
type Framer struct {
	length int
	hop    int
	pad    bool
	window []float64

	buf    []float64
	offset int
	index  int
}

// NewFramer validates the geometry and returns an empty framer.
func NewFramer(length, hop int, window []float64, pad bool) (*Framer, error) {
	if length < 1 {
		return nil, fmt.Errorf("frame length must be positive, got %d", length)
	}
	if hop < 1 || hop > length {
		return nil, fmt.Errorf("hop must be in [1, %d], got %d", length, hop)
	}
	if pad && hop != length {
		return nil, fmt.Errorf("padding requires non-overlapping frames (hop %d != length %d)", hop, length)
	}
	if window != nil && len(window) != length {
		return nil, fmt.Errorf("window length %d does not match frame length %d", len(window), length)
	}
	return &Framer{
		length: length,
		hop:    hop,
		pad:    pad,
		window: window,
		buf:    make([]float64, 0, 2*length),
	}, nil
}

// Push appends samples and emits every frame that is now complete, in order.
func (f *Framer) Push(samples []float64, emit func(Frame) error) error {
	f.buf = append(f.buf, samples...)

	start := 0
	for len(f.buf)-start >= f.length {
		if err := emit(f.build(f.buf[start : start+f.length])); err != nil {
			return err
		}
		start += f.hop
		f.offset += f.hop
	}

	if start > 0 {
		n := copy(f.buf, f.buf[start:])
		f.buf = f.buf[:n]
	}
	return nil
}

// Flush emits the zero-padded tail frame when padding is enabled and
// resets the buffer.
func (f *Framer) Flush(emit func(Frame) error) error {
	defer func() { f.buf = f.buf[:0] }()
	if !f.pad || len(f.buf) == 0 {
		return nil
	}
	fr := f.build(f.buf)
	f.offset += f.hop
	return emit(fr)
}

// Emitted returns the number of frames produced so far.
func (f *Framer) Emitted() int { return f.index }

func (f *Framer) build(src []float64) Frame {
	data := make([]complex128, f.length)
	if f.window == nil {
		for i, s := range src {
			data[i] = complex(s, 0)
		}
	} else {
		for i, s := range src {
			data[i] = complex(s*f.window[i], 0)
		}
	}
	fr := Frame{Index: f.index, Offset: f.offset, Data: data}
	f.index++
	return fr
}

// Frames slices a complete sample sequence in one call.
func Frames(samples []float64, length, hop int, window []float64, pad bool) ([]Frame, error) {
	f, err := NewFramer(length, hop, window, pad)
	if err != nil {
		return nil, err
	}
	frames := make([]Frame, 0, FrameCount(len(samples), length, hop, pad))
	collect := func(fr Frame) error {
		frames = append(frames, fr)
		return nil
	}
	if err := f.Push(samples, collect); err != nil {
		return nil, err
	}
	if err := f.Flush(collect); err != nil {
		return nil, err
	}
	return frames, nil
}

// FrameCount is the number of frames produced for n samples:
// ceil(n/length) when padding, floor((n-length)/hop)+1 otherwise (0 if n < length).
func FrameCount(n, length, hop int, pad bool) int {
	if pad {
		return (n + length - 1) / length
	}
	if n < length {
		return 0
	}
	return (n-length)/hop + 1
}

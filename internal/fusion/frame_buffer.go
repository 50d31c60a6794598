package fusion

// FrameBuffer is a fixed-capacity ring of frames. The pipeline only ever
// needs the last two, so a capacity of 2 is typical; older frames are
// overwritten and released.
type FrameBuffer struct {
	frames   []*Frame
	capacity int
	head     int // next write position
	size     int
}

// NewFrameBuffer creates a buffer holding at most capacity frames.
func NewFrameBuffer(capacity int) *FrameBuffer {
	if capacity < 2 {
		capacity = 2
	}
	return &FrameBuffer{
		frames:   make([]*Frame, capacity),
		capacity: capacity,
	}
}

// Push stores a frame, overwriting the oldest when full.
func (fb *FrameBuffer) Push(f *Frame) {
	fb.frames[fb.head] = f
	fb.head = (fb.head + 1) % fb.capacity
	if fb.size < fb.capacity {
		fb.size++
	}
}

// Previous returns the frame n steps back from the most recent.
// Previous(1) is the most recently pushed frame. Returns nil if absent.
func (fb *FrameBuffer) Previous(n int) *Frame {
	if n < 1 || n > fb.size {
		return nil
	}
	idx := (fb.head - n + fb.capacity) % fb.capacity
	return fb.frames[idx]
}

// Pair returns the two most recent frames as (previous, current).
// ok is false until two frames have been pushed.
func (fb *FrameBuffer) Pair() (prev, curr *Frame, ok bool) {
	if fb.size < 2 {
		return nil, nil, false
	}
	return fb.Previous(2), fb.Previous(1), true
}

// Size returns the number of frames currently held.
func (fb *FrameBuffer) Size() int {
	return fb.size
}

// Clear drops all frames.
func (fb *FrameBuffer) Clear() {
	for i := range fb.frames {
		fb.frames[i] = nil
	}
	fb.head = 0
	fb.size = 0
}

// TimeDeltaSeconds returns the timestamp difference between the two most
// recent frames, or 0 if either is missing or has no timestamp.
func (fb *FrameBuffer) TimeDeltaSeconds() float64 {
	prev, curr, ok := fb.Pair()
	if !ok || prev.Timestamp.IsZero() || curr.Timestamp.IsZero() {
		return 0
	}
	return curr.Timestamp.Sub(prev.Timestamp).Seconds()
}

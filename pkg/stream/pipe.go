package stream

// Packet is one isochronous packet of a frame list.
type Packet struct {
	Offset int
	// Length is the number of bytes requested or queued.
	Length int
	// Actual is the number of bytes transferred.
	Actual int
	Err    error
}

// FrameList is one isochronous transfer: FramesPerList consecutive USB frames with one packet
// each, backed by a single buffer.
type FrameList struct {
	Index int
	// Frame is the USB frame of the first packet.
	Frame   uint64
	Buffer  []byte
	Packets []Packet
}

// Data returns the bytes transferred in packet i.
func (l *FrameList) Data(i int) []byte {
	p := l.Packets[i]
	return l.Buffer[p.Offset : p.Offset+p.Actual]
}

// Pipe is an isochronous endpoint. Submit must not block; done is invoked once per
// submission, from any goroutine, when the list completes or is cancelled. A stalled
// endpoint completes with an error wrapping ErrPipeStalled.
type Pipe interface {
	Submit(l *FrameList, done func(*FrameList, error)) error
	Cancel() error
	ClearHalt() error
	// FrameNumber is the current frame of the bus the pipe is on.
	FrameNumber() (uint64, error)
}

package timing

// FrameCounter reads the USB frame number of the bus the device is on.
type FrameCounter interface {
	FrameNumber() (uint64, error)
}

// WallClock reads host time in nanoseconds. It must be monotonic.
type WallClock interface {
	Now() uint64
}

// HostClock is the host monotonic clock.
type HostClock struct{}

func (HostClock) Now() uint64 {
	return now()
}

// Package stream moves audio between a ring buffer and an isochronous pipe. Output streams
// read packets out of the ring as frame lists complete; input streams coalesce completed
// packets into the ring and convert them on demand.
package stream

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/go-audio/audio"
	"github.com/kevmo314/go-uac/pkg/descriptors"
	"github.com/kevmo314/go-uac/pkg/requests"
)

var (
	ErrSampleUnderrun = errors.New("sample underrun")
	ErrPipeStalled    = errors.New("pipe stalled")
	ErrNotRunning     = errors.New("stream not running")
	ErrBadFeedback    = errors.New("feedback value out of range")
)

const (
	DefaultNumLists      = 4
	DefaultFramesPerList = 8
)

type Config struct {
	Direction  descriptors.Direction
	Format     WireFormat
	SampleRate uint32
	// PacketsPerSecond is the service rate of the endpoint, 1000 at full speed.
	PacketsPerSecond uint32
	MaxPacketSize    int
	NumLists         int
	FramesPerList    int
	// BufferSize overrides the half second ring.
	BufferSize int
	// AlternateFrameSize is the largest packet in bytes. It sizes the UHCI mirror.
	AlternateFrameSize int
	UHCI               bool
	StartDelayOffset   uint64
	// SampleOffset and Latency are the sample frames a publisher keeps between its position
	// and the stream's, so a non-master stream tracks its engine's master.
	SampleOffset uint32
	Latency      uint32
}

// Wrap is a pass of the ring cursor over the start of the buffer, stamped with the host time
// of the USB frame it happened in.
type Wrap struct {
	Loops uint64
	Frame uint64
	Wall  uint64
}

// Clock maps USB frames to host time. *timing.Timer satisfies it.
type Clock interface {
	Predict(frame uint64) (uint64, error)
}

// Filter processes interleaved samples in place.
type Filter func(samples []float32, channels int)

type Option func(*Stream)

func WithLogger(l *slog.Logger) Option {
	return func(s *Stream) { s.logger = l }
}

func WithFilter(f Filter) Option {
	return func(s *Stream) { s.filter = f }
}

// WithWrapHandler receives the time stamps of the master stream.
func WithWrapHandler(fn func(Wrap)) Option {
	return func(s *Stream) { s.onWrap = fn }
}

type Stream struct {
	cfg    Config
	pipe   Pipe
	clock  Clock
	logger *slog.Logger
	filter Filter
	onWrap func(Wrap)

	bpf  int
	size int
	buf  []byte

	mu        sync.Mutex
	running   bool
	master    bool
	lists     []*FrameList
	cursor    int
	loops     uint64
	nextFrame uint64
	lastFrame uint64
	rateAcc   uint64
	fbAcc     uint32
	feedback  uint32
	pending   []*FrameList
	stalled   []*FrameList
	wraps     []Wrap

	stallPending atomic.Bool
	// coalesce serialises moving completed input packets into the ring against conversion.
	coalesce sync.Mutex
}

func New(cfg Config, pipe Pipe, clock Clock, opts ...Option) (*Stream, error) {
	if err := cfg.Format.validate(); err != nil {
		return nil, err
	}
	if cfg.SampleRate == 0 {
		return nil, fmt.Errorf("sample rate of zero")
	}
	if cfg.PacketsPerSecond == 0 {
		cfg.PacketsPerSecond = 1000
	}
	if cfg.NumLists <= 0 {
		cfg.NumLists = DefaultNumLists
	}
	if cfg.FramesPerList <= 0 {
		cfg.FramesPerList = DefaultFramesPerList
	}
	bpf := cfg.Format.BytesPerFrame()
	if cfg.AlternateFrameSize <= 0 {
		perPacket := (cfg.SampleRate + cfg.PacketsPerSecond - 1) / cfg.PacketsPerSecond
		cfg.AlternateFrameSize = int(perPacket+1) * bpf
	}
	if cfg.MaxPacketSize <= 0 {
		cfg.MaxPacketSize = cfg.AlternateFrameSize
	}
	size := cfg.BufferSize
	if size <= 0 {
		size = bufferSize(cfg.SampleRate, bpf, os.Getpagesize())
	}
	size -= size % bpf
	if size < cfg.AlternateFrameSize {
		return nil, fmt.Errorf("ring of %d bytes is smaller than one packet", size)
	}
	s := &Stream{
		cfg:    cfg,
		pipe:   pipe,
		clock:  clock,
		logger: slog.Default(),
		bpf:    bpf,
		size:   size,
	}
	if cfg.UHCI {
		s.buf = make([]byte, size+cfg.AlternateFrameSize)
	} else {
		s.buf = make([]byte, size)
	}
	for i := 0; i < cfg.NumLists; i++ {
		s.lists = append(s.lists, &FrameList{
			Index:   i,
			Buffer:  make([]byte, cfg.FramesPerList*cfg.MaxPacketSize),
			Packets: make([]Packet, cfg.FramesPerList),
		})
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "stream", "direction", cfg.Direction)
	return s, nil
}

// bufferSize is half a second of audio rounded up to two pages, in whole sample frames.
func bufferSize(rate uint32, bpf, page int) int {
	size := int(rate/2) * bpf
	unit := 2 * page
	size = (size + unit - 1) / unit * unit
	return size - size%bpf
}

func (s *Stream) Config() Config { return s.cfg }

// BufferSize is the logical size of the ring in bytes.
func (s *Stream) BufferSize() int { return s.size }

// SampleBuffer returns the ring including the UHCI mirror area past its logical end.
func (s *Stream) SampleBuffer() []byte { return s.buf }

func (s *Stream) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// SetMaster selects whether this stream's wraps produce time stamps.
func (s *Stream) SetMaster(master bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.master = master
}

func (s *Stream) Master() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.master
}

// Position returns the ring cursor and the number of completed passes over the ring.
func (s *Stream) Position() (cursor int, loops uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor, s.loops
}

// LastFrame is the frame after the most recent completion.
func (s *Stream) LastFrame() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFrame
}

// Start queues every frame list, the first one StartDelayOffset frames from now. The master
// stream stamps the start of the ring.
func (s *Stream) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	frame, err := s.pipe.FrameNumber()
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("read frame number: %w", err)
	}
	s.nextFrame = frame + s.cfg.StartDelayOffset
	s.lastFrame = s.nextFrame
	s.cursor, s.loops, s.rateAcc, s.fbAcc = 0, 0, 0, 0
	s.pending, s.stalled, s.wraps = nil, nil, nil
	s.stallPending.Store(false)
	s.running = true
	if s.master {
		s.wraps = append(s.wraps, Wrap{Frame: s.nextFrame})
	}
	for _, l := range s.lists {
		s.prepare(l)
	}
	wraps := s.takeWraps()
	s.mu.Unlock()

	s.emit(wraps)
	for _, l := range s.lists {
		if err := s.pipe.Submit(l, s.HandleCompletion); err != nil {
			_ = s.Stop()
			return fmt.Errorf("submit frame list %d: %w", l.Index, err)
		}
	}
	s.logger.Debug("stream started", "frame", frame, "rate", s.cfg.SampleRate, "buffer", s.size)
	return nil
}

// Stop cancels outstanding frame lists and drains pending coalescence.
func (s *Stream) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	err := s.pipe.Cancel()

	s.coalesce.Lock()
	s.mu.Lock()
	s.pending, s.stalled = nil, nil
	s.stallPending.Store(false)
	s.mu.Unlock()
	s.coalesce.Unlock()
	s.logger.Debug("stream stopped")
	return err
}

// prepare assigns the next frames to a list and, for output, fills its packets from the ring.
func (s *Stream) prepare(l *FrameList) {
	l.Frame = s.nextFrame
	s.nextFrame += uint64(len(l.Packets))
	if s.cfg.Direction == descriptors.DirectionIn {
		for i := range l.Packets {
			l.Packets[i] = Packet{Offset: i * s.cfg.MaxPacketSize, Length: s.cfg.MaxPacketSize}
		}
		return
	}
	limit := s.cfg.MaxPacketSize / s.bpf
	off := 0
	for i := range l.Packets {
		n := min(s.packetFrames(), limit) * s.bpf
		l.Packets[i] = Packet{Offset: off, Length: n, Actual: n}
		s.readRing(l.Buffer[off:off+n], l.Frame+uint64(i))
		off += n
	}
}

// packetFrames is the number of sample frames in the next outbound packet, following the
// feedback endpoint when there is one.
func (s *Stream) packetFrames() int {
	if s.feedback != 0 {
		s.fbAcc += s.feedback
		n := s.fbAcc >> 16
		s.fbAcc &= 0xFFFF
		return int(n)
	}
	pps := uint64(s.cfg.PacketsPerSecond)
	s.rateAcc += uint64(s.cfg.SampleRate)
	n := s.rateAcc / pps
	s.rateAcc %= pps
	return int(n)
}

func (s *Stream) readRing(dst []byte, frame uint64) {
	for len(dst) > 0 {
		n := copy(dst, s.buf[s.cursor:s.size])
		dst = dst[n:]
		s.advance(n, frame)
	}
}

func (s *Stream) writeRing(src []byte, frame uint64) {
	for len(src) > 0 {
		n := copy(s.buf[s.cursor:s.size], src)
		src = src[n:]
		s.advance(n, frame)
	}
}

func (s *Stream) advance(n int, frame uint64) {
	s.cursor += n
	if s.cursor < s.size {
		return
	}
	s.cursor = 0
	s.loops++
	if s.master {
		s.wraps = append(s.wraps, Wrap{Loops: s.loops, Frame: frame})
	}
}

func (s *Stream) takeWraps() []Wrap {
	w := s.wraps
	s.wraps = nil
	return w
}

// emit stamps wraps with host time. It runs without s.mu held.
func (s *Stream) emit(wraps []Wrap) {
	if s.onWrap == nil {
		return
	}
	for _, w := range wraps {
		wall, err := s.clock.Predict(w.Frame)
		if err != nil {
			s.logger.Debug("wrap not stamped", "frame", w.Frame, "error", err)
			continue
		}
		w.Wall = wall
		s.onWrap(w)
	}
}

func (s *Stream) submit(l *FrameList) {
	if err := s.pipe.Submit(l, s.HandleCompletion); err != nil {
		s.logger.Warn("frame list resubmit failed", "list", l.Index, "error", err)
		s.mu.Lock()
		s.stalled = append(s.stalled, l)
		s.mu.Unlock()
		s.stallPending.Store(true)
	}
}

// HandleCompletion is the completion callback of every frame list. It never blocks on the
// coalescence lock and never clears a stall itself.
func (s *Stream) HandleCompletion(l *FrameList, err error) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	if errors.Is(err, ErrPipeStalled) {
		s.stalled = append(s.stalled, l)
		s.mu.Unlock()
		s.stallPending.Store(true)
		return
	}
	if err != nil {
		s.logger.Warn("frame list failed", "list", l.Index, "frame", l.Frame, "error", err)
	}
	s.lastFrame = l.Frame + uint64(len(l.Packets))

	if s.cfg.Direction == descriptors.DirectionIn && err == nil {
		s.pending = append(s.pending, l)
		s.mu.Unlock()
		if s.coalesce.TryLock() {
			s.coalesceLocked()
			s.coalesce.Unlock()
		}
		return
	}

	s.prepare(l)
	wraps := s.takeWraps()
	s.mu.Unlock()
	s.emit(wraps)
	s.submit(l)
}

// coalesceLocked moves completed input packets into the ring and requeues their lists. The
// caller holds s.coalesce.
func (s *Stream) coalesceLocked() {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	if !s.running {
		s.mu.Unlock()
		return
	}
	for _, l := range pending {
		for i := range l.Packets {
			if l.Packets[i].Err == nil {
				s.writeRing(l.Data(i), l.Frame+uint64(i))
			}
		}
		s.prepare(l)
	}
	wraps := s.takeWraps()
	s.mu.Unlock()

	s.emit(wraps)
	for _, l := range pending {
		s.submit(l)
	}
}

// CoalesceLag is the number of USB frames of completed input not yet in the ring.
func (s *Stream) CoalesceLag() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	lag := 0
	for _, l := range s.pending {
		lag += len(l.Packets)
	}
	return lag
}

// Coalesce moves every completed input packet into the ring.
func (s *Stream) Coalesce() {
	s.coalesce.Lock()
	defer s.coalesce.Unlock()
	s.coalesceLocked()
}

// inFlight reports whether the byte before end may still be owned by the pipe. The caller
// holds s.mu.
func (s *Stream) inFlight(end int) bool {
	window := min(s.cfg.NumLists*s.cfg.FramesPerList*s.cfg.MaxPacketSize, s.size-1)
	d := ((end-s.cursor-1)%s.size + s.size) % s.size
	return d < window
}

// ClipOutputSamples writes numSampleFrames interleaved frames from mix into the ring starting
// at sample frame firstSampleFrame, clipping at full scale.
func (s *Stream) ClipOutputSamples(mix *audio.Float32Buffer, firstSampleFrame, numSampleFrames int) error {
	ch := s.cfg.Format.Channels
	if mix == nil || len(mix.Data) < numSampleFrames*ch {
		return fmt.Errorf("mix buffer holds fewer than %d frames", numSampleFrames)
	}
	samples := mix.Data[:numSampleFrames*ch]
	if s.filter != nil {
		s.filter(samples, ch)
	}
	frames := s.size / s.bpf
	sub := s.cfg.Format.SubframeSize

	s.mu.Lock()
	defer s.mu.Unlock()
	for k := 0; k < numSampleFrames; k++ {
		at := ((firstSampleFrame + k) % frames) * s.bpf
		for c := 0; c < ch; c++ {
			s.cfg.Format.encode(s.buf[at+c*sub:], samples[k*ch+c])
		}
	}
	if s.cfg.UHCI {
		start := (firstSampleFrame % frames) * s.bpf
		n := numSampleFrames * s.bpf
		s.mirror(start, n)
		if start+n > s.size {
			s.mirror(0, start+n-s.size)
		}
	}
	return nil
}

// mirror copies the part of [start, start+n) that lies within the first alternate frame to
// just past the logical end of the ring, where a UHCI controller's read-ahead finds it.
func (s *Stream) mirror(start, n int) {
	alt := s.cfg.AlternateFrameSize
	if start >= alt {
		return
	}
	end := min(start+n, alt)
	copy(s.buf[s.size+start:s.size+end], s.buf[start:end])
}

// ConvertInputSamples decodes numSampleFrames frames starting at firstSampleFrame into dst.
// When the range reaches into data the pipe may still own, completed packets are coalesced
// first; ErrSampleUnderrun means the data has not arrived.
func (s *Stream) ConvertInputSamples(dst *audio.Float32Buffer, firstSampleFrame, numSampleFrames int) error {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		return ErrNotRunning
	}
	frames := s.size / s.bpf
	end := ((firstSampleFrame + numSampleFrames) % frames) * s.bpf

	s.mu.Lock()
	late := s.inFlight(end)
	s.mu.Unlock()
	if late {
		s.coalesce.Lock()
		s.coalesceLocked()
		s.mu.Lock()
		late = s.inFlight(end)
		s.mu.Unlock()
		s.coalesce.Unlock()
		if late {
			return fmt.Errorf("%w: frames %d+%d", ErrSampleUnderrun, firstSampleFrame, numSampleFrames)
		}
	}

	ch := s.cfg.Format.Channels
	if cap(dst.Data) < numSampleFrames*ch {
		dst.Data = make([]float32, numSampleFrames*ch)
	}
	dst.Data = dst.Data[:numSampleFrames*ch]
	dst.Format = &audio.Format{NumChannels: ch, SampleRate: int(s.cfg.SampleRate)}
	dst.SourceBitDepth = s.cfg.Format.bits()
	sub := s.cfg.Format.SubframeSize

	s.mu.Lock()
	for k := 0; k < numSampleFrames; k++ {
		at := ((firstSampleFrame + k) % frames) * s.bpf
		for c := 0; c < ch; c++ {
			dst.Data[k*ch+c] = s.cfg.Format.decode(s.buf[at+c*sub:])
		}
	}
	s.mu.Unlock()

	if s.filter != nil {
		s.filter(dst.Data, ch)
	}
	return nil
}

// HandleFeedback takes one packet from the feedback endpoint: 10.14 in three bytes at full
// speed or 16.16 in four bytes at high speed, in samples per packet.
func (s *Stream) HandleFeedback(data []byte) error {
	var v uint32
	switch len(data) {
	case 3:
		v = requests.Uint24(data) << 2
	case 4:
		v = binary.LittleEndian.Uint32(data)
	default:
		return fmt.Errorf("%w: %d byte feedback packet", ErrBadFeedback, len(data))
	}
	nominal := uint32(uint64(s.cfg.SampleRate) << 16 / uint64(s.cfg.PacketsPerSecond))
	if v < nominal-nominal/4 || v > nominal+nominal/4 {
		return fmt.Errorf("%w: 0x%08x against nominal 0x%08x", ErrBadFeedback, v, nominal)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.feedback == 0 {
		s.feedback = v
	} else {
		s.feedback = s.feedback - s.feedback/8 + v/8
	}
	return nil
}

// AverageSampleRate is the device rate reported through feedback, in Hz, or the nominal rate.
func (s *Stream) AverageSampleRate() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.feedback == 0 {
		return s.cfg.SampleRate
	}
	return uint32(uint64(s.feedback) * uint64(s.cfg.PacketsPerSecond) >> 16)
}

// StallPending reports a stall waiting for RecoverStall.
func (s *Stream) StallPending() bool {
	return s.stallPending.Load()
}

// RecoverStall clears a stalled pipe and requeues the lists that stalled. It runs on the
// polled task, never from a completion.
func (s *Stream) RecoverStall() error {
	if !s.stallPending.Swap(false) {
		return nil
	}
	if err := s.pipe.ClearHalt(); err != nil {
		s.stallPending.Store(true)
		return fmt.Errorf("clear halt: %w", err)
	}
	s.mu.Lock()
	lists := s.stalled
	s.stalled = nil
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	if frame, err := s.pipe.FrameNumber(); err == nil && frame+s.cfg.StartDelayOffset > s.nextFrame {
		s.nextFrame = frame + s.cfg.StartDelayOffset
	}
	for _, l := range lists {
		s.prepare(l)
	}
	wraps := s.takeWraps()
	s.mu.Unlock()

	s.emit(wraps)
	for _, l := range lists {
		s.submit(l)
	}
	s.logger.Info("pipe stall cleared", "lists", len(lists))
	return nil
}

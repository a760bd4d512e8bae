package transfers

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kevmo314/go-uac/pkg/requests"
)

var (
	// ErrDeviceNotResponding is returned once every retry of a control request has failed.
	ErrDeviceNotResponding = errors.New("device not responding")
	ErrShortTransfer       = errors.New("short control transfer")
)

// ControlTransferer issues control transfers on endpoint zero. *usb.DeviceHandle satisfies it.
type ControlTransferer interface {
	ControlTransfer(requestType, request uint8, value, index uint16, data []byte, timeout time.Duration) (int, error)
}

const (
	DefaultRetries    = 5
	DefaultRetryDelay = time.Millisecond
	DefaultTimeout    = time.Second
)

// Requester serialises every class request on the audio control interface and retries failed
// requests.
type Requester struct {
	dev        ControlTransferer
	iface      uint8
	retries    int
	retryDelay time.Duration
	timeout    time.Duration
	logger     *slog.Logger

	mu sync.Mutex
}

type RequesterOption func(*Requester)

func WithRetries(n int, delay time.Duration) RequesterOption {
	return func(r *Requester) {
		r.retries = n
		r.retryDelay = delay
	}
}

func WithTimeout(d time.Duration) RequesterOption {
	return func(r *Requester) { r.timeout = d }
}

func WithLogger(l *slog.Logger) RequesterOption {
	return func(r *Requester) { r.logger = l }
}

func NewRequester(dev ControlTransferer, controlInterface uint8, opts ...RequesterOption) *Requester {
	r := &Requester{
		dev:        dev,
		iface:      controlInterface,
		retries:    DefaultRetries,
		retryDelay: DefaultRetryDelay,
		timeout:    DefaultTimeout,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "requester")
	return r
}

// Interface is the audio control interface number used in wIndex.
func (r *Requester) Interface() uint8 {
	return r.iface
}

// Do issues req, retrying on failure.
func (r *Requester) Do(req requests.Request, data []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.do(req, data)
}

func (r *Requester) do(req requests.Request, data []byte) (int, error) {
	var lastErr error
	for attempt := 0; attempt < max(r.retries, 1); attempt++ {
		n, err := r.dev.ControlTransfer(uint8(req.RequestType), uint8(req.Request), req.Value, req.Index, data, r.timeout)
		if err == nil {
			return n, nil
		}
		lastErr = err
		r.logger.Debug("control request failed", "request", req.String(), "attempt", attempt+1, "error", err)
		if attempt+1 < r.retries {
			time.Sleep(r.retryDelay)
		}
	}
	return 0, fmt.Errorf("%w: %s: %w", ErrDeviceNotResponding, req, lastErr)
}

// get reads exactly len(data) bytes.
func (r *Requester) get(req requests.Request, data []byte) error {
	n, err := r.Do(req, data)
	if err != nil {
		return err
	}
	if n < len(data) {
		return fmt.Errorf("%w: %s: got %d of %d bytes", ErrShortTransfer, req, n, len(data))
	}
	return nil
}

func (r *Requester) set(req requests.Request, data []byte) error {
	_, err := r.Do(req, data)
	return err
}

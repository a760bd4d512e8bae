package controls

import (
	"errors"
	"fmt"
	"maps"

	"github.com/kevmo314/go-uac/pkg/descriptors"
	"github.com/kevmo314/go-uac/pkg/requests"
)

// HandleStatus applies a status interrupt. UAC1 messages with the pending bit are
// acknowledged first. While a format change is in progress control-interface messages are
// held back until EndFormatChange.
func (s *Surface) HandleStatus(msg requests.StatusMessage) error {
	if s.model.Protocol == descriptors.ProtocolUAC1 && msg.Pending {
		if err := s.dev.AcknowledgeStatus(msg.Originator); err != nil {
			s.logger.Warn("status acknowledge failed", "originator", msg.Originator, "error", err)
		}
	}
	if msg.VendorSpecific {
		return nil
	}
	if msg.Origin != requests.StatusOriginControlInterface {
		s.logger.Debug("status ignored", "message", msg)
		return nil
	}

	s.mu.Lock()
	if s.state == stateFormatChange {
		s.queued = append(s.queued, msg)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	return s.dispatch(msg)
}

func (s *Surface) dispatch(msg requests.StatusMessage) error {
	if s.model.SubType(msg.Originator).IsClock() {
		if s.onClock != nil {
			s.onClock(msg)
		}
		return nil
	}
	s.logger.Debug("status", "message", msg)
	return s.Refresh(msg.Originator)
}

// BeginFormatChange remembers every control value. Devices commonly reset their controls
// when an interface changes alternate setting.
func (s *Surface) BeginFormatChange() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateFormatChange {
		return errors.New("format change already in progress")
	}
	s.state = stateFormatChange
	s.saved = make(map[Key]int32, len(s.controls))
	for k, c := range s.controls {
		s.saved[k] = c.Value
	}
	return nil
}

// EndFormatChange writes back any control the device lost during the change, then applies
// the status messages held back meanwhile.
func (s *Surface) EndFormatChange() error {
	s.mu.Lock()
	if s.state != stateFormatChange {
		s.mu.Unlock()
		return nil
	}
	var errs []error
	restored := 0
	for _, k := range s.order {
		want, ok := s.saved[k]
		if !ok {
			continue
		}
		c := s.controls[k]
		got, err := s.read(c)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", k, err))
			continue
		}
		if got == want {
			continue
		}
		if err := s.write(c, want); err != nil {
			errs = append(errs, fmt.Errorf("restore %s: %w", k, err))
			c.Value = got
			continue
		}
		restored++
	}
	queued := s.queued
	s.queued = nil
	s.saved = nil
	s.state = stateIdle
	s.mu.Unlock()

	if restored > 0 {
		s.logger.Info("controls restored after format change", "count", restored)
	}
	for _, msg := range dedupe(queued) {
		if err := s.dispatch(msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FormatChangeInProgress reports whether status messages are being held back.
func (s *Surface) FormatChangeInProgress() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateFormatChange
}

// Saved returns the values remembered by BeginFormatChange.
func (s *Surface) Saved() map[Key]int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.saved)
}

// dedupe keeps the first message per originator; a refresh reads every control of a unit.
func dedupe(msgs []requests.StatusMessage) []requests.StatusMessage {
	seen := map[uint8]bool{}
	var out []requests.StatusMessage
	for _, m := range msgs {
		if seen[m.Originator] {
			continue
		}
		seen[m.Originator] = true
		out = append(out, m)
	}
	return out
}

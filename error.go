package uac

import "errors"

var (
	ErrNoAudioFunction = errors.New("no audio function")
	ErrClosed          = errors.New("driver closed")
	ErrNoSuchStream    = errors.New("no such stream")
	ErrNoSuchEngine    = errors.New("no such engine")
	ErrAsleep          = errors.New("driver asleep")
)

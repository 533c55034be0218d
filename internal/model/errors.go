package model

import "errors"

// Fault kinds. None of them stop the monitor; they are wrapped with context
// and matched with errors.Is.
var (
	ErrConfiguration   = errors.New("configuration error")
	ErrFrameDecode     = errors.New("frame decode error")
	ErrRegionBounds    = errors.New("region out of frame bounds")
	ErrBackgroundModel = errors.New("background model fault")
)

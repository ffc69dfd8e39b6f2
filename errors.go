package gostore

import "github.com/AmrMurad1/gostore/shared"

var (
	ErrCorruptRun    = shared.ErrCorruptRun
	ErrCorruptWAL    = shared.ErrCorruptWAL
	ErrInvalidValue  = shared.ErrInvalidValue
	ErrValueTooLarge = shared.ErrValueTooLarge
	ErrClosed        = shared.ErrClosed
)

package gostore

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/AmrMurad1/gostore/shared"
	"github.com/AmrMurad1/gostore/vfs"
)

type Options struct {
	FS     vfs.FS
	Logger *slog.Logger

	// MaxRunBytes is the byte budget of the memtable and of every sorted
	// run. It must leave room for at least one entry after the fixed run
	// overhead.
	MaxRunBytes uint64

	DisableWAL bool

	// SyncWAL fsyncs the log after every write.
	SyncWAL bool

	RecoveryConcurrency int
}

func DefaultOptions() Options {
	return Options{
		FS:                  vfs.Default(),
		Logger:              slog.Default(),
		MaxRunBytes:         shared.MaxRunBytes,
		RecoveryConcurrency: 8,
	}
}

func (o Options) validate() error {
	if o.FS == nil {
		return errors.New("options: FS is required")
	}
	if o.Logger == nil {
		return errors.New("options: Logger is required")
	}
	minBytes := shared.Footprint(1, 1)
	if o.MaxRunBytes < minBytes {
		return fmt.Errorf("options: MaxRunBytes %d is below the minimum of %d", o.MaxRunBytes, minBytes)
	}
	if o.MaxRunBytes-shared.RunOverhead > math.MaxUint32 {
		return fmt.Errorf("options: MaxRunBytes %d leaves value offsets beyond 32 bits", o.MaxRunBytes)
	}
	if o.RecoveryConcurrency < 1 {
		return fmt.Errorf("options: RecoveryConcurrency must be positive, got %d", o.RecoveryConcurrency)
	}
	return nil
}

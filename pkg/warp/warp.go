// Package warp batches per-sample image warps and dispatches them to a
// compute device.
//
// A batch is N samples, each with its own input image, requested output size,
// interpolation mode and mapping parameters. Engine.Setup classifies the batch:
// when every sample asks for the same output size it runs in uniform mode, a
// fixed grid of units laid over every sample; otherwise it runs in variable
// mode, where each output is cut into bounded tiles so that device occupancy
// follows the total amount of work rather than the largest sample.
// Engine.Run stages the descriptors into a per-batch scratchpad and launches the
// matching kernel on the caller's stream.
//
// The coordinate mapping and the border policy are type parameters of Engine,
// fixed for the lifetime of an engine.
package warp

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/pkg/errors"
)

// ErrPrecondition marks caller contract violations: count or shape mismatches,
// non-positive extents, Run without a matching Setup. They are never retried.
var ErrPrecondition = errors.New("warp: precondition failed")

func preconditionf(format string, args ...any) error {
	return errors.Wrapf(ErrPrecondition, format, args...)
}

type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(slog.New(nopHandler{}))
}

func slogger() *slog.Logger { return loggerPtr.Load() }

// SetLogger configures the logger for the warp package. By default nothing
// is logged; plans, staging and launches are logged at debug level.
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(nopHandler{})
	}
	loggerPtr.Store(l)
}

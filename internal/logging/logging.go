// Package logging builds the root zerolog.Logger the rest of the server
// threads through constructors, mirroring how autobrr-qui's services each
// take a zerolog.Logger field rather than reaching for a package-global.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
)

// Options controls the root logger's verbosity, set from the CLI flags
// spec.md §6 names for the server entry point.
type Options struct {
	// Trace enables debug-level logging (--trace).
	Trace bool
	// TraceError additionally includes stack traces on error-level
	// records (--trace-error), consumed by internal/srverr's
	// pkg/errors-wrapped causes.
	TraceError bool
	Writer     io.Writer // defaults to os.Stderr
}

// New builds the root logger. Named child loggers for Server, Worker,
// Processor, and the meta registry are derived from it via .With().
func New(opts Options) zerolog.Logger {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}

	level := zerolog.InfoLevel
	if opts.Trace {
		level = zerolog.DebugLevel
	}

	zerolog.TimeFieldFormat = time.RFC3339

	if opts.TraceError {
		zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
	}

	console := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	ctx := zerolog.New(console).Level(level).With().Timestamp()
	if opts.TraceError {
		ctx = ctx.Stack()
	}
	return ctx.Logger()
}

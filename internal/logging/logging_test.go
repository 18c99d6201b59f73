package logging

import (
	"bytes"
	"testing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultsToInfoLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Writer: &buf})

	log.Debug().Msg("should not appear")
	require.Empty(t, buf.String())

	log.Info().Msg("should appear")
	require.Contains(t, buf.String(), "should appear")
}

func TestNewTraceEnablesDebugLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Writer: &buf, Trace: true})

	log.Debug().Msg("now visible")
	require.Contains(t, buf.String(), "now visible")
}

func TestNewTraceErrorIncludesStack(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Writer: &buf, TraceError: true})
	t.Cleanup(func() { zerolog.ErrorStackMarshaler = nil })

	err := errors.New("boom")
	log.Error().Stack().Err(err).Msg("failed")
	require.Contains(t, buf.String(), "boom")
}

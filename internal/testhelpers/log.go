package testhelpers

import (
	"bytes"
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SetupLogger routes the global logger to the test output for the duration of
// the test.
func SetupLogger(t *testing.T) {
	t.Helper()

	routeLogger(t, zerolog.NewTestWriter(t))
}

// CaptureLogs behaves like SetupLogger, and also collects every log line as
// JSON in the returned buffer.
func CaptureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()

	buf := &bytes.Buffer{}
	routeLogger(t, zerolog.MultiLevelWriter(zerolog.NewTestWriter(t), buf))

	return buf
}

func routeLogger(t *testing.T, w io.Writer) {
	// capture the current global logger so it can be restored on test completion.
	globalLogger := log.Logger
	t.Cleanup(func() {
		log.Logger = globalLogger
		zerolog.DefaultContextLogger = nil
	})

	log.Logger = log.
		Output(w).
		Level(zerolog.DebugLevel)

	// unless set, the context logger will not log anything
	zerolog.DefaultContextLogger = &log.Logger
}

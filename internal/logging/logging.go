package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup configures the global zerolog logger for CLI use. Debug lowers the
// level threshold to Debug; otherwise Info.
func Setup(debug bool) {
	SetupWriter(os.Stderr, debug)
}

// SetupWriter configures the global logger against an explicit writer.
func SetupWriter(w io.Writer, debug bool) {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	console := zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	log.Logger = zerolog.New(console).With().Timestamp().Logger()
}

package observability

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	loggerMu     sync.Mutex
	globalLogger zerolog.Logger
	initialized  bool
)

// InitLogger configures the process-wide structured logger. Later calls are ignored.
func InitLogger(level string, pretty bool) {
	InitLoggerTo(os.Stdout, level, pretty)
}

func InitLoggerTo(out io.Writer, level string, pretty bool) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if initialized {
		return
	}

	zerolog.SetGlobalLevel(parseLevel(level))

	if pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	globalLogger = zerolog.New(out).With().Timestamp().Logger()
	log.Logger = globalLogger
	initialized = true
}

// Logger returns the global logger, initializing it with defaults if needed.
func Logger() zerolog.Logger {
	loggerMu.Lock()
	ready := initialized
	loggerMu.Unlock()
	if !ready {
		InitLogger("info", false)
	}
	return globalLogger
}

// Component returns a logger tagged with the owning component name.
func Component(name string) zerolog.Logger {
	return Logger().With().Str("component", name).Logger()
}

// WithCallID tags a logger with a call identifier, generating one when empty.
func WithCallID(l zerolog.Logger, callID string) zerolog.Logger {
	if callID == "" {
		callID = NewCallID()
	}
	return l.With().Str("call_id", callID).Logger()
}

func NewCallID() string {
	return uuid.NewString()
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

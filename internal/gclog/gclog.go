// Package gclog provides the sub-logger used across mdrecorder: a thin
// subsystem-tagged wrapper over zerolog matching the call shape
// log.Infof(Subsystem, fmt, args...) rather than zerolog's native chaining.
package gclog

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Subsystem tags a logical component for filtering and correlation.
type Subsystem string

const (
	Recorder    Subsystem = "recorder"
	Replayer    Subsystem = "replayer"
	WebsocketMgr Subsystem = "websocket"
	SyncEngine  Subsystem = "sync"
	Adapter     Subsystem = "adapter"
	Persistence Subsystem = "persist"
	Relay       Subsystem = "relay"
	ConfigMgr   Subsystem = "config"
)

var (
	mu      sync.RWMutex
	base    zerolog.Logger
	verbose = false
)

func init() {
	base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
}

// SetOutput redirects all subsystem logging to w, e.g. a file during tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	base = zerolog.New(w).With().Timestamp().Logger()
}

// SetVerbose toggles Debugf emission globally.
func SetVerbose(v bool) {
	mu.Lock()
	defer mu.Unlock()
	verbose = v
}

func sub(s Subsystem) zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base.With().Str("subsystem", string(s)).Logger()
}

func Infof(s Subsystem, format string, args ...interface{}) {
	sub(s).Info().Msgf(format, args...)
}

func Warnf(s Subsystem, format string, args ...interface{}) {
	sub(s).Warn().Msgf(format, args...)
}

func Errorf(s Subsystem, format string, args ...interface{}) {
	sub(s).Error().Msgf(format, args...)
}

func Debugf(s Subsystem, format string, args ...interface{}) {
	mu.RLock()
	v := verbose
	mu.RUnlock()
	if !v {
		return
	}
	sub(s).Debug().Msgf(format, args...)
}

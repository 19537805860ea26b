// Package alog provides category-scoped structured loggers for the
// acme-love client, built on zerolog. Logging is silent (warn-and-above)
// by default; set DEBUG to a comma-separated list of categories
// (nonce, http, challenge, client, validator, main, ratelimit, order, ...)
// to enable debug-level output for just those categories, or to "*" to
// enable it for all of them. No other environment variable is read.
package alog

import (
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Logger is a category-scoped zerolog.Logger. Embedding the concrete type
// (rather than wrapping it) keeps the zerolog call chain (Debug().Str(...)
// .Msg(...)) usable as-is throughout the client.
type Logger struct {
	zerolog.Logger
}

var (
	once       sync.Once
	level      zerolog.Level
	base       zerolog.Logger
	debugCats  map[string]bool
	overridden bool
)

func initGlobal() {
	level = zerolog.WarnLevel
	debugCats = parseDebugEnv(os.Getenv("DEBUG"))
	base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		Level(level).
		With().
		Timestamp().
		Logger()
}

// parseDebugEnv splits a comma-separated category allowlist, trimming
// whitespace around each entry and dropping empty ones. "*" is kept as a
// literal entry meaning "every category".
func parseDebugEnv(v string) map[string]bool {
	cats := make(map[string]bool)
	for _, c := range strings.Split(v, ",") {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		cats[c] = true
	}
	return cats
}

// For returns a Logger scoped to the given category, e.g. "nonce",
// "http", "order". The category is attached as a "component" field so
// log lines from different subsystems can be filtered, and also gates
// debug-level output: a category only logs at debug level if DEBUG lists
// it explicitly or lists "*".
func For(category string) Logger {
	once.Do(initGlobal)
	l := base.With().Str("component", category).Logger()
	if !overridden && (debugCats["*"] || debugCats[category]) {
		l = l.Level(zerolog.DebugLevel)
	}
	return Logger{l}
}

// SetLevel overrides the process-wide minimum log level for every
// category, for callers that want a specific verbosity without going
// through DEBUG (e.g. in tests). It takes precedence over DEBUG's
// per-category gating for any Logger obtained afterward.
func SetLevel(l zerolog.Level) {
	once.Do(initGlobal)
	level = l
	base = base.Level(l)
	overridden = true
}

package loader

import (
	"log"

	"github.com/xyproto/env/v2"
)

// EnvDebug gates verbose logging when no explicit Logger is supplied to
// Config: set PRIVLOAD_DEBUG=1 to get loader.Verbosef output on
// log.Default() instead of a silently discarding logger.
const EnvDebug = "PRIVLOAD_DEBUG"

// EnvSystemRoot overrides the registry-derived system root (§4.D step 1),
// for host-side tests that supply a fake hostiface.Registry but still want
// to exercise the real directory-join logic against a known value.
const EnvSystemRoot = "PRIVLOAD_SYSTEMROOT"

func defaultLoggerFromEnv(l Logger) Logger {
	if l != nil {
		return l
	}
	if env.Bool(EnvDebug) {
		return NewStdLogger(log.Default())
	}
	return logOf(nil)
}

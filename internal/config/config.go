// Package config resolves the toolkit's environment-overridable
// defaults: the external tool paths, the profiler's report interval
// and log path, and env-based verbosity toggles. It follows the same
// override-by-environment-variable convention the teacher's
// dependencies.go uses for its FLAPC_<NAME> variables, but unlike
// the teacher, which declares github.com/xyproto/env/v2 in go.mod and
// never imports it, actually uses the library for the lookups.
package config

import (
	"time"

	env "github.com/xyproto/env/v2"
)

const (
	envObjdump        = "LCITK_OBJDUMP"
	envHexdump        = "LCITK_HEXDUMP"
	envReportInterval = "LCITK_REPORT_INTERVAL_SECONDS"
	envMallocLog      = "LCITK_MALLOC_LOG"
	envVerbose        = "LCITK_VERBOSE"
	envQuiet          = "LCITK_QUIET"

	defaultObjdumpPath = "/usr/bin/objdump"
	defaultHexdumpPath = "/usr/bin/hexdump"
	defaultMallocLog   = "/tmp/malloc-log"
)

// DefaultReportInterval matches original_source/heap.c's ten-minute
// check_should_report threshold.
const DefaultReportInterval = 10 * time.Minute

// ObjdumpPath returns the path to the objdump binary, overridable via
// LCITK_OBJDUMP.
func ObjdumpPath() string {
	return env.Str(envObjdump, defaultObjdumpPath)
}

// HexdumpPath returns the path to the hexdump binary, overridable via
// LCITK_HEXDUMP.
func HexdumpPath() string {
	return env.Str(envHexdump, defaultHexdumpPath)
}

// MallocLogPath returns the well-known path the injected heap profiler
// appends its reports to, overridable via LCITK_MALLOC_LOG.
func MallocLogPath() string {
	return env.Str(envMallocLog, defaultMallocLog)
}

// ReportInterval returns the profiler's periodic-report threshold,
// overridable (in whole seconds) via LCITK_REPORT_INTERVAL_SECONDS.
func ReportInterval() time.Duration {
	seconds := env.Int(envReportInterval, int(DefaultReportInterval/time.Second))
	if seconds <= 0 {
		return DefaultReportInterval
	}
	return time.Duration(seconds) * time.Second
}

// VerboseFromEnv reports whether LCITK_VERBOSE asks for verbose logging,
// for callers that want an environment-based alternative to -verbose.
func VerboseFromEnv() bool {
	return env.Bool(envVerbose)
}

// QuietFromEnv reports whether LCITK_QUIET asks for quiet logging.
func QuietFromEnv() bool {
	return env.Bool(envQuiet)
}

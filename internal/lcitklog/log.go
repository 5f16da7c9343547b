// Package lcitklog provides the diagnostic logging convention shared by
// every LCITK package: a pair of package-level verbosity flags checked
// before writing to stderr, rather than a structured logging library.
package lcitklog

import (
	"fmt"
	"os"
)

// Verbose, when true, makes Printf/Println write to stderr.
var Verbose = false

// Quiet, when true, suppresses Printf/Println even if Verbose is set.
// Quiet wins over Verbose, matching the teacher's QuietMode/VerboseMode
// precedence in main.go.
var Quiet = false

// Printf writes a diagnostic line to stderr if Verbose is set and Quiet is not.
func Printf(format string, args ...any) {
	if Quiet || !Verbose {
		return
	}
	fmt.Fprintf(os.Stderr, format, args...)
}

// Println writes a diagnostic line to stderr if Verbose is set and Quiet is not.
func Println(args ...any) {
	if Quiet || !Verbose {
		return
	}
	fmt.Fprintln(os.Stderr, args...)
}

// Errorf always writes to stderr regardless of Verbose/Quiet; used for
// user-facing failures, matching spec.md §7's "descriptive message to a
// diagnostic channel" propagation policy.
func Errorf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format, args...)
}

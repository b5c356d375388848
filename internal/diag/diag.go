// Package diag centralizes the glyph-decorated console diagnostics used
// throughout ralph, matching the teacher's plain fmt.Printf/Fprintf idiom
// (no structured-logging library anywhere in the teacher repo).
package diag

import (
	"fmt"
	"os"

	"github.com/fatih/color"
)

var (
	okPrefix   = color.New(color.FgGreen).Sprint("✓")
	warnPrefix = color.New(color.FgYellow).Sprint("⚠️ ")
	errPrefix  = color.New(color.FgRed).Sprint("🚨")
)

// quiet/verbose are set once at cmd/ralph's Boot from RALPH_QUIET /
// RALPH_VERBOSE / their matching flags (spec.md §6 "Environment
// variables"). quiet wins if both are set.
var (
	quiet   bool
	verbose bool
)

// SetQuiet suppresses Info/Plain output. Warn and Error still print.
func SetQuiet(q bool) { quiet = q }

// SetVerbose enables Debug output.
func SetVerbose(v bool) { verbose = v }

// Info prints a routine, successful-outcome message to stdout.
func Info(format string, args ...interface{}) {
	if quiet {
		return
	}
	fmt.Printf(okPrefix+" "+format+"\n", args...)
}

// Warn prints a recoverable-problem message to stdout, matching the
// teacher's "log and continue" convention for non-fatal failures.
func Warn(format string, args ...interface{}) {
	fmt.Printf(warnPrefix+format+"\n", args...)
}

// Error prints a failure message to stderr. Does not exit.
func Error(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, errPrefix+" "+format+"\n", args...)
}

// Fatal prints a failure message to stderr and exits 1. Reserved for
// genuinely unrecoverable conditions outside a cobra Run's own
// error-return path (e.g. flag parsing the core never sees).
func Fatal(format string, args ...interface{}) {
	Error(format, args...)
	os.Exit(1)
}

// Plain prints without a glyph prefix, for routine progress lines that
// don't need a severity marker (matching the teacher's bare fmt.Printf
// calls for step-by-step progress).
func Plain(format string, args ...interface{}) {
	if quiet {
		return
	}
	fmt.Printf(format+"\n", args...)
}

// Debug prints only when verbose mode is enabled (RALPH_VERBOSE=1 or
// --verbose), matching the teacher's VerbosePrintf idiom.
func Debug(format string, args ...interface{}) {
	if !verbose || quiet {
		return
	}
	fmt.Printf(format+"\n", args...)
}

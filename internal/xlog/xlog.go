// Package xlog is the lifter's small logging facility: three
// stdlib-backed loggers with colored level prefixes, following the
// convention github.com/mewmew/x's x86 disassembler package uses
// ("x86:" in magenta for debug, "warning:" in red for warnings) since
// that package is the closest real-world precedent in the example
// pack for logging inside an x86-to-IR lifter. Kept tiny and
// allocation-light on purpose, matching the teacher repo's own
// avoidance of heavyweight logging frameworks in hot paths.
package xlog

import (
	"io"
	"log"
	"os"

	"github.com/mewkiz/pkg/term"
)

var (
	// Debug logs verbose per-instruction/per-block tracing, off by
	// default (see SetVerbose).
	Debug = log.New(io.Discard, term.CyanBold("lift:")+" ", 0)

	// Warn logs recoverable problems: out-of-section addresses,
	// resolver misses, split-target-not-found. Always on.
	Warn = log.New(os.Stderr, term.YellowBold("warning:")+" ", 0)

	// Error logs fatal problems the caller must not ignore (unknown
	// opcode). Always on.
	Error = log.New(os.Stderr, term.RedBold("error:")+" ", 0)
)

// SetVerbose toggles Debug output. Off by default so a library
// consumer never sees tracing unless it opts in (CLI's -v flag does).
func SetVerbose(v bool) {
	if v {
		Debug.SetOutput(os.Stderr)
	} else {
		Debug.SetOutput(io.Discard)
	}
}

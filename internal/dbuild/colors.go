package dbuild

import (
	"fmt"
	"sync/atomic"

	"github.com/gookit/color"
)

// isCriticalAtomic is 1 while an install is past the point of no return
// (live copy and metadata writes). The signal handler refuses the first
// interrupt during that window.
var isCriticalAtomic atomic.Int32

var (
	Debug   bool
	Verbose bool

	version   = "dev" // overridden at build time
	buildDate = "unknown"
)

// color helpers
var (
	colInfo    = color.Info // style provided by gookit/color
	colWarn    = color.Warn
	colError   = color.Error
	colSuccess = color.HEX("#1976D2")
	colArrow   = color.HEX("#FFEB3B")
	colNote    = color.Tag("notice")
)

// color-compatible printer interface (works with *color.Theme and *color.Style)
type colorPrinter interface {
	Printf(format string, a ...any)
	Println(a ...any)
}

// cPrintf prints with a colored style or falls back to fmt.Printf when nil
func cPrintf(p colorPrinter, format string, a ...any) {
	if p == nil {
		fmt.Printf(format, a...)
		return
	}
	p.Printf(format, a...)
}

// cPrintln prints a line with the given style or falls back to fmt.Println when nil
func cPrintln(p colorPrinter, a ...any) {
	if p == nil {
		fmt.Println(a...)
		return
	}
	p.Println(a...)
}

// debugf prints debug messages when Debug is true
func debugf(format string, args ...any) {
	if Debug {
		fmt.Printf("debug: "+format+"\n", args...)
	}
}

// verbosef prints progress detail when Verbose is true
func verbosef(format string, args ...any) {
	if Verbose {
		fmt.Printf(format+"\n", args...)
	}
}

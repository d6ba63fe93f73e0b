// Package fmtc formats text with {color} aliases that expand to ANSI escape
// codes, or to nothing when color is disabled.
package fmtc

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
)

const (
	RESET         = "\x1b[0m"
	BOLD          = "\x1b[1m"
	DIM           = "\x1b[2m"
	UNDERLINE     = "\x1b[4m"
	RED           = "\x1b[31m"
	BRIGHT_RED    = "\x1b[91m"
	GREEN         = "\x1b[32m"
	BRIGHT_GREEN  = "\x1b[92m"
	YELLOW        = "\x1b[33m"
	BRIGHT_YELLOW = "\x1b[93m"
	BLUE          = "\x1b[34m"
	MAGENTA       = "\x1b[35m"
	CYAN          = "\x1b[36m"
	BRIGHT_CYAN   = "\x1b[96m"
	WHITE         = "\x1b[37m"
	BRIGHT_BLACK  = "\x1b[90m"
	DEFAULT       = "\x1b[39m"
)

var aliases = map[string]string{
	"{reset}":         RESET,
	"{bold}":          BOLD,
	"{dim}":           DIM,
	"{underline}":     UNDERLINE,
	"{red}":           RED,
	"{bright:red}":    BRIGHT_RED,
	"{green}":         GREEN,
	"{bright:green}":  BRIGHT_GREEN,
	"{yellow}":        YELLOW,
	"{bright:yellow}": BRIGHT_YELLOW,
	"{blue}":          BLUE,
	"{magenta}":       MAGENTA,
	"{cyan}":          CYAN,
	"{bright:cyan}":   BRIGHT_CYAN,
	"{white}":         WHITE,
	"{bright:black}":  BRIGHT_BLACK,
	"{default}":       DEFAULT,
}

var enabled atomic.Bool

func init() {
	enabled.Store(os.Getenv("NO_COLOR") == "")
}

// SetEnabled switches alias expansion between escape codes and plain text.
func SetEnabled(on bool) {
	enabled.Store(on)
}

func Enabled() bool {
	return enabled.Load()
}

func expandColors(format string) string {
	on := enabled.Load()
	for k, v := range aliases {
		if !on {
			v = ""
		}
		format = strings.ReplaceAll(format, k, v)
	}
	return format
}

func Sprintf(format string, args ...any) string {
	return fmt.Sprintf(expandColors(format), args...)
}

func Printf(format string, args ...any) {
	fmt.Printf(expandColors(format), args...)
}

func Fprintf(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, expandColors(format), args...)
}

// Package cli provides output helpers for the hwagent command line.
package cli

import (
	"os"

	"golang.org/x/term"
)

// colorEnabled is false when NO_COLOR is set (per no-color.org) or stdout
// is not a terminal.
var colorEnabled = os.Getenv("NO_COLOR") == "" && term.IsTerminal(int(os.Stdout.Fd()))

// SetColor forces colored output on or off.
func SetColor(on bool) {
	colorEnabled = on
}

func paint(code, s string) string {
	if !colorEnabled {
		return s
	}
	return code + s + "\033[0m"
}

// Green wraps s in ANSI green.
func Green(s string) string { return paint("\033[32m", s) }

// Yellow wraps s in ANSI yellow.
func Yellow(s string) string { return paint("\033[33m", s) }

// Red wraps s in ANSI red.
func Red(s string) string { return paint("\033[31m", s) }

// Bold wraps s in ANSI bold.
func Bold(s string) string { return paint("\033[1m", s) }

// Dim wraps s in ANSI dim.
func Dim(s string) string { return paint("\033[2m", s) }

// EntryState labels a managed entry for display.
func EntryState(pending, realized, resolved bool) string {
	switch {
	case pending:
		return Dim("pending")
	case realized && resolved:
		return Green("programmed")
	case realized:
		return Yellow("unresolved")
	}
	return Red("waiting")
}

// LinkState labels a port's oper status.
func LinkState(up bool) string {
	if up {
		return Green("up")
	}
	return Red("down")
}

// Outcome labels a success flag.
func Outcome(success bool) string {
	if success {
		return Green("ok")
	}
	return Red("failed")
}

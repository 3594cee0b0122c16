// Package ui provides terminal styling and output helpers for the dbport
// CLI. Reports written into the bundle are plain text; this package only
// dresses what lands on the operator's terminal.
package ui

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	ColorAccent = lipgloss.Color("12")
	ColorPass   = lipgloss.Color("10")
	ColorWarn   = lipgloss.Color("11")
	ColorFail   = lipgloss.Color("9")
	ColorMuted  = lipgloss.Color("8")

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)
	sectionStyle = lipgloss.NewStyle().Bold(true)
	passStyle    = lipgloss.NewStyle().Foreground(ColorPass)
	warnStyle    = lipgloss.NewStyle().Foreground(ColorWarn)
	failStyle    = lipgloss.NewStyle().Foreground(ColorFail)
	mutedStyle   = lipgloss.NewStyle().Foreground(ColorMuted)
)

// IsTerminal reports whether stdout is a TTY.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// ShouldUseColor follows NO_COLOR / CLICOLOR conventions, falling back
// to TTY detection.
func ShouldUseColor() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("CLICOLOR") == "0" {
		return false
	}
	if os.Getenv("CLICOLOR_FORCE") != "" {
		return true
	}
	return IsTerminal()
}

func render(style lipgloss.Style, s string) string {
	if !ShouldUseColor() {
		return s
	}
	return style.Render(s)
}

// Title renders a prominent heading.
func Title(s string) string { return render(titleStyle, s) }

// Section renders a section heading.
func Section(s string) string { return render(sectionStyle, s) }

// Pass renders success text.
func Pass(s string) string { return render(passStyle, s) }

// Warn renders warning text.
func Warn(s string) string { return render(warnStyle, s) }

// Fail renders failure text.
func Fail(s string) string { return render(failStyle, s) }

// Muted renders de-emphasized text.
func Muted(s string) string { return render(mutedStyle, s) }

// Rule renders a horizontal divider.
func Rule(width int) string {
	return render(mutedStyle, strings.Repeat("─", width))
}

// CapabilityLine renders one line of the dry-run capability checklist.
func CapabilityLine(supported bool, label string) string {
	if supported {
		return fmt.Sprintf("  %s %s", Pass("[x]"), label)
	}
	return fmt.Sprintf("  %s %s", Muted("[ ]"), Muted(label))
}

// StatusBadge renders a parity/run status with its color.
func StatusBadge(status string) string {
	switch strings.ToLower(status) {
	case "match", "succeeded", "success":
		return Pass(status)
	case "mismatch", "failed":
		return Fail(status)
	case "cancelled":
		return Warn(status)
	default:
		return Muted(status)
	}
}

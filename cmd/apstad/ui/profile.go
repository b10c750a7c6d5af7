package ui

import (
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

const envNoColor = "NO_COLOR"

// ConfigureColor picks the colour profile for stdout. Plain ASCII is used when
// colour is disabled, NO_COLOR is set, TERM is dumb or stdout is not a
// terminal.
func ConfigureColor(disabled bool) {
	if useColor(disabled) {
		lipgloss.SetColorProfile(termenv.NewOutput(os.Stdout).EnvColorProfile())
		return
	}
	lipgloss.SetColorProfile(termenv.Ascii)
}

func useColor(disabled bool) bool {
	if disabled || strings.TrimSpace(os.Getenv(envNoColor)) != "" {
		return false
	}
	if strings.EqualFold(strings.TrimSpace(os.Getenv("TERM")), "dumb") {
		return false
	}
	info, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

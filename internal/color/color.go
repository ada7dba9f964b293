package color

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// For mocking in tests
var lookupEnv = os.LookupEnv

var (
	Success = lipgloss.AdaptiveColor{Light: "#1A7F37", Dark: "#3FB950"}
	Warning = lipgloss.AdaptiveColor{Light: "#9A6700", Dark: "#D29922"}
	Error   = lipgloss.AdaptiveColor{Light: "#CF222E", Dark: "#F85149"}
	Muted   = lipgloss.AdaptiveColor{Light: "#6E7781", Dark: "#8B949E"}
	Accent  = lipgloss.AdaptiveColor{Light: "#0969DA", Dark: "#58A6FF"}
)

// Enabled reports whether w should receive colored output.
func Enabled(w io.Writer) bool {
	if _, ok := lookupEnv("NO_COLOR"); ok {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Initialize sets the background lipgloss assumes, honoring DEVSTACK_THEME.
func Initialize(isDarkMode bool) {
	if theme, ok := lookupEnv("DEVSTACK_THEME"); ok {
		switch strings.ToLower(theme) {
		case "dark":
			isDarkMode = true
		case "light":
			isDarkMode = false
		}
	}
	lipgloss.SetHasDarkBackground(isDarkMode)
}

// Palette renders text in semantic colors, or leaves it plain when disabled.
type Palette struct {
	enabled bool
}

// NewPalette returns a palette for w.
func NewPalette(w io.Writer) Palette {
	return Palette{enabled: Enabled(w)}
}

// Plain returns a palette that never colors.
func Plain() Palette {
	return Palette{}
}

// Enabled reports whether the palette colors anything.
func (p Palette) Enabled() bool { return p.enabled }

func (p Palette) render(c lipgloss.TerminalColor, bold bool, s string) string {
	if !p.enabled {
		return s
	}
	return lipgloss.NewStyle().Foreground(c).Bold(bold).Render(s)
}

func (p Palette) Success(s string) string { return p.render(Success, false, s) }
func (p Palette) Warning(s string) string { return p.render(Warning, false, s) }
func (p Palette) Error(s string) string   { return p.render(Error, true, s) }
func (p Palette) Muted(s string) string   { return p.render(Muted, false, s) }
func (p Palette) Accent(s string) string  { return p.render(Accent, true, s) }

// State colors a service state or status by its meaning.
func (p Palette) State(state string) string {
	switch strings.ToLower(state) {
	case "running", "stopped", "removed", "exited":
		return p.Success(state)
	case "failed", "unknown":
		return p.Error(state)
	case "missing":
		return p.Muted(state)
	default:
		return p.Warning(state)
	}
}

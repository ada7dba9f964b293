// Package color decides whether output gets colored and holds the palette
// used for service states.
//
// # Color Detection
//
// Color is used only when the output is a terminal, as reported by
// go-isatty, and NO_COLOR is unset. Output piped into another program, such
// as the JSON of info or list, is never colored.
//
// # Theme System
//
// Colors are organized into semantic categories:
//   - Success: Running, Stopped and Removed services
//   - Warning: services in transition
//   - Error: Failed services
//   - Muted: de-emphasized text such as missing values
//
// Each color is a lipgloss.AdaptiveColor, so it reads on dark and light
// backgrounds alike. DEVSTACK_THEME=dark|light forces a theme.
package color

package ui

import "strings"

// FormatError renders an error line for stderr, followed by a "Try:" block
// when there are suggested fixes.
func FormatError(msg string, suggestions ...string) string {
	lines := []string{StyleBoldRed.Render("Error:") + " " + msg}
	if len(suggestions) > 0 {
		lines = append(lines, "", StyleHint.Render("  Try:"))
		arrow := StyleHint.Render(SymbolArrow)
		for _, s := range suggestions {
			lines = append(lines, "    "+arrow+" "+s)
		}
	}
	return strings.Join(lines, "\n") + "\n"
}

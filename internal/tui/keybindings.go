package tui

// Keymap defines the keyboard shortcuts of the dashboard.
type Keymap struct {
	Quit    string
	TabNext string
	TabPrev string
	NavUp   string
	NavDown string
	History string
	Refresh string
	Help    string
}

func defaultKeymap() Keymap {
	return Keymap{
		Quit:    "q",
		TabNext: "tab",
		TabPrev: "shift+tab",
		NavUp:   "up",
		NavDown: "down",
		History: "h",
		Refresh: "r",
		Help:    "?",
	}
}

// HelpText returns the keyboard shortcut reference displayed in the help modal.
func HelpText() string {
	return `
  NAVIGATION
  ──────────────────────────────────────
  Tab / Shift+Tab    Cycle panels
  ↑↓  /  j k         Select container
  h                  Deployment history

  MISC
  ──────────────────────────────────────
  r                  Reload state
  ?                  Toggle this help
  q / Ctrl+C         Quit
`
}

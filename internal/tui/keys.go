package tui

// Keybinding constants
const (
	KeyTab      = "tab"
	KeyShiftTab = "shift+tab"
	KeyQuit     = "q"
	KeyCtrlC    = "ctrl+c"
	KeyPane1    = "1"
	KeyPane2    = "2"
	KeyUp       = "up"
	KeyDown     = "down"
	KeyJ        = "j"
	KeyK        = "k"
	KeyFollow   = "f"
)

// HelpView returns a one-line help bar with common keybindings.
func HelpView(done bool) string {
	help := "Tab: cycle focus | 1/2: jump to pane | j/k: select stage | f: follow | q: quit"
	if done {
		help = "Run finished | " + help
	}
	return StyleHelp.Render(help)
}

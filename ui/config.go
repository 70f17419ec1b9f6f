package ui

// Config contains TUI-specific configuration.
type Config struct {
	ShowAllFiles    bool
	GlamourMaxWidth uint
	GlamourStyle    string `env:"GLAMOUR_STYLE"`
	EnableMouse     bool
	HomeDir         string `env:"HOME"`

	// Working directory or file path.
	Path string

	// Playback defaults.
	Provider string
	Voice    string
	Speed    float64

	// Lipgloss color for the segment being narrated.
	HighlightColor string

	// Seconds of silence inserted for image segments.
	ImagePauseSeconds float64

	// For debugging the UI.
	GlamourEnabled bool `env:"MDREADER_ENABLE_GLAMOUR" envDefault:"true"`
}

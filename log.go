package main

import (
	"fmt"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
)

// setupLog sends logging to a file when MDREADER_LOGFILE is set, and
// silences it otherwise so it never draws over the TUI.
func setupLog() (func() error, error) {
	log.SetOutput(io.Discard)

	if file := os.Getenv("MDREADER_LOGFILE"); file != "" {
		f, err := tea.LogToFile(file, "mdreader")
		if err != nil {
			return nil, fmt.Errorf("error setting up logging: %w", err)
		}
		log.SetOutput(f)
		log.SetLevel(log.DebugLevel)
		return f.Close, nil
	}

	return func() error { return nil }, nil
}

package ui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"github.com/mattn/go-runewidth"
	"github.com/sahilm/fuzzy"
)

// mdFile is one discovered markdown document.
type mdFile struct {
	localPath string
	note      string
	size      int64
	modtime   time.Time
}

type filterState int

const (
	unfiltered filterState = iota
	filtering
	filterApplied
)

// openFileMsg asks the top-level model to load a document.
type openFileMsg struct{ path string }

type filteredFilesMsg []*mdFile

// browserModel lists the markdown files found under the working directory.
type browserModel struct {
	common *commonModel

	files    []*mdFile
	filtered []*mdFile
	cursor   int

	filterState filterState
	filterInput textinput.Model

	searching bool
	spinner   spinner.Model
}

func newBrowserModel(common *commonModel) browserModel {
	sp := spinner.New()
	sp.Spinner = spinner.Line

	ti := textinput.New()
	ti.Prompt = "Filter: "
	ti.CharLimit = 64

	return browserModel{
		common:      common,
		spinner:     sp,
		filterInput: ti,
		searching:   true,
	}
}

func (m *browserModel) addFile(f *mdFile) {
	m.files = append(m.files, f)
	sort.Slice(m.files, func(i, j int) bool {
		return m.files[i].note < m.files[j].note
	})
}

// visibleFiles returns the list the cursor moves over.
func (m browserModel) visibleFiles() []*mdFile {
	if m.filterState != unfiltered && m.filterInput.Value() != "" {
		return m.filtered
	}
	return m.files
}

func (m *browserModel) moveCursor(delta int) {
	files := m.visibleFiles()
	if len(files) == 0 {
		m.cursor = 0
		return
	}
	m.cursor += delta
	if m.cursor < 0 {
		m.cursor = 0
	}
	if m.cursor >= len(files) {
		m.cursor = len(files) - 1
	}
}

// fileSource adapts the file list to the fuzzy matcher.
type fileSource []*mdFile

func (s fileSource) String(i int) string { return s[i].note }
func (s fileSource) Len() int            { return len(s) }

func filterFiles(files []*mdFile, query string) tea.Cmd {
	return func() tea.Msg {
		if query == "" {
			return filteredFilesMsg(files)
		}
		ranked := fuzzy.FindFrom(query, fileSource(files))
		out := make([]*mdFile, 0, len(ranked))
		for _, r := range ranked {
			out = append(out, files[r.Index])
		}
		return filteredFilesMsg(out)
	}
}

func (m browserModel) update(msg tea.Msg) (browserModel, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.filterState == filtering {
			switch msg.String() {
			case "enter":
				if m.filterInput.Value() == "" {
					m.filterState = unfiltered
				} else {
					m.filterState = filterApplied
				}
				m.filterInput.Blur()
				return m, nil
			case "esc":
				m.filterState = unfiltered
				m.filterInput.Reset()
				m.cursor = 0
				return m, nil
			default:
				var cmd tea.Cmd
				m.filterInput, cmd = m.filterInput.Update(msg)
				cmds = append(cmds, cmd)
				cmds = append(cmds, filterFiles(m.files, m.filterInput.Value()))
				return m, tea.Batch(cmds...)
			}
		}

		switch msg.String() {
		case "j", "down":
			m.moveCursor(1)
		case "k", "up":
			m.moveCursor(-1)
		case "/":
			m.filterState = filtering
			m.filterInput.Reset()
			m.cursor = 0
			return m, m.filterInput.Focus()
		case "esc":
			if m.filterState == filterApplied {
				m.filterState = unfiltered
				m.filterInput.Reset()
				m.cursor = 0
			}
		case "enter":
			files := m.visibleFiles()
			if m.cursor < len(files) {
				path := files[m.cursor].localPath
				return m, func() tea.Msg { return openFileMsg{path} }
			}
		}

	case filteredFilesMsg:
		m.filtered = msg
		if m.cursor >= len(m.filtered) {
			m.cursor = 0
		}

	case localFileSearchFinished:
		m.searching = false

	case spinner.TickMsg:
		if m.searching {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			cmds = append(cmds, cmd)
		}
	}

	return m, tea.Batch(cmds...)
}

func (m browserModel) view() string {
	var b strings.Builder

	title := " Markdown Reader "
	b.WriteString("\n  " + logoStyle(title))
	if m.searching {
		b.WriteString("  " + m.spinner.View() + " scanning")
	} else {
		b.WriteString(subtleStyle(fmt.Sprintf("  %d documents", len(m.files))))
	}
	b.WriteString("\n\n")

	if m.filterState != unfiltered {
		b.WriteString("  " + m.filterInput.View() + "\n\n")
	}

	files := m.visibleFiles()
	if len(files) == 0 && !m.searching {
		b.WriteString(subtleStyle("  No markdown files here.\n"))
	}

	height := m.common.height - 8
	if height < 1 {
		height = 1
	}
	start := 0
	if m.cursor >= height {
		start = m.cursor - height + 1
	}

	for i := start; i < len(files) && i < start+height; i++ {
		f := files[i]
		name := runewidth.Truncate(f.note, max(10, m.common.width-30), ellipsis)
		meta := dimItemStyle(fmt.Sprintf("%s  %s", humanize.IBytes(uint64(f.size)), humanize.Time(f.modtime)))
		if i == m.cursor {
			b.WriteString(fmt.Sprintf("  %s %s\n", selectedItemStyle("> "+name), meta))
		} else {
			b.WriteString(fmt.Sprintf("    %s %s\n", listItemStyle(name), meta))
		}
	}

	b.WriteString("\n" + subtleStyle("  enter: read  /: filter  q: quit") + "\n")
	return b.String()
}

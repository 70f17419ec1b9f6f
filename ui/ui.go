// Package ui provides the terminal interface: a file browser over local
// markdown documents and a segment-by-segment reader wired to the playback
// sequencer.
package ui

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour/styles"
	"github.com/charmbracelet/log"
	"github.com/muesli/gitcha"
	te "github.com/muesli/termenv"

	"github.com/sanmzh/MarkdownReader-TTS/internal/segment"
	"github.com/sanmzh/MarkdownReader-TTS/internal/speech"
)

const (
	statusMessageTimeout = time.Second * 3
	ellipsis             = "…"
)

var markdownExtensions = []string{
	"*.md", "*.mdown", "*.mkdn", "*.mkd", "*.markdown", "*.txt",
}

// NewProgram returns the Tea program for the reader. The providers map and
// sequencer are built by the caller so the engine stays testable without a
// terminal.
func NewProgram(cfg Config, seq *speech.Sequencer, providers map[string]speech.Provider, providerOrder []string, content string) *tea.Program {
	log.Debug("starting reader", "path", cfg.Path, "provider", cfg.Provider)

	opts := []tea.ProgramOption{tea.WithAltScreen()}
	if cfg.EnableMouse {
		opts = append(opts, tea.WithMouseCellMotion())
	}
	m := newModel(cfg, seq, providers, providerOrder, content)
	return tea.NewProgram(m, opts...)
}

type errMsg struct{ err error }

func (e errMsg) Error() string { return e.err.Error() }

type (
	initLocalFileSearchMsg struct {
		cwd string
		ch  chan gitcha.SearchResult
	}
	foundLocalFileMsg       gitcha.SearchResult
	localFileSearchFinished struct{}
	statusMessageTimeoutMsg struct{}
	fetchedDocumentMsg      document
)

// state is the top-level application state.
type state int

const (
	stateShowBrowser state = iota
	stateShowReader
)

// Common stuff we need to access in all models.
type commonModel struct {
	cfg    Config
	cwd    string
	width  int
	height int

	seq           *speech.Sequencer
	providers     map[string]speech.Provider
	providerOrder []string
}

type model struct {
	common   *commonModel
	state    state
	fatalErr error

	browser browserModel
	reader  readerModel

	localFileFinder chan gitcha.SearchResult
}

func newModel(cfg Config, seq *speech.Sequencer, providers map[string]speech.Provider, providerOrder []string, content string) tea.Model {
	if cfg.GlamourStyle == "" || cfg.GlamourStyle == styles.AutoStyle {
		if te.HasDarkBackground() {
			cfg.GlamourStyle = styles.DarkStyle
		} else {
			cfg.GlamourStyle = styles.LightStyle
		}
	}
	if cfg.HighlightColor == "" {
		cfg.HighlightColor = "212"
	}

	common := commonModel{
		cfg:           cfg,
		seq:           seq,
		providers:     providers,
		providerOrder: providerOrder,
	}

	m := model{
		common:  &common,
		state:   stateShowBrowser,
		browser: newBrowserModel(&common),
		reader:  newReaderModel(&common),
	}

	if content != "" {
		m.state = stateShowReader
		m.reader.doc = document{note: "(stdin)", body: content}
		return m
	}

	path := cfg.Path
	if path == "" {
		path = "."
	}
	info, err := os.Stat(path)
	if err != nil {
		log.Error("unable to stat path", "path", path, "error", err)
		m.fatalErr = err
		return m
	}
	if !info.IsDir() {
		m.state = stateShowReader
		m.reader.doc = document{
			localPath: path,
			note:      filepath.Base(path),
			modtime:   info.ModTime(),
		}
	}

	return m
}

func (m model) Init() tea.Cmd {
	cmds := []tea.Cmd{waitForSequencerEvent(m.common.seq)}

	switch m.state {
	case stateShowBrowser:
		cmds = append(cmds, findLocalFiles(*m.common), m.browser.spinner.Tick)
	case stateShowReader:
		if m.reader.doc.localPath != "" {
			cmds = append(cmds, loadLocalDocument(m.reader.doc.localPath))
		} else {
			doc := m.reader.doc
			cmds = append(cmds, func() tea.Msg { return fetchedDocumentMsg(doc) })
		}
	}

	return tea.Batch(cmds...)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.fatalErr != nil {
		if _, ok := msg.(tea.KeyMsg); ok {
			return m, tea.Quit
		}
	}

	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q":
			if m.state == stateShowBrowser && m.browser.filterState == filtering {
				break
			}
			m.common.seq.Stop()
			return m, tea.Quit

		case "ctrl+c":
			m.common.seq.Stop()
			return m, tea.Quit

		case "esc":
			if m.state == stateShowReader && !m.reader.promptingCredential && !m.reader.showHelp {
				m.reader.unload()
				m.state = stateShowBrowser
				return m, nil
			}

		case "ctrl+z":
			return m, tea.Suspend
		}

	case tea.WindowSizeMsg:
		m.common.width = msg.Width
		m.common.height = msg.Height
		m.reader.setSize(msg.Width, msg.Height)

	case errMsg:
		m.fatalErr = msg.err
		return m, nil

	case initLocalFileSearchMsg:
		m.localFileFinder = msg.ch
		m.common.cwd = msg.cwd
		cmds = append(cmds, findNextLocalFile(m))

	case foundLocalFileMsg:
		res := gitcha.SearchResult(msg)
		m.browser.addFile(&mdFile{
			localPath: res.Path,
			note:      stripAbsolutePath(res.Path, m.common.cwd),
			size:      res.Info.Size(),
			modtime:   res.Info.ModTime(),
		})
		cmds = append(cmds, findNextLocalFile(m))

	case localFileSearchFinished:
		newBrowser, cmd := m.browser.update(msg)
		m.browser = newBrowser
		return m, cmd

	case openFileMsg:
		cmds = append(cmds, loadLocalDocument(msg.path))

	case fetchedDocumentMsg:
		doc := document(msg)
		segs := segment.Parse(doc.body)
		m.state = stateShowReader
		m.reader.setSize(m.common.width, m.common.height)
		cmds = append(cmds, m.reader.setDocument(doc, segs))
	}

	switch m.state {
	case stateShowBrowser:
		newBrowser, cmd := m.browser.update(msg)
		m.browser = newBrowser
		cmds = append(cmds, cmd)
	case stateShowReader:
		newReader, cmd := m.reader.update(msg)
		m.reader = newReader
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m model) View() string {
	if m.fatalErr != nil {
		return errorView(m.fatalErr, true)
	}

	switch m.state {
	case stateShowReader:
		return m.reader.view()
	default:
		return m.browser.view()
	}
}

func errorView(err error, fatal bool) string {
	exitMsg := "press any key to "
	if fatal {
		exitMsg += "exit"
	} else {
		exitMsg += "return"
	}
	s := fmt.Sprintf("%s\n\n%v\n\n%s",
		errorTitleStyle("ERROR"),
		err,
		subtleStyle(exitMsg),
	)
	return "\n" + indent(s, 3)
}

// COMMANDS

func findLocalFiles(m commonModel) tea.Cmd {
	return func() tea.Msg {
		var (
			cwd = m.cfg.Path
			err error
		)
		if cwd == "" {
			cwd, err = os.Getwd()
		} else {
			var info os.FileInfo
			info, err = os.Stat(cwd)
			if err == nil && info.IsDir() {
				cwd, err = filepath.Abs(cwd)
			}
		}
		if err != nil {
			log.Error("error finding local files", "error", err)
			return errMsg{err}
		}

		var ch chan gitcha.SearchResult
		if m.cfg.ShowAllFiles {
			ch, err = gitcha.FindAllFilesExcept(cwd, markdownExtensions, nil)
		} else {
			ch, err = gitcha.FindFilesExcept(cwd, markdownExtensions, nil)
		}
		if err != nil {
			log.Error("error finding local files", "error", err)
			return errMsg{err}
		}

		return initLocalFileSearchMsg{ch: ch, cwd: cwd}
	}
}

func findNextLocalFile(m model) tea.Cmd {
	return func() tea.Msg {
		res, ok := <-m.localFileFinder
		if ok {
			return foundLocalFileMsg(res)
		}
		log.Debug("local file search finished")
		return localFileSearchFinished{}
	}
}

func loadLocalDocument(path string) tea.Cmd {
	return func() tea.Msg {
		data, err := os.ReadFile(path)
		if err != nil {
			log.Error("unable to read file", "file", path, "error", err)
			return errMsg{err}
		}
		info, err := os.Stat(path)
		if err != nil {
			return errMsg{err}
		}
		return fetchedDocumentMsg(document{
			localPath: path,
			note:      filepath.Base(path),
			body:      string(data),
			modtime:   info.ModTime(),
		})
	}
}

func waitForStatusMessageTimeout(t *time.Timer) tea.Cmd {
	return func() tea.Msg {
		<-t.C
		return statusMessageTimeoutMsg{}
	}
}

// ETC

func stripAbsolutePath(fullPath, cwd string) string {
	fp, err := filepath.EvalSymlinks(fullPath)
	if err != nil {
		fp = fullPath
	}
	cp, err := filepath.EvalSymlinks(cwd)
	if err != nil {
		cp = cwd
	}
	return strings.TrimPrefix(fp, cp+string(os.PathSeparator))
}

// Lightweight version of reflow's indent function.
func indent(s string, n int) string {
	if n <= 0 || s == "" {
		return s
	}
	l := strings.Split(s, "\n")
	b := strings.Builder{}
	i := strings.Repeat(" ", n)
	for _, v := range l {
		fmt.Fprintf(&b, "%s%s\n", i, v)
	}
	return b.String()
}

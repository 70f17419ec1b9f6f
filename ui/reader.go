package ui

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	"github.com/muesli/reflow/ansi"
	"github.com/muesli/reflow/truncate"
	"github.com/muesli/termenv"

	"github.com/sanmzh/MarkdownReader-TTS/internal/segment"
	"github.com/sanmzh/MarkdownReader-TTS/internal/speech"
)

const statusBarHeight = 1

// speedSteps are the selectable playback rates, slowest to fastest.
var speedSteps = []float64{0.5, 0.75, 1.0, 1.25, 1.5, 1.75, 2.0}

type (
	// seqEventMsg wraps one sequencer event for the Tea loop.
	seqEventMsg struct{ ev speech.Event }

	// segmentsRenderedMsg carries the glamour output, one entry per segment.
	segmentsRenderedMsg struct {
		rendered []renderedSegment
		width    int
	}

	reloadMsg struct{}
)

// renderedSegment is one segment's ANSI rendering plus its position in the
// assembled document, in viewport lines.
type renderedSegment struct {
	text      string
	startLine int
	lineCount int
}

// document is the file being read.
type document struct {
	localPath string
	note      string
	body      string
	modtime   time.Time
}

type readerModel struct {
	common   *commonModel
	viewport viewport.Model

	doc      document
	segments []segment.Segment
	rendered []renderedSegment

	// selected is the cursor segment (seek target); active is the segment
	// being narrated, NoIndex when idle.
	selected int
	active   int

	loading bool
	spinner spinner.Model

	promptingCredential bool
	credProvider        string
	credInput           textinput.Model

	statusMessage      string
	statusMessageTimer *time.Timer

	showHelp bool

	watcher *fsnotify.Watcher
}

func newReaderModel(common *commonModel) readerModel {
	vp := viewport.New(0, 0)

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	ti := textinput.New()
	ti.Prompt = "API key: "
	ti.EchoMode = textinput.EchoPassword
	ti.CharLimit = 200

	m := readerModel{
		common:    common,
		viewport:  vp,
		active:    speech.NoIndex,
		spinner:   sp,
		credInput: ti,
	}
	m.initWatcher()
	return m
}

func (m *readerModel) initWatcher() {
	var err error
	m.watcher, err = fsnotify.NewWatcher()
	if err != nil {
		log.Error("error creating fsnotify watcher", "error", err)
	}
}

func (m *readerModel) setSize(w, h int) {
	m.viewport.Width = w
	m.viewport.Height = h - statusBarHeight
	if m.showHelp {
		m.viewport.Height -= strings.Count(m.helpView(), "\n") + 1
	}
}

// setDocument installs a freshly parsed document and kicks off rendering.
func (m *readerModel) setDocument(doc document, segments []segment.Segment) tea.Cmd {
	m.doc = doc
	m.segments = segments
	m.rendered = nil
	m.selected = 0
	m.active = speech.NoIndex
	m.loading = false
	m.viewport.SetContent("")
	m.viewport.YOffset = 0

	m.common.seq.SetDocument(segments)

	return tea.Batch(
		renderSegments(m.common.cfg, segments, m.viewport.Width),
		m.watchFile,
	)
}

func (m *readerModel) unload() {
	m.common.seq.Stop()
	if m.statusMessageTimer != nil {
		m.statusMessageTimer.Stop()
	}
	m.unwatchFile()
	m.viewport.SetContent("")
	m.viewport.YOffset = 0
	m.segments = nil
	m.rendered = nil
	m.showHelp = false
	m.promptingCredential = false
}

func (m *readerModel) showStatusMessage(msg string) tea.Cmd {
	m.statusMessage = msg
	if m.statusMessageTimer != nil {
		m.statusMessageTimer.Stop()
	}
	m.statusMessageTimer = time.NewTimer(statusMessageTimeout)
	return waitForStatusMessageTimeout(m.statusMessageTimer)
}

func (m readerModel) update(msg tea.Msg) (readerModel, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.promptingCredential {
			return m.updateCredentialPrompt(msg)
		}
		if cmd, handled := m.handleKey(msg); handled {
			return m, cmd
		}

	case segmentsRenderedMsg:
		// Stale renders from a previous width are dropped.
		if msg.width == m.viewport.Width {
			m.rendered = msg.rendered
			m.syncContent()
		}

	case seqEventMsg:
		cmds = append(cmds, m.handleSequencerEvent(msg.ev))
		cmds = append(cmds, waitForSequencerEvent(m.common.seq))

	case spinner.TickMsg:
		if m.loading {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			cmds = append(cmds, cmd)
		}

	case statusMessageTimeoutMsg:
		m.statusMessage = ""

	case reloadMsg:
		return m, func() tea.Msg { return openFileMsg{m.doc.localPath} }

	case editorFinishedMsg:
		if msg.err != nil {
			log.Error("editor", "error", msg.err)
		}
		return m, func() tea.Msg { return openFileMsg{m.doc.localPath} }

	case tea.WindowSizeMsg:
		cmds = append(cmds, renderSegments(m.common.cfg, m.segments, m.viewport.Width))
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m *readerModel) handleKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	seq := m.common.seq

	switch msg.String() {
	case " ":
		if seq.Session().Playing() {
			seq.Pause()
			return nil, true
		}
		return m.startPlayback(), true

	case "s":
		seq.Stop()
		return nil, true

	case "enter":
		if err := seq.Seek(m.selected); err != nil {
			if errors.Is(err, speech.ErrMissingCredential) {
				return m.promptCredential(seq.Session().Provider()), true
			}
			return m.showStatusMessage(err.Error()), true
		}
		return nil, true

	case "j", "down":
		m.moveSelection(1)
		return nil, true
	case "k", "up":
		m.moveSelection(-1)
		return nil, true

	case "+", "=":
		m.stepSpeed(1)
		return nil, true
	case "-", "_":
		m.stepSpeed(-1)
		return nil, true

	case "p":
		return m.cycleProvider(), true
	case "v":
		return m.cycleVoice(), true

	case "c":
		if m.selected < len(m.segments) {
			src := m.segments[m.selected].OriginalText
			termenv.Copy(src)
			_ = clipboard.WriteAll(src)
			return m.showStatusMessage("Copied segment"), true
		}
		return nil, true

	case "e":
		if m.doc.localPath != "" {
			return openEditor(m.doc.localPath), true
		}
		return nil, true

	case "r":
		return func() tea.Msg { return openFileMsg{m.doc.localPath} }, true

	case "g", "home":
		m.viewport.GotoTop()
		return nil, true
	case "G", "end":
		m.viewport.GotoBottom()
		return nil, true
	case "d":
		m.viewport.HalfViewDown()
		return nil, true
	case "u":
		m.viewport.HalfViewUp()
		return nil, true

	case "?":
		m.showHelp = !m.showHelp
		m.setSize(m.common.width, m.common.height)
		return nil, true
	}

	return nil, false
}

func (m *readerModel) startPlayback() tea.Cmd {
	err := m.common.seq.Play()
	if err == nil {
		return nil
	}
	if errors.Is(err, speech.ErrMissingCredential) {
		return m.promptCredential(m.common.seq.Session().Provider())
	}
	return m.showStatusMessage(err.Error())
}

// credentialSetter is the subset of a provider that can take a key at
// runtime. Keys entered at the prompt live in memory only.
type credentialSetter interface {
	SetCredential(key string)
}

func (m *readerModel) promptCredential(provider string) tea.Cmd {
	m.promptingCredential = true
	m.credProvider = provider
	m.credInput.Reset()
	return m.credInput.Focus()
}

func (m readerModel) updateCredentialPrompt(msg tea.KeyMsg) (readerModel, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.promptingCredential = false
		m.credInput.Blur()
		return m, nil
	case "enter":
		key := m.credInput.Value()
		m.promptingCredential = false
		m.credInput.Blur()
		if key == "" {
			return m, nil
		}
		if cs, ok := m.common.providers[m.credProvider].(credentialSetter); ok {
			cs.SetCredential(key)
		}
		return m, m.startPlayback()
	default:
		var cmd tea.Cmd
		m.credInput, cmd = m.credInput.Update(msg)
		return m, cmd
	}
}

func (m *readerModel) moveSelection(delta int) {
	if len(m.segments) == 0 {
		return
	}
	m.selected += delta
	if m.selected < 0 {
		m.selected = 0
	}
	if m.selected >= len(m.segments) {
		m.selected = len(m.segments) - 1
	}
	m.syncContent()
	m.scrollTo(m.selected)
}

func (m *readerModel) stepSpeed(dir int) {
	cur := m.common.seq.Session().Speed()
	idx := 0
	for i, s := range speedSteps {
		if math.Abs(s-cur) < 0.01 {
			idx = i
			break
		}
	}
	idx += dir
	if idx < 0 {
		idx = 0
	}
	if idx >= len(speedSteps) {
		idx = len(speedSteps) - 1
	}
	m.common.seq.SetSpeed(speedSteps[idx])
}

func (m *readerModel) cycleProvider() tea.Cmd {
	names := m.common.providerOrder
	if len(names) < 2 {
		return nil
	}
	cur := m.common.seq.Session().Provider()
	next := names[0]
	for i, n := range names {
		if n == cur {
			next = names[(i+1)%len(names)]
			break
		}
	}
	if err := m.common.seq.SetProvider(next); err != nil {
		if errors.Is(err, speech.ErrPlaybackActive) {
			return m.showStatusMessage("Stop playback to switch provider")
		}
		return m.showStatusMessage(err.Error())
	}
	return m.showStatusMessage("Provider: " + next)
}

func (m *readerModel) cycleVoice() tea.Cmd {
	sess := m.common.seq.Session()
	prov, ok := m.common.providers[sess.Provider()]
	if !ok {
		return nil
	}
	voices := prov.Voices()
	if len(voices) < 2 {
		return nil
	}
	cur := sess.VoiceID()
	next := voices[0]
	for i, v := range voices {
		if v.ID == cur {
			next = voices[(i+1)%len(voices)]
			break
		}
	}
	if err := m.common.seq.SetVoice(next.ID); err != nil {
		if errors.Is(err, speech.ErrPlaybackActive) {
			return m.showStatusMessage("Stop playback to switch voice")
		}
		return m.showStatusMessage(err.Error())
	}
	if next.DisplayName != "" {
		return m.showStatusMessage("Voice: " + next.DisplayName)
	}
	return m.showStatusMessage("Voice: " + next.ID)
}

func (m *readerModel) handleSequencerEvent(ev speech.Event) tea.Cmd {
	switch ev := ev.(type) {
	case speech.SegmentStartedEvent:
		m.active = ev.Index
		m.selected = ev.Index
		m.loading = false
		m.syncContent()
		m.scrollTo(ev.Index)

	case speech.LoadingEvent:
		m.loading = ev.Loading
		if ev.Loading {
			return m.spinner.Tick
		}

	case speech.StoppedEvent:
		m.active = speech.NoIndex
		m.loading = false
		m.syncContent()

	case speech.FinishedEvent:
		m.active = speech.NoIndex
		m.loading = false
		m.syncContent()
		return m.showStatusMessage("Finished")

	case speech.CredentialRequiredEvent:
		return m.promptCredential(ev.Provider)

	case speech.FailedEvent:
		m.active = speech.NoIndex
		m.loading = false
		m.syncContent()
		return m.showStatusMessage(ev.Err.Error())
	}
	return nil
}

// syncContent reassembles the viewport content with the current highlight
// and selection markers.
func (m *readerModel) syncContent() {
	if len(m.rendered) == 0 {
		return
	}

	highlight := lipgloss.NewStyle().
		Border(lipgloss.ThickBorder(), false, false, false, true).
		BorderForeground(lipgloss.Color(m.common.cfg.HighlightColor))
	selector := lipgloss.NewStyle().
		Border(lipgloss.NormalBorder(), false, false, false, true).
		BorderForeground(statusBarNoteFg)

	var b strings.Builder
	line := 0
	for i := range m.rendered {
		text := m.rendered[i].text
		switch {
		case i == m.active:
			text = highlight.Render(text)
		case i == m.selected:
			text = selector.Render(text)
		}
		m.rendered[i].startLine = line
		m.rendered[i].lineCount = strings.Count(text, "\n") + 1
		line += m.rendered[i].lineCount

		b.WriteString(text)
		b.WriteRune('\n')
		line++
	}
	m.viewport.SetContent(b.String())
}

// scrollTo keeps segment i visible in the viewport.
func (m *readerModel) scrollTo(i int) {
	if i < 0 || i >= len(m.rendered) {
		return
	}
	top := m.rendered[i].startLine
	bottom := top + m.rendered[i].lineCount

	if top < m.viewport.YOffset {
		m.viewport.SetYOffset(top)
	} else if bottom > m.viewport.YOffset+m.viewport.Height {
		m.viewport.SetYOffset(bottom - m.viewport.Height)
	}
}

func (m readerModel) view() string {
	var b strings.Builder

	if m.promptingCredential {
		b.WriteString("\n  " + promptTitleStyle(providerLabel(m.credProvider)+" credential required") + "\n\n")
		b.WriteString("  " + m.credInput.View() + "\n\n")
		b.WriteString(subtleStyle("  enter: confirm  esc: cancel") + "\n")
		return b.String()
	}

	b.WriteString(m.viewport.View() + "\n")
	m.statusBarView(&b)
	if m.showHelp {
		b.WriteString("\n" + m.helpView())
	}
	return b.String()
}

func (m readerModel) statusBarView(b *strings.Builder) {
	logo := logoStyle(" Reader ")

	percent := math.Max(0, math.Min(1, m.viewport.ScrollPercent()))
	scrollPercent := statusBarScrollPosStyle(fmt.Sprintf(" %3.f%% ", percent*100))
	helpNote := statusBarHelpStyle(" ? Help ")

	var note string
	switch {
	case m.statusMessage != "":
		note = m.statusMessage
	case m.loading:
		note = fmt.Sprintf("%s %s Fetching audio…", m.doc.note, m.spinner.View())
	case m.active != speech.NoIndex:
		note = fmt.Sprintf("%s | Reading %d/%d | %s %.2gx",
			m.doc.note, m.active+1, len(m.segments), m.playbackVoiceLabel(), m.common.seq.Session().Speed())
	default:
		note = fmt.Sprintf("%s | %s %.2gx | space: read",
			m.doc.note, m.playbackVoiceLabel(), m.common.seq.Session().Speed())
	}

	note = truncate.StringWithTail(" "+note+" ", uint(max(0, //nolint:gosec
		m.common.width-
			ansi.PrintableRuneWidth(logo)-
			ansi.PrintableRuneWidth(scrollPercent)-
			ansi.PrintableRuneWidth(helpNote),
	)), ellipsis)
	if m.statusMessage != "" {
		note = statusBarMessageStyle(note)
	} else {
		note = statusBarNoteStyle(note)
	}

	padding := max(0,
		m.common.width-
			ansi.PrintableRuneWidth(logo)-
			ansi.PrintableRuneWidth(note)-
			ansi.PrintableRuneWidth(scrollPercent)-
			ansi.PrintableRuneWidth(helpNote),
	)
	emptySpace := statusBarNoteStyle(strings.Repeat(" ", padding))

	fmt.Fprintf(b, "%s%s%s%s%s", logo, note, emptySpace, scrollPercent, helpNote)
}

func providerLabel(name string) string {
	switch name {
	case speech.ProviderGemini:
		return "Gemini"
	case speech.ProviderOpenAI:
		return "OpenAI"
	default:
		return name
	}
}

func (m readerModel) playbackVoiceLabel() string {
	sess := m.common.seq.Session()
	prov := sess.Provider()
	voice := sess.VoiceID()
	if voice == "" {
		return prov
	}
	return prov + "/" + voice
}

func (m readerModel) helpView() string {
	s := "\n"
	s += "space    play/pause          p        cycle provider\n"
	s += "s        stop                v        cycle voice\n"
	s += "enter    read from cursor    +/-      speed\n"
	s += "j/k      move cursor         c        copy segment\n"
	s += "u/d      ½ page up/down      e        edit document\n"
	s += "g/G      top/bottom          r        reload\n"
	s += "esc      back to files       q        quit\n"

	s = indent(s, 2)

	if m.common.width > 0 {
		lines := strings.Split(s, "\n")
		for i := range lines {
			n := max(m.common.width-ansi.PrintableRuneWidth(lines[i]), 0)
			lines[i] += strings.Repeat(" ", n)
		}
		s = strings.Join(lines, "\n")
	}
	return helpViewStyle(s)
}

// COMMANDS

// waitForSequencerEvent blocks on the playback event channel and forwards
// one event into the Tea loop. It re-arms itself from the update handler.
func waitForSequencerEvent(seq *speech.Sequencer) tea.Cmd {
	return func() tea.Msg {
		return seqEventMsg{ev: <-seq.Events()}
	}
}

// renderSegments runs glamour over each segment's source so the reader can
// highlight segments independently.
func renderSegments(cfg Config, segments []segment.Segment, width int) tea.Cmd {
	return func() tea.Msg {
		rendered := make([]renderedSegment, len(segments))
		for i, seg := range segments {
			out, err := glamourRenderSegment(cfg, seg, width)
			if err != nil {
				log.Error("glamour render", "segment", seg.ID, "error", err)
				out = seg.OriginalText
			}
			rendered[i] = renderedSegment{text: out}
		}
		return segmentsRenderedMsg{rendered: rendered, width: width}
	}
}

func glamourRenderSegment(cfg Config, seg segment.Segment, width int) (string, error) {
	if !cfg.GlamourEnabled {
		return seg.OriginalText, nil
	}

	w := int(cfg.GlamourMaxWidth) //nolint:gosec
	if width > 0 && (w == 0 || width < w) {
		w = width
	}
	// Leave room for the highlight border.
	if w > 4 {
		w -= 4
	}

	r, err := glamour.NewTermRenderer(
		glamour.WithStylePath(cfg.GlamourStyle),
		glamour.WithWordWrap(w),
	)
	if err != nil {
		return "", fmt.Errorf("create renderer: %w", err)
	}
	out, err := r.Render(seg.OriginalText)
	if err != nil {
		return "", fmt.Errorf("render segment: %w", err)
	}
	return strings.Trim(out, "\n"), nil
}

// FILE WATCHING

func (m *readerModel) watchFile() tea.Msg {
	if m.doc.localPath == "" || m.watcher == nil {
		return nil
	}
	dir := filepath.Dir(m.doc.localPath)
	if err := m.watcher.Add(dir); err != nil {
		log.Error("error adding dir to fsnotify watcher", "error", err)
		return nil
	}

	for {
		select {
		case event, ok := <-m.watcher.Events:
			if !ok || event.Name != m.doc.localPath {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			log.Debug("fsnotify event", "file", event.Name, "event", event.Op)
			return reloadMsg{}
		case err, ok := <-m.watcher.Errors:
			if !ok {
				continue
			}
			log.Debug("fsnotify error", "error", err)
		}
	}
}

func (m *readerModel) unwatchFile() {
	if m.doc.localPath == "" || m.watcher == nil {
		return
	}
	if err := m.watcher.Remove(filepath.Dir(m.doc.localPath)); err != nil {
		log.Debug("fsnotify unwatch", "error", err)
	}
}

package speech

import (
	"bufio"
	"fmt"
	"os/exec"
	"regexp"
	"runtime"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
)

// baseWordsPerMinute is the synthesizer speed that corresponds to rate 1.0.
const baseWordsPerMinute = 175

// Native speaks through the platform's speech synthesizer: `say` on macOS,
// espeak-ng (or espeak) elsewhere. Synthesis and playback are one
// operation; nothing is buffered or cached. At most one utterance is active
// process-wide; starting a new one cancels the previous.
type Native struct {
	mu      sync.Mutex
	current *utterance

	voicesOnce sync.Once
	voices     []VoiceOption

	// Overridable for tests.
	binary    string
	enumerate func() ([]VoiceOption, error)
	startCmd  func(voiceID string, wpm int, text string) (*exec.Cmd, error)
}

// NewNative creates the on-device provider.
func NewNative() *Native {
	n := &Native{}
	if runtime.GOOS == "darwin" {
		n.binary = "say"
		n.enumerate = func() ([]VoiceOption, error) { return enumerateSayVoices(n.binary) }
	} else {
		n.binary = "espeak-ng"
		if _, err := exec.LookPath(n.binary); err != nil {
			n.binary = "espeak"
		}
		n.enumerate = func() ([]VoiceOption, error) { return enumerateEspeakVoices(n.binary) }
	}
	n.startCmd = n.buildCommand
	return n
}

// Name implements Provider.
func (n *Native) Name() string { return ProviderNative }

// Voices implements Provider. The platform enumerates voices lazily; the
// first call may shell out, later calls reuse the result.
func (n *Native) Voices() []VoiceOption {
	n.voicesOnce.Do(func() {
		voices, err := n.enumerate()
		if err != nil {
			log.Debug("native voice enumeration failed", "err", err)
			return
		}
		n.voices = voices
	})
	return n.voices
}

// Speak implements LiveProvider. The voice is matched by exact ID against
// the enumerated list; with no match the platform default speaks. Any prior
// utterance is cancelled first.
func (n *Native) Speak(text, voiceID string, rate float64) (Handle, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.current != nil {
		n.current.Cancel()
		n.current = nil
	}

	if !n.voiceKnown(voiceID) {
		voiceID = "" // platform default
	}

	if rate <= 0 {
		rate = 1.0
	}
	wpm := int(baseWordsPerMinute * rate)

	cmd, err := n.startCmd(voiceID, wpm, text)
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", n.binary, err)
	}

	u := newUtterance(cmd)
	n.current = u
	return u, nil
}

func (n *Native) voiceKnown(id string) bool {
	if id == "" {
		return false
	}
	for _, v := range n.Voices() {
		if v.ID == id {
			return true
		}
	}
	return false
}

func (n *Native) buildCommand(voiceID string, wpm int, text string) (*exec.Cmd, error) {
	args := []string{}
	if voiceID != "" {
		args = append(args, "-v", voiceID)
	}
	switch n.binary {
	case "say":
		args = append(args, "-r", fmt.Sprint(wpm))
	default:
		args = append(args, "-s", fmt.Sprint(wpm))
	}
	args = append(args, text)
	return exec.Command(n.binary, args...), nil
}

// utterance wraps a running synthesizer process as a Handle.
type utterance struct {
	cmd  *exec.Cmd
	done chan struct{}
	once sync.Once
}

func newUtterance(cmd *exec.Cmd) *utterance {
	u := &utterance{cmd: cmd, done: make(chan struct{})}
	go func() {
		_ = cmd.Wait()
		u.once.Do(func() { close(u.done) })
	}()
	return u
}

// Done implements Handle.
func (u *utterance) Done() <-chan struct{} { return u.done }

// Cancel implements Handle. Killing the process stops audible output; the
// waiting goroutine closes done, so completion resolves rather than errors.
func (u *utterance) Cancel() {
	if u.cmd.Process != nil {
		_ = u.cmd.Process.Kill()
	}
	u.once.Do(func() { close(u.done) })
}

// SetRate implements Handle. The synthesizer cannot change speed
// mid-utterance; the new rate takes effect on the next Speak.
func (u *utterance) SetRate(float64) {}

// sayVoiceLine matches `say -v ?` output: name, language tag, sample text.
var sayVoiceLine = regexp.MustCompile(`^(\S.*?)\s{2,}([a-z]{2}[_-][A-Za-z]+)\s+#`)

func enumerateSayVoices(binary string) ([]VoiceOption, error) {
	out, err := exec.Command(binary, "-v", "?").Output()
	if err != nil {
		return nil, fmt.Errorf("list voices: %w", err)
	}
	return parseSayVoices(string(out)), nil
}

func parseSayVoices(out string) []VoiceOption {
	var voices []VoiceOption
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		m := sayVoiceLine.FindStringSubmatch(sc.Text())
		if m == nil {
			continue
		}
		name := strings.TrimSpace(m[1])
		voices = append(voices, VoiceOption{
			ID:          name,
			DisplayName: fmt.Sprintf("%s (%s)", name, m[2]),
			Provider:    ProviderNative,
		})
	}
	return voices
}

func enumerateEspeakVoices(binary string) ([]VoiceOption, error) {
	out, err := exec.Command(binary, "--voices").Output()
	if err != nil {
		return nil, fmt.Errorf("list voices: %w", err)
	}
	return parseEspeakVoices(string(out)), nil
}

// parseEspeakVoices reads the espeak voice table. Columns: Pty, Language,
// Age/Gender, VoiceName, File, Other Languages. The voice file name is the
// selector `-v` accepts.
func parseEspeakVoices(out string) []VoiceOption {
	var voices []VoiceOption
	sc := bufio.NewScanner(strings.NewReader(out))
	first := true
	for sc.Scan() {
		line := sc.Text()
		if first { // header row
			first = false
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		lang, ageGender, name := fields[1], fields[2], fields[3]

		// The column is either a bare gender letter or age/gender.
		g := ageGender
		if i := strings.IndexByte(g, '/'); i >= 0 {
			g = g[i+1:]
		}
		gender := ""
		switch g {
		case "M":
			gender = "Male"
		case "F":
			gender = "Female"
		}

		voices = append(voices, VoiceOption{
			ID:          name,
			DisplayName: fmt.Sprintf("%s (%s)", name, lang),
			Provider:    ProviderNative,
			Gender:      gender,
		})
	}
	return voices
}

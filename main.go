// Package main provides the entry point for the MarkdownReader CLI.
package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/glamour/styles"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/mitchellh/go-homedir"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/sanmzh/MarkdownReader-TTS/internal/speech"
	"github.com/sanmzh/MarkdownReader-TTS/ui"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile   string
	style        string
	width        uint
	showAllFiles bool
	mouse        bool
	providerName string
	voiceID      string
	speed        float64
	showSample   bool

	rootCmd = &cobra.Command{
		Use:   "mdreader [SOURCE|DIR]",
		Short: "Read markdown aloud, segment by segment",
		Long: paragraph(
			fmt.Sprintf("\nRender markdown in the terminal and %s through a TTS provider.", keyword("read it aloud")),
		),
		SilenceErrors:    false,
		SilenceUsage:     true,
		TraverseChildren: true,
		Args:             cobra.MaximumNArgs(1),
		ValidArgsFunction: func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
			return nil, cobra.ShellCompDirectiveDefault
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return validateOptions(cmd)
		},
		RunE: execute,
	}
)

// credentials are read from the environment only and live for the process.
// They are never written to the config file.
type credentials struct {
	GeminiKey string `env:"GEMINI_API_KEY"`
	OpenAIKey string `env:"OPENAI_API_KEY"`
}

// validateStyle checks if the style is a default style, if not, checks that
// the custom style exists.
func validateStyle(style string) error {
	if style != "" && style != styles.AutoStyle && styles.DefaultStyles[style] == nil {
		style = expandPath(style)
		if _, err := os.Stat(style); errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("specified style does not exist: %s", style)
		} else if err != nil {
			return fmt.Errorf("unable to stat file: %w", err)
		}
	}
	return nil
}

func validateOptions(cmd *cobra.Command) error {
	// grab config values from Viper
	width = viper.GetUint("width")
	mouse = viper.GetBool("mouse")
	showAllFiles = viper.GetBool("all")
	providerName = viper.GetString("provider")
	voiceID = viper.GetString("voice")
	speed = viper.GetFloat64("speed")

	switch providerName {
	case speech.ProviderGemini, speech.ProviderOpenAI, speech.ProviderNative:
	default:
		return fmt.Errorf("unknown provider %q (want %s, %s or %s)",
			providerName, speech.ProviderGemini, speech.ProviderOpenAI, speech.ProviderNative)
	}
	if speed < 0.5 || speed > 2.0 {
		return fmt.Errorf("speed must be between 0.5 and 2.0, got %.2f", speed)
	}

	style = viper.GetString("style")
	if err := validateStyle(style); err != nil {
		return err
	}

	isTerminal := term.IsTerminal(int(os.Stdout.Fd()))
	if !isTerminal && !cmd.Flags().Changed("style") {
		style = "notty"
	}

	// Detect terminal width
	if !cmd.Flags().Changed("width") {
		if isTerminal && width == 0 {
			w, _, err := term.GetSize(int(os.Stdout.Fd()))
			if err == nil {
				width = uint(w) //nolint:gosec
			}
			if width > 120 {
				width = 120
			}
		}
		if width == 0 {
			width = 80
		}
	}
	return nil
}

func stdinIsPipe() (bool, error) {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false, fmt.Errorf("unable to stat stdin: %w", err)
	}
	if stat.Mode()&os.ModeCharDevice == 0 || stat.Size() > 0 {
		return true, nil
	}
	return false, nil
}

func execute(cmd *cobra.Command, args []string) error {
	if showSample {
		return runTUI("", sampleDocument)
	}

	// if stdin is a pipe then use stdin for input. note that you can also
	// explicitly use a - to read from stdin.
	if yes, err := stdinIsPipe(); err != nil {
		return err
	} else if yes {
		return executeStdin(cmd)
	}

	switch len(args) {
	// TUI browser on cwd
	case 0:
		return runTUI("", "")

	case 1:
		if args[0] == "-" {
			return executeStdin(cmd)
		}
		path, err := homedir.Expand(args[0])
		if err != nil {
			path = args[0]
		}
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("unable to open %s: %w", path, err)
		}
		if info.IsDir() {
			abs, err := filepath.Abs(path)
			if err != nil {
				return fmt.Errorf("unable to resolve %s: %w", path, err)
			}
			return runTUI(abs, "")
		}

		// Plain render when stdout is not a terminal.
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("unable to read file: %w", err)
			}
			return renderToWriter(string(data), os.Stdout)
		}
		return runTUI(path, "")
	}
	return nil
}

func executeStdin(_ *cobra.Command) error {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("unable to read stdin: %w", err)
	}
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return renderToWriter(string(data), os.Stdout)
	}
	return runTUI("", string(data))
}

// renderToWriter is the non-interactive path: glamour straight to the
// writer, no narration.
func renderToWriter(content string, w io.Writer) error {
	r, err := glamour.NewTermRenderer(
		glamour.WithColorProfile(lipgloss.ColorProfile()),
		glamour.WithStylePath(style),
		glamour.WithWordWrap(int(width)), //nolint:gosec
	)
	if err != nil {
		return fmt.Errorf("unable to create renderer: %w", err)
	}
	out, err := r.Render(content)
	if err != nil {
		return fmt.Errorf("unable to render markdown: %w", err)
	}
	if _, err := fmt.Fprint(w, out); err != nil {
		return fmt.Errorf("unable to write output: %w", err)
	}
	return nil
}

func runTUI(path string, content string) error {
	cfg, err := env.ParseAs[ui.Config]()
	if err != nil {
		return fmt.Errorf("error parsing config: %w", err)
	}

	// use style set in env, or the validated flag value
	if err := validateStyle(cfg.GlamourStyle); err != nil || cfg.GlamourStyle == "" {
		cfg.GlamourStyle = style
	}

	cfg.Path = path
	cfg.ShowAllFiles = showAllFiles
	cfg.GlamourMaxWidth = width
	cfg.EnableMouse = mouse
	cfg.Provider = providerName
	cfg.Voice = voiceID
	cfg.Speed = speed
	cfg.HighlightColor = viper.GetString("highlight")
	cfg.ImagePauseSeconds = viper.GetFloat64("imagepause")

	creds, err := env.ParseAs[credentials]()
	if err != nil {
		return fmt.Errorf("error reading credentials: %w", err)
	}

	gemini := speech.NewGemini(creds.GeminiKey)
	openai := speech.NewOpenAI(creds.OpenAIKey)
	native := speech.NewNative()

	providers := map[string]speech.Provider{
		gemini.Name(): gemini,
		openai.Name(): openai,
		native.Name(): native,
	}
	providerOrder := []string{gemini.Name(), openai.Name(), native.Name()}

	voice := cfg.Voice
	if voice == "" {
		if prov, ok := providers[cfg.Provider]; ok && len(prov.Voices()) > 0 {
			voice = prov.Voices()[0].ID
		}
	}

	session := speech.NewSession(cfg.Provider, voice, cfg.Speed)
	seq := speech.NewSequencer(session, providers, log.Default())
	if cfg.ImagePauseSeconds > 0 {
		seq.SetImagePause(time.Duration(cfg.ImagePauseSeconds * float64(time.Second)))
	}

	if _, err := ui.NewProgram(cfg, seq, providers, providerOrder, content).Run(); err != nil {
		return fmt.Errorf("unable to run tui program: %w", err)
	}
	return nil
}

func expandPath(path string) string {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return path
	}
	return expanded
}

func main() {
	closer, err := setupLog()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if err := rootCmd.Execute(); err != nil {
		_ = closer()
		os.Exit(1)
	}
	_ = closer()
}

func init() {
	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", viper.GetViper().ConfigFileUsed()))
	rootCmd.Flags().StringVarP(&style, "style", "s", styles.AutoStyle, "style name or JSON path")
	rootCmd.Flags().UintVarP(&width, "width", "w", 0, "word-wrap at width (set to 0 to disable)")
	rootCmd.Flags().BoolVarP(&showAllFiles, "all", "a", false, "show system files and directories (TUI-mode only)")
	rootCmd.Flags().BoolVarP(&mouse, "mouse", "m", false, "enable mouse wheel (TUI-mode only)")
	_ = rootCmd.Flags().MarkHidden("mouse")
	rootCmd.Flags().StringVar(&providerName, "provider", speech.ProviderGemini, "TTS provider (gemini/openai/native)")
	rootCmd.Flags().StringVar(&voiceID, "voice", "", "voice ID within the provider")
	rootCmd.Flags().Float64Var(&speed, "speed", 1.0, "playback speed (0.5 to 2.0)")
	rootCmd.Flags().BoolVar(&showSample, "sample", false, "open the built-in sample document")

	// Config bindings
	_ = viper.BindPFlag("style", rootCmd.Flags().Lookup("style"))
	_ = viper.BindPFlag("width", rootCmd.Flags().Lookup("width"))
	_ = viper.BindPFlag("mouse", rootCmd.Flags().Lookup("mouse"))
	_ = viper.BindPFlag("all", rootCmd.Flags().Lookup("all"))
	_ = viper.BindPFlag("provider", rootCmd.Flags().Lookup("provider"))
	_ = viper.BindPFlag("voice", rootCmd.Flags().Lookup("voice"))
	_ = viper.BindPFlag("speed", rootCmd.Flags().Lookup("speed"))

	viper.SetDefault("style", styles.AutoStyle)
	viper.SetDefault("width", 0)
	viper.SetDefault("all", true)
	viper.SetDefault("provider", speech.ProviderGemini)
	viper.SetDefault("voice", "")
	viper.SetDefault("speed", 1.0)
	viper.SetDefault("highlight", "212")
	viper.SetDefault("imagepause", 1.0)

	rootCmd.AddCommand(configCmd, manCmd)
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, "mdreader")
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not find the configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, "mdreader")}, dirs...)
	}

	if c := os.Getenv("MDREADER_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName("mdreader")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("mdreader")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", viper.ConfigFileUsed())
		return
	}

	if viper.ConfigFileUsed() == "" {
		configFile = filepath.Join(dirs[0], "mdreader.yml")
	}
	if err := ensureConfigFile(); err != nil {
		log.Error("Could not create default configuration", "error", err)
	}
}

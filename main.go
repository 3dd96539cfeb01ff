package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/joho/godotenv"

	"hearsay/bridge"
	"hearsay/bus"
	"hearsay/orchestrator"
	"hearsay/store"
	"hearsay/tui"
)

// Build info - set via ldflags
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Styles
var (
	successStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#95E1A3"))

	errorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF6B6B"))

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#A8A8A8"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#4ECDC4")).
			Padding(1, 2).
			MarginTop(1).
			MarginBottom(1)
)

func main() {
	// Load .env file if it exists (won't error if missing)
	_ = godotenv.Load()

	args := os.Args[1:]
	if len(args) > 0 {
		switch args[0] {
		case "watch":
			runWatch(args[1:])
			return
		case "transcribe":
			runTranscribe(args[1:])
			return
		case "config":
			runConfig()
			return
		case "update":
			runUpdate()
			return
		case "version", "-version", "--version", "-v":
			printVersion()
			return
		case "help", "-h", "--help":
			printUsage()
			return
		default:
			fmt.Println(errorStyle.Render("Unknown command: " + args[0]))
			printUsage()
			os.Exit(1)
		}
	}

	runChat()
}

// runChat opens the interactive chat and transcription surface.
func runChat() {
	s, err := openStore()
	if err != nil {
		fmt.Println(errorStyle.Render("Error: " + err.Error()))
		os.Exit(1)
	}

	b := bus.New()
	bridges := bridge.NewManager(bridge.WithDebug(os.Getenv("HEARSAY_DEBUG") != ""))
	orch := orchestrator.New(s, b, bridges)

	ctx, cancel := signalContext()
	defer cancel()
	go orch.Run(ctx)

	if err := tui.Run(s, b); err != nil {
		fmt.Println(errorStyle.Render("Error: " + err.Error()))
		os.Exit(1)
	}
}

// openStore opens the state file and seeds the API key from the
// environment when the store has none yet.
func openStore() (*store.FileStore, error) {
	s, err := store.Open()
	if err != nil {
		return nil, err
	}
	if key := os.Getenv("GROQ_API_KEY"); key != "" {
		cfg, err := s.Config()
		if err == nil && cfg.APIKey == "" {
			cfg.APIKey = key
			_ = s.SaveConfig(cfg)
		}
	}
	return s, nil
}

// signalContext cancels on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printVersion() {
	fmt.Printf("hearsay %s\n", version)
	fmt.Printf("  commit: %s\n", commit)
	fmt.Printf("  built:  %s\n", date)
	fmt.Printf("  go:     %s\n", runtime.Version())
	fmt.Printf("  os/arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

func printUsage() {
	fmt.Println(`hearsay - audio transcription and AI chat companion

USAGE:
    hearsay                      Open the chat UI
    hearsay watch [options]      Watch downloads and serve the event feed
    hearsay transcribe [source]  Transcribe a file, a URL, or the clipboard URL
    hearsay config               Configure the Groq API key and model
    hearsay update               Update to the latest release
    hearsay version              Print version information

ENVIRONMENT:
    GROQ_API_KEY     Seeds the stored API key when none is configured
    HEARSAY_HOME     Overrides the state directory (default ~/.hearsay)
    HEARSAY_DEBUG    Enables debug output`)
}

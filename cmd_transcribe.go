package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/huh/spinner"

	"hearsay/bridge"
	"hearsay/groq"
)

// runTranscribe is the one-shot transcription command. The source is a
// local file, an http(s) URL, or, with no argument, a URL read from
// the clipboard.
func runTranscribe(args []string) {
	fs := flag.NewFlagSet("transcribe", flag.ExitOnError)
	language := fs.String("language", "", "ISO-639-1 language hint")
	model := fs.String("model", groq.ModelWhisperLargeV3Turbo, "transcription model")
	copyFlag := fs.Bool("copy", false, "copy the transcript to the clipboard")
	fs.Parse(args)

	s, err := openStore()
	if err != nil {
		fmt.Println(errorStyle.Render("Error: " + err.Error()))
		os.Exit(1)
	}
	cfg, err := s.Config()
	if err != nil {
		fmt.Println(errorStyle.Render("Error: " + err.Error()))
		os.Exit(1)
	}
	if cfg.APIKey == "" {
		fmt.Println(errorStyle.Render("No Groq API key configured."))
		fmt.Println(infoStyle.Render(groq.GetAPIKeyHelp()))
		os.Exit(1)
	}

	source := ""
	if fs.NArg() > 0 {
		source = fs.Arg(0)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()

	data, fetchedType, name, err := loadSource(ctx, source)
	if err != nil {
		fmt.Println(errorStyle.Render("Error: " + err.Error()))
		os.Exit(1)
	}

	mimeType, err := groq.ResolveMIMEType(fetchedType, "", name)
	if err != nil {
		fmt.Println(errorStyle.Render("Error: " + err.Error()))
		os.Exit(1)
	}

	client, err := groq.NewClient(cfg.APIKey, groq.WithDebug(os.Getenv("HEARSAY_DEBUG") != ""))
	if err != nil {
		fmt.Println(errorStyle.Render("Error: " + err.Error()))
		os.Exit(1)
	}

	var resp *groq.TranscribeResponse
	var transcribeErr error
	err = spinner.New().
		Title(fmt.Sprintf("Transcribing %s...", name)).
		Action(func() {
			resp, transcribeErr = client.Transcribe(ctx, &groq.TranscribeRequest{
				Audio:    data,
				MIMEType: mimeType,
				Model:    *model,
				Language: *language,
			})
		}).
		Run()
	if transcribeErr != nil {
		fmt.Println(errorStyle.Render("Transcription failed: " + transcribeErr.Error()))
		os.Exit(1)
	}
	if err != nil {
		fmt.Println(errorStyle.Render("Error: " + err.Error()))
		os.Exit(1)
	}

	summary := fmt.Sprintf("Transcript (%s", name)
	if resp.Duration > 0 {
		summary += fmt.Sprintf(", %.0fs", resp.Duration)
	}
	summary += ")"
	fmt.Println(boxStyle.Render(successStyle.Render(summary) + "\n\n" + resp.Text))

	if *copyFlag {
		if err := clipboard.WriteAll(resp.Text); err != nil {
			fmt.Println(errorStyle.Render("Could not copy to clipboard: " + err.Error()))
		} else {
			fmt.Println(infoStyle.Render("Copied to clipboard."))
		}
	}
}

// loadSource resolves the transcription input to raw bytes plus the
// fetched Content-Type (empty for local files) and a display name.
func loadSource(ctx context.Context, source string) ([]byte, string, string, error) {
	br, err := bridge.New(bridge.WithDebug(os.Getenv("HEARSAY_DEBUG") != ""))
	if err != nil {
		return nil, "", "", err
	}

	if source == "" {
		text, err := br.ReadClipboard()
		if err != nil {
			return nil, "", "", fmt.Errorf("no source given and clipboard unusable: %w", err)
		}
		source = text
		fmt.Println(infoStyle.Render("Using clipboard URL: " + source))
	}

	if isRemote(source) {
		res, err := br.FetchAudio(ctx, source)
		if err != nil {
			return nil, "", "", err
		}
		return res.Data, res.ContentType, filepath.Base(source), nil
	}

	data, err := os.ReadFile(source)
	if err != nil {
		return nil, "", "", fmt.Errorf("could not read %s: %w", source, err)
	}
	return data, "", filepath.Base(source), nil
}

func isRemote(source string) bool {
	return len(source) > 8 && (source[:7] == "http://" || source[:8] == "https://")
}

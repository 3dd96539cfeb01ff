package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"

	"hearsay/groq"
	"hearsay/store"
)

// runConfig opens the interactive configuration form and persists the
// API key and chat model choice.
func runConfig() {
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

	apiKey := cfg.APIKey
	model := cfg.ModelOrDefault()

	keyInput := huh.NewInput().
		Title("Groq API key").
		Description("Create one at https://console.groq.com/keys").
		EchoMode(huh.EchoModePassword).
		Validate(func(v string) error {
			if strings.TrimSpace(v) == "" {
				return fmt.Errorf("the API key cannot be empty")
			}
			return nil
		}).
		Value(&apiKey)

	modelSelect := huh.NewSelect[string]().
		Title("Chat model").
		Options(
			huh.NewOption("Llama 3.3 70B Versatile (default)", groq.ModelLlama33Versatile),
			huh.NewOption("Llama 3.1 8B Instant (fast)", groq.ModelLlama31Instant),
		).
		Value(&model)

	err = huh.NewForm(huh.NewGroup(keyInput, modelSelect)).
		WithTheme(huh.ThemeCatppuccin()).
		Run()
	if err != nil {
		if err == huh.ErrUserAborted {
			fmt.Println(infoStyle.Render("Configuration unchanged."))
			return
		}
		fmt.Println(errorStyle.Render("Error: " + err.Error()))
		os.Exit(1)
	}

	if err := s.SaveConfig(store.Config{APIKey: strings.TrimSpace(apiKey), Model: model}); err != nil {
		fmt.Println(errorStyle.Render("Error: " + err.Error()))
		os.Exit(1)
	}
	fmt.Println(successStyle.Render("Configuration saved."))
}

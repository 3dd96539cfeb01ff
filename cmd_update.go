package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/creativeprojects/go-selfupdate"
)

// updateRepo is the GitHub repository releases are published from.
const updateRepo = "harmonyvt/hearsay"

// runUpdate replaces the running binary with the latest release.
func runUpdate() {
	if version == "dev" {
		fmt.Println(infoStyle.Render("Development build; skipping self-update."))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	latest, found, err := selfupdate.DetectLatest(ctx, selfupdate.ParseSlug(updateRepo))
	if err != nil {
		fmt.Println(errorStyle.Render("Could not check for updates: " + err.Error()))
		os.Exit(1)
	}
	if !found {
		fmt.Println(infoStyle.Render("No release found for this platform."))
		return
	}
	if latest.LessOrEqual(version) {
		fmt.Println(successStyle.Render("hearsay " + version + " is up to date."))
		return
	}

	exe, err := os.Executable()
	if err != nil {
		fmt.Println(errorStyle.Render("Could not locate the running binary: " + err.Error()))
		os.Exit(1)
	}

	fmt.Println(infoStyle.Render(fmt.Sprintf("Updating %s -> %s...", version, latest.Version())))
	if err := selfupdate.UpdateTo(ctx, latest.AssetURL, latest.AssetName, exe); err != nil {
		fmt.Println(errorStyle.Render("Update failed: " + err.Error()))
		os.Exit(1)
	}
	fmt.Println(successStyle.Render("Updated to " + latest.Version() + "."))
}

package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestIsRemote(t *testing.T) {
	cases := []struct {
		source string
		want   bool
	}{
		{"https://example.com/a.mp3", true},
		{"http://example.com/a.mp3", true},
		{"/home/user/Downloads/a.mp3", false},
		{"a.mp3", false},
		{"ftp://example.com/a.mp3", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := isRemote(tc.source); got != tc.want {
			t.Errorf("isRemote(%q) = %v, want %v", tc.source, got, tc.want)
		}
	}
}

func TestLoadSourceLocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.mp3")
	if err := os.WriteFile(path, []byte{0xFF, 0xFB}, 0644); err != nil {
		t.Fatal(err)
	}

	data, fetchedType, name, err := loadSource(context.Background(), path)
	if err != nil {
		t.Fatalf("loadSource: %v", err)
	}
	if len(data) != 2 || fetchedType != "" || name != "clip.mp3" {
		t.Errorf("unexpected result: %d bytes, type %q, name %q", len(data), fetchedType, name)
	}

	if _, _, _, err := loadSource(context.Background(), filepath.Join(t.TempDir(), "missing.mp3")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestOpenStoreSeedsAPIKeyFromEnv(t *testing.T) {
	t.Setenv("HEARSAY_HOME", t.TempDir())
	t.Setenv("GROQ_API_KEY", "gsk_from_env")

	s, err := openStore()
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	cfg, err := s.Config()
	if err != nil {
		t.Fatalf("Config: %v", err)
	}
	if cfg.APIKey != "gsk_from_env" {
		t.Errorf("env seed missing: %+v", cfg)
	}

	// An already configured key is never overwritten by the env.
	t.Setenv("GROQ_API_KEY", "gsk_other")
	s, err = openStore()
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	cfg, _ = s.Config()
	if cfg.APIKey != "gsk_from_env" {
		t.Errorf("stored key was clobbered: %+v", cfg)
	}
}

package toolbar

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() error = %v", err)
	}
	if len(cfg.Buttons) != len(known) {
		t.Fatalf("default shows %d buttons, want all %d", len(cfg.Buttons), len(known))
	}
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Has(ButtonBold) {
		t.Fatal("default toolbar is missing bold")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "toolbar.yaml")
	body := "buttons: [bold, italic, link]\nfont_sizes: [10, 20]\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.Buttons) != 3 || !cfg.Has(ButtonLink) || cfg.Has(ButtonUndo) {
		t.Fatalf("buttons = %v", cfg.Buttons)
	}
	if len(cfg.FontSizes) != 2 || cfg.FontSizes[1] != 20 {
		t.Fatalf("font sizes = %v", cfg.FontSizes)
	}
	if len(cfg.Colors) != len(Default().Colors) {
		t.Fatalf("colors should default, got %v", cfg.Colors)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("Load() error = nil for missing file")
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown button", "buttons: [bold, sparkle]", `unknown button "sparkle"`},
		{"duplicate button", "buttons: [bold, bold]", `duplicate button "bold"`},
		{"bad color", `colors: ["red; x"]`, "invalid color"},
		{"bad size", "font_sizes: [0]", "invalid font size 0"},
		{"not yaml", "buttons: [", "parse toolbar config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Parse() error = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

// Package toolbar describes which formatting controls the editing surface offers.
// It is presentation configuration only; the document model accepts every
// format regardless of what the toolbar shows.
package toolbar

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Button is one toolbar control.
type Button string

const (
	ButtonBold          Button = "bold"
	ButtonItalic        Button = "italic"
	ButtonUnderline     Button = "underline"
	ButtonStrikethrough Button = "strikethrough"
	ButtonHeading1      Button = "heading1"
	ButtonHeading2      Button = "heading2"
	ButtonHeading3      Button = "heading3"
	ButtonBlockquote    Button = "blockquote"
	ButtonBulletList    Button = "bullet-list"
	ButtonNumberedList  Button = "numbered-list"
	ButtonAlignLeft     Button = "align-left"
	ButtonAlignCenter   Button = "align-center"
	ButtonAlignRight    Button = "align-right"
	ButtonLink          Button = "link"
	ButtonColor         Button = "color"
	ButtonFontSize      Button = "font-size"
	ButtonClear         Button = "clear"
	ButtonUndo          Button = "undo"
	ButtonRedo          Button = "redo"
)

var known = map[Button]bool{
	ButtonBold: true, ButtonItalic: true, ButtonUnderline: true, ButtonStrikethrough: true,
	ButtonHeading1: true, ButtonHeading2: true, ButtonHeading3: true, ButtonBlockquote: true,
	ButtonBulletList: true, ButtonNumberedList: true,
	ButtonAlignLeft: true, ButtonAlignCenter: true, ButtonAlignRight: true,
	ButtonLink: true, ButtonColor: true, ButtonFontSize: true,
	ButtonClear: true, ButtonUndo: true, ButtonRedo: true,
}

// Config is the toolbar layout served to editing clients.
type Config struct {
	Buttons   []Button `yaml:"buttons" json:"buttons"`
	Colors    []string `yaml:"colors" json:"colors"`
	FontSizes []int    `yaml:"font_sizes" json:"fontSizes"`
}

// Default returns the layout used when no file is configured.
func Default() Config {
	return Config{
		Buttons: []Button{
			ButtonBold, ButtonItalic, ButtonUnderline, ButtonStrikethrough,
			ButtonHeading1, ButtonHeading2, ButtonHeading3, ButtonBlockquote,
			ButtonBulletList, ButtonNumberedList,
			ButtonAlignLeft, ButtonAlignCenter, ButtonAlignRight,
			ButtonLink, ButtonColor, ButtonFontSize,
			ButtonClear, ButtonUndo, ButtonRedo,
		},
		Colors:    []string{"#000000", "#444444", "#c0392b", "#2980b9", "#27ae60"},
		FontSizes: []int{12, 14, 16, 18, 24},
	}
}

// Load reads a YAML layout from path. An empty path returns Default.
func Load(path string) (Config, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read toolbar config: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML layout. Omitted lists fall back to the
// default entries.
func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse toolbar config: %w", err)
	}
	def := Default()
	if cfg.Buttons == nil {
		cfg.Buttons = def.Buttons
	}
	if cfg.Colors == nil {
		cfg.Colors = def.Colors
	}
	if cfg.FontSizes == nil {
		cfg.FontSizes = def.FontSizes
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every entry against the known controls.
func (c Config) Validate() error {
	var errs []error
	seen := make(map[Button]bool, len(c.Buttons))
	for _, b := range c.Buttons {
		if !known[b] {
			errs = append(errs, fmt.Errorf("unknown button %q", b))
			continue
		}
		if seen[b] {
			errs = append(errs, fmt.Errorf("duplicate button %q", b))
		}
		seen[b] = true
	}
	for _, color := range c.Colors {
		if color == "" || strings.ContainsAny(color, `;:"'<>`) {
			errs = append(errs, fmt.Errorf("invalid color %q", color))
		}
	}
	for _, size := range c.FontSizes {
		if size <= 0 {
			errs = append(errs, fmt.Errorf("invalid font size %d", size))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("validate toolbar config: %w", errors.Join(errs...))
	}
	return nil
}

// Has reports whether b is shown.
func (c Config) Has(b Button) bool {
	for _, item := range c.Buttons {
		if item == b {
			return true
		}
	}
	return false
}

package discord

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Layout controls how a mission is rendered as a Discord embed
type Layout struct {
	Color          string       `yaml:"color"`
	TitleFallback  string       `yaml:"title_fallback"`
	Placeholder    string       `yaml:"placeholder"`
	CurrencySuffix string       `yaml:"currency_suffix"`
	DateFormat     string       `yaml:"date_format"`
	Labels         Labels       `yaml:"labels"`
	Thread         ThreadLayout `yaml:"thread"`

	color int
}

// Labels are the embed field names
type Labels struct {
	Description     string `yaml:"description"`
	Skills          string `yaml:"skills"`
	ExperienceLevel string `yaml:"experience_level"`
	Duration        string `yaml:"duration"`
	Location        string `yaml:"location"`
	Price           string `yaml:"price"`
	WorkType        string `yaml:"work_type"`
	MissionType     string `yaml:"mission_type"`
	PublishedOn     string `yaml:"published_on"`
	ID              string `yaml:"id"`
}

// ThreadLayout configures the discussion thread opened under each message
type ThreadLayout struct {
	Disabled           bool   `yaml:"disabled"`
	Prefix             string `yaml:"prefix"`
	Fallback           string `yaml:"fallback"`
	AutoArchiveMinutes int    `yaml:"auto_archive_minutes"`
}

// Discord only accepts these auto-archive durations
var validArchiveMinutes = map[int]bool{60: true, 1440: true, 4320: true, 10080: true}

// DefaultLayout returns the built-in French layout
func DefaultLayout() *Layout {
	l := &Layout{
		Color:          "#00b0f4",
		TitleFallback:  "Sans titre",
		Placeholder:    "Non spécifié",
		CurrencySuffix: "€",
		DateFormat:     "02/01/2006",
		Labels: Labels{
			Description:     "🚀 Mission:",
			Skills:          "🛠️ Compétences",
			ExperienceLevel: "🧠 Experience Level",
			Duration:        "⏳ Duration",
			Location:        "📍 Location:",
			Price:           "💰 Price:",
			WorkType:        "🏢 Travail:",
			MissionType:     "⏳ Type de mission:",
			PublishedOn:     "📅 Publié le:",
			ID:              "ID:",
		},
		Thread: ThreadLayout{
			Prefix:             "Discussion - ",
			Fallback:           "Mission",
			AutoArchiveMinutes: 10080,
		},
		color: 0x00b0f4,
	}
	return l
}

// LoadLayout reads a YAML layout file. Keys missing from the file keep their
// default value. An empty path returns the default layout.
func LoadLayout(path string) (*Layout, error) {
	l := DefaultLayout()
	if path == "" {
		return l, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read layout: %w", err)
	}

	if err := yaml.Unmarshal(data, l); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := l.normalize(); err != nil {
		return nil, fmt.Errorf("invalid layout %s: %w", path, err)
	}

	slog.Info("embed layout loaded", "path", path)

	return l, nil
}


// ColorValue returns the embed color as an RGB integer
func (l *Layout) ColorValue() int {
	return l.color
}

func (l *Layout) normalize() error {
	c, err := strconv.ParseInt(strings.TrimPrefix(strings.TrimSpace(l.Color), "#"), 16, 32)
	if err != nil || c < 0 || c > 0xffffff {
		return fmt.Errorf("color %q is not a #rrggbb value", l.Color)
	}
	l.color = int(c)

	if l.DateFormat == "" {
		l.DateFormat = "02/01/2006"
	}
	if l.Thread.Fallback == "" {
		l.Thread.Fallback = "Mission"
	}
	if !validArchiveMinutes[l.Thread.AutoArchiveMinutes] {
		return fmt.Errorf("thread auto_archive_minutes must be one of 60, 1440, 4320, 10080 (got %d)", l.Thread.AutoArchiveMinutes)
	}

	return nil
}

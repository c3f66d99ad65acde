package discord

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/terra-clan/mission-bot/internal/models"
)

// Discord API limits
const (
	maxTitleLength      = 256
	maxFieldValueLength = 1024
	maxThreadNameLength = 100
)

// BuildEmbed renders a mission with a fixed field order
func BuildEmbed(m *models.Mission, layout *Layout) *discordgo.MessageEmbed {
	if layout == nil {
		layout = DefaultLayout()
	}

	title := m.Title
	if title == "" {
		title = layout.TitleFallback
	}

	embed := &discordgo.MessageEmbed{
		Title: truncate(title, maxTitleLength),
		Color: layout.ColorValue(),
	}

	if m.Description != "" {
		embed.Fields = append(embed.Fields, field(layout.Labels.Description, m.Description, false))
	}

	skills := layout.Placeholder
	if len(m.Skills) > 0 {
		skills = strings.Join(m.Skills, ", ")
	}

	embed.Fields = append(embed.Fields,
		field(layout.Labels.Skills, skills, true),
		field(layout.Labels.ExperienceLevel, orPlaceholder(m.ExperienceLevel, layout), true),
		field(layout.Labels.Duration, orPlaceholder(m.Duration, layout), true),
		field(layout.Labels.Location, orPlaceholder(m.Location, layout), false),
		field(layout.Labels.Price, formatPrice(m, layout), true),
		field(layout.Labels.WorkType, orPlaceholder(m.WorkType, layout), true),
		field(layout.Labels.MissionType, orPlaceholder(m.MissionType, layout), true),
	)

	date := layout.Placeholder
	if !m.CreatedAt.IsZero() {
		date = m.CreatedAt.Format(layout.DateFormat)
	}
	embed.Footer = &discordgo.MessageEmbedFooter{
		Text: fmt.Sprintf("%s %s | %s %s", layout.Labels.PublishedOn, date, layout.Labels.ID, m.ID),
	}

	return embed
}

// ThreadName names the discussion thread after the mission title
func ThreadName(m *models.Mission, layout *Layout) string {
	if layout == nil {
		layout = DefaultLayout()
	}
	title := m.Title
	if title == "" {
		title = layout.Thread.Fallback
	}
	return truncate(layout.Thread.Prefix+title, maxThreadNameLength)
}

func field(name, value string, inline bool) *discordgo.MessageEmbedField {
	return &discordgo.MessageEmbedField{
		Name:   name,
		Value:  truncate(value, maxFieldValueLength),
		Inline: inline,
	}
}

func orPlaceholder(v string, layout *Layout) string {
	if strings.TrimSpace(v) == "" {
		return layout.Placeholder
	}
	return v
}

func formatPrice(m *models.Mission, layout *Layout) string {
	if m.Price == nil {
		return layout.Placeholder
	}
	return strconv.FormatFloat(*m.Price, 'f', -1, 64) + layout.CurrencySuffix
}

// truncate cuts s to at most n runes, ending with an ellipsis when cut
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}

package models

import (
	"errors"
	"slices"
	"strings"
	"time"
)

// ErrEmptyPublicationRef is returned when a mission is marked published without a message id
var ErrEmptyPublicationRef = errors.New("publication ref is required")

// Mission represents a freelance job posting, independent of where it is stored
type Mission struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	Skills          []string   `json:"skills"`
	ExperienceLevel string     `json:"experience_level,omitempty"`
	Duration        string     `json:"duration,omitempty"`
	Location        string     `json:"location,omitempty"`
	Price           *float64   `json:"price,omitempty"`
	InvalidPrice    string     `json:"invalid_price,omitempty"` // raw source value that is not a number
	WorkType        string     `json:"work_type,omitempty"`
	MissionType     string     `json:"mission_type,omitempty"`
	IsPublished     bool       `json:"is_published"`
	PublicationRef  string     `json:"publication_ref,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	PublishedAt     *time.Time `json:"published_at,omitempty"`
}

// MarkPublished flips the mission to published and records the message id.
// The flag is never set without a ref.
func (m *Mission) MarkPublished(ref string) error {
	if ref == "" {
		return ErrEmptyPublicationRef
	}
	m.IsPublished = true
	m.PublicationRef = ref
	return nil
}

// Clone returns a deep copy of the mission
func (m *Mission) Clone() *Mission {
	c := *m
	c.Skills = slices.Clone(m.Skills)
	if m.Price != nil {
		p := *m.Price
		c.Price = &p
	}
	if m.PublishedAt != nil {
		t := *m.PublishedAt
		c.PublishedAt = &t
	}
	return &c
}

// SearchCriteria filters missions by skills, location and price range
type SearchCriteria struct {
	Skills   []string
	Location string
	MinPrice *float64
	MaxPrice *float64
}

// IsEmpty returns true if no criterion is set
func (c SearchCriteria) IsEmpty() bool {
	return len(c.Skills) == 0 && c.Location == "" && c.MinPrice == nil && c.MaxPrice == nil
}

// Matches reports whether the mission satisfies every criterion.
// All requested skills must be present (case-insensitive).
// A price bound excludes missions without a price.
func (c SearchCriteria) Matches(m *Mission) bool {
	for _, want := range c.Skills {
		if !slices.ContainsFunc(m.Skills, func(have string) bool {
			return strings.EqualFold(have, want)
		}) {
			return false
		}
	}

	if c.Location != "" && !strings.EqualFold(m.Location, c.Location) {
		return false
	}

	if c.MinPrice != nil && (m.Price == nil || *m.Price < *c.MinPrice) {
		return false
	}
	if c.MaxPrice != nil && (m.Price == nil || *m.Price > *c.MaxPrice) {
		return false
	}

	return true
}

// Filter returns the missions matching the criteria, preserving order
func (c SearchCriteria) Filter(missions []*Mission) []*Mission {
	out := make([]*Mission, 0, len(missions))
	for _, m := range missions {
		if c.Matches(m) {
			out = append(out, m)
		}
	}
	return out
}

// CreateMissionRequest represents a request to create a mission through the admin API
type CreateMissionRequest struct {
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	Skills          []string `json:"skills,omitempty"`
	ExperienceLevel string   `json:"experience_level,omitempty"`
	Duration        string   `json:"duration,omitempty"`
	Location        string   `json:"location,omitempty"`
	Price           *float64 `json:"price,omitempty"`
	WorkType        string   `json:"work_type,omitempty"`
	MissionType     string   `json:"mission_type,omitempty"`
}

// ToMission builds an unpublished mission from the request.
// Skill entries are trimmed and blanks dropped.
func (r CreateMissionRequest) ToMission(id string, createdAt time.Time) *Mission {
	skills := make([]string, 0, len(r.Skills))
	for _, s := range r.Skills {
		if s = strings.TrimSpace(s); s != "" {
			skills = append(skills, s)
		}
	}

	return &Mission{
		ID:              id,
		Title:           strings.TrimSpace(r.Title),
		Description:     strings.TrimSpace(r.Description),
		Skills:          skills,
		ExperienceLevel: r.ExperienceLevel,
		Duration:        r.Duration,
		Location:        r.Location,
		Price:           r.Price,
		WorkType:        r.WorkType,
		MissionType:     r.MissionType,
		CreatedAt:       createdAt,
	}
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/jomei/notionapi"

	"github.com/terra-clan/mission-bot/internal/models"
)

// Notion database property names
const (
	PropTitle           = "Title"
	PropDescription     = "Description"
	PropSkills          = "Skills"
	PropExperienceLevel = "Experience_level"
	PropDuration        = "Duration"
	PropLocation        = "Localisation"
	PropPrice           = "Price"
	PropWorkType        = "Work"
	PropMissionType     = "Type_of_"
	PropPublished       = "DiscordPublication"
	PropMessageID       = "DiscordIdMessage"
)

const defaultNotionPageSize = 100

// notionDatabases is the subset of notionapi.DatabaseService we use
type notionDatabases interface {
	Query(ctx context.Context, id notionapi.DatabaseID, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error)
	Get(ctx context.Context, id notionapi.DatabaseID) (*notionapi.Database, error)
}

// notionPages is the subset of notionapi.PageService we use
type notionPages interface {
	Get(ctx context.Context, id notionapi.PageID) (*notionapi.Page, error)
	Update(ctx context.Context, id notionapi.PageID, req *notionapi.PageUpdateRequest) (*notionapi.Page, error)
}

// NotionConfig holds Notion connection configuration
type NotionConfig struct {
	Token      string
	DatabaseID string
	PageSize   int
	// RefAsNumber writes the message id into a number property, for
	// databases where DiscordIdMessage was created as a number column
	RefAsNumber bool
}

// NotionRepository implements MissionStore on top of a Notion database
type NotionRepository struct {
	databases   notionDatabases
	pages       notionPages
	databaseID  notionapi.DatabaseID
	pageSize    int
	refAsNumber bool
}

// NewNotionRepository creates a repository backed by the Notion API
func NewNotionRepository(cfg NotionConfig) *NotionRepository {
	client := notionapi.NewClient(notionapi.Token(cfg.Token))
	return newNotionRepository(client.Database, client.Page, cfg)
}

func newNotionRepository(databases notionDatabases, pages notionPages, cfg NotionConfig) *NotionRepository {
	pageSize := cfg.PageSize
	if pageSize <= 0 || pageSize > defaultNotionPageSize {
		pageSize = defaultNotionPageSize
	}
	return &NotionRepository{
		databases:   databases,
		pages:       pages,
		databaseID:  notionapi.DatabaseID(cfg.DatabaseID),
		pageSize:    pageSize,
		refAsNumber: cfg.RefAsNumber,
	}
}

// Ping checks that the database is reachable with the configured token
func (r *NotionRepository) Ping(ctx context.Context) error {
	if _, err := r.databases.Get(ctx, r.databaseID); err != nil {
		return fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	return nil
}

// Close is a no-op; the Notion client holds no long-lived connection
func (r *NotionRepository) Close() error {
	return nil
}

// FetchUnpublished queries every page with an unchecked publication box,
// following cursors until the result set is exhausted
func (r *NotionRepository) FetchUnpublished(ctx context.Context) ([]*models.Mission, error) {
	req := &notionapi.DatabaseQueryRequest{
		// checkbox "equals false" is dropped by omitempty, so ask for "not true"
		Filter: &notionapi.PropertyFilter{
			Property: PropPublished,
			Checkbox: &notionapi.CheckboxFilterCondition{DoesNotEqual: true},
		},
		Sorts: []notionapi.SortObject{
			{Timestamp: notionapi.TimestampCreated, Direction: notionapi.SortOrderASC},
		},
		PageSize: r.pageSize,
	}

	missions := make([]*models.Mission, 0)
	pages := 0

	for {
		resp, err := r.databases.Query(ctx, r.databaseID, req)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to query notion database: %w", ErrSourceUnavailable, err)
		}
		pages++

		for i := range resp.Results {
			page := &resp.Results[i]
			m, err := pageToMission(page)
			if err != nil {
				slog.Warn("skipping unreadable notion page", "page_id", string(page.ID), "error", err)
				continue
			}
			if m.IsPublished {
				continue
			}
			missions = append(missions, m)
		}

		if !resp.HasMore || resp.NextCursor == "" {
			break
		}
		req.StartCursor = resp.NextCursor
	}

	sort.SliceStable(missions, func(i, j int) bool {
		return missions[i].CreatedAt.Before(missions[j].CreatedAt)
	})

	slog.Debug("fetched unpublished missions from notion", "count", len(missions), "pages", pages)

	return missions, nil
}

// GetMission loads a single page
func (r *NotionRepository) GetMission(ctx context.Context, id string) (*models.Mission, error) {
	page, err := r.pages.Get(ctx, notionapi.PageID(id))
	if err != nil {
		if notionStatus(err) == http.StatusNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: failed to get notion page: %w", ErrSourceUnavailable, err)
	}
	return pageToMission(page)
}

// MarkPublished writes the message id and checks the publication box in a
// single page update, so both land or neither does
func (r *NotionRepository) MarkPublished(ctx context.Context, missionID, ref string) error {
	if ref == "" {
		return models.ErrEmptyPublicationRef
	}

	refProp, err := r.refProperty(ref)
	if err != nil {
		return err
	}

	_, err = r.pages.Update(ctx, notionapi.PageID(missionID), &notionapi.PageUpdateRequest{
		Properties: notionapi.Properties{
			PropPublished: &notionapi.CheckboxProperty{
				Type:     notionapi.PropertyTypeCheckbox,
				Checkbox: true,
			},
			PropMessageID: refProp,
		},
	})
	if err != nil {
		if notionStatus(err) == http.StatusNotFound {
			return ErrNotFound
		}
		return fmt.Errorf("%w: failed to update notion page %s: %w", ErrSinkUnavailable, missionID, err)
	}

	return nil
}

func (r *NotionRepository) refProperty(ref string) (notionapi.Property, error) {
	if r.refAsNumber {
		n, err := strconv.ParseFloat(ref, 64)
		if err != nil {
			return nil, fmt.Errorf("message id %q is not numeric: %w", ref, err)
		}
		return &notionapi.NumberProperty{Type: notionapi.PropertyTypeNumber, Number: n}, nil
	}

	return &notionapi.RichTextProperty{
		Type: notionapi.PropertyTypeRichText,
		RichText: []notionapi.RichText{
			{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: ref}},
		},
	}, nil
}

// notionStatus returns the HTTP status carried by a Notion API error, or 0
func notionStatus(err error) int {
	var apiErr *notionapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// pageToMission translates a Notion page. Absent properties become zero
// values; a property of an unexpected type is a translation error.
func pageToMission(page *notionapi.Page) (*models.Mission, error) {
	if page == nil || page.ID == "" {
		return nil, errors.New("page has no id")
	}

	props := page.Properties
	m := &models.Mission{
		ID:        string(page.ID),
		CreatedAt: page.CreatedTime,
		Skills:    []string{},
	}

	var err error
	textFields := []struct {
		name string
		dst  *string
	}{
		{PropTitle, &m.Title},
		{PropDescription, &m.Description},
		{PropExperienceLevel, &m.ExperienceLevel},
		{PropDuration, &m.Duration},
		{PropLocation, &m.Location},
		{PropWorkType, &m.WorkType},
		{PropMissionType, &m.MissionType},
	}
	for _, f := range textFields {
		if *f.dst, err = textProperty(props, f.name); err != nil {
			return nil, err
		}
	}

	if m.Skills, err = skillsProperty(props); err != nil {
		return nil, err
	}

	applyNotionPrice(m, props[PropPrice])

	switch p := props[PropPublished].(type) {
	case nil:
	case *notionapi.CheckboxProperty:
		m.IsPublished = p.Checkbox
	default:
		return nil, fmt.Errorf("property %q has type %s, expected checkbox", PropPublished, p.GetType())
	}

	switch p := props[PropMessageID].(type) {
	case nil:
	case *notionapi.NumberProperty:
		if p.Number != 0 {
			m.PublicationRef = strconv.FormatFloat(p.Number, 'f', -1, 64)
		}
	case *notionapi.RichTextProperty:
		m.PublicationRef = joinRichText(p.RichText)
	default:
		return nil, fmt.Errorf("property %q has type %s, expected number or rich_text", PropMessageID, p.GetType())
	}

	return m, nil
}

func textProperty(props notionapi.Properties, name string) (string, error) {
	switch p := props[name].(type) {
	case nil:
		return "", nil
	case *notionapi.TitleProperty:
		return joinRichText(p.Title), nil
	case *notionapi.RichTextProperty:
		return joinRichText(p.RichText), nil
	case *notionapi.SelectProperty:
		return p.Select.Name, nil
	default:
		return "", fmt.Errorf("property %q has unsupported type %s", name, p.GetType())
	}
}

func skillsProperty(props notionapi.Properties) ([]string, error) {
	skills := []string{}
	switch p := props[PropSkills].(type) {
	case nil:
	case *notionapi.MultiSelectProperty:
		for _, opt := range p.MultiSelect {
			if opt.Name != "" {
				skills = append(skills, opt.Name)
			}
		}
	case *notionapi.RichTextProperty:
		for _, s := range strings.Split(joinRichText(p.RichText), ",") {
			if s = strings.TrimSpace(s); s != "" {
				skills = append(skills, s)
			}
		}
	default:
		return nil, fmt.Errorf("property %q has unsupported type %s", PropSkills, p.GetType())
	}
	return skills, nil
}

// applyNotionPrice maps the price property. Notion reports an empty number
// cell as 0, so 0 is treated as "no price".
func applyNotionPrice(m *models.Mission, prop notionapi.Property) {
	switch p := prop.(type) {
	case nil:
	case *notionapi.NumberProperty:
		if p.Number != 0 {
			n := p.Number
			m.Price = &n
		}
	case *notionapi.RichTextProperty:
		applyPrice(m, joinRichText(p.RichText))
	default:
		m.InvalidPrice = string(p.GetType())
	}
}

func joinRichText(parts []notionapi.RichText) string {
	var b strings.Builder
	for _, rt := range parts {
		if rt.PlainText != "" {
			b.WriteString(rt.PlainText)
		} else if rt.Text != nil {
			b.WriteString(rt.Text.Content)
		}
	}
	return strings.TrimSpace(b.String())
}

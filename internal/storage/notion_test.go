package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDatabases struct {
	pages    [][]notionapi.Page
	requests []notionapi.DatabaseQueryRequest
	queryErr error
	getErr   error
}

func (f *fakeDatabases) Query(_ context.Context, _ notionapi.DatabaseID, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	f.requests = append(f.requests, *req)
	if f.queryErr != nil {
		return nil, f.queryErr
	}

	idx := 0
	if req.StartCursor != "" {
		idx = int(req.StartCursor[len(req.StartCursor)-1] - '0')
	}
	resp := &notionapi.DatabaseQueryResponse{Results: f.pages[idx]}
	if idx+1 < len(f.pages) {
		resp.HasMore = true
		resp.NextCursor = notionapi.Cursor("cursor-" + string(rune('0'+idx+1)))
	}
	return resp, nil
}

func (f *fakeDatabases) Get(context.Context, notionapi.DatabaseID) (*notionapi.Database, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &notionapi.Database{}, nil
}

type fakePages struct {
	page      *notionapi.Page
	err       error
	updatedID notionapi.PageID
	update    *notionapi.PageUpdateRequest
}

func (f *fakePages) Get(context.Context, notionapi.PageID) (*notionapi.Page, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.page, nil
}

func (f *fakePages) Update(_ context.Context, id notionapi.PageID, req *notionapi.PageUpdateRequest) (*notionapi.Page, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.updatedID = id
	f.update = req
	return &notionapi.Page{ID: notionapi.ObjectID(id)}, nil
}

func richText(s string) []notionapi.RichText {
	return []notionapi.RichText{{PlainText: s}}
}

func missionPage(id, title string, created time.Time) notionapi.Page {
	return notionapi.Page{
		ID:          notionapi.ObjectID(id),
		CreatedTime: created,
		Properties: notionapi.Properties{
			PropTitle:       &notionapi.TitleProperty{Title: richText(title)},
			PropDescription: &notionapi.RichTextProperty{RichText: richText("Build a sync bot")},
			PropSkills: &notionapi.MultiSelectProperty{MultiSelect: []notionapi.Option{
				{Name: "Go"}, {Name: "Notion"},
			}},
			PropLocation:  &notionapi.SelectProperty{Select: notionapi.Option{Name: "Paris"}},
			PropPrice:     &notionapi.NumberProperty{Number: 450},
			PropPublished: &notionapi.CheckboxProperty{Checkbox: false},
		},
	}
}

func TestNotionFetchUnpublished_FollowsCursors(t *testing.T) {
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	db := &fakeDatabases{pages: [][]notionapi.Page{
		{missionPage("p1", "First", base), missionPage("p2", "Second", base.Add(time.Minute))},
		{missionPage("p3", "Third", base.Add(2 * time.Minute))},
	}}
	repo := newNotionRepository(db, &fakePages{}, NotionConfig{DatabaseID: "db"})

	missions, err := repo.FetchUnpublished(context.Background())
	require.NoError(t, err)
	require.Len(t, missions, 3)

	assert.Equal(t, "p1", missions[0].ID)
	assert.Equal(t, "p3", missions[2].ID)
	assert.Equal(t, "First", missions[0].Title)
	assert.Equal(t, []string{"Go", "Notion"}, missions[0].Skills)
	assert.Equal(t, "Paris", missions[0].Location)
	require.NotNil(t, missions[0].Price)
	assert.Equal(t, 450.0, *missions[0].Price)

	require.Len(t, db.requests, 2)
	assert.Empty(t, db.requests[0].StartCursor)
	assert.Equal(t, notionapi.Cursor("cursor-1"), db.requests[1].StartCursor)
	assert.Equal(t, defaultNotionPageSize, db.requests[0].PageSize)

	filter, ok := db.requests[0].Filter.(*notionapi.PropertyFilter)
	require.True(t, ok)
	assert.Equal(t, PropPublished, filter.Property)
	require.NotNil(t, filter.Checkbox)
	assert.True(t, filter.Checkbox.DoesNotEqual)
}

func TestNotionFetchUnpublished_SkipsUntranslatablePages(t *testing.T) {
	base := time.Now()
	broken := missionPage("bad", "Broken", base)
	broken.Properties[PropPublished] = &notionapi.RichTextProperty{RichText: richText("yes")}

	published := missionPage("done", "Done", base)
	published.Properties[PropPublished] = &notionapi.CheckboxProperty{Checkbox: true}

	db := &fakeDatabases{pages: [][]notionapi.Page{
		{broken, missionPage("ok", "Fine", base), published},
	}}
	repo := newNotionRepository(db, &fakePages{}, NotionConfig{DatabaseID: "db"})

	missions, err := repo.FetchUnpublished(context.Background())
	require.NoError(t, err)
	require.Len(t, missions, 1)
	assert.Equal(t, "ok", missions[0].ID)
}

func TestNotionFetchUnpublished_SourceUnavailable(t *testing.T) {
	db := &fakeDatabases{queryErr: &notionapi.Error{Status: 401, Code: "unauthorized", Message: "API token is invalid."}}
	repo := newNotionRepository(db, &fakePages{}, NotionConfig{DatabaseID: "db"})

	_, err := repo.FetchUnpublished(context.Background())
	require.ErrorIs(t, err, ErrSourceUnavailable)
}

func TestNotionPageToMission_Defaults(t *testing.T) {
	page := &notionapi.Page{
		ID:          "p1",
		CreatedTime: time.Now(),
		Properties: notionapi.Properties{
			PropTitle: &notionapi.TitleProperty{Title: richText("Only a title")},
			PropPrice: &notionapi.NumberProperty{Number: 0},
		},
	}

	m, err := pageToMission(page)
	require.NoError(t, err)
	assert.Equal(t, "Only a title", m.Title)
	assert.Empty(t, m.Description)
	assert.NotNil(t, m.Skills)
	assert.Empty(t, m.Skills)
	assert.Nil(t, m.Price)
	assert.False(t, m.IsPublished)
}

func TestNotionPageToMission_PriceVariants(t *testing.T) {
	page := &notionapi.Page{
		ID: "p1",
		Properties: notionapi.Properties{
			PropPrice: &notionapi.RichTextProperty{RichText: richText("a lot")},
		},
	}
	m, err := pageToMission(page)
	require.NoError(t, err)
	assert.Nil(t, m.Price)
	assert.Equal(t, "a lot", m.InvalidPrice)

	page.Properties[PropPrice] = &notionapi.RichTextProperty{RichText: richText("1200.50")}
	m, err = pageToMission(page)
	require.NoError(t, err)
	require.NotNil(t, m.Price)
	assert.Equal(t, 1200.5, *m.Price)
}

func TestNotionPageToMission_ReadsRefFromNumberOrText(t *testing.T) {
	page := &notionapi.Page{
		ID: "p1",
		Properties: notionapi.Properties{
			PropMessageID: &notionapi.NumberProperty{Number: 1234567},
		},
	}
	m, err := pageToMission(page)
	require.NoError(t, err)
	assert.Equal(t, "1234567", m.PublicationRef)

	page.Properties[PropMessageID] = &notionapi.RichTextProperty{RichText: richText("1187654321098765432")}
	m, err = pageToMission(page)
	require.NoError(t, err)
	assert.Equal(t, "1187654321098765432", m.PublicationRef)
}

func TestNotionMarkPublished(t *testing.T) {
	pages := &fakePages{}
	repo := newNotionRepository(&fakeDatabases{}, pages, NotionConfig{DatabaseID: "db"})

	require.NoError(t, repo.MarkPublished(context.Background(), "p1", "1187654321098765432"))
	assert.Equal(t, notionapi.PageID("p1"), pages.updatedID)
	require.NotNil(t, pages.update)

	checkbox, ok := pages.update.Properties[PropPublished].(*notionapi.CheckboxProperty)
	require.True(t, ok)
	assert.True(t, checkbox.Checkbox)

	ref, ok := pages.update.Properties[PropMessageID].(*notionapi.RichTextProperty)
	require.True(t, ok)
	require.Len(t, ref.RichText, 1)
	assert.Equal(t, "1187654321098765432", ref.RichText[0].Text.Content)
}

func TestNotionMarkPublished_NumberColumn(t *testing.T) {
	pages := &fakePages{}
	repo := newNotionRepository(&fakeDatabases{}, pages, NotionConfig{DatabaseID: "db", RefAsNumber: true})

	require.NoError(t, repo.MarkPublished(context.Background(), "p1", "42"))
	ref, ok := pages.update.Properties[PropMessageID].(*notionapi.NumberProperty)
	require.True(t, ok)
	assert.Equal(t, 42.0, ref.Number)

	assert.Error(t, repo.MarkPublished(context.Background(), "p1", "msg-42"))
}

func TestNotionMarkPublished_Errors(t *testing.T) {
	repo := newNotionRepository(&fakeDatabases{}, &fakePages{}, NotionConfig{DatabaseID: "db"})
	assert.Error(t, repo.MarkPublished(context.Background(), "p1", ""))

	notFound := &fakePages{err: &notionapi.Error{Status: 404, Code: "object_not_found"}}
	repo = newNotionRepository(&fakeDatabases{}, notFound, NotionConfig{DatabaseID: "db"})
	assert.ErrorIs(t, repo.MarkPublished(context.Background(), "gone", "42"), ErrNotFound)

	down := &fakePages{err: errors.New("connection reset")}
	repo = newNotionRepository(&fakeDatabases{}, down, NotionConfig{DatabaseID: "db"})
	assert.ErrorIs(t, repo.MarkPublished(context.Background(), "p1", "42"), ErrSinkUnavailable)
}

func TestNotionGetMissionAndPing(t *testing.T) {
	page := missionPage("p1", "First", time.Now())
	repo := newNotionRepository(&fakeDatabases{}, &fakePages{page: &page}, NotionConfig{DatabaseID: "db"})

	m, err := repo.GetMission(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "First", m.Title)
	require.NoError(t, repo.Ping(context.Background()))

	repo = newNotionRepository(
		&fakeDatabases{getErr: errors.New("timeout")},
		&fakePages{err: &notionapi.Error{Status: 404}},
		NotionConfig{DatabaseID: "db"},
	)
	_, err = repo.GetMission(context.Background(), "p1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, repo.Ping(context.Background()), ErrSourceUnavailable)
}

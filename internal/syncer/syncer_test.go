package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terra-clan/mission-bot/internal/models"
	"github.com/terra-clan/mission-bot/internal/notify"
	"github.com/terra-clan/mission-bot/internal/storage"
)

const longDescription = "A sufficiently detailed fifty-plus character description."

// memStore is an in-memory MissionStore
type memStore struct {
	mu       sync.Mutex
	missions map[string]*models.Mission
	fetchErr error
	markErr  map[string]error
	marked   [][2]string
	block    chan struct{}
}

func newMemStore(missions ...*models.Mission) *memStore {
	s := &memStore{missions: map[string]*models.Mission{}, markErr: map[string]error{}}
	for _, m := range missions {
		s.missions[m.ID] = m
	}
	return s
}

func (s *memStore) FetchUnpublished(ctx context.Context) ([]*models.Mission, error) {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	var out []*models.Mission
	for _, m := range s.missions {
		if !m.IsPublished {
			out = append(out, m.Clone())
		}
	}
	return out, nil
}

func (s *memStore) MarkPublished(_ context.Context, id, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.markErr[id]; err != nil {
		return err
	}
	m, ok := s.missions[id]
	if !ok {
		return storage.ErrNotFound
	}
	s.marked = append(s.marked, [2]string{id, ref})
	return m.MarkPublished(ref)
}

func (s *memStore) GetMission(_ context.Context, id string) (*models.Mission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.missions[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return m.Clone(), nil
}

func (s *memStore) get(id string) *models.Mission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.missions[id].Clone()
}

type fakePublisher struct {
	mu        sync.Mutex
	published []string
	failOn    map[string]error
	panicOn   string
	refs      map[string]string
	updates   []string
	updateErr error
	// seen records the IsPublished flag observed at publish time
	seen map[string]bool
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{failOn: map[string]error{}, refs: map[string]string{}, seen: map[string]bool{}}
}

func (p *fakePublisher) Publish(_ context.Context, m *models.Mission) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if m.ID == p.panicOn {
		panic("renderer exploded")
	}
	p.seen[m.ID] = m.IsPublished
	p.published = append(p.published, m.ID)
	if err := p.failOn[m.ID]; err != nil {
		return "", err
	}
	if ref, ok := p.refs[m.ID]; ok {
		return ref, nil
	}
	return fmt.Sprintf("msg-%d", len(p.published)), nil
}

func (p *fakePublisher) Update(_ context.Context, ref string, _ *models.Mission) error {
	p.updates = append(p.updates, ref)
	return p.updateErr
}

func (p *fakePublisher) calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.published...)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingNotifier) Notify(_ context.Context, e notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingNotifier) Close() error { return nil }

func (r *recordingNotifier) ofType(t notify.EventType) []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

var base = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func validMission(id string, offset time.Duration) *models.Mission {
	return &models.Mission{
		ID:          id,
		Title:       "Mission " + id,
		Description: longDescription,
		Skills:      []string{"Go"},
		CreatedAt:   base.Add(offset),
	}
}

func newTestSyncer(store *memStore, pub *fakePublisher, n notify.Notifier) *Syncer {
	return NewSyncer(Deps{
		Source:    store,
		Sink:      store,
		Publisher: pub,
		Notifier:  n,
	}, Config{Interval: time.Hour, IOTimeout: time.Second})
}

func TestRunOnce_PublishesAndMarks(t *testing.T) {
	m2 := &models.Mission{
		ID:          "m2",
		Title:       "Dev",
		Description: longDescription,
		Skills:      []string{"Go"},
	}
	store := newMemStore(m2)
	pub := newFakePublisher()
	pub.refs["m2"] = "msg-42"
	n := &recordingNotifier{}

	report, err := newTestSyncer(store, pub, n).RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, [][2]string{{"m2", "msg-42"}}, store.marked)
	got := store.get("m2")
	assert.True(t, got.IsPublished)
	assert.Equal(t, "msg-42", got.PublicationRef)
	assert.False(t, pub.seen["m2"], "mission must not be flagged before publish")

	assert.Equal(t, 1, report.Fetched)
	assert.Equal(t, 1, report.Published)
	res, ok := report.Result("m2")
	require.True(t, ok)
	assert.Equal(t, OutcomePublished, res.Outcome)
	assert.Equal(t, "msg-42", res.Ref)

	published := n.ofType(notify.EventMissionPublished)
	require.Len(t, published, 1)
	assert.Equal(t, "msg-42", published[0].Ref)
	assert.Len(t, n.ofType(notify.EventTickCompleted), 1)
}

func TestRunOnce_InvalidMissionIsNeverPublished(t *testing.T) {
	price := -5.0
	m1 := &models.Mission{ID: "m1", Title: "Dev", Description: "x", Price: &price}
	store := newMemStore(m1)
	pub := newFakePublisher()

	report, err := newTestSyncer(store, pub, nil).RunOnce(context.Background())
	require.NoError(t, err)

	assert.Empty(t, pub.calls())
	assert.Empty(t, store.marked)
	assert.False(t, store.get("m1").IsPublished)

	res, ok := report.Result("m1")
	require.True(t, ok)
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.Contains(t, res.Error, "Price must be between 0 and 100000")
	assert.Equal(t, 1, report.Skipped)
}

func TestRunOnce_OrderFollowsCreatedAt(t *testing.T) {
	store := newMemStore(
		validMission("t3", 3*time.Minute),
		validMission("t1", time.Minute),
		validMission("t2", 2*time.Minute),
	)
	pub := newFakePublisher()

	_, err := newTestSyncer(store, pub, nil).RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"t1", "t2", "t3"}, pub.calls())
}

func TestRunOnce_IsIdempotent(t *testing.T) {
	store := newMemStore(validMission("a", 0), validMission("b", time.Minute))
	pub := newFakePublisher()
	s := newTestSyncer(store, pub, nil)

	_, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, pub.calls(), 2)

	report, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Len(t, pub.calls(), 2, "second run must not publish again")
	assert.Equal(t, 0, report.Fetched)
}

func TestRunOnce_AlreadyPublishedIsSkipped(t *testing.T) {
	done := validMission("done", 0)
	done.IsPublished = true
	done.PublicationRef = "msg-1"

	// a source that ignores the published flag
	src := &staticSource{missions: []*models.Mission{done}}
	store := newMemStore()
	pub := newFakePublisher()

	s := NewSyncer(Deps{Source: src, Sink: store, Publisher: pub}, Config{})
	report, err := s.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Empty(t, pub.calls())
	assert.Equal(t, 1, report.Skipped)
}

type staticSource struct {
	missions []*models.Mission
}

func (s *staticSource) FetchUnpublished(context.Context) ([]*models.Mission, error) {
	return s.missions, nil
}

func TestRunOnce_PublishFailureIsIsolated(t *testing.T) {
	store := newMemStore(
		validMission("first", 0),
		validMission("second", time.Minute),
		validMission("third", 2*time.Minute),
	)
	pub := newFakePublisher()
	pub.failOn["second"] = errors.New("discord down")
	n := &recordingNotifier{}

	report, err := newTestSyncer(store, pub, n).RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"first", "second", "third"}, pub.calls())
	assert.True(t, store.get("first").IsPublished)
	assert.False(t, store.get("second").IsPublished)
	assert.True(t, store.get("third").IsPublished)

	assert.Equal(t, 2, report.Published)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, n.ofType(notify.EventMissionFailed), 1)
}

func TestRunOnce_PanicIsIsolated(t *testing.T) {
	store := newMemStore(validMission("boom", 0), validMission("fine", time.Minute))
	pub := newFakePublisher()
	pub.panicOn = "boom"

	report, err := newTestSyncer(store, pub, nil).RunOnce(context.Background())
	require.NoError(t, err)

	res, _ := report.Result("boom")
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.True(t, store.get("fine").IsPublished)
}

func TestRunOnce_MarkFailureIsInconsistentState(t *testing.T) {
	store := newMemStore(validMission("drift", 0), validMission("ok", time.Minute))
	store.markErr["drift"] = fmt.Errorf("%w: connection refused", storage.ErrSinkUnavailable)
	pub := newFakePublisher()
	n := &recordingNotifier{}

	report, err := newTestSyncer(store, pub, n).RunOnce(context.Background())
	require.NoError(t, err)

	res, ok := report.Result("drift")
	require.True(t, ok)
	assert.Equal(t, OutcomeInconsistent, res.Outcome)
	assert.Equal(t, "msg-1", res.Ref)
	assert.False(t, store.get("drift").IsPublished)
	assert.True(t, store.get("ok").IsPublished, "batch continues after inconsistency")

	alerts := n.ofType(notify.EventInconsistentState)
	require.Len(t, alerts, 1)
	assert.Equal(t, "drift", alerts[0].MissionID)
	assert.Equal(t, "msg-1", alerts[0].Ref)
	assert.Equal(t, 1, report.Inconsistent)
}

func TestRunOnce_FetchFailureAbortsTick(t *testing.T) {
	store := newMemStore(validMission("a", 0))
	store.fetchErr = fmt.Errorf("%w: 401", storage.ErrSourceUnavailable)
	pub := newFakePublisher()
	s := newTestSyncer(store, pub, nil)

	report, err := s.RunOnce(context.Background())
	require.ErrorIs(t, err, storage.ErrSourceUnavailable)
	require.NotNil(t, report)
	assert.NotEmpty(t, report.FetchError)
	assert.Empty(t, pub.calls())

	// next tick recovers
	store.fetchErr = nil
	_, err = s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, pub.calls())
	assert.Empty(t, s.LastReport().FetchError)
}

func TestRunOnce_SingleFlight(t *testing.T) {
	store := newMemStore(validMission("a", 0))
	store.block = make(chan struct{})
	s := newTestSyncer(store, newFakePublisher(), nil)

	done := make(chan struct{})
	go func() {
		_, _ = s.RunOnce(context.Background())
		close(done)
	}()

	require.Eventually(t, s.Running, time.Second, 5*time.Millisecond)

	_, err := s.RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrTickInProgress)

	close(store.block)
	<-done
	assert.False(t, s.Running())
}

func TestStart_RunsImmediatelyAndOnTrigger(t *testing.T) {
	store := newMemStore(validMission("a", 0))
	pub := newFakePublisher()
	s := newTestSyncer(store, pub, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	require.Eventually(t, func() bool { return len(pub.calls()) == 1 }, time.Second, 5*time.Millisecond,
		"first tick must not wait for the interval")

	store.mu.Lock()
	store.missions["b"] = validMission("b", time.Minute)
	store.mu.Unlock()

	s.Trigger()
	s.Trigger()
	require.Eventually(t, func() bool { return len(pub.calls()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, pub.calls())
}

func TestLastReport_IsACopy(t *testing.T) {
	store := newMemStore(validMission("a", 0))
	s := newTestSyncer(store, newFakePublisher(), nil)
	assert.Nil(t, s.LastReport())

	_, err := s.RunOnce(context.Background())
	require.NoError(t, err)

	r := s.LastReport()
	r.Results[0].Outcome = OutcomeFailed
	assert.Equal(t, OutcomePublished, s.LastReport().Results[0].Outcome)
}

func TestRefresh(t *testing.T) {
	published := validMission("pub", 0)
	published.IsPublished = true
	published.PublicationRef = "msg-7"
	store := newMemStore(published, validMission("draft", time.Minute))
	pub := newFakePublisher()

	m, err := Refresh(context.Background(), store, pub, "pub")
	require.NoError(t, err)
	assert.Equal(t, "pub", m.ID)
	assert.Equal(t, []string{"msg-7"}, pub.updates)

	_, err = Refresh(context.Background(), store, pub, "draft")
	assert.ErrorIs(t, err, ErrNotPublished)

	_, err = Refresh(context.Background(), store, pub, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	pub.updateErr = errors.New("unknown message")
	_, err = Refresh(context.Background(), store, pub, "pub")
	assert.Error(t, err)
}

func TestInconsistentStateError(t *testing.T) {
	err := error(&InconsistentStateError{MissionID: "m", Ref: "r", Err: storage.ErrSinkUnavailable})
	assert.ErrorIs(t, err, storage.ErrSinkUnavailable)
	assert.Contains(t, err.Error(), "mission m was published as r")
}

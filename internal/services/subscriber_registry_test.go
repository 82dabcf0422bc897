package services

import (
	"context"
	"github.com/asaskevich/EventBus"
	"github.com/maxaizer/fh-notifier/internal/domain/events"
	"github.com/maxaizer/fh-notifier/internal/domain/models"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"sync"
	"testing"
	"time"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) LoadAll(ctx context.Context) ([]models.Subscriber, error) {
	args := m.Called(ctx)
	subscribers, _ := args.Get(0).([]models.Subscriber)
	return subscribers, args.Error(1)
}

func (m *mockStore) Save(ctx context.Context, subscriber models.Subscriber) error {
	return m.Called(ctx, subscriber).Error(0)
}

func (m *mockStore) AddDelivered(ctx context.Context, subscriberID, projectID int64) error {
	return m.Called(ctx, subscriberID, projectID).Error(0)
}

func (m *mockStore) TrimDelivered(ctx context.Context, subscriberID int64, keepFrom int64) error {
	return m.Called(ctx, subscriberID, keepFrom).Error(0)
}

func newPermissiveStore() *mockStore {
	store := &mockStore{}
	store.On("Save", mock.Anything, mock.Anything).Return(nil)
	store.On("AddDelivered", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	store.On("TrimDelivered", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	return store
}

var testIntervals = IntervalConfig{Default: 60, Min: 30, Max: 3600}

func newTestRegistry(t *testing.T, store subscriberStore) (*SubscriberRegistry, EventBus.Bus) {
	t.Helper()

	bus := EventBus.New()
	registry, err := NewSubscriberRegistry(bus, store, testIntervals)
	require.NoError(t, err)
	return registry, bus
}

func Test_Registry_SetInterval_WhenBelowMinimum_ShouldClamp(t *testing.T) {

	store := newPermissiveStore()
	registry, _ := newTestRegistry(t, store)
	ctx := context.Background()

	registry.Activate(ctx, 1, models.Profile{})

	assert.Equal(t, 30, registry.SetInterval(ctx, 1, 5))
	assert.Equal(t, 30, registry.Interval(1))
	assert.Equal(t, 3600, registry.SetInterval(ctx, 1, 100000))

	store.AssertCalled(t, "Save", mock.Anything, mock.MatchedBy(func(s models.Subscriber) bool {
		return s.ID == 1 && s.Interval == 30
	}))
}

func Test_Registry_Activate_WhenCalledTwice_ShouldUpsertSingleRecord(t *testing.T) {

	registry, _ := newTestRegistry(t, newPermissiveStore())
	ctx := context.Background()

	first := registry.Activate(ctx, 7, models.Profile{Username: "old"})
	assert.True(t, first.Active)
	assert.Equal(t, 60, first.Interval)
	assert.True(t, first.Filter.IsEmpty())

	require.True(t, registry.SetFilter(ctx, 7, models.FilterSpec{SkillIDs: []int{1}}))
	registry.SetInterval(ctx, 7, 120)

	second := registry.Activate(ctx, 7, models.Profile{Username: "new"})
	assert.Equal(t, []int{1}, second.Filter.SkillIDs)
	assert.Equal(t, 120, second.Interval)

	require.True(t, registry.SetFilter(ctx, 7, models.FilterSpec{SkillIDs: []int{2}}))

	active := registry.ActiveSubscribers()
	require.Len(t, active, 1)
	assert.Equal(t, "new", active[0].Username)
	assert.Equal(t, []int{2}, active[0].Filter.SkillIDs)
	assert.Equal(t, 1, registry.Stats(time.Now()).TotalCount)
}

func Test_Registry_Deactivate_ShouldReportWhetherChanged(t *testing.T) {

	registry, _ := newTestRegistry(t, newPermissiveStore())
	ctx := context.Background()

	assert.False(t, registry.Deactivate(ctx, 1))

	registry.Activate(ctx, 1, models.Profile{})
	assert.True(t, registry.Deactivate(ctx, 1))
	assert.False(t, registry.Deactivate(ctx, 1))
	assert.False(t, registry.IsActive(1))
}

func Test_Registry_SetFilter_WhenUnknownSubscriber_ShouldIgnore(t *testing.T) {

	store := newPermissiveStore()
	registry, _ := newTestRegistry(t, store)

	assert.False(t, registry.SetFilter(context.Background(), 99, models.FilterSpec{OnlyForPlus: true}))
	assert.False(t, registry.ClearFilter(context.Background(), 99))
	store.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func Test_Registry_ClearFilter_ShouldDescribeAllProjects(t *testing.T) {

	registry, _ := newTestRegistry(t, newPermissiveStore())
	ctx := context.Background()

	registry.Activate(ctx, 1, models.Profile{})
	registry.SetFilter(ctx, 1, models.FilterSpec{OnlyForPlus: true})
	assert.Equal(t, "тільки для Plus-профілів", registry.FilterDescription(1))

	registry.ClearFilter(ctx, 1)
	assert.Equal(t, "без фільтрів (усі проекти)", registry.FilterDescription(1))
}

func Test_Registry_MarkDelivered_ShouldBeIdempotent(t *testing.T) {

	store := newPermissiveStore()
	registry, _ := newTestRegistry(t, store)
	ctx := context.Background()

	registry.Activate(ctx, 1, models.Profile{})
	registry.MarkDelivered(ctx, 1, 100)
	registry.MarkDelivered(ctx, 1, 100)

	assert.True(t, registry.HasBeenDelivered(1, 100))
	assert.False(t, registry.HasBeenDelivered(1, 101))
	assert.False(t, registry.HasBeenDelivered(2, 100))
	store.AssertNumberOfCalls(t, "AddDelivered", 1)
}

func Test_Registry_PruneDeliveredHistory_ShouldKeepLargestIds(t *testing.T) {

	subscriber := models.NewSubscriber(1, models.Profile{}, 60, time.Now())
	subscriber.Active = true
	for i := int64(1); i <= 1200; i++ {
		subscriber.Delivered[i*3] = struct{}{}
	}
	small := models.NewSubscriber(2, models.Profile{}, 60, time.Now())
	small.Delivered[5] = struct{}{}

	store := newPermissiveStore()
	store.On("LoadAll", mock.Anything).Return([]models.Subscriber{subscriber.Clone(), small.Clone()}, nil)

	registry, _ := newTestRegistry(t, store)
	require.NoError(t, registry.Load(context.Background()))

	trimmed := registry.PruneDeliveredHistory(context.Background(), 1000, 500)
	assert.Equal(t, 1, trimmed)

	active := registry.ActiveSubscribers()
	require.Len(t, active, 1)
	ids := active[0].DeliveredIDs()
	require.Len(t, ids, 500)
	assert.Equal(t, int64(701*3), ids[0])
	assert.Equal(t, int64(1200*3), ids[len(ids)-1])

	store.AssertCalled(t, "TrimDelivered", mock.Anything, int64(1), int64(701*3))
	store.AssertNumberOfCalls(t, "TrimDelivered", 1)
	assert.True(t, registry.HasBeenDelivered(2, 5))
}

func Test_Registry_MinActiveInterval(t *testing.T) {

	registry, _ := newTestRegistry(t, newPermissiveStore())
	ctx := context.Background()

	assert.Equal(t, 60, registry.MinActiveInterval())

	registry.Activate(ctx, 1, models.Profile{})
	registry.SetInterval(ctx, 1, 120)
	registry.Activate(ctx, 2, models.Profile{})
	registry.SetInterval(ctx, 2, 45)
	registry.Activate(ctx, 3, models.Profile{})
	registry.SetInterval(ctx, 3, 30)
	registry.Deactivate(ctx, 3)

	assert.Equal(t, 45, registry.MinActiveInterval())
	assert.Equal(t, 2, registry.ActiveCount())
}

func Test_Registry_Stats(t *testing.T) {

	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

	old := models.NewSubscriber(1, models.Profile{}, 60, now.Add(-48*time.Hour))
	old.Active = true
	old.Delivered[1] = struct{}{}
	old.Delivered[2] = struct{}{}
	fresh := models.NewSubscriber(2, models.Profile{}, 60, now.Add(-time.Hour))
	fresh.Delivered[3] = struct{}{}

	store := newPermissiveStore()
	store.On("LoadAll", mock.Anything).Return([]models.Subscriber{old.Clone(), fresh.Clone()}, nil)
	registry, _ := newTestRegistry(t, store)
	require.NoError(t, registry.Load(context.Background()))

	stats := registry.Stats(now)
	assert.Equal(t, models.Stats{ActiveCount: 1, TotalCount: 2, DeliveredCount: 3, NewSubscribers24h: 1}, stats)
}

func Test_Registry_ActiveSubscribers_ShouldReturnCopies(t *testing.T) {

	registry, _ := newTestRegistry(t, newPermissiveStore())
	ctx := context.Background()

	registry.Activate(ctx, 1, models.Profile{})
	registry.MarkDelivered(ctx, 1, 10)

	snapshot := registry.ActiveSubscribers()
	snapshot[0].Delivered[11] = struct{}{}
	snapshot[0].Active = false

	assert.False(t, registry.HasBeenDelivered(1, 11))
	assert.True(t, registry.IsActive(1))
}

func Test_Registry_WhenSaveFails_ShouldKeepChangeAndReconcileLater(t *testing.T) {

	store := &mockStore{}
	store.On("Save", mock.Anything, mock.Anything).Return(errors.New("database is locked")).Once()
	store.On("Save", mock.Anything, mock.Anything).Return(nil)
	store.On("AddDelivered", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	store.On("TrimDelivered", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	registry, _ := newTestRegistry(t, store)
	ctx := context.Background()

	registry.Activate(ctx, 1, models.Profile{FirstName: "Ann"})
	assert.True(t, registry.IsActive(1))
	assert.Equal(t, 1, registry.DirtyCount())

	assert.Equal(t, 1, registry.ReconcileDirty(ctx))
	assert.Equal(t, 0, registry.DirtyCount())
	store.AssertNumberOfCalls(t, "Save", 2)
}

func Test_Registry_WhenSubscriberBlocked_ShouldDeactivate(t *testing.T) {

	registry, bus := newTestRegistry(t, newPermissiveStore())
	registry.Activate(context.Background(), 5, models.Profile{})

	bus.Publish(events.SubscriberBlockedTopic, events.SubscriberBlocked{SubscriberID: 5, Reason: "forbidden"})

	assert.False(t, registry.IsActive(5))
}

func Test_Registry_Load_ShouldClampStoredIntervals(t *testing.T) {

	stored := models.NewSubscriber(1, models.Profile{}, 1, time.Now())
	stored.Active = true

	store := newPermissiveStore()
	store.On("LoadAll", mock.Anything).Return([]models.Subscriber{stored.Clone()}, nil)
	registry, _ := newTestRegistry(t, store)

	require.NoError(t, registry.Load(context.Background()))
	assert.Equal(t, 30, registry.Interval(1))
	assert.Equal(t, 60, registry.Interval(404))
}

// slowFirstSaveStore holds the first Save until release is closed and records every saved state.
type slowFirstSaveStore struct {
	mu      sync.Mutex
	calls   int
	release chan struct{}
	saved   []models.Subscriber
}

func (s *slowFirstSaveStore) LoadAll(context.Context) ([]models.Subscriber, error) { return nil, nil }

func (s *slowFirstSaveStore) Save(_ context.Context, subscriber models.Subscriber) error {
	s.mu.Lock()
	s.calls++
	first := s.calls == 1
	s.mu.Unlock()

	if first {
		<-s.release
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, subscriber)
	return nil
}

func (s *slowFirstSaveStore) AddDelivered(context.Context, int64, int64) error { return nil }

func (s *slowFirstSaveStore) TrimDelivered(context.Context, int64, int64) error { return nil }

func (s *slowFirstSaveStore) last() models.Subscriber {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved[len(s.saved)-1]
}

func Test_Registry_WhenWritesOverlap_ShouldPersistLatestState(t *testing.T) {

	store := &slowFirstSaveStore{release: make(chan struct{})}
	registry, _ := newTestRegistry(t, store)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		registry.Activate(ctx, 1, models.Profile{Username: "dev"})
	}()
	require.Eventually(t, func() bool { return registry.IsActive(1) }, time.Second, time.Millisecond)

	wg.Add(1)
	go func() {
		defer wg.Done()
		registry.Deactivate(ctx, 1)
	}()
	require.Eventually(t, func() bool { return !registry.IsActive(1) }, time.Second, time.Millisecond)

	close(store.release)
	wg.Wait()

	assert.False(t, store.last().Active)
}

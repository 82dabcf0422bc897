package services

import (
	"cmp"
	"context"
	"fmt"
	"github.com/asaskevich/EventBus"
	"github.com/maxaizer/fh-notifier/internal/domain/events"
	"github.com/maxaizer/fh-notifier/internal/domain/models"
	"github.com/maxaizer/fh-notifier/internal/logger"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
	"slices"
	"sync"
	"time"
)

type subscriberStore interface {
	LoadAll(ctx context.Context) ([]models.Subscriber, error)
	Save(ctx context.Context, subscriber models.Subscriber) error
	AddDelivered(ctx context.Context, subscriberID, projectID int64) error
	TrimDelivered(ctx context.Context, subscriberID int64, keepFrom int64) error
}

type IntervalConfig struct {
	Default int
	Min     int
	Max     int
}

// SubscriberRegistry is the in-memory source of truth for subscribers. Every mutation is written
// through to the store; when that fails the change is kept in memory and the subscriber is marked
// dirty until ReconcileDirty manages to persist it.
type SubscriberRegistry struct {
	mu          sync.RWMutex
	store       subscriberStore
	intervals   IntervalConfig
	subscribers map[int64]*models.Subscriber
	dirty       map[int64]struct{}
	saving      map[int64]*sync.Mutex
	now         func() time.Time
}

func NewSubscriberRegistry(bus EventBus.Bus, store subscriberStore, intervals IntervalConfig) (*SubscriberRegistry, error) {

	r := &SubscriberRegistry{
		store:       store,
		intervals:   intervals,
		subscribers: make(map[int64]*models.Subscriber),
		dirty:       make(map[int64]struct{}),
		saving:      make(map[int64]*sync.Mutex),
		now:         time.Now,
	}

	if err := bus.Subscribe(events.SubscriberBlockedTopic, r.onSubscriberBlocked); err != nil {
		return nil, err
	}

	return r, nil
}

// Load replaces the in-memory state with the stored subscribers.
func (r *SubscriberRegistry) Load(ctx context.Context) error {

	stored, err := r.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load subscribers: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.subscribers = make(map[int64]*models.Subscriber, len(stored))
	for _, subscriber := range stored {
		s := subscriber.Clone()
		if s.Delivered == nil {
			s.Delivered = make(map[int64]struct{})
		}
		s.Interval = r.clampInterval(s.Interval)
		r.subscribers[s.ID] = &s
	}

	log.Infof("loaded %d subscribers (%d active)", len(r.subscribers), r.activeCountLocked())
	return nil
}

func (r *SubscriberRegistry) Activate(ctx context.Context, id int64, profile models.Profile) models.Subscriber {

	r.mu.Lock()
	now := r.now()
	subscriber, ok := r.subscribers[id]
	if !ok {
		subscriber = models.NewSubscriber(id, profile, r.intervals.Default, now)
		r.subscribers[id] = subscriber
	} else {
		subscriber.Profile = profile
		subscriber.UpdatedAt = now
	}
	subscriber.Active = true
	snapshot := subscriber.Clone()
	r.mu.Unlock()

	log.Infof("subscriber %d activated", id)
	r.persist(ctx, id)
	return snapshot
}

// Deactivate reports whether the subscriber was active before the call.
func (r *SubscriberRegistry) Deactivate(ctx context.Context, id int64) bool {

	r.mu.Lock()
	subscriber, ok := r.subscribers[id]
	if !ok || !subscriber.Active {
		r.mu.Unlock()
		return false
	}
	subscriber.Active = false
	subscriber.UpdatedAt = r.now()
	r.mu.Unlock()

	log.Infof("subscriber %d deactivated", id)
	r.persist(ctx, id)
	return true
}

// SetInterval stores the clamped interval and returns it. Unknown subscribers are left alone.
func (r *SubscriberRegistry) SetInterval(ctx context.Context, id int64, seconds int) int {

	clamped := r.clampInterval(seconds)

	ok := r.update(id, func(subscriber *models.Subscriber) {
		subscriber.Interval = clamped
	})
	if ok {
		log.Infof("subscriber %d interval set to %ds", id, clamped)
		r.persist(ctx, id)
	}
	return clamped
}

func (r *SubscriberRegistry) SetFilter(ctx context.Context, id int64, filter models.FilterSpec) bool {

	ok := r.update(id, func(subscriber *models.Subscriber) {
		subscriber.Filter = filter.Clone()
	})
	if ok {
		log.Infof("subscriber %d filter set to %s", id, filter.Description())
		r.persist(ctx, id)
	}
	return ok
}

func (r *SubscriberRegistry) ClearFilter(ctx context.Context, id int64) bool {
	return r.SetFilter(ctx, id, models.FilterSpec{})
}

func (r *SubscriberRegistry) MarkDelivered(ctx context.Context, id int64, projectID int64) {

	r.mu.Lock()
	subscriber, ok := r.subscribers[id]
	if !ok || subscriber.HasDelivered(projectID) {
		r.mu.Unlock()
		return
	}
	subscriber.Delivered[projectID] = struct{}{}
	r.mu.Unlock()

	if err := r.store.AddDelivered(ctx, id, projectID); err != nil {
		log.WithField(logger.ErrorTypeField, logger.ErrorTypeDb).
			Errorf("failed to record project %d as delivered to %d: %v", projectID, id, err)
		r.markDirty(id)
	}
}

func (r *SubscriberRegistry) HasBeenDelivered(id int64, projectID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subscriber, ok := r.subscribers[id]
	return ok && subscriber.HasDelivered(projectID)
}

// PruneDeliveredHistory keeps the keepSize largest ids of every history longer than maxSize.
// Upstream ids only roughly follow publication order, so "largest" approximates "newest".
func (r *SubscriberRegistry) PruneDeliveredHistory(ctx context.Context, maxSize, keepSize int) int {

	if keepSize <= 0 || keepSize > maxSize {
		log.Warnf("invalid history retention %d/%d, pruning skipped", keepSize, maxSize)
		return 0
	}

	type trim struct {
		id       int64
		keepFrom int64
	}
	var trims []trim

	r.mu.Lock()
	for id, subscriber := range r.subscribers {
		if len(subscriber.Delivered) <= maxSize {
			continue
		}
		ids := subscriber.DeliveredIDs()
		removed := ids[:len(ids)-keepSize]
		for _, projectID := range removed {
			delete(subscriber.Delivered, projectID)
		}
		trims = append(trims, trim{id: id, keepFrom: ids[len(ids)-keepSize]})
		log.Infof("trimmed delivered history of subscriber %d from %d to %d", id, len(ids), keepSize)
	}
	r.mu.Unlock()

	for _, t := range trims {
		if err := r.store.TrimDelivered(ctx, t.id, t.keepFrom); err != nil {
			log.WithField(logger.ErrorTypeField, logger.ErrorTypeDb).
				Errorf("failed to trim delivered history of %d: %v", t.id, err)
			r.markDirty(t.id)
		}
	}
	return len(trims)
}

func (r *SubscriberRegistry) MinActiveInterval() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	active := lo.Filter(lo.Values(r.subscribers), func(s *models.Subscriber, _ int) bool { return s.Active })
	if len(active) == 0 {
		return r.intervals.Default
	}
	return lo.MinBy(active, func(a, b *models.Subscriber) bool { return a.Interval < b.Interval }).Interval
}

// ActiveSubscribers returns deep copies ordered by id.
func (r *SubscriberRegistry) ActiveSubscribers() []models.Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()

	active := make([]models.Subscriber, 0, len(r.subscribers))
	for _, subscriber := range r.subscribers {
		if subscriber.Active {
			active = append(active, subscriber.Clone())
		}
	}
	slices.SortFunc(active, func(a, b models.Subscriber) int { return cmp.Compare(a.ID, b.ID) })
	return active
}

func (r *SubscriberRegistry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeCountLocked()
}

func (r *SubscriberRegistry) Get(id int64) (models.Subscriber, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subscriber, ok := r.subscribers[id]
	if !ok {
		return models.Subscriber{}, false
	}
	return subscriber.Clone(), true
}

func (r *SubscriberRegistry) IsActive(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subscriber, ok := r.subscribers[id]
	return ok && subscriber.Active
}

func (r *SubscriberRegistry) Interval(id int64) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if subscriber, ok := r.subscribers[id]; ok {
		return subscriber.Interval
	}
	return r.intervals.Default
}

func (r *SubscriberRegistry) FilterDescription(id int64) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if subscriber, ok := r.subscribers[id]; ok {
		return subscriber.Filter.Description()
	}
	return models.FilterSpec{}.Description()
}

func (r *SubscriberRegistry) Stats(now time.Time) models.Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := models.Stats{TotalCount: len(r.subscribers)}
	dayAgo := now.Add(-24 * time.Hour)
	for _, subscriber := range r.subscribers {
		if subscriber.Active {
			stats.ActiveCount++
		}
		if subscriber.CreatedAt.After(dayAgo) {
			stats.NewSubscribers24h++
		}
		stats.DeliveredCount += len(subscriber.Delivered)
	}
	return stats
}

// ReconcileDirty retries persisting subscribers whose last write failed and returns how many succeeded.
func (r *SubscriberRegistry) ReconcileDirty(ctx context.Context) int {

	r.mu.Lock()
	pending := make([]int64, 0, len(r.dirty))
	for id := range r.dirty {
		pending = append(pending, id)
		delete(r.dirty, id)
	}
	r.mu.Unlock()

	reconciled := 0
	for _, id := range pending {
		if err := r.persistWithHistory(ctx, id); err != nil {
			log.WithField(logger.ErrorTypeField, logger.ErrorTypeDb).
				Errorf("failed to reconcile subscriber %d: %v", id, err)
			r.markDirty(id)
			continue
		}
		reconciled++
	}
	return reconciled
}

func (r *SubscriberRegistry) DirtyCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.dirty)
}

func (r *SubscriberRegistry) persistWithHistory(ctx context.Context, id int64) error {

	unlock := r.lockSaving(id)
	defer unlock()

	subscriber, ok := r.Get(id)
	if !ok {
		return nil
	}
	if err := r.store.Save(ctx, subscriber); err != nil {
		return err
	}

	ids := subscriber.DeliveredIDs()
	for _, projectID := range ids {
		if err := r.store.AddDelivered(ctx, subscriber.ID, projectID); err != nil {
			return err
		}
	}
	if len(ids) > 0 {
		return r.store.TrimDelivered(ctx, subscriber.ID, ids[0])
	}
	return nil
}

func (r *SubscriberRegistry) update(id int64, mutate func(subscriber *models.Subscriber)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	subscriber, ok := r.subscribers[id]
	if !ok {
		return false
	}
	mutate(subscriber)
	subscriber.UpdatedAt = r.now()
	return true
}

// persist writes the latest in-memory state of the subscriber. Writes for one subscriber are
// serialized, so an older snapshot can't overwrite a newer one.
func (r *SubscriberRegistry) persist(ctx context.Context, id int64) {

	unlock := r.lockSaving(id)
	defer unlock()

	subscriber, ok := r.Get(id)
	if !ok {
		return
	}
	if err := r.store.Save(ctx, subscriber); err != nil {
		log.WithField(logger.ErrorTypeField, logger.ErrorTypeDb).
			Errorf("failed to save subscriber %d: %v", id, err)
		r.markDirty(id)
	}
}

func (r *SubscriberRegistry) lockSaving(id int64) func() {
	r.mu.Lock()
	lock, ok := r.saving[id]
	if !ok {
		lock = &sync.Mutex{}
		r.saving[id] = lock
	}
	r.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

func (r *SubscriberRegistry) markDirty(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dirty[id] = struct{}{}
}

func (r *SubscriberRegistry) clampInterval(seconds int) int {
	return min(max(seconds, r.intervals.Min), r.intervals.Max)
}

func (r *SubscriberRegistry) activeCountLocked() int {
	return lo.CountBy(lo.Values(r.subscribers), func(s *models.Subscriber) bool { return s.Active })
}

func (r *SubscriberRegistry) onSubscriberBlocked(event events.SubscriberBlocked) {
	log.Infof("subscriber %d is unreachable (%s), deactivating", event.SubscriberID, event.Reason)
	r.Deactivate(context.Background(), event.SubscriberID)
}


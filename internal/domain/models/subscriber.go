package models

import (
	"github.com/samber/lo"
	"slices"
	"time"
)

type Profile struct {
	Username  string
	FirstName string
	LastName  string
}

type Subscriber struct {
	ID int64
	Profile
	Active    bool
	Interval  int
	Filter    FilterSpec
	Delivered map[int64]struct{}
	CreatedAt time.Time
	UpdatedAt time.Time
}

func NewSubscriber(id int64, profile Profile, interval int, now time.Time) *Subscriber {
	return &Subscriber{
		ID:        id,
		Profile:   profile,
		Interval:  interval,
		Delivered: make(map[int64]struct{}),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy safe to hand out of the registry lock.
func (s *Subscriber) Clone() Subscriber {
	clone := *s
	clone.Filter = s.Filter.Clone()
	clone.Delivered = make(map[int64]struct{}, len(s.Delivered))
	for id := range s.Delivered {
		clone.Delivered[id] = struct{}{}
	}
	return clone
}

func (s *Subscriber) HasDelivered(projectID int64) bool {
	_, ok := s.Delivered[projectID]
	return ok
}

// DeliveredIDs returns delivered project ids in ascending order.
func (s *Subscriber) DeliveredIDs() []int64 {
	ids := lo.Keys(s.Delivered)
	slices.Sort(ids)
	return ids
}

type Stats struct {
	ActiveCount       int
	TotalCount        int
	DeliveredCount    int
	NewSubscribers24h int
}

package repositories

import (
	"github.com/maxaizer/fh-notifier/internal/domain/models"
	"time"
)

type subscriberRecord struct {
	ID        int64 `gorm:"primaryKey;autoIncrement:false"`
	Username  string
	FirstName string
	LastName  string
	Active    bool `gorm:"index"`
	Interval  int
	Filter    models.FilterSpec `gorm:"serializer:json"`
	CreatedAt time.Time         `gorm:"autoCreateTime:false"`
	UpdatedAt time.Time         `gorm:"autoUpdateTime:false"`
}

func (subscriberRecord) TableName() string {
	return "subscribers"
}

type deliveredProject struct {
	ID           uint      `gorm:"primaryKey"`
	SubscriberID int64     `gorm:"uniqueIndex:idx_subscriber_project;not null"`
	ProjectID    int64     `gorm:"uniqueIndex:idx_subscriber_project;not null"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
}

func (deliveredProject) TableName() string {
	return "delivered_projects"
}

func newSubscriberRecord(subscriber models.Subscriber) subscriberRecord {
	return subscriberRecord{
		ID:        subscriber.ID,
		Username:  subscriber.Username,
		FirstName: subscriber.FirstName,
		LastName:  subscriber.LastName,
		Active:    subscriber.Active,
		Interval:  subscriber.Interval,
		Filter:    subscriber.Filter.Clone(),
		CreatedAt: subscriber.CreatedAt.UTC(),
		UpdatedAt: subscriber.UpdatedAt.UTC(),
	}
}

func (r subscriberRecord) toModel(delivered []int64) models.Subscriber {
	subscriber := models.Subscriber{
		ID: r.ID,
		Profile: models.Profile{
			Username:  r.Username,
			FirstName: r.FirstName,
			LastName:  r.LastName,
		},
		Active:    r.Active,
		Interval:  r.Interval,
		Filter:    r.Filter,
		Delivered: make(map[int64]struct{}, len(delivered)),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	for _, id := range delivered {
		subscriber.Delivered[id] = struct{}{}
	}
	return subscriber
}

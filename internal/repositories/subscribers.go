package repositories

import (
	"context"
	"github.com/maxaizer/fh-notifier/internal/domain/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SubscriberStore is implemented by every storage driver.
type SubscriberStore interface {
	LoadAll(ctx context.Context) ([]models.Subscriber, error)
	Save(ctx context.Context, subscriber models.Subscriber) error
	AddDelivered(ctx context.Context, subscriberID, projectID int64) error
	TrimDelivered(ctx context.Context, subscriberID int64, keepFrom int64) error
}

type Subscribers struct {
	db *gorm.DB
}

func NewSubscribersRepository(db *gorm.DB) *Subscribers {
	return &Subscribers{db: db}
}

func (repo *Subscribers) LoadAll(ctx context.Context) ([]models.Subscriber, error) {

	var records []subscriberRecord
	if err := repo.db.WithContext(ctx).Order("id").Find(&records).Error; err != nil {
		return nil, err
	}

	var delivered []deliveredProject
	if err := repo.db.WithContext(ctx).Order("subscriber_id, project_id").Find(&delivered).Error; err != nil {
		return nil, err
	}

	bySubscriber := make(map[int64][]int64)
	for _, row := range delivered {
		bySubscriber[row.SubscriberID] = append(bySubscriber[row.SubscriberID], row.ProjectID)
	}

	subscribers := make([]models.Subscriber, 0, len(records))
	for _, record := range records {
		subscribers = append(subscribers, record.toModel(bySubscriber[record.ID]))
	}
	return subscribers, nil
}

func (repo *Subscribers) Save(ctx context.Context, subscriber models.Subscriber) error {
	record := newSubscriberRecord(subscriber)
	return repo.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&record).Error
}

func (repo *Subscribers) AddDelivered(ctx context.Context, subscriberID, projectID int64) error {
	return repo.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&deliveredProject{SubscriberID: subscriberID, ProjectID: projectID}).Error
}

// TrimDelivered removes every delivered id of the subscriber below keepFrom.
func (repo *Subscribers) TrimDelivered(ctx context.Context, subscriberID int64, keepFrom int64) error {
	return repo.db.WithContext(ctx).
		Where("subscriber_id = ? AND project_id < ?", subscriberID, keepFrom).
		Delete(&deliveredProject{}).Error
}

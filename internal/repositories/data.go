package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/maxaizer/fh-notifier/internal/domain/models"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// DataStore keeps small opaque blobs under string keys.
type DataStore interface {
	Save(ctx context.Context, id string, data []byte) error
	Load(ctx context.Context, id string) ([]byte, error)
	Remove(ctx context.Context, id string) error
}

type Data struct {
	db *gorm.DB
}

func NewDataRepository(db *gorm.DB) *Data {
	return &Data{db: db}
}

func (repo *Data) Save(ctx context.Context, id string, data []byte) error {
	return repo.db.WithContext(ctx).Save(&models.ArbitraryData{
		ID:    id,
		Value: data,
	}).Error
}

// Load returns nil without error when nothing is stored under id.
func (repo *Data) Load(ctx context.Context, id string) ([]byte, error) {
	data := &models.ArbitraryData{}
	err := repo.db.WithContext(ctx).First(data, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return data.Value, nil
}

func (repo *Data) Remove(ctx context.Context, id string) error {
	return repo.db.WithContext(ctx).Delete(&models.ArbitraryData{}, "id = ?", id).Error
}

func SaveJSON(ctx context.Context, store DataStore, id string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", id, err)
	}
	return store.Save(ctx, id, data)
}

// LoadJSON decodes the value stored under id into out and reports whether anything was stored.
func LoadJSON(ctx context.Context, store DataStore, id string, out any) (bool, error) {
	data, err := store.Load(ctx, id)
	if err != nil || data == nil {
		return false, err
	}
	if err = json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", id, err)
	}
	return true, nil
}

package repositories

import (
	"context"
	"fmt"
	"github.com/maxaizer/fh-notifier/internal/config"
	log "github.com/sirupsen/logrus"
)

// Storage bundles the repositories of the configured driver.
type Storage struct {
	Subscribers SubscriberStore
	Data        DataStore
	close       func() error
}

func OpenStorage(ctx context.Context, cfg config.DBConfig) (*Storage, error) {

	switch cfg.Driver {
	case config.DriverRedis:
		client, err := NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		log.Info("using redis storage")
		return &Storage{
			Subscribers: NewRedisSubscribersRepository(client),
			Data:        NewRedisDataRepository(client),
			close:       client.Close,
		}, nil
	case config.DriverSqlite, "":
		dbContext, err := NewDbContext(cfg.ConnectionString)
		if err != nil {
			return nil, fmt.Errorf("can't create db context: %w", err)
		}
		if err = dbContext.Migrate(); err != nil {
			_ = dbContext.Close()
			return nil, fmt.Errorf("can't migrate db context: %w", err)
		}
		log.Infof("using sqlite storage at %s", cfg.ConnectionString)
		return &Storage{
			Subscribers: NewSubscribersRepository(dbContext.DB),
			Data:        NewDataRepository(dbContext.DB),
			close:       dbContext.Close,
		}, nil
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", cfg.Driver)
	}
}

func (s *Storage) Close() error {
	return s.close()
}

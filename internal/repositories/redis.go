package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/maxaizer/fh-notifier/internal/domain/models"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"strconv"
)

const (
	redisSubscribersKey = "fh:subscribers"
	redisDataPrefix     = "fh:data:"
)

func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis.ParseURL: %w", err)
	}

	client := redis.NewClient(opts)
	if err = client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return client, nil
}

func subscriberKey(id int64) string {
	return "fh:subscriber:" + strconv.FormatInt(id, 10)
}

func deliveredKey(id int64) string {
	return subscriberKey(id) + ":delivered"
}

// RedisSubscribers stores each subscriber as a JSON document and its delivered ids as a sorted set scored by id.
type RedisSubscribers struct {
	client redis.UniversalClient
}

func NewRedisSubscribersRepository(client redis.UniversalClient) *RedisSubscribers {
	return &RedisSubscribers{client: client}
}

func (repo *RedisSubscribers) LoadAll(ctx context.Context) ([]models.Subscriber, error) {

	members, err := repo.client.SMembers(ctx, redisSubscribersKey).Result()
	if err != nil {
		return nil, err
	}

	subscribers := make([]models.Subscriber, 0, len(members))
	for _, member := range members {
		id, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid subscriber id %q: %w", member, err)
		}

		raw, err := repo.client.Get(ctx, subscriberKey(id)).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}

		var record subscriberRecord
		if err = json.Unmarshal(raw, &record); err != nil {
			return nil, fmt.Errorf("failed to decode subscriber %d: %w", id, err)
		}

		delivered, err := repo.loadDelivered(ctx, id)
		if err != nil {
			return nil, err
		}
		subscribers = append(subscribers, record.toModel(delivered))
	}
	return subscribers, nil
}

func (repo *RedisSubscribers) loadDelivered(ctx context.Context, id int64) ([]int64, error) {

	values, err := repo.client.ZRange(ctx, deliveredKey(id), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(values))
	for _, value := range values {
		projectID, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, projectID)
	}
	return ids, nil
}

func (repo *RedisSubscribers) Save(ctx context.Context, subscriber models.Subscriber) error {

	raw, err := json.Marshal(newSubscriberRecord(subscriber))
	if err != nil {
		return err
	}

	_, err = repo.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, subscriberKey(subscriber.ID), raw, 0)
		pipe.SAdd(ctx, redisSubscribersKey, strconv.FormatInt(subscriber.ID, 10))
		return nil
	})
	return err
}

func (repo *RedisSubscribers) AddDelivered(ctx context.Context, subscriberID, projectID int64) error {
	return repo.client.ZAdd(ctx, deliveredKey(subscriberID), redis.Z{
		Score:  float64(projectID),
		Member: strconv.FormatInt(projectID, 10),
	}).Err()
}

func (repo *RedisSubscribers) TrimDelivered(ctx context.Context, subscriberID int64, keepFrom int64) error {
	return repo.client.ZRemRangeByScore(ctx, deliveredKey(subscriberID),
		"-inf", "("+strconv.FormatInt(keepFrom, 10)).Err()
}

type RedisData struct {
	client redis.UniversalClient
}

func NewRedisDataRepository(client redis.UniversalClient) *RedisData {
	return &RedisData{client: client}
}

func (repo *RedisData) Save(ctx context.Context, id string, data []byte) error {
	return repo.client.Set(ctx, redisDataPrefix+id, data, 0).Err()
}

func (repo *RedisData) Load(ctx context.Context, id string) ([]byte, error) {
	data, err := repo.client.Get(ctx, redisDataPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return data, err
}

func (repo *RedisData) Remove(ctx context.Context, id string) error {
	return repo.client.Del(ctx, redisDataPrefix+id).Err()
}

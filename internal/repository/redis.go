package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tradehook/hookgate/internal/config"
)

type RedisClient struct {
	Client *redis.Client
}

func NewRedisClient(cfg *config.Config) (*RedisClient, error) {
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis address is empty")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisClient{Client: rdb}, nil
}

// Implement guardrail.LossRepo for Redis. Keys roll over with the UTC date,
// so a new daily window reads zero without an explicit reset.
func (r *RedisClient) GetDailyLoss(ctx context.Context, botInstanceID string) (float64, error) {
	key := lossKey(botInstanceID)
	val, err := r.Client.Get(ctx, key).Float64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

func (r *RedisClient) AddDailyLoss(ctx context.Context, botInstanceID string, loss float64) error {
	key := lossKey(botInstanceID)
	pipe := r.Client.Pipeline()
	pipe.IncrByFloat(ctx, key, loss)
	// 过期留 48 小时足够覆盖窗口翻转
	pipe.Expire(ctx, key, 48*time.Hour)
	_, err := pipe.Exec(ctx)
	return err
}

func lossKey(botInstanceID string) string {
	return fmt.Sprintf("loss:%s:%s", botInstanceID, time.Now().UTC().Format("2006-01-02"))
}

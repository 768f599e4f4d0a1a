package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"merch-svc/config"
	"merch-svc/models"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func InitRedis(cfg *config.Config, logger *zap.Logger) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.RedisPassword,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Redis connection established", zap.String("addr", cfg.RedisAddr()))
	return rdb, nil
}

func productKey(id int64) string {
	return fmt.Sprintf("product:%d", id)
}

type ProductSource interface {
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
	ListProducts(ctx context.Context) ([]models.Product, error)
}

// ProductCache reads products through Redis. Redis failures are logged and the
// source is used directly.
type ProductCache struct {
	source ProductSource
	rdb    redis.Cmdable
	ttl    time.Duration
	logger *zap.Logger
}

func NewProductCache(source ProductSource, rdb redis.Cmdable, ttl time.Duration, logger *zap.Logger) *ProductCache {
	return &ProductCache{source: source, rdb: rdb, ttl: ttl, logger: logger}
}

func (c *ProductCache) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	data, err := c.rdb.Get(ctx, productKey(id)).Bytes()
	if err == nil {
		var p models.Product
		if err := json.Unmarshal(data, &p); err == nil {
			return &p, nil
		}
		c.logger.Warn("Discarding unreadable cached product", zap.Int64("product_id", id))
	} else if !errors.Is(err, redis.Nil) {
		c.logger.Warn("Product cache read failed", zap.Int64("product_id", id), zap.Error(err))
	}

	p, err := c.source.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(p); err == nil {
		if err := c.rdb.Set(ctx, productKey(id), data, c.ttl).Err(); err != nil {
			c.logger.Warn("Product cache write failed", zap.Int64("product_id", id), zap.Error(err))
		}
	}
	return p, nil
}

func (c *ProductCache) ListProducts(ctx context.Context) ([]models.Product, error) {
	return c.source.ListProducts(ctx)
}

// Invalidate drops cached copies of the given products, typically after their
// stock changed.
func (c *ProductCache) Invalidate(ctx context.Context, ids ...int64) {
	if len(ids) == 0 {
		return
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = productKey(id)
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn("Product cache invalidation failed", zap.Int64s("product_ids", ids), zap.Error(err))
	}
}

package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"merch-svc/models"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// memRedis implements the handful of commands the cache uses.
type memRedis struct {
	redis.Cmdable
	data    map[string]string
	ttls    map[string]time.Duration
	failing bool
}

func newMemRedis() *memRedis {
	return &memRedis{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

var errRedisDown = errors.New("dial tcp: connection refused")

func (m *memRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	if m.failing {
		return redis.NewStringResult("", errRedisDown)
	}
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *memRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	if m.failing {
		return redis.NewStatusResult("", errRedisDown)
	}
	switch v := value.(type) {
	case []byte:
		m.data[key] = string(v)
	case string:
		m.data[key] = v
	}
	m.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (m *memRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	if m.failing {
		return redis.NewIntResult(0, errRedisDown)
	}
	var n int64
	for _, k := range keys {
		if _, ok := m.data[k]; ok {
			delete(m.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

type countingSource struct {
	products map[int64]models.Product
	calls    int
}

func (s *countingSource) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	s.calls++
	p, ok := s.products[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &p, nil
}

func (s *countingSource) ListProducts(ctx context.Context) ([]models.Product, error) {
	var out []models.Product
	for _, p := range s.products {
		out = append(out, p)
	}
	return out, nil
}

func newSource() *countingSource {
	return &countingSource{products: map[int64]models.Product{
		1: {ID: 1, Name: "T-shirt", Price: decimal.NewFromInt(1500), Weight: decimal.RequireFromString("0.2"), Stock: 10},
	}}
}

func TestProductCache_ReadThrough(t *testing.T) {
	rdb := newMemRedis()
	source := newSource()
	c := NewProductCache(source, rdb, 5*time.Minute, zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel)))

	for i := 0; i < 3; i++ {
		p, err := c.GetProduct(context.Background(), 1)
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if p.Name != "T-shirt" || !p.Price.Equal(decimal.NewFromInt(1500)) {
			t.Errorf("Unexpected product: %+v", p)
		}
	}

	if source.calls != 1 {
		t.Errorf("Expected 1 source call, got %d", source.calls)
	}
	if rdb.ttls["product:1"] != 5*time.Minute {
		t.Errorf("Expected TTL 5m, got %s", rdb.ttls["product:1"])
	}
}

func TestProductCache_RedisDownFallsBackToSource(t *testing.T) {
	rdb := newMemRedis()
	rdb.failing = true
	source := newSource()
	c := NewProductCache(source, rdb, time.Minute, zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel)))

	p, err := c.GetProduct(context.Background(), 1)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if p.ID != 1 {
		t.Errorf("Expected product 1, got %d", p.ID)
	}
}

func TestProductCache_NotFound(t *testing.T) {
	c := NewProductCache(newSource(), newMemRedis(), time.Minute, zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel)))

	_, err := c.GetProduct(context.Background(), 404)
	if !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestProductCache_Invalidate(t *testing.T) {
	rdb := newMemRedis()
	source := newSource()
	c := NewProductCache(source, rdb, time.Minute, zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel)))

	_, _ = c.GetProduct(context.Background(), 1)
	c.Invalidate(context.Background(), 1)
	_, _ = c.GetProduct(context.Background(), 1)

	if source.calls != 2 {
		t.Errorf("Expected 2 source calls after invalidation, got %d", source.calls)
	}
}

func TestRedisSessionStore_RoundTrip(t *testing.T) {
	rdb := newMemRedis()
	s := NewRedisSessionStore(rdb, time.Hour)
	ctx := context.Background()

	items, err := s.Load(ctx, "abc")
	if err != nil || len(items) != 0 {
		t.Fatalf("Expected empty cart, got %v (%v)", items, err)
	}

	if err := s.Save(ctx, "abc", map[int64]int{1: 2, 7: 1}); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if rdb.ttls["cart:abc"] != time.Hour {
		t.Errorf("Expected TTL 1h, got %s", rdb.ttls["cart:abc"])
	}

	items, err = s.Load(ctx, "abc")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if items[1] != 2 || items[7] != 1 {
		t.Errorf("Unexpected items: %v", items)
	}

	if err := s.Save(ctx, "abc", map[int64]int{}); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if _, ok := rdb.data["cart:abc"]; ok {
		t.Error("Expected empty cart to delete the key")
	}
}

func TestRedisSessionStore_LoadError(t *testing.T) {
	rdb := newMemRedis()
	rdb.failing = true

	if _, err := NewRedisSessionStore(rdb, time.Hour).Load(context.Background(), "abc"); err == nil {
		t.Error("Expected error, got nil")
	}
}

package relay

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/courier-dispatch/internal/models"
)

// Cache is the ephemeral current-position store. Absence means "position
// unknown", never "still at the last known point".
type Cache interface {
	SetCurrent(ctx context.Context, driverID string, c models.Coord) error
	Current(ctx context.Context, driverID string) (models.Coord, bool, error)
	// TryMarkSampled reports whether a durable sample should be written
	// now, atomically arming the gate for the interval when it does.
	TryMarkSampled(ctx context.Context, driverID string, interval time.Duration) (bool, error)
}

// RedisCache stores positions as a hash under driver:loc:<id> with a TTL,
// and the sampling gate as a NX key that expires after the interval.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(addr, password string, ttl time.Duration) *RedisCache {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisCache{client: c, ttl: ttl}
}

func NewRedisCacheWithClient(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (r *RedisCache) SetCurrent(ctx context.Context, driverID string, c models.Coord) error {
	key := locKey(driverID)
	if err := r.client.HSet(ctx, key, map[string]interface{}{
		"lat": strconv.FormatFloat(c.Lat, 'f', -1, 64),
		"lng": strconv.FormatFloat(c.Lng, 'f', -1, 64),
	}).Err(); err != nil {
		return err
	}
	return r.client.Expire(ctx, key, r.ttl).Err()
}

func (r *RedisCache) Current(ctx context.Context, driverID string) (models.Coord, bool, error) {
	m, err := r.client.HGetAll(ctx, locKey(driverID)).Result()
	if err != nil {
		return models.Coord{}, false, err
	}
	latS, okLat := m["lat"]
	lngS, okLng := m["lng"]
	if !okLat || !okLng {
		return models.Coord{}, false, nil
	}
	lat, err := strconv.ParseFloat(latS, 64)
	if err != nil {
		return models.Coord{}, false, err
	}
	lng, err := strconv.ParseFloat(lngS, 64)
	if err != nil {
		return models.Coord{}, false, err
	}
	return models.Coord{Lat: lat, Lng: lng}, true, nil
}

func (r *RedisCache) TryMarkSampled(ctx context.Context, driverID string, interval time.Duration) (bool, error) {
	// SET NX makes the decision and arms the gate in one round trip; two
	// concurrent first reports can still both win on a fresh key, which
	// costs at most one duplicate durable row.
	return r.client.SetNX(ctx, syncKey(driverID), time.Now().UTC().Format(time.RFC3339), interval).Result()
}

func (r *RedisCache) Close() error { return r.client.Close() }

func locKey(driverID string) string  { return "driver:loc:" + driverID }
func syncKey(driverID string) string { return "loc:lastsync:" + driverID }

package geo

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/models"
)

// RedisMirror keeps a Redis GEO index of online drivers, fed from the
// location ingest topic. It is a best-effort read replica of the
// in-process presence registry; the registry remains authoritative.
type RedisMirror struct {
	client *redis.Client
	key    string
}

func NewRedisMirror(addr, password, key string) *RedisMirror {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisMirror{client: c, key: key}
}

func (r *RedisMirror) Close() error { return r.client.Close() }

func (r *RedisMirror) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Upsert records a driver location ping as GEOADD plus HSET metadata.
func (r *RedisMirror) Upsert(ctx context.Context, p models.LocationPing) error {
	if _, err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: p.Lng, Latitude: p.Lat, Name: p.DriverID}).Result(); err != nil {
		return err
	}
	return r.client.HSet(ctx, metaKey(p.DriverID), map[string]interface{}{
		"name":    p.DriverName,
		"vehicle": p.VehicleType,
		"status":  string(p.Status),
		"online":  strconv.FormatBool(p.Online),
		"updated": p.Recorded.Format(time.RFC3339),
	}).Err()
}

// Remove drops a driver from the geo index, used when the stale sweep
// hard-deletes a presence entry.
func (r *RedisMirror) Remove(ctx context.Context, driverID string) error {
	if err := r.client.ZRem(ctx, r.key, driverID).Err(); err != nil {
		return err
	}
	return r.client.Del(ctx, metaKey(driverID)).Err()
}

// mirrorSpanMeters is wider than Earth's circumference, so a radius
// query enumerates every indexed driver instead of cutting by distance.
const mirrorSpanMeters = 45_000_000

// Nearby lists every indexed driver ordered by distance from a point.
// Errors degrade to a nil slice; callers fall back to the registry.
func (r *RedisMirror) Nearby(ctx context.Context, lat, lng float64, limit int) []models.DriverSnapshot {
	res, err := r.client.GeoRadius(ctx, r.key, lng, lat, &redis.GeoRadiusQuery{
		Radius: mirrorSpanMeters, Unit: "m", WithCoord: true, WithDist: true, Count: limit, Sort: "ASC",
	}).Result()
	if err != nil {
		return nil
	}
	out := make([]models.DriverSnapshot, 0, len(res))
	for _, g := range res {
		d := models.DriverSnapshot{DriverID: g.Name, Lat: g.Latitude, Lng: g.Longitude}
		if m, err := r.client.HGetAll(ctx, metaKey(g.Name)).Result(); err == nil {
			d.DriverName = m["name"]
			d.VehicleType = m["vehicle"]
			d.Status = models.DriverStatus(m["status"])
			if ts, err := time.Parse(time.RFC3339, m["updated"]); err == nil {
				d.LastUpdate = ts
			}
			if m["online"] != "true" {
				continue
			}
		}
		out = append(out, d)
	}
	return out
}

func metaKey(id string) string { return "driver:meta:" + id }

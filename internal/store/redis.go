package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const galleryVersionKey = "presence:gallery:version"

// Redis wraps the redis client.
type Redis struct {
	Client *redis.Client
}

// NewRedis connects to redis with short timeouts.
func NewRedis(addr string) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	})
	return &Redis{Client: client}
}

// Healthy verifies redis connectivity.
func (r *Redis) Healthy(ctx context.Context) bool {
	if r == nil || r.Client == nil {
		return false
	}
	return r.Client.Ping(ctx).Err() == nil
}

// GalleryVersion returns the shared gallery version counter. Serving
// processes compare it against the version they last loaded at and
// invalidate their snapshot when it moved. A missing key reads as zero.
func (r *Redis) GalleryVersion(ctx context.Context) (int64, error) {
	v, err := r.Client.Get(ctx, galleryVersionKey).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return v, err
}

// BumpGalleryVersion increments the shared gallery version counter. Called
// whenever an identity's enrolled vector changes.
func (r *Redis) BumpGalleryVersion(ctx context.Context) error {
	return r.Client.Incr(ctx, galleryVersionKey).Err()
}

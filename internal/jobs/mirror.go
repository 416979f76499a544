package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	aerrors "github.com/Aman-CERP/atrium/internal/errors"
)

const (
	redisKeyPrefix = "atrium:job:"
	redisChannel   = "atrium:jobs"
)

// Mirror receives job snapshots as they change state. Failures are logged
// by the manager and never affect the job.
type Mirror interface {
	Save(ctx context.Context, job Job) error
}

// Loader is implemented by mirrors that can return a snapshot the local
// registry no longer holds.
type Loader interface {
	Load(ctx context.Context, id string) (Job, error)
}

// RedisMirror stores snapshots at atrium:job:<id> with a TTL and publishes
// them on atrium:jobs, so other processes can follow jobs of this one.
type RedisMirror struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisMirror creates a mirror over client. ttl bounds how long finished
// jobs stay readable.
func NewRedisMirror(client *redis.Client, ttl time.Duration) *RedisMirror {
	if ttl <= 0 {
		ttl = DefaultRetention
	}
	return &RedisMirror{client: client, ttl: ttl}
}

// DialRedisMirror parses a redis:// URL and checks the server responds.
func DialRedisMirror(ctx context.Context, url string, ttl time.Duration) (*RedisMirror, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, aerrors.ConfigError("invalid jobs.redis_url", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, aerrors.NetworkError("connect to redis", err)
	}
	return NewRedisMirror(client, ttl), nil
}

// Save implements Mirror.
func (m *RedisMirror) Save(ctx context.Context, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	pipe := m.client.Pipeline()
	pipe.Set(ctx, redisKeyPrefix+job.ID, data, m.ttl)
	pipe.Publish(ctx, redisChannel, data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("mirror job %s: %w", job.ID, err)
	}
	return nil
}

// Load implements Loader.
func (m *RedisMirror) Load(ctx context.Context, id string) (Job, error) {
	data, err := m.client.Get(ctx, redisKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return Job{}, aerrors.NotFoundError("job", id)
	}
	if err != nil {
		return Job{}, fmt.Errorf("load job %s: %w", id, err)
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return Job{}, fmt.Errorf("decode job %s: %w", id, err)
	}
	return job, nil
}

// Subscribe follows snapshots published by any process sharing the redis
// server. It returns once the subscription is confirmed; the channel
// closes when ctx is done.
func (m *RedisMirror) Subscribe(ctx context.Context) (<-chan Job, error) {
	sub := m.client.Subscribe(ctx, redisChannel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", redisChannel, err)
	}
	out := make(chan Job, 16)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var job Job
				if err := json.Unmarshal([]byte(msg.Payload), &job); err != nil {
					continue
				}
				select {
				case out <- job:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close closes the redis client.
func (m *RedisMirror) Close() error { return m.client.Close() }

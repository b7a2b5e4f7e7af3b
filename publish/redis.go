package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisClient interface {
	Set(ctx context.Context, key string, value any,
		expiration time.Duration) *redis.StatusCmd
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	Close() error
}

// A RedisPublisher stores every summary under <prefix><run id> and announces
// it on a channel.
type RedisPublisher struct {
	client  redisClient
	prefix  string
	channel string
	ttl     time.Duration
}

// NewRedisPublisher connects to the Redis server at url, for example
// redis://localhost:6379/0. A zero ttl keeps the summaries forever.
func NewRedisPublisher(
	url, prefix, channel string,
	ttl time.Duration,
) (*RedisPublisher, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = client.Ping(ctx).Err()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return newRedisPublisher(client, prefix, channel, ttl), nil
}

func newRedisPublisher(
	client redisClient,
	prefix, channel string,
	ttl time.Duration,
) *RedisPublisher {
	return &RedisPublisher{
		client:  client,
		prefix:  prefix,
		channel: channel,
		ttl:     ttl,
	}
}

// Publish stores the summary and notifies the subscribers of the channel.
func (p *RedisPublisher) Publish(ctx context.Context, s Summary) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}

	err = p.client.Set(ctx, p.prefix+s.RunID, data, p.ttl).Err()
	if err != nil {
		return fmt.Errorf("storing summary %s: %w", s.RunID, err)
	}

	if p.channel == "" {
		return nil
	}

	err = p.client.Publish(ctx, p.channel, data).Err()
	if err != nil {
		return fmt.Errorf("announcing summary %s: %w", s.RunID, err)
	}

	return nil
}

// Close closes the connection.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

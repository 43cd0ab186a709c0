package votes

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// swapScript stores the new direction for a voter and returns the previous one ("" if none).
var swapScript = redis.NewScript(`
local prev = redis.call('HGET', KEYS[1], ARGV[1])
if prev == ARGV[2] then
	return prev
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
if prev then
	return prev
end
return ''
`)

// RedisLedger keeps one hash per entity, field = voter id, value = direction.
type RedisLedger struct {
	client *redis.Client
	prefix string
}

// NewRedisLedger connects to redisURL and checks the connection.
func NewRedisLedger(redisURL string) (*RedisLedger, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisLedgerWithClient(client), nil
}

func NewRedisLedgerWithClient(client *redis.Client) *RedisLedger {
	return &RedisLedger{
		client: client,
		prefix: "votes:",
	}
}

func (l *RedisLedger) key(entity string) string {
	return l.prefix + entity
}

func (l *RedisLedger) Cast(ctx context.Context, entity, voter string, dir Direction) (Delta, error) {
	prev, err := swapScript.Run(ctx, l.client, []string{l.key(entity)}, voter, string(dir)).Text()
	if err != nil {
		return Delta{}, fmt.Errorf("cast vote: %w", err)
	}
	return change(Direction(prev), dir), nil
}

func (l *RedisLedger) Close() error {
	return l.client.Close()
}

func (l *RedisLedger) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

package peer

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/bobg/pit"
)

var _ Discovery = &Redis{}

// Redis is a Discovery using a Redis server as a rendezvous point.
// Each topic is a sorted set at pit:topic:<topic>
// whose members are addresses
// and whose scores are the Unix times at which the announcements expire.
type Redis struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// DefaultRedisTTL is the announcement lifetime used when none is given.
const DefaultRedisTTL = 2 * time.Minute

// NewRedis produces a Redis discovery using the given client.
// Announcements expire after ttl
// (DefaultRedisTTL if ttl is not positive).
func NewRedis(rdb redis.UniversalClient, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultRedisTTL
	}
	return &Redis{rdb: rdb, ttl: ttl}
}

// DialRedis parses a redis:// URL and produces a Redis discovery connected to it.
func DialRedis(url string, ttl time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing redis URL %s", url)
	}
	return NewRedis(redis.NewClient(opts), ttl), nil
}

// TopicKey is the Redis key of the sorted set for a topic.
func TopicKey(topic pit.Topic) string {
	return "pit:topic:" + topic.String()
}

func (r *Redis) Announce(ctx context.Context, topic pit.Topic, addr string) error {
	z := redis.Z{
		Score:  float64(time.Now().Add(r.ttl).Unix()),
		Member: addr,
	}
	return errors.Wrapf(r.rdb.ZAdd(ctx, TopicKey(topic), z).Err(), "announcing %s", addr)
}

func (r *Redis) Unannounce(ctx context.Context, topic pit.Topic, addr string) error {
	return errors.Wrapf(r.rdb.ZRem(ctx, TopicKey(topic), addr).Err(), "unannouncing %s", addr)
}

// Lookup lists the unexpired addresses on the topic,
// and removes expired ones.
func (r *Redis) Lookup(ctx context.Context, topic pit.Topic) ([]string, error) {
	var (
		key = TopicKey(topic)
		now = strconv.FormatInt(time.Now().Unix(), 10)
	)
	if err := r.rdb.ZRemRangeByScore(ctx, key, "-inf", "("+now).Err(); err != nil {
		return nil, errors.Wrap(err, "removing expired announcements")
	}
	addrs, err := r.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: now, Max: "+inf"}).Result()
	return addrs, errors.Wrapf(err, "looking up topic %s", topic)
}

// Close closes the Redis client.
func (r *Redis) Close() error {
	return r.rdb.Close()
}

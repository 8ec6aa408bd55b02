package coord

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cuemby/ciorch/pkg/orcherr"
	"github.com/cuemby/ciorch/pkg/types"
)

// acquireScript atomically grants or renews a lease: if the key is absent
// or already held by holderID, set it with a fresh TTL and bump the
// generation counter only on a fresh acquisition (not a renewal).
var acquireScript = redis.NewScript(`
local key = KEYS[1]
local holder = ARGV[1]
local ttl_ms = ARGV[2]
local current = redis.call("HGET", key, "holder")
if current == false then
	local gen = redis.call("INCR", KEYS[2])
	redis.call("HSET", key, "holder", holder, "generation", gen)
	redis.call("PEXPIRE", key, ttl_ms)
	return {1, gen}
elseif current == holder then
	redis.call("PEXPIRE", key, ttl_ms)
	local gen = redis.call("HGET", key, "generation")
	return {1, tonumber(gen)}
else
	local gen = redis.call("HGET", key, "generation")
	return {0, tonumber(gen)}
end
`)

// releaseScript drops a lease only if still held by holderID.
var releaseScript = redis.NewScript(`
local key = KEYS[1]
local holder = ARGV[1]
local current = redis.call("HGET", key, "holder")
if current == holder then
	redis.call("DEL", key)
	return 1
end
return 0
`)

// RedisStore is the Redis-backed Coordination Store implementation.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisStore connects to Redis (standalone or sentinel-fronted,
// depending on how many sentinelNames are given) under keyPrefix.
func NewRedisStore(addresses []string, sentinelNames []string, password, keyPrefix string, connectTimeout, commandTimeout time.Duration) (*RedisStore, error) {
	var client redis.UniversalClient
	if len(sentinelNames) > 0 {
		client = redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    sentinelNames[0],
			SentinelAddrs: addresses,
			Password:      password,
			DialTimeout:   connectTimeout,
			ReadTimeout:   commandTimeout,
			WriteTimeout:  commandTimeout,
		})
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:        addresses,
			Password:     password,
			DialTimeout:  connectTimeout,
			ReadTimeout:  commandTimeout,
			WriteTimeout: commandTimeout,
		})
	}

	return &RedisStore{client: client, keyPrefix: keyPrefix}, nil
}

// NewRedisStoreFromClient wraps an already-constructed client (used by
// tests against miniredis).
func NewRedisStoreFromClient(client redis.UniversalClient, keyPrefix string) *RedisStore {
	return &RedisStore{client: client, keyPrefix: keyPrefix}
}

func (s *RedisStore) leaseKey(key string) string {
	return fmt.Sprintf("%s:lease:%s", s.keyPrefix, key)
}

func (s *RedisStore) channelKey(channel string) string {
	return fmt.Sprintf("%s:channel:%s", s.keyPrefix, channel)
}

// AcquireLease implements Store.
func (s *RedisStore) AcquireLease(ctx context.Context, key, holderID string, ttl time.Duration) (*types.Lease, bool, error) {
	res, err := acquireScript.Run(ctx, s.client, []string{s.leaseKey(key), s.leaseKey(key) + ":generation"}, holderID, ttl.Milliseconds()).Result()
	if err != nil {
		return nil, false, orcherr.DependencyUnavailable(err, "acquire lease %s", key)
	}

	vals := res.([]interface{})
	granted := vals[0].(int64) == 1
	generation := vals[1].(int64)

	lease := &types.Lease{
		Key:        key,
		HolderID:   holderID,
		ExpiresAt:  time.Now().Add(ttl),
		Generation: generation,
	}
	if !granted {
		lease.HolderID = ""
	}
	return lease, granted, nil
}

// RenewLease implements Store.
func (s *RedisStore) RenewLease(ctx context.Context, key, holderID string, ttl time.Duration) (*types.Lease, error) {
	lease, granted, err := s.AcquireLease(ctx, key, holderID, ttl)
	if err != nil {
		return nil, err
	}
	if !granted {
		return nil, orcherr.Conflict("lease %s is no longer held by %s", key, holderID)
	}
	return lease, nil
}

// ReleaseLease implements Store.
func (s *RedisStore) ReleaseLease(ctx context.Context, key, holderID string) error {
	res, err := releaseScript.Run(ctx, s.client, []string{s.leaseKey(key)}, holderID).Result()
	if err != nil {
		return orcherr.DependencyUnavailable(err, "release lease %s", key)
	}
	if res.(int64) == 0 {
		return orcherr.Conflict("lease %s is not held by %s", key, holderID)
	}
	return nil
}

// GetLease implements Store.
func (s *RedisStore) GetLease(ctx context.Context, key string) (*types.Lease, error) {
	vals, err := s.client.HGetAll(ctx, s.leaseKey(key)).Result()
	if err != nil {
		return nil, orcherr.DependencyUnavailable(err, "get lease %s", key)
	}
	if len(vals) == 0 {
		return nil, orcherr.NotFound("lease %s not held", key)
	}

	ttl, err := s.client.PTTL(ctx, s.leaseKey(key)).Result()
	if err != nil {
		return nil, orcherr.DependencyUnavailable(err, "get lease ttl %s", key)
	}

	var generation int64
	fmt.Sscanf(vals["generation"], "%d", &generation)

	return &types.Lease{
		Key:        key,
		HolderID:   vals["holder"],
		ExpiresAt:  time.Now().Add(ttl),
		Generation: generation,
	}, nil
}

// Publish implements Store.
func (s *RedisStore) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := s.client.Publish(ctx, s.channelKey(channel), payload).Err(); err != nil {
		return orcherr.DependencyUnavailable(err, "publish to %s", channel)
	}
	return nil
}

// Subscribe implements Store.
func (s *RedisStore) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	pubsub := s.client.Subscribe(ctx, s.channelKey(channel))
	if _, err := pubsub.Receive(ctx); err != nil {
		return nil, orcherr.DependencyUnavailable(err, "subscribe to %s", channel)
	}

	out := make(chan []byte, 64)
	go func() {
		defer close(out)
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Ping verifies connectivity, used by the HA health monitor's coord probe.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return orcherr.DependencyUnavailable(err, "coord ping failed")
	}
	return nil
}

// Close releases the client connection(s).
func (s *RedisStore) Close() error {
	return s.client.Close()
}

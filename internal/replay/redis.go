package replay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix   = "replay:v1:"
	claimPrefix = "replay:v1:proof:"
)

// reserveScript moves an issued record to pending and claims its binding. Both keys
// lose any expiry.
var reserveScript = redis.NewScript(`
local raw = redis.call("GET", KEYS[1])
if not raw then
  return "not_issued"
end
local rec = cjson.decode(raw)
if rec["binding"] ~= ARGV[1] then
  return "not_issued"
end
if rec["status"] ~= "issued" then
  return "replay"
end
if redis.call("EXISTS", KEYS[2]) == 1 then
  return "spent"
end
rec["status"] = "pending"
rec["reservedAt"] = ARGV[2]
redis.call("SET", KEYS[1], cjson.encode(rec))
redis.call("SET", KEYS[2], rec["nonce"])
return "ok"
`)

// releaseScript returns a pending record to issued and drops its claim.
var releaseScript = redis.NewScript(`
local raw = redis.call("GET", KEYS[1])
if not raw then
  return 0
end
local rec = cjson.decode(raw)
if rec["status"] ~= "pending" or rec["binding"] ~= ARGV[1] then
  return 0
end
rec["status"] = "issued"
rec["reservedAt"] = ARGV[2]
redis.call("DEL", KEYS[2])
local ttl = tonumber(ARGV[3])
if ttl > 0 then
  redis.call("SET", KEYS[1], cjson.encode(rec), "PX", ttl)
else
  redis.call("SET", KEYS[1], cjson.encode(rec))
end
return 1
`)

// RedisStore keeps nonces as JSON records. ttl bounds how long an issued nonce stays
// redeemable; zero keeps issued nonces indefinitely.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisStore wraps an established client.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, now: time.Now}
}

func (s *RedisStore) Issue(ctx context.Context, nonce, binding string) error {
	payload, err := json.Marshal(Record{Nonce: nonce, Binding: binding, Status: StatusIssued, IssuedAt: s.now().UTC()})
	if err != nil {
		return fmt.Errorf("encode replay record: %w", err)
	}
	ok, err := s.client.SetNX(ctx, keyPrefix+nonce, payload, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("issue replay nonce: %w", err)
	}
	if !ok {
		return ErrReplayDetected
	}
	return nil
}

func (s *RedisStore) Reserve(ctx context.Context, nonce, binding string) error {
	keys := []string{keyPrefix + nonce, claimPrefix + binding}
	res, err := reserveScript.Run(ctx, s.client, keys, binding, s.now().UTC().Format(time.RFC3339Nano)).Text()
	if err != nil {
		return fmt.Errorf("reserve replay nonce: %w", err)
	}
	switch res {
	case "ok":
		return nil
	case "not_issued":
		return ErrNotIssued
	case "spent":
		return ErrProofSpent
	default:
		return ErrReplayDetected
	}
}

func (s *RedisStore) Commit(ctx context.Context, nonce string, status Status, receipt string) error {
	rec, err := s.Lookup(ctx, nonce)
	if err != nil {
		return err
	}
	rec.Status = status
	rec.Receipt = receipt
	rec.ConsumedAt = s.now().UTC()
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode replay record: %w", err)
	}
	// no expiration: a settled nonce must stay unusable
	if err := s.client.SetArgs(ctx, keyPrefix+nonce, payload, redis.SetArgs{Mode: "XX"}).Err(); err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		return fmt.Errorf("commit replay nonce: %w", err)
	}
	return nil
}

func (s *RedisStore) Release(ctx context.Context, nonce string) error {
	rec, err := s.Lookup(ctx, nonce)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	keys := []string{keyPrefix + nonce, claimPrefix + rec.Binding}
	zero, _ := time.Time{}.MarshalText()
	err = releaseScript.Run(ctx, s.client, keys, rec.Binding, string(zero), s.ttl.Milliseconds()).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release replay nonce: %w", err)
	}
	return nil
}

func (s *RedisStore) Lookup(ctx context.Context, nonce string) (Record, error) {
	raw, err := s.client.Get(ctx, keyPrefix+nonce).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("lookup replay nonce: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, fmt.Errorf("decode replay record: %w", err)
	}
	return rec, nil
}

package redisstore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-signatures/core"
	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "sig:idem"

var (
	ErrRecordNotFound   = errors.New("redisstore: idempotency record not found")
	ErrRedisUnavailable = errors.New("redisstore: redis unavailable")
)

// completeLua swaps a record for its completed form and resets its expiry.
// KEYS[1] = record key
// ARGV[1] = request hash
// ARGV[2] = status code
// ARGV[3] = body (base64)
// ARGV[4] = ttl in milliseconds
// ARGV[5] = expires_at in unix milliseconds
//
// Returns 1 when the record was completed and 0 when it is missing or owned by
// another request hash.
var completeLua = redis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
  return 0
end
local record = cjson.decode(data)
if record['request_hash'] ~= ARGV[1] then
  return 0
end
record['state'] = 'completed'
record['status_code'] = tonumber(ARGV[2])
record['body'] = ARGV[3]
record['expires_at'] = tonumber(ARGV[5])
local ttl = tonumber(ARGV[4])
if ttl <= 0 then
  redis.call('DEL', KEYS[1])
  return 1
end
redis.call('SET', KEYS[1], cjson.encode(record), 'PX', ttl)
return 1
`)

// releaseLua deletes a pending record owned by the given request hash.
// KEYS[1] = record key
// ARGV[1] = request hash
var releaseLua = redis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
  return 0
end
local record = cjson.decode(data)
if record['request_hash'] ~= ARGV[1] or record['state'] ~= 'pending' then
  return 0
end
redis.call('DEL', KEYS[1])
return 1
`)

type storedRecord struct {
	Key         string `json:"key"`
	RequestHash string `json:"request_hash"`
	State       string `json:"state"`
	StatusCode  int    `json:"status_code"`
	Body        []byte `json:"body"`
	CreatedAt   int64  `json:"created_at"`
	ExpiresAt   int64  `json:"expires_at"`
}

// IdempotencyStore claims keys with SET NX and lets Redis expire them, so
// DeleteExpired has nothing to sweep.
type IdempotencyStore struct {
	redis  redis.UniversalClient
	prefix string
	clock  core.Clock
}

type Option func(*IdempotencyStore)

func WithKeyPrefix(prefix string) Option {
	return func(s *IdempotencyStore) {
		if trimmed := strings.TrimSpace(prefix); trimmed != "" {
			s.prefix = trimmed
		}
	}
}

func WithClock(clock core.Clock) Option {
	return func(s *IdempotencyStore) {
		s.clock = clock
	}
}

func NewIdempotencyStore(client redis.UniversalClient, opts ...Option) (*IdempotencyStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redisstore: redis client is required")
	}
	store := &IdempotencyStore{redis: client, prefix: defaultKeyPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

func (s *IdempotencyStore) key(key string) string {
	return s.prefix + ":" + strings.TrimSpace(key)
}

func (s *IdempotencyStore) Claim(ctx context.Context, record core.IdempotencyRecord) (core.IdempotencyRecord, bool, error) {
	record.Key = strings.TrimSpace(record.Key)
	if record.Key == "" {
		return core.IdempotencyRecord{}, false, fmt.Errorf("redisstore: idempotency key is required")
	}
	record.State = core.IdempotencyStatePending
	ttl := record.ExpiresAt.Sub(s.clock.Now())
	if ttl <= 0 {
		// Already past its expiry: the caller owns the key but there is nothing to keep.
		return core.IdempotencyRecord{}, true, nil
	}
	payload, err := encodeRecord(record)
	if err != nil {
		return core.IdempotencyRecord{}, false, err
	}

	// The holder can expire between SET NX and GET, so retry a couple of times.
	for attempt := 0; attempt < 3; attempt++ {
		stored, err := s.redis.SetNX(ctx, s.key(record.Key), payload, ttl).Result()
		if err != nil {
			return core.IdempotencyRecord{}, false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		if stored {
			return core.IdempotencyRecord{}, true, nil
		}
		existing, err := s.Get(ctx, record.Key)
		if errors.Is(err, ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return core.IdempotencyRecord{}, false, err
		}
		return existing, false, nil
	}
	return core.IdempotencyRecord{}, false, fmt.Errorf("redisstore: claim for %s did not settle", record.Key)
}

func (s *IdempotencyStore) Complete(ctx context.Context, key string, requestHash string, statusCode int, body []byte, expiresAt time.Time) error {
	// encoding/json reads []byte fields as base64 text.
	bodyText := base64.StdEncoding.EncodeToString(body)
	ttl := expiresAt.Sub(s.clock.Now()).Milliseconds()
	result, err := completeLua.Run(ctx, s.redis, []string{s.key(key)},
		requestHash, statusCode, bodyText, ttl, expiresAt.UnixMilli()).Int()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if result == 0 {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, key)
	}
	return nil
}

func (s *IdempotencyStore) Release(ctx context.Context, key string, requestHash string) error {
	if err := releaseLua.Run(ctx, s.redis, []string{s.key(key)}, requestHash).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (s *IdempotencyStore) DeleteExpired(context.Context, time.Time) (int, error) {
	return 0, nil
}

func (s *IdempotencyStore) Get(ctx context.Context, key string) (core.IdempotencyRecord, error) {
	data, err := s.redis.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return core.IdempotencyRecord{}, fmt.Errorf("%w: %s", ErrRecordNotFound, key)
	}
	if err != nil {
		return core.IdempotencyRecord{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return decodeRecord(data)
}

func encodeRecord(record core.IdempotencyRecord) ([]byte, error) {
	return json.Marshal(storedRecord{
		Key:         record.Key,
		RequestHash: record.RequestHash,
		State:       string(record.State),
		StatusCode:  record.StatusCode,
		Body:        record.Body,
		CreatedAt:   record.CreatedAt.UnixMilli(),
		ExpiresAt:   record.ExpiresAt.UnixMilli(),
	})
}

func decodeRecord(data []byte) (core.IdempotencyRecord, error) {
	var stored storedRecord
	if err := json.Unmarshal(data, &stored); err != nil {
		return core.IdempotencyRecord{}, fmt.Errorf("redisstore: decode record: %w", err)
	}
	return core.IdempotencyRecord{
		Key:         stored.Key,
		RequestHash: stored.RequestHash,
		State:       core.IdempotencyState(stored.State),
		StatusCode:  stored.StatusCode,
		Body:        stored.Body,
		CreatedAt:   time.UnixMilli(stored.CreatedAt).UTC(),
		ExpiresAt:   time.UnixMilli(stored.ExpiresAt).UTC(),
	}, nil
}

var _ core.IdempotencyStore = (*IdempotencyStore)(nil)

// Package redis provides a Redis-backed fileref display-state store so that
// multiple gateway instances converge on the same resolved URLs.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mcpauth/authgate/fileref"
)

const defaultKeyPrefix = "fileref:"

// putIfNewer stores the entry only when no entry exists or the stored
// revision is lower. Running as a script keeps the compare-and-set atomic
// across gateway instances.
var putIfNewer = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur then
  local decoded = cjson.decode(cur)
  if tonumber(decoded.revision) >= tonumber(ARGV[2]) then
    return 0
  end
end
if tonumber(ARGV[3]) > 0 then
  redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
else
  redis.call('SET', KEYS[1], ARGV[1])
end
return 1
`)

// Option configures a Store.
type Option func(*Store)

// WithKeyPrefix overrides the Redis key prefix. Default "fileref:".
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// WithTTL expires entries after d. Zero (the default) keeps them until
// overwritten; resolved URLs usually have their own expiry, so a TTL on the
// same order keeps the store from serving dead links.
func WithTTL(d time.Duration) Option {
	return func(s *Store) { s.ttl = d }
}

// Store is a Redis-backed fileref.Store.
type Store struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// New creates a store over an existing Redis client. The caller owns the
// client's lifecycle; Close here does not close it.
func New(client *redis.Client, opts ...Option) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	s := &Store{client: client, prefix: defaultKeyPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) key(fileID string) string { return s.prefix + fileID }

func (s *Store) Get(ctx context.Context, fileID string) (*fileref.Entry, error) {
	raw, err := s.client.Get(ctx, s.key(fileID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get entry: %w", err)
	}
	var e fileref.Entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return nil, fmt.Errorf("decode entry: %w", err)
	}
	return &e, nil
}

func (s *Store) PutIfNewer(ctx context.Context, e fileref.Entry) (bool, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return false, fmt.Errorf("encode entry: %w", err)
	}
	stored, err := putIfNewer.Run(ctx, s.client,
		[]string{s.key(e.FileID)},
		string(raw), e.Revision, s.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("put entry: %w", err)
	}
	return stored == 1, nil
}

func (s *Store) Close() error { return nil }

package redisstore

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store caches the highest message id per (tenant, order). The incremental
// fetch path consults it to answer "anything new since N?" without a DB
// round-trip, which is where almost all poll traffic ends up.
type Store struct {
	rdb *redis.Client
}

func New(addr, password string, db int) *Store {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &Store{rdb: rdb}
}

func (s *Store) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

const maxIDTTL = 24 * time.Hour

func maxIDKey(tenant, orderID string) string {
	return "chat:maxid:" + tenant + ":" + orderID
}

// advance only ever raises the cached ceiling; concurrent writers may call
// it out of id order.
var advanceScript = redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
local new = tonumber(ARGV[1])
if new > cur then
	redis.call('SET', KEYS[1], ARGV[1], 'EX', ARGV[2])
end
return 1
`)

// GetMaxMessageID returns the cached ceiling for an order's log. ok is
// false on a miss or any redis trouble; callers fall back to the DB.
func (s *Store) GetMaxMessageID(ctx context.Context, tenant, orderID string) (uint64, bool) {
	if s == nil || s.rdb == nil {
		return 0, false
	}
	v, err := s.rdb.Get(ctx, maxIDKey(tenant, orderID)).Result()
	if err != nil {
		return 0, false
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// AdvanceMaxMessageID records that a message with this id now exists.
// Cache errors are swallowed: the cache is an optimization, not state.
// A ceiling that failed to advance must not keep answering polls, so the
// key is dropped when the script errors.
func (s *Store) AdvanceMaxMessageID(ctx context.Context, tenant, orderID string, id uint64) {
	if s == nil || s.rdb == nil {
		return
	}
	err := advanceScript.Run(ctx, s.rdb,
		[]string{maxIDKey(tenant, orderID)},
		id, int(maxIDTTL.Seconds()),
	).Err()
	if err != nil {
		_ = s.rdb.Del(ctx, maxIDKey(tenant, orderID)).Err()
	}
}

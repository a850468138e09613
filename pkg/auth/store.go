package auth

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/turnstile/pkg/observability"
)

const (
	tokenKeyPrefix = "auth:token:"
	liveSetKey     = "auth:tokens:live"
	ownerSetPrefix = "auth:sessions:"
)

// refreshScript atomically fetches a token record and, unless it is an API
// key, extends the key TTL. Records that fail to decode are deleted on the
// spot so one corrupt entry cannot wedge validation forever.
var refreshScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then
  return false
end
local ok, rec = pcall(cjson.decode, v)
if not ok then
  redis.call('DEL', KEYS[1])
  return 'CORRUPT'
end
if rec['kind'] ~= 'api-key' then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return v
`)

// backfillScript atomically re-addresses a legacy record under its lookup
// hash, preserving the remaining TTL, and swaps set memberships. The record's
// expiry is never altered by the move.
var backfillScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then
  return 0
end
local ok, rec = pcall(cjson.decode, v)
if not ok then
  redis.call('DEL', KEYS[1])
  return 0
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl <= 0 then
  return 0
end
rec['id'] = ARGV[1]
rec['lookup_hash'] = ARGV[1]
redis.call('SET', KEYS[2], cjson.encode(rec), 'PX', ttl)
redis.call('DEL', KEYS[1])
redis.call('SREM', KEYS[3], ARGV[2])
redis.call('SADD', KEYS[3], ARGV[1])
local owner = rec['owner_id']
if owner then
  redis.call('SREM', 'auth:sessions:'..owner, ARGV[2])
  redis.call('SADD', 'auth:sessions:'..owner, ARGV[1])
end
return 1
`)

// TokenStore persists token records in Redis. The key TTL is the single
// authority on expiry: a record that can be read is live, a record whose key
// has expired is gone. Two index sets (all live records, records per owner)
// support enumeration and bulk revocation; set members may briefly outlive
// their records and are dropped lazily on read and by the janitor.
type TokenStore struct {
	client  *redis.Client
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewTokenStore creates a Redis-backed token store
func NewTokenStore(client *redis.Client, logger *observability.Logger, metrics *observability.Metrics) *TokenStore {
	return &TokenStore{
		client:  client,
		logger:  logger,
		metrics: metrics,
	}
}

func (s *TokenStore) observe(op string, start time.Time, err error) {
	if s.metrics != nil {
		s.metrics.ObserveStoreOperation(op, start, err)
	}
}

func tokenKey(addr string) string {
	return tokenKeyPrefix + addr
}

func ownerSetKey(ownerID string) string {
	return ownerSetPrefix + ownerID
}

// Insert persists a new record addressed by record.ID with the given TTL and
// registers it in the live and per-owner index sets
func (s *TokenStore) Insert(ctx context.Context, record *TokenRecord, ttl time.Duration) error {
	start := time.Now()

	data, err := json.Marshal(record)
	if err != nil {
		return storeErr("insert", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, tokenKey(record.ID), data, ttl)
	pipe.SAdd(ctx, liveSetKey, record.ID)
	pipe.SAdd(ctx, ownerSetKey(record.OwnerID.String()), record.ID)
	_, err = pipe.Exec(ctx)
	s.observe("insert", start, err)
	if err != nil {
		return storeErr("insert", err)
	}
	return nil
}

// Get fetches a record by storage address. Absent records return (nil, nil).
// A record that no longer parses is deleted and treated as absent.
func (s *TokenStore) Get(ctx context.Context, addr string) (*TokenRecord, error) {
	start := time.Now()

	data, err := s.client.Get(ctx, tokenKey(addr)).Bytes()
	if err == redis.Nil {
		s.observe("get", start, nil)
		return nil, nil
	}
	if err != nil {
		s.observe("get", start, err)
		return nil, storeErr("get", err)
	}

	var record TokenRecord
	if err := json.Unmarshal(data, &record); err != nil {
		s.logger.WithField("addr", addr).WithError(err).Warn("deleting corrupt token record")
		s.client.Del(ctx, tokenKey(addr))
		s.observe("get", start, nil)
		return nil, nil
	}
	s.observe("get", start, nil)
	return &record, nil
}

// GetAndRefresh fetches a record and atomically extends its TTL, unless the
// record is an API key, which keeps its fixed expiry. Absent and corrupt
// records return (nil, nil); corrupt ones are deleted.
func (s *TokenStore) GetAndRefresh(ctx context.Context, addr string, ttl time.Duration) (*TokenRecord, error) {
	start := time.Now()

	res, err := refreshScript.Run(ctx, s.client, []string{tokenKey(addr)}, ttl.Milliseconds()).Result()
	if err == redis.Nil {
		s.observe("get_refresh", start, nil)
		return nil, nil
	}
	if err != nil {
		s.observe("get_refresh", start, err)
		return nil, storeErr("get_refresh", err)
	}

	payload, ok := res.(string)
	if !ok {
		s.observe("get_refresh", start, nil)
		return nil, nil
	}
	if payload == "CORRUPT" {
		s.logger.WithField("addr", addr).Warn("deleted corrupt token record")
		s.observe("get_refresh", start, nil)
		return nil, nil
	}

	var record TokenRecord
	if err := json.Unmarshal([]byte(payload), &record); err != nil {
		s.client.Del(ctx, tokenKey(addr))
		s.observe("get_refresh", start, nil)
		return nil, nil
	}

	if record.Kind != KindAPIKey {
		record.ExpiresAt = time.Now().UTC().Add(ttl)
	}
	s.observe("get_refresh", start, nil)
	return &record, nil
}

// Backfill re-addresses a legacy record under its lookup hash without
// touching its remaining TTL. Returns whether a move happened; a record that
// vanished or expired mid-flight is not an error.
func (s *TokenStore) Backfill(ctx context.Context, oldAddr, lookupHash string) (bool, error) {
	start := time.Now()

	res, err := backfillScript.Run(ctx, s.client,
		[]string{tokenKey(oldAddr), tokenKey(lookupHash), liveSetKey},
		lookupHash, oldAddr,
	).Int64()
	s.observe("backfill", start, err)
	if err != nil {
		return false, storeErr("backfill", err)
	}

	if res == 1 && s.metrics != nil {
		s.metrics.TokenBackfillsTotal.Inc()
	}
	return res == 1, nil
}

// LiveAddrs returns the storage addresses of all records in the live index.
// Some may point at keys that have since expired; callers must tolerate
// (nil, nil) when dereferencing.
func (s *TokenStore) LiveAddrs(ctx context.Context) ([]string, error) {
	start := time.Now()
	addrs, err := s.client.SMembers(ctx, liveSetKey).Result()
	s.observe("live_addrs", start, err)
	if err != nil {
		return nil, storeErr("live_addrs", err)
	}
	return addrs, nil
}

// OwnerAddrs returns the storage addresses in an owner's session index
func (s *TokenStore) OwnerAddrs(ctx context.Context, ownerID string) ([]string, error) {
	start := time.Now()
	addrs, err := s.client.SMembers(ctx, ownerSetKey(ownerID)).Result()
	s.observe("owner_addrs", start, err)
	if err != nil {
		return nil, storeErr("owner_addrs", err)
	}
	return addrs, nil
}

// OwnerRecords returns all live records for an owner, dropping stale index
// entries as it goes
func (s *TokenStore) OwnerRecords(ctx context.Context, ownerID string) ([]*TokenRecord, error) {
	addrs, err := s.OwnerAddrs(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	records := make([]*TokenRecord, 0, len(addrs))
	for _, addr := range addrs {
		record, err := s.Get(ctx, addr)
		if err != nil {
			return nil, err
		}
		if record == nil {
			s.client.SRem(ctx, ownerSetKey(ownerID), addr)
			s.client.SRem(ctx, liveSetKey, addr)
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

// Delete removes a record and its index entries. Deleting an already-absent
// record is not an error.
func (s *TokenStore) Delete(ctx context.Context, record *TokenRecord) error {
	start := time.Now()

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, tokenKey(record.ID))
	pipe.SRem(ctx, liveSetKey, record.ID)
	pipe.SRem(ctx, ownerSetKey(record.OwnerID.String()), record.ID)
	_, err := pipe.Exec(ctx)
	s.observe("delete", start, err)
	if err != nil {
		return storeErr("delete", err)
	}
	return nil
}

// DeleteAllForOwner removes every record belonging to the owner and returns
// how many record keys were deleted
func (s *TokenStore) DeleteAllForOwner(ctx context.Context, ownerID string) (int, error) {
	start := time.Now()

	addrs, err := s.OwnerAddrs(ctx, ownerID)
	if err != nil {
		return 0, err
	}
	if len(addrs) == 0 {
		return 0, nil
	}

	keys := make([]string, len(addrs))
	members := make([]interface{}, len(addrs))
	for i, addr := range addrs {
		keys[i] = tokenKey(addr)
		members[i] = addr
	}

	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, keys...)
	pipe.SRem(ctx, liveSetKey, members...)
	pipe.Del(ctx, ownerSetKey(ownerID))
	_, err = pipe.Exec(ctx)
	s.observe("delete_all", start, err)
	if err != nil {
		return 0, storeErr("delete_all", err)
	}
	return int(del.Val()), nil
}

// Prune drops live-index members whose record keys have expired. Returns how
// many stale entries were removed.
func (s *TokenStore) Prune(ctx context.Context) (int, error) {
	addrs, err := s.LiveAddrs(ctx)
	if err != nil {
		return 0, err
	}

	pruned := 0
	for _, addr := range addrs {
		exists, err := s.client.Exists(ctx, tokenKey(addr)).Result()
		if err != nil {
			return pruned, storeErr("prune", err)
		}
		if exists == 0 {
			if err := s.client.SRem(ctx, liveSetKey, addr).Err(); err != nil {
				return pruned, storeErr("prune", err)
			}
			pruned++
		}
	}
	return pruned, nil
}

// CountOwner returns the size of an owner's session index
func (s *TokenStore) CountOwner(ctx context.Context, ownerID string) (int64, error) {
	count, err := s.client.SCard(ctx, ownerSetKey(ownerID)).Result()
	if err != nil {
		return 0, storeErr("count_owner", err)
	}
	return count, nil
}

// Ping checks store connectivity
func (s *TokenStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return storeErr("ping", err)
	}
	return nil
}

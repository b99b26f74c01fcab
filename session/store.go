package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound is returned for missing, expired and revoked sessions.
	ErrNotFound = errors.New("session not found")
	// ErrRefreshHashMismatch is returned by RotateRefreshHash when the
	// presented hash is not the current one. The session is deleted.
	ErrRefreshHashMismatch = errors.New("refresh hash mismatch")
	// ErrRedisUnavailable wraps every transport failure.
	ErrRedisUnavailable = errors.New("redis unavailable")
	// ErrSessionCorrupt is returned when a stored blob cannot be parsed.
	ErrSessionCorrupt = errors.New("session corrupt")
)

// DefaultPrefix namespaces session keys when NewStore gets an empty prefix.
const DefaultPrefix = "gi"

const (
	rotateStatusNotFound    int64 = 0
	rotateStatusExpired     int64 = 1
	rotateStatusMismatch    int64 = 2
	rotateStatusRotated     int64 = 3
	rotateStatusInvalidBlob int64 = 4
)

const deleteSessionScript = `
local existed = redis.call("DEL", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[1])
return existed
`

var deleteSessionLua = redis.NewScript(deleteSessionScript)

// rotateRefreshScript compares and swaps the 32-byte refresh hash inside
// the encoded session in one step. It walks the v1 layout from encoder.go.
const rotateRefreshScript = `
local function read_be64(s, i)
  local n = 0
  for k = 0, 7 do
    local b = string.byte(s, i + k)
    if not b then
      return nil
    end
    n = n * 256 + b
  end
  return n
end

local function parse_session(data)
  if string.byte(data, 1) ~= 1 then
    return nil
  end

  local idx = 2
  local acct_len = string.byte(data, idx)
  if not acct_len or acct_len == 0 then
    return nil
  end
  idx = idx + 1
  if #data < idx + acct_len - 1 then
    return nil
  end
  local account_id = string.sub(data, idx, idx + acct_len - 1)
  idx = idx + acct_len

  local ip_len = string.byte(data, idx)
  if not ip_len then
    return nil
  end
  idx = idx + 1 + ip_len

  local ua_hi = string.byte(data, idx)
  local ua_lo = string.byte(data, idx + 1)
  if not ua_hi or not ua_lo then
    return nil
  end
  idx = idx + 2 + ua_hi * 256 + ua_lo

  if #data < idx + 47 then
    return nil
  end
  local refresh_offset = idx
  local refresh_hash = string.sub(data, idx, idx + 31)
  idx = idx + 40

  return {
    account_id = account_id,
    refresh_hash = refresh_hash,
    refresh_offset = refresh_offset,
    expires_at = read_be64(data, idx)
  }
end

local session_key = KEYS[1]
local session_id = ARGV[1]
local account_prefix = ARGV[2]
local provided_hash = ARGV[3]
local next_hash = ARGV[4]
local now_unix = tonumber(ARGV[5])

local data = redis.call("GET", session_key)
if not data then
  return {0}
end

local parsed = parse_session(data)
if not parsed or not parsed.expires_at then
  return {4}
end

local account_key = account_prefix .. parsed.account_id

if parsed.expires_at <= now_unix then
  redis.call("DEL", session_key)
  redis.call("SREM", account_key, session_id)
  return {1}
end

if parsed.refresh_hash ~= provided_hash then
  redis.call("DEL", session_key)
  redis.call("SREM", account_key, session_id)
  return {2}
end

local ttl = redis.call("PTTL", session_key)
if ttl <= 0 then
  redis.call("DEL", session_key)
  redis.call("SREM", account_key, session_id)
  return {1}
end

local updated = string.sub(data, 1, parsed.refresh_offset - 1) .. next_hash .. string.sub(data, parsed.refresh_offset + 32)
redis.call("SET", session_key, updated, "PX", ttl)

return {3, updated}
`

var rotateRefreshLua = redis.NewScript(rotateRefreshScript)

// Store keeps sessions in Redis under <prefix>:s:<sessionID> with a per
// account index set at <prefix>:a:<accountID>. Revocation deletes the
// record, so a revoked session reads as ErrNotFound.
type Store struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewStore creates a Store on rdb. An empty prefix selects DefaultPrefix.
func NewStore(rdb redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{redis: rdb, prefix: prefix, now: time.Now}
}

func (s *Store) key(sessionID string) string {
	return s.prefix + ":s:" + sessionID
}

func (s *Store) accountPrefix() string {
	return s.prefix + ":a:"
}

func (s *Store) accountKey(accountID string) string {
	return s.accountPrefix() + accountID
}

// Save writes sess with the given TTL and adds it to the account index.
//
//	Performance: one MULTI with SET, SADD and EXPIRE.
func (s *Store) Save(ctx context.Context, sess *Session, ttl time.Duration) error {
	if sess.SessionID == "" {
		return errors.New("session id is required")
	}
	if ttl <= 0 {
		return errors.New("session ttl must be positive")
	}
	data, err := Encode(sess)
	if err != nil {
		return err
	}

	accountKey := s.accountKey(sess.AccountID)
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(sess.SessionID), data, ttl)
		pipe.SAdd(ctx, accountKey, sess.SessionID)
		pipe.Expire(ctx, accountKey, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Get loads a live session.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	data, err := s.redis.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sess, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionCorrupt, err)
	}
	sess.SessionID = sessionID

	if s.now().Unix() >= sess.ExpiresAt {
		if err := s.deleteSessionAndIndex(ctx, sess.AccountID, sessionID); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return sess, nil
}

// Delete removes one session. It reports whether a live record existed and
// is safe to call repeatedly.
func (s *Store) Delete(ctx context.Context, sessionID string) (bool, error) {
	data, err := s.redis.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sess, err := Decode(data)
	if err != nil {
		if delErr := s.redis.Del(ctx, s.key(sessionID)).Err(); delErr != nil {
			return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, delErr)
		}
		return true, nil
	}

	if err := s.deleteSessionAndIndex(ctx, sess.AccountID, sessionID); err != nil {
		return false, err
	}
	return true, nil
}

// DeleteAllForAccount removes every session of accountID and returns how
// many still existed.
//
// The index is read before the delete, so a session saved concurrently
// with this call can survive it.
func (s *Store) DeleteAllForAccount(ctx context.Context, accountID string) (int, error) {
	accountKey := s.accountKey(accountID)

	sessionIDs, err := s.redis.SMembers(ctx, accountKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(sessionIDs) == 0 {
		return 0, nil
	}

	keys := make([]string, len(sessionIDs))
	for i, id := range sessionIDs {
		keys[i] = s.key(id)
	}

	var deleted *redis.IntCmd
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		deleted = pipe.Del(ctx, keys...)
		pipe.Del(ctx, accountKey)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return int(deleted.Val()), nil
}

// ListForAccount returns the live sessions of accountID. Index entries
// whose record has expired are pruned as a side effect.
func (s *Store) ListForAccount(ctx context.Context, accountID string) ([]*Session, error) {
	accountKey := s.accountKey(accountID)

	sessionIDs, err := s.redis.SMembers(ctx, accountKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []*Session{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(sessionIDs) == 0 {
		return []*Session{}, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.StringCmd, len(sessionIDs))
	for i, sid := range sessionIDs {
		cmds[i] = pipe.Get(ctx, s.key(sid))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	nowUnix := s.now().Unix()
	sessions := make([]*Session, 0, len(sessionIDs))
	stale := make([]interface{}, 0)
	for i, cmd := range cmds {
		data, cmdErr := cmd.Bytes()
		if cmdErr != nil {
			if errors.Is(cmdErr, redis.Nil) {
				stale = append(stale, sessionIDs[i])
				continue
			}
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, cmdErr)
		}

		sess, decErr := Decode(data)
		if decErr != nil || nowUnix >= sess.ExpiresAt || sess.AccountID != accountID {
			stale = append(stale, sessionIDs[i])
			continue
		}
		sess.SessionID = sessionIDs[i]
		sessions = append(sessions, sess)
	}

	if len(stale) > 0 {
		if err := s.redis.SRem(ctx, accountKey, stale...).Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	return sessions, nil
}

// RotateRefreshHash swaps the stored refresh hash from providedHash to
// nextHash. A mismatch means an older refresh token was replayed: the
// session is deleted and ErrRefreshHashMismatch returned.
//
//	Performance: one EVALSHA.
func (s *Store) RotateRefreshHash(ctx context.Context, sessionID string, providedHash, nextHash [32]byte) (*Session, error) {
	result, err := rotateRefreshLua.Run(
		ctx,
		s.redis,
		[]string{s.key(sessionID)},
		sessionID,
		s.accountPrefix(),
		providedHash[:],
		nextHash[:],
		s.now().Unix(),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	parts, ok := result.([]interface{})
	if !ok || len(parts) == 0 {
		return nil, fmt.Errorf("%w: invalid refresh script response", ErrRedisUnavailable)
	}
	code, ok := parts[0].(int64)
	if !ok {
		return nil, fmt.Errorf("%w: invalid refresh script status", ErrRedisUnavailable)
	}

	switch code {
	case rotateStatusNotFound, rotateStatusExpired:
		return nil, ErrNotFound
	case rotateStatusMismatch:
		return nil, ErrRefreshHashMismatch
	case rotateStatusInvalidBlob:
		return nil, ErrSessionCorrupt
	case rotateStatusRotated:
		if len(parts) < 2 {
			return nil, fmt.Errorf("%w: missing updated session payload", ErrRedisUnavailable)
		}
		var blob []byte
		switch v := parts[1].(type) {
		case string:
			blob = []byte(v)
		case []byte:
			blob = v
		default:
			return nil, fmt.Errorf("%w: invalid updated session payload", ErrRedisUnavailable)
		}
		sess, decErr := Decode(blob)
		if decErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrSessionCorrupt, decErr)
		}
		sess.SessionID = sessionID
		return sess, nil
	default:
		return nil, fmt.Errorf("%w: unknown refresh script status", ErrRedisUnavailable)
	}
}

// Ping checks Redis reachability and returns the round trip time.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}

func (s *Store) deleteSessionAndIndex(ctx context.Context, accountID, sessionID string) error {
	_, err := deleteSessionLua.Run(ctx, s.redis, []string{s.key(sessionID), s.accountKey(accountID)}, sessionID).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

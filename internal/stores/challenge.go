package stores

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	challengeRecordVersionV1 = 1
	consumeMaxRetries        = 8
)

var (
	ErrChallengeNotFound         = errors.New("challenge record not found")
	ErrChallengeSecretMismatch   = errors.New("challenge secret mismatch")
	ErrChallengeConsumed         = errors.New("challenge record already consumed")
	ErrChallengeRedisUnavailable = errors.New("challenge redis unavailable")
)

// ChallengeRecord is the stored half of a challenge token. Times are unix
// seconds; ConsumedAt is zero until the record is redeemed.
type ChallengeRecord struct {
	AccountID  string
	SecretHash [32]byte
	IssuedAt   int64
	ExpiresAt  int64
	ConsumedAt int64
}

// Consumed reports whether the record has been redeemed.
func (r *ChallengeRecord) Consumed() bool {
	return r.ConsumedAt != 0
}

// supersedeScript stores a record and points the account at it, deleting
// whatever record the account pointed at before.
//
// KEYS[1] = record key, KEYS[2] = account pointer key
// ARGV[1] = record prefix, ARGV[2] = challenge id, ARGV[3] = payload, ARGV[4] = ttl ms
const supersedeScript = `
local previous = redis.call("GET", KEYS[2])
if previous and previous ~= ARGV[2] then
  redis.call("DEL", ARGV[1] .. previous)
end
redis.call("SET", KEYS[1], ARGV[3], "PX", ARGV[4])
redis.call("SET", KEYS[2], ARGV[2], "PX", ARGV[4])
return 1
`

var supersedeLua = redis.NewScript(supersedeScript)

// deleteAccountScript removes the account pointer and the record it names.
const deleteAccountScript = `
local current = redis.call("GET", KEYS[1])
if current then
  redis.call("DEL", ARGV[1] .. current)
end
return redis.call("DEL", KEYS[1])
`

var deleteAccountLua = redis.NewScript(deleteAccountScript)

// ChallengeStore keeps challenge records under <prefix>:r:<challengeID> and a
// pointer to the newest one under <prefix>:acct:<accountID>.
type ChallengeStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewChallengeStore(redisClient redis.UniversalClient, prefix string) *ChallengeStore {
	if prefix == "" {
		prefix = "ach"
	}
	return &ChallengeStore{
		redis:  redisClient,
		prefix: prefix,
		now:    time.Now,
	}
}

func (s *ChallengeStore) recordPrefix() string {
	return s.prefix + ":r:"
}

func (s *ChallengeStore) key(challengeID string) string {
	return s.recordPrefix() + challengeID
}

func (s *ChallengeStore) accountKey(accountID string) string {
	return s.prefix + ":acct:" + accountID
}

// Save stores record under challengeID for ttl and supersedes the account's
// previous record.
func (s *ChallengeStore) Save(ctx context.Context, challengeID string, record *ChallengeRecord, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("challenge ttl must be positive")
	}
	encoded, err := encodeChallengeRecord(record)
	if err != nil {
		return err
	}

	err = supersedeLua.Run(
		ctx,
		s.redis,
		[]string{s.key(challengeID), s.accountKey(record.AccountID)},
		s.recordPrefix(),
		challengeID,
		encoded,
		ttl.Milliseconds(),
	).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeRedisUnavailable, err)
	}
	return nil
}

// Consume redeems the record exactly once. A redeemed record is kept until
// it expires so that a second attempt reports ErrChallengeConsumed.
//
// The read-check-write runs under WATCH and retries when another client
// touched the key in between, so concurrent callers see one success.
func (s *ChallengeStore) Consume(ctx context.Context, challengeID string, providedHash [32]byte) (*ChallengeRecord, error) {
	key := s.key(challengeID)

	for i := 0; i < consumeMaxRetries; i++ {
		var matched *ChallengeRecord

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					return ErrChallengeNotFound
				}
				return err
			}

			record, err := decodeChallengeRecord(data)
			if err != nil {
				return err
			}

			now := s.now()
			if now.Unix() >= record.ExpiresAt {
				return ErrChallengeNotFound
			}
			if subtle.ConstantTimeCompare(record.SecretHash[:], providedHash[:]) != 1 {
				return ErrChallengeSecretMismatch
			}
			if record.Consumed() {
				return ErrChallengeConsumed
			}

			ttl, err := tx.PTTL(ctx, key).Result()
			if err != nil {
				return err
			}
			if ttl <= 0 {
				return ErrChallengeNotFound
			}

			record.ConsumedAt = now.Unix()
			updated, err := encodeChallengeRecord(record)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			if err != nil {
				return err
			}

			matched = record
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, ErrChallengeNotFound), errors.Is(err, ErrChallengeSecretMismatch), errors.Is(err, ErrChallengeConsumed):
				return nil, err
			default:
				return nil, fmt.Errorf("%w: %v", ErrChallengeRedisUnavailable, err)
			}
		}

		return matched, nil
	}

	return nil, fmt.Errorf("%w: consume contention", ErrChallengeRedisUnavailable)
}

// Get returns an unexpired record without changing it.
func (s *ChallengeStore) Get(ctx context.Context, challengeID string) (*ChallengeRecord, error) {
	data, err := s.redis.Get(ctx, s.key(challengeID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrChallengeRedisUnavailable, err)
	}

	record, err := decodeChallengeRecord(data)
	if err != nil {
		return nil, err
	}
	if s.now().Unix() >= record.ExpiresAt {
		return nil, ErrChallengeNotFound
	}
	return record, nil
}

// DeleteAccount removes the account's current record, if any.
func (s *ChallengeStore) DeleteAccount(ctx context.Context, accountID string) error {
	if err := deleteAccountLua.Run(ctx, s.redis, []string{s.accountKey(accountID)}, s.recordPrefix()).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeRedisUnavailable, err)
	}
	return nil
}

func encodeChallengeRecord(record *ChallengeRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(challengeRecordVersionV1)

	for _, v := range []int64{record.IssuedAt, record.ExpiresAt, record.ConsumedAt} {
		if err := binary.Write(&buf, binary.BigEndian, v); err != nil {
			return nil, err
		}
	}

	if len(record.AccountID) > 65535 {
		return nil, errors.New("challenge record account id too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.AccountID))); err != nil {
		return nil, err
	}
	buf.WriteString(record.AccountID)
	buf.Write(record.SecretHash[:])

	return buf.Bytes(), nil
}

func decodeChallengeRecord(data []byte) (*ChallengeRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != challengeRecordVersionV1 {
		return nil, errors.New("invalid challenge record version")
	}

	record := &ChallengeRecord{}
	for _, dst := range []*int64{&record.IssuedAt, &record.ExpiresAt, &record.ConsumedAt} {
		if err := binary.Read(reader, binary.BigEndian, dst); err != nil {
			return nil, err
		}
	}

	var accountIDLen uint16
	if err := binary.Read(reader, binary.BigEndian, &accountIDLen); err != nil {
		return nil, err
	}
	accountID := make([]byte, accountIDLen)
	if _, err := io.ReadFull(reader, accountID); err != nil {
		return nil, err
	}
	record.AccountID = string(accountID)

	if _, err := io.ReadFull(reader, record.SecretHash[:]); err != nil {
		return nil, err
	}

	return record, nil
}

package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/redis/go-redis/v9"
)

const (
	attemptKeyPrefix = "onboard:attempt:"
	recordKeyPrefix  = "onboard:record:"
)

// RedisStore implements Store on a Redis backend, keyed by an opaque session
// ID carried in a browser cookie. Values are CBOR-encoded and expire via
// Redis TTLs.
type RedisStore struct {
	client     redis.UniversalClient
	sid        string
	attemptTTL time.Duration
	recordTTL  time.Duration
}

// NewRedisStore builds a store for one session ID. Zero TTLs fall back to
// DefaultAttemptTTL and DefaultRecordTTL.
func NewRedisStore(client redis.UniversalClient, sid string, attemptTTL, recordTTL time.Duration) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("session: nil redis client")
	}
	if sid == "" {
		return nil, errors.New("session: empty session id")
	}
	if attemptTTL <= 0 {
		attemptTTL = DefaultAttemptTTL
	}
	if recordTTL <= 0 {
		recordTTL = DefaultRecordTTL
	}
	return &RedisStore{
		client:     client,
		sid:        sid,
		attemptTTL: attemptTTL,
		recordTTL:  recordTTL,
	}, nil
}

// SaveInFlight implements Store.
func (s *RedisStore) SaveInFlight(ctx context.Context, a Attempt) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	b, err := cbor.Marshal(a)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, attemptKeyPrefix+s.sid, b, s.attemptTTL).Err(); err != nil {
		return fmt.Errorf("session: save attempt: %w", err)
	}
	return nil
}

// LoadInFlight implements Store.
func (s *RedisStore) LoadInFlight(ctx context.Context) (Attempt, bool, error) {
	b, err := s.client.Get(ctx, attemptKeyPrefix+s.sid).Bytes()
	if errors.Is(err, redis.Nil) {
		return Attempt{}, false, nil
	}
	if err != nil {
		return Attempt{}, false, fmt.Errorf("session: load attempt: %w", err)
	}
	var a Attempt
	if err := cbor.Unmarshal(b, &a); err != nil {
		return Attempt{}, false, nil
	}
	return a, true, nil
}

// ClearInFlight implements Store.
func (s *RedisStore) ClearInFlight(ctx context.Context) error {
	if err := s.client.Del(ctx, attemptKeyPrefix+s.sid).Err(); err != nil {
		return fmt.Errorf("session: clear attempt: %w", err)
	}
	return nil
}

// LoadRecord implements Store.
func (s *RedisStore) LoadRecord(ctx context.Context) (Record, error) {
	b, err := s.client.Get(ctx, recordKeyPrefix+s.sid).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, nil
	}
	if err != nil {
		return Record{}, fmt.Errorf("session: load record: %w", err)
	}
	var rec Record
	if err := cbor.Unmarshal(b, &rec); err != nil {
		return Record{}, nil
	}
	return rec, nil
}

// SaveRecord implements Store.
func (s *RedisStore) SaveRecord(ctx context.Context, rec Record) error {
	b, err := cbor.Marshal(rec)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, recordKeyPrefix+s.sid, b, s.recordTTL).Err(); err != nil {
		return fmt.Errorf("session: save record: %w", err)
	}
	return nil
}

var _ Store = (*RedisStore)(nil)

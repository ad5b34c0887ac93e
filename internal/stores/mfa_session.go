package stores

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/MrEthical07/keystone/domain"
	"github.com/redis/go-redis/v9"
)

const (
	mfaSessionRecordVersion1 = 1

	// stateTagMFAPending is the only state persisted; Unauthenticated and
	// Authenticated never reach Redis.
	stateTagMFAPending = 'P'

	maxWatchRetries = 4
)

var (
	ErrMFASessionNotFound = errors.New("mfa session not found")
	ErrMFASessionExpired  = errors.New("mfa session expired")
	ErrMFASessionBackend  = errors.New("mfa session backend unavailable")
)

// MFAPending is the persisted half-authenticated login.
type MFAPending struct {
	UserID    string
	ExpiresAt time.Time
	Attempts  uint16
}

// MFASessionStore keeps MFA-pending logins keyed by the SHA-256 of the
// session id. A per-user pointer key lets a newer login supersede the
// previous pending session.
type MFASessionStore struct {
	redis  redis.UniversalClient
	prefix string
	clock  domain.Clock
}

func NewMFASessionStore(redisClient redis.UniversalClient, prefix string, clock domain.Clock) *MFASessionStore {
	if prefix == "" {
		prefix = "kmfa"
	}
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &MFASessionStore{redis: redisClient, prefix: prefix, clock: clock}
}

func (s *MFASessionStore) key(sessionID string) string {
	sum := sha256.Sum256([]byte(sessionID))
	return s.prefix + ":s:" + hex.EncodeToString(sum[:])
}

func (s *MFASessionStore) userKey(userID string) string {
	return s.prefix + ":u:" + userID
}

// Save stores a new pending session for userID and deletes the one it
// supersedes, if any.
func (s *MFASessionStore) Save(ctx context.Context, sessionID, userID string, ttl time.Duration) (MFAPending, error) {
	if ttl <= 0 {
		return MFAPending{}, errors.New("mfa session ttl must be > 0")
	}
	record := MFAPending{UserID: userID, ExpiresAt: s.clock.Now().Add(ttl).Truncate(time.Millisecond)}
	encoded, err := encodeMFAPending(record)
	if err != nil {
		return MFAPending{}, err
	}

	key := s.key(sessionID)
	ukey := s.userKey(userID)
	for i := 0; i < maxWatchRetries; i++ {
		err = s.redis.Watch(ctx, func(tx *redis.Tx) error {
			prior, err := tx.Get(ctx, ukey).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if prior != "" && prior != key {
					pipe.Del(ctx, prior)
				}
				pipe.Set(ctx, key, encoded, ttl)
				pipe.Set(ctx, ukey, key, ttl)
				return nil
			})
			return err
		}, ukey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return MFAPending{}, fmt.Errorf("%w: %v", ErrMFASessionBackend, err)
		}
		return record, nil
	}
	return MFAPending{}, fmt.Errorf("%w: contention", ErrMFASessionBackend)
}

func (s *MFASessionStore) Get(ctx context.Context, sessionID string) (MFAPending, error) {
	key := s.key(sessionID)
	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return MFAPending{}, ErrMFASessionNotFound
		}
		return MFAPending{}, fmt.Errorf("%w: %v", ErrMFASessionBackend, err)
	}

	record, err := decodeMFAPending(data)
	if err != nil {
		return MFAPending{}, err
	}
	if !s.clock.Now().Before(record.ExpiresAt) {
		_, _ = s.redis.Del(ctx, key).Result()
		return MFAPending{}, ErrMFASessionExpired
	}
	return record, nil
}

// Consume deletes the pending session and returns it. Of several
// concurrent callers at most one succeeds; the rest see
// ErrMFASessionNotFound.
func (s *MFASessionStore) Consume(ctx context.Context, sessionID string) (MFAPending, error) {
	key := s.key(sessionID)

	for i := 0; i < maxWatchRetries; i++ {
		var record MFAPending
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			record, err = decodeMFAPending(data)
			if err != nil {
				return err
			}
			expired := !s.clock.Now().Before(record.ExpiresAt)
			ukey := s.userKey(record.UserID)
			owner, err := tx.Get(ctx, ukey).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				if owner == key {
					pipe.Del(ctx, ukey)
				}
				return nil
			})
			if err != nil {
				return err
			}
			if expired {
				return ErrMFASessionExpired
			}
			return nil
		}, key)

		switch {
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, redis.Nil):
			return MFAPending{}, ErrMFASessionNotFound
		case errors.Is(err, ErrMFASessionExpired):
			return MFAPending{}, err
		case err != nil:
			return MFAPending{}, fmt.Errorf("%w: %v", ErrMFASessionBackend, err)
		}
		return record, nil
	}
	return MFAPending{}, ErrMFASessionNotFound
}

// RecordFailure counts a wrong code. Once maxAttempts is reached the
// session is deleted and exceeded is true.
func (s *MFASessionStore) RecordFailure(ctx context.Context, sessionID string, maxAttempts int) (bool, error) {
	key := s.key(sessionID)

	for i := 0; i < maxWatchRetries; i++ {
		var exceeded bool
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			record, err := decodeMFAPending(data)
			if err != nil {
				return err
			}

			ttl := record.ExpiresAt.Sub(s.clock.Now())
			if ttl <= 0 {
				if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				}); err != nil {
					return err
				}
				return ErrMFASessionExpired
			}

			record.Attempts++
			if int(record.Attempts) >= maxAttempts {
				exceeded = true
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				return err
			}

			updated, err := encodeMFAPending(record)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, redis.KeepTTL)
				return nil
			})
			return err
		}, key)

		switch {
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, redis.Nil):
			return false, ErrMFASessionNotFound
		case errors.Is(err, ErrMFASessionExpired):
			return false, err
		case err != nil:
			return false, fmt.Errorf("%w: %v", ErrMFASessionBackend, err)
		}
		return exceeded, nil
	}
	return false, ErrMFASessionNotFound
}

func encodeMFAPending(record MFAPending) ([]byte, error) {
	if len(record.UserID) > 65535 {
		return nil, errors.New("mfa session user id length exceeded")
	}
	var buf bytes.Buffer
	buf.WriteByte(mfaSessionRecordVersion1)
	buf.WriteByte(stateTagMFAPending)
	_ = binary.Write(&buf, binary.BigEndian, record.Attempts)
	_ = binary.Write(&buf, binary.BigEndian, record.ExpiresAt.UnixMilli())
	_ = binary.Write(&buf, binary.BigEndian, uint16(len(record.UserID)))
	buf.WriteString(record.UserID)
	return buf.Bytes(), nil
}

func decodeMFAPending(data []byte) (MFAPending, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return MFAPending{}, err
	}
	if version != mfaSessionRecordVersion1 {
		return MFAPending{}, errors.New("invalid mfa session version")
	}
	tag, err := reader.ReadByte()
	if err != nil {
		return MFAPending{}, err
	}
	if tag != stateTagMFAPending {
		return MFAPending{}, errors.New("invalid mfa session state")
	}

	var (
		record  MFAPending
		expires int64
		userLen uint16
	)
	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return MFAPending{}, err
	}
	if err := binary.Read(reader, binary.BigEndian, &expires); err != nil {
		return MFAPending{}, err
	}
	if err := binary.Read(reader, binary.BigEndian, &userLen); err != nil {
		return MFAPending{}, err
	}
	user := make([]byte, userLen)
	if _, err := io.ReadFull(reader, user); err != nil {
		return MFAPending{}, err
	}
	record.UserID = string(user)
	record.ExpiresAt = time.UnixMilli(expires).UTC()
	return record, nil
}

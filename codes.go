package idgate

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nmoreaux/idgate/internal"
)

const codeRecordVersionV1 = 1

var (
	errCodeNotFound         = errors.New("verification code not found")
	errCodeMismatch         = errors.New("verification code mismatch")
	errCodeAttemptsExceeded = errors.New("verification code attempts exceeded")
	errCodeRedisUnavailable = errors.New("verification code redis unavailable")
)

// codeRecord is the stored side of a one-time code. The plaintext code is
// never persisted; only its SHA-256.
type codeRecord struct {
	CodeHash  [32]byte
	UserToken string
	Attempts  uint16
	ExpiresAt int64
}

// codeStore keeps at most one live code per (kind, email) pair. Issuing a new
// code overwrites the previous one, so an old code can never race a new one.
type codeStore struct {
	redis  redis.UniversalClient
	prefix string
}

func newCodeStore(redisClient redis.UniversalClient, prefix string) *codeStore {
	return &codeStore{redis: redisClient, prefix: prefix}
}

func (s *codeStore) key(kind VerificationKind, email string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(email))))
	return fmt.Sprintf("%s:vc:%s:%x", s.prefix, kind, sum[:16])
}

func (s *codeStore) Save(ctx context.Context, kind VerificationKind, email string, record *codeRecord, ttl time.Duration) error {
	encoded, err := encodeCodeRecord(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(kind, email), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", errCodeRedisUnavailable, err)
	}
	return nil
}

func (s *codeStore) Delete(ctx context.Context, kind VerificationKind, email string) error {
	if err := s.redis.Del(ctx, s.key(kind, email)).Err(); err != nil {
		return fmt.Errorf("%w: %v", errCodeRedisUnavailable, err)
	}
	return nil
}

// Consume atomically checks the presented code. A correct code deletes the
// record and returns it, so a second presentation of the same code fails
// exactly like an unknown one. A wrong code burns an attempt; hitting the cap
// deletes the record.
func (s *codeStore) Consume(ctx context.Context, kind VerificationKind, email, code string, maxAttempts int) (*codeRecord, error) {
	const maxRetries = 4
	key := s.key(kind, email)
	providedHash := internal.HashToken(code)

	for i := 0; i < maxRetries; i++ {
		var matched *codeRecord

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeCodeRecord(data)
			if err != nil {
				return err
			}

			if time.Now().Unix() > record.ExpiresAt {
				if err := txDelete(ctx, tx, key); err != nil {
					return err
				}
				return errCodeNotFound
			}

			if subtle.ConstantTimeCompare(record.CodeHash[:], providedHash[:]) != 1 {
				record.Attempts++
				if int(record.Attempts) >= maxAttempts {
					if err := txDelete(ctx, tx, key); err != nil {
						return err
					}
					return errCodeAttemptsExceeded
				}

				ttl := time.Until(time.Unix(record.ExpiresAt, 0))
				if ttl <= 0 {
					if err := txDelete(ctx, tx, key); err != nil {
						return err
					}
					return errCodeNotFound
				}

				updated, err := encodeCodeRecord(record)
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
				return errCodeMismatch
			}

			if err := txDelete(ctx, tx, key); err != nil {
				return err
			}
			matched = record
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return nil, errCodeNotFound
			case errors.Is(err, errCodeNotFound),
				errors.Is(err, errCodeMismatch),
				errors.Is(err, errCodeAttemptsExceeded):
				return nil, err
			default:
				return nil, fmt.Errorf("%w: %v", errCodeRedisUnavailable, err)
			}
		}

		return matched, nil
	}

	return nil, errCodeNotFound
}

func txDelete(ctx context.Context, tx *redis.Tx, key string) error {
	_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		return nil
	})
	return err
}

func encodeCodeRecord(record *codeRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(codeRecordVersionV1)
	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}

	if len(record.UserToken) > 65535 {
		return nil, errors.New("code record user token too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.UserToken))); err != nil {
		return nil, err
	}
	buf.WriteString(record.UserToken)
	buf.Write(record.CodeHash[:])

	return buf.Bytes(), nil
}

func decodeCodeRecord(data []byte) (*codeRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != codeRecordVersionV1 {
		return nil, errors.New("invalid code record version")
	}

	record := &codeRecord{}
	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	var tokenLen uint16
	if err := binary.Read(reader, binary.BigEndian, &tokenLen); err != nil {
		return nil, err
	}
	token := make([]byte, tokenLen)
	if _, err := io.ReadFull(reader, token); err != nil {
		return nil, err
	}
	record.UserToken = string(token)

	if _, err := io.ReadFull(reader, record.CodeHash[:]); err != nil {
		return nil, err
	}

	return record, nil
}

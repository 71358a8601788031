package session

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound covers unknown, expired, and garbage-collected sessions.
	ErrNotFound = errors.New("session not found")
	// ErrInvalidated marks a session that was explicitly revoked.
	ErrInvalidated = errors.New("session invalidated")
	// ErrRefreshReused marks presentation of the previous, already-consumed
	// refresh secret. The store has already invalidated the session when
	// this is returned.
	ErrRefreshReused = errors.New("refresh secret reused")
	// ErrRefreshMismatch marks a refresh secret that matches neither the
	// current nor the previous hash.
	ErrRefreshMismatch = errors.New("refresh secret mismatch")
	// ErrUnavailable wraps Redis transport failures.
	ErrUnavailable = errors.New("session store unavailable")
)

const casRetries = 4

// Store reads and writes session records in Redis.
type Store struct {
	redis  *redis.Client
	prefix string
}

// NewStore creates a session store under the given key prefix.
func NewStore(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = "idg"
	}
	return &Store{redis: client, prefix: prefix}
}

func (st *Store) key(sessionID string) string {
	return st.prefix + ":s:" + sessionID
}

func (st *Store) userKey(userID string) string {
	return st.prefix + ":u:" + userID
}

// Save writes a new session record and indexes it under its user. The
// record's TTL is derived from ExpiresAt so Redis garbage-collects it.
func (st *Store) Save(ctx context.Context, s *Session) error {
	encoded, err := Encode(s)
	if err != nil {
		return err
	}

	ttl := time.Until(time.Unix(s.ExpiresAt, 0))
	if ttl <= 0 {
		return errors.New("session already expired")
	}

	pipe := st.redis.TxPipeline()
	pipe.Set(ctx, st.key(s.SessionID), encoded, ttl)
	pipe.SAdd(ctx, st.userKey(s.UserID), s.SessionID)
	pipe.Expire(ctx, st.userKey(s.UserID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Get loads a session record. Expired records are reported as not found;
// invalidated records are returned with the session so callers can
// distinguish revocation from absence.
func (st *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	data, err := st.redis.Get(ctx, st.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	s, err := Decode(data)
	if err != nil {
		return nil, ErrNotFound
	}
	if time.Now().Unix() >= s.ExpiresAt {
		_, _ = st.redis.Del(ctx, st.key(sessionID)).Result()
		return nil, ErrNotFound
	}
	if s.Invalidated() {
		return s, ErrInvalidated
	}
	return s, nil
}

// RotateRefresh atomically replaces the current refresh hash. Exactly one
// of the following happens, even under concurrent calls for the same
// session:
//
//   - providedHash matches the current hash: the session is re-written with
//     nextHash current and providedHash remembered as previous.
//   - providedHash matches the previous hash: the refresh secret was
//     already consumed; the session is invalidated in the same transaction
//     and ErrRefreshReused is returned.
//   - anything else: ErrRefreshMismatch, session untouched.
func (st *Store) RotateRefresh(ctx context.Context, sessionID string, providedHash, nextHash [32]byte) (*Session, error) {
	key := st.key(sessionID)

	for i := 0; i < casRetries; i++ {
		var rotated *Session
		var reused *Session

		err := st.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			s, err := Decode(data)
			if err != nil {
				return ErrNotFound
			}

			now := time.Now()
			if now.Unix() >= s.ExpiresAt {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					pipe.SRem(ctx, st.userKey(s.UserID), s.SessionID)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrNotFound
			}
			if s.Invalidated() {
				return ErrInvalidated
			}

			ttl := time.Until(time.Unix(s.ExpiresAt, 0))
			if ttl <= 0 {
				return ErrNotFound
			}

			if subtle.ConstantTimeCompare(s.RefreshHash[:], providedHash[:]) == 1 {
				s.PrevRefreshHash = s.RefreshHash
				s.RefreshHash = nextHash
				encoded, err := Encode(s)
				if err != nil {
					return err
				}
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Set(ctx, key, encoded, ttl)
					return nil
				})
				if err != nil {
					return err
				}
				rotated = s
				return nil
			}

			if subtle.ConstantTimeCompare(s.PrevRefreshHash[:], providedHash[:]) == 1 {
				// Replay of a consumed secret. Revoke the whole session,
				// not just the token.
				s.InvalidatedAt = now.Unix()
				encoded, err := Encode(s)
				if err != nil {
					return err
				}
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Set(ctx, key, encoded, ttl)
					return nil
				})
				if err != nil {
					return err
				}
				reused = s
				return ErrRefreshReused
			}

			return ErrRefreshMismatch
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return nil, ErrNotFound
			case errors.Is(err, ErrRefreshReused):
				return reused, ErrRefreshReused
			case errors.Is(err, ErrNotFound), errors.Is(err, ErrInvalidated), errors.Is(err, ErrRefreshMismatch):
				return nil, err
			default:
				return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
		}
		return rotated, nil
	}

	return nil, ErrRefreshMismatch
}

// Invalidate revokes a session in place, keeping the record (and its TTL)
// so later token presentations classify as revoked instead of unknown.
// Invalidating an already-invalidated or missing session is not an error.
func (st *Store) Invalidate(ctx context.Context, sessionID string) (*Session, error) {
	key := st.key(sessionID)

	for i := 0; i < casRetries; i++ {
		var out *Session

		err := st.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			s, err := Decode(data)
			if err != nil {
				return ErrNotFound
			}
			if s.Invalidated() {
				out = s
				return nil
			}

			ttl := time.Until(time.Unix(s.ExpiresAt, 0))
			if ttl <= 0 {
				return ErrNotFound
			}

			s.InvalidatedAt = time.Now().Unix()
			encoded, err := Encode(s)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, ttl)
				return nil
			})
			if err != nil {
				return err
			}
			out = s
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil), errors.Is(err, ErrNotFound):
				return nil, ErrNotFound
			default:
				return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
		}
		return out, nil
	}

	return nil, ErrNotFound
}

// InvalidateAllForUser revokes every live session indexed under userID.
// Returns the number of sessions revoked.
func (st *Store) InvalidateAllForUser(ctx context.Context, userID string) (int, error) {
	ids, err := st.redis.SMembers(ctx, st.userKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	revoked := 0
	for _, id := range ids {
		_, err := st.Invalidate(ctx, id)
		switch {
		case err == nil:
			revoked++
		case errors.Is(err, ErrNotFound):
			// Expired and collected; drop the stale index entry.
			_, _ = st.redis.SRem(ctx, st.userKey(userID), id).Result()
		default:
			return revoked, err
		}
	}
	return revoked, nil
}

// ActiveSessionCount reports the number of indexed sessions for a user.
// The count may include sessions pending natural expiry.
func (st *Store) ActiveSessionCount(ctx context.Context, userID string) (int, error) {
	n, err := st.redis.SCard(ctx, st.userKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return int(n), nil
}

package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/hostedid/devicereset/internal/auth"
	"github.com/hostedid/devicereset/internal/database"
	"github.com/hostedid/devicereset/internal/model"
	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix  = "rdr:"
	redisMaxRetries = 4
)

var errRedisRecordGone = errors.New("reset device record gone")

// RedisResetDeviceStore keeps reset-device requests in Redis. Every mutation
// runs under WATCH on the keys it read and commits with MULTI/EXEC, retrying a
// bounded number of times when a concurrent writer wins.
//
// Key layout:
//
//	rdr:req:<id>              JSON record
//	rdr:tok:<sha256(token)>   request id, expires with the token
//	rdr:user:<uid>:granted    id of the user's granted request
//	rdr:user:<uid>:requested  id of the user's open requested record
//	rdr:granted               sorted set of granted ids scored by expiry
type RedisResetDeviceStore struct {
	redis     *database.Redis
	retention time.Duration
	now       func() time.Time
}

// NewRedisResetDeviceStore creates a store. retention is how long closed
// records stay readable after their last write.
func NewRedisResetDeviceStore(rdb *database.Redis, retention time.Duration) *RedisResetDeviceStore {
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	return &RedisResetDeviceStore{redis: rdb, retention: retention, now: time.Now}
}

// SetClock overrides the time source used for expiry checks
func (s *RedisResetDeviceStore) SetClock(now func() time.Time) {
	s.now = now
}

// Open records a requested reset for userID. When the user already has an
// open requested record it is returned and created is false.
func (s *RedisResetDeviceStore) Open(ctx context.Context, userID string) (*model.ResetDeviceRequest, bool, error) {
	if userID == "" {
		return nil, false, ErrInvalidInput
	}
	userKey := s.userRequestedKey(userID)

	for i := 0; i < redisMaxRetries; i++ {
		var opened *model.ResetDeviceRequest
		created := false

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			existing, err := s.loadIndexed(ctx, tx, userKey)
			if err != nil {
				return err
			}
			if existing != nil && existing.State == model.ResetDeviceRequested {
				opened = existing
				return nil
			}

			now := s.now()
			req := &model.ResetDeviceRequest{
				ID:        newRequestID(),
				UserID:    userID,
				State:     model.ResetDeviceRequested,
				CreatedAt: now,
				UpdatedAt: now,
			}
			data, err := encodeRedisRecord(req)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, s.requestKey(req.ID), data, s.recordTTL(req, now))
				pipe.Set(ctx, userKey, req.ID, s.retention)
				return nil
			})
			if err != nil {
				return err
			}
			opened = req
			created = true
			return nil
		}, userKey)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return nil, false, fmt.Errorf("failed to open reset device request: %w", err)
		}
		return opened, created, nil
	}

	return nil, false, fmt.Errorf("failed to open reset device request: %w", redis.TxFailedErr)
}

// Issue grants a new token for userID, superseding any granted request of the user
func (s *RedisResetDeviceStore) Issue(ctx context.Context, userID string, profile *model.KBAProfile, ttl time.Duration) (*IssueResult, error) {
	if userID == "" || ttl <= 0 || profile == nil {
		return nil, ErrInvalidInput
	}

	grantedKey := s.userGrantedKey(userID)
	requestedKey := s.userRequestedKey(userID)

	for i := 0; i < redisMaxRetries; i++ {
		token, err := auth.GenerateResetToken()
		if err != nil {
			return nil, err
		}
		tokenHash := auth.HashToken(token)
		result := &IssueResult{Token: token}

		err = s.redis.Watch(ctx, func(tx *redis.Tx) error {
			prev, err := s.loadIndexed(ctx, tx, grantedKey)
			if err != nil {
				return err
			}
			pending, err := s.loadIndexed(ctx, tx, requestedKey)
			if err != nil {
				return err
			}

			now := s.now()
			expiresAt := now.Add(ttl)

			var closedPrev *model.ResetDeviceRequest
			var prevTokenHash string
			if prev != nil && prev.State == model.ResetDeviceGranted {
				if prev.TokenHash != nil {
					prevTokenHash = *prev.TokenHash
				}
				closeRecord(prev, model.ResetDeviceCancelled, model.CloseReasonSuperseded, now)
				closedPrev = prev
			}

			req := pending
			if req == nil || req.State != model.ResetDeviceRequested {
				req = &model.ResetDeviceRequest{
					ID:        newRequestID(),
					UserID:    userID,
					CreatedAt: now,
				}
			}
			req.State = model.ResetDeviceGranted
			req.TokenHash = &tokenHash
			req.TokenIssuedAt = &now
			req.TokenExpiresAt = &expiresAt
			req.FailedAttempts = 0
			req.Question = profile.Question
			req.Options = profile.Options
			req.AnswerDigests = profile.AnswerDigests
			req.UpdatedAt = now

			data, err := encodeRedisRecord(req)
			if err != nil {
				return err
			}
			var prevData []byte
			if closedPrev != nil {
				if prevData, err = encodeRedisRecord(closedPrev); err != nil {
					return err
				}
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if closedPrev != nil {
					pipe.Set(ctx, s.requestKey(closedPrev.ID), prevData, s.recordTTL(closedPrev, now))
					pipe.ZRem(ctx, s.grantedSetKey(), closedPrev.ID)
					if prevTokenHash != "" {
						pipe.Del(ctx, s.tokenKey(prevTokenHash))
					}
				}
				pipe.Set(ctx, s.requestKey(req.ID), data, s.recordTTL(req, now))
				pipe.Set(ctx, s.tokenKey(tokenHash), req.ID, ttl)
				pipe.Set(ctx, grantedKey, req.ID, ttl)
				pipe.Del(ctx, requestedKey)
				pipe.ZAdd(ctx, s.grantedSetKey(), redis.Z{Score: float64(expiresAt.Unix()), Member: req.ID})
				return nil
			})
			if err != nil {
				return err
			}

			result.Request = req
			result.Superseded = closedPrev
			return nil
		}, grantedKey, requestedKey)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to issue reset token: %w", err)
		}
		return result, nil
	}

	return nil, fmt.Errorf("failed to issue reset token: %w", redis.TxFailedErr)
}

// Resolve returns the live granted request for token, or nil when absent
func (s *RedisResetDeviceStore) Resolve(ctx context.Context, token string) (*model.ResetDeviceRequest, error) {
	if token == "" {
		return nil, nil
	}
	tokenHash := auth.HashToken(token)

	id, err := s.redis.Get(ctx, s.tokenKey(tokenHash)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve reset token: %w", err)
	}

	data, err := s.redis.Get(ctx, s.requestKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load reset device request: %w", err)
	}

	req, err := decodeRedisRecord(data)
	if err != nil {
		return nil, err
	}
	if !holdsToken(req, tokenHash, s.now()) {
		return nil, nil
	}
	return req, nil
}

// Consume moves the live request holding token into next and clears the token.
// With observedAttempts >= 0 the record must still hold that failed-attempt count.
func (s *RedisResetDeviceStore) Consume(ctx context.Context, token string, observedAttempts int, next model.ResetDeviceState, reason model.CloseReason) (*model.ResetDeviceRequest, error) {
	if !next.IsTerminal() {
		return nil, ErrInvalidInput
	}
	req, err := s.mutateByToken(ctx, token, observedAttempts, func(req *model.ResetDeviceRequest, now time.Time) {
		closeRecord(req, next, reason, now)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to consume reset token: %w", err)
	}
	return req, nil
}

// IncrementFailure counts one wrong answer, locking the request at maxAttempts
func (s *RedisResetDeviceStore) IncrementFailure(ctx context.Context, token string, observedAttempts, maxAttempts int) (*model.ResetDeviceRequest, error) {
	if maxAttempts < 1 {
		return nil, ErrInvalidInput
	}
	req, err := s.mutateByToken(ctx, token, observedAttempts, func(req *model.ResetDeviceRequest, now time.Time) {
		req.FailedAttempts++
		req.UpdatedAt = now
		if req.FailedAttempts >= maxAttempts {
			closeRecord(req, model.ResetDeviceCancelled, model.CloseReasonAttemptCap, now)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record failed attempt: %w", err)
	}
	return req, nil
}

// ExpireGranted closes every granted request whose token has expired
func (s *RedisResetDeviceStore) ExpireGranted(ctx context.Context) ([]model.ResetDeviceRequest, error) {
	now := s.now()
	ids, err := s.redis.ZRangeByScore(ctx, s.grantedSetKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list expired grants: %w", err)
	}

	var expired []model.ResetDeviceRequest
	for _, id := range ids {
		req, err := s.expireOne(ctx, id)
		if err != nil {
			return expired, err
		}
		if req != nil {
			expired = append(expired, *req)
		}
	}
	return expired, nil
}

// GetByID retrieves a request by ID regardless of state
func (s *RedisResetDeviceStore) GetByID(ctx context.Context, id string) (*model.ResetDeviceRequest, error) {
	data, err := s.redis.Get(ctx, s.requestKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reset device request: %w", err)
	}
	return decodeRedisRecord(data)
}

func (s *RedisResetDeviceStore) expireOne(ctx context.Context, id string) (*model.ResetDeviceRequest, error) {
	reqKey := s.requestKey(id)

	for i := 0; i < redisMaxRetries; i++ {
		var closed *model.ResetDeviceRequest

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, reqKey).Bytes()
			if errors.Is(err, redis.Nil) {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.ZRem(ctx, s.grantedSetKey(), id)
					return nil
				})
				return err
			}
			if err != nil {
				return err
			}
			req, err := decodeRedisRecord(data)
			if err != nil {
				return err
			}

			now := s.now()
			if req.State != model.ResetDeviceGranted || req.TokenExpiresAt == nil || now.Before(*req.TokenExpiresAt) {
				if req.State != model.ResetDeviceGranted {
					_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
						pipe.ZRem(ctx, s.grantedSetKey(), id)
						return nil
					})
				}
				return err
			}

			grantedKey := s.userGrantedKey(req.UserID)
			if err := tx.Watch(ctx, grantedKey).Err(); err != nil {
				return err
			}
			current, err := tx.Get(ctx, grantedKey).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}

			var tokenHash string
			if req.TokenHash != nil {
				tokenHash = *req.TokenHash
			}
			closeRecord(req, model.ResetDeviceCancelled, model.CloseReasonExpired, now)
			updated, err := encodeRedisRecord(req)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, reqKey, updated, s.recordTTL(req, now))
				pipe.ZRem(ctx, s.grantedSetKey(), id)
				if tokenHash != "" {
					pipe.Del(ctx, s.tokenKey(tokenHash))
				}
				if current == id {
					pipe.Del(ctx, grantedKey)
				}
				return nil
			})
			if err != nil {
				return err
			}
			closed = req
			return nil
		}, reqKey)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to expire reset device request: %w", err)
		}
		return closed, nil
	}

	// Another writer kept winning; the next sweep picks the record up.
	return nil, nil
}

// mutateByToken applies fn to the live request holding token and commits the
// result only if neither the token index nor the record changed meanwhile.
// A record whose failed-attempt count differs from observedAttempts counts as gone.
func (s *RedisResetDeviceStore) mutateByToken(ctx context.Context, token string, observedAttempts int, fn func(req *model.ResetDeviceRequest, now time.Time)) (*model.ResetDeviceRequest, error) {
	if token == "" {
		return nil, ErrTokenAlreadyConsumed
	}
	tokenHash := auth.HashToken(token)
	tokKey := s.tokenKey(tokenHash)

	for i := 0; i < redisMaxRetries; i++ {
		var updated *model.ResetDeviceRequest

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			id, err := tx.Get(ctx, tokKey).Result()
			if errors.Is(err, redis.Nil) {
				return errRedisRecordGone
			}
			if err != nil {
				return err
			}

			reqKey := s.requestKey(id)
			if err := tx.Watch(ctx, reqKey).Err(); err != nil {
				return err
			}
			data, err := tx.Get(ctx, reqKey).Bytes()
			if errors.Is(err, redis.Nil) {
				return errRedisRecordGone
			}
			if err != nil {
				return err
			}
			req, err := decodeRedisRecord(data)
			if err != nil {
				return err
			}

			now := s.now()
			if !holdsToken(req, tokenHash, now) {
				return errRedisRecordGone
			}
			if observedAttempts >= 0 && req.FailedAttempts != observedAttempts {
				return errRedisRecordGone
			}

			fn(req, now)
			encoded, err := encodeRedisRecord(req)
			if err != nil {
				return err
			}

			closed := req.State != model.ResetDeviceGranted
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, reqKey, encoded, s.recordTTL(req, now))
				if closed {
					pipe.Del(ctx, tokKey)
					pipe.Del(ctx, s.userGrantedKey(req.UserID))
					pipe.ZRem(ctx, s.grantedSetKey(), req.ID)
				}
				return nil
			})
			if err != nil {
				return err
			}
			updated = req
			return nil
		}, tokKey)

		if err == redis.TxFailedErr {
			continue
		}
		if errors.Is(err, errRedisRecordGone) {
			return nil, ErrTokenAlreadyConsumed
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}

	return nil, ErrTokenAlreadyConsumed
}

// loadIndexed follows an index key to its record, watching the record key as well
func (s *RedisResetDeviceStore) loadIndexed(ctx context.Context, tx *redis.Tx, indexKey string) (*model.ResetDeviceRequest, error) {
	id, err := tx.Get(ctx, indexKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	reqKey := s.requestKey(id)
	if err := tx.Watch(ctx, reqKey).Err(); err != nil {
		return nil, err
	}
	data, err := tx.Get(ctx, reqKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeRedisRecord(data)
}

func (s *RedisResetDeviceStore) recordTTL(req *model.ResetDeviceRequest, now time.Time) time.Duration {
	ttl := s.retention
	if req.State == model.ResetDeviceGranted && req.TokenExpiresAt != nil {
		ttl += req.TokenExpiresAt.Sub(now)
	}
	return ttl
}

func (s *RedisResetDeviceStore) requestKey(id string) string {
	return redisKeyPrefix + "req:" + id
}

func (s *RedisResetDeviceStore) tokenKey(tokenHash string) string {
	return redisKeyPrefix + "tok:" + tokenHash
}

func (s *RedisResetDeviceStore) userGrantedKey(userID string) string {
	return redisKeyPrefix + "user:" + userID + ":granted"
}

func (s *RedisResetDeviceStore) userRequestedKey(userID string) string {
	return redisKeyPrefix + "user:" + userID + ":requested"
}

func (s *RedisResetDeviceStore) grantedSetKey() string {
	return redisKeyPrefix + "granted"
}

func holdsToken(req *model.ResetDeviceRequest, tokenHash string, now time.Time) bool {
	return req.IsLive(now) && *req.TokenHash == tokenHash
}

func closeRecord(req *model.ResetDeviceRequest, state model.ResetDeviceState, reason model.CloseReason, now time.Time) {
	req.State = state
	req.CloseReason = reason
	req.TokenHash = nil
	req.ClosedAt = &now
	req.UpdatedAt = now
}

// redisRecord is the stored form. The model hides the token hash and digests
// from JSON, so the store keeps its own shape.
type redisRecord struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	State          string     `json:"state"`
	TokenHash      *string    `json:"token_hash,omitempty"`
	TokenIssuedAt  *time.Time `json:"token_issued_at,omitempty"`
	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty"`
	FailedAttempts int        `json:"failed_attempts"`
	Question       string     `json:"question,omitempty"`
	Options        []string   `json:"options,omitempty"`
	AnswerDigests  []string   `json:"answer_digests,omitempty"`
	CloseReason    string     `json:"close_reason,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	ClosedAt       *time.Time `json:"closed_at,omitempty"`
}

func encodeRedisRecord(req *model.ResetDeviceRequest) ([]byte, error) {
	data, err := json.Marshal(redisRecord{
		ID:             req.ID,
		UserID:         req.UserID,
		State:          string(req.State),
		TokenHash:      req.TokenHash,
		TokenIssuedAt:  req.TokenIssuedAt,
		TokenExpiresAt: req.TokenExpiresAt,
		FailedAttempts: req.FailedAttempts,
		Question:       req.Question,
		Options:        req.Options,
		AnswerDigests:  req.AnswerDigests,
		CloseReason:    string(req.CloseReason),
		CreatedAt:      req.CreatedAt,
		UpdatedAt:      req.UpdatedAt,
		ClosedAt:       req.ClosedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode reset device record: %w", err)
	}
	return data, nil
}

func decodeRedisRecord(data []byte) (*model.ResetDeviceRequest, error) {
	var rec redisRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode reset device record: %w", err)
	}
	return &model.ResetDeviceRequest{
		ID:             rec.ID,
		UserID:         rec.UserID,
		State:          model.ResetDeviceState(rec.State),
		TokenHash:      rec.TokenHash,
		TokenIssuedAt:  rec.TokenIssuedAt,
		TokenExpiresAt: rec.TokenExpiresAt,
		FailedAttempts: rec.FailedAttempts,
		Question:       rec.Question,
		Options:        rec.Options,
		AnswerDigests:  rec.AnswerDigests,
		CloseReason:    model.CloseReason(rec.CloseReason),
		CreatedAt:      rec.CreatedAt,
		UpdatedAt:      rec.UpdatedAt,
		ClosedAt:       rec.ClosedAt,
	}, nil
}

package sessionstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/boddenberg/receptionist-core/internal/domain"
	"github.com/boddenberg/receptionist-core/internal/port"
)

var _ port.SessionStore = (*Redis)(nil)

var tracer = otel.Tracer("sessionstore")

const (
	sessionKeyPrefix = "receptionist:session:"
	lockKeyPrefix    = "receptionist:lock:"
)

// releaseScript deletes a lock only if the caller still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a session store shared by every process in a deployment.
type Redis struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// NewRedis creates a Redis-backed store whose sessions live for ttl unless
// expired earlier.
func NewRedis(rdb redis.UniversalClient, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &Redis{rdb: rdb, ttl: ttl}
}

// Get returns the session or *domain.ErrNotFound.
func (r *Redis) Get(ctx context.Context, callID string) (*domain.Session, error) {
	ctx, span := tracer.Start(ctx, "SessionStore.Get")
	defer span.End()
	span.SetAttributes(attribute.String("call_id", callID))

	raw, err := r.rdb.Get(ctx, sessionKey(callID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, &domain.ErrNotFound{Resource: "session", ID: callID}
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", callID, err)
	}
	return domain.UnmarshalSession(raw)
}

// Create stores s at version 1 with SET NX; a lost race returns the winner.
func (r *Redis) Create(ctx context.Context, s *domain.Session) (*domain.Session, bool, error) {
	ctx, span := tracer.Start(ctx, "SessionStore.Create")
	defer span.End()
	span.SetAttributes(attribute.String("call_id", s.ID))

	stored := s.Clone()
	stored.Version = 1
	ok, err := r.rdb.SetNX(ctx, sessionKey(s.ID), domain.MustMarshalSession(stored), r.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("create session %s: %w", s.ID, err)
	}
	if ok {
		return stored, true, nil
	}

	existing, err := r.Get(ctx, s.ID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// Update writes s under WATCH so a concurrent writer aborts the transaction.
func (r *Redis) Update(ctx context.Context, s *domain.Session) (*domain.Session, error) {
	ctx, span := tracer.Start(ctx, "SessionStore.Update")
	defer span.End()
	span.SetAttributes(attribute.String("call_id", s.ID))

	key := sessionKey(s.ID)
	var stored *domain.Session

	err := r.rdb.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return &domain.ErrNotFound{Resource: "session", ID: s.ID}
		}
		if err != nil {
			return err
		}
		current, err := domain.UnmarshalSession(raw)
		if err != nil {
			return err
		}
		if current.Version != s.Version {
			return &domain.ErrVersionConflict{CallID: s.ID, Expected: s.Version, Actual: current.Version}
		}

		next := s.Clone()
		next.Version = current.Version + 1
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SetArgs(ctx, key, domain.MustMarshalSession(next), redis.SetArgs{KeepTTL: true})
			return nil
		})
		if err != nil {
			return err
		}
		stored = next
		return nil
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return nil, &domain.ErrVersionConflict{CallID: s.ID, Expected: s.Version, Actual: -1}
	}
	if err != nil {
		var conflict *domain.ErrVersionConflict
		var notFound *domain.ErrNotFound
		if errors.As(err, &conflict) || errors.As(err, &notFound) {
			return nil, err
		}
		return nil, fmt.Errorf("update session %s: %w", s.ID, err)
	}
	return stored, nil
}

// Expire sets the key's TTL to grace. A missing key is not an error.
func (r *Redis) Expire(ctx context.Context, callID string, grace time.Duration) error {
	if err := r.rdb.Expire(ctx, sessionKey(callID), grace).Err(); err != nil {
		return fmt.Errorf("expire session %s: %w", callID, err)
	}
	return nil
}

// Lock takes an advisory lock with SET NX PX, polling until acquired or ctx
// is done.
func (r *Redis) Lock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	lockKey := lockKeyPrefix + key
	token := uuid.NewString()

	for {
		ok, err := r.rdb.SetNX(ctx, lockKey, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("lock %s: %w", key, err)
		}
		if ok {
			return func() {
				// Detached so a cancelled request still releases its lock.
				releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
				defer cancel()
				_ = releaseScript.Run(releaseCtx, r.rdb, []string{lockKey}, token).Err()
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func sessionKey(callID string) string {
	return sessionKeyPrefix + callID
}

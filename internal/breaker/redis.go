package breaker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/davidbz/hestia/internal/domain"
)

// RedisStore shares circuit state across gateway instances. WATCH-guarded
// transactions give the compare-and-set semantics: two instances can never
// both win the same version, so neither observes a stale Closed circuit the
// other has already opened.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed circuit store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func circuitKey(provider domain.Provider) string {
	return fmt.Sprintf("circuit:%s", provider)
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, provider domain.Provider) (Circuit, error) {
	payload, err := s.client.Get(ctx, circuitKey(provider)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Circuit{}, nil
	}
	if err != nil {
		return Circuit{}, fmt.Errorf("circuit GET failed: %w", err)
	}

	var circuit Circuit
	if err := json.Unmarshal(payload, &circuit); err != nil {
		return Circuit{}, fmt.Errorf("circuit state corrupt: %w", err)
	}

	return circuit, nil
}

// CompareAndSet implements Store.
func (s *RedisStore) CompareAndSet(ctx context.Context, provider domain.Provider, expectedVersion int64, next Circuit) (bool, error) {
	key := circuitKey(provider)
	applied := false

	txn := func(tx *redis.Tx) error {
		payload, err := tx.Get(ctx, key).Bytes()

		var current Circuit
		switch {
		case errors.Is(err, redis.Nil):
			// Unseen provider: version zero.
		case err != nil:
			return err
		default:
			if unmarshalErr := json.Unmarshal(payload, &current); unmarshalErr != nil {
				return unmarshalErr
			}
		}

		if current.Version != expectedVersion {
			return nil
		}

		next.Version = expectedVersion + 1
		encoded, err := json.Marshal(next)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			return nil
		})
		if err == nil {
			applied = true
		}
		return err
	}

	if err := s.client.Watch(ctx, txn, key); err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			// Another instance raced the transition.
			return false, nil
		}
		return false, fmt.Errorf("circuit CAS failed: %w", err)
	}

	return applied, nil
}

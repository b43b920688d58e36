package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/EricMurray-e-m-dev/SiteGuard/internal/models"
	"github.com/EricMurray-e-m-dev/SiteGuard/internal/store"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultPrefix = "siteguard"
	maxTxRetries  = 5
)

var errVersionConflict = errors.New("redis: version conflict")

// Store keeps each violation as JSON under <prefix>:violation:<id>, indexed by
// camera and status sets and a zset scored by opened_at.
type Store struct {
	rdb    *redis.Client
	prefix string
}

func NewStore(addr string, pword string, db int) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: pword,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Printf("[Store] Connected to Redis: %s", addr)

	return &Store{rdb: rdb, prefix: DefaultPrefix}, nil
}

// WithPrefix namespaces every key; tests use it to isolate runs
func (s *Store) WithPrefix(prefix string) *Store {
	s.prefix = prefix
	return s
}

func (s *Store) violationKey(id string) string {
	return fmt.Sprintf("%s:violation:%s", s.prefix, id)
}

func (s *Store) cameraKey(camera string) string {
	return fmt.Sprintf("%s:violations:camera:%s", s.prefix, camera)
}

func (s *Store) statusKey(status models.ViolationStatus) string {
	return fmt.Sprintf("%s:violations:status:%s", s.prefix, status)
}

func (s *Store) openedKey() string {
	return fmt.Sprintf("%s:violations:opened", s.prefix)
}

func (s *Store) Put(ctx context.Context, v *models.Violation) error {
	key := s.violationKey(v.ID)

	return s.watch(ctx, key, func(tx *redis.Tx) error {
		existing, err := s.read(ctx, tx, key)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if existing != nil {
			if existing.Version >= v.Version {
				return nil
			}
			if existing.IsResolved() && !v.IsResolved() {
				return nil
			}
		}

		next := v.Clone()
		if existing != nil && next.Screenshot == "" {
			next.Screenshot = existing.Screenshot
		}
		return s.write(ctx, tx, existing, next)
	})
}

func (s *Store) Resolve(ctx context.Context, id string, at time.Time, reason models.ResolveReason) (models.ResolveOutcome, error) {
	key := s.violationKey(id)
	var outcome models.ResolveOutcome

	err := s.watch(ctx, key, func(tx *redis.Tx) error {
		v, err := s.read(ctx, tx, key)
		if errors.Is(err, store.ErrNotFound) {
			outcome = models.ResolveNotFound
			return nil
		}
		if err != nil {
			return err
		}

		previous := v.Clone()
		if !store.MarkResolved(v, at, reason) {
			outcome = models.ResolveAlreadyResolved
			return nil
		}
		outcome = models.ResolveApplied
		return s.write(ctx, tx, previous, v)
	})
	if err != nil {
		return "", err
	}
	return outcome, nil
}

// watch runs fn under WATCH key, retrying when another writer touched the key
func (s *Store) watch(ctx context.Context, key string, fn func(tx *redis.Tx) error) error {
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := s.rdb.Watch(ctx, fn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("%w on %s", errVersionConflict, key)
}

func (s *Store) read(ctx context.Context, tx *redis.Tx, key string) (*models.Violation, error) {
	data, err := tx.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get violation: %w", err)
	}

	var v models.Violation
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal violation: %w", err)
	}
	return &v, nil
}

func (s *Store) write(ctx context.Context, tx *redis.Tx, previous, v *models.Violation) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal violation: %w", err)
	}

	_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.violationKey(v.ID), data, 0)
		pipe.SAdd(ctx, s.cameraKey(v.CameraID), v.ID)
		if previous != nil && previous.Status != v.Status {
			pipe.SRem(ctx, s.statusKey(previous.Status), v.ID)
		}
		pipe.SAdd(ctx, s.statusKey(v.Status), v.ID)
		pipe.ZAdd(ctx, s.openedKey(), redis.Z{
			Score:  float64(v.OpenedAt.UnixMilli()),
			Member: v.ID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store violation: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*models.Violation, error) {
	data, err := s.rdb.Get(ctx, s.violationKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get violation: %w", err)
	}

	var v models.Violation
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal violation: %w", err)
	}
	return &v, nil
}

func (s *Store) BulkRead(ctx context.Context, filter store.Filter) ([]*models.Violation, error) {
	ids, err := s.candidateIDs(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []*models.Violation{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.violationKey(id)
	}

	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load violations: %w", err)
	}

	out := make([]*models.Violation, 0, len(values))
	for _, raw := range values {
		data, ok := raw.(string)
		if !ok {
			continue
		}
		var v models.Violation
		if err := json.Unmarshal([]byte(data), &v); err != nil {
			log.Printf("[Store] Skipping undecodable violation: %v", err)
			continue
		}
		if filter.Matches(&v) {
			out = append(out, &v)
		}
	}

	return store.SortAndPage(out, filter), nil
}

// candidateIDs narrows by the cheapest index available; Matches does the rest
func (s *Store) candidateIDs(ctx context.Context, filter store.Filter) ([]string, error) {
	switch {
	case filter.CameraID != "" && filter.Status != "":
		ids, err := s.rdb.SInter(ctx, s.cameraKey(filter.CameraID), s.statusKey(filter.Status)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to intersect indexes: %w", err)
		}
		return ids, nil
	case filter.CameraID != "":
		ids, err := s.rdb.SMembers(ctx, s.cameraKey(filter.CameraID)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read camera index: %w", err)
		}
		return ids, nil
	case filter.Status != "":
		ids, err := s.rdb.SMembers(ctx, s.statusKey(filter.Status)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read status index: %w", err)
		}
		return ids, nil
	}

	lo, hi := "-inf", "+inf"
	if !filter.OpenedFrom.IsZero() {
		lo = strconv.FormatInt(filter.OpenedFrom.UnixMilli(), 10)
	}
	if !filter.OpenedTo.IsZero() {
		hi = strconv.FormatInt(filter.OpenedTo.UnixMilli(), 10)
	}

	ids, err := s.rdb.ZRevRangeByScore(ctx, s.openedKey(), &redis.ZRangeBy{Min: lo, Max: hi}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read opened index: %w", err)
	}
	return ids, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

// Client exposes the underlying connection for cleanup in tests
func (s *Store) Client() *redis.Client {
	return s.rdb
}

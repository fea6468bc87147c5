package storage

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"CareBridge/service/match"
)

// Key layout:
//   cb:consultants:available          SET of consultant ids
//   cb:rotation:<yyyy-mm-dd>:<id>     sessions handled today, expires in 48h
const (
	availableKey      = "cb:consultants:available"
	rotationKeyPrefix = "cb:rotation:"
	rotationTTL       = 48 * time.Hour
)

func rotationKey(consultantID int64, day time.Time) string {
	return rotationKeyPrefix + day.UTC().Format("2006-01-02") + ":" + strconv.FormatInt(consultantID, 10)
}

// SetAvailable flips a consultant's availability flag.
func (s *Store) SetAvailable(ctx context.Context, consultantID int64, available bool) error {
	id := strconv.FormatInt(consultantID, 10)
	var err error
	if available {
		err = s.rdb.SAdd(ctx, availableKey, id).Err()
	} else {
		err = s.rdb.SRem(ctx, availableKey, id).Err()
	}
	return errors.Wrap(err, "set availability")
}

// AvailableConsultants returns every available consultant with its rotation
// count for today. Results are ordered by consultant id so that repeated
// reads of an identical state are byte-for-byte identical; the matcher's
// stable sort relies on this.
func (s *Store) AvailableConsultants(ctx context.Context) ([]match.AvailabilityRecord, error) {
	members, err := s.rdb.SMembers(ctx, availableKey).Result()
	if err != nil {
		return nil, errors.Wrap(err, "read availability set")
	}
	if len(members) == 0 {
		return nil, nil
	}

	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, perr := strconv.ParseInt(m, 10, 64)
		if perr != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	day := time.Now()
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = rotationKey(id, day)
	}
	counts, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errors.Wrap(err, "read rotation counters")
	}

	out := make([]match.AvailabilityRecord, len(ids))
	for i, id := range ids {
		n := 0
		if raw, ok := counts[i].(string); ok {
			n, _ = strconv.Atoi(raw)
		}
		out[i] = match.AvailabilityRecord{ConsultantID: id, SessionsToday: n}
	}
	return out, nil
}

// IncrSessionsToday bumps a consultant's rotation counter. Called at the
// acceptance commit point, not at proposal time.
func (s *Store) IncrSessionsToday(ctx context.Context, consultantID int64) error {
	key := rotationKey(consultantID, time.Now())
	pipe := s.rdb.TxPipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, rotationTTL)
	_, err := pipe.Exec(ctx)
	return errors.Wrap(err, "incr rotation")
}

// IsAvailable reports the current flag. The answer may be stale by the time
// the caller acts on it; acceptance does not re-check.
func (s *Store) IsAvailable(ctx context.Context, consultantID int64) (bool, error) {
	ok, err := s.rdb.SIsMember(ctx, availableKey, strconv.FormatInt(consultantID, 10)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, errors.Wrap(err, "read availability flag")
	}
	return ok, nil
}

package queue

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// DeadTask is a task that exhausted its attempts.
type DeadTask struct {
	Kind           string    `json:"kind"`
	IdempotencyKey string    `json:"idempotencyKey,omitempty"`
	Payload        []byte    `json:"payload"`
	Attempts       int       `json:"attempts"`
	LastError      string    `json:"lastError,omitempty"`
	FailedAt       time.Time `json:"failedAt"`
}

// Stats summarises one queue kind.
type Stats struct {
	Kind        string `json:"kind"`
	Ready       int64  `json:"ready"`
	Processing  int64  `json:"processing"`
	DLQ         int64  `json:"dlq"`
	OldestLagMS int64  `json:"oldestLagMs"`
}

// Inspector reads and replays queue state.
type Inspector struct {
	R      *redis.Client
	Prefix string
}

func (i Inspector) check(kind string) (string, error) {
	if i.R == nil {
		return "", errors.New("queue: redis client not configured")
	}
	k := sanitizeKind(kind)
	if k == "" {
		return "", ErrKindRequired
	}
	return k, nil
}

// DeadLetters lists up to limit dead tasks, newest first.
func (i Inspector) DeadLetters(ctx context.Context, kind string, limit int) ([]DeadTask, error) {
	kind, err := i.check(kind)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	raws, err := i.R.LRange(ctx, keys{i.Prefix}.dlq(kind), 0, int64(limit-1)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	out := make([]DeadTask, 0, len(raws))
	for _, raw := range raws {
		msg, err := decodeMessage(raw)
		if err != nil {
			continue
		}
		out = append(out, DeadTask{
			Kind:           msg.Kind,
			IdempotencyKey: msg.Key,
			Payload:        msg.Payload,
			Attempts:       msg.Attempt,
			LastError:      msg.LastError,
			FailedAt:       time.Unix(0, msg.FailedAt).UTC(),
		})
	}
	return out, nil
}

// Replay moves up to limit dead tasks back onto the ready queue with a fresh
// attempt budget. It returns how many were moved.
func (i Inspector) Replay(ctx context.Context, kind string, limit int) (int, error) {
	kind, err := i.check(kind)
	if err != nil {
		return 0, err
	}
	if limit <= 0 {
		limit = 50
	}
	k := keys{i.Prefix}
	moved := 0
	for moved < limit {
		raw, err := i.R.RPop(ctx, k.dlq(kind)).Result()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return moved, err
		}
		msg, err := decodeMessage(raw)
		if err != nil {
			continue
		}
		msg.Attempt = 0
		msg.LastError = ""
		msg.FailedAt = 0
		msg.AvailableAt = time.Now().UnixNano()
		if err := push(ctx, i.R, k.queue(kind), msg); err != nil {
			_ = i.R.RPush(ctx, k.dlq(kind), raw).Err()
			return moved, err
		}
		moved++
	}
	return moved, nil
}

// Stats reports queue depth, in-flight count, DLQ size and the age of the
// oldest ready task.
func (i Inspector) Stats(ctx context.Context, kind string) (Stats, error) {
	kind, err := i.check(kind)
	if err != nil {
		return Stats{}, err
	}
	k := keys{i.Prefix}
	s := Stats{Kind: kind}
	if s.Ready, err = i.R.ZCard(ctx, k.queue(kind)).Result(); err != nil {
		return Stats{}, err
	}
	if s.Processing, err = i.R.ZCard(ctx, k.processing(kind)).Result(); err != nil {
		return Stats{}, err
	}
	if s.DLQ, err = i.R.LLen(ctx, k.dlq(kind)).Result(); err != nil {
		return Stats{}, err
	}
	oldest, err := i.R.ZRangeWithScores(ctx, k.queue(kind), 0, 0).Result()
	if err == nil && len(oldest) > 0 {
		ts := time.Unix(0, int64(oldest[0].Score))
		if ts.Before(time.Now()) {
			s.OldestLagMS = time.Since(ts).Milliseconds()
		}
	}
	return s, nil
}

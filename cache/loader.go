package cache

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/rushteam/gamerec/core"
	"github.com/rushteam/gamerec/metrics"
)

// ComputeFunc 完整计算一条产物。
type ComputeFunc func(ctx context.Context) (core.ScoreList, error)

// Loader 实现单实体产物的 get-or-recompute：
// 有效条目直接返回；否则执行 compute 并写回。同一 key 同时只有一个 compute 在执行。
type Loader struct {
	cache  Cache
	now    func() time.Time
	logger *zap.Logger
	group  singleflight.Group
}

func NewLoader(c Cache, now func() time.Time, logger *zap.Logger) *Loader {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{cache: c, now: now, logger: logger.With(zap.String("component", "cache"))}
}

// Now 返回 Loader 使用的当前时间。
func (l *Loader) Now() time.Time { return l.now() }

// Load 返回 key 的有效产物，必要时重算。
func (l *Loader) Load(ctx context.Context, key Key, policy Policy, compute ComputeFunc) (core.ScoreList, error) {
	kind := string(key.Kind)
	entry, err := l.lookup(ctx, key)
	if err != nil {
		return nil, err
	}
	if policy.Fresh(entry, l.now()) {
		metrics.CacheRequests.WithLabelValues(kind, "hit").Inc()
		return entry.Scores, nil
	}
	if entry == nil {
		metrics.CacheRequests.WithLabelValues(kind, "miss").Inc()
	} else {
		metrics.CacheRequests.WithLabelValues(kind, "stale").Inc()
	}

	v, err, _ := l.group.Do(key.String(), func() (any, error) {
		// 等待者进入时条目可能刚被写回
		if e, err := l.lookup(ctx, key); err == nil && policy.Fresh(e, l.now()) {
			return e.Scores, nil
		}

		start := time.Now()
		scores, err := compute(ctx)
		if err == nil {
			err = l.cache.Put(ctx, key, &Entry{
				Scores:     scores,
				ParamsHash: policy.ParamsHash,
				ComputedAt: l.now(),
			})
		}
		metrics.ObserveRecompute(kind+"_for_"+string(key.Owner), start, err)
		if err != nil {
			l.logger.Warn("recompute failed", zap.Stringer("key", key), zap.Error(err))
			return nil, err
		}
		l.logger.Debug("recomputed", zap.Stringer("key", key), zap.Int("results", len(scores)))
		return scores, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(core.ScoreList), nil
}

// Peek 读取条目而不触发重算，不存在时返回 nil。
func (l *Loader) Peek(ctx context.Context, key Key) (*Entry, error) {
	return l.lookup(ctx, key)
}

func (l *Loader) lookup(ctx context.Context, key Key) (*Entry, error) {
	e, err := l.cache.Get(ctx, key)
	if core.IsNotFound(err) {
		return nil, nil
	}
	return e, err
}

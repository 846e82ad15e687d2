package params

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/rushteam/gamerec/core"
	"github.com/rushteam/gamerec/db"
	"github.com/rushteam/gamerec/metrics"
)

// Gate 是全局计算的时效闸门。
//
// 一个计算需要重算，当且仅当：
//   - 从未成功运行过（没有运行时间）
//   - 距上次运行超过 maxAge
//   - 参数与上次运行（last）的快照不同
//
// 重算成功后由 Commit 显式写回 last 与运行时间；失败时什么也不写，旧结果保持可用。
type Gate struct {
	db     *gorm.DB
	now    func() time.Time
	logger *zap.Logger
	group  singleflight.Group
}

// Option 配置 Gate。
type Option func(*Gate)

// WithClock 替换时钟（测试用）。
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// WithLogger 设置日志。
func WithLogger(l *zap.Logger) Option {
	return func(g *Gate) {
		if l != nil {
			g.logger = l
		}
	}
}

func NewGate(gdb *gorm.DB, opts ...Option) *Gate {
	g := &Gate{db: gdb, now: time.Now, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With(zap.String("component", "params"))
	return g
}

// Now 返回闸门使用的当前时间。
func (g *Gate) Now() time.Time { return g.now() }

// Register 写入计算的 best 参数（默认 / 调优值）。
func (g *Gate) Register(ctx context.Context, comp core.Computation, best Values) error {
	b, err := Encode(best)
	if err != nil {
		return err
	}
	row := db.Parameters{Name: string(comp), Best: b}
	return g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"best"}),
	}).Create(&row).Error
}

// Snapshot 返回计算的 best / last 快照，未登记时二者均为 nil。
func (g *Gate) Snapshot(ctx context.Context, comp core.Computation) (best, last Values, err error) {
	var row db.Parameters
	err = g.db.WithContext(ctx).Where("name = ?", string(comp)).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	if best, err = Decode(row.Best); err != nil {
		return nil, nil, fmt.Errorf("decode best params of %s: %w", comp, err)
	}
	if last, err = Decode(row.Last); err != nil {
		return nil, nil, fmt.Errorf("decode last params of %s: %w", comp, err)
	}
	return best, last, nil
}

// LastRun 返回上次成功运行时间，从未运行时返回 nil。
func (g *Gate) LastRun(ctx context.Context, comp core.Computation) (*time.Time, error) {
	sys, err := g.system(ctx, comp)
	if err != nil || sys == nil {
		return nil, err
	}
	return sys.DateTime, nil
}

// Blob 返回计算上次提交的物化结果。
func (g *Gate) Blob(ctx context.Context, comp core.Computation) ([]byte, error) {
	sys, err := g.system(ctx, comp)
	if err != nil || sys == nil {
		return nil, err
	}
	return sys.JSON, nil
}

func (g *Gate) system(ctx context.Context, comp core.Computation) (*db.System, error) {
	var sys db.System
	err := g.db.WithContext(ctx).Where("key = ?", string(comp)).Take(&sys).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sys, nil
}

// ShouldRecompute 判断计算是否需要重算。current 中缺失的 key 先用 best 补齐。
func (g *Gate) ShouldRecompute(ctx context.Context, comp core.Computation, current Values, maxAge time.Duration) (bool, error) {
	lastRun, err := g.LastRun(ctx, comp)
	if err != nil {
		return false, err
	}
	if lastRun == nil {
		return true, nil
	}
	if g.now().Sub(*lastRun) > maxAge {
		return true, nil
	}
	best, last, err := g.Snapshot(ctx, comp)
	if err != nil {
		return false, err
	}
	return IsDirty(Merge(current, best), last), nil
}

// Commit 在一个事务里写回 last 参数、运行时间以及可选的物化结果（blob 为 nil 时保留旧值）。
func (g *Gate) Commit(ctx context.Context, comp core.Computation, current Values, blob []byte) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		best, _, err := g.snapshotTx(tx, comp)
		if err != nil {
			return err
		}
		last, err := Encode(Merge(current, best))
		if err != nil {
			return err
		}
		err = tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"last"}),
		}).Create(&db.Parameters{Name: string(comp), Last: last}).Error
		if err != nil {
			return err
		}

		at := g.now()
		sys := db.System{Key: string(comp), DateTime: &at, JSON: blob}
		cols := []string{"date_time"}
		if blob != nil {
			cols = append(cols, "json")
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns(cols),
		}).Create(&sys).Error
	})
}

func (g *Gate) snapshotTx(tx *gorm.DB, comp core.Computation) (Values, Values, error) {
	var row db.Parameters
	err := tx.Where("name = ?", string(comp)).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	best, err := Decode(row.Best)
	if err != nil {
		return nil, nil, err
	}
	last, err := Decode(row.Last)
	return best, last, err
}

// RecomputeFunc 执行一次完整重算，返回需要随提交一起保存的物化结果（可为 nil）。
type RecomputeFunc func(ctx context.Context) ([]byte, error)

// Run 是全局计算的 "refresh if stale" 入口：需要时执行 fn 并提交，返回是否发生了重算。
// 同一计算同时只有一个重算在执行，其余调用方等待并共享结果。
func (g *Gate) Run(ctx context.Context, comp core.Computation, current Values, maxAge time.Duration, fn RecomputeFunc) (bool, error) {
	stale, err := g.ShouldRecompute(ctx, comp, current, maxAge)
	if err != nil || !stale {
		return false, err
	}

	v, err, _ := g.group.Do(string(comp), func() (any, error) {
		// 等待者进入时前一轮可能刚提交完
		stale, err := g.ShouldRecompute(ctx, comp, current, maxAge)
		if err != nil || !stale {
			return false, err
		}

		start := time.Now()
		blob, err := fn(ctx)
		if err == nil {
			err = g.Commit(ctx, comp, current, blob)
		}
		metrics.ObserveRecompute(string(comp), start, err)
		if err != nil {
			g.logger.Error("recompute failed", zap.String("computation", string(comp)), zap.Error(err))
			return false, err
		}
		g.logger.Info("recomputed",
			zap.String("computation", string(comp)),
			zap.Duration("elapsed", time.Since(start)),
			zap.Int("blob_bytes", len(blob)),
		)
		return true, nil
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

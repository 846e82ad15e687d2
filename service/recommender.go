// Package service 把统计、归一化、各推荐来源和混合排序装配成对外的推荐门面。
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/rushteam/gamerec/cache"
	"github.com/rushteam/gamerec/config"
	"github.com/rushteam/gamerec/core"
	"github.com/rushteam/gamerec/db"
	"github.com/rushteam/gamerec/ingest"
	"github.com/rushteam/gamerec/normalize"
	"github.com/rushteam/gamerec/params"
	"github.com/rushteam/gamerec/pipeline"
	"github.com/rushteam/gamerec/rank"
	"github.com/rushteam/gamerec/recall"
	"github.com/rushteam/gamerec/rerank"
	"github.com/rushteam/gamerec/stats"
	"github.com/rushteam/gamerec/store"
)

// Recommender 是推荐核心的门面。
//
// 每个 Get* 方法都先经过各阶段的时效检查（过期即同步重算），
// 再把结果交给 serve pipeline（剔除玩过的游戏 / 自身，截断到 n）。
// 数据不足时返回空列表，不返回错误。
type Recommender struct {
	cfg    *config.Config
	db     *gorm.DB
	repo   *db.Repo
	stats  *stats.Store
	gate   *params.Gate
	norm   *normalize.Engine
	loader *cache.Loader
	cbr    *recall.ContentEngine
	mbcf   *recall.CollaborativeEngine
	mobcf  *recall.MFEngine
	hybrid *rank.HybridRanker
	ingest *ingest.Ingester
	serve  *pipeline.Pipeline
	now    func() time.Time
	logger *zap.Logger

	catalog core.CatalogClient
	cache   cache.Cache
	closers []func() error
}

type Option func(*Recommender)

// WithDB 使用已打开的连接（调用方负责迁移与关闭）。
func WithDB(gdb *gorm.DB) Option { return func(r *Recommender) { r.db = gdb } }

// WithCache 替换推荐结果缓存，忽略 cfg.Cache。
func WithCache(c cache.Cache) Option { return func(r *Recommender) { r.cache = c } }

// WithCatalog 设置外部目录客户端；未设置时 Ingester() 返回 nil。
func WithCatalog(c core.CatalogClient) Option { return func(r *Recommender) { r.catalog = c } }

func WithClock(now func() time.Time) Option { return func(r *Recommender) { r.now = now } }

func WithLogger(l *zap.Logger) Option {
	return func(r *Recommender) {
		if l != nil {
			r.logger = l
		}
	}
}

// New 按配置装配全部组件，并把各计算的 best 参数登记到参数表。
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Recommender, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &Recommender{cfg: cfg, now: time.Now, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}

	if r.db == nil {
		gdb, err := db.Open(cfg.Database.DSN, r.logger.Named("db"))
		if err != nil {
			return nil, err
		}
		r.db = gdb
		r.closers = append(r.closers, func() error {
			sqlDB, err := gdb.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		})
	}
	if r.cache == nil {
		c, closer, err := newCache(cfg.Cache, r.db)
		if err != nil {
			r.Close()
			return nil, err
		}
		r.cache = c
		if closer != nil {
			r.closers = append(r.closers, closer)
		}
	}

	serve, err := cfg.BuildServePipeline()
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("build serve pipeline: %w", err)
	}
	r.serve = serve

	r.repo = db.NewRepo(r.db)
	r.stats = stats.New(r.repo, stats.WithClock(r.now), stats.WithMaxAge(cfg.Stats.MaxAge), stats.WithLogger(r.logger))
	r.gate = params.NewGate(r.db, params.WithClock(r.now), params.WithLogger(r.logger))
	r.loader = cache.NewLoader(r.cache, r.now, r.logger)
	r.norm = normalize.New(r.repo, r.stats, r.gate, cfg.Normalize, r.logger)
	r.cbr = recall.NewContentEngine(r.repo, r.stats, r.norm, r.gate, r.loader, cfg.CBR, r.logger)
	r.mbcf = recall.NewCollaborativeEngine(r.repo, r.norm, r.gate, r.loader, cfg.MBCF, r.logger)
	r.mobcf = recall.NewMFEngine(r.repo, r.stats, r.norm, r.gate, r.loader, cfg.MOBCF, r.logger)
	r.hybrid = rank.NewHybridRanker(r.loader, cfg.Hybrid, []recall.Source{r.cbr, r.mbcf, r.mobcf}, rank.WithLogger(r.logger))
	if r.catalog != nil {
		r.ingest = ingest.New(r.repo, r.catalog, cfg.Ingest, ingest.WithClock(r.now), ingest.WithLogger(r.logger))
	}

	if err := r.registerBest(ctx); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

func newCache(cfg config.CacheConfig, gdb *gorm.DB) (cache.Cache, func() error, error) {
	switch cfg.Backend {
	case "", "sql":
		return cache.NewSQLCache(gdb), nil, nil
	case "memory":
		s := store.NewMemoryStore()
		return cache.NewKVCache(s, cfg.Prefix), s.Close, nil
	case "redis":
		s, err := store.NewRedisStore(cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		return cache.NewKVCache(s, cfg.Prefix), s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported cache backend %q", cfg.Backend)
	}
}

func (r *Recommender) registerBest(ctx context.Context) error {
	best := map[core.Computation]params.Values{
		core.ComputationNormalizedPlaytime: r.cfg.Normalize.Params(),
		core.ComputationCBRForGame:         r.cfg.CBR.Params(),
		core.ComputationMBCFForGame:        r.cfg.MBCF.GameParams(),
		core.ComputationSimilarUsers:       r.cfg.MBCF.UserParams(),
		core.ComputationMOBCF:              r.cfg.MOBCF.Params(),
	}
	for _, comp := range core.Computations() {
		if err := r.gate.Register(ctx, comp, best[comp]); err != nil {
			return fmt.Errorf("register params of %s: %w", comp, err)
		}
	}
	return nil
}

// Close 释放 New 打开的连接。
func (r *Recommender) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

// Ingester 返回目录导入器；没有配置目录客户端时为 nil。
func (r *Recommender) Ingester() *ingest.Ingester { return r.ingest }

// GetGameStats 返回游戏统计，过期时先重算。
func (r *Recommender) GetGameStats(ctx context.Context, gameID int64) (*db.GameStats, error) {
	return r.stats.Get(ctx, gameID)
}

// GetUserOverview 返回用户的游玩 / 评分概览。
func (r *Recommender) GetUserOverview(ctx context.Context, userID int64) (*stats.Overview, error) {
	return r.stats.UserOverview(ctx, userID)
}

func (r *Recommender) GetCBRForGame(ctx context.Context, gameID int64, n int) (core.ScoreList, error) {
	return r.forGame(ctx, gameID, n, r.cbr.Name(), r.cbr.SimilarFor)
}

func (r *Recommender) GetCBRForUser(ctx context.Context, userID int64, n int) (core.ScoreList, error) {
	return r.forUser(ctx, userID, n, r.cbr.Name(), r.cbr.ForUser)
}

func (r *Recommender) GetMBCFForGame(ctx context.Context, gameID int64, n int) (core.ScoreList, error) {
	return r.forGame(ctx, gameID, n, r.mbcf.Name(), r.mbcf.SimilarFor)
}

func (r *Recommender) GetMBCFForUser(ctx context.Context, userID int64, n int) (core.ScoreList, error) {
	return r.forUser(ctx, userID, n, r.mbcf.Name(), r.mbcf.ForUser)
}

func (r *Recommender) GetMOBCFForUser(ctx context.Context, userID int64, n int) (core.ScoreList, error) {
	return r.forUser(ctx, userID, n, r.mobcf.Name(), r.mobcf.ForUser)
}

func (r *Recommender) GetHRForUser(ctx context.Context, userID int64, n int) (core.ScoreList, error) {
	return r.forUser(ctx, userID, n, r.hybrid.Name(), r.hybrid.ForUser)
}

func (r *Recommender) GetHRForGame(ctx context.Context, gameID int64, n int) (core.ScoreList, error) {
	return r.forGame(ctx, gameID, n, r.hybrid.Name(), r.hybrid.ForGame)
}

type scoreFunc func(ctx context.Context, id int64) (core.ScoreList, error)

func (r *Recommender) forUser(ctx context.Context, userID int64, n int, source string, fn scoreFunc) (core.ScoreList, error) {
	scores, err := fn(ctx, userID)
	if err != nil {
		return nil, err
	}
	played, err := r.repo.Played(ctx, userID)
	if err != nil {
		return nil, err
	}
	return r.finish(ctx, core.ForUser(userID, played), scores, n, source)
}

func (r *Recommender) forGame(ctx context.Context, gameID int64, n int, source string, fn scoreFunc) (core.ScoreList, error) {
	scores, err := fn(ctx, gameID)
	if err != nil {
		return nil, err
	}
	return r.finish(ctx, core.ForGame(gameID), scores, n, source)
}

// finish 填充候选的游戏元信息后执行 serve pipeline。
func (r *Recommender) finish(ctx context.Context, rctx *core.RecommendContext, scores core.ScoreList, n int, source string) (core.ScoreList, error) {
	if len(scores) == 0 {
		return core.ScoreList{}, nil
	}
	rctx.Params = map[string]any{rerank.ParamN: n}

	ids := make([]int64, len(scores))
	for i, s := range scores {
		ids[i] = s.ID
	}
	meta, err := r.repo.GameStats(ctx, ids)
	if err != nil {
		return nil, err
	}
	items := scores.Items(source)
	for _, it := range items {
		it.Meta = stats.Meta(meta[it.ID])
	}

	out, err := r.serve.Run(ctx, rctx, items)
	if err != nil {
		return nil, err
	}
	return core.ScoresOf(out), nil
}

// RefreshIfStale 按依赖顺序检查全部全局计算，过期的同步重算。返回实际重算了的计算。
// 供外部调度器周期调用；请求路径上的时效检查不依赖它。
func (r *Recommender) RefreshIfStale(ctx context.Context) ([]core.Computation, error) {
	if _, err := r.stats.All(ctx); err != nil {
		return nil, fmt.Errorf("refresh game stats: %w", err)
	}
	steps := []struct {
		comp core.Computation
		run  func(context.Context) (bool, error)
	}{
		{core.ComputationNormalizedPlaytime, r.norm.Refresh},
		{core.ComputationCBRForGame, r.cbr.Refresh},
		{core.ComputationMBCFForGame, r.mbcf.RefreshGames},
		{core.ComputationSimilarUsers, r.mbcf.RefreshUsers},
		{core.ComputationMOBCF, r.mobcf.Refresh},
	}
	var ran []core.Computation
	for _, s := range steps {
		ok, err := s.run(ctx)
		if err != nil {
			return ran, fmt.Errorf("refresh %s: %w", s.comp, err)
		}
		if ok {
			ran = append(ran, s.comp)
		}
	}
	return ran, nil
}

package rank

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rushteam/gamerec/cache"
	"github.com/rushteam/gamerec/config"
	"github.com/rushteam/gamerec/core"
	"github.com/rushteam/gamerec/params"
	"github.com/rushteam/gamerec/recall"
)

// HybridRanker 合并 cbr / mbcf / mobcf 的结果（HR）。
//
// 每次重算都先向各来源取当前结果（各来源自己做时效检查），再交给 HybridNode 混合。
// 混合结果按目标单独缓存，有效期独立于各来源。
// 来源返回空只是没有贡献；来源出错时本次结果不写缓存。
type HybridRanker struct {
	sources map[string]recall.Source
	loader  *cache.Loader
	cfg     config.HybridConfig
	timeout time.Duration
	logger  *zap.Logger
}

// HybridOption 配置 HybridRanker。
type HybridOption func(*HybridRanker)

// WithSourceTimeout 限制单个来源的耗时，超时的来源视为空。
func WithSourceTimeout(d time.Duration) HybridOption {
	return func(h *HybridRanker) { h.timeout = d }
}

func WithLogger(l *zap.Logger) HybridOption {
	return func(h *HybridRanker) {
		if l != nil {
			h.logger = l
		}
	}
}

func NewHybridRanker(loader *cache.Loader, cfg config.HybridConfig, sources []recall.Source, opts ...HybridOption) *HybridRanker {
	h := &HybridRanker{
		sources: make(map[string]recall.Source, len(sources)),
		loader:  loader,
		cfg:     cfg,
		logger:  zap.NewNop(),
	}
	for _, s := range sources {
		h.sources[s.Name()] = s
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With(zap.String("component", "rank.hybrid"))
	return h
}

func (h *HybridRanker) Name() string { return "hr" }

// Recall 让 HybridRanker 本身也可以作为来源使用。
func (h *HybridRanker) Recall(ctx context.Context, rctx *core.RecommendContext) ([]*core.Item, error) {
	var (
		scores core.ScoreList
		err    error
	)
	if rctx.GameID != 0 {
		scores, err = h.ForGame(ctx, rctx.GameID)
	} else {
		scores, err = h.ForUser(ctx, rctx.UserID)
	}
	if err != nil {
		return nil, err
	}
	return scores.Items(h.Name()), nil
}

// ForUser 返回用户的混合推荐。
func (h *HybridRanker) ForUser(ctx context.Context, userID int64) (core.ScoreList, error) {
	policy := cache.Policy{MaxAge: h.cfg.MaxAge, ParamsHash: params.Hash(h.cfg.UserParams())}
	return h.load(ctx, cache.UserKey(userID, core.ArtifactHR), policy, core.ForUser(userID, nil), h.cfg.UserWeights)
}

// ForGame 返回与游戏相似的混合结果。
func (h *HybridRanker) ForGame(ctx context.Context, gameID int64) (core.ScoreList, error) {
	policy := cache.Policy{MaxAge: h.cfg.MaxAge, ParamsHash: params.Hash(h.cfg.GameParams())}
	return h.load(ctx, cache.GameKey(gameID, core.ArtifactHR), policy, core.ForGame(gameID), h.cfg.GameWeights)
}

// degradedBlend 表示有来源出错时得到的不完整混合结果，它不写入缓存。
type degradedBlend struct {
	scores core.ScoreList
	failed []string
}

func (d *degradedBlend) Error() string {
	return "hybrid blend degraded, failed sources: " + strings.Join(d.failed, ",")
}

// load 读取或重算混合结果。有来源出错时不覆盖缓存：
// 同参数的旧结果仍在时返回旧结果，否则返回本次的不完整结果，下次请求再重算。
func (h *HybridRanker) load(ctx context.Context, key cache.Key, policy cache.Policy, rctx *core.RecommendContext, weights map[string]float64) (core.ScoreList, error) {
	scores, err := h.loader.Load(ctx, key, policy, func(ctx context.Context) (core.ScoreList, error) {
		return h.blend(ctx, rctx, weights)
	})
	var d *degradedBlend
	if !errors.As(err, &d) {
		return scores, err
	}
	prev, perr := h.loader.Peek(ctx, key)
	if perr == nil && prev != nil && prev.ParamsHash == policy.ParamsHash {
		h.logger.Warn("serving previous blend", zap.Stringer("key", key), zap.Strings("failed", d.failed))
		return prev.Scores, nil
	}
	h.logger.Warn("serving uncached degraded blend", zap.Stringer("key", key), zap.Strings("failed", d.failed))
	return d.scores, nil
}

func (h *HybridRanker) blend(ctx context.Context, rctx *core.RecommendContext, weights map[string]float64) (core.ScoreList, error) {
	fan := &recall.Fanout{Timeout: h.timeout, Logger: h.logger}
	for _, name := range sortedNames(weights) {
		if s, ok := h.sources[name]; ok && weights[name] != 0 {
			fan.Sources = append(fan.Sources, s)
		}
	}

	var (
		items  []*core.Item
		failed []string
	)
	for _, res := range fan.Collect(ctx, rctx) {
		if res.Err != nil && !core.IsNotFound(res.Err) {
			failed = append(failed, res.Source)
			continue
		}
		items = append(items, res.Items...)
	}
	out, err := (&HybridNode{Weights: weights}).Process(ctx, rctx, items)
	if err != nil {
		return nil, err
	}
	h.logger.Debug("blended",
		zap.Int64("user_id", rctx.UserID),
		zap.Int64("game_id", rctx.GameID),
		zap.Int("candidates", len(items)),
		zap.Int("results", len(out)),
	)
	if len(failed) > 0 {
		return nil, &degradedBlend{scores: core.ScoresOf(out), failed: failed}
	}
	return core.ScoresOf(out), nil
}

func sortedNames(weights map[string]float64) []string {
	out := make([]string, 0, len(weights))
	for k := range weights {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

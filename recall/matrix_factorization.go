package recall

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rushteam/gamerec/cache"
	"github.com/rushteam/gamerec/config"
	"github.com/rushteam/gamerec/core"
	"github.com/rushteam/gamerec/db"
	"github.com/rushteam/gamerec/filter"
	"github.com/rushteam/gamerec/model"
	"github.com/rushteam/gamerec/normalize"
	"github.com/rushteam/gamerec/params"
	"github.com/rushteam/gamerec/pkg/utils"
	"github.com/rushteam/gamerec/stats"
)

// MFEngine 是基于模型的协同过滤（MOBCF）：全局训练一个矩阵分解模型，在线对用户打分。
//
// 工程特征：
//   - 训练：全量重训，按时效闸门触发，模型整体存为 System blob
//   - 在线：用户隐向量与全部游戏隐向量点积，O(游戏数 × 维度)
//   - 冷启动：用户不在训练映射中时返回空，由混合排序回退到其他来源
type MFEngine struct {
	repo   *db.Repo
	stats  *stats.Store
	norm   *normalize.Engine
	gate   *params.Gate
	loader *cache.Loader
	cfg    config.MOBCFConfig
	logger *zap.Logger

	mu     sync.Mutex
	loaded time.Time
	model  *model.MFModel
}

func NewMFEngine(
	repo *db.Repo,
	st *stats.Store,
	norm *normalize.Engine,
	gate *params.Gate,
	loader *cache.Loader,
	cfg config.MOBCFConfig,
	logger *zap.Logger,
) *MFEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MFEngine{
		repo:   repo,
		stats:  st,
		norm:   norm,
		gate:   gate,
		loader: loader,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "recall.mobcf")),
	}
}

func (e *MFEngine) Name() string { return "mobcf" }

// Recall 只支持用户目标；游戏目标返回空。
func (e *MFEngine) Recall(ctx context.Context, rctx *core.RecommendContext) ([]*core.Item, error) {
	if rctx.GameID != 0 || rctx.UserID == 0 {
		return nil, nil
	}
	scores, err := e.ForUser(ctx, rctx.UserID)
	if err != nil {
		return nil, err
	}
	items := scores.Items(e.Name())
	for _, it := range items {
		it.PutLabel("mf_dimensions", utils.Label{Value: fmt.Sprint(e.cfg.Dimensions), Source: "recall"})
	}
	return items, nil
}

// Triples 组装训练样本：归一化时长表中 player_count 达标的游戏上的全部 (用户, 游戏) 对。
func (e *MFEngine) Triples(ctx context.Context) ([]model.Triple, error) {
	table, err := e.norm.Get(ctx)
	if err != nil {
		return nil, err
	}
	all, err := e.stats.GetMany(ctx, table.Games())
	if err != nil {
		return nil, err
	}
	var games []int64
	for _, g := range table.Games() {
		if st := all[g]; st != nil && st.PlayerCount >= e.cfg.MinPlayerCount {
			games = append(games, g)
		}
	}
	rows, err := e.repo.PlayedRows(ctx, games)
	if err != nil {
		return nil, err
	}
	out := make([]model.Triple, 0, len(rows))
	for _, r := range rows {
		v, ok := table[r.GameID][r.UserID]
		if !ok {
			continue
		}
		out = append(out, model.Triple{UserID: r.UserID, GameID: r.GameID, Value: v, LastPlayed: lastPlayed(r)})
	}
	return out, nil
}

// Refresh 在模型过期或超参数变化时重新训练。
func (e *MFEngine) Refresh(ctx context.Context) (bool, error) {
	return e.gate.Run(ctx, core.ComputationMOBCF, e.cfg.Params(), e.cfg.MaxAge, func(ctx context.Context) ([]byte, error) {
		triples, err := e.Triples(ctx)
		if err != nil {
			return nil, err
		}
		m, err := model.Train(ctx, triples, model.TrainConfig{
			Dimensions:    e.cfg.Dimensions,
			EpochsPerPass: e.cfg.EpochsPerPass,
			Schedule:      e.cfg.Schedule,
			WeightDecay:   e.cfg.WeightDecay,
			SplitQuantile: e.cfg.SplitQuantile,
			Seed:          e.cfg.Seed,
		})
		if err != nil {
			return nil, err
		}
		e.logger.Info("latent factor model trained",
			zap.Int("users", len(m.Users)),
			zap.Int("games", len(m.Games)),
			zap.Int("train", m.TrainSize),
			zap.Int("valid", m.ValidSize),
			zap.Float64("train_loss", m.TrainLoss),
			zap.Float64("valid_loss", m.ValidLoss),
		)
		return m.Encode()
	})
}

// Model 返回当前模型，必要时先训练；从未训练成功时返回 nil。
func (e *MFEngine) Model(ctx context.Context) (*model.MFModel, error) {
	if _, err := e.Refresh(ctx); err != nil {
		return nil, err
	}
	at, err := e.gate.LastRun(ctx, core.ComputationMOBCF)
	if err != nil || at == nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.model != nil && e.loaded.Equal(*at) {
		return e.model, nil
	}
	blob, err := e.gate.Blob(ctx, core.ComputationMOBCF)
	if err != nil {
		return nil, err
	}
	m, err := model.Decode(blob)
	if err != nil {
		return nil, fmt.Errorf("decode mobcf model: %w", err)
	}
	e.model, e.loaded = m, *at
	return m, nil
}

// ForUser 返回模型对用户的推荐：排除玩过的游戏，再按 serve_filter 过滤。
func (e *MFEngine) ForUser(ctx context.Context, userID int64) (core.ScoreList, error) {
	if _, err := e.Refresh(ctx); err != nil {
		return nil, err
	}
	policy := cache.Policy{
		MaxAge:     e.cfg.TargetMaxAge,
		ParamsHash: params.Hash(params.Merge(e.cfg.ServeParams(), e.cfg.Params())),
	}
	return e.loader.Load(ctx, cache.UserKey(userID, core.ArtifactMOBCF), policy, func(ctx context.Context) (core.ScoreList, error) {
		m, err := e.Model(ctx)
		if err != nil {
			return nil, err
		}
		if m == nil || !m.HasUser(userID) {
			e.logger.Debug("mobcf cold start", zap.Int64("user_id", userID))
			return core.ScoreList{}, nil
		}
		played, err := e.repo.Played(ctx, userID)
		if err != nil {
			return nil, err
		}
		scores := m.ScoreAll(userID)
		for g := range played {
			delete(scores, g)
		}
		return e.serveFilter(ctx, userID, core.SortScores(scores))
	})
}

// serveFilter 用游戏统计填充元信息后执行过滤表达式，保持原有顺序。
func (e *MFEngine) serveFilter(ctx context.Context, userID int64, scores core.ScoreList) (core.ScoreList, error) {
	if e.cfg.ServeFilter == "" {
		return scores.Head(e.cfg.MaxResults), nil
	}
	f, err := filter.NewExprFilter(e.cfg.ServeFilter)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(scores))
	for i, s := range scores {
		ids[i] = s.ID
	}
	all, err := e.stats.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	items := scores.Items(e.Name())
	for _, it := range items {
		it.Meta = stats.Meta(all[it.ID])
	}
	node := &filter.FilterNode{Filters: []filter.Filter{f}, FailClosed: true}
	kept, err := node.Process(ctx, core.ForUser(userID, nil), items)
	if err != nil {
		return nil, err
	}
	return core.ScoresOf(kept).Head(e.cfg.MaxResults), nil
}

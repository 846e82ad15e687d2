package recall

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/rushteam/gamerec/cache"
	"github.com/rushteam/gamerec/config"
	"github.com/rushteam/gamerec/core"
	"github.com/rushteam/gamerec/db"
	"github.com/rushteam/gamerec/filter"
	"github.com/rushteam/gamerec/normalize"
	"github.com/rushteam/gamerec/params"
	"github.com/rushteam/gamerec/pkg/utils"
)

// CollaborativeEngine 是基于记忆的协同过滤（MBCF），输入为归一化时长表。
//
// 核心思想："时长模式相似的用户，喜欢相似的游戏"
//
// 两个对称的变体：
//   - game-to-game：行 = 游戏，列 = 拥有足够多游戏的用户，行间相关系数 → 相似游戏
//   - user-to-user：行 = 用户，列 = 游戏，行间相关系数 → 相似用户；
//     再按 score[g] += 归一化时长[u][g] * sim(target, u) 传播到目标用户没玩过的游戏
//
// 用户向量中剔除该用户最近玩过的一部分游戏（按 last_played 的分位点），
// 相似度只由较早的游玩记录决定。
type CollaborativeEngine struct {
	repo   *db.Repo
	norm   *normalize.Engine
	gate   *params.Gate
	loader *cache.Loader
	rows   cache.Cache // 全局重建的单实体行
	cfg    config.MBCFConfig
	logger *zap.Logger
}

func NewCollaborativeEngine(
	repo *db.Repo,
	norm *normalize.Engine,
	gate *params.Gate,
	loader *cache.Loader,
	cfg config.MBCFConfig,
	logger *zap.Logger,
) *CollaborativeEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CollaborativeEngine{
		repo:   repo,
		norm:   norm,
		gate:   gate,
		loader: loader,
		rows:   cache.NewSQLCache(repo.DB()),
		cfg:    cfg,
		logger: logger.With(zap.String("component", "recall.mbcf")),
	}
}

func (e *CollaborativeEngine) Name() string { return "mbcf" }

func (e *CollaborativeEngine) Recall(ctx context.Context, rctx *core.RecommendContext) ([]*core.Item, error) {
	var (
		scores core.ScoreList
		err    error
	)
	if rctx.GameID != 0 {
		scores, err = e.SimilarFor(ctx, rctx.GameID)
	} else {
		scores, err = e.ForUser(ctx, rctx.UserID)
	}
	if err != nil {
		return nil, err
	}
	items := scores.Items(e.Name())
	for _, it := range items {
		it.PutLabel("cf_metric", utils.Label{Value: e.cfg.Metric, Source: "recall"})
	}
	return items, nil
}

// SimilarityRows 对行向量两两求相似度，返回每行的其他行（相似度 > 0，降序，同分按 ID 升序）。
// ids 与 vectors 一一对应；limit <= 0 表示不截断。
func SimilarityRows(ids []int64, vectors [][]float64, metric string, limit int) map[int64]core.ScoreList {
	m := SimilarityMatrix(vectors, metric)
	out := make(map[int64]core.ScoreList, len(ids))
	for i, id := range ids {
		acc := make(map[int64]float64)
		for j, other := range ids {
			if i == j || m[i][j] <= 0 {
				continue
			}
			acc[other] = m[i][j]
		}
		out[id] = core.SortScores(acc).Head(limit)
	}
	return out
}

// RefreshGames 重建 game-to-game 相似行。
func (e *CollaborativeEngine) RefreshGames(ctx context.Context) (bool, error) {
	current := e.cfg.GameParams()
	return e.gate.Run(ctx, core.ComputationMBCFForGame, current, e.cfg.MaxAge, func(ctx context.Context) ([]byte, error) {
		table, err := e.norm.Get(ctx)
		if err != nil {
			return nil, err
		}
		byUser := table.ByUser()
		var users []int64
		for u, games := range byUser {
			if len(games) >= e.cfg.MinGameCount {
				users = append(users, u)
			}
		}
		sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })

		var ids []int64
		var vectors [][]float64
		for _, g := range table.Games() {
			vec := make([]float64, len(users))
			nonZero := false
			for i, u := range users {
				if v, ok := table[g][u]; ok {
					vec[i] = v
					nonZero = nonZero || v != 0
				}
			}
			if nonZero {
				ids = append(ids, g)
				vectors = append(vectors, vec)
			}
		}

		rows := SimilarityRows(ids, vectors, e.cfg.Metric, e.cfg.MaxResults)
		blob, err := storeGeneration(ctx, e.rows, e.gate.Now(), current, rows, func(id int64) cache.Key {
			return cache.GameKey(id, core.ArtifactMBCF)
		})
		if err != nil {
			return nil, fmt.Errorf("store mbcf rows: %w", err)
		}
		e.logger.Info("game similarity rebuilt", zap.Int("games", len(ids)), zap.Int("users", len(users)))
		return blob, nil
	})
}

// RefreshUsers 重建 similar_users（每个用户最相似的 K 个用户）。
func (e *CollaborativeEngine) RefreshUsers(ctx context.Context) (bool, error) {
	current := e.cfg.UserParams()
	return e.gate.Run(ctx, core.ComputationSimilarUsers, current, e.cfg.MaxAge, func(ctx context.Context) ([]byte, error) {
		table, err := e.norm.Get(ctx)
		if err != nil {
			return nil, err
		}
		games := table.Games()
		rows, err := e.repo.PlayedRows(ctx, games)
		if err != nil {
			return nil, err
		}
		col := make(map[int64]int, len(games))
		for i, g := range games {
			col[g] = i
		}

		byUser := make(map[int64][]db.UserGame)
		for _, r := range rows {
			if _, ok := table[r.GameID][r.UserID]; ok {
				byUser[r.UserID] = append(byUser[r.UserID], r)
			}
		}

		var ids []int64
		for u, rs := range byUser {
			if len(rs) >= e.cfg.MinGameCount {
				ids = append(ids, u)
			}
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

		vectors := make([][]float64, len(ids))
		for i, u := range ids {
			older, _ := filter.SplitRecent(byUser[u], e.cfg.RecentQuantile, lastPlayed)
			vec := make([]float64, len(games))
			for _, r := range older {
				vec[col[r.GameID]] = table[r.GameID][u]
			}
			vectors[i] = vec
		}

		sims := SimilarityRows(ids, vectors, e.cfg.Metric, e.cfg.SimilarUsers)
		blob, err := storeGeneration(ctx, e.rows, e.gate.Now(), current, sims, func(id int64) cache.Key {
			return cache.UserKey(id, core.ArtifactSimilarUsers)
		})
		if err != nil {
			return nil, fmt.Errorf("store similar users: %w", err)
		}
		e.logger.Info("user similarity rebuilt", zap.Int("users", len(ids)), zap.Int("games", len(games)))
		return blob, nil
	})
}

func lastPlayed(ug db.UserGame) time.Time {
	if ug.LastPlayed == nil {
		return time.Time{}
	}
	return *ug.LastPlayed
}

// SimilarFor 返回时长模式相似的游戏。
func (e *CollaborativeEngine) SimilarFor(ctx context.Context, gameID int64) (core.ScoreList, error) {
	if _, err := e.RefreshGames(ctx); err != nil {
		return nil, err
	}
	return currentRow(ctx, e.gate, e.rows, core.ComputationMBCFForGame, cache.GameKey(gameID, core.ArtifactMBCF))
}

// SimilarUsers 返回与用户最相似的用户（分数为相似度）。
func (e *CollaborativeEngine) SimilarUsers(ctx context.Context, userID int64) (core.ScoreList, error) {
	if _, err := e.RefreshUsers(ctx); err != nil {
		return nil, err
	}
	return currentRow(ctx, e.gate, e.rows, core.ComputationSimilarUsers, cache.UserKey(userID, core.ArtifactSimilarUsers))
}

// ForUser 返回 user-to-user 协同过滤推荐，已排除用户玩过的游戏。
// 结果按用户单独缓存，有效期独立于全局相似矩阵。
func (e *CollaborativeEngine) ForUser(ctx context.Context, userID int64) (core.ScoreList, error) {
	policy := cache.Policy{MaxAge: e.cfg.TargetMaxAge, ParamsHash: params.Hash(e.cfg.UserParams())}
	return e.loader.Load(ctx, cache.UserKey(userID, core.ArtifactMBCF), policy, func(ctx context.Context) (core.ScoreList, error) {
		sims, err := e.SimilarUsers(ctx, userID)
		if err != nil || len(sims) == 0 {
			return core.ScoreList{}, err
		}
		table, err := e.norm.Get(ctx)
		if err != nil {
			return nil, err
		}
		played, err := e.repo.Played(ctx, userID)
		if err != nil {
			return nil, err
		}
		return Propagate(table.ByUser(), sims, played).Head(e.cfg.MaxResults), nil
	})
}

// Propagate 把相似用户的归一化时长按相似度加权累加到候选游戏上，跳过 exclude 中的游戏。
func Propagate(byUser map[int64]map[int64]float64, sims core.ScoreList, exclude map[int64]struct{}) core.ScoreList {
	acc := make(map[int64]float64)
	for _, s := range sims {
		for g, v := range byUser[s.ID] {
			if v == 0 {
				continue
			}
			if _, ok := exclude[g]; ok {
				continue
			}
			acc[g] += v * s.Value
		}
	}
	return core.SortScores(acc)
}

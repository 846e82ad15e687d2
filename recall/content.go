package recall

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/rushteam/gamerec/cache"
	"github.com/rushteam/gamerec/config"
	"github.com/rushteam/gamerec/core"
	"github.com/rushteam/gamerec/db"
	"github.com/rushteam/gamerec/normalize"
	"github.com/rushteam/gamerec/params"
	"github.com/rushteam/gamerec/pkg/utils"
	"github.com/rushteam/gamerec/stats"
)

// ContentEngine 是基于内容的推荐（CBR）。
//
// 核心思想："开发商 / 类型 / 标签相近的游戏彼此相似"
//
// 算法流程：
//  1. 语料 = player_count 超过阈值的游戏的 features 串
//  2. 词袋向量化（词表只来自语料）
//  3. 两两余弦相似度，得到对称的 game×game 矩阵
//  4. 每行按相似度降序保存（自身排第一），低于下限的剔除；下限会自适应降低以保证候选数
//
// 用户维度：对用户玩过的每个游戏取前 k 个邻居，按评分（或归一化时长）加权累加。
type ContentEngine struct {
	repo   *db.Repo
	stats  *stats.Store
	norm   *normalize.Engine
	gate   *params.Gate
	loader *cache.Loader
	rows   cache.Cache // 全局重建的单实体行
	cfg    config.CBRConfig
	logger *zap.Logger
}

func NewContentEngine(
	repo *db.Repo,
	st *stats.Store,
	norm *normalize.Engine,
	gate *params.Gate,
	loader *cache.Loader,
	cfg config.CBRConfig,
	logger *zap.Logger,
) *ContentEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContentEngine{
		repo:   repo,
		stats:  st,
		norm:   norm,
		gate:   gate,
		loader: loader,
		rows:   cache.NewSQLCache(repo.DB()),
		cfg:    cfg,
		logger: logger.With(zap.String("component", "recall.cbr")),
	}
}

func (e *ContentEngine) Name() string { return "cbr" }

func (e *ContentEngine) Recall(ctx context.Context, rctx *core.RecommendContext) ([]*core.Item, error) {
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
		it.PutLabel("recall_metric", utils.Label{Value: "cosine", Source: "recall"})
	}
	return items, nil
}

// ContentDoc 是 CBR 语料中的一篇文档。
type ContentDoc struct {
	GameID   int64
	Features string
}

// ContentOptions 控制相似行的裁剪。
type ContentOptions struct {
	Floor         float64
	MinCandidates int
	FloorStep     float64
	MaxResults    int
}

// BuildContentSimilarity 计算语料内每个游戏的相似行。
// 行内第一个元素总是游戏自身（1.0），其后按相似度降序、同分按语料顺序排列。
// features 为空的文档没有任何相似游戏，只有自身。
func BuildContentSimilarity(docs []ContentDoc, opt ContentOptions) map[int64]core.ScoreList {
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Features
	}
	vecs := bagOfWords(texts)

	type cand struct {
		pos int
		sim float64
	}
	rows := make([][]cand, len(docs))
	for i := range docs {
		for j := i + 1; j < len(docs); j++ {
			s := vecs[i].cosine(vecs[j])
			if s <= 0 {
				continue
			}
			rows[i] = append(rows[i], cand{pos: j, sim: s})
			rows[j] = append(rows[j], cand{pos: i, sim: s})
		}
	}

	out := make(map[int64]core.ScoreList, len(docs))
	for i, d := range docs {
		row := rows[i]
		sort.SliceStable(row, func(a, b int) bool {
			if row[a].sim != row[b].sim {
				return row[a].sim > row[b].sim
			}
			return row[a].pos < row[b].pos
		})

		floor := adaptiveFloor(row, opt, func(c cand) float64 { return c.sim })
		list := make(core.ScoreList, 0, len(row)+1)
		list = append(list, core.Score{ID: d.GameID, Value: 1})
		for _, c := range row {
			if c.sim < floor {
				break
			}
			if opt.MaxResults > 0 && len(list) > opt.MaxResults {
				break
			}
			list = append(list, core.Score{ID: docs[c.pos].GameID, Value: c.sim})
		}
		out[d.GameID] = list
	}
	return out
}

// adaptiveFloor 从 opt.Floor 开始按 FloorStep 逐步降低下限，直到至少有 MinCandidates 个候选。
// 降到 0 以下时返回 0（保留全部正相似度）。row 必须已按降序排列。
func adaptiveFloor[T any](row []T, opt ContentOptions, sim func(T) float64) float64 {
	floor := opt.Floor
	if floor <= 0 {
		return 0
	}
	for {
		n := sort.Search(len(row), func(i int) bool { return sim(row[i]) < floor })
		if n >= opt.MinCandidates || opt.FloorStep <= 0 {
			return floor
		}
		floor -= opt.FloorStep
		if floor <= 1e-9 {
			return 0
		}
	}
}

// Refresh 在语料参数变化或矩阵过期时重建全部相似行。
func (e *ContentEngine) Refresh(ctx context.Context) (bool, error) {
	current := e.cfg.Params()
	return e.gate.Run(ctx, core.ComputationCBRForGame, current, e.cfg.MaxAge, func(ctx context.Context) ([]byte, error) {
		all, err := e.stats.All(ctx)
		if err != nil {
			return nil, err
		}
		ids := make([]int64, 0, len(all))
		for id, st := range all {
			if st.PlayerCount > e.cfg.MinPlayerCount && st.Features != "" {
				ids = append(ids, id)
			}
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		docs := make([]ContentDoc, len(ids))
		for i, id := range ids {
			docs[i] = ContentDoc{GameID: id, Features: all[id].Features}
		}

		rows := BuildContentSimilarity(docs, ContentOptions{
			Floor:         e.cfg.SimilarityFloor,
			MinCandidates: e.cfg.MinCandidates,
			FloorStep:     e.cfg.FloorStep,
			MaxResults:    e.cfg.MaxResults,
		})

		blob, err := storeGeneration(ctx, e.rows, e.gate.Now(), current, rows, func(id int64) cache.Key {
			return cache.GameKey(id, core.ArtifactCBR)
		})
		if err != nil {
			return nil, fmt.Errorf("store cbr rows: %w", err)
		}
		e.logger.Info("content similarity rebuilt", zap.Int("corpus", len(docs)))
		return blob, nil
	})
}

// SimilarFor 返回与游戏内容相似的游戏（已去掉自身）；游戏不在语料中时返回空。
func (e *ContentEngine) SimilarFor(ctx context.Context, gameID int64) (core.ScoreList, error) {
	if _, err := e.Refresh(ctx); err != nil {
		return nil, err
	}
	row, err := currentRow(ctx, e.gate, e.rows, core.ComputationCBRForGame, cache.GameKey(gameID, core.ArtifactCBR))
	if err != nil {
		return nil, err
	}
	return dropSelf(row, gameID), nil
}

// ForUser 返回基于内容的用户推荐，已排除用户玩过的游戏。
func (e *ContentEngine) ForUser(ctx context.Context, userID int64) (core.ScoreList, error) {
	if _, err := e.Refresh(ctx); err != nil {
		return nil, err
	}
	policy := cache.Policy{
		MaxAge:     e.cfg.User.MaxAge,
		ParamsHash: params.Hash(params.Merge(e.cfg.UserParams(), e.cfg.Params())),
	}
	return e.loader.Load(ctx, cache.UserKey(userID, core.ArtifactCBR), policy, func(ctx context.Context) (core.ScoreList, error) {
		return e.computeForUser(ctx, userID)
	})
}

func (e *ContentEngine) computeForUser(ctx context.Context, userID int64) (core.ScoreList, error) {
	owned, err := e.repo.UserGames(ctx, userID)
	if err != nil {
		return nil, err
	}
	played := make(map[int64]db.UserGame)
	rated := 0
	for _, ug := range owned {
		if ug.Playtime <= 0 {
			continue
		}
		played[ug.GameID] = ug
		if ug.Score != nil && *ug.Score > 0 {
			rated++
		}
	}
	if len(played) == 0 {
		return core.ScoreList{}, nil
	}

	weights := make(map[int64]float64, len(played))
	if rated >= e.cfg.User.MinRatedGames {
		for id, ug := range played {
			if ug.Score != nil && *ug.Score > 0 {
				weights[id] = float64(*ug.Score)
			}
		}
	} else {
		table, err := e.norm.Get(ctx)
		if err != nil {
			return nil, err
		}
		for id := range played {
			if v, ok := table[id][userID]; ok && v != 0 {
				weights[id] = v
			}
		}
	}

	keys := make([]cache.Key, 0, len(weights))
	for gameID := range weights {
		keys = append(keys, cache.GameKey(gameID, core.ArtifactCBR))
	}
	rows, err := currentRows(ctx, e.gate, e.rows, core.ComputationCBRForGame, keys)
	if err != nil {
		return nil, err
	}

	acc := make(map[int64]float64)
	for gameID, w := range weights {
		for _, s := range dropSelf(rows[gameID], gameID).Head(e.cfg.User.NeighboursPerGame) {
			if _, ok := played[s.ID]; ok {
				continue
			}
			acc[s.ID] += s.Value * w
		}
	}
	e.logger.Debug("cbr for user computed",
		zap.Int64("user_id", userID),
		zap.Int("weighted_games", len(weights)),
		zap.Bool("by_score", rated >= e.cfg.User.MinRatedGames),
	)
	return core.SortScores(acc).Head(e.cfg.MaxResults), nil
}

// Package normalize 把原始游玩时长换算为可跨游戏比较的归一化分数。
package normalize

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/rushteam/gamerec/config"
	"github.com/rushteam/gamerec/core"
	"github.com/rushteam/gamerec/db"
	"github.com/rushteam/gamerec/params"
	"github.com/rushteam/gamerec/stats"
)

const (
	MethodL2     = "l2"
	MethodZScore = "zscore"
)

// Table 是归一化时长表：gameID -> userID -> 归一化值。
type Table map[int64]map[int64]float64

// ByUser 转置为 userID -> gameID -> 归一化值。
func (t Table) ByUser() map[int64]map[int64]float64 {
	out := make(map[int64]map[int64]float64)
	for g, users := range t {
		for u, v := range users {
			row, ok := out[u]
			if !ok {
				row = make(map[int64]float64)
				out[u] = row
			}
			row[g] = v
		}
	}
	return out
}

// Games 返回表中的游戏 ID（升序）。
func (t Table) Games() []int64 {
	ids := make([]int64, 0, len(t))
	for g := range t {
		ids = append(ids, g)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Engine 维护全局归一化时长表。表跨越所有游戏和用户，整体存为 System blob。
type Engine struct {
	repo   *db.Repo
	stats  *stats.Store
	gate   *params.Gate
	cfg    config.NormalizeConfig
	logger *zap.Logger

	mu     sync.Mutex
	loaded time.Time // 内存副本对应的提交时间
	table  Table
}

func New(repo *db.Repo, st *stats.Store, gate *params.Gate, cfg config.NormalizeConfig, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		repo:   repo,
		stats:  st,
		gate:   gate,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "normalize")),
	}
}

// Refresh 在表过期或参数变化时重建。
func (e *Engine) Refresh(ctx context.Context) (bool, error) {
	return e.gate.Run(ctx, core.ComputationNormalizedPlaytime, e.cfg.Params(), e.cfg.MaxAge, func(ctx context.Context) ([]byte, error) {
		t, err := e.Compute(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(t)
	})
}

// Get 返回当前的归一化时长表，必要时先重建。
func (e *Engine) Get(ctx context.Context) (Table, error) {
	if _, err := e.Refresh(ctx); err != nil {
		return nil, err
	}
	at, err := e.gate.LastRun(ctx, core.ComputationNormalizedPlaytime)
	if err != nil {
		return nil, err
	}
	if at == nil {
		return Table{}, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.table != nil && e.loaded.Equal(*at) {
		return e.table, nil
	}
	blob, err := e.gate.Blob(ctx, core.ComputationNormalizedPlaytime)
	if err != nil {
		return nil, err
	}
	t := Table{}
	if len(blob) > 0 {
		if err := json.Unmarshal(blob, &t); err != nil {
			return nil, fmt.Errorf("decode normalized playtime table: %w", err)
		}
	}
	e.table, e.loaded = t, *at
	return t, nil
}

// Compute 用当前数据完整计算一张表（不落库）。
func (e *Engine) Compute(ctx context.Context) (Table, error) {
	all, err := e.stats.All(ctx)
	if err != nil {
		return nil, err
	}
	var games []int64
	for id, st := range all {
		if st.PlayerCount >= e.cfg.MinPlayerCount {
			games = append(games, id)
		}
	}
	rows, err := e.repo.PlayedRows(ctx, games)
	if err != nil {
		return nil, err
	}

	byGame := make(map[int64][]db.UserGame)
	for _, r := range rows {
		byGame[r.GameID] = append(byGame[r.GameID], r)
	}

	t := make(Table, len(byGame))
	for g, rs := range byGame {
		vals := make([]float64, len(rs))
		for i, r := range rs {
			vals[i] = float64(r.Playtime)
		}
		norm := Vector(vals, e.cfg.Method)
		m := make(map[int64]float64, len(rs))
		for i, r := range rs {
			m[r.UserID] = norm[i]
		}
		t[g] = m
	}
	e.logger.Info("normalized playtime computed",
		zap.Int("games", len(t)),
		zap.Int("rows", len(rows)),
		zap.String("method", e.cfg.Method),
	)
	return t, nil
}

// Vector 按 method 归一化一个向量，返回新切片。
func Vector(v []float64, method string) []float64 {
	if method == MethodZScore {
		return ZScore(v)
	}
	return L2(v)
}

// L2 把向量除以其欧氏范数；零向量原样返回全 0。
func L2(v []float64) []float64 {
	out := make([]float64, len(v))
	var sq float64
	for _, x := range v {
		sq += x * x
	}
	if sq == 0 {
		return out
	}
	n := math.Sqrt(sq)
	for i, x := range v {
		out[i] = x / n
	}
	return out
}

// ZScore 标准化为 (x-mean)/std（总体标准差）；方差为 0（含单样本）时全部为 0。
func ZScore(v []float64) []float64 {
	out := make([]float64, len(v))
	if len(v) == 0 {
		return out
	}
	var sum float64
	for _, x := range v {
		sum += x
	}
	mean := sum / float64(len(v))
	var sq float64
	for _, x := range v {
		sq += (x - mean) * (x - mean)
	}
	std := math.Sqrt(sq / float64(len(v)))
	if std == 0 {
		return out
	}
	for i, x := range v {
		out[i] = (x - mean) / std
	}
	return out
}

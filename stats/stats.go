// Package stats 维护每个游戏的派生统计（玩家数、时长分布、特征串、平均评分）。
package stats

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rushteam/gamerec/db"
)

const (
	// DefaultMaxAge 统计行的有效期
	DefaultMaxAge = 7 * 24 * time.Hour

	// MinRatings 计算平均评分所需的最少评分数
	MinRatings = 3
)

// Store 是 GameStats 的读取入口：过期或缺失的统计行在读取时重算并写回。
type Store struct {
	repo   *db.Repo
	now    func() time.Time
	maxAge time.Duration
	logger *zap.Logger
}

// Option 配置 Store。
type Option func(*Store)

func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

func WithMaxAge(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.maxAge = d
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

func New(repo *db.Repo, opts ...Option) *Store {
	s := &Store{repo: repo, now: time.Now, maxAge: DefaultMaxAge, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "stats"))
	return s
}

// Get 返回单个游戏的统计，首次访问时创建。
func (s *Store) Get(ctx context.Context, gameID int64) (*db.GameStats, error) {
	m, err := s.GetMany(ctx, []int64{gameID})
	if err != nil {
		return nil, err
	}
	return m[gameID], nil
}

// GetMany 批量读取统计，只重算缺失或过期的行。
func (s *Store) GetMany(ctx context.Context, gameIDs []int64) (map[int64]*db.GameStats, error) {
	cached, err := s.repo.GameStats(ctx, gameIDs)
	if err != nil {
		return nil, err
	}
	now := s.now()
	var stale []int64
	for _, id := range gameIDs {
		st, ok := cached[id]
		if !ok || now.Sub(st.LastUpdateTime) > s.maxAge {
			stale = append(stale, id)
		}
	}
	if len(stale) == 0 {
		return cached, nil
	}
	fresh, err := s.Refresh(ctx, stale)
	if err != nil {
		return nil, err
	}
	for id, st := range fresh {
		cached[id] = st
	}
	return cached, nil
}

// All 返回全部游戏的统计。
func (s *Store) All(ctx context.Context) (map[int64]*db.GameStats, error) {
	ids, err := s.repo.GameIDs(ctx)
	if err != nil {
		return nil, err
	}
	return s.GetMany(ctx, ids)
}

// Refresh 无条件重算给定游戏的统计并写回。
func (s *Store) Refresh(ctx context.Context, gameIDs []int64) (map[int64]*db.GameStats, error) {
	names, err := s.repo.FeatureNames(ctx, gameIDs)
	if err != nil {
		return nil, err
	}
	playtimes, err := s.repo.Playtimes(ctx, gameIDs)
	if err != nil {
		return nil, err
	}
	scores, err := s.repo.Scores(ctx, gameIDs)
	if err != nil {
		return nil, err
	}

	now := s.now()
	out := make(map[int64]*db.GameStats, len(gameIDs))
	rows := make([]*db.GameStats, 0, len(gameIDs))
	for _, id := range gameIDs {
		st := Compute(id, names[id], playtimes[id], scores[id])
		st.LastUpdateTime = now
		out[id] = st
		rows = append(rows, st)
	}
	if err := s.repo.SaveGameStats(ctx, rows); err != nil {
		return nil, err
	}
	s.logger.Debug("game stats refreshed", zap.Int("games", len(rows)))
	return out, nil
}

// Compute 由原始数据计算一行统计（不含时间戳）。
// playtimes 只包含 playtime > 0 的记录，scores 只包含 score > 0 的记录。
func Compute(gameID int64, names []string, playtimes []int, scores []int) *db.GameStats {
	st := &db.GameStats{
		GameID:      gameID,
		Features:    Features(names),
		PlayerCount: len(playtimes),
	}
	if len(playtimes) > 0 {
		vals := make([]float64, len(playtimes))
		for i, p := range playtimes {
			vals[i] = float64(p)
		}
		sort.Float64s(vals)
		var total float64
		for _, v := range vals {
			total += v
		}
		st.TotalPlaytime = total
		st.MeanPlaytime = total / float64(len(vals))
		st.MedianPlaytime = median(vals)
		st.MinPlaytime = vals[0]
		st.MaxPlaytime = vals[len(vals)-1]
	}
	if len(scores) >= MinRatings {
		var sum float64
		for _, sc := range scores {
			sum += float64(sc)
		}
		st.Rating = sum / float64(len(scores))
	}
	return st
}

// Features 把开发商 / 类型 / 标签名去掉内部空白后用单个空格拼接。
func Features(names []string) string {
	tokens := make([]string, 0, len(names))
	for _, n := range names {
		tok := strings.Join(strings.Fields(n), "")
		if tok != "" {
			tokens = append(tokens, tok)
		}
	}
	return strings.Join(tokens, " ")
}

// median 要求 sorted 已升序且非空。
func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// Meta 把统计行转成候选的元信息，供过滤表达式里的 game.* 使用。
func Meta(st *db.GameStats) map[string]any {
	if st == nil {
		st = &db.GameStats{}
	}
	return map[string]any{
		"player_count":    int64(st.PlayerCount),
		"rating":          st.Rating,
		"mean_playtime":   st.MeanPlaytime,
		"median_playtime": st.MedianPlaytime,
	}
}

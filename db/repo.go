package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// inChunk 限制单条 IN 查询的参数个数（sqlite 的变量上限较低）。
const inChunk = 500

// Repo 封装推荐核心需要的批量查询，避免按实体懒加载造成的 N+1。
type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// DB 返回底层连接，供需要事务的组件使用。
func (r *Repo) DB() *gorm.DB { return r.db }

// GameIDs 返回全部游戏 ID（升序）。
func (r *Repo) GameIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).Model(&Game{}).Order("id").Pluck("id", &ids).Error
	return ids, err
}

// ExistingGames 返回给定 ID 中已存在的游戏集合。
func (r *Repo) ExistingGames(ctx context.Context, gameIDs []int64) (map[int64]struct{}, error) {
	out := make(map[int64]struct{}, len(gameIDs))
	for _, ids := range chunk(gameIDs, inChunk) {
		var found []int64
		if err := r.db.WithContext(ctx).Model(&Game{}).Where("id IN ?", ids).Pluck("id", &found).Error; err != nil {
			return nil, err
		}
		for _, id := range found {
			out[id] = struct{}{}
		}
	}
	return out, nil
}

// Game 读取单个游戏，不存在时返回 (nil, nil)。
func (r *Repo) Game(ctx context.Context, id int64) (*Game, error) {
	var g Game
	err := r.db.WithContext(ctx).First(&g, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

type nameRow struct {
	GameID int64
	Name   string
}

// FeatureNames 一次性取出一批游戏的开发商 / 类型 / 标签名称。
// 每个游戏的顺序固定为：开发商、类型、标签，各自按名称排序。
func (r *Repo) FeatureNames(ctx context.Context, gameIDs []int64) (map[int64][]string, error) {
	out := make(map[int64][]string, len(gameIDs))
	joins := []struct{ join, table, fk string }{
		{"game_developers", "developers", "developer_id"},
		{"game_genres", "genres", "genre_id"},
		{"game_tags", "tags", "tag_id"},
	}
	for _, ids := range chunk(gameIDs, inChunk) {
		for _, j := range joins {
			var rows []nameRow
			err := r.db.WithContext(ctx).
				Table(j.join).
				Select(fmt.Sprintf("%s.game_id AS game_id, %s.name AS name", j.join, j.table)).
				Joins(fmt.Sprintf("JOIN %s ON %s.id = %s.%s", j.table, j.table, j.join, j.fk)).
				Where(fmt.Sprintf("%s.game_id IN ?", j.join), ids).
				Order(fmt.Sprintf("%s.game_id, %s.name", j.join, j.table)).
				Scan(&rows).Error
			if err != nil {
				return nil, fmt.Errorf("load %s: %w", j.table, err)
			}
			for _, row := range rows {
				out[row.GameID] = append(out[row.GameID], row.Name)
			}
		}
	}
	return out, nil
}

// Playtimes 返回每个游戏 playtime > 0 的时长（分钟）。
func (r *Repo) Playtimes(ctx context.Context, gameIDs []int64) (map[int64][]int, error) {
	out := make(map[int64][]int, len(gameIDs))
	for _, ids := range chunk(gameIDs, inChunk) {
		var rows []UserGame
		err := r.db.WithContext(ctx).
			Select("game_id", "playtime").
			Where("game_id IN ? AND playtime > 0", ids).
			Order("game_id, user_id").
			Find(&rows).Error
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			out[row.GameID] = append(out[row.GameID], row.Playtime)
		}
	}
	return out, nil
}

// Scores 返回每个游戏 score > 0 的评分。
func (r *Repo) Scores(ctx context.Context, gameIDs []int64) (map[int64][]int, error) {
	out := make(map[int64][]int, len(gameIDs))
	for _, ids := range chunk(gameIDs, inChunk) {
		var rows []UserGame
		err := r.db.WithContext(ctx).
			Select("game_id", "score").
			Where("game_id IN ? AND score > 0", ids).
			Order("game_id, user_id").
			Find(&rows).Error
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			if row.Score != nil {
				out[row.GameID] = append(out[row.GameID], *row.Score)
			}
		}
	}
	return out, nil
}

// PlayedRows 返回给定游戏集合上 playtime > 0 的全部 UserGame 记录（按游戏、用户排序）。
func (r *Repo) PlayedRows(ctx context.Context, gameIDs []int64) ([]UserGame, error) {
	var out []UserGame
	for _, ids := range chunk(gameIDs, inChunk) {
		var rows []UserGame
		err := r.db.WithContext(ctx).
			Where("game_id IN ? AND playtime > 0", ids).
			Order("game_id, user_id").
			Find(&rows).Error
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}
	return out, nil
}

// UserGames 返回用户拥有的全部游戏。
func (r *Repo) UserGames(ctx context.Context, userID int64) ([]UserGame, error) {
	var rows []UserGame
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("game_id").Find(&rows).Error
	return rows, err
}

// Played 返回用户 playtime > 0 的游戏集合。
func (r *Repo) Played(ctx context.Context, userID int64) (map[int64]struct{}, error) {
	var ids []int64
	err := r.db.WithContext(ctx).Model(&UserGame{}).
		Where("user_id = ? AND playtime > 0", userID).
		Pluck("game_id", &ids).Error
	if err != nil {
		return nil, err
	}
	out := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out, nil
}

// GameStats 批量读取统计行；缺失的游戏不出现在结果中。
func (r *Repo) GameStats(ctx context.Context, gameIDs []int64) (map[int64]*GameStats, error) {
	out := make(map[int64]*GameStats, len(gameIDs))
	for _, ids := range chunk(gameIDs, inChunk) {
		var rows []GameStats
		if err := r.db.WithContext(ctx).Where("game_id IN ?", ids).Find(&rows).Error; err != nil {
			return nil, err
		}
		for i := range rows {
			out[rows[i].GameID] = &rows[i]
		}
	}
	return out, nil
}

// SaveGameStats 在一个事务里写回统计行，并同步 Game.features / Game.rating。
func (r *Repo) SaveGameStats(ctx context.Context, rows []*GameStats) error {
	if len(rows) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rows).Error; err != nil {
			return err
		}
		for _, s := range rows {
			err := tx.Model(&Game{}).Where("id = ?", s.GameID).
				Updates(map[string]any{"features": s.Features, "rating": s.Rating}).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// UpsertGame 写入游戏元数据并整体替换开发商 / 类型 / 标签关联。
func (r *Repo) UpsertGame(ctx context.Context, g *Game) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		devs, err := ensureNames(tx, g.Developers, func(n string) *Developer { return &Developer{Name: n} }, func(d Developer) string { return d.Name })
		if err != nil {
			return err
		}
		genres, err := ensureNames(tx, g.Genres, func(n string) *Genre { return &Genre{Name: n} }, func(d Genre) string { return d.Name })
		if err != nil {
			return err
		}
		tags, err := ensureNames(tx, g.Tags, func(n string) *Tag { return &Tag{Name: n} }, func(d Tag) string { return d.Name })
		if err != nil {
			return err
		}

		row := *g
		row.Developers, row.Genres, row.Tags = nil, nil, nil
		err = tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "description", "release_date", "catalog_updated_at"}),
		}).Create(&row).Error
		if err != nil {
			return err
		}

		if err := tx.Model(&row).Association("Developers").Replace(devs); err != nil {
			return err
		}
		if err := tx.Model(&row).Association("Genres").Replace(genres); err != nil {
			return err
		}
		return tx.Model(&row).Association("Tags").Replace(tags)
	})
}

// ensureNames 保证名称实体存在并返回带主键的记录。
func ensureNames[T any](tx *gorm.DB, in []T, build func(string) *T, name func(T) string) ([]*T, error) {
	out := make([]*T, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, v := range in {
		n := strings.TrimSpace(name(v))
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		rec := build(n)
		if err := tx.Where("name = ?", n).FirstOrCreate(rec).Error; err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// DeleteGame 删除游戏及其派生数据。
func (r *Repo) DeleteGame(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		g := &Game{ID: id}
		if err := tx.Model(g).Association("Developers").Clear(); err != nil {
			return err
		}
		if err := tx.Model(g).Association("Genres").Clear(); err != nil {
			return err
		}
		if err := tx.Model(g).Association("Tags").Clear(); err != nil {
			return err
		}
		for _, m := range []any{&UserGame{}, &GameStats{}, &GameArtifact{}} {
			if err := tx.Where("game_id = ?", id).Delete(m).Error; err != nil {
				return err
			}
		}
		return tx.Delete(g).Error
	})
}

// UpsertUser 确保用户存在，并记录拥有列表刷新时间。
func (r *Repo) UpsertUser(ctx context.Context, id int64, refreshedAt time.Time) error {
	u := &User{ID: id, OwnedGamesUpdatedAt: &refreshedAt}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"owned_games_updated_at"}),
	}).Create(u).Error
}

// UpsertOwnership 写入拥有记录；已有记录只更新 playtime 和 last_played，评分保持不变。
func (r *Repo) UpsertOwnership(ctx context.Context, rows []UserGame) error {
	if len(rows) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "game_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"playtime", "last_played"}),
	}).CreateInBatches(rows, inChunk).Error
}

// SetScore 更新评分；score 为 nil 表示取消评分。
func (r *Repo) SetScore(ctx context.Context, userID, gameID int64, score *int) error {
	ug := &UserGame{UserID: userID, GameID: gameID, Score: score}
	if err := ug.BeforeSave(nil); err != nil {
		return err
	}
	res := r.db.WithContext(ctx).Model(&UserGame{}).
		Where("user_id = ? AND game_id = ?", userID, gameID).
		Update("score", score)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func chunk(ids []int64, size int) [][]int64 {
	if len(ids) == 0 {
		return nil
	}
	out := make([][]int64, 0, (len(ids)+size-1)/size)
	for size < len(ids) {
		ids, out = ids[size:], append(out, ids[:size])
	}
	return append(out, ids)
}

package cache

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/rushteam/gamerec/core"
	"github.com/rushteam/gamerec/db"
)

// SQLCache 把产物存进业务库的 game_artifacts / user_artifacts 表。
type SQLCache struct {
	db *gorm.DB
}

func NewSQLCache(gdb *gorm.DB) *SQLCache {
	return &SQLCache{db: gdb}
}

var _ Cache = (*SQLCache)(nil)

func (c *SQLCache) Get(ctx context.Context, key Key) (*Entry, error) {
	q := c.db.WithContext(ctx).Where("kind = ?", string(key.Kind))
	switch key.Owner {
	case core.OwnerGame:
		var row db.GameArtifact
		err := q.Where("game_id = ?", key.ID).Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMiss
		}
		if err != nil {
			return nil, err
		}
		return &Entry{Scores: row.Scores.Data(), ParamsHash: row.ParamsHash, ComputedAt: row.ComputedAt}, nil
	case core.OwnerUser:
		var row db.UserArtifact
		err := q.Where("user_id = ?", key.ID).Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMiss
		}
		if err != nil {
			return nil, err
		}
		return &Entry{Scores: row.Scores.Data(), ParamsHash: row.ParamsHash, ComputedAt: row.ComputedAt}, nil
	}
	return nil, fmt.Errorf("cache: unknown owner %q", key.Owner)
}

// getManyChunk 限制单条 IN 查询的参数个数。
const getManyChunk = 500

// GetMany 按 (owner, kind) 分组，每组按 ID 分批查询。
func (c *SQLCache) GetMany(ctx context.Context, keys []Key) (map[Key]*Entry, error) {
	type group struct {
		owner core.Owner
		kind  core.ArtifactKind
	}
	groups := make(map[group][]int64)
	for _, k := range keys {
		g := group{k.Owner, k.Kind}
		groups[g] = append(groups[g], k.ID)
	}

	out := make(map[Key]*Entry, len(keys))
	for g, ids := range groups {
		for start := 0; start < len(ids); start += getManyChunk {
			batch := ids[start:min(start+getManyChunk, len(ids))]
			q := c.db.WithContext(ctx).Where("kind = ?", string(g.kind))
			switch g.owner {
			case core.OwnerGame:
				var rows []db.GameArtifact
				if err := q.Where("game_id IN ?", batch).Find(&rows).Error; err != nil {
					return nil, err
				}
				for _, r := range rows {
					out[Key{Owner: g.owner, ID: r.GameID, Kind: g.kind}] = &Entry{Scores: r.Scores.Data(), ParamsHash: r.ParamsHash, ComputedAt: r.ComputedAt}
				}
			case core.OwnerUser:
				var rows []db.UserArtifact
				if err := q.Where("user_id IN ?", batch).Find(&rows).Error; err != nil {
					return nil, err
				}
				for _, r := range rows {
					out[Key{Owner: g.owner, ID: r.UserID, Kind: g.kind}] = &Entry{Scores: r.Scores.Data(), ParamsHash: r.ParamsHash, ComputedAt: r.ComputedAt}
				}
			default:
				return nil, fmt.Errorf("cache: unknown owner %q", g.owner)
			}
		}
	}
	return out, nil
}

func (c *SQLCache) Put(ctx context.Context, key Key, entry *Entry) error {
	return c.PutMany(ctx, map[Key]*Entry{key: entry})
}

func (c *SQLCache) PutMany(ctx context.Context, entries map[Key]*Entry) error {
	var games []db.GameArtifact
	var users []db.UserArtifact
	for k, e := range entries {
		scores := e.Scores
		if scores == nil {
			scores = core.ScoreList{}
		}
		switch k.Owner {
		case core.OwnerGame:
			games = append(games, db.GameArtifact{
				GameID: k.ID, Kind: string(k.Kind),
				Scores:     datatypes.NewJSONType(scores),
				ParamsHash: e.ParamsHash, ComputedAt: e.ComputedAt,
			})
		case core.OwnerUser:
			users = append(users, db.UserArtifact{
				UserID: k.ID, Kind: string(k.Kind),
				Scores:     datatypes.NewJSONType(scores),
				ParamsHash: e.ParamsHash, ComputedAt: e.ComputedAt,
			})
		default:
			return fmt.Errorf("cache: unknown owner %q", k.Owner)
		}
	}

	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		upsert := clause.OnConflict{UpdateAll: true}
		if len(games) > 0 {
			if err := tx.Clauses(upsert).CreateInBatches(games, 200).Error; err != nil {
				return err
			}
		}
		if len(users) > 0 {
			if err := tx.Clauses(upsert).CreateInBatches(users, 200).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

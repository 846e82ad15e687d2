package recall

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/rushteam/gamerec/cache"
	"github.com/rushteam/gamerec/core"
	"github.com/rushteam/gamerec/params"
)

// Source 表示一个可复用的推荐来源（cbr / mbcf / mobcf）。
// rctx.GameID 非 0 时返回相似游戏，否则返回给 rctx.UserID 的推荐。
// 数据不足时返回空列表而不是错误。
type Source interface {
	Name() string
	Recall(ctx context.Context, rctx *core.RecommendContext) ([]*core.Item, error)
}

// generation 是全局重建的提交标记，存为 System blob。
// 重建出的单实体行总是写进业务库（game_artifacts / user_artifacts），与 System 同库，
// 不随可配置的结果缓存后端（内存 / Redis）丢失。
// 单游戏条目的 ParamsHash 等于所属重建的 ID，旧一轮遗留的条目因此失效。
type generation struct {
	ID   string `json:"generation"`
	Size int    `json:"size"`
}

// storeGeneration 以新的 generation 批量写入一轮重建的全部行，返回需要随 Commit 保存的 blob。
func storeGeneration(
	ctx context.Context,
	c cache.Cache,
	now time.Time,
	current params.Values,
	rows map[int64]core.ScoreList,
	key func(id int64) cache.Key,
) ([]byte, error) {
	gen := generation{ID: params.Hash(current) + ":" + strconv.FormatInt(now.UnixNano(), 36), Size: len(rows)}
	entries := make(map[cache.Key]*cache.Entry, len(rows))
	for id, row := range rows {
		entries[key(id)] = &cache.Entry{Scores: row, ParamsHash: gen.ID, ComputedAt: now}
	}
	if err := c.PutMany(ctx, entries); err != nil {
		return nil, err
	}
	return json.Marshal(gen)
}

// currentRow 读取单条目，只有属于最近一轮提交的条目才有效。
func currentRow(ctx context.Context, gate *params.Gate, c cache.Cache, comp core.Computation, key cache.Key) (core.ScoreList, error) {
	rows, err := currentRows(ctx, gate, c, comp, []cache.Key{key})
	if err != nil {
		return nil, err
	}
	return rows[key.ID], nil
}

// currentRows 批量读取一轮重建中的条目，按实体 ID 返回；旧一轮遗留或缺失的条目不出现。
func currentRows(ctx context.Context, gate *params.Gate, c cache.Cache, comp core.Computation, keys []cache.Key) (map[int64]core.ScoreList, error) {
	if len(keys) == 0 {
		return map[int64]core.ScoreList{}, nil
	}
	blob, err := gate.Blob(ctx, comp)
	if err != nil {
		return nil, err
	}
	if len(blob) == 0 {
		return map[int64]core.ScoreList{}, nil
	}
	var gen generation
	if err := json.Unmarshal(blob, &gen); err != nil {
		return nil, fmt.Errorf("decode %s generation: %w", comp, err)
	}
	entries, err := c.GetMany(ctx, keys)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]core.ScoreList, len(entries))
	for k, e := range entries {
		if e.ParamsHash == gen.ID {
			out[k.ID] = e.Scores
		}
	}
	return out, nil
}

// dropSelf 去掉列表中的 id 本身。
func dropSelf(l core.ScoreList, id int64) core.ScoreList {
	out := make(core.ScoreList, 0, len(l))
	for _, s := range l {
		if s.ID != id {
			out = append(out, s)
		}
	}
	return out
}

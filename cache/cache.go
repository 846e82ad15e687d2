// Package cache 是推荐结果缓存：每个 (实体, 产物类型) 一条评分列表及其计算时间。
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/rushteam/gamerec/core"
)

// Key 标识一条缓存产物。
type Key struct {
	Owner core.Owner
	ID    int64
	Kind  core.ArtifactKind
}

func GameKey(id int64, kind core.ArtifactKind) Key {
	return Key{Owner: core.OwnerGame, ID: id, Kind: kind}
}

func UserKey(id int64, kind core.ArtifactKind) Key {
	return Key{Owner: core.OwnerUser, ID: id, Kind: kind}
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%d:%s", k.Owner, k.ID, k.Kind)
}

// Entry 是一条缓存产物。ParamsHash 记录生成时的参数摘要。
type Entry struct {
	Scores     core.ScoreList `json:"scores"`
	ParamsHash string         `json:"params_hash"`
	ComputedAt time.Time      `json:"computed_at"`
}

// ErrMiss 表示缓存中没有该条目。
var ErrMiss = core.NewDomainError(core.ModuleCache, core.ErrorCodeNotFound, "cache: entry not found")

// Cache 是推荐结果缓存的存储接口。
//
// 实现：
//   - SQLCache：game_artifacts / user_artifacts 两张表（默认）
//   - KVCache：任意 core.Store（内存 / Redis）
type Cache interface {
	// Get 读取条目，不存在时返回 ErrMiss
	Get(ctx context.Context, key Key) (*Entry, error)

	// GetMany 批量读取，缺失的 key 不出现在结果中
	GetMany(ctx context.Context, keys []Key) (map[Key]*Entry, error)

	// Put 覆盖写入单个条目
	Put(ctx context.Context, key Key, entry *Entry) error

	// PutMany 整批写入，整体成功或整体失败
	PutMany(ctx context.Context, entries map[Key]*Entry) error
}

// Policy 描述条目的有效性：未超过 MaxAge 且参数摘要一致。
type Policy struct {
	MaxAge     time.Duration
	ParamsHash string
}

// Fresh 判断条目在 now 时刻是否仍然有效。
func (p Policy) Fresh(e *Entry, now time.Time) bool {
	if e == nil {
		return false
	}
	if now.Sub(e.ComputedAt) > p.MaxAge {
		return false
	}
	return e.ParamsHash == p.ParamsHash
}

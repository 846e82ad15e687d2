package filter

import (
	"context"

	"github.com/rushteam/gamerec/core"
)

// PlayedFilter 剔除目标用户已经玩过（playtime > 0）的游戏。
// 缓存结果生成之后用户又玩了新游戏时，由它在返回前兜底。
type PlayedFilter struct{}

func (f *PlayedFilter) Name() string { return "filter.played" }

func (f *PlayedFilter) ShouldFilter(_ context.Context, rctx *core.RecommendContext, item *core.Item) (bool, error) {
	return rctx.HasPlayed(item.ID), nil
}

// SelfFilter 剔除相似游戏列表里的目标游戏自身。
type SelfFilter struct{}

func (f *SelfFilter) Name() string { return "filter.self" }

func (f *SelfFilter) ShouldFilter(_ context.Context, rctx *core.RecommendContext, item *core.Item) (bool, error) {
	return rctx != nil && rctx.GameID != 0 && item.ID == rctx.GameID, nil
}

package filter

import (
	"context"

	"github.com/rushteam/gamerec/core"
)

// BlocklistFilter 剔除运营配置的游戏（下架、违规等），对所有推荐器生效。
type BlocklistFilter struct {
	GameIDs map[int64]struct{}
}

// NewBlocklistFilter 创建一个黑名单过滤器。
func NewBlocklistFilter(gameIDs []int64) *BlocklistFilter {
	set := make(map[int64]struct{}, len(gameIDs))
	for _, id := range gameIDs {
		set[id] = struct{}{}
	}
	return &BlocklistFilter{GameIDs: set}
}

func (f *BlocklistFilter) Name() string {
	return "filter.blocklist"
}

func (f *BlocklistFilter) ShouldFilter(_ context.Context, _ *core.RecommendContext, item *core.Item) (bool, error) {
	if item == nil {
		return true, nil
	}
	_, ok := f.GameIDs[item.ID]
	return ok, nil
}

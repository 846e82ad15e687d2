package rank

import (
	"context"
	"sort"
	"strings"

	"github.com/rushteam/gamerec/core"
	"github.com/rushteam/gamerec/pipeline"
	"github.com/rushteam/gamerec/pkg/utils"
)

// HybridNode 是混合排序 Node：按 recall_source 把候选分组，逐组 L2 归一化后加权求和。
// - 同一游戏出现在多个来源时合并成一个候选，分数为各来源贡献之和
// - 写入 labels：rank_hybrid（参与贡献的来源，按名称排序）
// - 输出按分数降序，同分按 ID 升序
type HybridNode struct {
	Weights map[string]float64
}

func (n *HybridNode) Name() string        { return "rank.hybrid" }
func (n *HybridNode) Kind() pipeline.Kind { return pipeline.KindRank }

func (n *HybridNode) Process(
	_ context.Context,
	_ *core.RecommendContext,
	items []*core.Item,
) ([]*core.Item, error) {
	lists := make(map[string]core.ScoreList)
	contributors := make(map[int64][]string)
	for _, it := range items {
		if it == nil {
			continue
		}
		src := ""
		if lbl, ok := it.Labels["recall_source"]; ok {
			src = lbl.Value
		}
		if w, ok := n.Weights[src]; !ok || w == 0 {
			continue
		}
		lists[src] = append(lists[src], core.Score{ID: it.ID, Value: it.Score})
		contributors[it.ID] = append(contributors[it.ID], src)
	}

	blended := Blend(lists, n.Weights)
	out := blended.Items("")
	for _, it := range out {
		srcs := contributors[it.ID]
		sort.Strings(srcs)
		it.PutLabel("rank_hybrid", utils.Label{Value: strings.Join(srcs, "+"), Source: "rank"})
	}
	return out, nil
}

package rerank

import (
	"context"

	"github.com/rushteam/gamerec/core"
	"github.com/rushteam/gamerec/pipeline"
	"github.com/rushteam/gamerec/pkg/conv"
)

// ParamN 是请求级结果数量参数名（RecommendContext.Params）。
const ParamN = "n"

// TopNNode 是一个 Top-N 截断节点，放在过滤节点之后。
//
// 截断数量的来源：
//   - N > 0：固定截断
//   - N <= 0：读取请求参数 rctx.Params["n"]；也没有时不截断
type TopNNode struct {
	N int
}

func (n *TopNNode) Name() string {
	return "rerank.topn"
}

func (n *TopNNode) Kind() pipeline.Kind {
	return pipeline.KindReRank
}

func (n *TopNNode) Process(
	_ context.Context,
	rctx *core.RecommendContext,
	items []*core.Item,
) ([]*core.Item, error) {
	limit := n.N
	if limit <= 0 && rctx != nil && rctx.Params != nil {
		limit, _ = conv.ToInt(rctx.Params[ParamN])
	}
	if limit <= 0 || len(items) <= limit {
		return items, nil
	}
	return items[:limit], nil
}

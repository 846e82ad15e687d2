package config

import (
	"fmt"

	"github.com/rushteam/gamerec/filter"
	"github.com/rushteam/gamerec/pipeline"
	"github.com/rushteam/gamerec/pkg/conv"
	"github.com/rushteam/gamerec/rerank"
)

func init() {
	Register("filter.played", BuildPlayedFilterNode)
	Register("filter.self", BuildSelfFilterNode)
	Register("filter.expr", BuildExprFilterNode)
	Register("filter.blocklist", BuildBlocklistFilterNode)
	Register("rerank.topn", BuildTopNNode)
}

// BuildPlayedFilterNode 剔除用户玩过的游戏。
func BuildPlayedFilterNode(map[string]interface{}) (pipeline.Node, error) {
	return &filter.FilterNode{Filters: []filter.Filter{&filter.PlayedFilter{}}}, nil
}

// BuildSelfFilterNode 剔除相似列表中的目标游戏自身。
func BuildSelfFilterNode(map[string]interface{}) (pipeline.Node, error) {
	return &filter.FilterNode{Filters: []filter.Filter{&filter.SelfFilter{}}}, nil
}

// BuildExprFilterNode 配置示例：{type: filter.expr, config: {expr: "game.rating >= 6.0", fail_closed: true}}
func BuildExprFilterNode(cfg map[string]interface{}) (pipeline.Node, error) {
	expr := conv.ConfigGet[string](cfg, "expr", "")
	if expr == "" {
		return nil, fmt.Errorf("expr is required")
	}
	f, err := filter.NewExprFilter(expr)
	if err != nil {
		return nil, err
	}
	return &filter.FilterNode{
		Filters:    []filter.Filter{f},
		FailClosed: conv.ConfigGet[bool](cfg, "fail_closed", false),
	}, nil
}

// BuildBlocklistFilterNode 配置示例：{type: filter.blocklist, config: {game_ids: [10, 20]}}
func BuildBlocklistFilterNode(cfg map[string]interface{}) (pipeline.Node, error) {
	ids := conv.SliceAnyToInt64(cfg["game_ids"])
	if len(ids) == 0 {
		return nil, fmt.Errorf("game_ids is required")
	}
	return &filter.FilterNode{Filters: []filter.Filter{filter.NewBlocklistFilter(ids)}}, nil
}

// BuildTopNNode 配置 n 时固定截断，否则按请求参数截断。
func BuildTopNNode(cfg map[string]interface{}) (pipeline.Node, error) {
	return &rerank.TopNNode{N: int(conv.ConfigGetInt64(cfg, "n", 0))}, nil
}

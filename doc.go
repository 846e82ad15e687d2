// Package gamerec 是游戏推荐与统计核心。
//
// 设计要点：
// - 全局计算（归一化时长表、内容相似、协同过滤、隐因子模型）由时效闸门管理：过期或参数变化才重算，重算结果整体提交
// - 单目标结果（cbr / mbcf / mobcf / hr / similar_users）按需计算并缓存，缓存带参数指纹
// - 返回前统一经过 Pipeline 后处理（已玩过滤、自身过滤、CEL 表达式、截断）
//
// 入口是 service.Recommender，完整用法见 examples/basic。
package gamerec

import (
	"github.com/rushteam/gamerec/pipeline"
	"github.com/rushteam/gamerec/service"
)

// 轻量 facade：便于直接 import "gamerec" 使用核心抽象。
type (
	Recommender = service.Recommender
	Option      = service.Option
	Pipeline    = pipeline.Pipeline
	Node        = pipeline.Node
	Kind        = pipeline.Kind
)

var New = service.New

const (
	KindRecall      = pipeline.KindRecall
	KindFilter      = pipeline.KindFilter
	KindRank        = pipeline.KindRank
	KindReRank      = pipeline.KindReRank
	KindPostProcess = pipeline.KindPostProcess
)

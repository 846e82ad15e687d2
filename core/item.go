package core

import (
	"sort"

	"github.com/rushteam/gamerec/pkg/utils"
)

// Item 是推荐链路中的统一承载结构：游戏 ID、分数、元信息、标签。
// Labels 用于解释与策略驱动；Score 用于排序决策。
// Meta 由服务层补充（player_count / rating / mean_playtime），供 CEL 过滤表达式使用。
type Item struct {
	ID     int64
	Score  float64
	Meta   map[string]any
	Labels map[string]utils.Label
}

func NewItem(id int64) *Item {
	return &Item{
		ID:     id,
		Score:  0,
		Meta:   make(map[string]any),
		Labels: make(map[string]utils.Label),
	}
}

// PutLabel 写入 Label；若已存在同名 key，则按默认 Merge 规则累积。
func (it *Item) PutLabel(key string, lbl utils.Label) {
	if it.Labels == nil {
		it.Labels = make(map[string]utils.Label)
	}
	if old, ok := it.Labels[key]; ok {
		it.Labels[key] = utils.MergeLabel(old, lbl)
		return
	}
	it.Labels[key] = lbl
}

// Score 是持久化的 (实体 ID, 分数) 对。
// 缓存里的 cbr / mbcf / mobcf / hr 存的是游戏 ID，similar_users 存的是用户 ID。
type Score struct {
	ID    int64   `json:"id"`
	Value float64 `json:"value"`
}

// ScoreList 是按分数降序排列的结果列表。
type ScoreList []Score

// SortScores 把 map 转成降序列表；分数相同时按 ID 升序，保证输出稳定。
func SortScores(m map[int64]float64) ScoreList {
	out := make(ScoreList, 0, len(m))
	for id, v := range m {
		out = append(out, Score{ID: id, Value: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Value != out[j].Value {
			return out[i].Value > out[j].Value
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Head 返回前 n 个；n <= 0 时返回全部。
func (l ScoreList) Head(n int) ScoreList {
	if n <= 0 || n >= len(l) {
		return l
	}
	return l[:n]
}

// Map 转成 ID -> 分数。
func (l ScoreList) Map() map[int64]float64 {
	m := make(map[int64]float64, len(l))
	for _, s := range l {
		m[s.ID] = s.Value
	}
	return m
}

// Items 把结果列表包装成 Pipeline 可处理的 Item，并打上来源 Label。
func (l ScoreList) Items(source string) []*Item {
	out := make([]*Item, 0, len(l))
	for _, s := range l {
		it := NewItem(s.ID)
		it.Score = s.Value
		if source != "" {
			it.PutLabel("recall_source", utils.Label{Value: source, Source: "recall"})
		}
		out = append(out, it)
	}
	return out
}

// ScoresOf 从 Item 列表还原 ScoreList（保持原顺序）。
func ScoresOf(items []*Item) ScoreList {
	out := make(ScoreList, 0, len(items))
	for _, it := range items {
		if it == nil {
			continue
		}
		out = append(out, Score{ID: it.ID, Value: it.Score})
	}
	return out
}

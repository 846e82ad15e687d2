package rank

import (
	"math"

	"github.com/rushteam/gamerec/core"
)

// L2Normalize 把一个来源的分数向量缩放到单位 L2 范数；全零或空向量返回空 map。
func L2Normalize(l core.ScoreList) map[int64]float64 {
	var sum float64
	for _, s := range l {
		sum += s.Value * s.Value
	}
	if sum == 0 {
		return map[int64]float64{}
	}
	norm := math.Sqrt(sum)
	out := make(map[int64]float64, len(l))
	for _, s := range l {
		out[s.ID] = s.Value / norm
	}
	return out
}

// Blend 对每个来源独立做 L2 归一化，乘以权重后按游戏 ID 求和，返回降序结果。
// 没有权重的来源不参与；空来源没有贡献。
func Blend(lists map[string]core.ScoreList, weights map[string]float64) core.ScoreList {
	acc := make(map[int64]float64)
	for name, l := range lists {
		w, ok := weights[name]
		if !ok || w == 0 {
			continue
		}
		for id, v := range L2Normalize(l) {
			acc[id] += v * w
		}
	}
	return core.SortScores(acc)
}

package filter

import (
	"sort"
	"time"
)

// RecencyCutoff 返回时间序列在分位点 q 处的取值（向下取最近的样本）。
// 晚于该时间的记录视为“最近”。times 为空或 q 不在 (0,1) 时返回零值。
func RecencyCutoff(times []time.Time, q float64) time.Time {
	if len(times) == 0 || q <= 0 || q >= 1 {
		return time.Time{}
	}
	sorted := make([]time.Time, len(times))
	copy(sorted, times)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })
	return sorted[int(q*float64(len(sorted)-1))]
}

// SplitRecent 按 q 分位把记录分为较早和最近两部分。
// 没有游玩时间的记录（零值）总是归入较早部分。
func SplitRecent[T any](rows []T, q float64, at func(T) time.Time) (older, recent []T) {
	times := make([]time.Time, 0, len(rows))
	for _, r := range rows {
		if t := at(r); !t.IsZero() {
			times = append(times, t)
		}
	}
	cutoff := RecencyCutoff(times, q)
	for _, r := range rows {
		t := at(r)
		if !cutoff.IsZero() && t.After(cutoff) {
			recent = append(recent, r)
			continue
		}
		older = append(older, r)
	}
	return older, recent
}

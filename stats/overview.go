package stats

import (
	"context"
	"math"

	"github.com/rushteam/gamerec/db"
)

// Overview 是用户维度的汇总统计，用于个人主页展示。
// 时长单位为小时；ScoreCounts / ScoreHours 以评分 1..10 为下标（0 不使用）。
type Overview struct {
	TotalGames   int
	PlayedGames  int
	HoursPlayed  float64
	MeanPlaytime float64
	StdPlaytime  float64
	RatedGames   int
	MeanScore    float64
	StdScore     float64
	ScoreCounts  [db.MaxScore + 1]int
	ScoreHours   [db.MaxScore + 1]float64
}

// UserOverview 汇总用户的拥有记录。
func (s *Store) UserOverview(ctx context.Context, userID int64) (*Overview, error) {
	rows, err := s.repo.UserGames(ctx, userID)
	if err != nil {
		return nil, err
	}
	return Summarize(rows), nil
}

// Summarize 由拥有记录计算 Overview。
func Summarize(rows []db.UserGame) *Overview {
	ov := &Overview{TotalGames: len(rows)}
	var hours, scores []float64
	for _, r := range rows {
		h := float64(r.Playtime) / 60
		if r.Playtime > 0 {
			hours = append(hours, h)
		}
		// 绕过 BeforeSave 写入的越界评分不计入
		if r.Score != nil && *r.Score > 0 && *r.Score <= db.MaxScore {
			scores = append(scores, float64(*r.Score))
			ov.ScoreCounts[*r.Score]++
			ov.ScoreHours[*r.Score] += h
		}
	}
	ov.PlayedGames = len(hours)
	ov.RatedGames = len(scores)
	for _, h := range hours {
		ov.HoursPlayed += h
	}
	ov.MeanPlaytime, ov.StdPlaytime = meanStd(hours)
	ov.MeanScore, ov.StdScore = meanStd(scores)
	return ov
}

// meanStd 返回均值与总体标准差；空输入返回 0, 0。
func meanStd(vals []float64) (float64, float64) {
	if len(vals) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	mean := sum / float64(len(vals))
	var sq float64
	for _, v := range vals {
		sq += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(sq / float64(len(vals)))
}

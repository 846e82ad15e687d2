package core

import "github.com/rushteam/gamerec/pkg/utils"

// RecommendContext 承载一次推荐请求的目标，贯穿整个 Pipeline 透传。
// UserID 与 GameID 二选一：用户推荐 / 相似游戏推荐。
type RecommendContext struct {
	UserID int64
	GameID int64

	// Played 是目标用户玩过（playtime > 0）的游戏集合，由服务层在请求开始时填充。
	Played map[int64]struct{}

	// Labels 是请求级标签，可驱动整个 Pipeline 行为
	Labels map[string]utils.Label

	// Params 请求级参数（例如 n）
	Params map[string]any
}

// ForUser 构造用户推荐上下文。
func ForUser(userID int64, played map[int64]struct{}) *RecommendContext {
	return &RecommendContext{UserID: userID, Played: played}
}

// ForGame 构造相似游戏上下文。
func ForGame(gameID int64) *RecommendContext {
	return &RecommendContext{GameID: gameID}
}

// HasPlayed 判断目标用户是否玩过该游戏。
func (rctx *RecommendContext) HasPlayed(gameID int64) bool {
	if rctx == nil || rctx.Played == nil {
		return false
	}
	_, ok := rctx.Played[gameID]
	return ok
}

// PutLabel 写入请求级 Label。
func (rctx *RecommendContext) PutLabel(key string, lbl utils.Label) {
	if rctx.Labels == nil {
		rctx.Labels = make(map[string]utils.Label)
	}
	if old, ok := rctx.Labels[key]; ok {
		rctx.Labels[key] = utils.MergeLabel(old, lbl)
		return
	}
	rctx.Labels[key] = lbl
}

// GetLabel 获取请求级 Label。
func (rctx *RecommendContext) GetLabel(key string) (utils.Label, bool) {
	if rctx.Labels == nil {
		return utils.Label{}, false
	}
	lbl, ok := rctx.Labels[key]
	return lbl, ok
}

package model

// Scorer 是隐因子模型的最小抽象：给 (用户, 游戏) 对输出一个可比较的分数。
// 用户或游戏不在模型中时 ok 为 false。
type Scorer interface {
	Name() string
	Predict(userID, gameID int64) (score float64, ok bool)
}

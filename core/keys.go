package core

// Computation 标识一个受时效闸门管理的全局计算。
// 参数快照（best / last）与最近一次运行时间都以它为 key。
type Computation string

const (
	ComputationNormalizedPlaytime Computation = "normalized_playtime" // 归一化时长表
	ComputationCBRForGame         Computation = "cbr_for_game"        // 游戏内容相似矩阵
	ComputationMBCFForGame        Computation = "mbcf_for_game"       // 游戏时长模式相似矩阵
	ComputationSimilarUsers       Computation = "similar_users"       // 用户相似矩阵
	ComputationMOBCF              Computation = "mobcf"               // 隐因子模型训练
)

// Computations 返回全部全局计算（按依赖顺序）。
func Computations() []Computation {
	return []Computation{
		ComputationNormalizedPlaytime,
		ComputationCBRForGame,
		ComputationMBCFForGame,
		ComputationSimilarUsers,
		ComputationMOBCF,
	}
}

// ArtifactKind 是挂在单个游戏 / 用户上的缓存产物类型。
type ArtifactKind string

const (
	ArtifactCBR          ArtifactKind = "cbr"
	ArtifactMBCF         ArtifactKind = "mbcf"
	ArtifactMOBCF        ArtifactKind = "mobcf"
	ArtifactHR           ArtifactKind = "hr"
	ArtifactSimilarUsers ArtifactKind = "similar_users"
)

// Owner 是缓存产物的归属实体类型。
type Owner string

const (
	OwnerGame Owner = "game"
	OwnerUser Owner = "user"
)

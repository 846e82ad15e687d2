package model

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/goccy/go-json"

	"github.com/rushteam/gamerec/core"
	"github.com/rushteam/gamerec/filter"
)

// Triple 是一条训练样本：用户在游戏上的归一化时长。
type Triple struct {
	UserID     int64
	GameID     int64
	Value      float64
	LastPlayed time.Time
}

// TrainConfig 训练超参数。
type TrainConfig struct {
	Dimensions    int
	EpochsPerPass int
	// Schedule 为逐轮降低的学习率，每个值训练 EpochsPerPass 轮
	Schedule      []float64
	WeightDecay   float64
	SplitQuantile float64
	Seed          int64
}

var ErrBadDimensions = core.NewDomainError(core.ModuleModel, core.ErrorCodeInvalidInput, "model: dimensions must be positive")

// initScale 是隐向量初始化的标准差。
const initScale = 0.1

// MFModel 实现了双线性矩阵分解：预测分数 = 用户隐向量 · 游戏隐向量。
//
// 训练目标：最小化预测值与归一化时长的均方误差（MSE），全量梯度 + Adam + weight decay，
// 学习率按 Schedule 逐轮下降，每轮重新初始化优化器状态。
//
// 训练 / 验证集按 last_played 的分位点切分（时间序切分，不是随机切分），
// 验证集只保留训练集中出现过的用户和游戏。
type MFModel struct {
	Dimensions  int         `json:"dimensions"`
	Users       []int64     `json:"users"`
	Games       []int64     `json:"games"`
	UserFactors [][]float64 `json:"user_factors"`
	GameFactors [][]float64 `json:"game_factors"`
	TrainLoss   float64     `json:"train_loss"`
	ValidLoss   float64     `json:"valid_loss"`
	TrainSize   int         `json:"train_size"`
	ValidSize   int         `json:"valid_size"`

	userIndex map[int64]int
	gameIndex map[int64]int
}

var _ Scorer = (*MFModel)(nil)

func (m *MFModel) Name() string { return "mf" }

// SplitByRecency 按 last_played 的 q 分位把样本切成训练集和验证集。
func SplitByRecency(triples []Triple, q float64) (train, valid []Triple) {
	train, recent := filter.SplitRecent(triples, q, func(t Triple) time.Time { return t.LastPlayed })
	users := make(map[int64]bool)
	games := make(map[int64]bool)
	for _, t := range train {
		users[t.UserID] = true
		games[t.GameID] = true
	}
	for _, t := range recent {
		if users[t.UserID] && games[t.GameID] {
			valid = append(valid, t)
		}
	}
	return train, valid
}

// Train 训练模型。没有训练样本时返回空模型（所有用户都是冷启动）。
func Train(ctx context.Context, triples []Triple, cfg TrainConfig) (*MFModel, error) {
	if cfg.Dimensions <= 0 {
		return nil, ErrBadDimensions
	}
	train, valid := SplitByRecency(triples, cfg.SplitQuantile)

	m := &MFModel{Dimensions: cfg.Dimensions, TrainSize: len(train), ValidSize: len(valid)}
	m.Users, m.Games = distinctIDs(train)
	m.reindex()

	rng := rand.New(rand.NewPCG(uint64(cfg.Seed), uint64(cfg.Seed)^0x9e3779b97f4a7c15))
	m.UserFactors = randomMatrix(rng, len(m.Users), cfg.Dimensions)
	m.GameFactors = randomMatrix(rng, len(m.Games), cfg.Dimensions)

	if len(train) > 0 {
		for _, lr := range cfg.Schedule {
			opt := newAdam(lr, cfg.WeightDecay, m.UserFactors, m.GameFactors)
			for epoch := 0; epoch < cfg.EpochsPerPass; epoch++ {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				gu, gg := m.gradients(train)
				opt.step(m.UserFactors, gu, m.GameFactors, gg)
			}
		}
	}
	m.TrainLoss = m.Loss(train)
	m.ValidLoss = m.Loss(valid)
	return m, nil
}

func distinctIDs(triples []Triple) (users, games []int64) {
	us := make(map[int64]struct{})
	gs := make(map[int64]struct{})
	for _, t := range triples {
		us[t.UserID] = struct{}{}
		gs[t.GameID] = struct{}{}
	}
	return sortedKeys(us), sortedKeys(gs)
}

func sortedKeys(m map[int64]struct{}) []int64 {
	out := make([]int64, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func randomMatrix(rng *rand.Rand, rows, cols int) [][]float64 {
	out := make([][]float64, rows)
	for i := range out {
		out[i] = make([]float64, cols)
		for j := range out[i] {
			out[i][j] = rng.NormFloat64() * initScale
		}
	}
	return out
}

func (m *MFModel) reindex() {
	m.userIndex = make(map[int64]int, len(m.Users))
	for i, id := range m.Users {
		m.userIndex[id] = i
	}
	m.gameIndex = make(map[int64]int, len(m.Games))
	for i, id := range m.Games {
		m.gameIndex[id] = i
	}
}

// gradients 计算 MSE 对两张隐向量表的全量梯度。
func (m *MFModel) gradients(train []Triple) (gu, gg [][]float64) {
	gu = zerosLike(m.UserFactors)
	gg = zerosLike(m.GameFactors)
	scale := 2 / float64(len(train))
	for _, t := range train {
		ui, gi := m.userIndex[t.UserID], m.gameIndex[t.GameID]
		u, g := m.UserFactors[ui], m.GameFactors[gi]
		diff := (dot(u, g) - t.Value) * scale
		for k := range u {
			gu[ui][k] += diff * g[k]
			gg[gi][k] += diff * u[k]
		}
	}
	return gu, gg
}

// Loss 返回模型在样本上的均方误差；只计入模型认识的用户和游戏，空样本为 0。
func (m *MFModel) Loss(triples []Triple) float64 {
	var sum float64
	n := 0
	for _, t := range triples {
		p, ok := m.Predict(t.UserID, t.GameID)
		if !ok {
			continue
		}
		sum += (p - t.Value) * (p - t.Value)
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// HasUser 判断用户是否在训练映射中。
func (m *MFModel) HasUser(userID int64) bool {
	_, ok := m.userIndex[userID]
	return ok
}

func (m *MFModel) Predict(userID, gameID int64) (float64, bool) {
	ui, ok := m.userIndex[userID]
	if !ok {
		return 0, false
	}
	gi, ok := m.gameIndex[gameID]
	if !ok {
		return 0, false
	}
	return dot(m.UserFactors[ui], m.GameFactors[gi]), true
}

// ScoreAll 给用户对模型中的全部游戏打分；用户不在模型中时返回 nil。
func (m *MFModel) ScoreAll(userID int64) map[int64]float64 {
	ui, ok := m.userIndex[userID]
	if !ok {
		return nil
	}
	out := make(map[int64]float64, len(m.Games))
	for gi, id := range m.Games {
		out[id] = dot(m.UserFactors[ui], m.GameFactors[gi])
	}
	return out
}

// Encode 序列化模型（隐向量表 + ID 映射）。
func (m *MFModel) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Decode 反序列化模型并重建 ID 索引。
func Decode(data []byte) (*MFModel, error) {
	if len(data) == 0 {
		return nil, errors.New("model: empty artifact")
	}
	var m MFModel
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if len(m.UserFactors) != len(m.Users) || len(m.GameFactors) != len(m.Games) {
		return nil, errors.New("model: factor tables do not match id mappings")
	}
	m.reindex()
	return &m, nil
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func zerosLike(m [][]float64) [][]float64 {
	out := make([][]float64, len(m))
	for i := range m {
		out[i] = make([]float64, len(m[i]))
	}
	return out
}

// adam 是带 L2 weight decay 的 Adam 优化器状态（两张参数表各一份一阶 / 二阶矩）。
type adam struct {
	lr, decay    float64
	beta1, beta2 float64
	eps          float64
	t            int
	mu, vu       [][]float64
	mg, vg       [][]float64
}

func newAdam(lr, decay float64, users, games [][]float64) *adam {
	return &adam{
		lr: lr, decay: decay,
		beta1: 0.9, beta2: 0.999, eps: 1e-8,
		mu: zerosLike(users), vu: zerosLike(users),
		mg: zerosLike(games), vg: zerosLike(games),
	}
}

func (a *adam) step(users, gu, games, gg [][]float64) {
	a.t++
	c1 := 1 - math.Pow(a.beta1, float64(a.t))
	c2 := 1 - math.Pow(a.beta2, float64(a.t))
	a.update(users, gu, a.mu, a.vu, c1, c2)
	a.update(games, gg, a.mg, a.vg, c1, c2)
}

func (a *adam) update(p, g, m, v [][]float64, c1, c2 float64) {
	for i := range p {
		for k := range p[i] {
			grad := g[i][k] + a.decay*p[i][k]
			m[i][k] = a.beta1*m[i][k] + (1-a.beta1)*grad
			v[i][k] = a.beta2*v[i][k] + (1-a.beta2)*grad*grad
			p[i][k] -= a.lr * (m[i][k] / c1) / (math.Sqrt(v[i][k]/c2) + a.eps)
		}
	}
}

package recall

import (
	"math"
	"sort"
	"strings"
)

const (
	MetricPearson = "pearson"
	MetricCosine  = "cosine"
)

// pearsonCorrelation 计算皮尔逊相关系数；任一向量方差为 0 时返回 0。
func pearsonCorrelation(x, y []float64) float64 {
	if len(x) != len(y) || len(x) == 0 {
		return 0
	}

	var meanX, meanY float64
	for i := range x {
		meanX += x[i]
		meanY += y[i]
	}
	meanX /= float64(len(x))
	meanY /= float64(len(y))

	var cov, varX, varY float64
	for i := range x {
		dx := x[i] - meanX
		dy := y[i] - meanY
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}

	if varX == 0 || varY == 0 {
		return 0
	}
	return clampUnit(cov / math.Sqrt(varX*varY))
}

// cosineSimilarity 计算两个稠密向量的余弦相似度；零向量返回 0。
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return clampUnit(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// similarityFunc 按名称返回相似度函数，未知名称回退到 pearson。
func similarityFunc(metric string) func(a, b []float64) float64 {
	if metric == MetricCosine {
		return cosineSimilarity
	}
	return pearsonCorrelation
}

// SimilarityMatrix 计算行向量两两相似度。只计算上三角再镜像，结果严格对称。
func SimilarityMatrix(rows [][]float64, metric string) [][]float64 {
	sim := similarityFunc(metric)
	n := len(rows)
	m := make([][]float64, n)
	for i := range m {
		m[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		m[i][i] = sim(rows[i], rows[i])
		for j := i + 1; j < n; j++ {
			s := sim(rows[i], rows[j])
			m[i][j], m[j][i] = s, s
		}
	}
	return m
}

// sparseVec 是按下标升序存储的稀疏计数向量。
type sparseVec struct {
	idx  []int
	val  []float64
	norm float64
}

func (v sparseVec) dot(o sparseVec) float64 {
	var s float64
	i, j := 0, 0
	for i < len(v.idx) && j < len(o.idx) {
		switch {
		case v.idx[i] == o.idx[j]:
			s += v.val[i] * o.val[j]
			i++
			j++
		case v.idx[i] < o.idx[j]:
			i++
		default:
			j++
		}
	}
	return s
}

// cosine 计算两个稀疏向量的余弦相似度；零向量返回 0。
func (v sparseVec) cosine(o sparseVec) float64 {
	if v.norm == 0 || o.norm == 0 {
		return 0
	}
	return clampUnit(v.dot(o) / (v.norm * o.norm))
}

// clampUnit 把舍入误差造成的越界值收回 [-1, 1]，相似度不会超过自身的 1.0。
func clampUnit(s float64) float64 {
	return math.Max(-1, math.Min(1, s))
}

// bagOfWords 把空格分隔的特征串向量化为词频向量，词表只来自输入语料。
// 返回的向量与 docs 一一对应。
func bagOfWords(docs []string) []sparseVec {
	vocab := make(map[string]int)
	out := make([]sparseVec, len(docs))
	for i, d := range docs {
		counts := make(map[int]float64)
		for _, tok := range strings.Fields(d) {
			id, ok := vocab[tok]
			if !ok {
				id = len(vocab)
				vocab[tok] = id
			}
			counts[id]++
		}
		v := sparseVec{idx: make([]int, 0, len(counts)), val: make([]float64, 0, len(counts))}
		for id := range counts {
			v.idx = append(v.idx, id)
		}
		sort.Ints(v.idx)
		var sq float64
		for _, id := range v.idx {
			c := counts[id]
			v.val = append(v.val, c)
			sq += c * c
		}
		v.norm = math.Sqrt(sq)
		out[i] = v
	}
	return out
}

package rank

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rushteam/gamerec/cache"
	"github.com/rushteam/gamerec/config"
	"github.com/rushteam/gamerec/core"
	"github.com/rushteam/gamerec/recall"
	"github.com/rushteam/gamerec/store"
)

const eps = 1e-9

func TestL2Normalize(t *testing.T) {
	got := L2Normalize(core.ScoreList{{ID: 1, Value: 3}, {ID: 2, Value: 4}})
	if math.Abs(got[1]-0.6) > eps || math.Abs(got[2]-0.8) > eps {
		t.Errorf("L2Normalize = %v, want {1:0.6, 2:0.8}", got)
	}
	if got := L2Normalize(core.ScoreList{{ID: 1, Value: 0}}); len(got) != 0 {
		t.Errorf("zero vector should normalize to empty, got %v", got)
	}
}

func TestBlend(t *testing.T) {
	tests := []struct {
		name    string
		lists   map[string]core.ScoreList
		weights map[string]float64
		want    []int64
	}{
		{
			name: "overlap accumulates",
			lists: map[string]core.ScoreList{
				"cbr":  {{ID: 1, Value: 0.8}, {ID: 2, Value: 0.5}},
				"mbcf": {{ID: 2, Value: 0.6}, {ID: 3, Value: 0.3}},
			},
			weights: map[string]float64{"cbr": 0.5, "mbcf": 0.5},
			want:    []int64{2, 1, 3},
		},
		{
			name: "missing source contributes nothing",
			lists: map[string]core.ScoreList{
				"cbr":   {{ID: 5, Value: 1}},
				"mobcf": nil,
			},
			weights: map[string]float64{"cbr": 0.4, "mbcf": 0.3, "mobcf": 0.3},
			want:    []int64{5},
		},
		{
			name: "unweighted source ignored",
			lists: map[string]core.ScoreList{
				"cbr":   {{ID: 5, Value: 1}},
				"other": {{ID: 6, Value: 100}},
			},
			weights: map[string]float64{"cbr": 1},
			want:    []int64{5},
		},
		{
			name:    "all empty",
			lists:   map[string]core.ScoreList{},
			weights: map[string]float64{"cbr": 1},
			want:    nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Blend(tt.lists, tt.weights)
			if len(got) != len(tt.want) {
				t.Fatalf("Blend() = %v, want ids %v", got, tt.want)
			}
			for i, id := range tt.want {
				if got[i].ID != id {
					t.Errorf("position %d = %d, want %d", i, got[i].ID, id)
				}
			}
		})
	}
}

func TestBlend_Additive(t *testing.T) {
	got := Blend(map[string]core.ScoreList{
		"cbr":  {{ID: 1, Value: 0.8}, {ID: 2, Value: 0.5}},
		"mbcf": {{ID: 2, Value: 0.6}, {ID: 3, Value: 0.3}},
	}, map[string]float64{"cbr": 0.5, "mbcf": 0.5}).Map()

	n1 := math.Sqrt(0.8*0.8 + 0.5*0.5)
	n2 := math.Sqrt(0.6*0.6 + 0.3*0.3)
	want := map[int64]float64{
		1: 0.5 * 0.8 / n1,
		2: 0.5*0.5/n1 + 0.5*0.6/n2,
		3: 0.5 * 0.3 / n2,
	}
	for id, w := range want {
		if math.Abs(got[id]-w) > eps {
			t.Errorf("score[%d] = %v, want %v", id, got[id], w)
		}
	}
}

func TestHybridNode_Labels(t *testing.T) {
	a := core.ScoreList{{ID: 1, Value: 1}, {ID: 2, Value: 1}}.Items("cbr")
	b := core.ScoreList{{ID: 2, Value: 1}}.Items("mbcf")
	out, err := (&HybridNode{Weights: map[string]float64{"cbr": 1, "mbcf": 1}}).Process(context.Background(), nil, append(a, b...))
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 || out[0].ID != 2 {
		t.Fatalf("out = %v, want game 2 first", core.ScoresOf(out))
	}
	if got := out[0].Labels["rank_hybrid"].Value; got != "cbr+mbcf" {
		t.Errorf("rank_hybrid label = %q, want cbr+mbcf", got)
	}
	if got := out[1].Labels["rank_hybrid"].Value; got != "cbr" {
		t.Errorf("rank_hybrid label = %q, want cbr", got)
	}
}

type fakeSource struct {
	name   string
	scores core.ScoreList
	err    error
	calls  atomic.Int32
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Recall(_ context.Context, _ *core.RecommendContext) ([]*core.Item, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.scores.Items(f.name), nil
}

func newLoader(t *testing.T, now func() time.Time) *cache.Loader {
	mem := store.NewMemoryStore()
	t.Cleanup(func() { mem.Close() })
	return cache.NewLoader(cache.NewKVCache(mem, "test"), now, nil)
}

func TestHybridRanker_ForUser(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	cbr := &fakeSource{name: "cbr", scores: core.ScoreList{{ID: 1, Value: 0.8}, {ID: 2, Value: 0.5}}}
	mbcf := &fakeSource{name: "mbcf", scores: core.ScoreList{{ID: 2, Value: 0.6}, {ID: 3, Value: 0.3}}}
	// 冷启动：没有模型数据，不贡献结果
	mobcf := &fakeSource{name: "mobcf"}

	cfg := config.HybridConfig{
		UserWeights: map[string]float64{"cbr": 0.5, "mbcf": 0.5, "mobcf": 0.3},
		GameWeights: map[string]float64{"cbr": 0.75, "mbcf": 0.25},
		MaxAge:      time.Hour,
	}
	h := NewHybridRanker(newLoader(t, clock), cfg, []recall.Source{cbr, mbcf, mobcf})

	got, err := h.ForUser(ctx, 7)
	if err != nil {
		t.Fatalf("ForUser failed: %v", err)
	}
	if len(got) != 3 || got[0].ID != 2 || got[1].ID != 1 || got[2].ID != 3 {
		t.Errorf("ForUser = %v, want order 2,1,3", got)
	}

	// 缓存有效期内不再访问来源
	if _, err := h.ForUser(ctx, 7); err != nil {
		t.Fatal(err)
	}
	if n := cbr.calls.Load(); n != 1 {
		t.Errorf("cbr called %d times, want 1", n)
	}

	// 过期后重新混合
	now = now.Add(2 * time.Hour)
	if _, err := h.ForUser(ctx, 7); err != nil {
		t.Fatal(err)
	}
	if n := cbr.calls.Load(); n != 2 {
		t.Errorf("cbr called %d times after expiry, want 2", n)
	}

	// 游戏目标不查询 mobcf
	before := mobcf.calls.Load()
	if _, err := h.ForGame(ctx, 1); err != nil {
		t.Fatal(err)
	}
	if mobcf.calls.Load() != before {
		t.Error("mobcf should not be queried for game targets")
	}
}

func TestHybridRanker_FailedSourceKeepsCache(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	cbr := &fakeSource{name: "cbr", scores: core.ScoreList{{ID: 1, Value: 0.8}, {ID: 2, Value: 0.5}}}
	mbcf := &fakeSource{name: "mbcf", scores: core.ScoreList{{ID: 2, Value: 0.6}, {ID: 3, Value: 0.3}}}
	cfg := config.HybridConfig{
		UserWeights: map[string]float64{"cbr": 0.5, "mbcf": 0.5},
		GameWeights: map[string]float64{"cbr": 0.5, "mbcf": 0.5},
		MaxAge:      time.Hour,
	}
	h := NewHybridRanker(newLoader(t, clock), cfg, []recall.Source{cbr, mbcf})

	full, err := h.ForUser(ctx, 7)
	if err != nil {
		t.Fatal(err)
	}
	if len(full) != 3 {
		t.Fatalf("ForUser = %v, want 3 items", full)
	}

	// 过期后 mbcf 出错：返回上一次的完整结果，不写入不完整结果
	now = now.Add(2 * time.Hour)
	mbcf.err = errors.New("model unavailable")
	got, err := h.ForUser(ctx, 7)
	if err != nil {
		t.Fatalf("ForUser with failed source: %v", err)
	}
	if len(got) != 3 || got[0].ID != full[0].ID {
		t.Errorf("ForUser = %v, want previous blend %v", got, full)
	}

	// 来源恢复后重新混合
	mbcf.err = nil
	before := cbr.calls.Load()
	if _, err := h.ForUser(ctx, 7); err != nil {
		t.Fatal(err)
	}
	if cbr.calls.Load() != before+1 {
		t.Error("blend should be recomputed after the source recovers")
	}

	// 没有旧结果时返回不完整结果，但不缓存
	mbcf.err = errors.New("model unavailable")
	got, err = h.ForUser(ctx, 8)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != 1 {
		t.Errorf("degraded ForUser = %v, want cbr-only 1,2", got)
	}
	mbcf.err = nil
	got, err = h.ForUser(ctx, 8)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Errorf("ForUser after recovery = %v, want full blend", got)
	}
}

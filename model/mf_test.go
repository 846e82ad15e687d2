package model

import (
	"context"
	"testing"
	"time"
)

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// blockTriples 两组用户各自偏好一组游戏。
func blockTriples() []Triple {
	var out []Triple
	for u := int64(1); u <= 4; u++ {
		for g := int64(1); g <= 4; g++ {
			v := 0.1
			if (u <= 2) == (g <= 2) {
				v = 1
			}
			out = append(out, Triple{UserID: u, GameID: g, Value: v, LastPlayed: base.Add(time.Duration(u*10+g) * time.Hour)})
		}
	}
	return out
}

func testConfig() TrainConfig {
	return TrainConfig{
		Dimensions:    4,
		EpochsPerPass: 200,
		Schedule:      []float64{0.1, 0.01},
		WeightDecay:   1e-5,
		SplitQuantile: 0,
		Seed:          7,
	}
}

func TestSplitByRecency(t *testing.T) {
	triples := []Triple{
		{UserID: 1, GameID: 1, LastPlayed: base},
		{UserID: 1, GameID: 2, LastPlayed: base.Add(time.Hour)},
		{UserID: 2, GameID: 1, LastPlayed: base.Add(2 * time.Hour)},
		{UserID: 2, GameID: 2, LastPlayed: base.Add(3 * time.Hour)},
		// 用户 3 只出现在最近的部分，不能进入验证集
		{UserID: 3, GameID: 1, LastPlayed: base.Add(4 * time.Hour)},
	}
	train, valid := SplitByRecency(triples, 0.5)
	if len(train) != 3 {
		t.Fatalf("train size = %d, want 3", len(train))
	}
	if len(valid) != 1 || valid[0].UserID != 2 || valid[0].GameID != 2 {
		t.Fatalf("valid = %+v, want only (2,2)", valid)
	}
}

func TestTrain_FitsObservedPreferences(t *testing.T) {
	m, err := Train(context.Background(), blockTriples(), testConfig())
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	if m.TrainLoss > 0.05 {
		t.Errorf("train loss = %v, want < 0.05", m.TrainLoss)
	}
	for _, u := range []int64{1, 2} {
		liked, _ := m.Predict(u, 1)
		other, _ := m.Predict(u, 3)
		if liked <= other {
			t.Errorf("user %d: predict(g1)=%v should exceed predict(g3)=%v", u, liked, other)
		}
	}
}

func TestTrain_LossDecreases(t *testing.T) {
	cfg := testConfig()
	cfg.Schedule = nil
	untrained, err := Train(context.Background(), blockTriples(), cfg)
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	trained, err := Train(context.Background(), blockTriples(), testConfig())
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	if trained.TrainLoss >= untrained.TrainLoss {
		t.Errorf("trained loss %v should be below initial loss %v", trained.TrainLoss, untrained.TrainLoss)
	}
}

func TestTrain_Deterministic(t *testing.T) {
	a, _ := Train(context.Background(), blockTriples(), testConfig())
	b, _ := Train(context.Background(), blockTriples(), testConfig())
	for i := range a.UserFactors {
		for k := range a.UserFactors[i] {
			if a.UserFactors[i][k] != b.UserFactors[i][k] {
				t.Fatalf("factors differ at user row %d dim %d", i, k)
			}
		}
	}
}

func TestTrain_ColdStartAndEmpty(t *testing.T) {
	m, err := Train(context.Background(), nil, testConfig())
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	if m.HasUser(1) || m.ScoreAll(1) != nil {
		t.Error("empty model should not know any user")
	}

	m, _ = Train(context.Background(), blockTriples(), testConfig())
	if _, ok := m.Predict(99, 1); ok {
		t.Error("unknown user should not be scored")
	}
	if got := len(m.ScoreAll(1)); got != 4 {
		t.Errorf("ScoreAll size = %d, want 4", got)
	}
}

func TestTrain_RejectsBadDimensions(t *testing.T) {
	cfg := testConfig()
	cfg.Dimensions = 0
	if _, err := Train(context.Background(), blockTriples(), cfg); err != ErrBadDimensions {
		t.Errorf("err = %v, want ErrBadDimensions", err)
	}
}

func TestEncodeDecode(t *testing.T) {
	m, _ := Train(context.Background(), blockTriples(), testConfig())
	data, err := m.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	want, _ := m.Predict(2, 3)
	p, ok := got.Predict(2, 3)
	if !ok || p != want {
		t.Errorf("decoded predict = %v (%v), want %v", p, ok, want)
	}
	if _, err := Decode(nil); err == nil {
		t.Error("Decode(nil) should fail")
	}
}

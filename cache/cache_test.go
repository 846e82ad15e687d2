package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rushteam/gamerec/core"
	"github.com/rushteam/gamerec/db/dbtest"
	"github.com/rushteam/gamerec/store"
)

func backends(t *testing.T) map[string]Cache {
	mem := store.NewMemoryStore()
	t.Cleanup(func() { mem.Close() })
	return map[string]Cache{
		"sql":    NewSQLCache(dbtest.Open(t)),
		"memory": NewKVCache(mem, "test"),
	}
}

func TestCache_PutGet(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC)
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := c.Get(ctx, UserKey(1, core.ArtifactCBR)); !core.IsNotFound(err) {
				t.Fatalf("Get() on empty cache error = %v, want not found", err)
			}

			err := c.PutMany(ctx, map[Key]*Entry{
				UserKey(1, core.ArtifactCBR): {Scores: core.ScoreList{{ID: 10, Value: 0.9}, {ID: 11, Value: 0.1}}, ParamsHash: "h1", ComputedAt: at},
				GameKey(1, core.ArtifactCBR): {Scores: core.ScoreList{{ID: 2, Value: 0.5}}, ParamsHash: "h2", ComputedAt: at},
			})
			if err != nil {
				t.Fatalf("PutMany: %v", err)
			}

			e, err := c.Get(ctx, UserKey(1, core.ArtifactCBR))
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if len(e.Scores) != 2 || e.Scores[0] != (core.Score{ID: 10, Value: 0.9}) || e.ParamsHash != "h1" || !e.ComputedAt.Equal(at) {
				t.Errorf("user entry = %+v", e)
			}

			// 同 ID 不同 owner 互不干扰
			e, err = c.Get(ctx, GameKey(1, core.ArtifactCBR))
			if err != nil || len(e.Scores) != 1 || e.Scores[0].ID != 2 {
				t.Errorf("game entry = %+v, %v", e, err)
			}

			if err := c.Put(ctx, UserKey(1, core.ArtifactCBR), &Entry{Scores: core.ScoreList{}, ParamsHash: "h3", ComputedAt: at}); err != nil {
				t.Fatal(err)
			}
			e, _ = c.Get(ctx, UserKey(1, core.ArtifactCBR))
			if len(e.Scores) != 0 || e.ParamsHash != "h3" {
				t.Errorf("overwrite failed: %+v", e)
			}
		})
	}
}

func TestCache_GetMany(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC)
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			err := c.PutMany(ctx, map[Key]*Entry{
				GameKey(1, core.ArtifactCBR): {Scores: core.ScoreList{{ID: 2, Value: 0.5}}, ParamsHash: "g", ComputedAt: at},
				GameKey(2, core.ArtifactCBR): {Scores: core.ScoreList{{ID: 1, Value: 0.5}}, ParamsHash: "g", ComputedAt: at},
				GameKey(1, core.ArtifactMBCF): {Scores: core.ScoreList{{ID: 3, Value: 0.2}}, ParamsHash: "g", ComputedAt: at},
				UserKey(1, core.ArtifactCBR): {Scores: core.ScoreList{{ID: 4, Value: 0.1}}, ParamsHash: "u", ComputedAt: at},
			})
			if err != nil {
				t.Fatal(err)
			}

			got, err := c.GetMany(ctx, []Key{
				GameKey(1, core.ArtifactCBR),
				GameKey(2, core.ArtifactCBR),
				GameKey(3, core.ArtifactCBR),
				UserKey(1, core.ArtifactCBR),
			})
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != 3 {
				t.Fatalf("GetMany returned %d entries, want 3: %v", len(got), got)
			}
			if e := got[GameKey(1, core.ArtifactCBR)]; e == nil || e.Scores[0].ID != 2 {
				t.Errorf("game 1 cbr = %+v", e)
			}
			if e := got[UserKey(1, core.ArtifactCBR)]; e == nil || e.ParamsHash != "u" {
				t.Errorf("user 1 cbr = %+v", e)
			}
			if _, ok := got[GameKey(3, core.ArtifactCBR)]; ok {
				t.Error("missing key should be absent")
			}
		})
	}
}

func TestPolicy_Fresh(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p := Policy{MaxAge: time.Hour, ParamsHash: "a"}
	e := &Entry{ParamsHash: "a", ComputedAt: at}
	tests := []struct {
		name  string
		entry *Entry
		now   time.Time
		want  bool
	}{
		{"nil entry", nil, at, false},
		{"within window", e, at.Add(time.Hour), true},
		{"expired", e, at.Add(time.Hour + time.Nanosecond), false},
		{"params changed", &Entry{ParamsHash: "b", ComputedAt: at}, at, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Fresh(tt.entry, tt.now); got != tt.want {
				t.Errorf("Fresh() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLoader_Load(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewLoader(NewSQLCache(dbtest.Open(t)), func() time.Time { return now }, nil)
	key := UserKey(7, core.ArtifactHR)
	policy := Policy{MaxAge: 24 * time.Hour, ParamsHash: "p"}

	var calls int
	compute := func(context.Context) (core.ScoreList, error) {
		calls++
		return core.ScoreList{{ID: 1, Value: float64(calls)}}, nil
	}

	first, err := l.Load(ctx, key, policy, compute)
	if err != nil {
		t.Fatal(err)
	}
	second, _ := l.Load(ctx, key, policy, compute)
	if calls != 1 || first[0] != second[0] {
		t.Errorf("within window: calls=%d first=%v second=%v", calls, first, second)
	}

	now = now.Add(25 * time.Hour)
	third, _ := l.Load(ctx, key, policy, compute)
	if calls != 2 || third[0].Value != 2 {
		t.Errorf("after expiry: calls=%d result=%v", calls, third)
	}

	policy.ParamsHash = "q"
	l.Load(ctx, key, policy, compute)
	if calls != 3 {
		t.Errorf("params change should recompute, calls=%d", calls)
	}

	// 失败不覆盖旧值
	policy.ParamsHash = "r"
	if _, err := l.Load(ctx, key, policy, func(context.Context) (core.ScoreList, error) {
		return nil, errors.New("boom")
	}); err == nil {
		t.Error("expected compute error")
	}
	e, _ := l.Peek(ctx, key)
	if e == nil || e.ParamsHash != "q" {
		t.Errorf("previous entry lost: %+v", e)
	}
}

func TestLoader_SingleFlight(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	defer mem.Close()
	l := NewLoader(NewKVCache(mem, ""), nil, nil)
	var calls atomic.Int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Load(ctx, UserKey(1, core.ArtifactMOBCF), Policy{MaxAge: time.Hour}, func(context.Context) (core.ScoreList, error) {
				calls.Add(1)
				<-release
				return core.ScoreList{{ID: 1, Value: 1}}, nil
			})
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	if n := calls.Load(); n != 1 {
		t.Errorf("compute ran %d times, want 1", n)
	}
}

package recall

import (
	"context"
	"testing"
	"time"

	"github.com/rushteam/gamerec/cache"
	"github.com/rushteam/gamerec/core"
	"github.com/rushteam/gamerec/db/dbtest"
	"github.com/rushteam/gamerec/params"
)

func TestCurrentRows(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, dbtest.Seed{})
	c := cache.NewSQLCache(env.repo.DB())
	comp := core.ComputationCBRForGame
	key := func(id int64) cache.Key { return cache.GameKey(id, core.ArtifactCBR) }

	commit := func(current params.Values, rows map[int64]core.ScoreList) {
		t.Helper()
		blob, err := storeGeneration(ctx, c, env.now, current, rows, key)
		if err != nil {
			t.Fatal(err)
		}
		if err := env.gate.Commit(ctx, comp, current, blob); err != nil {
			t.Fatal(err)
		}
	}

	if got, err := currentRows(ctx, env.gate, c, comp, []cache.Key{key(1)}); err != nil || len(got) != 0 {
		t.Fatalf("before any rebuild: %v, %v", got, err)
	}

	commit(params.Values{"floor": 0.5}, map[int64]core.ScoreList{
		1: {{ID: 1, Value: 1}, {ID: 9, Value: 0.4}},
		9: {{ID: 9, Value: 1}, {ID: 1, Value: 0.4}},
	})
	env.now = env.now.Add(time.Second)
	commit(params.Values{"floor": 0.6}, map[int64]core.ScoreList{
		1: {{ID: 1, Value: 1}, {ID: 2, Value: 0.7}},
		2: {{ID: 2, Value: 1}, {ID: 1, Value: 0.7}},
	})

	got, err := currentRows(ctx, env.gate, c, comp, []cache.Key{key(1), key(2), key(9), key(404)})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[1][1].ID != 2 || got[2][1].ID != 1 {
		t.Errorf("currentRows = %v, want rows of games 1 and 2 from the latest rebuild", got)
	}
	if _, ok := got[9]; ok {
		t.Error("row left over from the previous rebuild should be ignored")
	}

	row, err := currentRow(ctx, env.gate, c, comp, key(9))
	if err != nil || row != nil {
		t.Errorf("currentRow(9) = %v, %v; want nil", row, err)
	}
}

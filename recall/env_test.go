package recall

import (
	"testing"
	"time"

	"github.com/rushteam/gamerec/cache"
	"github.com/rushteam/gamerec/config"
	"github.com/rushteam/gamerec/core"
	"github.com/rushteam/gamerec/db"
	"github.com/rushteam/gamerec/db/dbtest"
	"github.com/rushteam/gamerec/normalize"
	"github.com/rushteam/gamerec/params"
	"github.com/rushteam/gamerec/stats"
)

// testEnv 把各引擎依赖的组件接到同一个内存库上。
type testEnv struct {
	now    time.Time
	repo   *db.Repo
	stats  *stats.Store
	gate   *params.Gate
	norm   *normalize.Engine
	loader *cache.Loader
}

func newTestEnv(t *testing.T, seed dbtest.Seed) *testEnv {
	t.Helper()
	gdb := dbtest.Open(t)
	env := &testEnv{now: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}
	dbtest.Apply(t, gdb, env.now, seed)

	clock := func() time.Time { return env.now }
	env.repo = db.NewRepo(gdb)
	env.stats = stats.New(env.repo, stats.WithClock(clock))
	env.gate = params.NewGate(gdb, params.WithClock(clock))
	env.norm = normalize.New(env.repo, env.stats, env.gate, config.NormalizeConfig{
		MinPlayerCount: 1,
		Method:         normalize.MethodL2,
		MaxAge:         7 * 24 * time.Hour,
	}, nil)
	env.loader = cache.NewLoader(cache.NewSQLCache(gdb), clock, nil)
	return env
}

func idsOf(l core.ScoreList) []int64 {
	out := make([]int64, 0, len(l))
	for _, s := range l {
		out = append(out, s.ID)
	}
	return out
}

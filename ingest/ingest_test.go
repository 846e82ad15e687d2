package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rushteam/gamerec/config"
	"github.com/rushteam/gamerec/core"
	"github.com/rushteam/gamerec/db"
	"github.com/rushteam/gamerec/db/dbtest"
)

type fakeCatalog struct {
	mu      sync.Mutex
	details map[int64]*core.GameDetails
	owned   map[int64][]core.OwnedGame
	failing map[int64]bool
	calls   map[int64]int
}

func (c *fakeCatalog) FetchGameDetails(_ context.Context, id int64) (*core.GameDetails, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == nil {
		c.calls = make(map[int64]int)
	}
	c.calls[id]++
	if c.failing[id] {
		return nil, errors.New("catalog timeout")
	}
	return c.details[id], nil
}

func (c *fakeCatalog) FetchOwnedGames(_ context.Context, userID int64) ([]core.OwnedGame, error) {
	return c.owned[userID], nil
}

func (c *fakeCatalog) callsFor(id int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[id]
}

func TestCanonicalDeveloper(t *testing.T) {
	aliases := config.DefaultDeveloperAliases()
	tests := []struct {
		in, want string
	}{
		{"FromSoftware, Inc.", "FromSoftware"},
		{"Feral Interactive (Mac)", "Feral Interactive"},
		{"Some Studio (Linux)", "Some Studio"},
		{"  Indie   Dev ", "Indie Dev"},
		{"Re-Logic", "Re-Logic"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := CanonicalDeveloper(tt.in, aliases); got != tt.want {
				t.Errorf("CanonicalDeveloper(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseReleaseDate(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"21 Aug, 2012", "2012-08-21"},
		{"Aug 21, 2012", "2012-08-21"},
		{"2012", "2012-01-01"},
		{"Coming soon", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := ParseReleaseDate(tt.in)
			if tt.want == "" {
				if got != nil {
					t.Errorf("ParseReleaseDate(%q) = %v, want nil", tt.in, got)
				}
				return
			}
			if got == nil || got.Format("2006-01-02") != tt.want {
				t.Errorf("ParseReleaseDate(%q) = %v, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func newIngester(t *testing.T, cat *fakeCatalog, now *time.Time) (*Ingester, *db.Repo) {
	gdb := dbtest.Open(t)
	repo := db.NewRepo(gdb)
	cfg := config.Default().Ingest
	cfg.NotGameIDs = []int64{999}
	return New(repo, cat, cfg, WithClock(func() time.Time { return *now })), repo
}

func TestRefreshGame(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	cat := &fakeCatalog{details: map[int64]*core.GameDetails{
		10: {
			Name:        "Elden Ring",
			ReleaseDate: "not a date",
			Developers:  []string{"FromSoftware, Inc.", "FromSoftware Inc."},
			Genres:      []string{"RPG"},
			Tags:        []string{"Souls-like", "Open World"},
		},
	}}
	ing, repo := newIngester(t, cat, &now)

	ok, err := ing.RefreshGame(ctx, 10)
	if err != nil || !ok {
		t.Fatalf("RefreshGame() = %v, %v", ok, err)
	}
	g, _ := repo.Game(ctx, 10)
	if g == nil || g.Name != "Elden Ring" || g.ReleaseDate != nil {
		t.Fatalf("stored game = %+v", g)
	}
	names, _ := repo.FeatureNames(ctx, []int64{10})
	if len(names[10]) != 4 || names[10][0] != "FromSoftware" {
		t.Errorf("feature names = %v, want one canonical developer then genre and tags", names[10])
	}

	// 刷新窗口内不再访问目录
	if ok, _ := ing.RefreshGame(ctx, 10); ok || cat.callsFor(10) != 1 {
		t.Errorf("fresh game refetched: ok=%v calls=%d", ok, cat.callsFor(10))
	}
	now = now.Add(31 * 24 * time.Hour)
	if ok, _ := ing.RefreshGame(ctx, 10); !ok || cat.callsFor(10) != 2 {
		t.Errorf("stale game not refetched: ok=%v calls=%d", ok, cat.callsFor(10))
	}

	// 非游戏 ID 不访问目录；目录没有数据时跳过
	if ok, err := ing.RefreshGame(ctx, 999); ok || err != nil || cat.callsFor(999) != 0 {
		t.Errorf("not-game id: ok=%v err=%v calls=%d", ok, err, cat.callsFor(999))
	}
	if ok, err := ing.RefreshGame(ctx, 11); ok || err != nil {
		t.Errorf("missing details: ok=%v err=%v", ok, err)
	}
}

func TestRefreshUser(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	cat := &fakeCatalog{
		details: map[int64]*core.GameDetails{
			1: {Name: "A", Genres: []string{"RPG"}},
			2: {Name: "B", Genres: []string{"Puzzle"}},
		},
		owned: map[int64][]core.OwnedGame{
			7: {
				{CatalogID: 1, PlaytimeMinutes: 120, LastPlayed: now.Add(-time.Hour)},
				{CatalogID: 2, PlaytimeMinutes: 0},
				{CatalogID: 3, PlaytimeMinutes: 30}, // 目录超时
				{CatalogID: 999, PlaytimeMinutes: 5},
			},
		},
		failing: map[int64]bool{3: true},
	}
	ing, repo := newIngester(t, cat, &now)

	if err := ing.RefreshUser(ctx, 7); err != nil {
		t.Fatalf("RefreshUser failed: %v", err)
	}
	rows, err := repo.UserGames(ctx, 7)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[0].GameID != 1 || rows[1].GameID != 2 {
		t.Fatalf("ownership rows = %+v, want games 1 and 2", rows)
	}
	if rows[0].Playtime != 120 || rows[0].LastPlayed == nil || rows[1].LastPlayed != nil {
		t.Errorf("ownership rows = %+v", rows)
	}

	// 评分保留，时长更新
	if err := ing.SetScore(ctx, 7, 1, 8); err != nil {
		t.Fatal(err)
	}
	cat.owned[7][0].PlaytimeMinutes = 300
	if err := ing.RefreshUser(ctx, 7); err != nil {
		t.Fatal(err)
	}
	rows, _ = repo.UserGames(ctx, 7)
	if rows[0].Playtime != 300 || rows[0].Score == nil || *rows[0].Score != 8 {
		t.Errorf("after refresh row = %+v", rows[0])
	}
}

func TestSetScore(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	cat := &fakeCatalog{
		details: map[int64]*core.GameDetails{1: {Name: "A"}},
		owned:   map[int64][]core.OwnedGame{7: {{CatalogID: 1, PlaytimeMinutes: 10}}},
	}
	ing, repo := newIngester(t, cat, &now)
	if err := ing.RefreshUser(ctx, 7); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		game  int64
		score int
		check func(error) bool
	}{
		{"valid", 1, 10, func(err error) bool { return err == nil }},
		{"clear", 1, 0, func(err error) bool { return err == nil }},
		{"too high", 1, 11, core.IsInvalidInput},
		{"negative", 1, -1, core.IsInvalidInput},
		{"not owned", 2, 5, core.IsNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ing.SetScore(ctx, 7, tt.game, tt.score); !tt.check(err) {
				t.Errorf("SetScore(%d) error = %v", tt.score, err)
			}
		})
	}
	rows, _ := repo.UserGames(ctx, 7)
	if rows[0].Score != nil {
		t.Errorf("score should be cleared, got %d", *rows[0].Score)
	}
}

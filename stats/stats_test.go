package stats

import (
	"context"
	"testing"
	"time"

	"github.com/rushteam/gamerec/db"
	"github.com/rushteam/gamerec/db/dbtest"
)

func TestCompute(t *testing.T) {
	tests := []struct {
		name       string
		playtimes  []int
		scores     []int
		wantCount  int
		wantMean   float64
		wantMedian float64
		wantMin    float64
		wantMax    float64
		wantRating float64
	}{
		{
			name:       "no players",
			wantCount:  0,
			wantRating: 0,
		},
		{
			name:       "two players",
			playtimes:  []int{120, 300},
			wantCount:  2,
			wantMean:   210,
			wantMedian: 210,
			wantMin:    120,
			wantMax:    300,
		},
		{
			name:       "odd count median",
			playtimes:  []int{50, 10, 30},
			wantCount:  3,
			wantMean:   30,
			wantMedian: 30,
			wantMin:    10,
			wantMax:    50,
		},
		{
			name:       "two ratings are not enough",
			playtimes:  []int{1},
			scores:     []int{10, 8},
			wantCount:  1,
			wantMean:   1,
			wantMedian: 1,
			wantMin:    1,
			wantMax:    1,
			wantRating: 0,
		},
		{
			name:       "three ratings",
			playtimes:  []int{1},
			scores:     []int{9, 8, 7},
			wantCount:  1,
			wantMean:   1,
			wantMedian: 1,
			wantMin:    1,
			wantMax:    1,
			wantRating: 8,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := Compute(1, nil, tt.playtimes, tt.scores)
			if st.PlayerCount != tt.wantCount {
				t.Errorf("PlayerCount = %d, want %d", st.PlayerCount, tt.wantCount)
			}
			if st.MeanPlaytime != tt.wantMean || st.MedianPlaytime != tt.wantMedian {
				t.Errorf("mean/median = %v/%v, want %v/%v", st.MeanPlaytime, st.MedianPlaytime, tt.wantMean, tt.wantMedian)
			}
			if st.MinPlaytime != tt.wantMin || st.MaxPlaytime != tt.wantMax {
				t.Errorf("min/max = %v/%v, want %v/%v", st.MinPlaytime, st.MaxPlaytime, tt.wantMin, tt.wantMax)
			}
			if st.Rating != tt.wantRating {
				t.Errorf("Rating = %v, want %v", st.Rating, tt.wantRating)
			}
		})
	}
}

func TestFeatures(t *testing.T) {
	got := Features([]string{"FromSoftware", "Action RPG", "  Souls-like ", "Dark Fantasy", ""})
	want := "FromSoftware ActionRPG Souls-like DarkFantasy"
	if got != want {
		t.Errorf("Features() = %q, want %q", got, want)
	}
}

func TestStore_GetRecomputesWhenStale(t *testing.T) {
	ctx := context.Background()
	gdb := dbtest.Open(t)
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	dbtest.Apply(t, gdb, now, dbtest.Seed{
		Games: []db.Game{dbtest.Game(7, []string{"Valve Corporation"}, []string{"Action"}, []string{"FPS"})},
		Plays: []dbtest.Play{
			{User: 1, Game: 7, Playtime: 120},
			{User: 2, Game: 7, Playtime: 0},
			{User: 3, Game: 7, Playtime: 300},
		},
	})

	clock := now
	s := New(db.NewRepo(gdb), WithClock(func() time.Time { return clock }))

	st, err := s.Get(ctx, 7)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if st.PlayerCount != 2 || st.MeanPlaytime != 210 || st.MedianPlaytime != 210 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	if st.Features != "ValveCorporation Action FPS" {
		t.Errorf("Features = %q", st.Features)
	}

	var g db.Game
	gdb.First(&g, 7)
	if g.Features != st.Features {
		t.Errorf("Game.Features = %q, want %q", g.Features, st.Features)
	}

	// 窗口内新增数据不会触发重算
	gdb.Create(&db.UserGame{UserID: 4, GameID: 7, Playtime: 60})
	clock = now.Add(DefaultMaxAge)
	st, _ = s.Get(ctx, 7)
	if st.PlayerCount != 2 {
		t.Errorf("PlayerCount = %d within window, want cached 2", st.PlayerCount)
	}

	clock = now.Add(DefaultMaxAge + time.Minute)
	st, _ = s.Get(ctx, 7)
	if st.PlayerCount != 3 {
		t.Errorf("PlayerCount = %d after expiry, want 3", st.PlayerCount)
	}
}

func TestStore_GetUnknownGameCreatesRow(t *testing.T) {
	gdb := dbtest.Open(t)
	s := New(db.NewRepo(gdb))
	st, err := s.Get(context.Background(), 404)
	if err != nil {
		t.Fatal(err)
	}
	if st == nil || st.PlayerCount != 0 || st.Rating != 0 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	var n int64
	gdb.Model(&db.GameStats{}).Where("game_id = ?", 404).Count(&n)
	if n != 1 {
		t.Errorf("stats rows = %d, want 1", n)
	}
}

func TestSummarize(t *testing.T) {
	score := func(v int) *int { return &v }
	ov := Summarize([]db.UserGame{
		{GameID: 1, Playtime: 120, Score: score(8)},
		{GameID: 2, Playtime: 60, Score: score(6)},
		{GameID: 3, Playtime: 0},
	})
	if ov.TotalGames != 3 || ov.PlayedGames != 2 || ov.RatedGames != 2 {
		t.Fatalf("counts: %+v", ov)
	}
	if ov.HoursPlayed != 3 || ov.MeanPlaytime != 1.5 || ov.StdPlaytime != 0.5 {
		t.Errorf("hours: total=%v mean=%v std=%v", ov.HoursPlayed, ov.MeanPlaytime, ov.StdPlaytime)
	}
	if ov.MeanScore != 7 || ov.StdScore != 1 {
		t.Errorf("score mean=%v std=%v", ov.MeanScore, ov.StdScore)
	}
	if ov.ScoreCounts[8] != 1 || ov.ScoreHours[8] != 2 {
		t.Errorf("score 8 bucket: %d / %v", ov.ScoreCounts[8], ov.ScoreHours[8])
	}
}

func TestSummarize_SkipsOutOfRangeScores(t *testing.T) {
	score := func(v int) *int { return &v }
	ov := Summarize([]db.UserGame{
		{GameID: 1, Playtime: 60, Score: score(11)},
		{GameID: 2, Playtime: 60, Score: score(-3)},
		{GameID: 3, Playtime: 60, Score: score(10)},
	})
	if ov.PlayedGames != 3 || ov.RatedGames != 1 {
		t.Fatalf("counts: %+v", ov)
	}
	if ov.MeanScore != 10 || ov.ScoreCounts[10] != 1 {
		t.Errorf("score mean=%v bucket10=%d", ov.MeanScore, ov.ScoreCounts[10])
	}
}

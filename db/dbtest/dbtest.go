// Package dbtest 提供测试用的内存 sqlite 数据库与造数工具。
package dbtest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/rushteam/gamerec/db"
)

// Open 返回一个已迁移、仅当前测试可见的内存 sqlite 库。
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("Failed to get sql.DB: %v", err)
	}
	// :memory: 库只对单个连接可见
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	return gdb
}

// Seed 是一份声明式测试数据。
type Seed struct {
	Games []db.Game
	Plays []Play
}

// Play 描述一条拥有记录；Score 为 0 表示未评分，DaysAgo 为 0 表示没有 last_played。
type Play struct {
	User, Game int64
	Playtime   int
	Score      int
	DaysAgo    int
}

// Apply 写入测试数据，now 作为 last_played 的参考时间。
func Apply(t testing.TB, gdb *gorm.DB, now time.Time, s Seed) {
	t.Helper()
	ctx := context.Background()
	repo := db.NewRepo(gdb)
	for i := range s.Games {
		if err := repo.UpsertGame(ctx, &s.Games[i]); err != nil {
			t.Fatalf("seed game %d: %v", s.Games[i].ID, err)
		}
	}
	users := make(map[int64]bool)
	rows := make([]db.UserGame, 0, len(s.Plays))
	for _, p := range s.Plays {
		if !users[p.User] {
			users[p.User] = true
			if err := repo.UpsertUser(ctx, p.User, now); err != nil {
				t.Fatalf("seed user %d: %v", p.User, err)
			}
		}
		ug := db.UserGame{UserID: p.User, GameID: p.Game, Playtime: p.Playtime}
		if p.Score > 0 {
			score := p.Score
			ug.Score = &score
		}
		if p.DaysAgo > 0 {
			lp := now.Add(-time.Duration(p.DaysAgo) * 24 * time.Hour)
			ug.LastPlayed = &lp
		}
		rows = append(rows, ug)
	}
	if len(rows) > 0 {
		if err := gdb.Create(&rows).Error; err != nil {
			t.Fatalf("seed plays: %v", err)
		}
	}
}

// Game 构造带元数据的游戏。
func Game(id int64, devs, genres, tags []string) db.Game {
	g := db.Game{ID: id, Name: fmt.Sprintf("game-%d", id)}
	for _, n := range devs {
		g.Developers = append(g.Developers, db.Developer{Name: n})
	}
	for _, n := range genres {
		g.Genres = append(g.Genres, db.Genre{Name: n})
	}
	for _, n := range tags {
		g.Tags = append(g.Tags, db.Tag{Name: n})
	}
	return g
}

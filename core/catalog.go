package core

import (
	"context"
	"time"
)

// GameDetails 是外部游戏目录返回的元数据。
// ReleaseDate 保持目录原始字符串，解析失败时由导入方置空。
type GameDetails struct {
	Name        string
	Description string
	ReleaseDate string
	Developers  []string
	Genres      []string
	Tags        []string
	Rating      float64
}

// OwnedGame 是用户在目录中拥有的一款游戏。
// LastPlayed 为零值表示从未游玩或目录未提供。
type OwnedGame struct {
	CatalogID       int64
	PlaytimeMinutes int
	LastPlayed      time.Time
}

// CatalogClient 是外部游戏目录服务的领域接口，由调用方实现。
//
// FetchGameDetails 返回 (nil, nil) 表示游戏不存在或已下架，导入方跳过该 ID。
type CatalogClient interface {
	FetchGameDetails(ctx context.Context, catalogID int64) (*GameDetails, error)
	FetchOwnedGames(ctx context.Context, userID int64) ([]OwnedGame, error)
}

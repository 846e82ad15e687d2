package db

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/rushteam/gamerec/core"
)

// MaxScore 是用户评分上限，评分域为 [0, MaxScore]。
const MaxScore = 10

// ErrScoreOutOfRange 表示评分超出 [0,10]。
var ErrScoreOutOfRange = core.NewDomainError(core.ModuleIngest, core.ErrorCodeInvalidInput, "score must be within [0,10]")

// Game 是目录中的游戏，主键为外部目录 ID。
type Game struct {
	ID               int64  `gorm:"primaryKey;autoIncrement:false"`
	Name             string `gorm:"size:255"`
	Description      string
	ReleaseDate      *time.Time
	Rating           float64 // 用户平均评分，由 GameStats 同步
	Features         string
	Developers       []Developer `gorm:"many2many:game_developers;"`
	Genres           []Genre     `gorm:"many2many:game_genres;"`
	Tags             []Tag       `gorm:"many2many:game_tags;"`
	CatalogUpdatedAt *time.Time
	CreatedAt        time.Time
}

type Developer struct {
	ID   uint   `gorm:"primaryKey"`
	Name string `gorm:"uniqueIndex;size:255;not null"`
}

type Genre struct {
	ID   uint   `gorm:"primaryKey"`
	Name string `gorm:"uniqueIndex;size:255;not null"`
}

type Tag struct {
	ID   uint   `gorm:"primaryKey"`
	Name string `gorm:"uniqueIndex;size:255;not null"`
}

type User struct {
	ID                  int64  `gorm:"primaryKey;autoIncrement:false"`
	Name                string `gorm:"size:255"`
	OwnedGamesUpdatedAt *time.Time
	CreatedAt           time.Time
}

// UserGame 是拥有记录。Playtime 单位为分钟，0 表示拥有但未玩过。
type UserGame struct {
	UserID     int64 `gorm:"primaryKey;autoIncrement:false"`
	GameID     int64 `gorm:"primaryKey;autoIncrement:false;index"`
	Playtime   int   `gorm:"not null;default:0"`
	LastPlayed *time.Time
	Score      *int
}

// BeforeSave 拒绝超出评分域的评分。
func (ug *UserGame) BeforeSave(*gorm.DB) error {
	if ug.Score != nil && (*ug.Score < 0 || *ug.Score > MaxScore) {
		return ErrScoreOutOfRange
	}
	return nil
}

// GameStats 是游戏的派生统计行，与 Game 一一对应。
type GameStats struct {
	GameID         int64 `gorm:"primaryKey;autoIncrement:false"`
	PlayerCount    int
	Features       string
	TotalPlaytime  float64
	MeanPlaytime   float64
	MedianPlaytime float64
	MaxPlaytime    float64
	MinPlaytime    float64
	Rating         float64
	LastUpdateTime time.Time
}

// Parameters 保存一个计算的 best 与 last 参数快照。
type Parameters struct {
	Name string `gorm:"primaryKey;size:64"`
	Best datatypes.JSON
	Last datatypes.JSON
}

// System 是一个计算的运行记录：上次成功运行时间和可选的物化结果。
type System struct {
	Key      string `gorm:"primaryKey;size:64"`
	DateTime *time.Time
	JSON     []byte `gorm:"column:json"`
}

// TableName 使用单数表名。
func (System) TableName() string { return "system" }

// GameArtifact 是挂在游戏上的缓存评分列表（cbr / mbcf / hr）。
type GameArtifact struct {
	GameID     int64  `gorm:"primaryKey;autoIncrement:false"`
	Kind       string `gorm:"primaryKey;size:32"`
	Scores     datatypes.JSONType[core.ScoreList]
	ParamsHash string `gorm:"size:64"`
	ComputedAt time.Time
}

// UserArtifact 是挂在用户上的缓存评分列表（cbr / mbcf / mobcf / hr / similar_users）。
type UserArtifact struct {
	UserID     int64  `gorm:"primaryKey;autoIncrement:false"`
	Kind       string `gorm:"primaryKey;size:32"`
	Scores     datatypes.JSONType[core.ScoreList]
	ParamsHash string `gorm:"size:64"`
	ComputedAt time.Time
}

// Models 返回需要迁移的全部表。
func Models() []any {
	return []any{
		&Game{}, &Developer{}, &Genre{}, &Tag{},
		&User{}, &UserGame{}, &GameStats{},
		&Parameters{}, &System{},
		&GameArtifact{}, &UserArtifact{},
	}
}

// Package ingest 把外部游戏目录的数据写入业务库：游戏元数据、用户拥有列表和评分。
package ingest

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/rushteam/gamerec/config"
	"github.com/rushteam/gamerec/core"
	"github.com/rushteam/gamerec/db"
)

// catalogConcurrency 限制一次用户刷新中并发的目录请求数。
const catalogConcurrency = 4

var (
	// ErrCatalogUnavailable 包装目录调用失败。
	ErrCatalogUnavailable = core.NewDomainError(core.ModuleCatalog, core.ErrorCodeUnavailable, "catalog unavailable")
	// ErrOwnershipNotFound 表示给未拥有的游戏评分。
	ErrOwnershipNotFound = core.NewDomainError(core.ModuleIngest, core.ErrorCodeNotFound, "user does not own game")
)

// Ingester 负责目录数据导入。
type Ingester struct {
	repo    *db.Repo
	catalog core.CatalogClient
	cfg     config.IngestConfig
	notGame map[int64]bool
	now     func() time.Time
	logger  *zap.Logger
}

type Option func(*Ingester)

func WithClock(now func() time.Time) Option { return func(i *Ingester) { i.now = now } }

func WithLogger(l *zap.Logger) Option {
	return func(i *Ingester) {
		if l != nil {
			i.logger = l
		}
	}
}

func New(repo *db.Repo, catalog core.CatalogClient, cfg config.IngestConfig, opts ...Option) *Ingester {
	i := &Ingester{
		repo:    repo,
		catalog: catalog,
		cfg:     cfg,
		notGame: make(map[int64]bool, len(cfg.NotGameIDs)),
		now:     time.Now,
		logger:  zap.NewNop(),
	}
	for _, id := range cfg.NotGameIDs {
		i.notGame[id] = true
	}
	for _, opt := range opts {
		opt(i)
	}
	i.logger = i.logger.With(zap.String("component", "ingest"))
	return i
}

// IsGame 判断目录 ID 是否可能是游戏（不在非游戏列表中）。
func (i *Ingester) IsGame(catalogID int64) bool { return !i.notGame[catalogID] }

// RefreshGame 在游戏不存在或元数据超过刷新窗口时从目录拉取并写入。
// 目录返回空（不存在 / 已下架）时跳过，返回 false。
func (i *Ingester) RefreshGame(ctx context.Context, catalogID int64) (bool, error) {
	g, err := i.fetch(ctx, catalogID)
	if err != nil || g == nil {
		return false, err
	}
	return true, i.store(ctx, g)
}

// fetch 返回需要写入的游戏；不需要刷新或目录没有数据时返回 nil。
func (i *Ingester) fetch(ctx context.Context, catalogID int64) (*db.Game, error) {
	if !i.IsGame(catalogID) {
		return nil, nil
	}
	existing, err := i.repo.Game(ctx, catalogID)
	if err != nil {
		return nil, err
	}
	now := i.now()
	if existing != nil && existing.CatalogUpdatedAt != nil && now.Sub(*existing.CatalogUpdatedAt) < i.cfg.RefreshAfter {
		return nil, nil
	}

	details, err := i.catalog.FetchGameDetails(ctx, catalogID)
	if err != nil {
		return nil, fmt.Errorf("%w: game %d: %v", ErrCatalogUnavailable, catalogID, err)
	}
	if details == nil {
		i.logger.Info("catalog has no details, skipped", zap.Int64("game_id", catalogID))
		return nil, nil
	}
	g := i.gameFromDetails(catalogID, details)
	g.CatalogUpdatedAt = &now
	return g, nil
}

func (i *Ingester) store(ctx context.Context, g *db.Game) error {
	if err := i.repo.UpsertGame(ctx, g); err != nil {
		return err
	}
	i.logger.Debug("game refreshed",
		zap.Int64("game_id", g.ID),
		zap.Int("developers", len(g.Developers)),
		zap.Int("genres", len(g.Genres)),
		zap.Int("tags", len(g.Tags)),
	)
	return nil
}

func (i *Ingester) gameFromDetails(id int64, d *core.GameDetails) *db.Game {
	g := &db.Game{
		ID:          id,
		Name:        strings.TrimSpace(d.Name),
		Description: d.Description,
		ReleaseDate: ParseReleaseDate(d.ReleaseDate),
		Rating:      d.Rating,
	}
	seen := make(map[string]bool)
	for _, n := range d.Developers {
		n = CanonicalDeveloper(n, i.cfg.DeveloperAliases)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		g.Developers = append(g.Developers, db.Developer{Name: n})
	}
	for _, n := range d.Genres {
		g.Genres = append(g.Genres, db.Genre{Name: n})
	}
	for _, n := range d.Tags {
		g.Tags = append(g.Tags, db.Tag{Name: n})
	}
	return g
}

// RefreshUser 拉取用户的拥有列表：补全未知游戏，再写入拥有记录。
// 单个游戏的目录错误只记录日志并跳过该游戏。
func (i *Ingester) RefreshUser(ctx context.Context, userID int64) error {
	owned, err := i.catalog.FetchOwnedGames(ctx, userID)
	if err != nil {
		return fmt.Errorf("%w: owned games of user %d: %v", ErrCatalogUnavailable, userID, err)
	}

	ids := make([]int64, 0, len(owned))
	for _, o := range owned {
		if i.IsGame(o.CatalogID) {
			ids = append(ids, o.CatalogID)
		}
	}

	// 目录请求并发，写库串行
	fetched := make([]*db.Game, len(ids))
	var eg errgroup.Group
	eg.SetLimit(catalogConcurrency)
	for n, id := range ids {
		eg.Go(func() error {
			g, err := i.fetch(ctx, id)
			if core.IsUnavailable(err) {
				i.logger.Warn("game refresh skipped", zap.Int64("game_id", id), zap.Error(err))
				return nil
			}
			fetched[n] = g
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	for _, g := range fetched {
		if g == nil {
			continue
		}
		if err := i.store(ctx, g); err != nil {
			return err
		}
	}

	known, err := i.repo.ExistingGames(ctx, ids)
	if err != nil {
		return err
	}
	rows := make([]db.UserGame, 0, len(owned))
	for _, o := range owned {
		if _, ok := known[o.CatalogID]; !ok {
			continue
		}
		ug := db.UserGame{UserID: userID, GameID: o.CatalogID, Playtime: o.PlaytimeMinutes}
		if !o.LastPlayed.IsZero() {
			lp := o.LastPlayed
			ug.LastPlayed = &lp
		}
		rows = append(rows, ug)
	}

	if err := i.repo.UpsertUser(ctx, userID, i.now()); err != nil {
		return err
	}
	if err := i.repo.UpsertOwnership(ctx, rows); err != nil {
		return err
	}
	i.logger.Info("owned games refreshed",
		zap.Int64("user_id", userID),
		zap.Int("owned", len(owned)),
		zap.Int("stored", len(rows)),
	)
	return nil
}

// SetScore 记录用户对游戏的评分；0 表示取消评分，超出 [0,10] 返回 INVALID_INPUT。
func (i *Ingester) SetScore(ctx context.Context, userID, gameID int64, score int) error {
	if score < 0 || score > db.MaxScore {
		return db.ErrScoreOutOfRange
	}
	var p *int
	if score > 0 {
		p = &score
	}
	err := i.repo.SetScore(ctx, userID, gameID, p)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrOwnershipNotFound
	}
	return err
}

var platformSuffix = regexp.MustCompile(`\s*\((?:Mac|Linux|Windows|Mac/Linux|Mac, Linux)\)$`)

// CanonicalDeveloper 归一化开发商名称：先查别名表，再去掉移植平台后缀后重查。
func CanonicalDeveloper(name string, aliases map[string]string) string {
	name = strings.Join(strings.Fields(name), " ")
	if c, ok := aliases[name]; ok {
		return c
	}
	stripped := platformSuffix.ReplaceAllString(name, "")
	if c, ok := aliases[stripped]; ok {
		return c
	}
	return stripped
}

var releaseLayouts = []string{
	"2 Jan, 2006",
	"Jan 2, 2006",
	"2 January, 2006",
	"January 2, 2006",
	"2006-01-02",
	"Jan 2006",
	"January 2006",
	"2006",
}

// ParseReleaseDate 按目录常见格式解析发行日期，无法解析时返回 nil。
func ParseReleaseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range releaseLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

// Package config 定义推荐核心的 YAML 配置：每个计算一个小节，带显式默认值。
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rushteam/gamerec/params"
	"github.com/rushteam/gamerec/pipeline"
)

const day = 24 * time.Hour

// Config 是完整配置。未出现在 YAML 中的字段保留 Default() 中的值。
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Cache     CacheConfig     `yaml:"cache"`
	Stats     StatsConfig     `yaml:"stats"`
	Normalize NormalizeConfig `yaml:"normalize"`
	CBR       CBRConfig       `yaml:"cbr"`
	MBCF      MBCFConfig      `yaml:"mbcf"`
	MOBCF     MOBCFConfig     `yaml:"mobcf"`
	Hybrid    HybridConfig    `yaml:"hybrid"`
	Serve     ServeConfig     `yaml:"serve"`
	Ingest    IngestConfig    `yaml:"ingest"`
}

type DatabaseConfig struct {
	// DSN 为 postgres 连接串或 sqlite 文件路径
	DSN string `yaml:"dsn"`
}

// CacheConfig 选择推荐结果缓存的后端：sql（默认，与业务库同库）/ memory / redis。
type CacheConfig struct {
	Backend   string `yaml:"backend"`
	RedisAddr string `yaml:"redis_addr"`
	RedisDB   int    `yaml:"redis_db"`
	Prefix    string `yaml:"prefix"`
}

type StatsConfig struct {
	MaxAge time.Duration `yaml:"max_age"`
}

// NormalizeConfig 归一化时长表。
type NormalizeConfig struct {
	MinPlayerCount int           `yaml:"min_player_count"`
	Method         string        `yaml:"method"` // l2 / zscore
	MaxAge         time.Duration `yaml:"max_age"`
}

func (c NormalizeConfig) Params() params.Values {
	return params.Values{
		"min_player_count": c.MinPlayerCount,
		"method":           c.Method,
	}
}

// CBRConfig 内容相似（开发商 / 类型 / 标签词袋 + 余弦）。
type CBRConfig struct {
	// MinPlayerCount 进入语料的游戏 player_count 必须大于该值
	MinPlayerCount  int           `yaml:"min_player_count"`
	SimilarityFloor float64       `yaml:"similarity_floor"`
	MinCandidates   int           `yaml:"min_candidates"`
	FloorStep       float64       `yaml:"floor_step"`
	MaxResults      int           `yaml:"max_results"`
	MaxAge          time.Duration `yaml:"max_age"`
	User            CBRUserConfig `yaml:"user"`
}

// CBRUserConfig 由用户玩过的游戏聚合内容相似结果。
type CBRUserConfig struct {
	NeighboursPerGame int           `yaml:"neighbours_per_game"`
	MinRatedGames     int           `yaml:"min_rated_games"`
	MaxAge            time.Duration `yaml:"max_age"`
}

func (c CBRConfig) Params() params.Values {
	return params.Values{
		"min_player_count": c.MinPlayerCount,
		"similarity_floor": c.SimilarityFloor,
		"min_candidates":   c.MinCandidates,
		"floor_step":       c.FloorStep,
		"max_results":      c.MaxResults,
	}
}

func (c CBRConfig) UserParams() params.Values {
	return params.Values{
		"neighbours_per_game": c.User.NeighboursPerGame,
		"min_rated_games":     c.User.MinRatedGames,
	}
}

// MBCFConfig 基于时长模式的协同过滤。
type MBCFConfig struct {
	Metric         string        `yaml:"metric"` // pearson / cosine
	SimilarUsers   int           `yaml:"similar_users"`
	MinGameCount   int           `yaml:"min_game_count"`
	RecentQuantile float64       `yaml:"recent_quantile"`
	MaxResults     int           `yaml:"max_results"`
	MaxAge         time.Duration `yaml:"max_age"`
	TargetMaxAge   time.Duration `yaml:"target_max_age"`
}

// GameParams 是游戏相似矩阵的参数。
func (c MBCFConfig) GameParams() params.Values {
	return params.Values{
		"metric":         c.Metric,
		"min_game_count": c.MinGameCount,
		"max_results":    c.MaxResults,
	}
}

// UserParams 是用户相似矩阵的参数。
func (c MBCFConfig) UserParams() params.Values {
	return params.Values{
		"metric":          c.Metric,
		"similar_users":   c.SimilarUsers,
		"min_game_count":  c.MinGameCount,
		"recent_quantile": c.RecentQuantile,
	}
}

// MOBCFConfig 隐因子模型。
type MOBCFConfig struct {
	Dimensions     int           `yaml:"dimensions"`
	EpochsPerPass  int           `yaml:"epochs_per_pass"`
	Schedule       []float64     `yaml:"schedule"`
	WeightDecay    float64       `yaml:"weight_decay"`
	SplitQuantile  float64       `yaml:"split_quantile"`
	Seed           int64         `yaml:"seed"`
	MinPlayerCount int           `yaml:"min_player_count"`
	ServeFilter    string        `yaml:"serve_filter"`
	MaxResults     int           `yaml:"max_results"`
	MaxAge         time.Duration `yaml:"max_age"`
	TargetMaxAge   time.Duration `yaml:"target_max_age"`
}

func (c MOBCFConfig) Params() params.Values {
	return params.Values{
		"dimensions":       c.Dimensions,
		"epochs_per_pass":  c.EpochsPerPass,
		"schedule":         c.Schedule,
		"weight_decay":     c.WeightDecay,
		"split_quantile":   c.SplitQuantile,
		"seed":             c.Seed,
		"min_player_count": c.MinPlayerCount,
	}
}

func (c MOBCFConfig) ServeParams() params.Values {
	return params.Values{
		"serve_filter": c.ServeFilter,
		"max_results":  c.MaxResults,
	}
}

// HybridConfig 混合排序的各来源权重，key 为来源名（cbr / mbcf / mobcf）。
type HybridConfig struct {
	UserWeights map[string]float64 `yaml:"user_weights"`
	GameWeights map[string]float64 `yaml:"game_weights"`
	MaxAge      time.Duration      `yaml:"max_age"`
}

func (c HybridConfig) UserParams() params.Values {
	return weightParams(c.UserWeights)
}

func (c HybridConfig) GameParams() params.Values {
	return weightParams(c.GameWeights)
}

func weightParams(w map[string]float64) params.Values {
	v := make(params.Values, len(w))
	for k, x := range w {
		v["weight_"+k] = x
	}
	return v
}

// ServeConfig 返回前的后处理链。
type ServeConfig struct {
	Pipeline pipeline.Spec `yaml:"pipeline"`
}

// IngestConfig 目录导入。
type IngestConfig struct {
	NotGameIDs       []int64           `yaml:"not_game_ids"`
	DeveloperAliases map[string]string `yaml:"developer_aliases"`
	RefreshAfter     time.Duration     `yaml:"refresh_after"`
}

// Default 返回默认配置（各计算的 best 参数）。
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{DSN: "gamerec.db"},
		Cache:    CacheConfig{Backend: "sql", Prefix: "gamerec"},
		Stats:    StatsConfig{MaxAge: 7 * day},
		Normalize: NormalizeConfig{
			MinPlayerCount: 10,
			Method:         "l2",
			MaxAge:         7 * day,
		},
		CBR: CBRConfig{
			MinPlayerCount:  10,
			SimilarityFloor: 0.5,
			MinCandidates:   9,
			FloorStep:       0.1,
			MaxResults:      200,
			MaxAge:          7 * day,
			User: CBRUserConfig{
				NeighboursPerGame: 2,
				MinRatedGames:     10,
				MaxAge:            day,
			},
		},
		MBCF: MBCFConfig{
			Metric:         "pearson",
			SimilarUsers:   9,
			MinGameCount:   10,
			RecentQuantile: 0.9,
			MaxResults:     200,
			MaxAge:         7 * day,
			TargetMaxAge:   day,
		},
		MOBCF: MOBCFConfig{
			Dimensions:     32,
			EpochsPerPass:  100,
			Schedule:       []float64{0.1, 0.01, 0.001},
			WeightDecay:    1e-5,
			SplitQuantile:  0.8,
			Seed:           42,
			MinPlayerCount: 10,
			ServeFilter:    "game.player_count > 10",
			MaxResults:     200,
			MaxAge:         7 * day,
			TargetMaxAge:   day,
		},
		Hybrid: HybridConfig{
			UserWeights: map[string]float64{"cbr": 0.4, "mbcf": 0.3, "mobcf": 0.3},
			GameWeights: map[string]float64{"cbr": 0.75, "mbcf": 0.25},
			MaxAge:      day,
		},
		Serve: ServeConfig{
			Pipeline: pipeline.Spec{Nodes: []pipeline.NodeConfig{
				{Type: "filter.played"},
				{Type: "filter.self"},
				{Type: "rerank.topn"},
			}},
		},
		Ingest: IngestConfig{
			DeveloperAliases: DefaultDeveloperAliases(),
			RefreshAfter:     30 * day,
		},
	}
}

// DefaultDeveloperAliases 是常见开发商名称变体到规范名称的映射。
func DefaultDeveloperAliases() map[string]string {
	return map[string]string{
		"FromSoftware, Inc.":            "FromSoftware",
		"FromSoftware Inc.":             "FromSoftware",
		"Aspyr (Mac)":                   "Aspyr",
		"Aspyr (Linux)":                 "Aspyr",
		"Aspyr (Mac, Linux)":            "Aspyr",
		"Feral Interactive (Mac)":       "Feral Interactive",
		"Feral Interactive (Linux)":     "Feral Interactive",
		"Feral Interactive (Mac/Linux)": "Feral Interactive",
		"Valve Corporation":             "Valve",
		"Bethesda Game Studios":         "Bethesda",
		"CD PROJEKT RED":                "CD Projekt Red",
		"Paradox Development Studio":    "Paradox Interactive",
		"Ubisoft Montreal":              "Ubisoft",
		"Ubisoft Quebec":                "Ubisoft",
		"Square Enix Co., Ltd.":         "Square Enix",
		"BANDAI NAMCO Studios Inc.":     "Bandai Namco",
		"SEGA":                          "Sega",
		"Virtual Programming (Mac)":     "Virtual Programming",
		"Virtual Programming (Linux)":   "Virtual Programming",
		"Westlake Interactive (Mac)":    "Westlake Interactive",
		"Daedalic Entertainment GmbH":   "Daedalic Entertainment",
		"Double Fine Productions":       "Double Fine",
		"Klei Entertainment":            "Klei",
	}
}

// LoadFromYAML 从 YAML 文件加载配置，叠加在默认值之上并校验。
func LoadFromYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return Parse(data)
}

// Parse 解析 YAML 内容。
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 拒绝不可能的取值。
func (c *Config) Validate() error {
	switch c.Cache.Backend {
	case "sql", "memory", "redis":
	default:
		return fmt.Errorf("cache.backend: unknown backend %q", c.Cache.Backend)
	}
	if c.Cache.Backend == "redis" && c.Cache.RedisAddr == "" {
		return fmt.Errorf("cache.redis_addr is required for the redis backend")
	}
	if c.Normalize.Method != "l2" && c.Normalize.Method != "zscore" {
		return fmt.Errorf("normalize.method: unknown method %q", c.Normalize.Method)
	}
	if c.MBCF.Metric != "pearson" && c.MBCF.Metric != "cosine" {
		return fmt.Errorf("mbcf.metric: unknown metric %q", c.MBCF.Metric)
	}
	for name, v := range map[string]int{
		"normalize.min_player_count":   c.Normalize.MinPlayerCount,
		"cbr.min_player_count":         c.CBR.MinPlayerCount,
		"cbr.min_candidates":           c.CBR.MinCandidates,
		"cbr.user.neighbours_per_game": c.CBR.User.NeighboursPerGame,
		"cbr.user.min_rated_games":     c.CBR.User.MinRatedGames,
		"mbcf.similar_users":           c.MBCF.SimilarUsers,
		"mbcf.min_game_count":          c.MBCF.MinGameCount,
		"mobcf.dimensions":             c.MOBCF.Dimensions,
		"mobcf.epochs_per_pass":        c.MOBCF.EpochsPerPass,
		"mobcf.min_player_count":       c.MOBCF.MinPlayerCount,
	} {
		if v < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	if c.MOBCF.Dimensions == 0 {
		return fmt.Errorf("mobcf.dimensions must be positive")
	}
	if len(c.MOBCF.Schedule) == 0 {
		return fmt.Errorf("mobcf.schedule must not be empty")
	}
	for name, q := range map[string]float64{
		"mbcf.recent_quantile": c.MBCF.RecentQuantile,
		"mobcf.split_quantile": c.MOBCF.SplitQuantile,
	} {
		if q <= 0 || q >= 1 {
			return fmt.Errorf("%s must be within (0,1)", name)
		}
	}
	if c.CBR.SimilarityFloor < 0 || c.CBR.SimilarityFloor > 1 {
		return fmt.Errorf("cbr.similarity_floor must be within [0,1]")
	}
	for _, w := range []map[string]float64{c.Hybrid.UserWeights, c.Hybrid.GameWeights} {
		for k, v := range w {
			if v < 0 {
				return fmt.Errorf("hybrid weight %q must not be negative", k)
			}
		}
	}
	return ValidatePipelineConfig(&c.Serve.Pipeline)
}

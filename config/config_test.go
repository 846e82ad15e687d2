package config

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
}

func TestParseOverlaysDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
normalize:
  method: zscore
cbr:
  max_age: 48h
  user:
    neighbours_per_game: 6
hybrid:
  user_weights:
    cbr: 1
serve:
  pipeline:
    nodes:
      - type: filter.played
      - type: filter.expr
        config:
          expr: "game.player_count > 5"
      - type: filter.blocklist
        config:
          game_ids: [7, 9]
      - type: rerank.topn
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Normalize.Method != "zscore" || cfg.Normalize.MinPlayerCount != 10 {
		t.Errorf("normalize = %+v", cfg.Normalize)
	}
	if cfg.CBR.MaxAge != 48*time.Hour || cfg.CBR.User.NeighboursPerGame != 6 || cfg.CBR.User.MinRatedGames != 10 {
		t.Errorf("cbr = %+v", cfg.CBR)
	}
	if cfg.CBR.SimilarityFloor != 0.5 {
		t.Errorf("similarity_floor = %v, want default 0.5", cfg.CBR.SimilarityFloor)
	}
	p, err := cfg.BuildServePipeline()
	if err != nil {
		t.Fatalf("BuildServePipeline: %v", err)
	}
	if len(p.Nodes) != 4 {
		t.Errorf("nodes = %d, want 4", len(p.Nodes))
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown method", "normalize: {method: minmax}", "normalize.method"},
		{"unknown metric", "mbcf: {metric: jaccard}", "mbcf.metric"},
		{"quantile out of range", "mobcf: {split_quantile: 1.5}", "mobcf.split_quantile"},
		{"empty schedule", "mobcf: {schedule: []}", "mobcf.schedule"},
		{"negative count", "cbr: {min_candidates: -1}", "cbr.min_candidates"},
		{"redis without addr", "cache: {backend: redis}", "redis_addr"},
		{"unknown node", "serve: {pipeline: {nodes: [{type: rank.lr}]}}", "unsupported node type"},
		{"empty blocklist", "serve: {pipeline: {nodes: [{type: filter.blocklist}]}}", "game_ids"},
		{"bad expression", "serve: {pipeline: {nodes: [{type: filter.expr, config: {expr: 'game.'}}]}}", "serve.pipeline"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Parse() error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestParamsTrackGatingKeysOnly(t *testing.T) {
	a := Default().Normalize
	b := a
	b.MaxAge = time.Hour
	if a.Params()["method"] != b.Params()["method"] || len(a.Params()) != 2 {
		t.Errorf("max_age must not be part of the params snapshot: %v", a.Params())
	}
}

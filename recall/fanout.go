package recall

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rushteam/gamerec/core"
)

// Fanout 并发执行多个推荐来源，按来源分别收集结果。
// 单个来源出错或超时只影响它自己：该来源的结果为空，错误记录在 Result 中。
type Fanout struct {
	Sources       []Source
	Timeout       time.Duration // 每个来源的超时时间，0 表示不限
	MaxConcurrent int           // 最大并发数（0 表示无限制）
	Logger        *zap.Logger
}

// Result 是单个来源的召回结果。
type Result struct {
	Source string
	Items  []*core.Item
	Err    error
}

// Collect 返回与 Sources 同序的结果。
func (n *Fanout) Collect(ctx context.Context, rctx *core.RecommendContext) []Result {
	out := make([]Result, len(n.Sources))
	if len(n.Sources) == 0 {
		return out
	}
	logger := n.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var eg errgroup.Group
	if n.MaxConcurrent > 0 {
		eg.SetLimit(n.MaxConcurrent)
	}
	for i, src := range n.Sources {
		eg.Go(func() error {
			recallCtx := ctx
			if n.Timeout > 0 {
				var cancel context.CancelFunc
				recallCtx, cancel = context.WithTimeout(ctx, n.Timeout)
				defer cancel()
			}

			start := time.Now()
			items, err := src.Recall(recallCtx, rctx)
			out[i] = Result{Source: src.Name(), Items: items, Err: err}
			if err != nil {
				out[i].Items = nil
				logger.Warn("source failed",
					zap.String("source", src.Name()),
					zap.Int64("user_id", rctx.UserID),
					zap.Int64("game_id", rctx.GameID),
					zap.Error(err),
				)
				return nil
			}
			logger.Debug("source recalled",
				zap.String("source", src.Name()),
				zap.Int("items", len(items)),
				zap.Duration("elapsed", time.Since(start)),
			)
			return nil
		})
	}
	_ = eg.Wait()
	return out
}

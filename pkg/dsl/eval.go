package dsl

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/rushteam/gamerec/core"
)

var (
	// celEnv 是全局的 CEL 环境，线程安全，可复用
	celEnv     *cel.Env
	celEnvErr  error
	celEnvOnce sync.Once

	// programs 缓存已编译的表达式，key 为表达式原文
	programs sync.Map
)

// initCELEnv 初始化 CEL 环境，定义变量
func initCELEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("item", cel.DynType),
		cel.Variable("game", cel.DynType),
		cel.Variable("label", cel.DynType),
		cel.Variable("rctx", cel.DynType),
	)
}

func getCELEnv() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		celEnv, celEnvErr = initCELEnv()
	})
	return celEnv, celEnvErr
}

// Compile 编译并缓存表达式，用于在配置加载时提前发现语法错误。
func Compile(expr string) (cel.Program, error) {
	if p, ok := programs.Load(expr); ok {
		return p.(cel.Program), nil
	}
	env, err := getCELEnv()
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType && ast.OutputType() != cel.DynType {
		return nil, fmt.Errorf("expression must return boolean, got %v", ast.OutputType())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program error: %w", err)
	}
	programs.Store(expr, prg)
	return prg, nil
}

// Eval 是候选过滤表达式的解释器，使用 CEL (Common Expression Language) 实现。
//
// 可用变量：
//   - item：id / score
//   - game：服务层补充的游戏元信息（player_count / rating / mean_playtime / median_playtime）
//   - label：Label 值，例如 label.recall_source
//   - rctx：user_id / game_id
//
// 示例：
//   - `game.player_count > 10`
//   - `game.rating >= 7.0 || game.rating == 0.0`
//   - `item.score > 0.1 && label.recall_source.contains("cbr")`
type Eval struct {
	item *core.Item
	rctx *core.RecommendContext
}

// NewEval 创建一个针对单个候选的解释器。
func NewEval(item *core.Item, rctx *core.RecommendContext) *Eval {
	return &Eval{item: item, rctx: rctx}
}

// Evaluate 执行表达式，返回布尔结果；空表达式视为 true。
func (e *Eval) Evaluate(expr string) (bool, error) {
	if expr == "" {
		return true, nil
	}
	prg, err := Compile(expr)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(e.buildInput())
	if err != nil {
		// 访问不存在的 key 会报错，表达式应使用 has() 或 != null 判断
		return false, fmt.Errorf("eval error: %w", err)
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression must return boolean, got %T", out.Value())
	}
	return result, nil
}

// buildInput 构建 CEL 表达式的输入数据
func (e *Eval) buildInput() map[string]interface{} {
	labels := make(map[string]interface{}, len(e.item.Labels))
	for k, v := range e.item.Labels {
		labels[k] = v.Value
	}

	game := make(map[string]interface{}, len(e.item.Meta))
	for k, v := range e.item.Meta {
		game[k] = v
	}

	item := map[string]interface{}{
		"id":    e.item.ID,
		"score": e.item.Score,
	}

	rctx := map[string]interface{}{}
	if e.rctx != nil {
		rctx["user_id"] = e.rctx.UserID
		rctx["game_id"] = e.rctx.GameID
	}

	return map[string]interface{}{
		"item":  item,
		"game":  game,
		"label": labels,
		"rctx":  rctx,
	}
}

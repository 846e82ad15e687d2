package config

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rushteam/gamerec/pipeline"
)

// NodeBuilder 与 pipeline.NodeBuilder 一致：根据 config 构建 Node。
type NodeBuilder = pipeline.NodeBuilder

var (
	defaultBuilders   = make(map[string]NodeBuilder)
	defaultBuildersMu sync.RWMutex
)

// Register 注册一种 Node 的构建逻辑，供 DefaultFactory 与配置驱动使用。
// 内置节点在 builders.go 的 init 中注册；业务方可以注册自己的过滤节点。
func Register(typeName string, builder NodeBuilder) {
	if typeName == "" || builder == nil {
		return
	}
	defaultBuildersMu.Lock()
	defer defaultBuildersMu.Unlock()
	defaultBuilders[typeName] = builder
}

// SupportedTypes 返回当前已注册的 Node 类型列表（排序），用于错误提示与校验。
func SupportedTypes() []string {
	defaultBuildersMu.RLock()
	defer defaultBuildersMu.RUnlock()
	types := make([]string, 0, len(defaultBuilders))
	for t := range defaultBuilders {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// DefaultFactory 返回基于当前注册表构建的 NodeFactory。
func DefaultFactory() *pipeline.NodeFactory {
	defaultBuildersMu.RLock()
	defer defaultBuildersMu.RUnlock()
	f := pipeline.NewNodeFactory()
	for typeName, builder := range defaultBuilders {
		f.Register(typeName, builder)
	}
	return f
}

// ValidatePipelineConfig 校验所有 node 类型均已注册，并试构建一次以提前暴露表达式错误。
func ValidatePipelineConfig(spec *pipeline.Spec) error {
	if spec == nil {
		return nil
	}
	supported := SupportedTypes()
	for _, nc := range spec.Nodes {
		defaultBuildersMu.RLock()
		_, ok := defaultBuilders[nc.Type]
		defaultBuildersMu.RUnlock()
		if !ok {
			return fmt.Errorf("unsupported node type %q (supported: %v)", nc.Type, supported)
		}
	}
	if _, err := spec.Build(DefaultFactory()); err != nil {
		return fmt.Errorf("serve.pipeline: %w", err)
	}
	return nil
}

// BuildServePipeline 按配置构建返回前的后处理链。
func (c *Config) BuildServePipeline() (*pipeline.Pipeline, error) {
	return c.Serve.Pipeline.Build(DefaultFactory())
}

// Package store 提供 core.Store 的基础设施实现：内存与 Redis。
// 接口定义在 core 包，推荐结果缓存（cache.KVCache）通过接口使用它们。
//
// 示例：
//
//	var s core.Store = store.NewMemoryStore()
//	c := cache.NewKVCache(s, "gamerec")
package store

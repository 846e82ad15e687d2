package cache

import (
	"context"

	"github.com/goccy/go-json"

	"github.com/rushteam/gamerec/core"
)

// KVCache 把产物以 JSON 存进任意 core.Store，key 形如 "<prefix>:user:42:cbr"。
// TTL 不由存储决定，条目是否有效完全由 Policy 判断。
type KVCache struct {
	store  core.Store
	prefix string
}

func NewKVCache(store core.Store, prefix string) *KVCache {
	return &KVCache{store: store, prefix: prefix}
}

var _ Cache = (*KVCache)(nil)

func (c *KVCache) key(k Key) string {
	if c.prefix == "" {
		return k.String()
	}
	return c.prefix + ":" + k.String()
}

func (c *KVCache) Get(ctx context.Context, key Key) (*Entry, error) {
	b, err := c.store.Get(ctx, c.key(key))
	if core.IsStoreNotFound(err) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, err
	}
	var e Entry
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (c *KVCache) GetMany(ctx context.Context, keys []Key) (map[Key]*Entry, error) {
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = c.key(k)
	}
	raw, err := c.store.BatchGet(ctx, names)
	if err != nil {
		return nil, err
	}
	out := make(map[Key]*Entry, len(raw))
	for i, k := range keys {
		b, ok := raw[names[i]]
		if !ok {
			continue
		}
		var e Entry
		if err := json.Unmarshal(b, &e); err != nil {
			return nil, err
		}
		out[k] = &e
	}
	return out, nil
}

func (c *KVCache) Put(ctx context.Context, key Key, entry *Entry) error {
	b, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return c.store.Set(ctx, c.key(key), b)
}

func (c *KVCache) PutMany(ctx context.Context, entries map[Key]*Entry) error {
	kvs := make(map[string][]byte, len(entries))
	for k, e := range entries {
		b, err := json.Marshal(e)
		if err != nil {
			return err
		}
		kvs[c.key(k)] = b
	}
	return c.store.BatchSet(ctx, kvs)
}

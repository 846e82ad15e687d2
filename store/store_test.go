package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rushteam/gamerec/core"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	defer s.Close()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	if _, err := s.Get(ctx, "missing"); !core.IsStoreNotFound(err) {
		t.Fatalf("Get(missing) error = %v", err)
	}

	if err := s.Set(ctx, "a", []byte("1"), 10); err != nil {
		t.Fatal(err)
	}
	if err := s.BatchSet(ctx, map[string][]byte{"b": []byte("2"), "c": []byte("3")}); err != nil {
		t.Fatal(err)
	}
	got, _ := s.BatchGet(ctx, []string{"a", "b", "c", "d"})
	if len(got) != 3 || string(got["b"]) != "2" {
		t.Errorf("BatchGet = %v", got)
	}

	now = now.Add(11 * time.Second)
	if _, err := s.Get(ctx, "a"); !core.IsStoreNotFound(err) {
		t.Errorf("expired key still readable: %v", err)
	}
	if v, err := s.Get(ctx, "b"); err != nil || string(v) != "2" {
		t.Errorf("Get(b) = %s, %v", v, err)
	}

	s.Delete(ctx, "b")
	if _, err := s.Get(ctx, "b"); !core.IsStoreNotFound(err) {
		t.Errorf("deleted key still readable: %v", err)
	}
}

func TestMemoryStore_ValuesAreCopied(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	defer s.Close()
	buf := []byte("abc")
	s.Set(ctx, "k", buf)
	buf[0] = 'x'
	v, _ := s.Get(ctx, "k")
	if string(v) != "abc" {
		t.Errorf("stored value aliased caller buffer: %s", v)
	}
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("GAMEREC_REDIS_ADDR")
	if addr == "" {
		t.Skip("跳过 Redis 测试：未设置 GAMEREC_REDIS_ADDR")
	}
	ctx := context.Background()
	s, err := NewRedisStore(addr, 0)
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	defer s.Close()

	key := "gamerec:test:" + time.Now().Format(time.RFC3339Nano)
	defer s.Delete(ctx, key)
	if err := s.BatchSet(ctx, map[string][]byte{key: []byte("v")}, 60); err != nil {
		t.Fatal(err)
	}
	v, err := s.Get(ctx, key)
	if err != nil || string(v) != "v" {
		t.Errorf("Get = %s, %v", v, err)
	}
	if _, err := s.Get(ctx, key+":missing"); !core.IsStoreNotFound(err) {
		t.Errorf("missing key error = %v", err)
	}
}

package memory

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
)

func TestRedisStoreResults(t *testing.T) {
	srv, err := miniredis.Run()
	if err != nil {
		t.Skipf("miniredis unavailable: %v", err)
	}
	store, err := NewRedisStore("redis://" + srv.Addr())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	key := MakeResultKey("job-1")

	if err := store.PutResult(ctx, key, []byte(`{"images":["aGk="]}`)); err != nil {
		t.Fatalf("put result: %v", err)
	}
	if ttl := srv.TTL(key); ttl <= 0 || ttl > defaultResultTTL {
		t.Fatalf("result TTL not set correctly, got %v", ttl)
	}

	got, err := store.GetResult(ctx, key)
	if err != nil {
		t.Fatalf("get result: %v", err)
	}
	if string(got) != `{"images":["aGk="]}` {
		t.Fatalf("unexpected result payload: %s", string(got))
	}
}

func TestKeyPointerHelpers(t *testing.T) {
	key := MakeResultKey("123")
	ptr := PointerForKey(key)
	if ptr != "redis://res:123" {
		t.Fatalf("unexpected pointer: %s", ptr)
	}

	gotKey, err := KeyFromPointer(ptr)
	if err != nil {
		t.Fatalf("key from pointer: %v", err)
	}
	if gotKey != key {
		t.Fatalf("unexpected key: %s", gotKey)
	}

	if _, err := KeyFromPointer("invalid"); err == nil {
		t.Fatalf("expected error for invalid pointer")
	}
	if _, err := KeyFromPointer(""); err == nil {
		t.Fatalf("expected error for empty pointer")
	}
}

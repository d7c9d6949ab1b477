package cache_test

import (
	"testing"
	"time"

	"github.com/boddenberg/receptionist-core/internal/infra/cache"
)

func TestCache_SetAndGet(t *testing.T) {
	c := cache.New[string](5 * time.Minute)

	c.Set("key1", "value1")
	val, ok := c.Get("key1")
	if !ok {
		t.Fatal("expected key to exist")
	}
	if val != "value1" {
		t.Errorf("expected 'value1', got '%s'", val)
	}
}

func TestCache_GetMiss(t *testing.T) {
	c := cache.New[string](5 * time.Minute)

	_, ok := c.Get("nonexistent")
	if ok {
		t.Fatal("expected cache miss for nonexistent key")
	}
}

func TestCache_Expiration(t *testing.T) {
	c := cache.New[string](50 * time.Millisecond)

	c.Set("key1", "value1")
	time.Sleep(100 * time.Millisecond)

	_, ok := c.Get("key1")
	if ok {
		t.Fatal("expected cache entry to be expired")
	}
}

func TestCache_Delete(t *testing.T) {
	c := cache.New[string](5 * time.Minute)

	c.Set("key1", "value1")
	c.Delete("key1")

	_, ok := c.Get("key1")
	if ok {
		t.Fatal("expected key to be deleted")
	}
}

func TestCache_AddOnlyOnce(t *testing.T) {
	c := cache.New[struct{}](5 * time.Minute)
	defer c.Close()

	if !c.Add("wh_1", struct{}{}) {
		t.Fatal("expected first add to store")
	}
	if c.Add("wh_1", struct{}{}) {
		t.Fatal("expected second add to be rejected")
	}
}

func TestCache_AddAfterExpiry(t *testing.T) {
	c := cache.New[string](50 * time.Millisecond)
	defer c.Close()

	c.Add("key1", "a")
	time.Sleep(100 * time.Millisecond)

	if !c.Add("key1", "b") {
		t.Fatal("expected add to succeed once the entry expired")
	}
	val, ok := c.Get("key1")
	if !ok || val != "b" {
		t.Errorf("expected 'b', got '%s'", val)
	}
}

func TestCache_SetWithTTL(t *testing.T) {
	c := cache.New[string](5 * time.Minute)
	defer c.Close()

	c.SetWithTTL("short", "v", 20*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	if _, ok := c.Get("short"); ok {
		t.Fatal("expected per-entry ttl to apply")
	}
}

package cache_test

import (
	"context"
	"errors"
	"testing"
	"time"

	portal "github.com/huytu0702/university-admission-portal-sub001"
	"github.com/huytu0702/university-admission-portal-sub001/cache"
)

func TestMemory_SetGetDelete(t *testing.T) {
	c := cache.NewMemory()
	ctx := context.Background()

	if _, err := c.Get(ctx, "missing"); !errors.Is(err, portal.ErrCacheMiss) {
		t.Fatalf("Get absent: err = %v, want ErrCacheMiss", err)
	}

	if err := c.Set(ctx, "app:1", []byte(`{"status":"received"}`), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := c.Get(ctx, "app:1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != `{"status":"received"}` {
		t.Errorf("Get = %q", got)
	}

	if err := c.Delete(ctx, "app:1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := c.Get(ctx, "app:1"); !errors.Is(err, portal.ErrCacheMiss) {
		t.Errorf("Get after delete: err = %v, want ErrCacheMiss", err)
	}

	// Deleting an absent key is a no-op.
	if err := c.Delete(ctx, "app:1"); err != nil {
		t.Errorf("Delete absent: %v", err)
	}
}

func TestMemory_TTLExpiry(t *testing.T) {
	current := time.Now().UTC()
	c := cache.NewMemory(cache.WithMemoryClock(func() time.Time { return current }))
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := c.Get(ctx, "k"); err != nil {
		t.Fatalf("Get before expiry: %v", err)
	}

	current = current.Add(2 * time.Minute)
	if _, err := c.Get(ctx, "k"); !errors.Is(err, portal.ErrCacheMiss) {
		t.Errorf("Get after expiry: err = %v, want ErrCacheMiss", err)
	}
	if c.Len() != 0 {
		t.Errorf("Len = %d, want 0 after lazy eviction", c.Len())
	}
}

func TestMemory_ZeroTTLNeverExpires(t *testing.T) {
	current := time.Now().UTC()
	c := cache.NewMemory(cache.WithMemoryClock(func() time.Time { return current }))
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	current = current.Add(24 * time.Hour)
	if _, err := c.Get(ctx, "k"); err != nil {
		t.Errorf("Get: %v, want entry without expiry to survive", err)
	}
}

func TestMemory_GetReturnsCopy(t *testing.T) {
	c := cache.NewMemory()
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("original"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := c.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	got[0] = 'X'

	again, err := c.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(again) != "original" {
		t.Errorf("cached value mutated through returned slice: %q", again)
	}
}

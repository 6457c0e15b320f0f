// Package cachetest holds a behavioural test suite shared by every cache.Cache
// implementation.
package cachetest

import (
	"context"
	"testing"
	"time"

	"github.com/Strob0t/TestPulse/internal/port/cache"
)

// RunComplianceTests runs the standard compliance test suite against c.
func RunComplianceTests(t *testing.T, c cache.Cache) {
	t.Helper()
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		key := cache.TeamNameKey("compliance")
		if err := c.Set(ctx, key, []byte("Platform Team"), time.Minute); err != nil {
			t.Fatal(err)
		}
		val, found, err := c.Get(ctx, key)
		if err != nil {
			t.Fatal(err)
		}
		if !found {
			t.Fatal("expected found after Set")
		}
		if string(val) != "Platform Team" {
			t.Fatalf("expected Platform Team, got %s", val)
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		_, found, err := c.Get(ctx, cache.TeamNameKey("nonexistent"))
		if err != nil {
			t.Fatal(err)
		}
		if found {
			t.Fatal("expected miss for nonexistent key")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		key := cache.TeamNameKey("deleted")
		_ = c.Set(ctx, key, []byte("gone"), time.Minute)
		if err := c.Delete(ctx, key); err != nil {
			t.Fatal(err)
		}
		_, found, err := c.Get(ctx, key)
		if err != nil {
			t.Fatal(err)
		}
		if found {
			t.Fatal("expected miss after Delete")
		}
	})

	t.Run("DeleteNonexistent", func(t *testing.T) {
		if err := c.Delete(ctx, cache.TeamNameKey("never-existed")); err != nil {
			t.Fatal("Delete of nonexistent key should not error")
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		key := cache.TeamNameKey("renamed")
		_ = c.Set(ctx, key, []byte("Old Name"), time.Minute)
		_ = c.Set(ctx, key, []byte("New Name"), time.Minute)
		val, found, err := c.Get(ctx, key)
		if err != nil {
			t.Fatal(err)
		}
		if !found {
			t.Fatal("expected found after overwrite")
		}
		if string(val) != "New Name" {
			t.Fatalf("expected New Name after overwrite, got %s", val)
		}
	})
}

package ristretto_test

import (
	"context"
	"testing"
	"time"

	"github.com/Strob0t/TestPulse/internal/adapter/ristretto"
	"github.com/Strob0t/TestPulse/internal/port/cache/cachetest"
)

func TestRistrettoCompliance(t *testing.T) {
	c, err := ristretto.New(1)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	cachetest.RunComplianceTests(t, c)
}

func TestRistrettoExpiry(t *testing.T) {
	c, err := ristretto.New(1)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "short", []byte("v"), 50*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)

	if _, found, _ := c.Get(ctx, "short"); found {
		t.Fatal("expected entry to expire")
	}
}

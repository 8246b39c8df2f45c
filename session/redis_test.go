package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	s, err := NewRedisStore(client, "sid-1", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	return s, mr
}

func TestRedisStoreInFlight(t *testing.T) {
	ctx := context.Background()
	s, _ := testRedisStore(t)

	if _, ok, err := s.LoadInFlight(ctx); err != nil || ok {
		t.Fatalf("empty store: ok=%v err=%v", ok, err)
	}

	if err := s.SaveInFlight(ctx, Attempt{Verifier: "v", State: "st"}); err != nil {
		t.Fatal(err)
	}
	a, ok, err := s.LoadInFlight(ctx)
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if a.Verifier != "v" || a.State != "st" {
		t.Errorf("got %+v", a)
	}

	if err := s.ClearInFlight(ctx); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.LoadInFlight(ctx); ok {
		t.Error("attempt survived ClearInFlight")
	}
	// Clearing again is a no-op.
	if err := s.ClearInFlight(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestRedisStoreAttemptTTL(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	s, err := NewRedisStore(client, "sid-1", time.Minute, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SaveInFlight(ctx, Attempt{Verifier: "v", State: "st"}); err != nil {
		t.Fatal(err)
	}

	mr.FastForward(2 * time.Minute)
	if _, ok, _ := s.LoadInFlight(ctx); ok {
		t.Error("attempt outlived its TTL")
	}
}

func TestRedisStoreRecord(t *testing.T) {
	ctx := context.Background()
	s, _ := testRedisStore(t)

	rec, err := s.LoadRecord(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Authenticated {
		t.Errorf("missing record reads %+v", rec)
	}

	if err := s.SaveRecord(ctx, Record{Authenticated: true, Handle: "jack"}); err != nil {
		t.Fatal(err)
	}
	rec, err = s.LoadRecord(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !rec.Authenticated || rec.Handle != "jack" {
		t.Errorf("got %+v", rec)
	}
}

func TestRedisStoreSessionsIsolated(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	s1, err := NewRedisStore(client, "sid-1", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	s2, err := NewRedisStore(client, "sid-2", 0, 0)
	if err != nil {
		t.Fatal(err)
	}

	if err := s1.SaveRecord(ctx, Record{Authenticated: true, Handle: "jack"}); err != nil {
		t.Fatal(err)
	}
	rec, err := s2.LoadRecord(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Authenticated {
		t.Error("record leaked across session IDs")
	}
}

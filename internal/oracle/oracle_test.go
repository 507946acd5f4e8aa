package oracle

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"

	"github.com/congo-pay/crowdfund/internal/logging"
)

func TestStaticFeed(t *testing.T) {
	feed := NewStatic("ETH/USD", 8, decimal.NewFromInt(2000_00000000))
	ctx := context.Background()

	p, err := feed.LatestPrice(ctx)
	if err != nil {
		t.Fatalf("latest price: %v", err)
	}
	if !p.USD().Equal(decimal.NewFromInt(2000)) {
		t.Fatalf("expected 2000 USD, got %s", p.USD())
	}

	feed.UpdateAnswer(decimal.NewFromInt(3000_00000000))
	p, _ = feed.LatestPrice(ctx)
	if !p.USD().Equal(decimal.NewFromInt(3000)) {
		t.Fatalf("expected updated answer, got %s", p.USD())
	}

	boom := errors.New("boom")
	feed.Fail(boom)
	if _, err := feed.LatestPrice(ctx); !errors.Is(err, boom) {
		t.Fatalf("expected configured failure, got %v", err)
	}
	if feed.Address() != "static:ETH/USD" {
		t.Fatalf("unexpected address %s", feed.Address())
	}
}

func TestHTTPFeedDecodesAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"answer":"200000000000","decimals":8}`))
	}))
	defer srv.Close()

	feed, err := NewHTTPFeed(srv.URL, HTTPFeedOptions{RequestsPerSecond: 100})
	if err != nil {
		t.Fatalf("new feed: %v", err)
	}
	p, err := feed.LatestPrice(context.Background())
	if err != nil {
		t.Fatalf("latest price: %v", err)
	}
	if p.Decimals != 8 || !p.USD().Equal(decimal.NewFromInt(2000)) {
		t.Fatalf("unexpected price %+v", p)
	}
	if p.UpdatedAt.IsZero() {
		t.Fatal("expected updated_at to default to fetch time")
	}
}

func TestHTTPFeedRejectsNonPositiveAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"answer":"0","decimals":8}`))
	}))
	defer srv.Close()

	feed, _ := NewHTTPFeed(srv.URL, HTTPFeedOptions{RequestsPerSecond: 100})
	if _, err := feed.LatestPrice(context.Background()); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected invalid price, got %v", err)
	}
}

func TestHTTPFeedBreakerOpensAfterFailures(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	feed, _ := NewHTTPFeed(srv.URL, HTTPFeedOptions{RequestsPerSecond: 100, Burst: 10})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := feed.LatestPrice(ctx); err == nil {
			t.Fatalf("call %d: expected error", i)
		}
	}
	if _, err := feed.LatestPrice(ctx); !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open breaker, got %v", err)
	}
	if got := atomic.LoadInt32(&hits); got != 3 {
		t.Fatalf("expected 3 upstream hits, got %d", got)
	}
}

type countingFeed struct {
	calls int
	price Price
}

func (f *countingFeed) LatestPrice(context.Context) (Price, error) {
	f.calls++
	return f.price, nil
}

func (f *countingFeed) Address() string { return "counting" }

func TestCachedFeedServesFromRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	inner := &countingFeed{price: Price{Answer: decimal.NewFromInt(2000_00000000), Decimals: 8}}
	cached := NewCached(inner, client, time.Minute, logging.Discard())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		p, err := cached.LatestPrice(ctx)
		if err != nil {
			t.Fatalf("latest price: %v", err)
		}
		if !p.USD().Equal(decimal.NewFromInt(2000)) {
			t.Fatalf("unexpected cached price %s", p.USD())
		}
	}
	if inner.calls != 1 {
		t.Fatalf("expected one upstream read, got %d", inner.calls)
	}

	mr.FastForward(2 * time.Minute)
	if _, err := cached.LatestPrice(ctx); err != nil {
		t.Fatalf("latest price after expiry: %v", err)
	}
	if inner.calls != 2 {
		t.Fatalf("expected refresh after ttl, got %d upstream reads", inner.calls)
	}
}

func TestCachedFeedFallsThroughWhenRedisDown(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	inner := &countingFeed{price: Price{Answer: decimal.NewFromInt(1), Decimals: 0}}
	cached := NewCached(inner, client, time.Minute, logging.Discard())
	if _, err := cached.LatestPrice(context.Background()); err != nil {
		t.Fatalf("expected fall-through read, got %v", err)
	}
	if inner.calls != 1 {
		t.Fatalf("expected upstream read, got %d", inner.calls)
	}
}

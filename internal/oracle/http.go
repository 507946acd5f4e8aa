package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const (
	defaultFeedTimeout = 5 * time.Second
	maxFeedBody        = 1 << 16
)

// HTTPFeed reads the latest price from a JSON endpoint of the form
// {"answer":"200000000000","decimals":8,"updated_at":"..."}.
type HTTPFeed struct {
	url     string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

// HTTPFeedOptions tunes the feed client. Zero values pick defaults.
type HTTPFeedOptions struct {
	Client            *http.Client
	RequestsPerSecond float64
	Burst             int
}

// NewHTTPFeed builds a feed client guarded by a circuit breaker and a request limiter.
func NewHTTPFeed(url string, opts HTTPFeedOptions) (*HTTPFeed, error) {
	if url == "" {
		return nil, fmt.Errorf("price feed url is required")
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: defaultFeedTimeout}
	}
	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}

	st := gobreaker.Settings{Name: "price-feed:" + url}
	st.Interval = 60 * time.Second
	st.Timeout = 30 * time.Second
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= 3
	}

	return &HTTPFeed{
		url:     url,
		client:  client,
		breaker: gobreaker.NewCircuitBreaker(st),
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}, nil
}

// Address identifies the feed by its URL.
func (f *HTTPFeed) Address() string {
	return f.url
}

// LatestPrice fetches and validates the current answer.
func (f *HTTPFeed) LatestPrice(ctx context.Context) (Price, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return Price{}, fmt.Errorf("price feed rate limit: %w", err)
	}
	res, err := f.breaker.Execute(func() (interface{}, error) {
		return f.fetch(ctx)
	})
	if err != nil {
		return Price{}, err
	}
	return res.(Price), nil
}

func (f *HTTPFeed) fetch(ctx context.Context) (Price, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return Price{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return Price{}, fmt.Errorf("fetch price: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Price{}, fmt.Errorf("fetch price: unexpected status %d", resp.StatusCode)
	}

	var p Price
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxFeedBody)).Decode(&p); err != nil {
		return Price{}, fmt.Errorf("decode price: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Price{}, err
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	return p, nil
}

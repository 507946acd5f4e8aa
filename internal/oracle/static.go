package oracle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Static is an in-process aggregator used in development and tests. It reports
// whatever answer was last set.
type Static struct {
	mu       sync.RWMutex
	name     string
	decimals uint8
	answer   decimal.Decimal
	updated  time.Time
	err      error
}

// NewStatic builds a static feed with the given decimals and initial answer.
func NewStatic(name string, decimals uint8, initialAnswer decimal.Decimal) *Static {
	return &Static{name: name, decimals: decimals, answer: initialAnswer, updated: time.Now().UTC()}
}

// LatestPrice returns the current answer or the configured failure.
func (s *Static) LatestPrice(_ context.Context) (Price, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return Price{}, s.err
	}
	return Price{Answer: s.answer, Decimals: s.decimals, UpdatedAt: s.updated}, nil
}

// Address identifies the feed.
func (s *Static) Address() string {
	return fmt.Sprintf("static:%s", s.name)
}

// UpdateAnswer replaces the reported answer.
func (s *Static) UpdateAnswer(answer decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answer = answer
	s.updated = time.Now().UTC()
}

// Fail makes subsequent reads return err. Pass nil to recover.
func (s *Static) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

package provider

import (
	"context"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

// PriceLookup returns the latest known USD price of a currency. ok is false when none exists.
type PriceLookup func(ctx context.Context, code string) (price decimal.Decimal, ok bool, err error)

// PriceBook memoizes USD conversion prices for the duration of one ingestion pass.
// It is safe for concurrent use by several adapters.
type PriceBook struct {
	lookup PriceLookup

	mu   sync.Mutex
	memo map[string]*decimal.Decimal
}

// NewPriceBook creates an empty book backed by lookup. A nil lookup knows only USD.
func NewPriceBook(lookup PriceLookup) *PriceBook {
	return &PriceBook{lookup: lookup, memo: make(map[string]*decimal.Decimal)}
}

// USDPrice returns the USD price of code. USD is always 1. Misses are remembered;
// lookup errors are not, so a later call may retry.
func (b *PriceBook) USDPrice(ctx context.Context, code string) (decimal.Decimal, bool) {
	code = strings.ToUpper(code)
	if code == USD {
		return decimal.NewFromInt(1), true
	}
	if b == nil || b.lookup == nil {
		return decimal.Zero, false
	}

	b.mu.Lock()
	if p, seen := b.memo[code]; seen {
		b.mu.Unlock()
		if p == nil {
			return decimal.Zero, false
		}
		return *p, true
	}
	b.mu.Unlock()

	price, ok, err := b.lookup(ctx, code)
	if err != nil {
		return decimal.Zero, false
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if ok {
		b.memo[code] = &price
		return price, true
	}
	b.memo[code] = nil
	return decimal.Zero, false
}

package services

import (
	"context"
	"errors"
	"fmt"

	"collateral-backend/internal/clients"
	"collateral-backend/internal/utils"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// PriceFeed external price source
type PriceFeed interface {
	GetPrice(ctx context.Context, asset string) (decimal.Decimal, error)
}

// PriceStore cache in front of the feed
type PriceStore interface {
	Get(ctx context.Context, asset string) (decimal.Decimal, error)
	Set(ctx context.Context, asset string, price decimal.Decimal) error
}

// PriceService resolves collateral USD prices: configured table, then cache, then feed
type PriceService struct {
	static map[string]decimal.Decimal
	cache  PriceStore
	feed   PriceFeed
	log    *logrus.Entry
}

// NewPriceService builds the price table. cache and feed may be nil.
func NewPriceService(static map[string]string, cache PriceStore, feed PriceFeed) (*PriceService, error) {
	s := &PriceService{
		static: make(map[string]decimal.Decimal, len(static)),
		cache:  cache,
		feed:   feed,
		log:    logrus.WithField("component", "price_service"),
	}
	for asset, raw := range static {
		addr := utils.NormalizeAddress(asset)
		if addr == "" {
			return nil, fmt.Errorf("price table: %q: %w", asset, ErrInvalidAddress)
		}
		price, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("price table: %s: %w", asset, err)
		}
		if price.IsNegative() {
			return nil, fmt.Errorf("price table: %s: %w", asset, ErrInvalidAmount)
		}
		s.static[addr] = price
	}
	return s, nil
}

// PriceUSD implements PriceOracle
func (s *PriceService) PriceUSD(ctx context.Context, asset string) (decimal.Decimal, error) {
	addr := utils.NormalizeAddress(asset)
	if price, ok := s.static[addr]; ok {
		return price, nil
	}

	if s.cache != nil {
		price, err := s.cache.Get(ctx, addr)
		if err == nil {
			return price, nil
		}
		if !errors.Is(err, clients.ErrPriceNotFound) {
			s.log.WithError(err).Warn("⚠️ Price cache unavailable")
		}
	}

	if s.feed == nil {
		return decimal.Zero, fmt.Errorf("%s: %w", addr, ErrUnknownAsset)
	}
	price, err := s.feed.GetPrice(ctx, addr)
	if errors.Is(err, clients.ErrPriceNotFound) {
		return decimal.Zero, fmt.Errorf("%s: %w", addr, ErrUnknownAsset)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("price feed: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, addr, price); err != nil {
			s.log.WithError(err).Warn("⚠️ Failed to cache price")
		}
	}
	return price, nil
}

// Refresh fetches asset from the feed and overwrites the cached price.
// Assets in the configured table are never refreshed.
func (s *PriceService) Refresh(ctx context.Context, asset string) (decimal.Decimal, bool, error) {
	addr := utils.NormalizeAddress(asset)
	if _, ok := s.static[addr]; ok || s.feed == nil {
		return decimal.Zero, false, nil
	}
	price, err := s.feed.GetPrice(ctx, addr)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("price feed %s: %w", addr, err)
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, addr, price); err != nil {
			return price, true, fmt.Errorf("price cache %s: %w", addr, err)
		}
	}
	return price, true, nil
}

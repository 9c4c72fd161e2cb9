package service

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"chainpay-gateway/config"
	"chainpay-gateway/internal/core/ports"
	"chainpay-gateway/pkg/logger"

	"github.com/rs/zerolog"
)

// priceService resolves a USD price for the settlement asset. Order: live
// feed (bounded retries within the timeout), then a non-expired cached
// snapshot, then the configured default. It never fails: invoice creation
// must not depend on the feed being up.
type priceService struct {
	cfg        config.PriceFeedConfig
	cache      ports.PriceCache
	httpClient HTTPClient
	log        zerolog.Logger
}

// NewPriceService creates the price resolver.
func NewPriceService(cfg config.PriceFeedConfig, cache ports.PriceCache, httpClient HTTPClient, log zerolog.Logger) ports.PriceService {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &priceService{
		cfg:        cfg,
		cache:      cache,
		httpClient: httpClient,
		log:        logger.Component(log, "price_service"),
	}
}

type priceFeedResponse struct {
	PriceUSD float64 `json:"price_usd"`
}

// TokenPriceUSD returns the best available USD price snapshot.
func (s *priceService) TokenPriceUSD(ctx context.Context) float64 {
	if price, ok := s.fetchLive(ctx); ok {
		if err := s.cache.Set(ctx, price, s.cfg.CacheTTL); err != nil {
			s.log.Warn().Err(err).Msg("price cache write failed")
		}
		return price
	}

	if price, ok, err := s.cache.Get(ctx); err == nil && ok {
		s.log.Debug().Float64("price_usd", price).Msg("using cached price")
		return price
	}

	s.log.Warn().Float64("default_usd", s.cfg.DefaultUSD).Msg("price feed and cache unavailable, using default")
	return s.cfg.DefaultUSD
}

func (s *priceService) fetchLive(ctx context.Context) (float64, bool) {
	if s.cfg.URL == "" {
		return 0, false
	}

	retries := s.cfg.Retries
	if retries < 1 {
		retries = 1
	}

	deadline, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	for attempt := 0; attempt < retries; attempt++ {
		if attempt > 0 {
			select {
			case <-deadline.Done():
				return 0, false
			case <-time.After(100 * time.Millisecond << (attempt - 1)):
			}
		}

		req, err := http.NewRequestWithContext(deadline, http.MethodGet, s.cfg.URL, nil)
		if err != nil {
			return 0, false
		}
		resp, err := s.httpClient.Do(req)
		if err != nil {
			continue
		}
		raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		resp.Body.Close()
		if readErr != nil || resp.StatusCode != http.StatusOK {
			continue
		}

		var feed priceFeedResponse
		if err := json.Unmarshal(raw, &feed); err != nil || feed.PriceUSD <= 0 {
			continue
		}
		return feed.PriceUSD, true
	}
	return 0, false
}

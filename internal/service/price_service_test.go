package service

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"chainpay-gateway/config"
	"chainpay-gateway/internal/core/ports/mocks"

	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"
)

func priceFeedConfig(url string) config.PriceFeedConfig {
	return config.PriceFeedConfig{
		URL:        url,
		Timeout:    2 * time.Second,
		Retries:    2,
		DefaultUSD: 0.5,
		CacheTTL:   5 * time.Minute,
	}
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestTokenPriceUSD_LiveFeedWins(t *testing.T) {
	ctrl := gomock.NewController(t)
	cache := mocks.NewMockPriceCache(ctrl)
	client := &mockHTTPClient{doFunc: func(*http.Request) (*http.Response, error) {
		return jsonResponse(200, `{"price_usd":1.25}`), nil
	}}
	svc := NewPriceService(priceFeedConfig("https://feed.example/price"), cache, client, newTestLogger())

	cache.EXPECT().Set(gomock.Any(), 1.25, 5*time.Minute).Return(nil)

	assert.Equal(t, 1.25, svc.TokenPriceUSD(context.Background()))
}

func TestTokenPriceUSD_RetriesThenSucceeds(t *testing.T) {
	ctrl := gomock.NewController(t)
	cache := mocks.NewMockPriceCache(ctrl)
	calls := 0
	client := &mockHTTPClient{doFunc: func(*http.Request) (*http.Response, error) {
		calls++
		if calls == 1 {
			return jsonResponse(502, `{}`), nil
		}
		return jsonResponse(200, `{"price_usd":0.9}`), nil
	}}
	svc := NewPriceService(priceFeedConfig("https://feed.example/price"), cache, client, newTestLogger())

	cache.EXPECT().Set(gomock.Any(), 0.9, 5*time.Minute).Return(nil)

	assert.Equal(t, 0.9, svc.TokenPriceUSD(context.Background()))
	assert.Equal(t, 2, calls)
}

func TestTokenPriceUSD_FallsBackToCache(t *testing.T) {
	ctrl := gomock.NewController(t)
	cache := mocks.NewMockPriceCache(ctrl)
	client := &mockHTTPClient{doFunc: func(*http.Request) (*http.Response, error) {
		return nil, assert.AnError
	}}
	svc := NewPriceService(priceFeedConfig("https://feed.example/price"), cache, client, newTestLogger())

	cache.EXPECT().Get(gomock.Any()).Return(1.1, true, nil)

	assert.Equal(t, 1.1, svc.TokenPriceUSD(context.Background()))
}

func TestTokenPriceUSD_FallsBackToDefault(t *testing.T) {
	ctrl := gomock.NewController(t)
	cache := mocks.NewMockPriceCache(ctrl)
	client := &mockHTTPClient{doFunc: func(*http.Request) (*http.Response, error) {
		return nil, assert.AnError
	}}
	svc := NewPriceService(priceFeedConfig("https://feed.example/price"), cache, client, newTestLogger())

	cache.EXPECT().Get(gomock.Any()).Return(0.0, false, nil)

	assert.Equal(t, 0.5, svc.TokenPriceUSD(context.Background()))
}

func TestTokenPriceUSD_NoFeedConfigured(t *testing.T) {
	ctrl := gomock.NewController(t)
	cache := mocks.NewMockPriceCache(ctrl)
	// No HTTP calls at all when the URL is empty.
	client := &mockHTTPClient{doFunc: func(*http.Request) (*http.Response, error) {
		t.Fatal("unexpected HTTP call")
		return nil, nil
	}}
	svc := NewPriceService(priceFeedConfig(""), cache, client, newTestLogger())

	cache.EXPECT().Get(gomock.Any()).Return(0.0, false, nil)

	assert.Equal(t, 0.5, svc.TokenPriceUSD(context.Background()))
}

func TestTokenPriceUSD_RejectsNonPositivePrice(t *testing.T) {
	ctrl := gomock.NewController(t)
	cache := mocks.NewMockPriceCache(ctrl)
	client := &mockHTTPClient{doFunc: func(*http.Request) (*http.Response, error) {
		return jsonResponse(200, `{"price_usd":0}`), nil
	}}
	svc := NewPriceService(priceFeedConfig("https://feed.example/price"), cache, client, newTestLogger())

	cache.EXPECT().Get(gomock.Any()).Return(0.0, false, nil)

	assert.Equal(t, 0.5, svc.TokenPriceUSD(context.Background()))
}

package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// ErrPriceNotFound feed or cache has no price for the asset
var ErrPriceNotFound = errors.New("price not found")

// PriceFeedClient client for an external USD price feed
type PriceFeedClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewPriceFeedClient creates a new price feed client
func NewPriceFeedClient(baseURL string) *PriceFeedClient {
	return &PriceFeedClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type priceResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Asset string `json:"asset"`
		Price string `json:"price"`
	} `json:"data"`
	Error string `json:"error,omitempty"`
}

// GetPrice returns the USD price of asset
func (c *PriceFeedClient) GetPrice(ctx context.Context, asset string) (decimal.Decimal, error) {
	endpoint := fmt.Sprintf("%s/api/v1/prices?asset=%s", c.baseURL, url.QueryEscape(asset))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return decimal.Zero, ErrPriceNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("price feed returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed priceResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse response: %w", err)
	}
	if !parsed.Success {
		return decimal.Zero, fmt.Errorf("price feed returned error: %s", parsed.Error)
	}
	price, err := decimal.NewFromString(parsed.Data.Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid price %q: %w", parsed.Data.Price, err)
	}
	return price, nil
}

// PriceCache redis cache of feed prices
type PriceCache struct {
	client     *redis.Client
	expiration time.Duration
}

// NewPriceCache creates a price cache over client
func NewPriceCache(client *redis.Client, expiration time.Duration) *PriceCache {
	return &PriceCache{client: client, expiration: expiration}
}

// NewRedisClient connects to redis and verifies the connection
func NewRedisClient(ctx context.Context, addr, password string, db int, timeout time.Duration) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: timeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return client, nil
}

func (c *PriceCache) key(asset string) string {
	return fmt.Sprintf("price:usd:%s", asset)
}

// Get returns a cached price or ErrPriceNotFound
func (c *PriceCache) Get(ctx context.Context, asset string) (decimal.Decimal, error) {
	value, err := c.client.Get(ctx, c.key(asset)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return decimal.Zero, ErrPriceNotFound
		}
		return decimal.Zero, fmt.Errorf("failed to get price from cache: %w", err)
	}
	price, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse cached price: %w", err)
	}
	return price, nil
}

// Set caches a price
func (c *PriceCache) Set(ctx context.Context, asset string, price decimal.Decimal) error {
	if err := c.client.Set(ctx, c.key(asset), price.String(), c.expiration).Err(); err != nil {
		return fmt.Errorf("failed to cache price: %w", err)
	}
	return nil
}

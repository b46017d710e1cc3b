package shipping

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"
)

type CarrierRequest struct {
	Country  string      `json:"country"`
	State    string      `json:"state,omitempty"`
	Size     PackageSize `json:"package_size"`
	WeightKg float64     `json:"weight_kg"`
}

type CarrierRate struct {
	Service     string `json:"service"`
	PriceCents  int64  `json:"price_cents"`
	Currency    string `json:"currency"`
	TransitDays int32  `json:"transit_days"`
}

// CarrierError is a structured rejection from the rating API. Every
// carrier failure falls back to a manual quote; the code only matters
// for the logs.
type CarrierError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *CarrierError) Error() string {
	return fmt.Sprintf("carrier error %s: %s", e.Code, e.Message)
}

type Carrier interface {
	Rate(ctx context.Context, req CarrierRequest) ([]CarrierRate, error)
}

// CarrierClient rates against an external HTTP API. Responses are
// cached in Redis and the call runs behind a circuit breaker so a
// degraded carrier cannot slow every international checkout.
type CarrierClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[[]CarrierRate]
	rdb     *redis.Client
	ttl     time.Duration
	logger  *slog.Logger
}

func NewCarrierClient(baseURL, apiKey string, timeout time.Duration, rdb *redis.Client, cacheTTL time.Duration, logger *slog.Logger) *CarrierClient {
	breaker := gobreaker.NewCircuitBreaker[[]CarrierRate](gobreaker.Settings{
		Name:    "carrier-rating",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return &CarrierClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		breaker: breaker,
		rdb:     rdb,
		ttl:     cacheTTL,
		logger:  logger,
	}
}

func (c *CarrierClient) Rate(ctx context.Context, req CarrierRequest) ([]CarrierRate, error) {
	key := fmt.Sprintf("carrier_rate:%s:%s:%s:%.1f", req.Country, req.State, req.Size, req.WeightKg)

	if cached, err := c.rdb.Get(ctx, key).Result(); err == nil {
		var rates []CarrierRate
		if err := json.Unmarshal([]byte(cached), &rates); err == nil {
			return rates, nil
		}
	} else if err != redis.Nil {
		c.logger.Warn("carrier rate cache read failed", "error", err)
	}

	rates, err := c.breaker.Execute(func() ([]CarrierRate, error) {
		return c.fetch(ctx, req)
	})
	if err != nil {
		return nil, err
	}

	if payload, err := json.Marshal(rates); err == nil {
		if err := c.rdb.Set(ctx, key, payload, c.ttl).Err(); err != nil {
			c.logger.Warn("carrier rate cache write failed", "error", err)
		}
	}
	return rates, nil
}

func (c *CarrierClient) fetch(ctx context.Context, req CarrierRequest) ([]CarrierRate, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal carrier request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rates", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build carrier request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call carrier: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var ce CarrierError
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(data, &ce) == nil && ce.Code != "" {
			return nil, &ce
		}
		return nil, fmt.Errorf("carrier returned status %d", resp.StatusCode)
	}

	var out struct {
		Rates []CarrierRate `json:"rates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode carrier response: %w", err)
	}
	return out.Rates, nil
}

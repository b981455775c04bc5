package venue

// client.go — HTTP client for the external betting venue.
//
// Read endpoints (opportunities, prices, settlements) are idempotent and are
// retried with exponential backoff and jitter on 429/5xx/network errors.
// Order placement gets exactly one attempt: after an ambiguous failure the
// order may or may not exist on the venue, and reconciliation resolves that
// from the venue's own records instead of a blind retry.

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/jcastano/betfleet/internal/domain"
)

const (
	// Read limits at ~60% of the venue's documented quotas.
	listRatePerSec  = 5
	priceRatePerSec = 30

	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond
)

// Client talks to the venue's HTTP API with rate limiting and retries.
type Client struct {
	http         *http.Client
	base         string
	listLimiter  *rate.Limiter
	priceLimiter *rate.Limiter
}

// NewClient creates a Client for the given base URL.
func NewClient(base string) *Client {
	return &Client{
		http:         &http.Client{Timeout: 10 * time.Second},
		base:         strings.TrimRight(base, "/"),
		listLimiter:  rate.NewLimiter(listRatePerSec, 2),
		priceLimiter: rate.NewLimiter(priceRatePerSec, 5),
	}
}

// ListOpportunities returns open markets, excluding the given categories.
func (c *Client) ListOpportunities(ctx context.Context, limit int, excludeCategories []string) ([]domain.Opportunity, error) {
	q := url.Values{}
	q.Set("limit", fmt.Sprintf("%d", limit))
	if len(excludeCategories) > 0 {
		q.Set("exclude", strings.Join(excludeCategories, ","))
	}

	var resp opportunitiesResponse
	u := fmt.Sprintf("%s/opportunities?%s", c.base, q.Encode())
	if err := c.get(ctx, c.listLimiter, u, &resp); err != nil {
		return nil, fmt.Errorf("venue.ListOpportunities: %w", err)
	}
	return mapOpportunities(resp.Data), nil
}

// GetPrice returns the current quote for a token, or nil if the venue has
// none.
func (c *Client) GetPrice(ctx context.Context, tokenID string) (*float64, error) {
	var resp priceResponse
	u := fmt.Sprintf("%s/prices/%s", c.base, url.PathEscape(tokenID))
	err := c.get(ctx, c.priceLimiter, u, &resp)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("venue.GetPrice %s: %w", tokenID, err)
	}
	if resp.Price == nil {
		return nil, nil
	}
	return resp.Price, nil
}

// Execute places an order. One attempt, no retry.
func (c *Client) Execute(ctx context.Context, order domain.Order) (domain.ExecutionReceipt, error) {
	body := orderRequest{
		ClientOrderID: order.BetID,
		MarketID:      order.OpportunityID,
		TokenID:       order.TokenID,
		Side:          order.Side,
		Size:          order.Size,
		LimitPrice:    order.LimitPrice,
	}
	b, err := json.Marshal(body)
	if err != nil {
		return domain.ExecutionReceipt{}, fmt.Errorf("venue.Execute: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/orders", bytes.NewReader(b))
	if err != nil {
		return domain.ExecutionReceipt{}, fmt.Errorf("venue.Execute: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.ExecutionReceipt{}, fmt.Errorf("venue.Execute: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.ExecutionReceipt{}, fmt.Errorf("venue.Execute: status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var out orderResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.ExecutionReceipt{}, fmt.Errorf("venue.Execute: decode: %w", err)
	}
	if !out.Success || out.OrderID == "" {
		return domain.ExecutionReceipt{}, fmt.Errorf("venue.Execute: rejected: %s", out.ErrorMsg)
	}
	return domain.ExecutionReceipt{VenueOrderID: out.OrderID, FilledPrice: out.FilledPrice}, nil
}

// GetSettlement returns the settlement for an executed order, or nil if the
// market has not resolved.
func (c *Client) GetSettlement(ctx context.Context, venueOrderID string) (*domain.Settlement, error) {
	var resp settlementResponse
	u := fmt.Sprintf("%s/settlements/%s", c.base, url.PathEscape(venueOrderID))
	err := c.get(ctx, c.listLimiter, u, &resp)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("venue.GetSettlement %s: %w", venueOrderID, err)
	}
	if !resp.Settled {
		return nil, nil
	}
	return mapSettlement(resp), nil
}

// get does a GET with rate limiting and retries.
func (c *Client) get(ctx context.Context, limiter *rate.Limiter, u string, out any) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			if attempt == maxRetries {
				return fmt.Errorf("request failed after %d retries: %w", maxRetries, err)
			}
			c.sleep(ctx, attempt)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusNotFound:
			resp.Body.Close()
			return errNotFound

		case resp.StatusCode == http.StatusTooManyRequests:
			resp.Body.Close()
			if attempt == maxRetries {
				return fmt.Errorf("rate limited after %d retries", maxRetries)
			}
			slog.Warn("rate limited by venue", "attempt", attempt+1)
			c.sleep(ctx, attempt)
			continue

		case resp.StatusCode >= 500:
			resp.Body.Close()
			if attempt == maxRetries {
				return fmt.Errorf("server error %d after %d retries", resp.StatusCode, maxRetries)
			}
			c.sleep(ctx, attempt)
			continue

		case resp.StatusCode != http.StatusOK:
			payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
		}

		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("decode: %w", err)
		}
		return nil
	}
	return fmt.Errorf("retries exhausted")
}

// sleep waits with exponential backoff plus jitter, honoring cancellation.
func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := baseRetryWait * (1 << attempt)
	wait += time.Duration(rand.Int63n(int64(wait / 2)))
	select {
	case <-ctx.Done():
	case <-time.After(wait):
	}
}

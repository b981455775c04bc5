// Package forecast adapts the external probability forecaster. The service is
// opaque: it receives a market description and returns a probability and a
// confidence score, and the engine treats both as ground truth.
package forecast

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/jcastano/betfleet/internal/domain"
)

const predictRatePerSec = 10

// Client calls the forecaster's HTTP API.
type Client struct {
	http    *http.Client
	base    string
	limiter *rate.Limiter
}

// NewClient creates a Client for the given base URL.
func NewClient(base string) *Client {
	return &Client{
		http:    &http.Client{Timeout: 15 * time.Second},
		base:    strings.TrimRight(base, "/"),
		limiter: rate.NewLimiter(predictRatePerSec, 2),
	}
}

type predictRequest struct {
	OpportunityID string `json:"opportunity_id"`
	Category      string `json:"category"`
	Description   string `json:"description"`
}

type predictResponse struct {
	Probability float64 `json:"probability"`
	Confidence  float64 `json:"confidence"`
}

// Predict returns the forecaster's estimate for one opportunity. Failures are
// wrapped in ForecastError so callers can skip the candidate cleanly.
func (c *Client) Predict(ctx context.Context, opp domain.Opportunity) (domain.Forecast, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return domain.Forecast{}, domain.ForecastError{OpportunityID: opp.ID, Err: err}
	}

	b, err := json.Marshal(predictRequest{
		OpportunityID: opp.ID,
		Category:      opp.Category,
		Description:   opp.Description,
	})
	if err != nil {
		return domain.Forecast{}, domain.ForecastError{OpportunityID: opp.ID, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/predict", bytes.NewReader(b))
	if err != nil {
		return domain.Forecast{}, domain.ForecastError{OpportunityID: opp.ID, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.Forecast{}, domain.ForecastError{OpportunityID: opp.ID, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.Forecast{}, domain.ForecastError{
			OpportunityID: opp.ID,
			Err:           fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload))),
		}
	}

	var out predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.Forecast{}, domain.ForecastError{OpportunityID: opp.ID, Err: fmt.Errorf("decode: %w", err)}
	}
	if out.Probability < 0 || out.Probability > 1 {
		return domain.Forecast{}, domain.ForecastError{
			OpportunityID: opp.ID,
			Err:           fmt.Errorf("probability %.3f out of range", out.Probability),
		}
	}
	return domain.Forecast{Probability: out.Probability, Confidence: out.Confidence}, nil
}

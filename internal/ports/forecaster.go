package ports

import (
	"context"

	"github.com/jcastano/betfleet/internal/domain"
)

// Forecaster turns an opportunity's signal bundle into a probability and
// confidence estimate. The signal collection behind it is opaque to the core.
type Forecaster interface {
	// Predict returns the forecast for the opportunity. Fails with a
	// domain.ForecastError that the evaluator records as a skip.
	Predict(ctx context.Context, opp domain.Opportunity) (domain.Forecast, error)
}

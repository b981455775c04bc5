package ports

import (
	"context"

	"github.com/jcastano/betfleet/internal/domain"
)

// Venue is the external market the engine bets against. Read methods
// (ListOpportunities, GetPrice, GetSettlement) are idempotent and may be
// retried; Execute is never blindly retried — an ambiguous outcome is
// resolved later by reconciliation against GetSettlement.
type Venue interface {
	// ListOpportunities returns open binary-outcome markets, excluding the
	// given categories.
	ListOpportunities(ctx context.Context, limit int, excludeCategories []string) ([]domain.Opportunity, error)

	// GetPrice returns the current price for a token, or nil if the venue
	// has no quote.
	GetPrice(ctx context.Context, tokenID string) (*float64, error)

	// Execute places an order. Returns a venue-assigned correlation id used
	// by reconciliation to match settlements.
	Execute(ctx context.Context, order domain.Order) (domain.ExecutionReceipt, error)

	// GetSettlement returns the settlement record for an executed order, or
	// nil if the market has not resolved yet.
	GetSettlement(ctx context.Context, venueOrderID string) (*domain.Settlement, error)
}

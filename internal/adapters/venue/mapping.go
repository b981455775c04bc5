package venue

import (
	"errors"
	"time"

	"github.com/jcastano/betfleet/internal/domain"
)

var errNotFound = errors.New("not found")

func isNotFound(err error) bool { return errors.Is(err, errNotFound) }

// Wire types for the venue API.

type opportunitiesResponse struct {
	Data []opportunityDTO `json:"data"`
}

type opportunityDTO struct {
	ID          string   `json:"id"`
	Category    string   `json:"category"`
	Description string   `json:"description"`
	Price       *float64 `json:"price"`
	YesToken    string   `json:"yes_token"`
	NoToken     string   `json:"no_token"`
}

type priceResponse struct {
	TokenID string   `json:"token_id"`
	Price   *float64 `json:"price"`
}

type orderRequest struct {
	ClientOrderID string  `json:"client_order_id"`
	MarketID      string  `json:"market_id"`
	TokenID       string  `json:"token_id"`
	Side          string  `json:"side"`
	Size          float64 `json:"size"`
	LimitPrice    float64 `json:"limit_price"`
}

type orderResponse struct {
	Success     bool    `json:"success"`
	OrderID     string  `json:"order_id"`
	FilledPrice float64 `json:"filled_price"`
	ErrorMsg    string  `json:"error,omitempty"`
}

type settlementResponse struct {
	OrderID   string    `json:"order_id"`
	Settled   bool      `json:"settled"`
	Won       bool      `json:"won"`
	NetPnL    float64   `json:"net_pnl"`
	SettledAt time.Time `json:"settled_at"`
}

func mapOpportunities(dtos []opportunityDTO) []domain.Opportunity {
	opps := make([]domain.Opportunity, 0, len(dtos))
	for _, d := range dtos {
		opps = append(opps, domain.Opportunity{
			ID:          d.ID,
			Category:    d.Category,
			Description: d.Description,
			VenuePrice:  d.Price,
			YesToken:    d.YesToken,
			NoToken:     d.NoToken,
		})
	}
	return opps
}

func mapSettlement(r settlementResponse) *domain.Settlement {
	return &domain.Settlement{
		VenueOrderID: r.OrderID,
		Won:          r.Won,
		NetPnL:       r.NetPnL,
		SettledAt:    r.SettledAt,
	}
}

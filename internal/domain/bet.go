package domain

import "time"

// BetStatus represents the lifecycle of a bet from reservation to settlement.
type BetStatus string

const (
	BetReserved    BetStatus = "RESERVED"
	BetExecuted    BetStatus = "EXECUTED"
	BetSettledWin  BetStatus = "SETTLED_WIN"
	BetSettledLoss BetStatus = "SETTLED_LOSS"
	BetRolledBack  BetStatus = "ROLLED_BACK"
	BetFailed      BetStatus = "FAILED"
)

// IsOpen reports whether the bet still locks capital.
func (s BetStatus) IsOpen() bool {
	return s == BetReserved || s == BetExecuted
}

// IsSettled reports whether the bet has a final P/L applied.
func (s BetStatus) IsSettled() bool {
	return s == BetSettledWin || s == BetSettledLoss
}

// Bet is a committed (or attempted) position of one agent in one market.
// Bets are never deleted; failed and rolled-back bets remain as audit records.
type Bet struct {
	ID            string // local UUID
	AgentID       string
	OpportunityID string
	Category      string
	Side          string // "YES" or "NO"
	TokenID       string
	Size          float64 // USDC reserved
	Probability   float64 // forecast probability at reservation
	Confidence    float64 // forecast confidence 0-100
	VenuePrice    float64 // price used at evaluation time
	NetEV         float64 // fee-adjusted expected value at evaluation time
	Status        BetStatus
	VenueOrderID  string // venue-assigned correlation id, set after execution
	NetPnL        *float64
	NeedsReview   bool // local and venue state diverged, reconciliation must confirm
	PlacedAt      time.Time
	SettledAt     *time.Time
}

// Settlement is the venue's authoritative record for an executed order.
type Settlement struct {
	VenueOrderID string
	Won          bool
	NetPnL       float64 // net profit or loss, excludes the original reservation
	SettledAt    time.Time
}

// Opportunity is a candidate binary-outcome market surfaced by the venue.
// Ephemeral: it exists only within one cycle's evaluation pass.
type Opportunity struct {
	ID          string
	Category    string
	Description string
	VenuePrice  *float64 // nil if the venue has no quote yet
	YesToken    string
	NoToken     string
}

// Validate checks that the opportunity carries the identifiers required to
// price and execute it.
func (o Opportunity) Validate() error {
	if o.ID == "" {
		return ValidationError{Field: "id", Reason: "missing"}
	}
	if o.YesToken == "" || o.NoToken == "" {
		return ValidationError{Field: "tokens", Reason: "missing venue token ids"}
	}
	return nil
}

// Forecast is the opaque forecaster's estimate for one opportunity.
type Forecast struct {
	Probability float64 // ∈ [0,1], probability of the YES outcome
	Confidence  float64 // ∈ [0,100]
}

// Order is the execution request sent to the venue.
type Order struct {
	BetID         string
	OpportunityID string
	TokenID       string
	Side          string
	Size          float64
	LimitPrice    float64
}

// ExecutionReceipt is the venue's response to a successful execution.
type ExecutionReceipt struct {
	VenueOrderID string
	FilledPrice  float64
}

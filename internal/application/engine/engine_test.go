package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcastano/betfleet/internal/domain"
)

// --- fakes ---

type fakeVenue struct {
	mu          sync.Mutex
	opps        []domain.Opportunity
	prices      map[string]float64
	failExecute bool
	executed    []domain.Order
	settlements map[string]*domain.Settlement
}

func (f *fakeVenue) ListOpportunities(_ context.Context, _ int, _ []string) ([]domain.Opportunity, error) {
	return f.opps, nil
}

func (f *fakeVenue) GetPrice(_ context.Context, tokenID string) (*float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.prices[tokenID]; ok {
		return &p, nil
	}
	return nil, nil
}

func (f *fakeVenue) Execute(_ context.Context, order domain.Order) (domain.ExecutionReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failExecute {
		return domain.ExecutionReceipt{}, errors.New("venue rejected order")
	}
	f.executed = append(f.executed, order)
	return domain.ExecutionReceipt{VenueOrderID: "v-" + order.BetID, FilledPrice: order.LimitPrice}, nil
}

func (f *fakeVenue) GetSettlement(_ context.Context, venueOrderID string) (*domain.Settlement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settlements[venueOrderID], nil
}

type fakeForecaster struct {
	probability float64
	confidence  float64
	err         error
}

func (f *fakeForecaster) Predict(_ context.Context, _ domain.Opportunity) (domain.Forecast, error) {
	if f.err != nil {
		return domain.Forecast{}, f.err
	}
	return domain.Forecast{Probability: f.probability, Confidence: f.confidence}, nil
}

type fakeLedger struct {
	mu          sync.Mutex
	bets        map[string]domain.Bet
	adaptations []domain.AdaptationRecord
	tierStates  map[string]domain.TierState
	reports     []domain.CycleReport
	failPersist bool
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{bets: make(map[string]domain.Bet), tierStates: make(map[string]domain.TierState)}
}

func (l *fakeLedger) PersistBet(_ context.Context, bet domain.Bet) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failPersist {
		return errors.New("disk full")
	}
	l.bets[bet.ID] = bet
	return nil
}

func (l *fakeLedger) UpdateBetStatus(_ context.Context, betID string, status domain.BetStatus) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.bets[betID]
	if !ok {
		return domain.ErrBetNotFound
	}
	b.Status = status
	l.bets[betID] = b
	return nil
}

func (l *fakeLedger) SettleBet(_ context.Context, betID string, status domain.BetStatus, netPnL float64, settledAt time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.bets[betID]
	if !ok {
		return domain.ErrBetNotFound
	}
	if b.Status.IsSettled() {
		return nil
	}
	b.Status = status
	b.NetPnL = &netPnL
	b.SettledAt = &settledAt
	l.bets[betID] = b
	return nil
}

func (l *fakeLedger) FlagBetForReview(_ context.Context, betID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.bets[betID]; ok {
		b.NeedsReview = true
		l.bets[betID] = b
	}
	return nil
}

func (l *fakeLedger) ListBets(_ context.Context, agentID string) ([]domain.Bet, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.Bet
	for _, b := range l.bets {
		if b.AgentID == agentID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (l *fakeLedger) ListOpenBets(_ context.Context, agentID string) ([]domain.Bet, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.Bet
	for _, b := range l.bets {
		if b.AgentID == agentID && b.Status.IsOpen() {
			out = append(out, b)
		}
	}
	return out, nil
}

func (l *fakeLedger) SaveTierState(_ context.Context, state domain.TierState) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tierStates[state.AgentID] = state
	return nil
}

func (l *fakeLedger) LoadTierState(_ context.Context, agentID string) (*domain.TierState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.tierStates[agentID]; ok {
		return &s, nil
	}
	return nil, nil
}

func (l *fakeLedger) AppendAdaptation(_ context.Context, rec domain.AdaptationRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.adaptations = append(l.adaptations, rec)
	return nil
}

func (l *fakeLedger) SaveCycleReport(_ context.Context, report domain.CycleReport) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reports = append(l.reports, report)
	return nil
}

func (l *fakeLedger) Close() error { return nil }

type fakeNotifier struct {
	mu      sync.Mutex
	reports []domain.CycleReport
}

func (n *fakeNotifier) NotifyCycle(_ context.Context, report domain.CycleReport, _ []domain.LeaderboardRow) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reports = append(n.reports, report)
	return nil
}

// --- helpers ---

func testOpportunity(id string) domain.Opportunity {
	price := 0.60
	return domain.Opportunity{
		ID:          id,
		Category:    "sports",
		Description: "test market " + id,
		VenuePrice:  &price,
		YesToken:    "tok-" + id,
		NoToken:     "ntok-" + id,
	}
}

func testEngine(venue *fakeVenue, ledger *fakeLedger, guard *GlobalCapGuard, agents ...*domain.Agent) (*Engine, *fakeNotifier) {
	notifier := &fakeNotifier{}
	fc := &fakeForecaster{probability: 0.80, confidence: 90}
	eng := New(venue, fc, ledger, notifier, guard, agents, Config{EvalWorkers: 2})
	return eng, notifier
}

// --- tests ---

func TestRunCycle_PlacesBetEndToEnd(t *testing.T) {
	venue := &fakeVenue{
		opps:   []domain.Opportunity{testOpportunity("o1")},
		prices: map[string]float64{"tok-o1": 0.60},
	}
	ledger := newFakeLedger()
	agent := domain.NewAgent("a1", "Agent One", domain.StrategyFixed, 1000)
	eng, notifier := testEngine(venue, ledger, NewGlobalCapGuard(0, 0), agent)

	report, err := eng.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.TotalPlaced())

	// 3% of 1000 at confidence 90
	assert.InDelta(t, 970.0, agent.Account.Balance(), 0.001)
	require.Len(t, venue.executed, 1)
	assert.InDelta(t, 30.0, venue.executed[0].Size, 0.001)

	require.Len(t, ledger.bets, 1)
	for _, b := range ledger.bets {
		assert.Equal(t, domain.BetExecuted, b.Status)
		assert.NotEmpty(t, b.VenueOrderID)
		assert.InDelta(t, 1.76, b.NetEV, 0.001)
	}
	assert.Len(t, notifier.reports, 1)
	assert.Len(t, ledger.reports, 1)
}

func TestRunCycle_VenueFailureNeverTouchesLedger(t *testing.T) {
	venue := &fakeVenue{
		opps:        []domain.Opportunity{testOpportunity("o1")},
		prices:      map[string]float64{"tok-o1": 0.60},
		failExecute: true,
	}
	ledger := newFakeLedger()
	agent := domain.NewAgent("a1", "Agent One", domain.StrategyFixed, 1000)
	eng, _ := testEngine(venue, ledger, NewGlobalCapGuard(0, 0), agent)

	report, err := eng.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.TotalPlaced())
	assert.Empty(t, ledger.bets)
	assert.InDelta(t, 1000.0, agent.Account.Balance(), 0.001)

	// the failure survives as an audit record on the account
	bets := agent.Account.Bets()
	require.Len(t, bets, 1)
	assert.Equal(t, domain.BetFailed, bets[0].Status)

	counts := report.Agents[0].SkipCounts()
	assert.Equal(t, 1, counts[domain.SkipExecution])
}

func TestRunCycle_PersistFailureRollsBackAndFlags(t *testing.T) {
	venue := &fakeVenue{
		opps:   []domain.Opportunity{testOpportunity("o1")},
		prices: map[string]float64{"tok-o1": 0.60},
	}
	ledger := newFakeLedger()
	ledger.failPersist = true
	agent := domain.NewAgent("a1", "Agent One", domain.StrategyFixed, 1000)
	guard := NewGlobalCapGuard(50, 100)
	eng, _ := testEngine(venue, ledger, guard, agent)

	report, err := eng.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.TotalPlaced())
	assert.True(t, report.Agents[0].NeedsReview)

	// rollback restored the balance and unwound the guard
	assert.InDelta(t, 1000.0, agent.Account.Balance(), 0.001)
	used, exposure := guard.Usage()
	assert.InDelta(t, 0.0, used, 0.001)
	assert.InDelta(t, 0.0, exposure, 0.001)

	bets := agent.Account.Bets()
	require.Len(t, bets, 1)
	assert.Equal(t, domain.BetRolledBack, bets[0].Status)
	assert.True(t, bets[0].NeedsReview)
}

func TestRunCycle_SequentialAdmissionConsumesDailyBudget(t *testing.T) {
	// CONSERVATIVE at balance 100: daily budget = min(10%, 100) = 10. Four
	// candidates of size 3 each: the fourth must see 9 already consumed.
	venue := &fakeVenue{
		opps: []domain.Opportunity{
			testOpportunity("o1"), testOpportunity("o2"),
			testOpportunity("o3"), testOpportunity("o4"),
		},
		prices: map[string]float64{
			"tok-o1": 0.60, "tok-o2": 0.60, "tok-o3": 0.60, "tok-o4": 0.60,
		},
	}
	ledger := newFakeLedger()
	agent := domain.NewAgent("a1", "Agent One", domain.StrategyFixed, 100)
	eng, _ := testEngine(venue, ledger, NewGlobalCapGuard(0, 0), agent)

	report, err := eng.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.TotalPlaced())
	counts := report.Agents[0].SkipCounts()
	assert.Equal(t, 1, counts[domain.SkipDailyLoss])
}

func TestRunCycle_GlobalCapSerializedAcrossAgents(t *testing.T) {
	// Two agents each proposing 30 under a global daily cap of 50: exactly one
	// admission must fail even though each bet individually fits.
	venue := &fakeVenue{
		opps:   []domain.Opportunity{testOpportunity("o1")},
		prices: map[string]float64{"tok-o1": 0.60},
	}
	ledger := newFakeLedger()
	a1 := domain.NewAgent("a1", "Agent One", domain.StrategyFixed, 1000)
	a2 := domain.NewAgent("a2", "Agent Two", domain.StrategyFixed, 1000)
	eng, _ := testEngine(venue, ledger, NewGlobalCapGuard(50, 0), a1, a2)

	report, err := eng.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.TotalPlaced())

	skips := 0
	for _, summary := range report.Agents {
		skips += summary.SkipCounts()[domain.SkipGlobalCap]
	}
	assert.Equal(t, 1, skips)
}

func TestRunCycle_DuplicatePrevention(t *testing.T) {
	venue := &fakeVenue{
		opps:   []domain.Opportunity{testOpportunity("o1")},
		prices: map[string]float64{"tok-o1": 0.60},
	}
	ledger := newFakeLedger()
	agent := domain.NewAgent("a1", "Agent One", domain.StrategyFixed, 1000)
	eng, _ := testEngine(venue, ledger, NewGlobalCapGuard(0, 0), agent)

	ctx := context.Background()
	report1, err := eng.RunCycle(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report1.TotalPlaced())

	report2, err := eng.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report2.TotalPlaced())
	assert.Equal(t, 1, report2.Agents[0].SkipCounts()[domain.SkipDuplicate])
}

func TestRunCycle_StalePriceSkipped(t *testing.T) {
	venue := &fakeVenue{
		opps:   []domain.Opportunity{testOpportunity("o1")},
		prices: map[string]float64{"tok-o1": 0.70}, // moved from the 0.60 quote
	}
	ledger := newFakeLedger()
	agent := domain.NewAgent("a1", "Agent One", domain.StrategyFixed, 1000)
	eng, _ := testEngine(venue, ledger, NewGlobalCapGuard(0, 0), agent)

	report, err := eng.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.TotalPlaced())
	assert.Equal(t, 1, report.Agents[0].SkipCounts()[domain.SkipStalePrice])
	assert.Empty(t, venue.executed)
}

func TestRunCycle_SuspendedAgentSkipsWholeCycle(t *testing.T) {
	venue := &fakeVenue{
		opps:   []domain.Opportunity{testOpportunity("o1")},
		prices: map[string]float64{"tok-o1": 0.60},
	}
	ledger := newFakeLedger()
	agent := domain.NewAgent("a1", "Agent One", domain.StrategyFixed, 1000)
	agent.SetTierState(domain.TierState{Current: domain.TierSuspended})

	eng, _ := testEngine(venue, ledger, NewGlobalCapGuard(0, 0), agent)
	report, err := eng.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, report.TotalPlaced())
	assert.Equal(t, 1, report.Agents[0].SkipCounts()[domain.SkipCooldown])
	assert.Empty(t, venue.executed)
}

func TestRunCycle_DryRunNeverCallsVenueExecute(t *testing.T) {
	venue := &fakeVenue{
		opps:   []domain.Opportunity{testOpportunity("o1")},
		prices: map[string]float64{"tok-o1": 0.60},
	}
	ledger := newFakeLedger()
	agent := domain.NewAgent("a1", "Agent One", domain.StrategyFixed, 1000)
	notifier := &fakeNotifier{}
	fc := &fakeForecaster{probability: 0.80, confidence: 90}
	eng := New(venue, fc, ledger, notifier, NewGlobalCapGuard(0, 0), []*domain.Agent{agent}, Config{DryRun: true})

	report, err := eng.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.TotalPlaced())
	assert.Empty(t, venue.executed)

	for _, b := range ledger.bets {
		assert.Contains(t, b.VenueOrderID, "dry-")
	}
}

func TestRunCycle_NegativeEVRejected(t *testing.T) {
	venue := &fakeVenue{
		opps:   []domain.Opportunity{testOpportunity("o1")},
		prices: map[string]float64{"tok-o1": 0.60},
	}
	ledger := newFakeLedger()
	agent := domain.NewAgent("a1", "Agent One", domain.StrategyFixed, 1000)
	notifier := &fakeNotifier{}
	fc := &fakeForecaster{probability: 0.50, confidence: 90} // price 0.60: negative edge
	eng := New(venue, fc, ledger, notifier, NewGlobalCapGuard(0, 0), []*domain.Agent{agent}, Config{})

	report, err := eng.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.TotalPlaced())
	assert.Equal(t, 1, report.Agents[0].SkipCounts()[domain.SkipNegativeEV])
}

func TestRunCycle_TierWorseningAppendsAdaptation(t *testing.T) {
	venue := &fakeVenue{opps: nil}
	ledger := newFakeLedger()
	agent := domain.NewAgent("a1", "Agent One", domain.StrategyFixed, 1000)

	// force a drawdown before the cycle so the post-cycle recompute demotes
	require.NoError(t, agent.Account.Reserve(domain.Bet{ID: "b0", OpportunityID: "x", Size: 350, PlacedAt: time.Now()}))
	require.NoError(t, agent.Account.MarkExecuted("b0", "v-0"))
	require.NoError(t, agent.Account.Settle("b0", false, -350, time.Now()))

	eng, _ := testEngine(venue, ledger, NewGlobalCapGuard(0, 0), agent)
	_, err := eng.RunCycle(context.Background())
	require.NoError(t, err)

	require.Len(t, ledger.adaptations, 1)
	assert.Equal(t, domain.TierConservative, ledger.adaptations[0].From)
	assert.Equal(t, domain.TierRecovery, ledger.adaptations[0].To)
	assert.Equal(t, domain.TierRecovery, ledger.tierStates["a1"].Current)
}

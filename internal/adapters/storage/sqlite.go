package storage

// sqlite.go — SQLite-backed Ledger.
//
// Tables:
//   bets          — full bet audit trail (never deleted, one row per bet)
//   tier_state    — one row per agent: current/previous tier, cooldown, daily loss
//   adaptations   — append-only audit of tier downgrades
//   cycles        — one row per allocation cycle
//   cycle_agents  — per-agent outcomes within a cycle

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jcastano/betfleet/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS bets (
    id              TEXT PRIMARY KEY,   -- local UUID
    agent_id        TEXT NOT NULL,
    opportunity_id  TEXT NOT NULL,
    category        TEXT NOT NULL DEFAULT '',
    side            TEXT NOT NULL DEFAULT 'YES',
    token_id        TEXT NOT NULL DEFAULT '',
    size            REAL NOT NULL,
    probability     REAL NOT NULL DEFAULT 0,
    confidence      REAL NOT NULL DEFAULT 0,
    venue_price     REAL NOT NULL DEFAULT 0,
    net_ev          REAL NOT NULL DEFAULT 0,
    status          TEXT NOT NULL DEFAULT 'RESERVED',
    venue_order_id  TEXT NOT NULL DEFAULT '',
    net_pnl         REAL,
    needs_review    INTEGER NOT NULL DEFAULT 0,
    placed_at       DATETIME NOT NULL,
    settled_at      DATETIME
);

CREATE INDEX IF NOT EXISTS bets_agent   ON bets(agent_id);
CREATE INDEX IF NOT EXISTS bets_status  ON bets(status);
CREATE INDEX IF NOT EXISTS bets_market  ON bets(opportunity_id);

CREATE TABLE IF NOT EXISTS tier_state (
    agent_id         TEXT PRIMARY KEY,
    current_tier     TEXT NOT NULL,
    previous_tier    TEXT NOT NULL,
    cooldown_until   DATETIME,
    daily_loss_today REAL NOT NULL DEFAULT 0,
    last_reset_date  TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS adaptations (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    agent_id    TEXT NOT NULL,
    from_tier   TEXT NOT NULL,
    to_tier     TEXT NOT NULL,
    balance     REAL NOT NULL,
    changed_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS cycles (
    id               TEXT PRIMARY KEY,
    started_at       DATETIME NOT NULL,
    finished_at      DATETIME NOT NULL,
    events_analyzed  INTEGER NOT NULL DEFAULT 0,
    bets_placed      INTEGER NOT NULL DEFAULT 0,
    bets_skipped     INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS cycle_agents (
    cycle_id      TEXT NOT NULL,
    agent_id      TEXT NOT NULL,
    tier          TEXT NOT NULL,
    evaluated     INTEGER NOT NULL DEFAULT 0,
    selected      INTEGER NOT NULL DEFAULT 0,
    placed        INTEGER NOT NULL DEFAULT 0,
    skipped       INTEGER NOT NULL DEFAULT 0,
    balance_after REAL NOT NULL DEFAULT 0,
    needs_review  INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (cycle_id, agent_id)
);

CREATE INDEX IF NOT EXISTS cycles_at ON cycles(started_at DESC);
`

// SQLiteLedger implements ports.Ledger using SQLite (pure Go, no CGo).
type SQLiteLedger struct {
	db *sql.DB
}

// NewSQLiteLedger opens (or creates) the database at the given path and
// applies the schema. Use ":memory:" for tests.
func NewSQLiteLedger(path string) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteLedger: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteLedger: apply schema: %w", err)
	}
	return &SQLiteLedger{db: db}, nil
}

// PersistBet inserts or replaces the full bet record.
func (s *SQLiteLedger) PersistBet(ctx context.Context, b domain.Bet) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO bets
		  (id, agent_id, opportunity_id, category, side, token_id, size,
		   probability, confidence, venue_price, net_ev, status, venue_order_id,
		   net_pnl, needs_review, placed_at, settled_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		b.ID, b.AgentID, b.OpportunityID, b.Category, b.Side, b.TokenID, b.Size,
		b.Probability, b.Confidence, b.VenuePrice, b.NetEV, string(b.Status), b.VenueOrderID,
		b.NetPnL, boolToInt(b.NeedsReview), b.PlacedAt.UTC(), nullTime(b.SettledAt),
	)
	if err != nil {
		return fmt.Errorf("storage.PersistBet %s: %w", b.ID, err)
	}
	return nil
}

// UpdateBetStatus updates only the status field.
func (s *SQLiteLedger) UpdateBetStatus(ctx context.Context, betID string, status domain.BetStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE bets SET status=? WHERE id=?`, string(status), betID)
	return err
}

// SettleBet records the final status and net P/L. Idempotent: the WHERE
// clause only matches bets that are still open.
func (s *SQLiteLedger) SettleBet(ctx context.Context, betID string, status domain.BetStatus, netPnL float64, settledAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE bets SET status=?, net_pnl=?, settled_at=?
		WHERE id=? AND status IN ('RESERVED','EXECUTED')`,
		string(status), netPnL, settledAt.UTC(), betID)
	return err
}

// FlagBetForReview marks a bet whose local and venue state diverged.
func (s *SQLiteLedger) FlagBetForReview(ctx context.Context, betID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE bets SET needs_review=1 WHERE id=?`, betID)
	return err
}

// ListBets returns the full bet history for an agent, oldest first.
func (s *SQLiteLedger) ListBets(ctx context.Context, agentID string) ([]domain.Bet, error) {
	return s.queryBets(ctx, `WHERE agent_id=?`, agentID)
}

// ListOpenBets returns bets still locking capital.
func (s *SQLiteLedger) ListOpenBets(ctx context.Context, agentID string) ([]domain.Bet, error) {
	return s.queryBets(ctx, `WHERE agent_id=? AND status IN ('RESERVED','EXECUTED')`, agentID)
}

func (s *SQLiteLedger) queryBets(ctx context.Context, where string, args ...any) ([]domain.Bet, error) {
	q := `SELECT id, agent_id, opportunity_id, category, side, token_id, size,
	             probability, confidence, venue_price, net_ev, status, venue_order_id,
	             net_pnl, needs_review, placed_at, settled_at
	      FROM bets ` + where + ` ORDER BY placed_at ASC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("storage.queryBets: %w", err)
	}
	defer rows.Close()

	var bets []domain.Bet
	for rows.Next() {
		var (
			b         domain.Bet
			status    string
			netPnL    sql.NullFloat64
			review    int
			settledAt sql.NullTime
		)
		if err := rows.Scan(
			&b.ID, &b.AgentID, &b.OpportunityID, &b.Category, &b.Side, &b.TokenID, &b.Size,
			&b.Probability, &b.Confidence, &b.VenuePrice, &b.NetEV, &status, &b.VenueOrderID,
			&netPnL, &review, &b.PlacedAt, &settledAt,
		); err != nil {
			return nil, fmt.Errorf("storage.queryBets: scan: %w", err)
		}
		b.Status = domain.BetStatus(status)
		b.NeedsReview = review == 1
		if netPnL.Valid {
			v := netPnL.Float64
			b.NetPnL = &v
		}
		if settledAt.Valid {
			t := settledAt.Time
			b.SettledAt = &t
		}
		bets = append(bets, b)
	}
	return bets, rows.Err()
}

// SaveTierState upserts the agent's tier state.
func (s *SQLiteLedger) SaveTierState(ctx context.Context, st domain.TierState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tier_state
		  (agent_id, current_tier, previous_tier, cooldown_until, daily_loss_today, last_reset_date)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT(agent_id) DO UPDATE SET
		  current_tier     = excluded.current_tier,
		  previous_tier    = excluded.previous_tier,
		  cooldown_until   = excluded.cooldown_until,
		  daily_loss_today = excluded.daily_loss_today,
		  last_reset_date  = excluded.last_reset_date`,
		st.AgentID, st.Current.String(), st.Previous.String(),
		nullTime(st.CooldownUntil), st.DailyLossToday, st.LastResetDate,
	)
	if err != nil {
		return fmt.Errorf("storage.SaveTierState %s: %w", st.AgentID, err)
	}
	return nil
}

// LoadTierState returns the persisted tier state, or nil if none exists.
func (s *SQLiteLedger) LoadTierState(ctx context.Context, agentID string) (*domain.TierState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT agent_id, current_tier, previous_tier, cooldown_until, daily_loss_today, last_reset_date
		FROM tier_state WHERE agent_id=?`, agentID)

	var (
		st            domain.TierState
		current, prev string
		cooldownUntil sql.NullTime
	)
	err := row.Scan(&st.AgentID, &current, &prev, &cooldownUntil, &st.DailyLossToday, &st.LastResetDate)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage.LoadTierState %s: %w", agentID, err)
	}

	if st.Current, err = domain.ParseTier(current); err != nil {
		return nil, fmt.Errorf("storage.LoadTierState %s: %w", agentID, err)
	}
	if st.Previous, err = domain.ParseTier(prev); err != nil {
		return nil, fmt.Errorf("storage.LoadTierState %s: %w", agentID, err)
	}
	if cooldownUntil.Valid {
		t := cooldownUntil.Time
		st.CooldownUntil = &t
	}
	return &st, nil
}

// AppendAdaptation appends one row to the tier-downgrade audit trail.
func (s *SQLiteLedger) AppendAdaptation(ctx context.Context, rec domain.AdaptationRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO adaptations (agent_id, from_tier, to_tier, balance, changed_at)
		VALUES (?,?,?,?,?)`,
		rec.AgentID, rec.From.String(), rec.To.String(), rec.Balance, rec.ChangedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("storage.AppendAdaptation %s: %w", rec.AgentID, err)
	}
	return nil
}

// ListAdaptations returns the audit trail for an agent, newest first.
func (s *SQLiteLedger) ListAdaptations(ctx context.Context, agentID string) ([]domain.AdaptationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT agent_id, from_tier, to_tier, balance, changed_at
		FROM adaptations WHERE agent_id=? ORDER BY changed_at DESC`, agentID)
	if err != nil {
		return nil, fmt.Errorf("storage.ListAdaptations: %w", err)
	}
	defer rows.Close()

	var recs []domain.AdaptationRecord
	for rows.Next() {
		var (
			rec      domain.AdaptationRecord
			from, to string
		)
		if err := rows.Scan(&rec.AgentID, &from, &to, &rec.Balance, &rec.ChangedAt); err != nil {
			return nil, fmt.Errorf("storage.ListAdaptations: scan: %w", err)
		}
		if rec.From, err = domain.ParseTier(from); err != nil {
			return nil, err
		}
		if rec.To, err = domain.ParseTier(to); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// SaveCycleReport persists the cycle summary plus one row per agent.
func (s *SQLiteLedger) SaveCycleReport(ctx context.Context, r domain.CycleReport) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.SaveCycleReport: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO cycles (id, started_at, finished_at, events_analyzed, bets_placed, bets_skipped)
		VALUES (?,?,?,?,?,?)`,
		r.ID, r.StartedAt.UTC(), r.FinishedAt.UTC(), r.EventsAnalyzed, r.TotalPlaced(), r.TotalSkipped(),
	); err != nil {
		return fmt.Errorf("storage.SaveCycleReport: insert cycle: %w", err)
	}

	for _, a := range r.Agents {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO cycle_agents
			  (cycle_id, agent_id, tier, evaluated, selected, placed, skipped, balance_after, needs_review)
			VALUES (?,?,?,?,?,?,?,?,?)`,
			r.ID, a.AgentID, a.Tier.String(), a.Evaluated, a.Selected, a.Placed,
			len(a.Skipped), a.BalanceAfter, boolToInt(a.NeedsReview),
		); err != nil {
			return fmt.Errorf("storage.SaveCycleReport: insert agent %s: %w", a.AgentID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.SaveCycleReport: commit: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteLedger) Close() error {
	return s.db.Close()
}

// --- internal helpers ---

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

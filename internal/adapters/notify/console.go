package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/jcastano/betfleet/internal/domain"
)

// Console implements ports.Notifier, writing cycle reports and the agent
// leaderboard to a terminal.
type Console struct {
	out   io.Writer
	table bool
}

// NewConsole creates a notifier that writes to stdout.
func NewConsole(table bool) *Console {
	return &Console{out: os.Stdout, table: table}
}

// NewConsoleWriter creates a notifier for tests.
func NewConsoleWriter(w io.Writer, table bool) *Console {
	return &Console{out: w, table: table}
}

// NotifyCycle prints the cycle outcome in the configured mode.
func (c *Console) NotifyCycle(_ context.Context, report domain.CycleReport, board []domain.LeaderboardRow) error {
	if c.table {
		c.printFull(report, board)
	} else {
		c.printCompact(report, board)
	}
	return nil
}

// printCompact prints the essentials in one line per agent.
func (c *Console) printCompact(report domain.CycleReport, board []domain.LeaderboardRow) {
	now := report.FinishedAt.Format("15:04:05")

	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %d mkts → placed:%d skipped:%d",
		now, report.EventsAnalyzed, report.TotalPlaced(), report.TotalSkipped())

	for _, row := range board {
		fmt.Fprintf(&sb, " | %s %s $%.2f roi%+.1f%%",
			compactName(row.Name, 12), tierBadge(row.Tier), row.Balance+row.Exposure, row.ROI*100)
	}

	fmt.Fprintln(c.out, sb.String())
}

// printFull prints the leaderboard table plus a per-agent skip breakdown.
func (c *Console) printFull(report domain.CycleReport, board []domain.LeaderboardRow) {
	fmt.Fprintf(c.out, "\n[%s] cycle %s — %d opportunities, %d placed, %d skipped\n",
		report.FinishedAt.Format("15:04:05"), shortID(report.ID),
		report.EventsAnalyzed, report.TotalPlaced(), report.TotalSkipped())

	c.printLeaderboard(board)
	c.printSkips(report)
}

// printLeaderboard renders all agents sorted by equity.
func (c *Console) printLeaderboard(board []domain.LeaderboardRow) {
	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Agent", "Strategy", "Tier", "Balance", "Exposure", "ROI", "Bets", "Win%", "Streak")

	for i, row := range board {
		table.Append(
			fmt.Sprintf("%d", i+1),
			row.Name,
			row.Strategy.String(),
			tierBadge(row.Tier),
			fmt.Sprintf("$%.2f", row.Balance),
			fmt.Sprintf("$%.2f", row.Exposure),
			fmt.Sprintf("%+.1f%%", row.ROI*100),
			fmt.Sprintf("%d", row.TotalBets),
			fmt.Sprintf("%.0f%%", row.WinRate*100),
			streakLabel(row.Streak),
		)
	}
	table.Render()
}

// printSkips summarizes rejection reasons per agent, most frequent first.
func (c *Console) printSkips(report domain.CycleReport) {
	for _, agent := range report.Agents {
		counts := agent.SkipCounts()
		if len(counts) == 0 {
			continue
		}

		type rc struct {
			reason domain.SkipReason
			n      int
		}
		sorted := make([]rc, 0, len(counts))
		for reason, n := range counts {
			sorted = append(sorted, rc{reason, n})
		}
		sort.Slice(sorted, func(i, j int) bool {
			if sorted[i].n != sorted[j].n {
				return sorted[i].n > sorted[j].n
			}
			return sorted[i].reason < sorted[j].reason
		})

		parts := make([]string, 0, len(sorted))
		for _, s := range sorted {
			parts = append(parts, fmt.Sprintf("%s:%d", s.reason, s.n))
		}
		flag := ""
		if agent.NeedsReview {
			flag = "  ⚠ NEEDS REVIEW"
		}
		fmt.Fprintf(c.out, "  %s skips → %s%s\n", agent.AgentID, strings.Join(parts, " "), flag)
	}
}

func tierBadge(t domain.Tier) string {
	switch t {
	case domain.TierConservative:
		return "🟢 CONS"
	case domain.TierDefensive:
		return "🟡 DEF"
	case domain.TierRecovery:
		return "🟠 REC"
	case domain.TierEmergency:
		return "🔴 EMER"
	case domain.TierSuspended:
		return "⛔ SUSP"
	}
	return t.String()
}

func streakLabel(streak int) string {
	switch {
	case streak > 0:
		return fmt.Sprintf("W%d", streak)
	case streak < 0:
		return fmt.Sprintf("L%d", -streak)
	}
	return "-"
}

func compactName(name string, max int) string {
	if len(name) <= max {
		return name
	}
	return name[:max-1] + "…"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

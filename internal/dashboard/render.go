package dashboard

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/points-leaderboard/internal/format"
	"github.com/points-leaderboard/internal/types"
)

// BadgeColor is the color class of a rank badge
type BadgeColor string

const (
	BadgeGold   BadgeColor = "gold"
	BadgePurple BadgeColor = "purple"
	BadgeBlue   BadgeColor = "blue"
	BadgeGray   BadgeColor = "gray"
)

var badgeANSI = map[BadgeColor]string{
	BadgeGold:   "\033[1;33m",
	BadgePurple: "\033[1;35m",
	BadgeBlue:   "\033[1;34m",
	BadgeGray:   "\033[0;37m",
}

const ansiReset = "\033[0m"

// RankBadge picks the badge color for a rank: top 3 gold, top 10 purple,
// top 50 blue, everyone else gray
func RankBadge(rank int) BadgeColor {
	switch {
	case rank <= 3:
		return BadgeGold
	case rank <= 10:
		return BadgePurple
	case rank <= 50:
		return BadgeBlue
	default:
		return BadgeGray
	}
}

// Renderer writes dashboard sections to an io.Writer
type Renderer struct {
	out   io.Writer
	color bool
	now   func() time.Time
}

// NewRenderer creates a renderer. color enables ANSI rank badges.
func NewRenderer(out io.Writer, color bool) *Renderer {
	return &Renderer{out: out, color: color, now: time.Now}
}

// SetClock replaces the time source used for relative times
func (r *Renderer) SetClock(now func() time.Time) {
	r.now = now
}

// RenderHeader prints the dashboard title and total user count
func (r *Renderer) RenderHeader(totalUsers int64) {
	fmt.Fprintf(r.out, "Points Leaderboard  (%s users)\n\n", format.FormatCount(fmt.Sprint(totalUsers)))
}

// RenderStats prints the four stat cards
func (r *Renderer) RenderStats(stats *types.GlobalStats) {
	if stats == nil {
		return
	}

	tw := tabwriter.NewWriter(r.out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "Total Users\tTotal Points\tCurrent Week\tLast Snapshot")
	fmt.Fprintf(tw, "%s\t%s\t%s\t%sh ago\n",
		format.FormatCount(stats.TotalUsers.String()),
		format.FormatCount(stats.TotalPointsDistributed.String()),
		stats.CurrentWeekNumber,
		stats.LastSnapshotHour.String(),
	)
	tw.Flush()
	fmt.Fprintln(r.out)
}

// RenderTierFilter prints the tier legend with the selected filter marked.
// A nil selection means all tiers.
func (r *Renderer) RenderTierFilter(selected *types.Tier) {
	fmt.Fprintln(r.out, "Filter by Tier")

	tw := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	marker := func(on bool) string {
		if on {
			return "*"
		}
		return " "
	}

	fmt.Fprintf(tw, "%s\tAll\tAll Tiers\tAll Users\n", marker(selected == nil))
	for _, tier := range types.AllTiers() {
		fmt.Fprintf(tw, "%s\tTier %d\t%s\t%s\n",
			marker(selected != nil && *selected == tier),
			int(tier), format.TierName(tier), format.TierRange(tier))
	}
	tw.Flush()
	fmt.Fprintln(r.out)
}

// RenderUsersTable prints one page of users. Ranks continue across pages.
func (r *Renderer) RenderUsersTable(users []types.User, p *Pagination) {
	if len(users) == 0 {
		fmt.Fprintln(r.out, "No users found")
		return
	}

	// Badges are colored after alignment so escape codes add no width
	var table bytes.Buffer
	now := r.now()
	tw := tabwriter.NewWriter(&table, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "Rank\tAddress\tBalance (WMON)\tTier\tTotal Points\tLast Update\t")
	for i, user := range users {
		fmt.Fprintf(tw, "#%d\t%s\t%s\t%s\t%s\t%s\t\n",
			p.Rank(i),
			format.ShortAddress(user.ID),
			format.FormatBalance(user.CurrentBalance.String()),
			format.TierName(user.CurrentTier),
			format.FormatPoints(user.TotalPointsEarned.String()),
			format.FormatRelativeTime(user.LastUpdateTimestamp.String(), now),
		)
	}
	tw.Flush()

	lines := strings.SplitAfter(table.String(), "\n")
	for i, line := range lines {
		if r.color && i > 0 && i <= len(users) {
			rank := p.Rank(i - 1)
			label := fmt.Sprintf("#%d", rank)
			line = strings.Replace(line, label, badgeANSI[RankBadge(rank)]+label+ansiReset, 1)
		}
		fmt.Fprint(r.out, line)
	}
}

// PaginationLabel renders "1–25 of 1,200 users". When the total is only an
// estimate it renders "1–25 of more than 25 users" instead.
func PaginationLabel(p *Pagination, shown int, total int64, estimated bool) string {
	if shown == 0 {
		return fmt.Sprintf("0–0 of %s users", format.FormatCount(fmt.Sprint(total)))
	}

	from := int64(p.Page*p.RowsPerPage + 1)
	to := from + int64(shown) - 1
	if estimated {
		return fmt.Sprintf("%s–%s of more than %s users",
			format.FormatCount(fmt.Sprint(from)), format.FormatCount(fmt.Sprint(to)), format.FormatCount(fmt.Sprint(to)))
	}
	return fmt.Sprintf("%s–%s of %s users",
		format.FormatCount(fmt.Sprint(from)), format.FormatCount(fmt.Sprint(to)), format.FormatCount(fmt.Sprint(total)))
}

// RenderPagination prints the pagination footer
func (r *Renderer) RenderPagination(p *Pagination, shown int, total int64, estimated bool) {
	fmt.Fprintf(r.out, "\n%s   page %d/%d   rows per page: %d\n",
		PaginationLabel(p, shown, total, estimated), p.Page+1, p.PageCount(total), p.RowsPerPage)
}

// RenderUser prints a single user's detail with weekly points and snapshots
func (r *Renderer) RenderUser(user *types.UserDetail, weekNumber string) {
	if user == nil {
		return
	}

	tw := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Address\t%s\n", format.ChecksumAddress(user.ID))
	fmt.Fprintf(tw, "Balance\t%s WMON\n", format.FormatWei(user.CurrentBalanceWei.String()))
	fmt.Fprintf(tw, "Tier\t%s (%s)\n", format.TierName(user.CurrentTier), format.TierRange(user.CurrentTier))
	fmt.Fprintf(tw, "Total Points\t%s\n", format.FormatPoints(user.TotalPointsEarned.String()))
	fmt.Fprintf(tw, "Last Update\t%s\n", format.FormatFullDateTime(user.LastUpdateTimestamp.String()))
	tw.Flush()

	fmt.Fprintf(r.out, "\nWeek %s\n", weekNumber)
	if len(user.WeeklyPoints) == 0 {
		fmt.Fprintln(r.out, "No points recorded this week")
	}
	for _, wp := range user.WeeklyPoints {
		capNote := ""
		if wp.IsCapReached {
			capNote = " (cap reached)"
		}
		fmt.Fprintf(r.out, "%s / %s points%s\n",
			format.FormatPoints(wp.PointsEarnedThisWeek.String()), format.FormatPoints(wp.WeeklyCap.String()), capNote)
	}

	fmt.Fprintln(r.out, "\nRecent Snapshots")
	if len(user.Snapshots) == 0 {
		fmt.Fprintln(r.out, "No snapshots")
		return
	}
	now := r.now()
	tw = tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "When\tPoints\tTier\tBalance")
	for _, snap := range user.Snapshots {
		fmt.Fprintf(tw, "%s\t+%s\t%s\t%s\n",
			format.FormatRelativeTime(snap.Timestamp.String(), now),
			format.FormatPoints(snap.PointsAwarded.String()),
			format.TierName(snap.TierAtTime),
			format.FormatBalance(snap.BalanceAtTime.String()),
		)
	}
	tw.Flush()
}

// RenderError prints an alert banner in place of the dashboard
func (r *Renderer) RenderError(err error) {
	message := "An error occurred while fetching users"
	if err != nil && err.Error() != "" {
		message = err.Error()
	}
	line := strings.Repeat("!", len("Error: ")+len(message))
	fmt.Fprintf(r.out, "%s\nError: %s\n%s\n", line, message, line)
}

// RenderLoading prints the loading notice shown before the first page arrives
func (r *Renderer) RenderLoading() {
	fmt.Fprintln(r.out, "Loading users...")
}

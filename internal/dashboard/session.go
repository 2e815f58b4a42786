package dashboard

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/points-leaderboard/internal/client"
	"github.com/points-leaderboard/internal/types"
)

// Action tells the watch loop what to do after a command
type Action int

const (
	// ActionNone leaves the screen as it is
	ActionNone Action = iota
	// ActionRedraw fetches the current query and redraws
	ActionRedraw
	// ActionRefresh drops cached pages, then redraws
	ActionRefresh
	// ActionQuit ends the watch loop
	ActionQuit
)

// CommandHelp lists the commands Handle understands
const CommandHelp = "n next, p prev, rows N, tier N|all, r refresh, reset, q quit"

// Session is the interactive leaderboard state: pagination, the tier filter
// and the sort order. Every change produces a different query and so a
// different cache entry.
type Session struct {
	Pagination *Pagination
	Tier       *types.Tier
	SortBy     types.SortField
	SortOrder  types.SortOrder

	initialTier *types.Tier
	total       int64
}

// NewSession starts a session at the given page state and filter
func NewSession(p *Pagination, tier *types.Tier, sortBy types.SortField, order types.SortOrder) *Session {
	return &Session{
		Pagination:  p,
		Tier:        tier,
		SortBy:      sortBy,
		SortOrder:   order,
		initialTier: tier,
	}
}

// Query builds the API query for the current state
func (s *Session) Query() client.UsersQuery {
	q := s.Pagination.Query(s.Tier)
	if s.SortBy != "" {
		q.SortBy = s.SortBy
	}
	if s.SortOrder != "" {
		q.SortOrder = s.SortOrder
	}
	return q
}

// SetTotal records the total of the last page drawn. It bounds "next".
func (s *Session) SetTotal(total int64) {
	s.total = total
}

// Handle applies one command line. Unknown commands and bad arguments
// return an error and leave the state untouched.
func (s *Session) Handle(line string) (Action, error) {
	fields := strings.Fields(strings.ToLower(line))
	if len(fields) == 0 {
		return ActionRedraw, nil
	}

	switch fields[0] {
	case "n", "next":
		if s.total > 0 && int64(s.Pagination.Page+1) >= s.Pagination.PageCount(s.total) {
			return ActionNone, nil
		}
		s.Pagination.ChangePage(s.Pagination.Page + 1)
		return ActionRedraw, nil

	case "p", "prev":
		if s.Pagination.Page == 0 {
			return ActionNone, nil
		}
		s.Pagination.ChangePage(s.Pagination.Page - 1)
		return ActionRedraw, nil

	case "rows":
		if len(fields) != 2 {
			return ActionNone, errors.New("usage: rows N")
		}
		rows, err := strconv.Atoi(fields[1])
		if err != nil || !slices.Contains(RowsPerPageOptions, rows) {
			return ActionNone, fmt.Errorf("rows per page must be one of %v", RowsPerPageOptions)
		}
		s.Pagination.ChangeRowsPerPage(rows)
		return ActionRedraw, nil

	case "tier":
		if len(fields) != 2 {
			return ActionNone, errors.New("usage: tier N|all")
		}
		if fields[1] == "all" {
			s.Tier = nil
		} else {
			n, err := strconv.Atoi(fields[1])
			tier := types.Tier(n)
			if err != nil || !tier.Valid() {
				return ActionNone, errors.New("tier must be 0-4 or all")
			}
			s.Tier = &tier
		}
		s.Pagination.ChangePage(0)
		return ActionRedraw, nil

	case "r", "refresh":
		return ActionRefresh, nil

	case "reset":
		s.Pagination.Reset()
		s.Tier = s.initialTier
		return ActionRedraw, nil

	case "q", "quit", "exit":
		return ActionQuit, nil
	}

	return ActionNone, fmt.Errorf("unknown command %q (%s)", fields[0], CommandHelp)
}

// Package dashboard renders the leaderboard for a terminal: stat cards, the
// tier filter, the users table, pagination and a single user's detail.
package dashboard

import (
	"github.com/points-leaderboard/internal/client"
	"github.com/points-leaderboard/internal/types"
)

const (
	// DefaultRowsPerPage is the initial page size
	DefaultRowsPerPage = 25
)

// RowsPerPageOptions are the page sizes offered to the user
var RowsPerPageOptions = []int{10, 25, 50, 100}

// Pagination is the dashboard's page state. Page is 0-based.
type Pagination struct {
	Page        int
	RowsPerPage int

	initialPage int
	initialRows int
}

// NewPagination creates pagination state starting at page (0-based)
func NewPagination(page, rowsPerPage int) *Pagination {
	if page < 0 {
		page = 0
	}
	if rowsPerPage <= 0 {
		rowsPerPage = DefaultRowsPerPage
	}
	return &Pagination{
		Page:        page,
		RowsPerPage: rowsPerPage,
		initialPage: page,
		initialRows: rowsPerPage,
	}
}

// ChangePage moves to page (0-based)
func (p *Pagination) ChangePage(page int) {
	if page < 0 {
		page = 0
	}
	p.Page = page
}

// ChangeRowsPerPage sets the page size and returns to the first page
func (p *Pagination) ChangeRowsPerPage(rows int) {
	if rows <= 0 {
		return
	}
	p.RowsPerPage = rows
	p.Page = 0
}

// Reset restores the initial page and page size
func (p *Pagination) Reset() {
	p.Page = p.initialPage
	p.RowsPerPage = p.initialRows
}

// Rank is the 1-based leaderboard position of the row at index on this page
func (p *Pagination) Rank(index int) int {
	return p.Page*p.RowsPerPage + index + 1
}

// PageCount is the number of pages needed for total rows, at least 1
func (p *Pagination) PageCount(total int64) int64 {
	if total <= 0 {
		return 1
	}
	rows := int64(p.RowsPerPage)
	return (total + rows - 1) / rows
}

// Query builds the API query for the current page, sorted by points
// descending. The API's pages are 1-based.
func (p *Pagination) Query(tier *types.Tier) client.UsersQuery {
	return client.UsersQuery{
		Page:      p.Page + 1,
		Limit:     p.RowsPerPage,
		SortBy:    types.SortByTotalPointsEarned,
		SortOrder: types.SortDesc,
		Tier:      tier,
	}
}

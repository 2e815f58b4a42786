// Package types provides common type definitions for the points leaderboard.
package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
)

// Tier represents a holder's balance tier (0-4)
type Tier int

const (
	// TierBasic is for balances below 10 SPIKE
	TierBasic Tier = 0
	// TierBronze is for balances from 10 to 30 SPIKE
	TierBronze Tier = 1
	// TierSilver is for balances from 30 to 100 SPIKE
	TierSilver Tier = 2
	// TierGold is for balances from 100 to 500 SPIKE
	TierGold Tier = 3
	// TierPlatinum is for balances of 500 SPIKE and above
	TierPlatinum Tier = 4
)

// MinTier and MaxTier bound the valid tier range
const (
	MinTier = TierBasic
	MaxTier = TierPlatinum
)

// Valid reports whether the tier is within 0-4
func (t Tier) Valid() bool {
	return t >= MinTier && t <= MaxTier
}

// Key returns the tier as it appears in the tier_distribution blob
func (t Tier) Key() string {
	return strconv.Itoa(int(t))
}

// AllTiers lists the tiers in ascending order
func AllTiers() []Tier {
	return []Tier{TierBasic, TierBronze, TierSilver, TierGold, TierPlatinum}
}

// SortField is a User column the indexer may order by
type SortField string

const (
	SortByID                  SortField = "id"
	SortByCurrentBalance      SortField = "current_balance"
	SortByCurrentBalanceWei   SortField = "current_balance_wei"
	SortByCurrentTier         SortField = "current_tier"
	SortByTotalPointsEarned   SortField = "total_points_earned"
	SortByLastUpdateTimestamp SortField = "last_update_timestamp"
)

// Valid reports whether the field is on the sortable allow-list
func (f SortField) Valid() bool {
	switch f {
	case SortByID, SortByCurrentBalance, SortByCurrentBalanceWei,
		SortByCurrentTier, SortByTotalPointsEarned, SortByLastUpdateTimestamp:
		return true
	}
	return false
}

// SortOrder is the direction of a sort
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// Valid reports whether the order is asc or desc
func (o SortOrder) Valid() bool {
	return o == SortAsc || o == SortDesc
}

// GlobalStatsID is the id of the singleton GlobalStats record
const GlobalStatsID = "global"

// Default list parameters
const (
	DefaultPage      = 1
	DefaultLimit     = 50
	DefaultSortBy    = SortByTotalPointsEarned
	DefaultSortOrder = SortDesc
	MaxSnapshots     = 10
)

var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// IsValidAddress reports whether s is 0x followed by exactly 40 hex digits
func IsValidAddress(s string) bool {
	return addressPattern.MatchString(s)
}

// NumericString holds an indexer value that may arrive as a JSON number or
// a JSON string (BigInt and BigDecimal columns). It always marshals as a string.
type NumericString string

// UnmarshalJSON accepts strings, numbers and null
func (n *NumericString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*n = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*n = NumericString(s)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return fmt.Errorf("numeric value expected, got %s", string(data))
	}
	*n = NumericString(num.String())
	return nil
}

// String returns the raw value
func (n NumericString) String() string {
	return string(n)
}

// User is a token holder as indexed
type User struct {
	ID                  string         `json:"id"`
	CurrentBalanceWei   NumericString  `json:"current_balance_wei"`
	CurrentBalance      NumericString  `json:"current_balance"`
	CurrentTier         Tier           `json:"current_tier"`
	TotalPointsEarned   NumericString  `json:"total_points_earned"`
	LastUpdateTimestamp NumericString  `json:"last_update_timestamp"`
	WeeklyPoints        []WeeklyPoints `json:"weeklyPoints,omitempty"`
	Snapshots           []Snapshot     `json:"snapshots,omitempty"`
}

// WeeklyPoints is a user's accrual for one week
type WeeklyPoints struct {
	WeekNumber           string        `json:"week_number"`
	PointsEarnedThisWeek NumericString `json:"points_earned_this_week"`
	WeeklyCap            NumericString `json:"weekly_cap"`
	IsCapReached         bool          `json:"is_cap_reached"`
}

// Snapshot is an immutable hourly record of a user's state
type Snapshot struct {
	ID            string        `json:"id"`
	PointsAwarded NumericString `json:"points_awarded"`
	TierAtTime    Tier          `json:"tier_at_time"`
	BalanceAtTime NumericString `json:"balance_at_time"`
	SnapshotHour  NumericString `json:"snapshot_hour"`
	Timestamp     NumericString `json:"timestamp"`
}

// GlobalStats is the singleton aggregate record
type GlobalStats struct {
	ID                     string        `json:"id"`
	TotalUsers             NumericString `json:"total_users"`
	TotalPointsDistributed NumericString `json:"total_points_distributed"`
	CurrentWeekNumber      string        `json:"current_week_number"`
	LastSnapshotHour       NumericString `json:"last_snapshot_hour"`
	// TierDistribution is a JSON object mapping tier number to user count
	TierDistribution string `json:"tier_distribution"`
}

// UserDetail is a single user with its weekly points and snapshots always
// present, as returned by the user lookup.
type UserDetail struct {
	User
	WeeklyPoints []WeeklyPoints `json:"weeklyPoints"`
	Snapshots    []Snapshot     `json:"snapshots"`
}

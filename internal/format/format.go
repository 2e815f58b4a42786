// Package format turns raw indexer values into display strings.
//
// All functions are pure. Numbers are rendered with en-US grouping; balances
// always use 2 to 6 fraction digits and tiers always use the
// Basic/Bronze/Silver/Gold/Platinum names.
package format

import (
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"
	"github.com/points-leaderboard/internal/types"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

const (
	balanceMinFraction = 2
	balanceMaxFraction = 6
	pointsMaxFraction  = 3
	weiDecimals        = 18
)

var printer = message.NewPrinter(language.AmericanEnglish)

func parseDecimal(s string) (decimal.Decimal, bool) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// FormatBalance renders a human-decimal balance such as "1234.5" as
// "1,234.50". Unparsable input is returned unchanged.
func FormatBalance(balance string) string {
	d, ok := parseDecimal(balance)
	if !ok {
		return balance
	}
	return printer.Sprint(number.Decimal(
		d.Round(balanceMaxFraction).InexactFloat64(),
		number.MinFractionDigits(balanceMinFraction),
		number.MaxFractionDigits(balanceMaxFraction),
	))
}

// FormatWei converts a wei amount to whole tokens and formats it like FormatBalance
func FormatWei(wei string) string {
	d, ok := parseDecimal(wei)
	if !ok {
		return wei
	}
	tokens := d.DivRound(decimal.NewFromInt(params.Ether), weiDecimals)
	return FormatBalance(tokens.String())
}

// FormatPoints renders a points value with grouping and up to 3 fraction digits
func FormatPoints(points string) string {
	d, ok := parseDecimal(points)
	if !ok {
		return points
	}
	return printer.Sprint(number.Decimal(
		d.Round(pointsMaxFraction).InexactFloat64(),
		number.MaxFractionDigits(pointsMaxFraction),
	))
}

// FormatCount renders the integer part of a count with grouping
func FormatCount(count string) string {
	d, ok := parseDecimal(count)
	if !ok {
		return count
	}
	return printer.Sprint(number.Decimal(d.IntPart()))
}

// SecondsThresholdMs is 2000-01-01T00:00:00Z in milliseconds. Timestamps
// below it are taken to be in seconds.
const SecondsThresholdMs int64 = 946684800000

// NormalizeTimestamp returns ts in milliseconds
func NormalizeTimestamp(ts int64) int64 {
	if ts < SecondsThresholdMs {
		return ts * 1000
	}
	return ts
}

// ParseTimestamp parses an indexer timestamp (seconds or milliseconds, any
// fractional part dropped) into a UTC time.
func ParseTimestamp(ts string) (time.Time, bool) {
	d, ok := parseDecimal(ts)
	if !ok {
		return time.Time{}, false
	}
	return time.UnixMilli(NormalizeTimestamp(d.IntPart())).UTC(), true
}

// FormatRelativeTime renders ts relative to now: "Just now", "5m ago",
// "3h ago", "2d ago", then a short date.
func FormatRelativeTime(ts string, now time.Time) string {
	date, ok := ParseTimestamp(ts)
	if !ok {
		return "Unknown"
	}
	return relative(date, now.UTC())
}

func relative(date, now time.Time) string {
	minutes := int64(now.Sub(date) / time.Minute)
	hours := minutes / 60
	days := hours / 24

	switch {
	case minutes < 1:
		return "Just now"
	case minutes < 60:
		return printer.Sprintf("%dm ago", minutes)
	case hours < 24:
		return printer.Sprintf("%dh ago", hours)
	case days < 7:
		return printer.Sprintf("%dd ago", days)
	}

	if date.Year() != now.Year() {
		return date.Format("Jan 2, 2006")
	}
	return date.Format("Jan 2")
}

// FormatFullDateTime renders ts as "Oct 5, 2023, 03:04 PM UTC"
func FormatFullDateTime(ts string) string {
	date, ok := ParseTimestamp(ts)
	if !ok {
		return "Invalid Date"
	}
	return date.Format("Jan 2, 2006, 03:04 PM MST")
}

var tierNames = map[types.Tier]string{
	types.TierBasic:    "Basic",
	types.TierBronze:   "Bronze",
	types.TierSilver:   "Silver",
	types.TierGold:     "Gold",
	types.TierPlatinum: "Platinum",
}

var tierRanges = map[types.Tier]string{
	types.TierBasic:    "0-10 SPIKE",
	types.TierBronze:   "10-30 SPIKE",
	types.TierSilver:   "30-100 SPIKE",
	types.TierGold:     "100-500 SPIKE",
	types.TierPlatinum: "500+ SPIKE",
}

// TierName returns the display name of a tier, or "Unknown"
func TierName(tier types.Tier) string {
	if name, ok := tierNames[tier]; ok {
		return name
	}
	return "Unknown"
}

// TierRange returns the balance range of a tier, or ""
func TierRange(tier types.Tier) string {
	return tierRanges[tier]
}

// ShortAddress renders 0x12345678...abcdef for anything 14 chars or longer
func ShortAddress(address string) string {
	if len(address) < 14 {
		return address
	}
	return address[:8] + "..." + address[len(address)-6:]
}

// ChecksumAddress returns the EIP-55 form of a valid address and leaves
// anything else untouched.
func ChecksumAddress(address string) string {
	if !types.IsValidAddress(address) {
		return address
	}
	return common.HexToAddress(address).Hex()
}

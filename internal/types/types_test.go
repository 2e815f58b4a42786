package types

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsValidAddress(t *testing.T) {
	tests := []struct {
		name    string
		address string
		want    bool
	}{
		{"lowercase", "0x1234567890abcdef1234567890abcdef12345678", true},
		{"uppercase hex", "0xABCDEF7890ABCDEF1234567890ABCDEF12345678", true},
		{"mixed case", "0xAbCdEf7890aBcDeF1234567890AbCdEf12345678", true},
		{"39 hex digits", "0x1234567890abcdef1234567890abcdef1234567", false},
		{"41 hex digits", "0x1234567890abcdef1234567890abcdef123456789", false},
		{"missing prefix", "1234567890abcdef1234567890abcdef12345678", false},
		{"uppercase prefix", "0X1234567890abcdef1234567890abcdef12345678", false},
		{"non hex", "0x1234567890abcdef1234567890abcdef1234567g", false},
		{"empty", "", false},
		{"trailing newline", "0x1234567890abcdef1234567890abcdef12345678\n", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsValidAddress(tt.address))
		})
	}
}

const hexDigits = "0123456789abcdefABCDEF"

func hexString(n int) gopter.Gen {
	digit := gen.IntRange(0, len(hexDigits)-1).Map(func(i int) rune {
		return rune(hexDigits[i])
	})
	return gen.SliceOfN(n, digit).Map(func(rs []rune) string {
		return string(rs)
	})
}

func TestIsValidAddressProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("0x plus 40 hex digits is accepted", prop.ForAll(
		func(hex string) bool {
			return IsValidAddress("0x" + hex)
		},
		hexString(40),
	))

	properties.Property("any other hex length is rejected", prop.ForAll(
		func(n int) bool {
			if n == 40 {
				return true
			}
			return !IsValidAddress("0x" + strings.Repeat("a", n))
		},
		gen.IntRange(0, 80),
	))

	properties.Property("validation ignores case", prop.ForAll(
		func(hex string) bool {
			return IsValidAddress("0x"+strings.ToUpper(hex)) == IsValidAddress("0x"+strings.ToLower(hex))
		},
		hexString(40),
	))

	properties.TestingRun(t)
}

func TestTierValid(t *testing.T) {
	for _, tier := range AllTiers() {
		assert.True(t, tier.Valid(), "tier %d", tier)
	}
	assert.False(t, Tier(-1).Valid())
	assert.False(t, Tier(5).Valid())
	assert.Equal(t, "2", TierSilver.Key())
}

func TestSortFieldValid(t *testing.T) {
	assert.True(t, SortByTotalPointsEarned.Valid())
	assert.True(t, SortByLastUpdateTimestamp.Valid())
	assert.False(t, SortField("current_balance; drop").Valid())
	assert.False(t, SortField("").Valid())

	assert.True(t, SortAsc.Valid())
	assert.False(t, SortOrder("DESC").Valid())
}

func TestNumericStringUnmarshal(t *testing.T) {
	var user User
	raw := `{
		"id": "0xabc",
		"current_balance_wei": 1500000000000000000,
		"current_balance": "1.5",
		"current_tier": 1,
		"total_points_earned": 12.75,
		"last_update_timestamp": null
	}`
	require.NoError(t, json.Unmarshal([]byte(raw), &user))

	assert.Equal(t, NumericString("1500000000000000000"), user.CurrentBalanceWei)
	assert.Equal(t, NumericString("1.5"), user.CurrentBalance)
	assert.Equal(t, TierBronze, user.CurrentTier)
	assert.Equal(t, NumericString("12.75"), user.TotalPointsEarned)
	assert.Equal(t, NumericString(""), user.LastUpdateTimestamp)

	out, err := json.Marshal(user)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"current_balance_wei":"1500000000000000000"`)
	assert.NotContains(t, string(out), "weeklyPoints")
}

func TestNumericStringRejectsObjects(t *testing.T) {
	var n NumericString
	assert.Error(t, json.Unmarshal([]byte(`{"a":1}`), &n))
}

package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestSplitFee(t *testing.T) {
	cases := []struct {
		name  string
		total string
		pct   string
		fee   string
		net   string
	}{
		{"even split", "1000.00", "15", "150.00", "850.00"},
		{"rounding to minor units", "100.01", "33.33", "33.33", "66.68"},
		{"zero percent", "250.00", "0", "0.00", "250.00"},
		{"full fee", "80.00", "100", "80.00", "0.00"},
		{"half cent rounds up", "0.03", "50", "0.02", "0.01"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			total := decimal.RequireFromString(tc.total)
			fee, net := SplitFee(total, decimal.RequireFromString(tc.pct))
			assert.True(t, fee.Equal(decimal.RequireFromString(tc.fee)), "fee: got %s", fee)
			assert.True(t, net.Equal(decimal.RequireFromString(tc.net)), "net: got %s", net)
			assert.True(t, fee.Add(net).Equal(total), "fee and net must sum to total")
		})
	}
}

package quantity

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestFits(t *testing.T) {
	cases := []struct {
		amount string
		want   bool
	}{
		{"0", true},
		{"1", true},
		{"0.000001", true},
		{"1.500000", true},
		{"99999999999999.999999", true},
		{"0.0000004", false},
		{"1.0000001", false},
		{"100000000000000", false},
		{"-0.5", false},
	}
	for _, tc := range cases {
		t.Run(tc.amount, func(t *testing.T) {
			assert.Equal(t, tc.want, Fits(decimal.RequireFromString(tc.amount)))
		})
	}
}

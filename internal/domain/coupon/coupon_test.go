package coupon

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInput_Validate(t *testing.T) {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	base := func() Input {
		return Input{
			Code:               "SAVE10",
			DiscountPercentage: decimal.NewFromInt(10),
			StartDate:          start,
			EndDate:            start.AddDate(0, 0, 30),
		}
	}

	tests := []struct {
		name      string
		mutate    func(in *Input)
		wantField string
	}{
		{name: "valid", mutate: func(*Input) {}},
		{name: "two decimal places", mutate: func(in *Input) { in.DiscountPercentage = decimal.RequireFromString("12.34") }},
		{name: "trailing zero scale", mutate: func(in *Input) { in.DiscountPercentage = decimal.RequireFromString("12.500") }},
		{name: "largest cap", mutate: func(in *Input) { in.MaxRedemptions = intPtr(math.MaxInt32) }},
		{name: "single day window", mutate: func(in *Input) { in.EndDate = in.StartDate }},
		{
			name:      "blank code",
			mutate:    func(in *Input) { in.Code = "  " },
			wantField: "code",
		},
		{
			name:      "negative percentage",
			mutate:    func(in *Input) { in.DiscountPercentage = decimal.NewFromInt(-1) },
			wantField: "discountPercentage",
		},
		{
			name:      "over hundred",
			mutate:    func(in *Input) { in.DiscountPercentage = decimal.RequireFromString("100.01") },
			wantField: "discountPercentage",
		},
		{
			name:      "three decimal places",
			mutate:    func(in *Input) { in.DiscountPercentage = decimal.RequireFromString("12.345") },
			wantField: "discountPercentage",
		},
		{
			name:      "missing window",
			mutate:    func(in *Input) { in.StartDate = time.Time{} },
			wantField: "startDate",
		},
		{
			name:      "end before start",
			mutate:    func(in *Input) { in.EndDate = in.StartDate.AddDate(0, 0, -1) },
			wantField: "endDate",
		},
		{
			name:      "zero cap",
			mutate:    func(in *Input) { in.MaxRedemptions = intPtr(0) },
			wantField: "maxRedemptions",
		},
		{
			name:      "cap beyond storage range",
			mutate:    func(in *Input) { in.MaxRedemptions = intPtr(math.MaxInt32 + 1) },
			wantField: "maxRedemptions",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := base()
			tt.mutate(&in)

			err := in.Validate()
			if tt.wantField == "" {
				require.NoError(t, err)
				return
			}
			var inv *InvalidInputError
			require.ErrorAs(t, err, &inv)
			assert.Equal(t, tt.wantField, inv.Field)
		})
	}
}

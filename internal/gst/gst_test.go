package gst

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertDecimal(t *testing.T, want string, got decimal.Decimal, field string) {
	t.Helper()
	assert.True(t, d(want).Equal(got), "%s: want %s, got %s", field, want, got)
}

func TestCalculate(t *testing.T) {
	cases := []struct {
		name                                string
		in                                  Input
		base, tax, cgst, sgst, igst, total string
	}{
		{
			name: "exclusive intra-state",
			in:   Input{Amount: d("1000"), Rate: d("18")},
			base: "1000", tax: "180", cgst: "90", sgst: "90", igst: "0", total: "1180",
		},
		{
			name: "exclusive inter-state",
			in:   Input{Amount: d("1000"), Rate: d("18"), InterState: true},
			base: "1000", tax: "180", cgst: "0", sgst: "0", igst: "180", total: "1180",
		},
		{
			name: "inclusive intra-state",
			in:   Input{Amount: d("1180"), Rate: d("18"), Inclusive: true},
			base: "1000", tax: "180", cgst: "90", sgst: "90", igst: "0", total: "1180",
		},
		{
			name: "inclusive rounding",
			in:   Input{Amount: d("100"), Rate: d("12"), Inclusive: true},
			base: "89.29", tax: "10.71", cgst: "5.35", sgst: "5.36", igst: "0", total: "100",
		},
		{
			name: "fractional slab",
			in:   Input{Amount: d("2000"), Rate: d("0.25")},
			base: "2000", tax: "5", cgst: "2.5", sgst: "2.5", igst: "0", total: "2005",
		},
		{
			name: "zero rate",
			in:   Input{Amount: d("50"), Rate: d("0")},
			base: "50", tax: "0", cgst: "0", sgst: "0", igst: "0", total: "50",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b, err := Calculate(tc.in)
			require.NoError(t, err)
			assertDecimal(t, tc.base, b.Base, "base")
			assertDecimal(t, tc.tax, b.GST, "gst")
			assertDecimal(t, tc.cgst, b.CGST, "cgst")
			assertDecimal(t, tc.sgst, b.SGST, "sgst")
			assertDecimal(t, tc.igst, b.IGST, "igst")
			assertDecimal(t, tc.total, b.Total, "total")
			assert.True(t, b.Base.Add(b.GST).Equal(b.Total))
			assert.True(t, b.CGST.Add(b.SGST).Add(b.IGST).Equal(b.GST))
		})
	}
}

func TestCalculate_Invalid(t *testing.T) {
	_, err := Calculate(Input{Amount: d("-1"), Rate: d("18")})
	assert.ErrorIs(t, err, ErrNegativeAmount)

	_, err = Calculate(Input{Amount: d("100"), Rate: d("7")})
	assert.ErrorIs(t, err, ErrInvalidRate)
}

func TestTips(t *testing.T) {
	assert.NotEmpty(t, Tips())
}

// Package gst computes Indian Goods and Services Tax breakdowns.
package gst

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrNegativeAmount = errors.New("amount must not be negative")
	ErrInvalidRate    = errors.New("rate is not a GST slab")
)

// Slabs are the GST rates in percent
var Slabs = []decimal.Decimal{
	decimal.Zero,
	decimal.RequireFromString("0.25"),
	decimal.NewFromInt(3),
	decimal.NewFromInt(5),
	decimal.NewFromInt(12),
	decimal.NewFromInt(18),
	decimal.NewFromInt(28),
}

type Input struct {
	Amount decimal.Decimal `json:"amount"`
	Rate   decimal.Decimal `json:"rate"`
	// Inclusive means Amount already contains the tax
	Inclusive  bool `json:"inclusive"`
	InterState bool `json:"inter_state"`
}

type Breakdown struct {
	Base  decimal.Decimal `json:"base"`
	GST   decimal.Decimal `json:"gst"`
	CGST  decimal.Decimal `json:"cgst"`
	SGST  decimal.Decimal `json:"sgst"`
	IGST  decimal.Decimal `json:"igst"`
	Total decimal.Decimal `json:"total"`
	Rate  decimal.Decimal `json:"rate"`
}

var hundred = decimal.NewFromInt(100)

func validRate(rate decimal.Decimal) bool {
	for _, s := range Slabs {
		if s.Equal(rate) {
			return true
		}
	}
	return false
}

// Calculate splits an amount into base and tax. Intra-state tax is shared
// equally between CGST and SGST; inter-state tax is all IGST.
func Calculate(in Input) (Breakdown, error) {
	if in.Amount.IsNegative() {
		return Breakdown{}, ErrNegativeAmount
	}
	if !validRate(in.Rate) {
		return Breakdown{}, fmt.Errorf("%w: %s", ErrInvalidRate, in.Rate)
	}

	var base, tax, total decimal.Decimal
	if in.Inclusive {
		total = in.Amount.Round(2)
		base = in.Amount.Mul(hundred).Div(hundred.Add(in.Rate)).Round(2)
		tax = total.Sub(base)
	} else {
		base = in.Amount.Round(2)
		tax = in.Amount.Mul(in.Rate).Div(hundred).Round(2)
		total = base.Add(tax)
	}

	b := Breakdown{
		Base:  base,
		GST:   tax,
		CGST:  decimal.Zero,
		SGST:  decimal.Zero,
		IGST:  decimal.Zero,
		Total: total,
		Rate:  in.Rate,
	}
	if in.InterState {
		b.IGST = tax
	} else {
		// odd paise go to SGST so the halves always add back up
		b.CGST = tax.Div(decimal.NewFromInt(2)).RoundDown(2)
		b.SGST = tax.Sub(b.CGST)
	}
	return b, nil
}

// Tips are static filing reminders shown next to the calculator
func Tips() []string {
	return []string{
		"GSTR-1 (outward supplies) is due by the 11th of the following month for monthly filers.",
		"GSTR-3B must be filed and tax paid by the 20th of the following month.",
		"Input tax credit can only be claimed when the supplier has reported the invoice in their GSTR-1.",
		"Keep tax invoices, debit notes and credit notes for at least 72 months from the annual return due date.",
		"Late filing attracts a fee per day of delay plus 18% annual interest on unpaid tax.",
		"Businesses under the composition scheme cannot collect GST from customers or claim input tax credit.",
		"Reply to a show cause notice within the time given in it; ask for an extension in writing if needed.",
	}
}

// Package rotrut implements the Swedish ROT and RUT tax deduction rules used
// when quoting and invoicing household work, together with the personnummer
// checks required to claim them.
package rotrut

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// ItemType classifies a quote or invoice line. Only labor counts towards the
// deduction base.
type ItemType string

const (
	ItemLabor    ItemType = "labor"
	ItemMaterial ItemType = "material"
	ItemService  ItemType = "service"
)

// UnmarshalJSON rejects line types outside the known set.
func (t *ItemType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch ItemType(s) {
	case ItemLabor, ItemMaterial, ItemService:
		*t = ItemType(s)
		return nil
	}
	return fmt.Errorf("unknown line item type %q", s)
}

// DeductionType selects which deduction, if any, applies to a job.
type DeductionType string

const (
	DeductionNone DeductionType = ""
	DeductionROT  DeductionType = "rot"
	DeductionRUT  DeductionType = "rut"
)

// ParseDeductionType converts user input to a DeductionType. "none" and the
// empty string both mean no deduction.
func ParseDeductionType(s string) (DeductionType, error) {
	switch s {
	case "", "none":
		return DeductionNone, nil
	case "rot":
		return DeductionROT, nil
	case "rut":
		return DeductionRUT, nil
	}
	return DeductionNone, fmt.Errorf("unknown deduction type %q (must be rot, rut or empty)", s)
}

var (
	rotRate = decimal.RequireFromString("0.30")
	rutRate = decimal.RequireFromString("0.50")

	rotMaxPerPerson = decimal.NewFromInt(50000)
	rutMaxPerPerson = decimal.NewFromInt(75000)
)

// Rate returns the share of eligible labor that is deducted.
func (t DeductionType) Rate() decimal.Decimal {
	switch t {
	case DeductionROT:
		return rotRate
	case DeductionRUT:
		return rutRate
	}
	return decimal.Zero
}

// MaxPerPerson returns the yearly cap per person in kronor.
func (t DeductionType) MaxPerPerson() decimal.Decimal {
	switch t {
	case DeductionROT:
		return rotMaxPerPerson
	case DeductionRUT:
		return rutMaxPerPerson
	}
	return decimal.Zero
}

// LineItem is the part of a quote line the calculation needs.
type LineItem struct {
	Type  ItemType        `json:"type"`
	Total decimal.Decimal `json:"total"`
}

// Result is the outcome of a deduction calculation. Values are unrounded.
type Result struct {
	LaborTotal   decimal.Decimal `json:"laborTotal"`
	Eligible     decimal.Decimal `json:"eligible"`
	Rate         decimal.Decimal `json:"rate"`
	Deduction    decimal.Decimal `json:"deduction"`
	CustomerPays decimal.Decimal `json:"customerPays"`
	MaxPerPerson decimal.Decimal `json:"maxPerPerson"`
}

// Calculate computes the ROT/RUT deduction for a set of line items.
//
// The whole labor total is eligible. The deduction is capped at the per-person
// maximum for a single call; tracking usage across jobs within a calendar year
// is left to the caller. CustomerPays is not clamped and goes negative when
// totalInclVat is smaller than the deduction.
func Calculate(items []LineItem, t DeductionType, totalInclVat decimal.Decimal) Result {
	laborTotal := decimal.Zero
	for _, item := range items {
		if item.Type == ItemLabor {
			laborTotal = laborTotal.Add(item.Total)
		}
	}

	if t != DeductionROT && t != DeductionRUT {
		return Result{
			LaborTotal:   laborTotal,
			Eligible:     decimal.Zero,
			Rate:         decimal.Zero,
			Deduction:    decimal.Zero,
			CustomerPays: totalInclVat,
			MaxPerPerson: decimal.Zero,
		}
	}

	rate := t.Rate()
	maxPerPerson := t.MaxPerPerson()
	eligible := laborTotal
	deduction := decimal.Min(eligible.Mul(rate), maxPerPerson)

	return Result{
		LaborTotal:   laborTotal,
		Eligible:     eligible,
		Rate:         rate,
		Deduction:    deduction,
		CustomerPays: totalInclVat.Sub(deduction),
		MaxPerPerson: maxPerPerson,
	}
}

// Rounded returns a copy with every money field rounded to whole kronor.
func (r Result) Rounded() Result {
	return Result{
		LaborTotal:   r.LaborTotal.Round(0),
		Eligible:     r.Eligible.Round(0),
		Rate:         r.Rate,
		Deduction:    r.Deduction.Round(0),
		CustomerPays: r.CustomerPays.Round(0),
		MaxPerPerson: r.MaxPerPerson.Round(0),
	}
}

// Exceeds reports whether the deduction is larger than the amount it is taken
// from, which means the caller passed inconsistent totals.
func (r Result) Exceeds(totalInclVat decimal.Decimal) bool {
	return r.Deduction.GreaterThan(totalInclVat)
}

package rotrut

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// TestCalculateQuoteWithROT covers a typical electrician quote: labor plus
// material, 25% VAT, ROT deduction.
func TestCalculateQuoteWithROT(t *testing.T) {
	items := []LineItem{
		{Type: ItemLabor, Total: dec("10000")},
		{Type: ItemMaterial, Total: dec("3000")},
	}
	totalInclVat := dec("13000").Mul(dec("1.25"))

	got := Calculate(items, DeductionROT, totalInclVat)

	if !got.LaborTotal.Equal(dec("10000")) {
		t.Errorf("LaborTotal = %s, want 10000", got.LaborTotal)
	}
	if !got.Eligible.Equal(dec("10000")) {
		t.Errorf("Eligible = %s, want 10000", got.Eligible)
	}
	if !got.Deduction.Equal(dec("3000")) {
		t.Errorf("Deduction = %s, want 3000", got.Deduction)
	}
	if !got.CustomerPays.Equal(dec("13250")) {
		t.Errorf("CustomerPays = %s, want 13250", got.CustomerPays)
	}
	if !got.MaxPerPerson.Equal(dec("50000")) {
		t.Errorf("MaxPerPerson = %s, want 50000", got.MaxPerPerson)
	}
}

func TestCalculateRateAndCap(t *testing.T) {
	tests := []struct {
		name      string
		dt        DeductionType
		labor     string
		deduction string
	}{
		{name: "rot zero labor", dt: DeductionROT, labor: "0", deduction: "0"},
		{name: "rot below cap", dt: DeductionROT, labor: "12345.50", deduction: "3703.65"},
		{name: "rot exactly at cap", dt: DeductionROT, labor: "166666.67", deduction: "50000"},
		{name: "rot above cap", dt: DeductionROT, labor: "400000", deduction: "50000"},
		{name: "rut below cap", dt: DeductionRUT, labor: "8000", deduction: "4000"},
		{name: "rut at cap", dt: DeductionRUT, labor: "150000", deduction: "75000"},
		{name: "rut above cap", dt: DeductionRUT, labor: "1000000", deduction: "75000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items := []LineItem{{Type: ItemLabor, Total: dec(tt.labor)}}
			got := Calculate(items, tt.dt, dec("1000000"))

			if !got.Deduction.Equal(dec(tt.deduction)) {
				t.Errorf("Deduction = %s, want %s", got.Deduction, tt.deduction)
			}
			if got.Deduction.GreaterThan(got.MaxPerPerson) {
				t.Errorf("Deduction %s exceeds cap %s", got.Deduction, got.MaxPerPerson)
			}
			if !got.CustomerPays.Equal(dec("1000000").Sub(got.Deduction)) {
				t.Errorf("CustomerPays = %s, want total minus deduction", got.CustomerPays)
			}
		})
	}
}

func TestCalculateNoDeduction(t *testing.T) {
	items := []LineItem{{Type: ItemLabor, Total: dec("10000")}}

	got := Calculate(items, DeductionNone, dec("12500"))

	if !got.Deduction.IsZero() || !got.Rate.IsZero() || !got.Eligible.IsZero() || !got.MaxPerPerson.IsZero() {
		t.Errorf("expected zero deduction fields, got %+v", got)
	}
	if !got.CustomerPays.Equal(dec("12500")) {
		t.Errorf("CustomerPays = %s, want 12500", got.CustomerPays)
	}
}

func TestCalculateNoDeductionWithoutTotal(t *testing.T) {
	got := Calculate(nil, DeductionNone, decimal.Zero)

	if !got.CustomerPays.IsZero() {
		t.Errorf("CustomerPays = %s, want 0", got.CustomerPays)
	}
}

func TestCalculateUnknownTypeActsAsNone(t *testing.T) {
	items := []LineItem{{Type: ItemLabor, Total: dec("10000")}}

	got := Calculate(items, DeductionType("green"), dec("12500"))

	if !got.Deduction.IsZero() {
		t.Errorf("Deduction = %s, want 0 for unknown type", got.Deduction)
	}
	if !got.CustomerPays.Equal(dec("12500")) {
		t.Errorf("CustomerPays = %s, want 12500", got.CustomerPays)
	}
}

// TestCalculateMaterialNeverEligible verifies materials and services stay out
// of the deduction base.
func TestCalculateMaterialNeverEligible(t *testing.T) {
	for _, dt := range []DeductionType{DeductionROT, DeductionRUT} {
		got := Calculate([]LineItem{{Type: ItemMaterial, Total: dec("1000")}}, dt, dec("1250"))
		if !got.LaborTotal.IsZero() {
			t.Errorf("%s: LaborTotal = %s, want 0", dt, got.LaborTotal)
		}
		if !got.Deduction.IsZero() {
			t.Errorf("%s: Deduction = %s, want 0", dt, got.Deduction)
		}

		got = Calculate([]LineItem{
			{Type: ItemService, Total: dec("500")},
			{Type: ItemLabor, Total: dec("200")},
			{Type: ItemLabor, Total: dec("300")},
		}, dt, dec("1250"))
		if !got.LaborTotal.Equal(dec("500")) {
			t.Errorf("%s: LaborTotal = %s, want 500", dt, got.LaborTotal)
		}
	}
}

func TestCalculateCustomerPaysNotClamped(t *testing.T) {
	items := []LineItem{{Type: ItemLabor, Total: dec("10000")}}

	got := Calculate(items, DeductionRUT, dec("1000"))

	if !got.CustomerPays.Equal(dec("-4000")) {
		t.Errorf("CustomerPays = %s, want -4000", got.CustomerPays)
	}
	if !got.Exceeds(dec("1000")) {
		t.Error("Exceeds() should report the inconsistent total")
	}
}

func TestResultRounded(t *testing.T) {
	items := []LineItem{{Type: ItemLabor, Total: dec("1001.50")}}

	got := Calculate(items, DeductionROT, dec("1251.875")).Rounded()

	if !got.Deduction.Equal(dec("300")) {
		t.Errorf("rounded Deduction = %s, want 300", got.Deduction)
	}
	if !got.CustomerPays.Equal(dec("951")) {
		t.Errorf("rounded CustomerPays = %s, want 951", got.CustomerPays)
	}
	if !got.Rate.Equal(dec("0.30")) {
		t.Errorf("Rate should not be rounded, got %s", got.Rate)
	}
}

func TestParseDeductionType(t *testing.T) {
	tests := []struct {
		in      string
		want    DeductionType
		wantErr bool
	}{
		{in: "", want: DeductionNone},
		{in: "none", want: DeductionNone},
		{in: "rot", want: DeductionROT},
		{in: "rut", want: DeductionRUT},
		{in: "ROT", wantErr: true},
		{in: "green", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseDeductionType(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseDeductionType(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseDeductionType(%q) unexpected error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseDeductionType(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLineItemJSON(t *testing.T) {
	var items []LineItem
	if err := json.Unmarshal([]byte(`[{"type":"labor","total":10000},{"type":"material","total":"2999.90"}]`), &items); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if items[0].Type != ItemLabor || !items[0].Total.Equal(dec("10000")) {
		t.Errorf("first item = %+v", items[0])
	}
	if !items[1].Total.Equal(dec("2999.90")) {
		t.Errorf("second item total = %s", items[1].Total)
	}

	err := json.Unmarshal([]byte(`[{"type":"travel","total":10}]`), &items)
	if err == nil {
		t.Error("expected error for unknown line item type")
	}
}

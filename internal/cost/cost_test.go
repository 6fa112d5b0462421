package cost

import (
	"errors"
	"math"
	"strings"
	"testing"
)

func testTable(t *testing.T) *PriceTable {
	t.Helper()
	table, err := NewPriceTable(map[string]Price{
		"claude-sonnet-4-20250514": {Input: 3, Output: 15},
		"gpt-4o-mini":              {Input: 0.15, Output: 0.6},
	})
	if err != nil {
		t.Fatalf("NewPriceTable() error = %v", err)
	}
	return table
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{name: "empty", text: "", want: 0},
		{name: "one char", text: "a", want: 1},
		{name: "exact multiple", text: "abcdefgh", want: 2},
		{name: "rounds up", text: "abcdefghi", want: 3},
		{name: "counts runes not bytes", text: "日本語です", want: 2},
		{name: "long", text: strings.Repeat("x", 4000), want: 1000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EstimateTokens(tt.text); got != tt.want {
				t.Errorf("EstimateTokens() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestPriceTable_EstimateCost(t *testing.T) {
	table := testTable(t)

	got, err := table.EstimateCost(1_000_000, 1_000_000, "claude-sonnet-4-20250514")
	if err != nil {
		t.Fatalf("EstimateCost() error = %v", err)
	}
	if got != 18 {
		t.Errorf("EstimateCost() = %v, want 18", got)
	}

	got, err = table.EstimateCost(1000, 500, "gpt-4o-mini")
	if err != nil {
		t.Fatalf("EstimateCost() error = %v", err)
	}
	want := (1000*0.15 + 500*0.6) / 1_000_000
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("EstimateCost() = %v, want %v", got, want)
	}
}

func TestPriceTable_UnknownModel(t *testing.T) {
	table := testTable(t)
	_, err := table.EstimateCost(10, 10, "mystery-model")
	if !errors.Is(err, ErrUnknownModel) {
		t.Fatalf("EstimateCost() error = %v, want ErrUnknownModel", err)
	}
	if !strings.Contains(err.Error(), "mystery-model") {
		t.Errorf("error %q should name the model", err)
	}

	var nilTable *PriceTable
	if _, err := nilTable.EstimateCost(1, 1, "gpt-4o-mini"); !errors.Is(err, ErrUnknownModel) {
		t.Errorf("nil table error = %v, want ErrUnknownModel", err)
	}
}

func TestNewPriceTable_Invalid(t *testing.T) {
	if _, err := NewPriceTable(map[string]Price{"": {Input: 1}}); err == nil {
		t.Error("expected error for empty model id")
	}
	if _, err := NewPriceTable(map[string]Price{"m": {Input: -1}}); err == nil {
		t.Error("expected error for negative price")
	}
}

func TestNewPriceTable_CopiesInput(t *testing.T) {
	src := map[string]Price{"m": {Input: 1, Output: 2}}
	table, err := NewPriceTable(src)
	if err != nil {
		t.Fatal(err)
	}
	src["m"] = Price{Input: 100, Output: 100}
	delete(src, "m")

	price, err := table.Lookup("m")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if price.Input != 1 || price.Output != 2 {
		t.Errorf("table mutated through source map: %+v", price)
	}
	if got := table.Models(); len(got) != 1 || got[0] != "m" {
		t.Errorf("Models() = %v", got)
	}
}

func TestShouldReject(t *testing.T) {
	tests := []struct {
		cost, ceiling float64
		want          bool
	}{
		{cost: 0.10, ceiling: 0.10, want: false},
		{cost: 0.12, ceiling: 0.10, want: true},
		{cost: 0.09, ceiling: 0.10, want: false},
		{cost: 0, ceiling: 0, want: false},
		{cost: 0.0000001, ceiling: 0, want: true},
		{cost: 5, ceiling: 5, want: false},
	}
	for _, tt := range tests {
		if got := ShouldReject(tt.cost, tt.ceiling); got != tt.want {
			t.Errorf("ShouldReject(%v, %v) = %v, want %v", tt.cost, tt.ceiling, got, tt.want)
		}
	}
}

func TestEstimator_Estimate(t *testing.T) {
	est := NewEstimator(testTable(t), 0)
	prompt := strings.Repeat("a", 400)

	got, err := est.Estimate(prompt, "claude-sonnet-4-20250514")
	if err != nil {
		t.Fatalf("Estimate() error = %v", err)
	}
	if got.InputTokens != 100 {
		t.Errorf("InputTokens = %d, want 100", got.InputTokens)
	}
	if got.OutputTokens != DefaultOutputTokens {
		t.Errorf("OutputTokens = %d, want %d", got.OutputTokens, DefaultOutputTokens)
	}
	want := (100*3.0 + float64(DefaultOutputTokens)*15) / 1_000_000
	if math.Abs(got.Cost-want) > 1e-12 {
		t.Errorf("Cost = %v, want %v", got.Cost, want)
	}
	if got.Exceeds(want) {
		t.Error("estimate at its own cost should not exceed")
	}
}

func TestEstimator_Idempotent(t *testing.T) {
	est := NewEstimator(testTable(t), 256)
	first, err1 := est.Estimate("what is the weather like today?", "gpt-4o-mini")
	second, err2 := est.Estimate("what is the weather like today?", "gpt-4o-mini")
	if err1 != nil || err2 != nil {
		t.Fatalf("Estimate() errors = %v, %v", err1, err2)
	}
	if first != second {
		t.Errorf("Estimate() not idempotent: %+v vs %+v", first, second)
	}
}

func TestEstimator_UnknownModelKeepsTokens(t *testing.T) {
	est := NewEstimator(testTable(t), 10)
	got, err := est.Estimate("abcd", "nope")
	if !errors.Is(err, ErrUnknownModel) {
		t.Fatalf("Estimate() error = %v, want ErrUnknownModel", err)
	}
	if got.InputTokens != 1 || got.OutputTokens != 10 || got.Cost != 0 {
		t.Errorf("unexpected estimate %+v", got)
	}
}

func TestFormatUSD(t *testing.T) {
	if got := FormatUSD(0.12); got != "$0.12" {
		t.Errorf("FormatUSD(0.12) = %q", got)
	}
	if got := FormatUSD(0.0042); got != "$0.0042" {
		t.Errorf("FormatUSD(0.0042) = %q", got)
	}
	if got := FormatUSD(0); got != "$0.00" {
		t.Errorf("FormatUSD(0) = %q", got)
	}
}

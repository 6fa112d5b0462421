// Package cost provides pre-flight token and cost estimation for model requests.
package cost

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"unicode/utf8"
)

// CharsPerToken is the character-to-token ratio used by EstimateTokens.
// It is an approximation, not a tokenizer; treat results as an upper-bound heuristic.
const CharsPerToken = 4

// DefaultOutputTokens is the projected output size when no policy value is configured.
const DefaultOutputTokens = 1024

// ErrUnknownModel is returned when a model has no entry in the price table.
var ErrUnknownModel = errors.New("unknown model")

// Price is the pricing for a model in USD per million tokens.
type Price struct {
	Input  float64 `json:"input" yaml:"input"`
	Output float64 `json:"output" yaml:"output"`
}

// Cost returns the cost of the given token counts.
func (p Price) Cost(inputTokens, outputTokens int) float64 {
	total := float64(inputTokens)*p.Input + float64(outputTokens)*p.Output
	return total / 1_000_000
}

// PriceTable is an immutable model id to price mapping. It is built once at
// startup and shared read-only across events.
type PriceTable struct {
	prices map[string]Price
}

// NewPriceTable copies prices into a new table. Negative prices are rejected.
func NewPriceTable(prices map[string]Price) (*PriceTable, error) {
	table := &PriceTable{prices: make(map[string]Price, len(prices))}
	for model, price := range prices {
		if model == "" {
			return nil, errors.New("price table: empty model id")
		}
		if price.Input < 0 || price.Output < 0 {
			return nil, fmt.Errorf("price table: negative price for %s", model)
		}
		table.prices[model] = price
	}
	return table, nil
}

// Lookup returns the price for model.
func (t *PriceTable) Lookup(model string) (Price, error) {
	if t != nil {
		if price, ok := t.prices[model]; ok {
			return price, nil
		}
	}
	return Price{}, fmt.Errorf("%w: %q", ErrUnknownModel, model)
}

// Models returns the priced model ids in sorted order.
func (t *PriceTable) Models() []string {
	if t == nil {
		return nil
	}
	ids := make([]string, 0, len(t.prices))
	for id := range t.prices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// EstimateCost computes the monetary cost of a request. There is no default
// pricing: an unpriced model fails with ErrUnknownModel.
func (t *PriceTable) EstimateCost(inputTokens, outputTokens int, model string) (float64, error) {
	price, err := t.Lookup(model)
	if err != nil {
		return 0, err
	}
	return price.Cost(inputTokens, outputTokens), nil
}

// EstimateTokens approximates the token count of text at CharsPerToken
// characters per token, rounding up.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return int(math.Ceil(float64(n) / CharsPerToken))
}

// ShouldReject reports whether an estimate exceeds the ceiling. A cost exactly
// at the ceiling is allowed.
func ShouldReject(estimatedCost, ceiling float64) bool {
	return estimatedCost > ceiling
}

// Estimate is the pre-flight cost projection for one request.
type Estimate struct {
	Model        string  `json:"model"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	Price        Price   `json:"price"`
	Cost         float64 `json:"cost"`
}

// Estimator combines token estimation with a price table.
type Estimator struct {
	Prices *PriceTable

	// OutputTokens is the projected output size. Zero uses DefaultOutputTokens.
	OutputTokens int
}

// NewEstimator creates an estimator over prices.
func NewEstimator(prices *PriceTable, outputTokens int) *Estimator {
	return &Estimator{Prices: prices, OutputTokens: outputTokens}
}

// Estimate projects the cost of sending prompt to model.
func (e *Estimator) Estimate(prompt, model string) (Estimate, error) {
	out := e.OutputTokens
	if out <= 0 {
		out = DefaultOutputTokens
	}
	in := EstimateTokens(prompt)

	price, err := e.Prices.Lookup(model)
	if err != nil {
		return Estimate{Model: model, InputTokens: in, OutputTokens: out}, err
	}
	return Estimate{
		Model:        model,
		InputTokens:  in,
		OutputTokens: out,
		Price:        price,
		Cost:         price.Cost(in, out),
	}, nil
}

// Exceeds reports whether the estimate is above ceiling.
func (e Estimate) Exceeds(ceiling float64) bool {
	return ShouldReject(e.Cost, ceiling)
}

// FormatUSD formats a cost for display.
func FormatUSD(cost float64) string {
	if cost > 0 && cost < 0.01 {
		return fmt.Sprintf("$%.4f", cost)
	}
	return fmt.Sprintf("$%.2f", cost)
}

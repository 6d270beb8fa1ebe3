// Package marketanalysis implements the sales-ratio market analysis plugin.
// It computes standard assessment statistics (median ratio, COD, PRD) over a
// submitted sales dataset. County data arrives in many shapes, so the sale
// and assessed values are pulled out with JMESPath expressions instead of a
// fixed schema.
package marketanalysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"

	jmespath "github.com/jmespath-community/go-jmespath"

	"github.com/countyops/countysync/internal/domain/auth"
	"github.com/countyops/countysync/internal/plugin"
)

// Name is the registered plugin name.
const Name = "market-analysis"

// Version is reported by the plugin health endpoint.
const Version = "0.9.3"

const (
	defaultSaleExpr  = "[].sale_price"
	defaultValueExpr = "[].assessed_value"
)

// Params describes an analysis request. Records is an arbitrary JSON array;
// SaleExpr and ValueExpr select the paired sale and assessed values from it.
type Params struct {
	County    string          `json:"county"`
	Records   json.RawMessage `json:"records"`
	SaleExpr  string          `json:"sale_expr,omitempty"`
	ValueExpr string          `json:"value_expr,omitempty"`
}

// analysis is the per-job work unit handed back as the opaque handle.
type analysis struct {
	county string
	sales  []float64
	values []float64
}

// Runner implements plugin.Runner for market analysis.
type Runner struct{}

// Descriptor returns the registry descriptor for this plugin.
func Descriptor(r *Runner) plugin.Descriptor {
	return plugin.Descriptor{
		Name:    Name,
		Version: Version,
		Action:  auth.ActionDiff,
		Runner:  r,
	}
}

// Submit validates the dataset and extracts the paired series.
func (r *Runner) Submit(_ context.Context, raw json.RawMessage) (plugin.Handle, error) {
	var p Params
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode market analysis parameters: %w", err)
	}
	if p.County == "" {
		return nil, errors.New("county is required")
	}
	if len(p.Records) == 0 {
		return nil, errors.New("records is required")
	}

	var records any
	if err := json.Unmarshal(p.Records, &records); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}

	sales, err := extractSeries(records, orDefault(p.SaleExpr, defaultSaleExpr))
	if err != nil {
		return nil, fmt.Errorf("extract sale values: %w", err)
	}
	values, err := extractSeries(records, orDefault(p.ValueExpr, defaultValueExpr))
	if err != nil {
		return nil, fmt.Errorf("extract assessed values: %w", err)
	}
	if len(sales) == 0 {
		return nil, errors.New("no sale values matched")
	}
	if len(sales) != len(values) {
		return nil, fmt.Errorf("sale and assessed series differ in length (%d vs %d)", len(sales), len(values))
	}

	return &analysis{county: p.County, sales: sales, values: values}, nil
}

// Execute computes the ratio statistics. The computation is in-memory and
// fast; the context check keeps late cancellations from producing a result.
func (r *Runner) Execute(ctx context.Context, h plugin.Handle) (json.RawMessage, error) {
	a, ok := h.(*analysis)
	if !ok {
		return nil, fmt.Errorf("market analysis: unexpected handle type %T", h)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ratios := make([]float64, len(a.sales))
	for i := range a.sales {
		if a.sales[i] <= 0 {
			return nil, fmt.Errorf("sale price at index %d is not positive", i)
		}
		ratios[i] = a.values[i] / a.sales[i]
	}

	med := median(ratios)
	out, err := json.Marshal(map[string]any{
		"county":       a.county,
		"sample_size":  len(ratios),
		"median_ratio": round4(med),
		"cod":          round4(cod(ratios, med)),
		"prd":          round4(prd(a.sales, a.values)),
	})
	if err != nil {
		return nil, fmt.Errorf("encode analysis result: %w", err)
	}
	return out, nil
}

// Cancel is a no-op acknowledgement: the computation has no long-running
// phase to interrupt once Execute has started.
func (r *Runner) Cancel(context.Context, plugin.Handle) error { return nil }

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func extractSeries(records any, expr string) ([]float64, error) {
	res, err := jmespath.Search(expr, records)
	if err != nil {
		return nil, fmt.Errorf("jmespath %q: %w", expr, err)
	}
	items, ok := res.([]any)
	if !ok {
		return nil, fmt.Errorf("jmespath %q did not yield an array", expr)
	}
	series := make([]float64, 0, len(items))
	for i, item := range items {
		f, ok := item.(float64)
		if !ok {
			return nil, fmt.Errorf("jmespath %q yielded non-numeric value at index %d", expr, i)
		}
		series = append(series, f)
	}
	return series, nil
}

func median(xs []float64) float64 {
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// cod is the coefficient of dispersion: average absolute deviation from the
// median ratio, as a percentage of the median.
func cod(ratios []float64, med float64) float64 {
	if med == 0 {
		return 0
	}
	var sum float64
	for _, r := range ratios {
		sum += math.Abs(r - med)
	}
	return (sum / float64(len(ratios))) / med * 100
}

// prd is the price-related differential: mean ratio over the sale-weighted
// mean ratio. Values above ~1.03 indicate assessment regressivity.
func prd(sales, values []float64) float64 {
	var ratioSum, saleSum, valueSum float64
	for i := range sales {
		ratioSum += values[i] / sales[i]
		saleSum += sales[i]
		valueSum += values[i]
	}
	if saleSum == 0 || valueSum == 0 {
		return 0
	}
	mean := ratioSum / float64(len(sales))
	weighted := valueSum / saleSum
	return mean / weighted
}

func round4(f float64) float64 {
	return math.Round(f*10000) / 10000
}

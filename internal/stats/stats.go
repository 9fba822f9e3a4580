// Package stats computes QC descriptive statistics over CV measurements:
// control limits, process capability, outliers and distribution shape.
package stats

import (
	"fmt"
	"math"
	"slices"
	"time"

	"gonum.org/v1/gonum/stat"
)

const (
	MinDataPoints = 3

	// Specification limits for CV percentages.
	DefaultUSL = 95.0
	DefaultLSL = 0.0

	zThreshold         = 3.0
	modifiedZThreshold = 3.5
	modifiedZScale     = 0.6745
	tukeyK             = 1.5
)

// ErrorType classifies why a report could not be produced.
type ErrorType string

const (
	NoData           ErrorType = "NO_DATA"
	InsufficientData ErrorType = "INSUFFICIENT_DATA"
	CalculationError ErrorType = "CALCULATION_ERROR"
)

// Error is returned by Compute when the input cannot be analyzed.
type Error struct {
	Type       ErrorType
	DataPoints int
	Err        error
}

func (e *Error) Error() string {
	switch e.Type {
	case NoData:
		return "no CV data available for analysis"
	case InsufficientData:
		return fmt.Sprintf("At least %d data points are required for statistical analysis. Found %d.", MinDataPoints, e.DataPoints)
	default:
		if e.Err != nil {
			return "statistical calculation failed: " + e.Err.Error()
		}
		return "statistical calculation failed"
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Number is a rounded statistic; nil when undefined (e.g. zero variance).
type Number = *float64

type Overall struct {
	Mean              Number    `json:"mean"`
	Median            Number    `json:"median"`
	StdDev            Number    `json:"stdDev"`
	CV                Number    `json:"cv"`
	UpperControlLimit Number    `json:"upperControlLimit"`
	LowerControlLimit Number    `json:"lowerControlLimit"`
	Outliers          []float64 `json:"outliers"`
	Q1                Number    `json:"q1"`
	Q3                Number    `json:"q3"`
	IQR               Number    `json:"iqr"`
	P90               Number    `json:"p90"`
	P95               Number    `json:"p95"`
	Min               Number    `json:"min"`
	Max               Number    `json:"max"`
	Count             int       `json:"count"`
}

type Capability struct {
	Cp             Number  `json:"cp"`
	Cpk            Number  `json:"cpk"`
	USL            float64 `json:"usl"`
	LSL            float64 `json:"lsl"`
	Mean           Number  `json:"mean"`
	Sigma          Number  `json:"sigma"`
	WithinSpec     Number  `json:"withinSpec"`
	Interpretation string  `json:"interpretation"`
}

type IndexedValue struct {
	Value float64 `json:"value"`
	Index int     `json:"index"`
}

type ZOutlier struct {
	IndexedValue
	ZScore float64 `json:"zScore"`
}

type ModifiedZOutlier struct {
	IndexedValue
	ModZScore float64 `json:"modZScore"`
}

type ConsensusOutlier struct {
	IndexedValue
	Methods int `json:"methods"`
}

type Outliers struct {
	IQR       []IndexedValue     `json:"iqrOutliers"`
	ZScore    []ZOutlier         `json:"zScoreOutliers"`
	ModifiedZ []ModifiedZOutlier `json:"modifiedZOutliers"`
	Consensus []ConsensusOutlier `json:"consensus"`
}

type Percentiles struct {
	P5  Number `json:"p5"`
	P10 Number `json:"p10"`
	P25 Number `json:"p25"`
	P50 Number `json:"p50"`
	P75 Number `json:"p75"`
	P90 Number `json:"p90"`
	P95 Number `json:"p95"`
}

type Distribution struct {
	Mean        Number      `json:"mean"`
	Median      Number      `json:"median"`
	Mode        Number      `json:"mode"`
	StdDev      Number      `json:"stdDev"`
	Variance    Number      `json:"variance"`
	Skewness    Number      `json:"skewness"`
	Kurtosis    Number      `json:"kurtosis"`
	Range       Number      `json:"range"`
	CV          Number      `json:"cv"`
	Percentiles Percentiles `json:"percentiles"`
}

type DataInfo struct {
	TotalConfigs  int       `json:"totalConfigs"`
	ConfigsWithCV int       `json:"configsWithCV"`
	DateGenerated time.Time `json:"dateGenerated"`
}

// Report is the full analytics response.
type Report struct {
	Overall      Overall      `json:"overall"`
	Capability   Capability   `json:"capability"`
	Outliers     Outliers     `json:"outliers"`
	Distribution Distribution `json:"distribution"`
	DataInfo     DataInfo     `json:"dataInfo"`
}

// Compute analyzes values against the default specification limits.
// totalConfigs is the number of configurations before dropping rows
// without a CV value.
func Compute(values []float64, totalConfigs int, now time.Time) (rep Report, err error) {
	clean := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			clean = append(clean, v)
		}
	}
	switch n := len(clean); {
	case n == 0:
		return Report{}, &Error{Type: NoData}
	case n < MinDataPoints:
		return Report{}, &Error{Type: InsufficientData, DataPoints: n}
	}

	defer func() {
		if r := recover(); r != nil {
			rep = Report{}
			err = &Error{Type: CalculationError, DataPoints: len(clean), Err: fmt.Errorf("%v", r)}
		}
	}()

	d := describe(clean)
	return Report{
		Overall:      overall(d),
		Capability:   capability(d, DefaultUSL, DefaultLSL),
		Outliers:     outliers(d),
		Distribution: distribution(d),
		DataInfo: DataInfo{
			TotalConfigs:  totalConfigs,
			ConfigsWithCV: len(clean),
			DateGenerated: now.UTC(),
		},
	}, nil
}

// description caches the moments shared by all sections.
type description struct {
	x      []float64 // input order
	sorted []float64
	mean   float64
	std    float64 // population
	median float64
}

func describe(x []float64) description {
	sorted := slices.Clone(x)
	slices.Sort(sorted)
	return description{
		x:      x,
		sorted: sorted,
		mean:   stat.Mean(x, nil),
		std:    stat.PopStdDev(x, nil),
		median: median(sorted),
	}
}

func overall(d description) Overall {
	q1, q3 := quantile(d.sorted, 0.25), quantile(d.sorted, 0.75)
	iqr := q3 - q1
	lo, hi := q1-tukeyK*iqr, q3+tukeyK*iqr
	out := []float64{}
	for _, v := range d.x {
		if v < lo || v > hi {
			out = append(out, v)
		}
	}
	return Overall{
		Mean:              num(d.mean, 2),
		Median:            num(d.median, 2),
		StdDev:            num(d.std, 2),
		CV:                num(d.std/d.mean*100, 2),
		UpperControlLimit: num(d.mean+3*d.std, 2),
		LowerControlLimit: num(math.Max(0, d.mean-3*d.std), 2),
		Outliers:          out,
		Q1:                num(q1, 2),
		Q3:                num(q3, 2),
		IQR:               num(iqr, 2),
		P90:               num(quantile(d.sorted, 0.90), 2),
		P95:               num(quantile(d.sorted, 0.95), 2),
		Min:               num(d.sorted[0], 2),
		Max:               num(d.sorted[len(d.sorted)-1], 2),
		Count:             len(d.x),
	}
}

func capability(d description, usl, lsl float64) Capability {
	within := 0
	for _, v := range d.x {
		if v >= lsl && v <= usl {
			within++
		}
	}
	cp := (usl - lsl) / (6 * d.std)
	cpk := math.Min((usl-d.mean)/(3*d.std), (d.mean-lsl)/(3*d.std))
	return Capability{
		Cp:             num(cp, 2),
		Cpk:            num(cpk, 2),
		USL:            usl,
		LSL:            lsl,
		Mean:           num(d.mean, 2),
		Sigma:          num(d.std, 2),
		WithinSpec:     num(float64(within)/float64(len(d.x))*100, 1),
		Interpretation: Interpret(cpk),
	}
}

// Interpret maps a Cpk value onto its capability band.
func Interpret(cpk float64) string {
	switch {
	case math.IsNaN(cpk) || math.IsInf(cpk, 0):
		return "Undefined - Zero Variation"
	case cpk >= 2.0:
		return "Excellent - World Class"
	case cpk >= 1.33:
		return "Good - Capable Process"
	case cpk >= 1.0:
		return "Acceptable - Marginal"
	default:
		return "Poor - Not Capable"
	}
}

func outliers(d description) Outliers {
	q1, q3 := quantile(d.sorted, 0.25), quantile(d.sorted, 0.75)
	iqr := q3 - q1
	lo, hi := q1-tukeyK*iqr, q3+tukeyK*iqr

	dev := make([]float64, len(d.x))
	for i, v := range d.x {
		dev[i] = math.Abs(v - d.median)
	}
	slices.Sort(dev)
	mad := median(dev)

	res := Outliers{
		IQR:       []IndexedValue{},
		ZScore:    []ZOutlier{},
		ModifiedZ: []ModifiedZOutlier{},
		Consensus: []ConsensusOutlier{},
	}
	counts := make([]int, len(d.x))
	for i, v := range d.x {
		iv := IndexedValue{Value: v, Index: i}
		if v < lo || v > hi {
			res.IQR = append(res.IQR, iv)
			counts[i]++
		}
		if d.std > 0 {
			if z := (v - d.mean) / d.std; math.Abs(z) > zThreshold {
				res.ZScore = append(res.ZScore, ZOutlier{IndexedValue: iv, ZScore: round(z, 3)})
				counts[i]++
			}
		}
		if mad > 0 {
			if mz := modifiedZScale * (v - d.median) / mad; math.Abs(mz) > modifiedZThreshold {
				res.ModifiedZ = append(res.ModifiedZ, ModifiedZOutlier{IndexedValue: iv, ModZScore: round(mz, 3)})
				counts[i]++
			}
		}
	}
	for i, c := range counts {
		if c >= 2 {
			res.Consensus = append(res.Consensus, ConsensusOutlier{IndexedValue: IndexedValue{Value: d.x[i], Index: i}, Methods: c})
		}
	}
	return res
}

func distribution(d description) Distribution {
	mode, _ := stat.Mode(d.sorted, nil)
	variance := stat.PopVariance(d.x, nil)
	n := len(d.x)

	var skew, kurt Number
	if n >= 3 {
		skew = num(stat.Skew(d.x, nil), 3)
	}
	if n >= 4 {
		kurt = num(stat.ExKurtosis(d.x, nil), 3)
	}
	p := func(q float64) Number { return num(quantile(d.sorted, q), 2) }
	return Distribution{
		Mean:     num(d.mean, 2),
		Median:   num(d.median, 2),
		Mode:     num(mode, 2),
		StdDev:   num(d.std, 2),
		Variance: num(variance, 2),
		Skewness: skew,
		Kurtosis: kurt,
		Range:    num(d.sorted[n-1]-d.sorted[0], 2),
		CV:       num(d.std/d.mean*100, 2),
		Percentiles: Percentiles{
			P5: p(0.05), P10: p(0.10), P25: p(0.25), P50: p(0.50),
			P75: p(0.75), P90: p(0.90), P95: p(0.95),
		},
	}
}

// quantile uses the empirical estimator on sorted data, except that p is
// averaged across the boundary when n*p lands exactly on an index, so the
// 0.5 quantile of an even-sized sample is the usual median.
func quantile(sorted []float64, p float64) float64 {
	n := float64(len(sorted))
	idx := n * p
	if idx == math.Trunc(idx) && idx > 0 && int(idx) < len(sorted) {
		return (sorted[int(idx)-1] + sorted[int(idx)]) / 2
	}
	return stat.Quantile(p, stat.Empirical, sorted, nil)
}

func median(sorted []float64) float64 {
	return quantile(sorted, 0.5)
}

func num(v float64, places int) Number {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	r := round(v, places)
	return &r
}

func round(v float64, places int) float64 {
	f := math.Pow(10, float64(places))
	return math.Round(v*f) / f
}

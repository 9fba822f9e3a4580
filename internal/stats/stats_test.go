package stats

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"
	"time"
)

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestComputeNoData(t *testing.T) {
	_, err := Compute(nil, 12, now)
	var se *Error
	if !errors.As(err, &se) || se.Type != NoData {
		t.Fatalf("got %v, want NO_DATA", err)
	}
	_, err = Compute([]float64{math.NaN()}, 1, now)
	if !errors.As(err, &se) || se.Type != NoData {
		t.Fatalf("NaN only: got %v, want NO_DATA", err)
	}
}

func TestComputeInsufficientData(t *testing.T) {
	for _, vals := range [][]float64{{4.2}, {4.2, 5.1}} {
		_, err := Compute(vals, 5, now)
		var se *Error
		if !errors.As(err, &se) || se.Type != InsufficientData {
			t.Fatalf("n=%d: got %v, want INSUFFICIENT_DATA", len(vals), err)
		}
		if se.DataPoints != len(vals) {
			t.Errorf("data points = %d", se.DataPoints)
		}
		if !strings.Contains(se.Error(), "At least 3 data points") {
			t.Errorf("message = %q", se.Error())
		}
	}
}

func TestComputeBasicReport(t *testing.T) {
	vals := []float64{80, 85, 90, 95, 100, 82, 88, 91}
	rep, err := Compute(vals, 10, now)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if rep.Overall.Count != 8 || rep.DataInfo.ConfigsWithCV != 8 || rep.DataInfo.TotalConfigs != 10 {
		t.Errorf("counts: %+v %+v", rep.Overall.Count, rep.DataInfo)
	}
	if got := *rep.Overall.Mean; got != 88.88 {
		t.Errorf("mean = %v, want 88.88", got)
	}
	// sorted: 80 82 85 88 90 91 95 100 -> median (88+90)/2
	if got := *rep.Overall.Median; got != 89 {
		t.Errorf("median = %v, want 89", got)
	}
	if *rep.Overall.Min != 80 || *rep.Overall.Max != 100 || *rep.Distribution.Range != 20 {
		t.Errorf("min/max/range = %v/%v/%v", *rep.Overall.Min, *rep.Overall.Max, *rep.Distribution.Range)
	}
	if *rep.Overall.LowerControlLimit < 0 {
		t.Error("LCL must not be negative")
	}
	if *rep.Capability.WithinSpec != 87.5 {
		t.Errorf("withinSpec = %v, want 87.5 (100 is above USL)", *rep.Capability.WithinSpec)
	}
	if rep.Distribution.Skewness == nil || rep.Distribution.Kurtosis == nil {
		t.Error("skewness and kurtosis should be defined for n=8")
	}
	if !rep.DataInfo.DateGenerated.Equal(now) {
		t.Errorf("date = %v", rep.DataInfo.DateGenerated)
	}
}

func TestComputeZeroVarianceEmitsNull(t *testing.T) {
	rep, err := Compute([]float64{50, 50, 50}, 3, now)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if rep.Capability.Cpk != nil || rep.Capability.Cp != nil {
		t.Errorf("cpk should be null for zero sigma")
	}
	if rep.Capability.Interpretation != "Undefined - Zero Variation" {
		t.Errorf("interpretation = %q", rep.Capability.Interpretation)
	}
	if rep.Distribution.Kurtosis != nil {
		t.Error("kurtosis needs at least 4 points")
	}
	b, err := json.Marshal(rep)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(b), "NaN") || !strings.Contains(string(b), `"cpk":null`) {
		t.Errorf("json = %s", b)
	}
}

func TestOutlierMethods(t *testing.T) {
	vals := []float64{10, 10.5, 11, 10.2, 10.8, 10.1, 10.4, 10.6, 10.3, 10.7, 10.9, 10.2, 10.5, 10.4, 60}
	rep, err := Compute(vals, len(vals), now)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	o := rep.Outliers
	if len(o.IQR) != 1 || o.IQR[0].Index != 14 {
		t.Errorf("iqr = %+v", o.IQR)
	}
	if len(o.ZScore) != 1 || o.ZScore[0].Value != 60 {
		t.Errorf("z = %+v", o.ZScore)
	}
	if len(o.ModifiedZ) != 1 {
		t.Errorf("modified z = %+v", o.ModifiedZ)
	}
	if len(o.Consensus) != 1 || o.Consensus[0].Methods != 3 {
		t.Errorf("consensus = %+v", o.Consensus)
	}
}

func TestInterpret(t *testing.T) {
	tests := []struct {
		cpk  float64
		want string
	}{
		{2.5, "Excellent - World Class"},
		{2.0, "Excellent - World Class"},
		{1.5, "Good - Capable Process"},
		{1.33, "Good - Capable Process"},
		{1.0, "Acceptable - Marginal"},
		{0.4, "Poor - Not Capable"},
		{-1, "Poor - Not Capable"},
	}
	for _, tt := range tests {
		if got := Interpret(tt.cpk); got != tt.want {
			t.Errorf("Interpret(%v) = %q, want %q", tt.cpk, got, tt.want)
		}
	}
}

func TestQuantile(t *testing.T) {
	x := []float64{1, 2, 3, 4}
	if got := quantile(x, 0.5); got != 2.5 {
		t.Errorf("median = %v", got)
	}
	if got := quantile(x, 0.25); got != 1.5 {
		t.Errorf("q1 = %v", got)
	}
	if got := quantile(x, 0.9); got != 4 {
		t.Errorf("p90 = %v", got)
	}
	if got := quantile([]float64{7}, 0.5); got != 7 {
		t.Errorf("single = %v", got)
	}
}

package costs

import (
	"math"
	"testing"

	"github.com/joseph-ayodele/thermo-extraction/internal/entity"
)

func TestPriceFor(t *testing.T) {
	tests := []struct {
		model string
		want  Price
	}{
		{"claude-sonnet-4-5-20250929", Price{3, 15}},
		{"claude-opus-4-1-20250805", Price{15, 75}},
		{"gpt-4o-mini-2024-07-18", Price{0.15, 0.60}},
		{"gpt-4o", Price{2.50, 10}},
		{"something-new", DefaultPrice},
		{"", DefaultPrice},
	}
	for _, tt := range tests {
		if got := PriceFor(tt.model); got != tt.want {
			t.Errorf("PriceFor(%q) = %+v, want %+v", tt.model, got, tt.want)
		}
	}
}

func TestCost(t *testing.T) {
	// 1M in + 1M out on sonnet = 3 + 15
	if got := Cost(1_000_000, 1_000_000, "claude-sonnet-4-5"); got != 18 {
		t.Errorf("got %v, want 18", got)
	}
	if got := Cost(-5, 0, "claude-sonnet-4-5"); got != 0 {
		t.Errorf("negative tokens priced: %v", got)
	}
}

func TestCostMonotone(t *testing.T) {
	model := "claude-sonnet-4-5"
	prev := Cost(0, 0, model)
	for in := int64(0); in <= 200_000; in += 25_000 {
		for out := int64(0); out <= 40_000; out += 10_000 {
			c := Cost(in, out, model)
			if c < 0 {
				t.Fatalf("negative cost %v", c)
			}
			if c < Cost(in, max(out-10_000, 0), model) || c < Cost(max(in-25_000, 0), out, model) {
				t.Fatalf("cost not monotone at in=%d out=%d", in, out)
			}
		}
		if c := Cost(in, 0, model); c < prev {
			t.Fatalf("cost decreased at in=%d", in)
		} else {
			prev = c
		}
	}
}

func TestComputeTotalIsSum(t *testing.T) {
	model := "claude-sonnet-4-5-20250929"
	s := &entity.Session{
		AIModel: &model,
		Usage: entity.Usage{
			Analysis:     entity.TokenBucket{InputTokens: 52_000, OutputTokens: 1_800, Calls: 1},
			Extraction:   entity.TokenBucket{InputTokens: 210_000, OutputTokens: 14_000, Calls: 6},
			FairAnalysis: entity.TokenBucket{InputTokens: 3_000, OutputTokens: 900, Calls: 1},
		},
	}
	b := ForSession(s)
	sum := b.Analysis.Cost + b.Extraction.Cost + b.FairAnalysis.Cost
	if math.Abs(b.Total-sum) > 1e-6 {
		t.Errorf("total %v != sum %v", b.Total, sum)
	}
	if b.TotalTokens != 52_000+1_800+210_000+14_000+3_000+900 {
		t.Errorf("total tokens %d", b.TotalTokens)
	}
	if b.Extraction.Calls != 6 || b.Model != model {
		t.Errorf("got %+v", b)
	}
}

func TestComputeEmpty(t *testing.T) {
	b := ForSession(&entity.Session{})
	if b.Total != 0 || b.TotalTokens != 0 || b.Model != "" {
		t.Errorf("got %+v", b)
	}
}

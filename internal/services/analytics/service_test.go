package analytics

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc/codes"

	"github.com/joseph-ayodele/thermo-extraction/internal/common"
	"github.com/joseph-ayodele/thermo-extraction/internal/entity"
	"github.com/joseph-ayodele/thermo-extraction/internal/repository"
	"github.com/joseph-ayodele/thermo-extraction/internal/stats"
	"github.com/joseph-ayodele/thermo-extraction/internal/testutil"
)

func seed(t *testing.T) *Service {
	t.Helper()
	repo := repository.NewTestConfigRepository(testutil.NewDB(t), testutil.Logger())
	cv := func(v float64) *float64 { return &v }
	for _, tc := range []*entity.TestConfig{
		{ManufacturerID: 1, AssayID: 10, Curated: true, CVLt10Percentage: cv(80)},
		{ManufacturerID: 1, AssayID: 11, Curated: true, CVLt10Percentage: cv(90)},
		{ManufacturerID: 1, AssayID: 12, Curated: true, CVLt10Percentage: cv(85)},
		{ManufacturerID: 2, AssayID: 10, Curated: false, CVLt10Percentage: cv(70)},
		{ManufacturerID: 2, AssayID: 12, Curated: true},
	} {
		if err := repo.Create(context.Background(), tc); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	return NewService(repo, testutil.Logger())
}

func TestFilter(t *testing.T) {
	cases := []struct {
		name    string
		req     StatsRequest
		curated bool
		wantErr bool
	}{
		{"defaults to curated", StatsRequest{}, true, false},
		{"all", StatsRequest{Dataset: "ALL"}, false, false},
		{"unknown dataset", StatsRequest{Dataset: "raw"}, false, true},
		{"bad manufacturer", StatsRequest{ManufacturerID: "abc"}, false, true},
		{"negative assay", StatsRequest{AssayID: "-2"}, false, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f, err := tc.req.Filter()
			if tc.wantErr {
				if common.CodeOf(err) != codes.InvalidArgument {
					t.Fatalf("got %v, want InvalidArgument", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if f.CuratedOnly != tc.curated {
				t.Errorf("curated = %v", f.CuratedOnly)
			}
		})
	}
}

func TestStats(t *testing.T) {
	svc := seed(t)
	ctx := context.Background()

	rep, err := svc.Stats(ctx, StatsRequest{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if rep.DataInfo.TotalConfigs != 4 || rep.DataInfo.ConfigsWithCV != 3 {
		t.Errorf("data info %+v", rep.DataInfo)
	}
	if rep.Overall.Mean == nil || *rep.Overall.Mean != 85 {
		t.Errorf("mean %v", rep.Overall.Mean)
	}

	_, err = svc.Stats(ctx, StatsRequest{Dataset: "all", ManufacturerID: "2"})
	var se *stats.Error
	if !errors.As(err, &se) || se.Type != stats.InsufficientData || se.DataPoints != 1 {
		t.Errorf("got %v, want INSUFFICIENT_DATA with 1 point", err)
	}

	_, err = svc.Stats(ctx, StatsRequest{ManufacturerID: "9"})
	if !errors.As(err, &se) || se.Type != stats.NoData {
		t.Errorf("got %v, want NO_DATA", err)
	}
}

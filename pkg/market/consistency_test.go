package market

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantflow/argus/pkg/models"
)

func fptr(v float64) *float64 { return &v }

func TestConsistencyChecker_Compare(t *testing.T) {
	checker := NewConsistencyChecker()

	tests := []struct {
		name           string
		primary        []models.DailyBasic
		secondary      []models.DailyBasic
		wantConfidence float64
		wantStrategy   string
		wantConsistent bool
	}{
		{
			name:           "identical rows agree",
			primary:        []models.DailyBasic{{Symbol: "000001", Close: fptr(11.5), PE: fptr(8.2)}},
			secondary:      []models.DailyBasic{{Symbol: "000001", Close: fptr(11.5), PE: fptr(8.2)}},
			wantConfidence: 1.0,
			wantStrategy:   ResolutionUsePrimary,
			wantConsistent: true,
		},
		{
			name:           "values within tolerance agree",
			primary:        []models.DailyBasic{{Symbol: "000001", Close: fptr(1000)}},
			secondary:      []models.DailyBasic{{Symbol: "000001", Close: fptr(1001)}},
			wantConfidence: 1.0,
			wantStrategy:   ResolutionUsePrimary,
			wantConsistent: true,
		},
		{
			name:           "half the fields diverge",
			primary:        []models.DailyBasic{{Symbol: "000001", Close: fptr(10), PE: fptr(8)}},
			secondary:      []models.DailyBasic{{Symbol: "000001", Close: fptr(10), PE: fptr(20)}},
			wantConfidence: 0.5,
			wantStrategy:   ResolutionMerge,
			wantConsistent: false,
		},
		{
			name:           "everything diverges",
			primary:        []models.DailyBasic{{Symbol: "000001", Close: fptr(10)}},
			secondary:      []models.DailyBasic{{Symbol: "000001", Close: fptr(99)}},
			wantConfidence: 0.0,
			wantStrategy:   ResolutionFlagForReview,
			wantConsistent: false,
		},
		{
			name:           "no overlapping symbols means nothing contradicts",
			primary:        []models.DailyBasic{{Symbol: "000001", Close: fptr(10)}},
			secondary:      []models.DailyBasic{{Symbol: "600519", Close: fptr(1700)}},
			wantConfidence: 1.0,
			wantStrategy:   ResolutionUsePrimary,
			wantConsistent: true,
		},
		{
			name:           "nil fields are skipped, not compared",
			primary:        []models.DailyBasic{{Symbol: "000001", Close: fptr(10), PE: nil}},
			secondary:      []models.DailyBasic{{Symbol: "000001", Close: fptr(10), PE: fptr(8)}},
			wantConfidence: 1.0,
			wantStrategy:   ResolutionUsePrimary,
			wantConsistent: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := checker.Compare("tushare", "akshare", tt.primary, tt.secondary)
			require.NotNil(t, report)
			assert.Equal(t, tt.wantConfidence, report.ConfidenceScore)
			assert.Equal(t, tt.wantStrategy, report.ResolutionStrategy)
			assert.Equal(t, tt.wantConsistent, report.IsConsistent)
			assert.Equal(t, "tushare", report.PrimarySource)
			assert.Equal(t, "akshare", report.SecondarySource)
			assert.NotEmpty(t, report.RecommendedAction)
		})
	}
}

func TestConsistencyChecker_Differences(t *testing.T) {
	checker := NewConsistencyChecker()
	primary := []models.DailyBasic{{Symbol: "600519", Close: fptr(1700), PB: fptr(9.1)}}
	secondary := []models.DailyBasic{{Symbol: "600519", Close: fptr(1800), PB: fptr(9.1)}}

	report := checker.Compare("tushare", "akshare", primary, secondary)
	require.Contains(t, report.Differences, "600519.close")
	diff := report.Differences["600519.close"].(map[string]any)
	assert.Equal(t, 1700.0, diff["primary"])
	assert.Equal(t, 1800.0, diff["secondary"])
	assert.NotContains(t, report.Differences, "600519.pb")
}

func TestConsistencyChecker_DifferencesCapped(t *testing.T) {
	checker := NewConsistencyChecker()
	var primary, secondary []models.DailyBasic
	for i := 0; i < 30; i++ {
		symbol := fmt.Sprintf("%06d", i)
		primary = append(primary, models.DailyBasic{Symbol: symbol, Close: fptr(10)})
		secondary = append(secondary, models.DailyBasic{Symbol: symbol, Close: fptr(99)})
	}

	report := checker.Compare("tushare", "akshare", primary, secondary)
	// 20 reported differences plus the omitted counter.
	assert.Len(t, report.Differences, maxReportedDifferences+1)
	assert.Equal(t, 10, report.Differences["omitted"])
}

func TestMergeDailyBasics(t *testing.T) {
	primary := []models.DailyBasic{
		{Symbol: "000001", Close: fptr(11.5), PE: nil, PB: fptr(0.9)},
		{Symbol: "000002", Close: fptr(20)},
	}
	secondary := []models.DailyBasic{
		{Symbol: "000001", Close: fptr(11.6), PE: fptr(8.2), PB: fptr(1.1)},
		{Symbol: "600519", Close: fptr(1700)},
	}

	merged := mergeDailyBasics(primary, secondary)
	require.Len(t, merged, 3)

	// Primary values win; nil fields fill from the secondary.
	assert.Equal(t, 11.5, *merged[0].Close)
	assert.Equal(t, 8.2, *merged[0].PE)
	assert.Equal(t, 0.9, *merged[0].PB)

	// Symbols only the secondary saw are appended.
	assert.Equal(t, "600519", merged[2].Symbol)
	assert.Equal(t, 1700.0, *merged[2].Close)
}

func TestWithinTolerance(t *testing.T) {
	assert.True(t, withinTolerance(100, 100, 0.005))
	assert.True(t, withinTolerance(100, 100.4, 0.005))
	assert.False(t, withinTolerance(100, 101, 0.005))
	assert.True(t, withinTolerance(0, 0, 0.005))
	assert.False(t, withinTolerance(0, 1, 0.005))
}

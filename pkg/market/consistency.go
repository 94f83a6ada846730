package market

import (
	"fmt"
	"math"

	"github.com/quantflow/argus/pkg/models"
)

// Resolution strategies a consistency report can recommend.
const (
	ResolutionUsePrimary    = "use_primary"
	ResolutionUseSecondary  = "use_secondary"
	ResolutionMerge         = "merge"
	ResolutionFlagForReview = "flag_for_review"
)

// maxReportedDifferences caps the differences map so a bad feed does not
// produce a report with thousands of entries.
const maxReportedDifferences = 20

// ConsistencyChecker scores how well two providers agree on the same
// valuation snapshot. It compares close, PE and PB for every symbol both
// sources cover; values within Tolerance (relative) count as agreement.
type ConsistencyChecker struct {
	Tolerance float64
}

// NewConsistencyChecker returns a checker with the default 0.5% tolerance.
func NewConsistencyChecker() *ConsistencyChecker {
	return &ConsistencyChecker{Tolerance: 0.005}
}

// Compare diffs the two row sets and recommends a resolution. Confidence is
// the share of compared fields that agreed; with no overlap there is nothing
// to contradict and the sources count as consistent.
func (c *ConsistencyChecker) Compare(primaryName, secondaryName string, primary, secondary []models.DailyBasic) *models.ConsistencyReport {
	secondaryBySymbol := make(map[string]models.DailyBasic, len(secondary))
	for _, row := range secondary {
		secondaryBySymbol[row.Symbol] = row
	}

	compared, matched, omitted := 0, 0, 0
	differences := map[string]any{}
	for _, p := range primary {
		s, ok := secondaryBySymbol[p.Symbol]
		if !ok {
			continue
		}
		for _, f := range []struct {
			name   string
			pv, sv *float64
		}{
			{"close", p.Close, s.Close},
			{"pe", p.PE, s.PE},
			{"pb", p.PB, s.PB},
		} {
			if f.pv == nil || f.sv == nil {
				continue
			}
			compared++
			if withinTolerance(*f.pv, *f.sv, c.Tolerance) {
				matched++
				continue
			}
			if len(differences) >= maxReportedDifferences {
				omitted++
				continue
			}
			differences[p.Symbol+"."+f.name] = map[string]any{
				"primary":   *f.pv,
				"secondary": *f.sv,
			}
		}
	}
	if omitted > 0 {
		differences["omitted"] = omitted
	}

	confidence := 1.0
	if compared > 0 {
		confidence = float64(matched) / float64(compared)
	}

	report := &models.ConsistencyReport{
		IsConsistent:    confidence >= 0.9,
		ConfidenceScore: confidence,
		PrimarySource:   primaryName,
		SecondarySource: secondaryName,
	}
	if len(differences) > 0 {
		report.Differences = differences
	}

	switch {
	case confidence >= 0.9:
		report.ResolutionStrategy = ResolutionUsePrimary
		report.RecommendedAction = fmt.Sprintf("sources agree (%.1f%%); use %s", confidence*100, primaryName)
	case confidence >= 0.5:
		report.ResolutionStrategy = ResolutionMerge
		report.RecommendedAction = fmt.Sprintf("partial agreement (%.1f%%); merge %s into %s", confidence*100, secondaryName, primaryName)
	default:
		report.ResolutionStrategy = ResolutionFlagForReview
		report.RecommendedAction = fmt.Sprintf("sources disagree (%.1f%%); review before use", confidence*100)
	}
	return report
}

// withinTolerance compares two values by relative difference.
func withinTolerance(a, b, tolerance float64) bool {
	if a == b {
		return true
	}
	scale := math.Max(math.Abs(a), math.Abs(b))
	if scale == 0 {
		return true
	}
	return math.Abs(a-b)/scale <= tolerance
}

// mergeDailyBasics fills missing fields in primary rows from the secondary
// set and appends symbols only the secondary saw. Primary values win.
func mergeDailyBasics(primary, secondary []models.DailyBasic) []models.DailyBasic {
	secondaryBySymbol := make(map[string]models.DailyBasic, len(secondary))
	for _, row := range secondary {
		secondaryBySymbol[row.Symbol] = row
	}

	merged := make([]models.DailyBasic, 0, len(primary))
	seen := make(map[string]bool, len(primary))
	for _, p := range primary {
		seen[p.Symbol] = true
		s, ok := secondaryBySymbol[p.Symbol]
		if !ok {
			merged = append(merged, p)
			continue
		}
		p.Close = orFloat(p.Close, s.Close)
		p.TurnoverRate = orFloat(p.TurnoverRate, s.TurnoverRate)
		p.VolumeRatio = orFloat(p.VolumeRatio, s.VolumeRatio)
		p.PE = orFloat(p.PE, s.PE)
		p.PETTM = orFloat(p.PETTM, s.PETTM)
		p.PB = orFloat(p.PB, s.PB)
		p.PS = orFloat(p.PS, s.PS)
		p.TotalShare = orFloat(p.TotalShare, s.TotalShare)
		p.FloatShare = orFloat(p.FloatShare, s.FloatShare)
		p.TotalMktCap = orFloat(p.TotalMktCap, s.TotalMktCap)
		p.CircMktCap = orFloat(p.CircMktCap, s.CircMktCap)
		merged = append(merged, p)
	}
	for _, s := range secondary {
		if !seen[s.Symbol] {
			merged = append(merged, s)
		}
	}
	return merged
}

func orFloat(a, b *float64) *float64 {
	if a != nil {
		return a
	}
	return b
}

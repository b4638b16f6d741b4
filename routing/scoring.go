package routing

import (
	"fmt"
	"sort"
	"time"

	"github.com/jbctechsolutions/mizan/config"
)

// Scorer ranks backend profiles for a given feature vector and task context
// using a weighted criteria model. Scoring is pure computation: the same
// inputs always produce the same ranking.
type Scorer struct {
	cfg config.Scoring
}

// NewScorer returns a Scorer backed by the provided scoring constants.
func NewScorer(cfg config.Scoring) *Scorer {
	return &Scorer{cfg: cfg}
}

// Score computes a ranked candidate list across profiles. For each backend
// the score is the sum over criteria of strength_weight * relevance, where
// relevance maps the feature/context combination into [0,1].
//
// Two vetoes exclude backends before scoring: unavailable backends, and
// backends whose token limit is below the input length. If every backend is
// vetoed the returned ranking is empty — the caller must treat that as a
// terminal condition rather than retrying.
//
// The ranking is a total order: ties on score are broken by lower average
// latency, then by backend ID.
func (s *Scorer) Score(f TextFeatures, tctx TaskContext, profiles []BackendProfile) []RankedCandidate {
	type contribution struct {
		criterion string
		value     float64
		note      string
	}

	var candidates []RankedCandidate

	for _, p := range profiles {
		// Availability veto.
		if !p.Available {
			continue
		}
		// Token-limit veto.
		if p.MaxInputTokens < f.LengthTokens {
			continue
		}

		// Accumulate in a fixed criterion order: float addition is not
		// associative, so ranging over the map directly would make the sum
		// vary across calls.
		criteria := make([]string, 0, len(p.Strengths))
		for criterion := range p.Strengths {
			criteria = append(criteria, criterion)
		}
		sort.Strings(criteria)

		var contribs []contribution
		total := 0.0
		for _, criterion := range criteria {
			rel, note := s.relevance(criterion, f, tctx)
			c := p.Strengths[criterion] * rel
			total += c
			contribs = append(contribs, contribution{criterion: criterion, value: c, note: note})
		}

		// Top three contributions become the human-readable reasons.
		sort.Slice(contribs, func(i, j int) bool {
			if contribs[i].value != contribs[j].value {
				return contribs[i].value > contribs[j].value
			}
			return contribs[i].criterion < contribs[j].criterion
		})
		var reasons []string
		for i, c := range contribs {
			if i == 3 {
				break
			}
			reasons = append(reasons, fmt.Sprintf("%s %s (+%.2f)", c.criterion, c.note, c.value))
		}

		candidates = append(candidates, RankedCandidate{
			BackendID: p.ID,
			Score:     total,
			Reasons:   reasons,
		})
	}

	latency := make(map[string]int, len(profiles))
	for _, p := range profiles {
		latency[p.ID] = p.AvgLatencyMs
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		if latency[candidates[i].BackendID] != latency[candidates[j].BackendID] {
			return latency[candidates[i].BackendID] < latency[candidates[j].BackendID]
		}
		return candidates[i].BackendID < candidates[j].BackendID
	})

	return candidates
}

// relevance maps one criterion onto its importance multiplier for this
// request, along with a short note used in the candidate's reasons.
func (s *Scorer) relevance(criterion string, f TextFeatures, tctx TaskContext) (float64, string) {
	switch criterion {
	case CriterionDialect:
		// Dialect handling matters exactly as much as the text is dialectal.
		return f.DialectDensity, fmt.Sprintf("for dialect density %.2f", f.DialectDensity)

	case CriterionCultural:
		if tctx.TaskType == TaskCulturalAnalysis {
			return 1.0, "for cultural analysis task"
		}
		rel := s.cfg.BaseCultural
		note := "baseline"
		if f.Region != "" {
			rel += 0.3
			note = fmt.Sprintf("region %s detected", f.Region)
		}
		if rel > 1.0 {
			rel = 1.0
		}
		return rel, note

	case CriterionSpeed:
		tight := time.Duration(s.cfg.TightDeadlineMs) * time.Millisecond
		if tctx.TaskType == TaskQuickClassification {
			return 1.0, "for quick classification"
		}
		if tctx.Deadline > 0 && tctx.Deadline < tight {
			return 1.0, fmt.Sprintf("for tight deadline %s", tctx.Deadline)
		}
		return s.cfg.RelaxedSpeed, "relaxed deadline"

	case CriterionStructured:
		if tctx.TaskType == TaskQuickClassification {
			return 1.0, "structured output required"
		}
		return s.cfg.StructuredDefault, "baseline"

	case CriterionCost:
		sensitivity := tctx.CostSensitivity
		if sensitivity == "" {
			sensitivity = LevelMedium
		}
		rel, ok := s.cfg.CostRelevance[string(sensitivity)]
		note := fmt.Sprintf("%s cost sensitivity", sensitivity)
		if !ok {
			rel = s.cfg.CostRelevance[string(LevelMedium)]
			note = "default cost sensitivity"
		}
		// High-priority requests care about the answer more than the bill.
		if tctx.Priority == LevelHigh {
			rel *= 0.5
			note += ", halved for high priority"
		}
		return rel, note

	default:
		// Unknown criteria in a profile contribute nothing rather than
		// failing the whole ranking.
		return 0, "unknown criterion"
	}
}

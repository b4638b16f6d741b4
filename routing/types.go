package routing

import "time"

// TaskType identifies the kind of analysis the caller wants.
type TaskType string

const (
	TaskQuickClassification TaskType = "quick_classification"
	TaskDeepAnalysis        TaskType = "deep_analysis"
	TaskCulturalAnalysis    TaskType = "cultural_analysis"
	TaskGeneric             TaskType = "generic"
)

// Level is a coarse three-step scale used for priority and cost sensitivity.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// TaskContext is supplied by the caller alongside the text and describes
// what kind of answer is wanted and how long the caller will wait.
type TaskContext struct {
	TaskType        TaskType
	Priority        Level
	CostSensitivity Level
	Deadline        time.Duration

	// WantConsensus forces multi-strategy mode even for task types that
	// would normally run a single backend.
	WantConsensus bool
}

// TextFeatures is the fixed feature vector derived from one input text.
// All ratios are in [0,1]; ComplexityScore is in [0,10].
type TextFeatures struct {
	LengthTokens    int
	ScriptRatio     float64
	DialectDensity  float64
	ComplexityScore float64

	// Region is the best-guess dialect region tag, or "" when no region
	// could be detected.
	Region string
}

// Criterion names — keys of a backend's strength-weight map.
const (
	CriterionDialect    = "dialect"
	CriterionCultural   = "cultural"
	CriterionSpeed      = "speed"
	CriterionStructured = "structured"
	CriterionCost       = "cost"
)

// BackendProfile describes one registered analysis backend. AvgLatencyMs and
// Available are the only mutable fields; they are updated exclusively through
// the Registry's outcome-recording path.
type BackendProfile struct {
	ID             string
	Strengths      map[string]float64
	MaxInputTokens int
	AvgLatencyMs   int
	Available      bool
}

// RankedCandidate is one entry in the scoring engine's output.
type RankedCandidate struct {
	BackendID string   `json:"backend_id"`
	Score     float64  `json:"score"`
	Reasons   []string `json:"reasons,omitempty"`
}

// RoutingDecision records how one request was routed: the full ranking, the
// backend that produced the accepted result, and every backend whose attempt
// failed along the way.
type RoutingDecision struct {
	Candidates      []RankedCandidate `json:"candidates_ranked"`
	SelectedBackend string            `json:"selected_backend_id"`
	Confidence      float64           `json:"confidence"`
	FallbackChain   []string          `json:"fallback_chain_used,omitempty"`
}

// RawResult is a single backend's validated response. Confidence is nil when
// the backend did not report one; consensus weighting then defaults to 1.0.
// Extra carries task-specific fields the engine passes through untouched.
type RawResult struct {
	BackendID  string                 `json:"backend_id"`
	Label      string                 `json:"label"`
	Score      float64                `json:"score"`
	Confidence *float64               `json:"confidence,omitempty"`
	Extra      map[string]interface{} `json:"extra,omitempty"`
}

// AnalysisResult is the engine's final output for one request.
// AgreementScore is present only when consensus across two or more
// strategies was actually computed.
type AnalysisResult struct {
	Label          string          `json:"primary_label"`
	Score          float64         `json:"score"`
	Confidence     float64         `json:"confidence"`
	AgreementScore *float64        `json:"agreement_score,omitempty"`
	SourceBackends []string        `json:"source_backends"`
	Routing        RoutingDecision `json:"routing"`
}

// effectiveConfidence returns the result's own confidence, or 1.0 when the
// backend did not report one.
func effectiveConfidence(r RawResult) float64 {
	if r.Confidence != nil {
		return *r.Confidence
	}
	return 1.0
}

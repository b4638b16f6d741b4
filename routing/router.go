package routing

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jbctechsolutions/mizan/config"
	"github.com/jbctechsolutions/mizan/telemetry"
)

// defaultDeadline bounds requests whose TaskContext carries no deadline.
const defaultDeadline = 30 * time.Second

// Router composes the feature extractor, scoring engine, per-backend
// invokers, and consensus aggregator into the end-to-end decision and
// execution flow, including the bounded fallback chain. One Router instance
// owns its Registry and History; independent requests run fully in parallel
// and share only that read-mostly state.
type Router struct {
	cfg        *config.Config
	registry   *Registry
	extractor  *Extractor
	scorer     *Scorer
	aggregator *Aggregator
	caller     Caller
	history    *History
	telemetry  *telemetry.Collector
	logger     *zap.Logger

	invMu    sync.Mutex
	invokers map[string]*Invoker
}

// NewRouter wires a Router from the already-loaded config, a registry, and
// the caller that reaches concrete backends. Pass nil for tel to disable
// persistent telemetry and nil for logger to stay silent.
func NewRouter(cfg *config.Config, registry *Registry, caller Caller, tel *telemetry.Collector, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		cfg:        cfg,
		registry:   registry,
		extractor:  NewExtractor(cfg.Lexicon),
		scorer:     NewScorer(cfg.Scoring),
		aggregator: NewAggregator(cfg.Scoring.OutlierK, cfg.Scoring.ScoreMin, cfg.Scoring.ScoreMax),
		caller:     caller,
		history:    NewHistory(cfg.Defaults.HistorySize),
		telemetry:  tel,
		logger:     logger,
		invokers:   make(map[string]*Invoker),
	}
}

// RegisterBackend adds or replaces a backend profile at runtime.
func (r *Router) RegisterBackend(p BackendProfile) {
	r.registry.Register(p)
}

// DeregisterBackend removes a backend.
func (r *Router) DeregisterBackend(id string) {
	r.registry.Deregister(id)
	r.invMu.Lock()
	delete(r.invokers, id)
	r.invMu.Unlock()
}

// GetRecentDecisions returns up to limit past decisions, newest first.
func (r *Router) GetRecentDecisions(limit int) []DecisionRecord {
	return r.history.Recent(limit)
}

// Analyze is the engine's primary entry point. It extracts features, ranks
// backends, walks the fallback chain until a result clears the confidence
// floor, optionally fans out additional strategies for consensus, and
// records the outcome.
//
// Transient per-backend failures are recovered internally; Analyze returns
// an error only for the two terminal conditions: ErrNoAvailableBackend when
// every backend is vetoed, and an ExhaustionError when every attempted
// backend failed outright. Sub-floor results are accepted as best-effort
// after the attempt budget runs out rather than failing the request.
func (r *Router) Analyze(ctx context.Context, text string, tctx TaskContext) (AnalysisResult, error) {
	start := time.Now()
	reqID := uuid.New().String()

	deadline := tctx.Deadline
	if deadline <= 0 {
		deadline = defaultDeadline
	}
	reqCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	features := r.extractor.Extract(text)
	ranked := r.scorer.Score(features, tctx, r.registry.List())
	decision := RoutingDecision{Candidates: ranked}

	if len(ranked) == 0 {
		r.logger.Warn("no backend survived scoring vetoes",
			zap.String("request", reqID),
			zap.Int("length_tokens", features.LengthTokens))
		r.recordOutcome(reqID, tctx, decision, false, time.Since(start), nil)
		return AnalysisResult{}, ErrNoAvailableBackend
	}

	r.logger.Debug("backends ranked",
		zap.String("request", reqID),
		zap.String("top", ranked[0].BackendID),
		zap.Int("candidates", len(ranked)),
		zap.Float64("dialect_density", features.DialectDensity))

	primary, bestSoFar := r.walkFallbackChain(reqCtx, reqID, text, tctx, ranked, &decision, deadline)

	if primary == nil {
		if bestSoFar == nil {
			r.recordOutcome(reqID, tctx, decision, false, time.Since(start), nil)
			return AnalysisResult{}, &ExhaustionError{Decision: decision}
		}
		// Every attempt stayed below the confidence floor; return the best
		// answer we got rather than erroring.
		r.logger.Info("accepting best sub-floor result",
			zap.String("request", reqID),
			zap.String("backend", bestSoFar.BackendID),
			zap.Float64("confidence", effectiveConfidence(*bestSoFar)))
		primary = bestSoFar
	}

	results := []RawResult{*primary}
	if tctx.TaskType == TaskDeepAnalysis || tctx.WantConsensus {
		results = append(results, r.fanOut(reqCtx, text, tctx, ranked, *primary, decision.FallbackChain)...)
	}

	final := r.aggregator.Aggregate(results)
	decision.SelectedBackend = primary.BackendID
	decision.Confidence = final.Confidence
	final.Routing = decision

	r.recordOutcome(reqID, tctx, decision, true, time.Since(start), final.AgreementScore)
	return final, nil
}

// walkFallbackChain attempts ranked candidates in order until one clears the
// confidence floor or the attempt budget is spent. It returns the accepted
// result, plus the best sub-floor result seen along the way (nil when no
// backend responded at all). Failed and sub-floor attempts are appended to
// the decision's fallback chain.
func (r *Router) walkFallbackChain(
	ctx context.Context,
	reqID, text string,
	tctx TaskContext,
	ranked []RankedCandidate,
	decision *RoutingDecision,
	deadline time.Duration,
) (primary, bestSoFar *RawResult) {
	maxAttempts := r.cfg.Defaults.MaxFallbackAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	attemptBudget := deadline / time.Duration(maxAttempts)
	floor := r.cfg.Defaults.ConfidenceFloor

	attempts := 0
	for _, cand := range ranked {
		if attempts >= maxAttempts {
			break
		}

		dl, _ := ctx.Deadline()
		remaining := time.Until(dl)
		if remaining <= 0 {
			break
		}
		timeout := attemptBudget
		if timeout > remaining {
			timeout = remaining
		}

		attempts++
		attemptStart := time.Now()
		res, err := r.invokerFor(cand.BackendID).Invoke(ctx, text, tctx, timeout)
		if err != nil {
			decision.FallbackChain = append(decision.FallbackChain, cand.BackendID)
			r.noteFailure(ctx, reqID, cand.BackendID, err)
			continue
		}

		r.registry.RecordSuccess(cand.BackendID, int(time.Since(attemptStart).Milliseconds()))

		if effectiveConfidence(res) >= floor {
			return &res, bestSoFar
		}

		// Sub-floor confidence is a soft failure: fall through to the next
		// candidate but remember the best answer in case nothing clears it.
		decision.FallbackChain = append(decision.FallbackChain, cand.BackendID)
		r.logger.Debug("result below confidence floor",
			zap.String("request", reqID),
			zap.String("backend", cand.BackendID),
			zap.Float64("confidence", effectiveConfidence(res)),
			zap.Float64("floor", floor))
		if bestSoFar == nil || effectiveConfidence(res) > effectiveConfidence(*bestSoFar) {
			keep := res
			bestSoFar = &keep
		}
	}

	return nil, bestSoFar
}

// fanOut concurrently invokes up to consensus_fanout-1 further candidates
// within the request's remaining deadline and returns whichever results
// arrived in time. A slow or failing strategy never blocks the others from
// being used; partial consensus is acceptable.
func (r *Router) fanOut(
	ctx context.Context,
	text string,
	tctx TaskContext,
	ranked []RankedCandidate,
	primary RawResult,
	alreadyTried []string,
) []RawResult {
	want := r.cfg.Defaults.ConsensusFanout - 1
	if want <= 0 {
		return nil
	}

	skip := map[string]bool{primary.BackendID: true}
	for _, id := range alreadyTried {
		skip[id] = true
	}

	var targets []string
	for _, c := range ranked {
		if len(targets) >= want {
			break
		}
		if skip[c.BackendID] {
			continue
		}
		targets = append(targets, c.BackendID)
	}
	if len(targets) == 0 {
		return nil
	}

	dl, _ := ctx.Deadline()
	remaining := time.Until(dl)
	if remaining <= 0 {
		return nil
	}

	var mu sync.Mutex
	var extra []RawResult

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range targets {
		g.Go(func() error {
			start := time.Now()
			res, err := r.invokerFor(id).Invoke(gctx, text, tctx, remaining)
			if err != nil {
				r.noteFailure(ctx, "", id, err)
				return nil
			}
			if ctx.Err() != nil {
				// Arrived after the request deadline: discard unrecorded.
				return nil
			}
			r.registry.RecordSuccess(id, int(time.Since(start).Milliseconds()))
			mu.Lock()
			extra = append(extra, res)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return extra
}

// noteFailure records one failed invocation against registry health, unless
// the failure was just the overall request deadline expiring — attempts cut
// off by cancellation say nothing about the backend itself.
func (r *Router) noteFailure(ctx context.Context, reqID, backendID string, err error) {
	if errors.Is(err, ErrTimeout) && ctx.Err() != nil {
		return
	}
	flipped := r.registry.RecordFailure(backendID)
	r.logger.Warn("backend invocation failed",
		zap.String("request", reqID),
		zap.String("backend", backendID),
		zap.Bool("marked_unavailable", flipped),
		zap.Error(err))
}

// invokerFor returns the per-backend Invoker, creating it on first use.
func (r *Router) invokerFor(backendID string) *Invoker {
	r.invMu.Lock()
	defer r.invMu.Unlock()
	if iv, ok := r.invokers[backendID]; ok {
		return iv
	}
	iv := NewInvoker(backendID, r.caller, r.cfg.Scoring.ScoreMin, r.cfg.Scoring.ScoreMax, r.logger)
	r.invokers[backendID] = iv
	return iv
}

// recordOutcome is the single path that writes a completed decision to the
// in-memory history and, when configured, the telemetry collector.
func (r *Router) recordOutcome(reqID string, tctx TaskContext, d RoutingDecision, succeeded bool, elapsed time.Duration, agreement *float64) {
	rec := DecisionRecord{
		ID:             reqID,
		Timestamp:      time.Now(),
		TaskType:       tctx.TaskType,
		Decision:       d,
		Succeeded:      succeeded,
		LatencyMs:      int(elapsed.Milliseconds()),
		AgreementScore: agreement,
	}
	r.history.Append(rec)

	if r.telemetry == nil {
		return
	}
	err := r.telemetry.RecordAnalysis(telemetry.AnalysisEvent{
		ID:              reqID,
		TaskType:        string(tctx.TaskType),
		SelectedBackend: d.SelectedBackend,
		FallbackChain:   d.FallbackChain,
		Confidence:      d.Confidence,
		Agreement:       agreement,
		LatencyMs:       rec.LatencyMs,
		Succeeded:       succeeded,
	})
	if err != nil {
		r.logger.Warn("telemetry record failed", zap.String("request", reqID), zap.Error(err))
	}
}

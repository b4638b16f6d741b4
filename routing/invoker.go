package routing

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Caller is the abstract capability that talks to one concrete analysis
// provider. How it reaches the provider (HTTP client, SDK, credentials) is
// the implementer's concern; the engine only sees RawResults and errors.
type Caller interface {
	InvokeBackend(ctx context.Context, backendID, text string, tctx TaskContext) (RawResult, error)
}

// CallerFunc adapts a plain function to the Caller interface.
type CallerFunc func(ctx context.Context, backendID, text string, tctx TaskContext) (RawResult, error)

func (f CallerFunc) InvokeBackend(ctx context.Context, backendID, text string, tctx TaskContext) (RawResult, error) {
	return f(ctx, backendID, text, tctx)
}

// Invoker wraps a single backend's call boundary with timeout enforcement
// and result validation. It never retries — fallback is strictly the
// Router's responsibility so the recovery path stays observable in one place.
type Invoker struct {
	backendID string
	caller    Caller
	scoreMin  float64
	scoreMax  float64
	logger    *zap.Logger
}

// NewInvoker returns an Invoker for one backend. scoreMin/scoreMax bound the
// numeric score a well-formed result may carry. Pass nil for logger to
// disable logging.
func NewInvoker(backendID string, caller Caller, scoreMin, scoreMax float64, logger *zap.Logger) *Invoker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Invoker{
		backendID: backendID,
		caller:    caller,
		scoreMin:  scoreMin,
		scoreMax:  scoreMax,
		logger:    logger,
	}
}

type invokeOutcome struct {
	result RawResult
	err    error
}

// Invoke calls the backend once with the given timeout. The bound holds even
// against a caller that never returns: the call runs in its own goroutine
// and Invoke gives up when the deadline passes, returning ErrTimeout. A late
// result from an abandoned call is discarded.
//
// Well-formed results are stamped with the backend ID; malformed ones are
// converted to ErrInvalidResult rather than propagated.
func (iv *Invoker) Invoke(ctx context.Context, text string, tctx TaskContext, timeout time.Duration) (RawResult, error) {
	callCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan invokeOutcome, 1)
	go func() {
		res, err := iv.caller.InvokeBackend(callCtx, iv.backendID, text, tctx)
		done <- invokeOutcome{result: res, err: err}
	}()

	select {
	case <-callCtx.Done():
		iv.logger.Debug("backend invocation timed out",
			zap.String("backend", iv.backendID),
			zap.Duration("timeout", timeout))
		return RawResult{}, fmt.Errorf("backend %s: %w", iv.backendID, ErrTimeout)
	case out := <-done:
		if out.err != nil {
			return RawResult{}, fmt.Errorf("backend %s: %w", iv.backendID, out.err)
		}
		res := out.result
		res.BackendID = iv.backendID
		if err := iv.validate(res); err != nil {
			iv.logger.Debug("backend result failed validation",
				zap.String("backend", iv.backendID),
				zap.Error(err))
			return RawResult{}, err
		}
		return res, nil
	}
}

// validate checks the minimal result schema: a non-empty label, a score
// within the configured range, and a confidence in [0,1] when present.
func (iv *Invoker) validate(r RawResult) error {
	if r.Label == "" {
		return fmt.Errorf("backend %s: missing label: %w", iv.backendID, ErrInvalidResult)
	}
	if r.Score < iv.scoreMin || r.Score > iv.scoreMax {
		return fmt.Errorf("backend %s: score %.3f outside [%.2f, %.2f]: %w",
			iv.backendID, r.Score, iv.scoreMin, iv.scoreMax, ErrInvalidResult)
	}
	if r.Confidence != nil && (*r.Confidence < 0 || *r.Confidence > 1) {
		return fmt.Errorf("backend %s: confidence %.3f outside [0, 1]: %w",
			iv.backendID, *r.Confidence, ErrInvalidResult)
	}
	return nil
}

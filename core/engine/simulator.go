// Package engine prices items by running a ruleset against each of them.
//
// Every item gets its own variable environment, built in this order:
//
//  1. the item's fields and attributes
//  2. the merged sets of the matching overrides
//  3. the ruleset globals (a global wins over an override of the same name)
//  4. the steps, in declaration order
//
// Items share no mutable state, so a batch is evaluated on a worker pool.
package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"battery-pricing/core/expression"
	"battery-pricing/core/ruleset"
	apperrors "battery-pricing/internal/errors"
	"battery-pricing/internal/logging"
)

// Item statuses reported to an Observer
const (
	StatusOK      = "ok"
	StatusWarning = "warning"
	StatusError   = "error"
)

// Observer receives evaluation events, typically to record metrics
type Observer interface {
	ItemEvaluated(status string, duration time.Duration)
	ExpressionFailed()
	BatchCompleted(rulesetName string, items int, duration time.Duration)
}

type nopObserver struct{}

func (nopObserver) ItemEvaluated(string, time.Duration)       {}
func (nopObserver) ExpressionFailed()                         {}
func (nopObserver) BatchCompleted(string, int, time.Duration) {}

// Options configures a Simulator
type Options struct {
	// Workers bounds batch parallelism. Zero means one per CPU.
	Workers int

	// Limits bounds expression size. The zero value means DefaultLimits.
	Limits expression.Limits

	// Observer receives evaluation events. Nil disables them.
	Observer Observer

	// OutputKeys are extracted from rulesets that declare no outputs.
	// Empty means ruleset.DefaultOutputs.
	OutputKeys []string
}

// Simulator evaluates rulesets against item batches. It holds no per-item
// state and is safe for concurrent use.
type Simulator struct {
	evaluator  *expression.Evaluator
	workers    int
	observer   Observer
	outputKeys []string
}

// NewSimulator creates a simulator
func NewSimulator(opts Options) *Simulator {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.Limits == (expression.Limits{}) {
		opts.Limits = expression.DefaultLimits()
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if len(opts.OutputKeys) == 0 {
		opts.OutputKeys = ruleset.DefaultOutputs
	}
	return &Simulator{
		evaluator:  expression.NewEvaluator(opts.Limits),
		workers:    opts.Workers,
		observer:   opts.Observer,
		outputKeys: opts.OutputKeys,
	}
}

// Evaluator returns the expression evaluator shared by all items
func (s *Simulator) Evaluator() *expression.Evaluator {
	return s.evaluator
}

// Evaluate prices a single item. It never fails: problems are reported on
// the returned PriceItem.
func (s *Simulator) Evaluate(rs *ruleset.Ruleset, item Item) (result PriceItem) {
	start := time.Now()
	inputs := item.Environment()
	result = PriceItem{
		Inputs:    inputs,
		Outputs:   expression.NewEnvironment(),
		Breakdown: expression.NewEnvironment(),
	}

	defer func() {
		if r := recover(); r != nil {
			logging.Error("item evaluation panicked",
				logging.SKU(item.SKU),
				zap.Any("panic", r),
			)
			result.Outputs = expression.NewEnvironment()
			result.Breakdown = expression.NewEnvironment()
			result.Error = fmt.Sprintf("internal error: %v", r)
		}
		s.observer.ItemEvaluated(itemStatus(&result), time.Since(start))
	}()

	env := inputs.Clone()
	env.Merge(ResolveOverrides(rs.Overrides, env))
	env.Merge(rs.Globals)

	for _, step := range rs.Steps {
		warning, err := ExecuteStep(step, env, s.evaluator)
		if err != nil {
			logging.Error("item aborted",
				logging.SKU(item.SKU),
				logging.Ruleset(rs.Name, rs.Version),
				zap.Error(err),
			)
			result.Error = errorMessage(err)
			return result
		}
		if warning != nil {
			s.observer.ExpressionFailed()
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s: %v", step.Var, errors.Unwrap(warning)))
		}
	}

	outputs := rs.Outputs
	if len(outputs) == 0 {
		outputs = s.outputKeys
	}
	for _, name := range outputs {
		if v, ok := env.Get(name); ok {
			result.Outputs.Set(name, v)
		}
	}
	result.Breakdown = env
	return result
}

// Run prices every item of a batch. The result has one PriceItem per item,
// in input order. Only batch-level problems are returned as errors: a nil
// or stepless ruleset, an empty batch, or a cancelled context.
func (s *Simulator) Run(ctx context.Context, rs *ruleset.Ruleset, items []Item) ([]PriceItem, error) {
	if rs == nil {
		return nil, apperrors.Batch("ruleset is required")
	}
	if len(rs.Steps) == 0 {
		return nil, apperrors.Newf(apperrors.TypeBatch, "ruleset %s has no steps", rs.ID())
	}
	if len(items) == 0 {
		return nil, apperrors.Batch("item batch is empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.TypeBatch, "simulation cancelled", err)
	}

	start := time.Now()
	log := logging.With(logging.Ruleset(rs.Name, rs.Version))
	log.Info("simulation started", zap.Int("items", len(items)))

	results := make([]PriceItem, len(items))

	workers := s.workers
	if len(items) < workers {
		workers = len(items)
	}

	work := make(chan int, len(items))
	for i := range items {
		work <- i
	}
	close(work)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range work {
				if ctx.Err() != nil {
					return
				}
				results[i] = s.Evaluate(rs, items[i])
			}
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		log.Warn("simulation cancelled", zap.Error(err))
		return nil, apperrors.Wrap(apperrors.TypeBatch, "simulation cancelled", err)
	}

	duration := time.Since(start)
	s.observer.BatchCompleted(rs.Name, len(items), duration)
	log.Info("simulation finished",
		zap.Int("items", len(items)),
		zap.Duration("duration", duration),
	)
	return results, nil
}

// Result is a priced batch with its summary
type Result struct {
	RulesetName    string      `json:"ruleset_name"`
	RulesetVersion string      `json:"ruleset_version"`
	Items          []PriceItem `json:"items"`
	Summary        RunSummary  `json:"summary"`
}

// Simulate runs a batch and summarizes it
func (s *Simulator) Simulate(ctx context.Context, rs *ruleset.Ruleset, items []Item, gates ...QualityGate) (*Result, error) {
	priced, err := s.Run(ctx, rs, items)
	if err != nil {
		return nil, err
	}
	return &Result{
		RulesetName:    rs.Name,
		RulesetVersion: rs.Version,
		Items:          priced,
		Summary:        Summarize(priced, gates...),
	}, nil
}

func itemStatus(p *PriceItem) string {
	switch {
	case p.Failed():
		return StatusError
	case len(p.Warnings) > 0:
		return StatusWarning
	default:
		return StatusOK
	}
}

// errorMessage strips the type prefix of domain errors
func errorMessage(err error) string {
	var e *apperrors.Error
	if errors.As(err, &e) && e.Cause == nil {
		return e.Message
	}
	return err.Error()
}

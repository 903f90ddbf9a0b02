package engine

import (
	"fmt"

	"go.uber.org/zap"

	"battery-pricing/core/expression"
	"battery-pricing/core/ruleset"
	apperrors "battery-pricing/internal/errors"
	"battery-pricing/internal/logging"
)

// ExecuteStep assigns step.Var in env from the step's source:
//
//	from   copies a variable, 0 when it is not defined
//	value  assigns the literal
//	expr   evaluates the expression; a failure assigns 0
//
// The returned warning describes an expression that fell back to 0. The
// error is non-nil only for a step without a source, which aborts the item.
func ExecuteStep(step ruleset.Step, env *expression.Environment, ev *expression.Evaluator) (warning error, err error) {
	switch {
	case step.From != nil:
		env.Set(step.Var, env.GetOr(*step.From, expression.Number(0)))

	case step.Value != nil:
		env.Set(step.Var, *step.Value)

	case step.Expr != nil:
		v, evalErr := ev.Eval(*step.Expr, env)
		if evalErr != nil {
			logging.Warn("step evaluation failed, using 0",
				zap.String("var", step.Var),
				zap.String("expr", *step.Expr),
				zap.Error(evalErr),
			)
			v = expression.Number(0)
			warning = apperrors.Evaluation(fmt.Sprintf("step %s", step.Var), evalErr)
		}
		env.Set(step.Var, v)

	default:
		return nil, apperrors.Newf(apperrors.TypeItem, "step %q has no from, value or expr", step.Var)
	}
	return warning, nil
}

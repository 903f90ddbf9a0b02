package ruleset

import (
	"fmt"
	"strings"

	apperrors "battery-pricing/internal/errors"
)

// Validate checks the structure of a ruleset and returns one message per
// problem. An empty result means the ruleset is well formed.
//
// Expressions are not parsed and referenced names are not resolved; those
// surface when the ruleset runs.
func Validate(r *Ruleset) []string {
	if r == nil {
		return []string{"ruleset is required"}
	}

	var problems []string
	if strings.TrimSpace(r.Name) == "" {
		problems = append(problems, "missing required field: name")
	}
	if strings.TrimSpace(r.Version) == "" {
		problems = append(problems, "missing required field: version")
	}

	switch {
	case r.Steps == nil:
		problems = append(problems, "missing required field: steps")
	case len(r.Steps) == 0:
		problems = append(problems, "steps must not be empty")
	}

	for i, step := range r.Steps {
		label := fmt.Sprintf("step %d", i)
		if step.Var == "" {
			problems = append(problems, label+": missing var")
		} else {
			label = fmt.Sprintf("step %d (%s)", i, step.Var)
		}

		switch sources := step.Sources(); len(sources) {
		case 1:
		case 0:
			problems = append(problems, label+": must define exactly one of from, value, expr (found none)")
		default:
			problems = append(problems, fmt.Sprintf("%s: must define exactly one of from, value, expr (found %s)",
				label, strings.Join(sources, ", ")))
		}
	}

	return problems
}

// ValidationError carries the problems found by Validate
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Problems, "; ")
}

// Check is Validate for callers that reject invalid rulesets. The returned
// error is of type VALIDATION_ERROR and unwraps to a *ValidationError.
func Check(r *Ruleset) error {
	problems := Validate(r)
	if len(problems) == 0 {
		return nil
	}
	return apperrors.Wrap(apperrors.TypeValidation, "invalid ruleset", &ValidationError{Problems: problems}).
		WithContext("problems", len(problems))
}

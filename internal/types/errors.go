package types

import "fmt"

// ValidationError reports an invalid input value with field-level detail.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// ValidationErrors aggregates field errors from struct validation.
type ValidationErrors []*ValidationError

func (e ValidationErrors) Error() string {
	switch len(e) {
	case 0:
		return "invalid input"
	case 1:
		return e[0].Error()
	}
	return fmt.Sprintf("%s (and %d more)", e[0].Error(), len(e)-1)
}

// DurationExceededError reports a moratorium whose validity span exceeds the
// five-year bound.
type DurationExceededError struct {
	ValidFrom Date
	ValidTo   Date
	Limit     Date
}

func (e *DurationExceededError) Error() string {
	return fmt.Sprintf("moratorium duration exceeded: valid_to %s is after %s (valid_from %s + %d years)",
		e.ValidTo, e.Limit, e.ValidFrom, MaxMoratoriumYears)
}

// ForbiddenError reports an operation rejected by role, ownership, or
// territory checks.
type ForbiddenError struct {
	ActorID string
	Action  string
	Reason  string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("forbidden: actor %s may not %s: %s", e.ActorID, e.Action, e.Reason)
}

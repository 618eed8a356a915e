package rules

import "errors"

// Sentinel errors for the rule engine.
//
// Typed errors (*ValidationError, *EvaluationError) unwrap to these so
// callers can branch with errors.Is:
//
//	if errors.Is(err, rules.ErrValidation) {
//	    // drop the message, keep the bridge running
//	}
var (
	// ErrValidation indicates inbound data does not satisfy a rule's read shape.
	ErrValidation = errors.New("rules: data validation failed")

	// ErrEvaluation indicates an expression could not be compiled or evaluated.
	ErrEvaluation = errors.New("rules: expression evaluation failed")

	// ErrInvalidPattern indicates a regular expression failed to compile.
	ErrInvalidPattern = errors.New("rules: invalid pattern")

	// ErrInvalidDefinitions indicates the rule definition file is malformed.
	ErrInvalidDefinitions = errors.New("rules: invalid definitions")
)

package rules

import (
	"fmt"
	"strings"
)

// ValidationError describes the first field of an inbound message that does
// not satisfy a rule's read shape.
type ValidationError struct {
	// Path is the dotted path of the offending field.
	Path string

	// Reason is the human readable failure.
	Reason string

	Expected any
	Actual   any
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("data validation failed: %s", e.Reason)
}

// Unwrap returns ErrValidation.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Validate checks actual against the expected read shape of a rule.
//
// For each key of expected:
//   - the key must be present in actual
//   - an *Expression is evaluated in scope and compared for equality; a
//     *Pattern result must match a string value
//   - any other value must have the same type as the actual value, and be
//     equal to it (maps recurse)
//
// Keys of actual that expected does not mention are ignored. A nil
// expected accepts any message.
func Validate(expected any, actual map[string]any, scope *Scope) error {
	if expected == nil {
		return nil
	}
	exp, ok := expected.(map[string]any)
	if !ok {
		return &ValidationError{
			Reason:   fmt.Sprintf("read must be a mapping, found: %s", TypeName(expected)),
			Expected: expected,
			Actual:   actual,
		}
	}
	return validateMap(exp, actual, scope, nil)
}

func validateMap(expected, actual map[string]any, scope *Scope, path []string) error {
	for _, key := range sortedKeys(expected) {
		want := expected[key]
		fieldPath := append(append([]string(nil), path...), key)
		dotted := strings.Join(fieldPath, ".")

		got, ok := actual[key]
		if !ok {
			return &ValidationError{
				Path:     dotted,
				Reason:   fmt.Sprintf("missing property %s", dotted),
				Expected: want,
			}
		}

		if e, isExpr := want.(*Expression); isExpr {
			v, err := e.Evaluate(scope)
			if err != nil {
				return err
			}
			if !valueMatches(v, got) {
				return valueError(dotted, v, got)
			}
			continue
		}

		if TypeName(want) != TypeName(got) {
			return &ValidationError{
				Path: dotted,
				Reason: fmt.Sprintf("invalid type of property %s, found: %s, expected: %s",
					dotted, TypeName(got), TypeName(want)),
				Expected: want,
				Actual:   got,
			}
		}

		if wm, isMap := want.(map[string]any); isMap {
			if err := validateMap(wm, Normalize(got).(map[string]any), scope, fieldPath); err != nil {
				return err
			}
			continue
		}

		if !Equal(want, got) {
			return valueError(dotted, want, got)
		}
	}
	return nil
}

// valueMatches compares an evaluated expected value with an actual value.
func valueMatches(want, got any) bool {
	if p, ok := want.(*Pattern); ok {
		s, ok := got.(string)
		return ok && p.Match(s).Matched
	}
	return Equal(want, got)
}

func valueError(path string, want, got any) *ValidationError {
	return &ValidationError{
		Path:     path,
		Reason:   fmt.Sprintf("invalid value of property %s, found: %v, expected: %v", path, got, want),
		Expected: want,
		Actual:   got,
	}
}

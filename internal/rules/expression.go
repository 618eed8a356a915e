package rules

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/parser"
	"github.com/expr-lang/expr/vm"
)

// Expression is a template leaf whose value is computed against a Scope.
//
// In YAML rule files an expression is written with the !expr tag; in JSON
// files as {"$expr": "<source>"}. The language is expr-lang
// (https://expr-lang.org): member access, arithmetic, comparison and calls
// to the functions registered on the scope.
type Expression struct {
	source string

	// cache holds the program compiled for the last scope shape seen.
	cache atomic.Pointer[compiledProgram]
}

type compiledProgram struct {
	shape   string
	program *vm.Program
}

// NewExpression parses source and returns an Expression. Only syntax is
// checked here; names are resolved when the expression is evaluated.
func NewExpression(source string) (*Expression, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrEvaluation)
	}
	if _, err := parser.Parse(source); err != nil {
		return nil, &EvaluationError{Expression: source, Err: err}
	}
	return &Expression{source: source}, nil
}

// MustExpression is like NewExpression but panics on error.
func MustExpression(source string) *Expression {
	e, err := NewExpression(source)
	if err != nil {
		panic(err)
	}
	return e
}

// Source returns the expression text.
func (e *Expression) Source() string {
	return e.source
}

// String renders the expression the way it is written in YAML.
func (e *Expression) String() string {
	return "!expr " + e.source
}

// Evaluate computes the expression in scope. Referencing a name the scope
// does not define is an error.
//
// The compiled program is reused while the scope keeps the same shape: the
// same root scope and the same names bound to values of the same types.
func (e *Expression) Evaluate(scope *Scope) (any, error) {
	env := scope.env()

	program, err := e.program(scope, env)
	if err != nil {
		return nil, &EvaluationError{Expression: e.source, Err: err}
	}

	out, err := expr.Run(program, env)
	if err != nil {
		return nil, &EvaluationError{Expression: e.source, Err: err}
	}
	return Normalize(out), nil
}

func (e *Expression) program(scope *Scope, env map[string]any) (*vm.Program, error) {
	shape := scope.shape(env)
	if c := e.cache.Load(); c != nil && c.shape == shape {
		return c.program, nil
	}

	opts := make([]expr.Option, 0, len(scope.funcs)+1)
	opts = append(opts, expr.Env(env))
	for _, fn := range scope.funcs {
		opts = append(opts, expr.Function(fn.Name, fn.Fn))
	}

	program, err := expr.Compile(e.source, opts...)
	if err != nil {
		return nil, err
	}
	e.cache.Store(&compiledProgram{shape: shape, program: program})
	return program, nil
}

// EvaluationError is returned when an expression is malformed, references a
// missing name, or fails at run time.
type EvaluationError struct {
	Expression string
	Err        error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluating %q: %v", e.Expression, e.Err)
}

// Unwrap exposes both ErrEvaluation and the underlying cause.
func (e *EvaluationError) Unwrap() []error {
	return []error{ErrEvaluation, e.Err}
}

// Function is a callable exposed to expressions.
type Function struct {
	Name string
	Fn   func(params ...any) (any, error)
}

// Scope is the set of names visible to expressions.
//
// A Scope is immutable. With returns a child that adds one binding without
// touching the parent, which is how the bridge exposes the current inbound
// message as "data" for the duration of one rule evaluation.
type Scope struct {
	root   uint64
	parent *Scope
	vars   map[string]any
	funcs  []Function
}

var scopeIDs atomic.Uint64

// NewScope creates a root scope from vars and funcs. vars is copied.
func NewScope(vars map[string]any, funcs ...Function) *Scope {
	return &Scope{
		root:  scopeIDs.Add(1),
		vars:  maps.Clone(vars),
		funcs: funcs,
	}
}

// With returns a child scope in which name is bound to value.
func (s *Scope) With(name string, value any) *Scope {
	return &Scope{
		root:   s.root,
		parent: s,
		vars:   map[string]any{name: value},
		funcs:  s.funcs,
	}
}

// Lookup returns the value bound to name in this scope or an ancestor.
func (s *Scope) Lookup(name string) (any, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if v, ok := cur.vars[name]; ok {
			return v, true
		}
	}
	return nil, false
}

// env flattens the scope chain; closer bindings shadow outer ones.
func (s *Scope) env() map[string]any {
	var chain []*Scope
	for cur := s; cur != nil; cur = cur.parent {
		chain = append(chain, cur)
	}
	env := make(map[string]any)
	for i := len(chain) - 1; i >= 0; i-- {
		maps.Copy(env, chain[i].vars)
	}
	return env
}

// shape identifies the root scope (and so its functions) and the type of
// every name in env. Programs compiled for one shape run on any env of it.
func (s *Scope) shape(env map[string]any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d", s.root)
	for _, name := range slices.Sorted(maps.Keys(env)) {
		fmt.Fprintf(&b, ";%s:%T", name, env[name])
	}
	return b.String()
}

// DeepEvaluate returns a copy of template with every *Expression leaf
// replaced by its value in scope. Maps and slices are walked recursively;
// other values are returned unchanged.
func DeepEvaluate(template any, scope *Scope) (any, error) {
	switch t := template.(type) {
	case *Expression:
		return t.Evaluate(scope)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, v := range t {
			ev, err := DeepEvaluate(v, scope)
			if err != nil {
				return nil, err
			}
			out[k] = ev
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, v := range t {
			ev, err := DeepEvaluate(v, scope)
			if err != nil {
				return nil, err
			}
			out[i] = ev
		}
		return out, nil
	default:
		return template, nil
	}
}

// DeepMerge returns base overlaid with overlay. Nested maps are merged
// recursively; for any other value overlay wins. Neither input is modified.
func DeepMerge(base, overlay map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(overlay))
	maps.Copy(out, base)
	for k, v := range overlay {
		if om, ok := v.(map[string]any); ok {
			if bm, ok := out[k].(map[string]any); ok {
				out[k] = DeepMerge(bm, om)
				continue
			}
		}
		out[k] = v
	}
	return out
}

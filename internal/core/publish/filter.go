package publish

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// Filter gates publication with a CEL predicate over the event's fields.
// Example expressions:
//
//	event_type == "changed_object"
//	oid.startsWith("INV:")
//	event_type == "action" && identifier.contains("approve")
type Filter struct {
	source  string
	program cel.Program
}

// NewFilter compiles the predicate. The expression must evaluate to bool.
func NewFilter(expr string) (*Filter, error) {
	env, err := cel.NewEnv(
		cel.Variable("event_type", cel.StringType),
		cel.Variable("oid", cel.StringType),
		cel.Variable("identifier", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("create filter env: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile filter %q: %w", expr, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("filter %q must evaluate to bool, got %s", expr, ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build filter program: %w", err)
	}

	return &Filter{source: expr, program: program}, nil
}

// Allow evaluates the predicate for one event.
func (f *Filter) Allow(ev CanonicalEvent) (bool, error) {
	out, _, err := f.program.Eval(map[string]any{
		"event_type": string(ev.Kind),
		"oid":        ev.Oid,
		"identifier": ev.Identifier,
	})
	if err != nil {
		return false, fmt.Errorf("evaluate filter %q: %w", f.source, err)
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("filter %q returned %T, want bool", f.source, out.Value())
	}
	return allowed, nil
}

// String returns the source expression.
func (f *Filter) String() string {
	return f.source
}

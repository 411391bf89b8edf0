package records

import (
	"fmt"

	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"
)

// ExprMatcherOption configures an expr matcher instance.
type ExprMatcherOption func(*exprMatcher)

// ExprWithProgramCache wires a ProgramCache into the expr matcher.
func ExprWithProgramCache(cache ProgramCache) ExprMatcherOption {
	return func(m *exprMatcher) {
		m.cache = cache
	}
}

// exprMatcher evaluates filter expressions using github.com/expr-lang/expr.
type exprMatcher struct {
	cache ProgramCache
}

// NewExprMatcher constructs a Matcher backed by expr-lang/expr. It is the
// default engine for local query filtering.
func NewExprMatcher(opts ...ExprMatcherOption) Matcher {
	m := &exprMatcher{}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Match compiles and runs expression against the record's attributes.
func (m *exprMatcher) Match(ctx MatchContext, expression string) (bool, error) {
	if expression == "" {
		return false, fmt.Errorf("records: filter expression must not be empty")
	}
	ctx = ctx.withDefaults()
	env := ctx.environment()
	if m.cache == nil {
		result, err := exprlang.Eval(expression, env)
		if err != nil {
			return false, fmt.Errorf("records: expr filter %q: %w", expression, err)
		}
		return truthy(result)
	}
	program, err := m.loadOrCompile(expression)
	if err != nil {
		return false, err
	}
	result, err := exprlang.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("records: expr filter %q: %w", expression, err)
	}
	return truthy(result)
}

// Compile returns a reusable filter program.
func (m *exprMatcher) Compile(expression string) (CompiledFilter, error) {
	if expression == "" {
		return nil, fmt.Errorf("records: filter expression must not be empty")
	}
	program, err := m.loadOrCompile(expression)
	if err != nil {
		return nil, err
	}
	return &exprCompiledFilter{
		matcher:    m,
		program:    program,
		expression: expression,
	}, nil
}

func (m *exprMatcher) loadOrCompile(expression string) (*exprvm.Program, error) {
	if m.cache != nil {
		if cached, ok := m.cache.Get(expression); ok {
			if program, ok := cached.(*exprvm.Program); ok {
				return program, nil
			}
		}
	}
	program, err := exprlang.Compile(expression,
		exprlang.Env(map[string]any{}),
		exprlang.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, fmt.Errorf("records: expr filter %q: %w", expression, err)
	}
	if m.cache != nil {
		m.cache.Set(expression, program)
	}
	return program, nil
}

type exprCompiledFilter struct {
	matcher    *exprMatcher
	program    *exprvm.Program
	expression string
}

func (f *exprCompiledFilter) Match(ctx MatchContext) (bool, error) {
	if f.matcher == nil {
		return false, fmt.Errorf("records: compiled filter missing matcher")
	}
	ctx = ctx.withDefaults()
	if f.program == nil {
		return f.matcher.Match(ctx, f.expression)
	}
	result, err := exprlang.Run(f.program, ctx.environment())
	if err != nil {
		return false, fmt.Errorf("records: expr filter %q: %w", f.expression, err)
	}
	return truthy(result)
}

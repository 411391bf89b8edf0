//go:build js_match

package records

import (
	"fmt"

	"github.com/dop251/goja"
)

type jsMatcher struct {
	cache ProgramCache
}

// NewJSMatcher constructs a Matcher backed by goja.
func NewJSMatcher(opts ...JSMatcherOption) Matcher {
	cfg := applyJSMatcherOptions(opts)
	return &jsMatcher{cache: cfg.cache}
}

func (m *jsMatcher) engineName() string { return "js" }

func (m *jsMatcher) Match(ctx MatchContext, expression string) (bool, error) {
	if expression == "" {
		return false, fmt.Errorf("records: filter expression must not be empty")
	}
	ctx = ctx.withDefaults()
	if m.cache == nil {
		return m.run(ctx, expression, nil)
	}
	program, err := m.loadOrCompile(expression)
	if err != nil {
		return false, err
	}
	return m.run(ctx, expression, program)
}

func (m *jsMatcher) Compile(expression string) (CompiledFilter, error) {
	if expression == "" {
		return nil, fmt.Errorf("records: filter expression must not be empty")
	}
	program, err := m.loadOrCompile(expression)
	if err != nil {
		return nil, err
	}
	return &jsCompiledFilter{
		matcher:    m,
		expression: expression,
		program:    program,
	}, nil
}

func (m *jsMatcher) loadOrCompile(expression string) (*goja.Program, error) {
	if m.cache != nil {
		if cached, ok := m.cache.Get(expression); ok {
			if program, ok := cached.(*goja.Program); ok {
				return program, nil
			}
		}
	}
	program, err := goja.Compile("", m.wrapExpression(expression), false)
	if err != nil {
		return nil, fmt.Errorf("records: js filter %q: %w", expression, err)
	}
	if m.cache != nil {
		m.cache.Set(expression, program)
	}
	return program, nil
}

func (m *jsMatcher) run(ctx MatchContext, expression string, program *goja.Program) (bool, error) {
	vm := goja.New()
	for key, value := range ctx.environment() {
		vm.Set(key, value)
	}

	var value goja.Value
	var err error
	if program != nil {
		value, err = vm.RunProgram(program)
	} else {
		value, err = vm.RunString(m.wrapExpression(expression))
	}
	if err != nil {
		return false, fmt.Errorf("records: js filter %q: %w", expression, err)
	}
	return truthy(value.Export())
}

func (m *jsMatcher) wrapExpression(expression string) string {
	return fmt.Sprintf("(function(){ return (%s); })()", expression)
}

type jsCompiledFilter struct {
	matcher    *jsMatcher
	expression string
	program    *goja.Program
}

func (f *jsCompiledFilter) Match(ctx MatchContext) (bool, error) {
	if f.matcher == nil {
		return false, fmt.Errorf("records: compiled filter missing matcher")
	}
	ctx = ctx.withDefaults()
	return f.matcher.run(ctx, f.expression, f.program)
}

func jsMatcherAvailable() bool {
	return true
}

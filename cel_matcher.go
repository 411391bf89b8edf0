package records

import (
	"fmt"

	celgo "github.com/google/cel-go/cel"
)

// CELMatcherOption configures the CEL matcher.
type CELMatcherOption func(*celMatcher)

// CELWithProgramCache wires a ProgramCache into the CEL matcher.
func CELWithProgramCache(cache ProgramCache) CELMatcherOption {
	return func(m *celMatcher) {
		m.cache = cache
	}
}

type celProgram struct {
	env     *celgo.Env
	program celgo.Program
}

type celMatcher struct {
	cache ProgramCache
}

// NewCELMatcher constructs a Matcher backed by cel-go, an alternative engine
// to the expr default.
func NewCELMatcher(opts ...CELMatcherOption) Matcher {
	m := &celMatcher{}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

func (m *celMatcher) Match(ctx MatchContext, expression string) (bool, error) {
	if expression == "" {
		return false, fmt.Errorf("records: filter expression must not be empty")
	}
	ctx = ctx.withDefaults()
	program, err := m.loadOrCompile(expression, ctx.Attributes)
	if err != nil {
		return false, err
	}
	out, _, err := program.program.Eval(m.activation(ctx))
	if err != nil {
		return false, fmt.Errorf("records: cel filter %q: %w", expression, err)
	}
	return truthy(out.Value())
}

func (m *celMatcher) Compile(expression string) (CompiledFilter, error) {
	if expression == "" {
		return nil, fmt.Errorf("records: filter expression must not be empty")
	}
	return &celCompiledFilter{
		matcher:    m,
		expression: expression,
	}, nil
}

func (m *celMatcher) loadOrCompile(expression string, attributes map[string]any) (*celProgram, error) {
	if m.cache != nil {
		if cached, ok := m.cache.Get(expression); ok {
			if program, ok := cached.(*celProgram); ok {
				return program, nil
			}
		}
	}

	env, err := m.buildEnv(attributes)
	if err != nil {
		return nil, err
	}
	ast, issues := env.Parse(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("records: cel filter %q: %w", expression, issues.Err())
	}
	checked, issues := env.Check(ast)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("records: cel filter %q: %w", expression, issues.Err())
	}
	prg, err := env.Program(checked)
	if err != nil {
		return nil, fmt.Errorf("records: cel filter %q: %w", expression, err)
	}

	bundle := &celProgram{env: env, program: prg}
	if m.cache != nil {
		m.cache.Set(expression, bundle)
	}
	return bundle, nil
}

func (m *celMatcher) buildEnv(attributes map[string]any) (*celgo.Env, error) {
	opts := []celgo.EnvOption{
		celgo.Variable("now", celgo.TimestampType),
		celgo.Variable("args", celgo.DynType),
	}
	for key := range attributes {
		opts = append(opts, celgo.Variable(key, celgo.DynType))
	}
	return celgo.NewEnv(opts...)
}

func (m *celMatcher) activation(ctx MatchContext) map[string]any {
	activation := map[string]any{
		"now":  ctx.timestamp(),
		"args": ctx.Args,
	}
	for key, value := range ctx.Attributes {
		activation[key] = value
	}
	return activation
}

type celCompiledFilter struct {
	matcher    *celMatcher
	expression string
}

func (f *celCompiledFilter) Match(ctx MatchContext) (bool, error) {
	if f.matcher == nil {
		return false, fmt.Errorf("records: compiled filter missing matcher")
	}
	return f.matcher.Match(ctx, f.expression)
}

package records

import (
	"fmt"
	"time"
)

// MatchContext carries the inputs a filter expression evaluates against:
// the record's visible attributes plus the query arguments.
type MatchContext struct {
	Attributes map[string]any
	Now        *time.Time
	Args       map[string]any
}

func (ctx MatchContext) withDefaults() MatchContext {
	if ctx.Now == nil {
		now := time.Now()
		ctx.Now = &now
	}
	if ctx.Attributes == nil {
		ctx.Attributes = map[string]any{}
	}
	if ctx.Args == nil {
		ctx.Args = map[string]any{}
	}
	return ctx
}

func (ctx MatchContext) timestamp() time.Time {
	ctx = ctx.withDefaults()
	return *ctx.Now
}

// environment exposes attributes as top-level bindings with "now" and
// "args" reserved.
func (ctx MatchContext) environment() map[string]any {
	env := make(map[string]any, len(ctx.Attributes)+2)
	for key, value := range ctx.Attributes {
		env[key] = value
	}
	env["now"] = ctx.timestamp()
	env["args"] = ctx.Args
	return env
}

// Matcher evaluates filter expressions against records.
type Matcher interface {
	Match(ctx MatchContext, expression string) (bool, error)
	Compile(expression string) (CompiledFilter, error)
}

// CompiledFilter represents a reusable filter program.
type CompiledFilter interface {
	Match(ctx MatchContext) (bool, error)
}

// ProgramCache stores compiled filter programs keyed by expression strings.
type ProgramCache interface {
	Get(key string) (any, bool)
	Set(key string, value any)
}

// truthy narrows a filter result to a boolean; anything else is an error so
// filters never silently match.
func truthy(result any) (bool, error) {
	switch typed := result.(type) {
	case bool:
		return typed, nil
	case nil:
		return false, nil
	default:
		return false, fmt.Errorf("records: filter evaluated to %T, want bool", result)
	}
}

func matcherEngineName(m Matcher) string {
	switch m.(type) {
	case *exprMatcher:
		return "expr"
	case *celMatcher:
		return "cel"
	default:
		if named, ok := m.(interface{ engineName() string }); ok {
			return named.engineName()
		}
		return fmt.Sprintf("%T", m)
	}
}

//go:build !js_match

package records

// NewJSMatcher is unavailable without the js_match build tag.
func NewJSMatcher(opts ...JSMatcherOption) Matcher {
	_ = applyJSMatcherOptions(opts)
	return nil
}

func jsMatcherAvailable() bool {
	return false
}

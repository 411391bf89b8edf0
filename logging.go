package records

import "time"

// RequestLogEvent describes one coordinator request for logging.
type RequestLogEvent struct {
	Op       Operation
	Type     string
	ID       string
	Deduped  bool
	CacheHit bool
	Duration time.Duration
	Err      error
}

// RequestLogger records coordinator request events.
type RequestLogger interface {
	LogRequest(RequestLogEvent)
}

// RequestLoggerFunc adapts a function to RequestLogger.
type RequestLoggerFunc func(RequestLogEvent)

// LogRequest implements RequestLogger.
func (f RequestLoggerFunc) LogRequest(event RequestLogEvent) {
	if f != nil {
		f(event)
	}
}

type noopRequestLogger struct{}

func (noopRequestLogger) LogRequest(RequestLogEvent) {}

// WithRequestLogger attaches a request logger to the store.
func WithRequestLogger(logger RequestLogger) Option {
	return func(cfg *storeConfig) {
		if logger == nil {
			cfg.logger = noopRequestLogger{}
			return
		}
		cfg.logger = logger
	}
}

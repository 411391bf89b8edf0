package records

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrNotFound = errors.New("records: record not found")

var ErrAdapterRequired = errors.New("records: adapter not configured")

var ErrNoMatcher = errors.New("records: matcher not configured")

// MalformedPayloadError reports a wire payload that cannot be normalized.
// A malformed payload aborts its own merge only; the identity map is left
// untouched.
type MalformedPayloadError struct {
	Type   string
	Reason string
}

func (e *MalformedPayloadError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("records: malformed payload for type %q: %s", e.Type, e.Reason)
}

// StateConflictError reports an operation rejected because the record is
// already associated with an in-flight request, or sits in a state the
// operation is not valid for. No request is issued.
type StateConflictError struct {
	Type  string
	ID    string
	State State
	Op    Operation
}

func (e *StateConflictError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("records: %s conflicts with state %s for %s/%s", e.Op, e.State, e.Type, e.ID)
}

// ValidationError carries structured per-attribute messages from a
// validation-class adapter failure. It is non-fatal: the record keeps its
// local attribute values and remains dirty.
type ValidationError struct {
	Type     string
	ID       string
	Messages map[string][]string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("records: validation failed for %s/%s: %s", e.Type, e.ID, describeMessages(e.Messages))
}

func describeMessages(messages map[string][]string) string {
	if len(messages) == 0 {
		return "<no messages>"
	}
	names := make([]string, 0, len(messages))
	for name := range messages {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %s", name, strings.Join(messages[name], "; ")))
	}
	return strings.Join(parts, ", ")
}

// TransportError wraps a failure surfaced by the adapter. The lifecycle of
// the affected record is rolled back before the error reaches any waiter;
// retry is the caller's responsibility.
type TransportError struct {
	Op   Operation
	Type string
	ID   string
	Err  error
}

func (e *TransportError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.ID == "" {
		return fmt.Sprintf("records: %s %s: %v", e.Op, e.Type, e.Err)
	}
	return fmt.Sprintf("records: %s %s/%s: %v", e.Op, e.Type, e.ID, e.Err)
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// InverseAmbiguityError reports a relationship whose inverse cannot be
// inferred because more than one candidate exists on the target type. It is
// raised at registration time, never at runtime.
type InverseAmbiguityError struct {
	Type         string
	Relationship string
	Target       string
	Candidates   []string
}

func (e *InverseAmbiguityError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("records: ambiguous inverse for %s.%s: target %q declares candidates %s",
		e.Type, e.Relationship, e.Target, strings.Join(e.Candidates, ", "))
}

func wrapTransportError(op Operation, typeName, id string, err error) error {
	if err == nil {
		return nil
	}

	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return err
	}

	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return err
	}

	return &TransportError{Op: op, Type: typeName, ID: id, Err: err}
}

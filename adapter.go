package records

import "context"

// Operation names the adapter request kinds the coordinator issues.
type Operation string

const (
	OpFind         Operation = "find"
	OpFindAll      Operation = "findAll"
	OpFindQuery    Operation = "findQuery"
	OpCreateRecord Operation = "createRecord"
	OpUpdateRecord Operation = "updateRecord"
	OpDeleteRecord Operation = "deleteRecord"
)

// Params carries the inputs of one adapter request.
type Params struct {
	Type string
	// ID is set for find, updateRecord, and deleteRecord.
	ID string
	// Query carries findQuery arguments.
	Query map[string]any
	// Payload is the serialized record for createRecord and updateRecord.
	Payload map[string]any
	// Link is a deferred-resolution URL supplied by a wire payload; when
	// set it overrides ID/Query addressing.
	Link string
}

// Adapter is the pluggable transport boundary. The core treats it as an
// opaque async function: it never assumes HTTP methods, URLs, or any other
// transport convention. The returned payload is either raw bytes or an
// already decoded JSON document in one of the two supported wire forms.
//
// Validation-class failures should be returned as *ValidationError so the
// coordinator can populate the record's error collection instead of rolling
// attributes back.
type Adapter interface {
	Request(ctx context.Context, op Operation, params Params) (any, error)
}

// AdapterFunc adapts a function to Adapter.
type AdapterFunc func(ctx context.Context, op Operation, params Params) (any, error)

// Request implements Adapter.
func (f AdapterFunc) Request(ctx context.Context, op Operation, params Params) (any, error) {
	return f(ctx, op, params)
}

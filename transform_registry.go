package records

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// Transform converts one attribute value across the wire boundary:
// Normalize on the way in, Serialize on the way out.
type Transform struct {
	Normalize func(value any) (any, error)
	Serialize func(value any) (any, error)
}

// TransformRegistry stores attribute transforms keyed by kind name.
// Attribute coercion is table-driven: kinds without a registered transform
// pass through unmodified.
type TransformRegistry struct {
	mu         sync.RWMutex
	transforms map[string]Transform
}

// NewTransformRegistry constructs an empty registry.
func NewTransformRegistry() *TransformRegistry {
	return &TransformRegistry{
		transforms: make(map[string]Transform),
	}
}

// DefaultTransforms returns a registry preloaded with the built-in kinds:
// string, number, boolean, and date (ISO-8601 to time.Time).
func DefaultTransforms() *TransformRegistry {
	registry := NewTransformRegistry()
	registry.transforms[string(KindString)] = Transform{
		Normalize: normalizeString,
		Serialize: normalizeString,
	}
	registry.transforms[string(KindNumber)] = Transform{
		Normalize: normalizeNumber,
		Serialize: normalizeNumber,
	}
	registry.transforms[string(KindBoolean)] = Transform{
		Normalize: normalizeBoolean,
		Serialize: normalizeBoolean,
	}
	registry.transforms[string(KindDate)] = Transform{
		Normalize: normalizeDate,
		Serialize: serializeDate,
	}
	return registry
}

// Register stores transform under kind, guarding against duplicates.
func (r *TransformRegistry) Register(kind string, transform Transform) error {
	if kind == "" {
		return fmt.Errorf("records: transform kind must not be empty")
	}
	if transform.Normalize == nil || transform.Serialize == nil {
		return fmt.Errorf("records: transform %q requires normalize and serialize", kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.transforms == nil {
		r.transforms = make(map[string]Transform)
	}
	if _, exists := r.transforms[kind]; exists {
		return fmt.Errorf("records: transform %q already registered", kind)
	}
	r.transforms[kind] = transform
	return nil
}

// Clone returns a shallow copy of the registry.
func (r *TransformRegistry) Clone() *TransformRegistry {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	clone := &TransformRegistry{
		transforms: make(map[string]Transform, len(r.transforms)),
	}
	for kind, transform := range r.transforms {
		clone.transforms[kind] = transform
	}
	return clone
}

// Normalize coerces a wire value for the given kind.
func (r *TransformRegistry) Normalize(kind AttributeKind, value any) (any, error) {
	transform, ok := r.lookup(kind)
	if !ok || value == nil {
		return value, nil
	}
	return transform.Normalize(value)
}

// Serialize renders an attribute value for the wire.
func (r *TransformRegistry) Serialize(kind AttributeKind, value any) (any, error) {
	transform, ok := r.lookup(kind)
	if !ok || value == nil {
		return value, nil
	}
	return transform.Serialize(value)
}

func (r *TransformRegistry) lookup(kind AttributeKind) (Transform, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	transform, ok := r.transforms[string(kind)]
	return transform, ok
}

func normalizeString(value any) (any, error) {
	switch typed := value.(type) {
	case string:
		return typed, nil
	case json.Number:
		return typed.String(), nil
	default:
		return fmt.Sprint(typed), nil
	}
}

func normalizeNumber(value any) (any, error) {
	switch typed := value.(type) {
	case json.Number:
		f, err := typed.Float64()
		if err != nil {
			return nil, fmt.Errorf("records: %q is not a number", typed.String())
		}
		return f, nil
	case float64:
		return typed, nil
	case float32:
		return float64(typed), nil
	case int:
		return float64(typed), nil
	case int32:
		return float64(typed), nil
	case int64:
		return float64(typed), nil
	case string:
		f, err := strconv.ParseFloat(typed, 64)
		if err != nil {
			return nil, fmt.Errorf("records: %q is not a number", typed)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("records: cannot coerce %T to number", value)
	}
}

func normalizeBoolean(value any) (any, error) {
	switch typed := value.(type) {
	case bool:
		return typed, nil
	case string:
		switch typed {
		case "true", "1":
			return true, nil
		case "false", "0", "":
			return false, nil
		}
		return nil, fmt.Errorf("records: %q is not a boolean", typed)
	case json.Number:
		return typed.String() != "0", nil
	default:
		return nil, fmt.Errorf("records: cannot coerce %T to boolean", value)
	}
}

func normalizeDate(value any) (any, error) {
	switch typed := value.(type) {
	case time.Time:
		return typed, nil
	case string:
		ts, err := time.Parse(time.RFC3339, typed)
		if err != nil {
			return nil, fmt.Errorf("records: %q is not an ISO-8601 timestamp", typed)
		}
		return ts, nil
	default:
		return nil, fmt.Errorf("records: cannot coerce %T to timestamp", value)
	}
}

func serializeDate(value any) (any, error) {
	switch typed := value.(type) {
	case time.Time:
		return typed.Format(time.RFC3339), nil
	case string:
		return typed, nil
	default:
		return nil, fmt.Errorf("records: cannot serialize %T as timestamp", value)
	}
}

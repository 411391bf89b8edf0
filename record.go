package records

import (
	"fmt"
	"sort"
)

// Record is the canonical in-memory entity for one (type, id) pair. The
// identity map owns the single instance; every holder shares it, so
// mutations are visible everywhere. Attribute and relationship mutation is
// expected to happen on one logical owner at a time.
type Record struct {
	typeName    string
	id          string
	temporaryID bool

	// attributes holds the canonical server-acknowledged values. changed is
	// the local uncommitted overlay; reads consult it first.
	attributes map[string]any
	changed    map[string]any
	rels       map[string]*RelRef

	state State
	errs  map[string][]string

	identity *IdentityMap
}

// Type returns the record's model-type name.
func (r *Record) Type() string { return r.typeName }

// ID returns the record's id. For unsaved records this is a client-assigned
// temporary id, replaced atomically on first successful persist.
func (r *Record) ID() string { return r.id }

// State returns the record's lifecycle state.
func (r *Record) State() State { return r.state }

// IsNew reports whether the record has never been persisted.
func (r *Record) IsNew() bool {
	return r.state == StateNew || r.state == StateInFlightCreate
}

// IsDeleted reports whether the record is flagged for deletion, locally or
// acknowledged by the server.
func (r *Record) IsDeleted() bool {
	switch r.state {
	case StateDeleted, StateInFlightDelete, StateDestroyed:
		return true
	default:
		return false
	}
}

// IsDirty reports whether the record carries unsaved local mutations.
func (r *Record) IsDirty() bool {
	return r.state == StateDirty || r.state == StateNew || len(r.changed) > 0
}

// HasTemporaryID reports whether the id is client-assigned.
func (r *Record) HasTemporaryID() bool { return r.temporaryID }

// Get returns the attribute value, local overlay first, then the canonical
// value, then the declared default. Canonical values are read under the
// identity map's lock, so the record stays readable while a background fetch
// merges into it.
func (r *Record) Get(name string) any {
	if value, ok := r.changed[name]; ok {
		return value
	}
	r.identity.mu.RLock()
	value, ok := r.attributes[name]
	r.identity.mu.RUnlock()
	if ok {
		return value
	}
	if info, ok := r.identity.registry.info(r.typeName); ok {
		if attr, ok := info.attrs[name]; ok {
			return attr.Default
		}
	}
	return nil
}

// Set stages a local attribute mutation. It rejects undeclared attributes,
// and fails fast instead of queueing while a request is in flight or once
// the record is terminal.
func (r *Record) Set(name string, value any) error {
	if r.state.InFlight() || r.state.Terminal() {
		return &StateConflictError{Type: r.typeName, ID: r.id, State: r.state, Op: "set"}
	}
	info, ok := r.identity.registry.info(r.typeName)
	if !ok {
		return fmt.Errorf("records: type %q not registered", r.typeName)
	}
	if _, ok := info.attrs[name]; !ok {
		return fmt.Errorf("records: type %q has no attribute %q", r.typeName, name)
	}

	if r.changed == nil {
		r.changed = map[string]any{}
	}
	r.changed[name] = value
	r.markDirty()
	return nil
}

// ChangedAttributes returns a copy of the local uncommitted overlay.
func (r *Record) ChangedAttributes() map[string]any {
	out := make(map[string]any, len(r.changed))
	for name, value := range r.changed {
		out[name] = value
	}
	return out
}

// Rollback discards local mutations and the error collection, returning a
// dirty or locally deleted record to persisted. It rejects in-flight records.
func (r *Record) Rollback() error {
	if r.state.InFlight() {
		return &StateConflictError{Type: r.typeName, ID: r.id, State: r.state, Op: "rollback"}
	}
	r.changed = nil
	r.errs = nil
	if r.state == StateDirty || r.state == StateDeleted {
		r.state = StatePersisted
	}
	return nil
}

// Errors returns a copy of the per-attribute error collection populated by
// the last validation-class save failure.
func (r *Record) Errors() map[string][]string {
	if len(r.errs) == 0 {
		return nil
	}
	out := make(map[string][]string, len(r.errs))
	for name, messages := range r.errs {
		out[name] = append([]string(nil), messages...)
	}
	return out
}

// IsValid reports whether the record carries no validation errors.
func (r *Record) IsValid() bool { return len(r.errs) == 0 }

// Ref returns the relationship reference declared under name.
func (r *Record) Ref(name string) (*RelRef, error) {
	ref, ok := r.rels[name]
	if !ok {
		return nil, fmt.Errorf("records: type %q has no relationship %q", r.typeName, name)
	}
	return ref, nil
}

// One synchronously resolves a single-valued relationship through the
// identity map. A reference to an unloaded record resolves to absent
// (nil, nil); an unfetched id is a hard error for synchronous callers.
func (r *Record) One(name string) (*Record, error) {
	ref, err := r.Ref(name)
	if err != nil {
		return nil, err
	}
	if ref.kind != RelOne {
		return nil, fmt.Errorf("records: relationship %s.%s is not single-valued", r.typeName, name)
	}
	r.identity.mu.RLock()
	defer r.identity.mu.RUnlock()
	if ref.one == "" {
		return nil, nil
	}
	return r.identity.resolveIDLocked(ref.target, ref.one)
}

// Many synchronously resolves a multi-valued relationship through the
// identity map, preserving wire order. Dangling references to unloaded
// records are omitted; unfetched ids are a hard error.
func (r *Record) Many(name string) ([]*Record, error) {
	ref, err := r.Ref(name)
	if err != nil {
		return nil, err
	}
	if ref.kind != RelMany {
		return nil, fmt.Errorf("records: relationship %s.%s is not multi-valued", r.typeName, name)
	}

	r.identity.mu.RLock()
	defer r.identity.mu.RUnlock()
	out := make([]*Record, 0, len(ref.many))
	for _, id := range ref.many {
		related, err := r.identity.resolveIDLocked(ref.target, id)
		if err != nil {
			return nil, err
		}
		if related == nil {
			continue
		}
		out = append(out, related)
	}
	return out, nil
}

// SetOne points a single-valued relationship at target (nil clears it),
// updating the declared inverse on both the previous and the new target
// before any I/O happens.
func (r *Record) SetOne(name string, target *Record) error {
	if r.state.InFlight() || r.state.Terminal() {
		return &StateConflictError{Type: r.typeName, ID: r.id, State: r.state, Op: "set"}
	}
	ref, err := r.Ref(name)
	if err != nil {
		return err
	}
	if ref.kind != RelOne {
		return fmt.Errorf("records: relationship %s.%s is not single-valued", r.typeName, name)
	}
	if target != nil && target.typeName != ref.target {
		return fmt.Errorf("records: relationship %s.%s expects type %q, got %q", r.typeName, name, ref.target, target.typeName)
	}

	r.identity.setOne(r, name, ref, target)
	r.markDirty()
	return nil
}

// AddTo appends target to a multi-valued relationship if not already
// present; the sequence acts as an order-preserving set keyed by id.
func (r *Record) AddTo(name string, target *Record) error {
	ref, err := r.manyRefForMutation(name, target)
	if err != nil {
		return err
	}
	r.identity.addToMany(r, name, ref, target)
	r.markDirty()
	return nil
}

// RemoveFrom removes target from a multi-valued relationship, clearing the
// inverse reference on the target.
func (r *Record) RemoveFrom(name string, target *Record) error {
	ref, err := r.manyRefForMutation(name, target)
	if err != nil {
		return err
	}
	r.identity.removeFromMany(r, name, ref, target)
	r.markDirty()
	return nil
}

func (r *Record) manyRefForMutation(name string, target *Record) (*RelRef, error) {
	if r.state.InFlight() || r.state.Terminal() {
		return nil, &StateConflictError{Type: r.typeName, ID: r.id, State: r.state, Op: "set"}
	}
	if target == nil {
		return nil, fmt.Errorf("records: relationship %s.%s requires a target record", r.typeName, name)
	}
	ref, err := r.Ref(name)
	if err != nil {
		return nil, err
	}
	if ref.kind != RelMany {
		return nil, fmt.Errorf("records: relationship %s.%s is not multi-valued", r.typeName, name)
	}
	if target.typeName != ref.target {
		return nil, fmt.Errorf("records: relationship %s.%s expects type %q, got %q", r.typeName, name, ref.target, target.typeName)
	}
	return ref, nil
}

func (r *Record) markDirty() {
	if r.state == StatePersisted {
		r.state = StateDirty
	}
}

// snapshot flattens the record's visible attributes, overlay included, in a
// fresh map for matching and serialization.
func (r *Record) snapshot() map[string]any {
	r.identity.mu.RLock()
	out := make(map[string]any, len(r.attributes)+len(r.changed)+1)
	for name, value := range r.attributes {
		out[name] = value
	}
	r.identity.mu.RUnlock()
	for name, value := range r.changed {
		out[name] = value
	}
	return out
}

// commitLocal folds the overlay into the canonical attributes after a
// successful save that returned no authoritative payload.
func (r *Record) commitLocal() {
	if len(r.changed) == 0 {
		return
	}
	r.identity.mu.Lock()
	defer r.identity.mu.Unlock()
	if r.attributes == nil {
		r.attributes = map[string]any{}
	}
	for name, value := range r.changed {
		r.attributes[name] = value
	}
	r.changed = nil
}

// AttributeNames returns the declared attribute names currently carrying a
// value, sorted for stable output.
func (r *Record) AttributeNames() []string {
	r.identity.mu.RLock()
	seen := make(map[string]struct{}, len(r.attributes)+len(r.changed))
	for name := range r.attributes {
		seen[name] = struct{}{}
	}
	r.identity.mu.RUnlock()
	for name := range r.changed {
		seen[name] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

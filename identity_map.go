package records

import (
	"fmt"
	"sync"
)

// IdentityMap guarantees one canonical *Record per (type, id). It is
// explicitly constructed and owned; there is no process-global registry.
// Reads and merges are internally synchronized; record field mutation is
// single-logical-owner territory.
type IdentityMap struct {
	mu       sync.RWMutex
	registry *Registry
	types    map[string]map[string]*Record
	order    map[string][]string

	// unloaded tombstones let dangling relationship references resolve to
	// absent instead of failing; cleared when the id is merged again.
	unloaded map[string]map[string]struct{}
}

// NewIdentityMap constructs an identity map bound to a schema registry.
func NewIdentityMap(registry *Registry) *IdentityMap {
	return &IdentityMap{
		registry: registry,
		types:    map[string]map[string]*Record{},
		order:    map[string][]string{},
		unloaded: map[string]map[string]struct{}{},
	}
}

// Lookup returns the canonical record for (typeName, id).
func (m *IdentityMap) Lookup(typeName, id string) (*Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.types[typeName][id]
	return rec, ok
}

// All returns the materialized records of a type in insertion order.
func (m *IdentityMap) All(typeName string) []*Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.order[typeName]
	out := make([]*Record, 0, len(ids))
	for _, id := range ids {
		if rec, ok := m.types[typeName][id]; ok {
			out = append(out, rec)
		}
	}
	return out
}

// merge applies a normalized payload: first sight creates the canonical
// instance, otherwise the existing instance is mutated in place so every
// holder observes the update. Only fields present in the payload are
// overwritten; the rest are left untouched.
func (m *IdentityMap) merge(n NormalizedRecord) (*Record, error) {
	info, ok := m.registry.info(n.Type)
	if !ok {
		return nil, fmt.Errorf("records: type %q not registered", n.Type)
	}
	if n.ID == "" {
		return nil, &MalformedPayloadError{Type: n.Type, Reason: "missing primary key"}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.types[n.Type][n.ID]
	if !ok {
		rec = m.newRecordLocked(info, n.ID, StatePersisted, false)
	}

	for name, value := range n.Attributes {
		if _, declared := info.attrs[name]; !declared {
			continue
		}
		rec.attributes[name] = value
	}
	for name, raw := range n.Relationships {
		ref, ok := rec.rels[name]
		if !ok {
			continue
		}
		applyRawRel(ref, raw)
	}
	return rec, nil
}

// add materializes a client-created record under a temporary id.
func (m *IdentityMap) add(typeName, id string, attrs map[string]any) (*Record, error) {
	info, ok := m.registry.info(typeName)
	if !ok {
		return nil, fmt.Errorf("records: type %q not registered", typeName)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.types[typeName][id]; exists {
		return nil, fmt.Errorf("records: record %s/%s already exists", typeName, id)
	}
	rec := m.newRecordLocked(info, id, StateNew, true)
	for name, value := range attrs {
		if _, declared := info.attrs[name]; !declared {
			return nil, fmt.Errorf("records: type %q has no attribute %q", typeName, name)
		}
		rec.changed[name] = value
	}
	return rec, nil
}

func (m *IdentityMap) newRecordLocked(info *typeInfo, id string, state State, temporary bool) *Record {
	typeName := info.schema.Name
	rec := &Record{
		typeName:    typeName,
		id:          id,
		temporaryID: temporary,
		attributes:  map[string]any{},
		changed:     map[string]any{},
		rels:        make(map[string]*RelRef, len(info.rels)),
		state:       state,
		identity:    m,
	}
	for name, rel := range info.rels {
		rec.rels[name] = &RelRef{
			kind:   rel.Kind,
			target: rel.Target,
			async:  rel.Async,
		}
	}

	if m.types[typeName] == nil {
		m.types[typeName] = map[string]*Record{}
	}
	m.types[typeName][id] = rec
	m.order[typeName] = append(m.order[typeName], id)
	delete(m.unloaded[typeName], id)
	return rec
}

func applyRawRel(ref *RelRef, raw RawRel) {
	if raw.Link != "" {
		ref.link = raw.Link
	}
	if !raw.Loaded {
		return
	}
	switch ref.kind {
	case RelOne:
		ref.one = raw.One
	case RelMany:
		ref.many = append([]string(nil), raw.Many...)
	}
	ref.loaded = true
}

// Remove transitions the record to unloaded and evicts it. References
// pointing at it become dangling and resolve to absent on next access.
func (m *IdentityMap) Remove(typeName, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(typeName, id, StateUnloaded)
}

func (m *IdentityMap) removeLocked(typeName, id string, state State) {
	rec, ok := m.types[typeName][id]
	if !ok {
		return
	}
	rec.state = state
	delete(m.types[typeName], id)
	m.order[typeName] = removeID(m.order[typeName], id)
	if m.unloaded[typeName] == nil {
		m.unloaded[typeName] = map[string]struct{}{}
	}
	m.unloaded[typeName][id] = struct{}{}
}

// evict drops a record whose server-side deletion was acknowledged.
func (m *IdentityMap) evict(typeName, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.types[typeName][id]
	if !ok {
		return
	}
	rec.state = StateDestroyed
	delete(m.types[typeName], id)
	m.order[typeName] = removeID(m.order[typeName], id)
	if m.unloaded[typeName] == nil {
		m.unloaded[typeName] = map[string]struct{}{}
	}
	m.unloaded[typeName][id] = struct{}{}
}

// reindex atomically replaces a temporary client id with the server id.
func (m *IdentityMap) reindex(rec *Record, newID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	oldID := rec.id
	if oldID == newID {
		rec.temporaryID = false
		return
	}
	delete(m.types[rec.typeName], oldID)
	rec.id = newID
	rec.temporaryID = false
	m.types[rec.typeName][newID] = rec
	for i, id := range m.order[rec.typeName] {
		if id == oldID {
			m.order[rec.typeName][i] = newID
			break
		}
	}
	delete(m.unloaded[rec.typeName], newID)
}

// resolveID materializes a referenced id. Tombstoned ids resolve to absent
// (dangling reference, not fatal); ids never seen are a hard error for
// synchronous callers.
func (m *IdentityMap) resolveID(typeName, id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.resolveIDLocked(typeName, id)
}

func (m *IdentityMap) resolveIDLocked(typeName, id string) (*Record, error) {
	if rec, ok := m.types[typeName][id]; ok {
		return rec, nil
	}
	if _, gone := m.unloaded[typeName][id]; gone {
		return nil, nil
	}
	return nil, fmt.Errorf("records: %s/%s: %w", typeName, id, ErrNotFound)
}

// Clear tears down the map, transitioning every record to unloaded.
func (m *IdentityMap) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for typeName, byID := range m.types {
		for _, rec := range byID {
			rec.state = StateUnloaded
		}
		delete(m.types, typeName)
		delete(m.order, typeName)
	}
	m.unloaded = map[string]map[string]struct{}{}
}

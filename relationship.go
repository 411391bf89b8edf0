package records

// RelRef is a record's reference to related records: either loaded raw ids
// (materialized on demand through the identity map) or an unresolved
// placeholder carrying a deferred-resolution link. Multi-valued references
// keep wire order and behave as order-preserving sets keyed by id.
type RelRef struct {
	kind   RelKind
	target string
	async  bool

	// loaded reports whether the raw id(s) are known; a link-only reference
	// stays unloaded until resolved through the coordinator.
	loaded bool
	one    string
	many   []string
	link   string

	// pending is the shared handle for an outstanding async resolution, so
	// repeated access never triggers a duplicate fetch.
	pending *Pending
}

// Kind returns the relationship kind.
func (ref *RelRef) Kind() RelKind { return ref.kind }

// Target returns the related model-type name.
func (ref *RelRef) Target() string { return ref.target }

// Async reports whether the relationship is declared for lazy resolution.
func (ref *RelRef) Async() bool { return ref.async }

// Loaded reports whether the raw id(s) are known locally.
func (ref *RelRef) Loaded() bool { return ref.loaded }

// ID returns the referenced id of a single-valued relationship; ok is false
// when the reference is null or unloaded.
func (ref *RelRef) ID() (string, bool) {
	if !ref.loaded || ref.one == "" {
		return "", false
	}
	return ref.one, true
}

// IDs returns a copy of the ordered referenced ids.
func (ref *RelRef) IDs() []string {
	if len(ref.many) == 0 {
		return nil
	}
	return append([]string(nil), ref.many...)
}

// Link returns the deferred-resolution URL supplied by the wire payload.
func (ref *RelRef) Link() string { return ref.link }

// refState copies the reference's raw state under the map's read lock, so
// readers never observe a background merge mid-write.
func (m *IdentityMap) refState(ref *RelRef) RawRel {
	if m != nil {
		m.mu.RLock()
		defer m.mu.RUnlock()
	}
	return RawRel{
		Loaded: ref.loaded,
		One:    ref.one,
		Many:   append([]string(nil), ref.many...),
		Link:   ref.link,
	}
}

func containsID(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

func removeID(ids []string, id string) []string {
	for i, candidate := range ids {
		if candidate == id {
			return append(ids[:i:i], ids[i+1:]...)
		}
	}
	return ids
}

// setOne rewires a single-valued reference and keeps the declared inverse
// consistent on both the previous and the new target. Inverse updates are
// synchronous, local, and touch only records currently materialized.
func (m *IdentityMap) setOne(rec *Record, name string, ref *RelRef, target *Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	old := ref.one
	newID := ""
	if target != nil {
		newID = target.id
	}
	ref.one = newID
	ref.loaded = true
	if old == newID {
		return
	}

	inverse, ok := m.registry.Inverse(rec.typeName, name)
	if !ok {
		return
	}

	if old != "" {
		if prev, ok := m.types[ref.target][old]; ok {
			detachInverse(prev, inverse, rec.id)
		}
	}
	if target == nil {
		return
	}

	invRef, ok := target.rels[inverse]
	if !ok {
		return
	}
	switch invRef.kind {
	case RelMany:
		if !containsID(invRef.many, rec.id) {
			invRef.many = append(invRef.many, rec.id)
		}
		invRef.loaded = true
	case RelOne:
		// one-to-one: release the reference held by the previous owner.
		if invRef.one != "" && invRef.one != rec.id {
			if prevOwner, ok := m.types[rec.typeName][invRef.one]; ok {
				if ownerRef, ok := prevOwner.rels[name]; ok && ownerRef.one == target.id {
					ownerRef.one = ""
				}
			}
		}
		invRef.one = rec.id
		invRef.loaded = true
	}
}

// addToMany appends target to an ordered many-reference if absent and points
// the inverse at rec, detaching target from its previous owner.
func (m *IdentityMap) addToMany(rec *Record, name string, ref *RelRef, target *Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !containsID(ref.many, target.id) {
		ref.many = append(ref.many, target.id)
	}
	ref.loaded = true

	inverse, ok := m.registry.Inverse(rec.typeName, name)
	if !ok {
		return
	}
	invRef, ok := target.rels[inverse]
	if !ok {
		return
	}
	switch invRef.kind {
	case RelOne:
		if invRef.one != "" && invRef.one != rec.id {
			if prevOwner, ok := m.types[rec.typeName][invRef.one]; ok {
				if ownerRef, ok := prevOwner.rels[name]; ok {
					ownerRef.many = removeID(ownerRef.many, target.id)
				}
			}
		}
		invRef.one = rec.id
		invRef.loaded = true
	case RelMany:
		if !containsID(invRef.many, rec.id) {
			invRef.many = append(invRef.many, rec.id)
		}
		invRef.loaded = true
	}
}

// removeFromMany drops target from an ordered many-reference and clears the
// corresponding entry on the inverse side.
func (m *IdentityMap) removeFromMany(rec *Record, name string, ref *RelRef, target *Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ref.many = removeID(ref.many, target.id)
	ref.loaded = true

	inverse, ok := m.registry.Inverse(rec.typeName, name)
	if !ok {
		return
	}
	detachInverse(target, inverse, rec.id)
}

// detachInverse removes id from the named reference on rec, whichever kind
// it is.
func detachInverse(rec *Record, name, id string) {
	ref, ok := rec.rels[name]
	if !ok {
		return
	}
	switch ref.kind {
	case RelOne:
		if ref.one == id {
			ref.one = ""
		}
	case RelMany:
		ref.many = removeID(ref.many, id)
	}
}

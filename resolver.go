package records

import (
	"context"
	"errors"
	"fmt"
)

// ResolveAsync lazily materializes a relationship. It returns immediately
// with a Pending handle; the referenced ids missing from the identity map
// trigger exactly one coordinated fetch each (one link fetch when the wire
// supplied a deferred URL instead of inline ids). Repeated access before
// resolution returns the same handle, so no duplicate fetches are issued;
// on resolution every holder observes the same records.
func (s *Store) ResolveAsync(ctx context.Context, rec *Record, name string) (*Pending, error) {
	if err := s.owns(rec); err != nil {
		return nil, err
	}
	ref, err := rec.Ref(name)
	if err != nil {
		return nil, err
	}

	if ref.pending != nil && !ref.pending.Resolved() {
		return ref.pending, nil
	}

	p := newPending()

	raw := s.identity.refState(ref)
	switch {
	case raw.Loaded:
		missing := s.missingIDs(ref)
		if len(missing) == 0 {
			p.resolve(s.materialize(ref), nil)
			return p, nil
		}
		ref.pending = p
		go s.resolveByID(ctx, p, ref, missing)
	case raw.Link != "":
		ref.pending = p
		go s.resolveByLink(ctx, p, ref)
	default:
		// Nothing to resolve: no ids and no link.
		p.resolve(nil, nil)
	}
	return p, nil
}

// Resolve is the synchronous (eager) counterpart: the referenced ids must
// already be materialized; absence is a hard error.
func (s *Store) Resolve(rec *Record, name string) ([]*Record, error) {
	if err := s.owns(rec); err != nil {
		return nil, err
	}
	ref, err := rec.Ref(name)
	if err != nil {
		return nil, err
	}
	raw := s.identity.refState(ref)
	if !raw.Loaded {
		if raw.Link != "" {
			return nil, fmt.Errorf("records: relationship %s.%s is link-only: %w", rec.typeName, name, ErrNotFound)
		}
		return nil, nil
	}
	if ref.kind == RelOne {
		one, err := rec.One(name)
		if err != nil {
			return nil, err
		}
		if one == nil {
			return nil, nil
		}
		return []*Record{one}, nil
	}
	return rec.Many(name)
}

func (s *Store) missingIDs(ref *RelRef) []string {
	raw := s.identity.refState(ref)
	var ids []string
	if ref.kind == RelOne {
		if raw.One != "" {
			ids = []string{raw.One}
		}
	} else {
		ids = raw.Many
	}

	var missing []string
	for _, id := range ids {
		if _, err := s.identity.resolveID(ref.target, id); errors.Is(err, ErrNotFound) {
			missing = append(missing, id)
		}
	}
	return missing
}

// materialize resolves the loaded ids through the identity map, preserving
// wire order and omitting dangling references.
func (s *Store) materialize(ref *RelRef) []*Record {
	raw := s.identity.refState(ref)
	var ids []string
	if ref.kind == RelOne {
		if raw.One == "" {
			return nil
		}
		ids = []string{raw.One}
	} else {
		ids = raw.Many
	}

	out := make([]*Record, 0, len(ids))
	for _, id := range ids {
		if rec, ok := s.identity.Lookup(ref.target, id); ok {
			out = append(out, rec)
		}
	}
	return out
}

func (s *Store) resolveByID(ctx context.Context, p *Pending, ref *RelRef, missing []string) {
	// One coordinated fetch per unresolved id; concurrent resolution of the
	// same id elsewhere shares the same in-flight slot.
	pendings := make([]*Pending, 0, len(missing))
	for _, id := range missing {
		sub, err := s.coordinator.fetchOneAsync(ctx, ref.target, id)
		if err != nil {
			p.resolve(nil, err)
			return
		}
		pendings = append(pendings, sub)
	}
	for _, sub := range pendings {
		if _, err := sub.Wait(ctx); err != nil {
			p.resolve(nil, err)
			return
		}
	}
	p.resolve(s.materialize(ref), nil)
}

func (s *Store) resolveByLink(ctx context.Context, p *Pending, ref *RelRef) {
	link := s.identity.refState(ref).Link
	resolved, err := s.coordinator.fetchLink(ctx, ref.target, link)
	if err != nil {
		p.resolve(nil, err)
		return
	}
	// The link response is authoritative for the reference content.
	s.identity.mu.Lock()
	if ref.kind == RelOne {
		ref.one = ""
		if len(resolved) > 0 {
			ref.one = resolved[0].id
		}
	} else {
		ids := make([]string, 0, len(resolved))
		for _, rec := range resolved {
			ids = append(ids, rec.id)
		}
		ref.many = ids
	}
	ref.loaded = true
	s.identity.mu.Unlock()
	p.resolve(resolved, nil)
}

package records

import (
	"context"
	"fmt"
	"strconv"
	"sync"
)

// MemoryAdapter is a minimal in-memory Adapter intended for tests, examples,
// and offline use. It speaks the bare wire form with the default "id"
// primary key and makes no transport assumptions beyond that.
type MemoryAdapter struct {
	mu     sync.RWMutex
	docs   map[string]map[string]map[string]any
	order  map[string][]string
	links  map[string][]map[string]any
	nextID int
}

// NewMemoryAdapter constructs an empty adapter.
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		docs:   map[string]map[string]map[string]any{},
		order:  map[string][]string{},
		links:  map[string][]map[string]any{},
		nextID: 1,
	}
}

// Seed loads wire-shaped documents for a type. Each document needs an "id".
func (a *MemoryAdapter) Seed(typeName string, docs ...map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, doc := range docs {
		id, ok := idString(doc["id"])
		if !ok {
			return fmt.Errorf("records: memory adapter seed for %q is missing an id", typeName)
		}
		// Keep generated ids clear of numeric seed ids.
		if n, err := strconv.Atoi(id); err == nil && n >= a.nextID {
			a.nextID = n + 1
		}
		a.putLocked(typeName, id, doc)
	}
	return nil
}

// SeedLink registers the documents served for a deferred-resolution link.
func (a *MemoryAdapter) SeedLink(link string, docs ...map[string]any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.links[link] = append(a.links[link], docs...)
}

func (a *MemoryAdapter) putLocked(typeName, id string, doc map[string]any) {
	if a.docs[typeName] == nil {
		a.docs[typeName] = map[string]map[string]any{}
	}
	if _, exists := a.docs[typeName][id]; !exists {
		a.order[typeName] = append(a.order[typeName], id)
	}
	a.docs[typeName][id] = cloneDoc(doc)
}

// Request implements Adapter.
func (a *MemoryAdapter) Request(_ context.Context, op Operation, params Params) (any, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if params.Link != "" {
		docs, ok := a.links[params.Link]
		if !ok {
			return nil, fmt.Errorf("records: memory adapter has no documents for link %q", params.Link)
		}
		return cloneDocs(docs), nil
	}

	switch op {
	case OpFind:
		doc, ok := a.docs[params.Type][params.ID]
		if !ok {
			return nil, fmt.Errorf("records: memory adapter: %s/%s: %w", params.Type, params.ID, ErrNotFound)
		}
		return cloneDoc(doc), nil

	case OpFindAll:
		return a.collectLocked(params.Type, nil), nil

	case OpFindQuery:
		return a.collectLocked(params.Type, params.Query), nil

	case OpCreateRecord:
		id := strconv.Itoa(a.nextID)
		a.nextID++
		doc := cloneDoc(params.Payload)
		doc["id"] = id
		a.putLocked(params.Type, id, doc)
		return cloneDoc(doc), nil

	case OpUpdateRecord:
		doc, ok := a.docs[params.Type][params.ID]
		if !ok {
			return nil, fmt.Errorf("records: memory adapter: %s/%s: %w", params.Type, params.ID, ErrNotFound)
		}
		for key, value := range params.Payload {
			doc[key] = value
		}
		doc["id"] = params.ID
		return cloneDoc(doc), nil

	case OpDeleteRecord:
		if _, ok := a.docs[params.Type][params.ID]; !ok {
			return nil, fmt.Errorf("records: memory adapter: %s/%s: %w", params.Type, params.ID, ErrNotFound)
		}
		delete(a.docs[params.Type], params.ID)
		a.order[params.Type] = removeID(a.order[params.Type], params.ID)
		return nil, nil

	default:
		return nil, fmt.Errorf("records: memory adapter does not support operation %q", op)
	}
}

func (a *MemoryAdapter) collectLocked(typeName string, query map[string]any) []any {
	out := make([]any, 0, len(a.order[typeName]))
	for _, id := range a.order[typeName] {
		doc, ok := a.docs[typeName][id]
		if !ok {
			continue
		}
		if !matchesQuery(doc, query) {
			continue
		}
		out = append(out, cloneDoc(doc))
	}
	return out
}

func matchesQuery(doc map[string]any, query map[string]any) bool {
	for key, want := range query {
		if fmt.Sprint(doc[key]) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func cloneDoc(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for key, value := range doc {
		out[key] = value
	}
	return out
}

func cloneDocs(docs []map[string]any) []any {
	out := make([]any, 0, len(docs))
	for _, doc := range docs {
		out = append(out, cloneDoc(doc))
	}
	return out
}

package records

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-records/pkg/lifecycle"
)

// coordinator owns the network side of the store: it de-duplicates
// concurrent fetches, dispatches to the adapter, and reconciles responses
// back into the identity map. For any fetch key at most one request is
// outstanding; concurrent callers share one Pending and fan out on
// completion.
type coordinator struct {
	adapter    Adapter
	serializer *Serializer
	identity   *IdentityMap
	logger     RequestLogger
	hooks      lifecycle.Hooks

	queryCache *TTLCache

	mu       sync.Mutex
	inflight map[string]*Pending
}

func newCoordinator(adapter Adapter, serializer *Serializer, identity *IdentityMap, logger RequestLogger, hooks lifecycle.Hooks, queryCache *TTLCache) *coordinator {
	return &coordinator{
		adapter:    adapter,
		serializer: serializer,
		identity:   identity,
		logger:     logger,
		hooks:      hooks,
		queryCache: queryCache,
		inflight:   map[string]*Pending{},
	}
}

func (c *coordinator) fetchOne(ctx context.Context, typeName, id string) (*Record, error) {
	p, err := c.fetchOneAsync(ctx, typeName, id)
	if err != nil {
		return nil, err
	}
	rec, err := p.WaitOne(ctx)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("records: %s/%s: %w", typeName, id, ErrNotFound)
	}
	return rec, nil
}

// fetchOneAsync shares one Pending per (type, id). The slot is released when
// the request settles, including by cancellation, so a later call can retry.
func (c *coordinator) fetchOneAsync(ctx context.Context, typeName, id string) (*Pending, error) {
	if c.adapter == nil {
		return nil, ErrAdapterRequired
	}
	key := "one\x00" + typeName + "\x00" + id
	params := Params{Type: typeName, ID: id}
	return c.sharedFetch(ctx, key, OpFind, params), nil
}

func (c *coordinator) fetchAll(ctx context.Context, typeName string) ([]*Record, error) {
	if c.adapter == nil {
		return nil, ErrAdapterRequired
	}
	key := "all\x00" + typeName
	p := c.sharedFetch(ctx, key, OpFindAll, Params{Type: typeName})
	return p.Wait(ctx)
}

func (c *coordinator) fetchQuery(ctx context.Context, typeName string, query map[string]any) ([]*Record, error) {
	if c.adapter == nil {
		return nil, ErrAdapterRequired
	}
	key := "query\x00" + typeName + "\x00" + canonicalQuery(query)

	if cached, ok := c.cachedQuery(typeName, key); ok {
		c.logger.LogRequest(RequestLogEvent{Op: OpFindQuery, Type: typeName, CacheHit: true})
		return cached, nil
	}

	p := c.sharedFetch(ctx, key, OpFindQuery, Params{Type: typeName, Query: query})
	resolved, err := p.Wait(ctx)
	if err != nil {
		return nil, err
	}
	c.storeQuery(key, resolved)
	return resolved, nil
}

// fetchLink resolves a deferred relationship link, de-duplicated per URL.
func (c *coordinator) fetchLink(ctx context.Context, typeName, link string) ([]*Record, error) {
	if c.adapter == nil {
		return nil, ErrAdapterRequired
	}
	key := "link\x00" + typeName + "\x00" + link
	p := c.sharedFetch(ctx, key, OpFindQuery, Params{Type: typeName, Link: link})
	return p.Wait(ctx)
}

func (c *coordinator) sharedFetch(ctx context.Context, key string, op Operation, params Params) *Pending {
	c.mu.Lock()
	if p, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		c.logger.LogRequest(RequestLogEvent{Op: op, Type: params.Type, ID: params.ID, Deduped: true})
		return p
	}
	p := newPending()
	c.inflight[key] = p
	c.mu.Unlock()

	go c.perform(ctx, key, p, op, params)
	return p
}

func (c *coordinator) perform(ctx context.Context, key string, p *Pending, op Operation, params Params) {
	start := time.Now()

	// The request is shared by every waiter on this key. A caller canceling
	// its own context abandons its Wait only; the wire request keeps running
	// and the remaining waiters still observe its outcome.
	raw, err := c.adapter.Request(context.WithoutCancel(ctx), op, params)
	var resolved []*Record
	if err == nil {
		resolved, err = c.ingest(params.Type, raw)
	}
	err = wrapTransportError(op, params.Type, params.ID, err)

	c.release(key)
	p.resolve(resolved, err)

	c.logger.LogRequest(RequestLogEvent{
		Op:       op,
		Type:     params.Type,
		ID:       params.ID,
		Duration: time.Since(start),
		Err:      err,
	})
}

func (c *coordinator) release(key string) {
	c.mu.Lock()
	delete(c.inflight, key)
	c.mu.Unlock()
}

// ingest normalizes a raw payload and merges it: sideloads first, primary
// last so primary data wins on conflict for the same id.
func (c *coordinator) ingest(typeName string, raw any) ([]*Record, error) {
	result, err := c.normalizeRaw(typeName, raw)
	if err != nil {
		return nil, err
	}
	for _, n := range result.Sideloaded {
		if _, err := c.identity.merge(n); err != nil {
			return nil, err
		}
	}
	resolved := make([]*Record, 0, len(result.Primary))
	for _, n := range result.Primary {
		rec, err := c.identity.merge(n)
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, rec)
	}
	return resolved, nil
}

func (c *coordinator) normalizeRaw(typeName string, raw any) (*NormalizedResult, error) {
	if data, ok := raw.([]byte); ok {
		return c.serializer.NormalizeBytes(typeName, data)
	}
	return c.serializer.Normalize(typeName, raw)
}

// save serializes the record, transitions it into the matching in-flight
// state, and issues exactly one adapter request. Failures roll the lifecycle
// back to its pre-request value; validation failures additionally populate
// the record's error collection while attributes stay untouched.
func (c *coordinator) save(ctx context.Context, rec *Record) error {
	if c.adapter == nil {
		return ErrAdapterRequired
	}
	next, op, ok := inFlightState(rec.state)
	if !ok {
		return &StateConflictError{Type: rec.typeName, ID: rec.id, State: rec.state, Op: "save"}
	}

	var payload map[string]any
	if op != OpDeleteRecord {
		serialized, err := c.serializer.Serialize(rec)
		if err != nil {
			return err
		}
		payload = serialized
	}

	params := Params{Type: rec.typeName, Payload: payload}
	if !rec.temporaryID {
		params.ID = rec.id
	}

	rec.errs = nil
	rec.state = next

	start := time.Now()
	raw, err := c.adapter.Request(ctx, op, params)
	if err == nil {
		err = c.commit(rec, op, raw)
	}
	if err != nil {
		rec.state = rollbackState(rec.state)
		var validationErr *ValidationError
		if errors.As(err, &validationErr) {
			rec.errs = validationErr.Messages
		}
		err = wrapTransportError(op, rec.typeName, rec.id, err)
	}

	c.logger.LogRequest(RequestLogEvent{
		Op:       op,
		Type:     rec.typeName,
		ID:       rec.id,
		Duration: time.Since(start),
		Err:      err,
	})
	if err != nil {
		return err
	}

	c.notify(ctx, saveVerb(op), rec)
	return nil
}

// commit reconciles a successful save response. The server payload, when
// present, is authoritative for the fields it carries; locally staged values
// are committed for the rest.
func (c *coordinator) commit(rec *Record, op Operation, raw any) error {
	if op == OpDeleteRecord {
		c.identity.evict(rec.typeName, rec.id)
		return nil
	}

	var primary *NormalizedRecord
	if raw != nil {
		result, err := c.normalizeRaw(rec.typeName, raw)
		if err != nil {
			return err
		}
		for _, n := range result.Sideloaded {
			if _, err := c.identity.merge(n); err != nil {
				return err
			}
		}
		if len(result.Primary) > 0 {
			primary = &result.Primary[0]
		}
	}

	if rec.temporaryID {
		// The temporary client id is replaced atomically on first persist;
		// a create response without a server id cannot be reconciled.
		if primary == nil || primary.ID == "" {
			return &MalformedPayloadError{Type: rec.typeName, Reason: "create response carries no server id"}
		}
		c.identity.reindex(rec, primary.ID)
	}

	rec.commitLocal()
	if primary != nil {
		if _, err := c.identity.merge(*primary); err != nil {
			return err
		}
	}
	rec.state = commitState(rec.state)
	return nil
}

func saveVerb(op Operation) string {
	switch op {
	case OpCreateRecord:
		return lifecycle.VerbCreated
	case OpDeleteRecord:
		return lifecycle.VerbDeleted
	default:
		return lifecycle.VerbUpdated
	}
}

func (c *coordinator) notify(ctx context.Context, verb string, rec *Record) {
	if !c.hooks.Enabled() {
		return
	}
	// Hook failures are observability noise, never store failures.
	_ = c.hooks.Notify(ctx, lifecycle.Event{
		Verb:       verb,
		RecordType: rec.typeName,
		RecordID:   rec.id,
		Metadata:   map[string]any{"state": rec.state.String()},
	})
}

type queryCacheEntry struct {
	ids []string
}

func (c *coordinator) cachedQuery(typeName, key string) ([]*Record, bool) {
	if c.queryCache == nil {
		return nil, false
	}
	cached, ok := c.queryCache.Get(key)
	if !ok {
		return nil, false
	}
	entry, ok := cached.(queryCacheEntry)
	if !ok {
		return nil, false
	}
	out := make([]*Record, 0, len(entry.ids))
	for _, id := range entry.ids {
		rec, ok := c.identity.Lookup(typeName, id)
		if !ok {
			return nil, false
		}
		out = append(out, rec)
	}
	return out, true
}

func (c *coordinator) storeQuery(key string, resolved []*Record) {
	if c.queryCache == nil {
		return
	}
	ids := make([]string, 0, len(resolved))
	for _, rec := range resolved {
		ids = append(ids, rec.id)
	}
	c.queryCache.Set(key, queryCacheEntry{ids: ids})
}

func canonicalQuery(query map[string]any) string {
	if len(query) == 0 {
		return ""
	}
	keys := make([]string, 0, len(query))
	for key := range query {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", key, query[key]))
	}
	return strings.Join(parts, "&")
}

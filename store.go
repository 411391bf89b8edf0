package records

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/goliatone/go-records/pkg/lifecycle"
)

type storeConfig struct {
	adapter        Adapter
	matcher        Matcher
	programCache   ProgramCache
	serializerOpts []SerializerOption
	logger         RequestLogger
	hooks          lifecycle.Hooks
	queryTTL       time.Duration
}

// Option configures a Store.
type Option func(*storeConfig)

// WithAdapter wires the transport adapter. Without one the store is
// peek-only and network operations fail with ErrAdapterRequired.
func WithAdapter(adapter Adapter) Option {
	return func(cfg *storeConfig) {
		cfg.adapter = adapter
	}
}

// WithMatcher selects the local query-filter engine. Default is expr.
func WithMatcher(matcher Matcher) Option {
	return func(cfg *storeConfig) {
		cfg.matcher = matcher
	}
}

// WithProgramCache registers a cache for compiled filter programs.
func WithProgramCache(cache ProgramCache) Option {
	return func(cfg *storeConfig) {
		cfg.programCache = cache
	}
}

// WithSerializerOptions forwards options to the store's serializer.
func WithSerializerOptions(opts ...SerializerOption) Option {
	return func(cfg *storeConfig) {
		cfg.serializerOpts = append(cfg.serializerOpts, opts...)
	}
}

// WithLifecycleHooks registers hooks notified on record lifecycle events.
func WithLifecycleHooks(hooks ...lifecycle.Hook) Option {
	return func(cfg *storeConfig) {
		cfg.hooks = append(cfg.hooks, hooks...)
	}
}

// WithQueryCache enables short-TTL caching of findQuery responses.
func WithQueryCache(ttl time.Duration) Option {
	return func(cfg *storeConfig) {
		cfg.queryTTL = ttl
	}
}

// Query describes one findQuery call: Params travel to the adapter, Filter
// is a matcher expression applied locally to the merged result.
type Query struct {
	Params map[string]any
	Filter string
}

// Store composes the registry, identity map, serializer, resolver, and
// request coordinator behind the only surface external callers touch. It is
// explicitly constructed and owned; tear it down with UnloadAll.
type Store struct {
	registry    *Registry
	identity    *IdentityMap
	serializer  *Serializer
	matcher     Matcher
	coordinator *coordinator
}

// New constructs a Store over a schema registry.
func New(registry *Registry, opts ...Option) (*Store, error) {
	if registry == nil {
		return nil, fmt.Errorf("records: registry is required")
	}

	cfg := storeConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.logger == nil {
		cfg.logger = noopRequestLogger{}
	}
	if cfg.matcher == nil {
		if cfg.programCache != nil {
			cfg.matcher = NewExprMatcher(ExprWithProgramCache(cfg.programCache))
		} else {
			cfg.matcher = NewExprMatcher()
		}
	}

	var queryCache *TTLCache
	if cfg.queryTTL > 0 {
		queryCache = NewTTLCache(cfg.queryTTL, 2*cfg.queryTTL)
	}

	identity := NewIdentityMap(registry)
	serializer := NewSerializer(registry, cfg.serializerOpts...)

	return &Store{
		registry:   registry,
		identity:   identity,
		serializer: serializer,
		matcher:    cfg.matcher,
		coordinator: newCoordinator(
			cfg.adapter, serializer, identity, cfg.logger, cfg.hooks, queryCache,
		),
	}, nil
}

// Registry returns the schema registry the store was built over.
func (s *Store) Registry() *Registry { return s.registry }

// Peek returns the cached record without touching the network.
func (s *Store) Peek(typeName, id string) (*Record, bool) {
	return s.identity.Lookup(typeName, id)
}

// PeekAll returns the cached records of a type, excluding records flagged
// for deletion. Deletion takes effect here immediately, before any save.
func (s *Store) PeekAll(typeName string) []*Record {
	all := s.identity.All(typeName)
	out := make([]*Record, 0, len(all))
	for _, rec := range all {
		if rec.IsDeleted() {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// PeekQuery filters the cached records of a type with a matcher expression,
// never touching the network.
func (s *Store) PeekQuery(typeName, filter string, args map[string]any) ([]*Record, error) {
	return s.filterRecords(s.PeekAll(typeName), typeName, filter, args)
}

// Find returns the canonical record for (typeName, id), from cache when
// present, otherwise through one coordinated fetch.
func (s *Store) Find(ctx context.Context, typeName, id string) (*Record, error) {
	if rec, ok := s.identity.Lookup(typeName, id); ok {
		return rec, nil
	}
	return s.coordinator.fetchOne(ctx, typeName, id)
}

// FindAll fetches the full collection for a type and returns the cached
// records after the merge.
func (s *Store) FindAll(ctx context.Context, typeName string) ([]*Record, error) {
	if _, err := s.coordinator.fetchAll(ctx, typeName); err != nil {
		return nil, err
	}
	return s.PeekAll(typeName), nil
}

// FindQuery sends query.Params to the adapter, merges the response, and
// applies query.Filter locally when set.
func (s *Store) FindQuery(ctx context.Context, typeName string, query Query) ([]*Record, error) {
	resolved, err := s.coordinator.fetchQuery(ctx, typeName, query.Params)
	if err != nil {
		return nil, err
	}
	if query.Filter == "" {
		return resolved, nil
	}
	return s.filterRecords(resolved, typeName, query.Filter, query.Params)
}

func (s *Store) filterRecords(candidates []*Record, typeName, filter string, args map[string]any) ([]*Record, error) {
	if filter == "" {
		return candidates, nil
	}
	if s.matcher == nil {
		return nil, ErrNoMatcher
	}
	compiled, err := s.matcher.Compile(filter)
	if err != nil {
		return nil, err
	}

	primaryKey := "id"
	if schema, ok := s.registry.Schema(typeName); ok {
		primaryKey = schema.PrimaryKey
	}

	out := make([]*Record, 0, len(candidates))
	for _, rec := range candidates {
		attributes := rec.snapshot()
		attributes[primaryKey] = rec.id
		matched, err := compiled.Match(MatchContext{Attributes: attributes, Args: args})
		if err != nil {
			return nil, err
		}
		if matched {
			out = append(out, rec)
		}
	}
	return out, nil
}

// CreateRecord materializes a new record under a client-assigned temporary
// id. The id is replaced atomically on first successful save.
func (s *Store) CreateRecord(typeName string, attrs map[string]any) (*Record, error) {
	return s.identity.add(typeName, uuid.NewString(), attrs)
}

// Save persists the record through the adapter: createRecord for new
// records, updateRecord for dirty ones, deleteRecord for records flagged
// for deletion. Saving a record that is already in flight fails with
// StateConflictError before any request is issued.
func (s *Store) Save(ctx context.Context, rec *Record) error {
	if err := s.owns(rec); err != nil {
		return err
	}
	return s.coordinator.save(ctx, rec)
}

// DeleteRecord flags the record for deletion locally. It disappears from
// PeekAll immediately; the server copy is untouched until Save. Deleting a
// never-persisted record discards it outright.
func (s *Store) DeleteRecord(rec *Record) error {
	if err := s.owns(rec); err != nil {
		return err
	}
	switch {
	case rec.state.InFlight():
		return &StateConflictError{Type: rec.typeName, ID: rec.id, State: rec.state, Op: "deleteRecord"}
	case rec.state == StateNew:
		s.identity.evict(rec.typeName, rec.id)
		s.coordinator.notify(context.Background(), lifecycle.VerbDeleted, rec)
		return nil
	case rec.state == StatePersisted || rec.state == StateDirty:
		rec.state = StateDeleted
		return nil
	case rec.IsDeleted():
		return nil
	default:
		return &StateConflictError{Type: rec.typeName, ID: rec.id, State: rec.state, Op: "deleteRecord"}
	}
}

// DestroyRecord flags the record for deletion and saves in one step.
func (s *Store) DestroyRecord(ctx context.Context, rec *Record) error {
	wasNew := rec.State() == StateNew
	if err := s.DeleteRecord(rec); err != nil {
		return err
	}
	if wasNew {
		return nil
	}
	return s.Save(ctx, rec)
}

// Unload evicts the record from the identity map. References pointing at it
// become dangling and resolve to absent. Unloading an in-flight record is a
// conflict.
func (s *Store) Unload(rec *Record) error {
	if err := s.owns(rec); err != nil {
		return err
	}
	if rec.state.InFlight() {
		return &StateConflictError{Type: rec.typeName, ID: rec.id, State: rec.state, Op: "unload"}
	}
	s.identity.Remove(rec.typeName, rec.id)
	s.coordinator.notify(context.Background(), lifecycle.VerbUnloaded, rec)
	return nil
}

// UnloadAll tears the identity map down, transitioning every cached record
// to unloaded.
func (s *Store) UnloadAll() {
	for _, typeName := range s.registry.Types() {
		for _, rec := range s.identity.All(typeName) {
			s.coordinator.notify(context.Background(), lifecycle.VerbUnloaded, rec)
		}
	}
	s.identity.Clear()
}

func (s *Store) owns(rec *Record) error {
	if rec == nil {
		return fmt.Errorf("records: record is nil")
	}
	if rec.identity != s.identity {
		return fmt.Errorf("records: record %s/%s belongs to a different store", rec.typeName, rec.id)
	}
	return nil
}

package records

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/stoewer/go-strcase"

	"github.com/goliatone/go-records/internal/payload"
)

// KeyConvention names the wire-side key casing. Internal attribute names are
// lower camel case; the convention maps them onto the wire and back.
type KeyConvention string

const (
	KeyCamel KeyConvention = "camel"
	KeySnake KeyConvention = "snake"
	KeyKebab KeyConvention = "kebab"
)

// linksKey carries per-relationship URLs for deferred async resolution.
const linksKey = "links"

// NormalizedRecord is the canonical internal shape of one wire record.
type NormalizedRecord struct {
	Type          string
	ID            string
	Attributes    map[string]any
	Relationships map[string]RawRel
}

// RawRel is the unresolved relationship payload extracted from the wire:
// raw id(s) when Loaded, or a deferred-resolution link.
type RawRel struct {
	Loaded bool
	One    string
	Many   []string
	Link   string
}

// NormalizedResult is the output of one Normalize pass. Sideloaded records
// (top-level arrays keyed by type, plus extracted embedded records) merge
// before the primary so primary data stays authoritative on conflict.
type NormalizedResult struct {
	Primary    []NormalizedRecord
	Sideloaded []NormalizedRecord
	// Single reports that the payload carried one record, not a collection.
	Single bool
}

// SerializerOption configures a Serializer.
type SerializerOption func(*Serializer)

// WithKeyConvention selects the wire key casing. Default is camel.
func WithKeyConvention(convention KeyConvention) SerializerOption {
	return func(s *Serializer) {
		s.convention = convention
	}
}

// WithTransforms replaces the attribute transform registry.
func WithTransforms(transforms *TransformRegistry) SerializerOption {
	return func(s *Serializer) {
		if transforms != nil {
			s.transforms = transforms.Clone()
		}
	}
}

// WithPayloadHook registers a payload.PreHook applied before normalization.
func WithPayloadHook(hook payload.PreHook) SerializerOption {
	return func(s *Serializer) {
		s.payloadHooks = append(s.payloadHooks, hook)
	}
}

// Serializer transforms wire JSON into normalized records and back. It
// understands the namespaced form ({"<type>": ..., "<sideType>": [...]}) and
// the bare form (one object or one array, no root key) and round-trips both
// losslessly for declared fields.
type Serializer struct {
	registry     *Registry
	transforms   *TransformRegistry
	convention   KeyConvention
	payloadHooks []payload.PreHook
	decoder      *payload.Decoder
}

// NewSerializer constructs a Serializer bound to a schema registry.
func NewSerializer(registry *Registry, opts ...SerializerOption) *Serializer {
	s := &Serializer{
		registry:   registry,
		transforms: DefaultTransforms(),
		convention: KeyCamel,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	decoderOpts := make([]payload.Option, 0, len(s.payloadHooks))
	for _, hook := range s.payloadHooks {
		decoderOpts = append(decoderOpts, payload.WithPreHook(hook))
	}
	s.decoder = payload.NewDecoder(decoderOpts...)
	return s
}

func (s *Serializer) toWire(name string) string {
	switch s.convention {
	case KeySnake:
		return strcase.SnakeCase(name)
	case KeyKebab:
		return strcase.KebabCase(name)
	default:
		return strcase.LowerCamelCase(name)
	}
}

func (s *Serializer) fromWire(key string) string {
	return strcase.LowerCamelCase(key)
}

// NormalizeBytes decodes raw payload bytes and normalizes them for typeName.
func (s *Serializer) NormalizeBytes(typeName string, data []byte) (*NormalizedResult, error) {
	doc, err := s.decoder.Decode(data)
	if err != nil {
		return nil, &MalformedPayloadError{Type: typeName, Reason: err.Error()}
	}
	return s.Normalize(typeName, doc)
}

// Normalize transforms a decoded wire document into normalized records:
// root-key unwrapping, key transformation, primary-key aliasing,
// relationship extraction, sideload extraction, and recursive embedded
// extraction with the parent relationship rewritten to reference-by-id.
func (s *Serializer) Normalize(typeName string, doc any) (*NormalizedResult, error) {
	info, ok := s.registry.info(typeName)
	if !ok {
		return nil, fmt.Errorf("records: type %q not registered", typeName)
	}

	result := &NormalizedResult{}

	if items, ok := payload.Array(doc); ok {
		// Bare collection form.
		for _, item := range items {
			obj, ok := payload.Object(item)
			if !ok {
				return nil, &MalformedPayloadError{Type: typeName, Reason: "collection item is not an object"}
			}
			normalized, err := s.normalizeOne(info, obj, result)
			if err != nil {
				return nil, err
			}
			result.Primary = append(result.Primary, normalized)
		}
		return result, nil
	}

	obj, ok := payload.Object(doc)
	if !ok {
		return nil, &MalformedPayloadError{Type: typeName, Reason: "document is neither object nor array"}
	}

	rootKey := s.toWire(typeName)
	primary, namespaced := obj[rootKey]
	if !namespaced {
		// Bare single-record form.
		result.Single = true
		normalized, err := s.normalizeOne(info, obj, result)
		if err != nil {
			return nil, err
		}
		result.Primary = append(result.Primary, normalized)
		return result, nil
	}

	// Namespaced form: every other top-level key naming a registered type is
	// a sideloaded collection; unknown keys are dropped.
	for key, value := range obj {
		if key == rootKey {
			continue
		}
		sideInfo, ok := s.registry.info(s.fromWire(key))
		if !ok {
			continue
		}
		items, ok := payload.Array(value)
		if !ok {
			return nil, &MalformedPayloadError{Type: sideInfo.schema.Name, Reason: "sideloaded value is not an array"}
		}
		for _, item := range items {
			sideObj, ok := payload.Object(item)
			if !ok {
				return nil, &MalformedPayloadError{Type: sideInfo.schema.Name, Reason: "sideloaded item is not an object"}
			}
			normalized, err := s.normalizeOne(sideInfo, sideObj, result)
			if err != nil {
				return nil, err
			}
			result.Sideloaded = append(result.Sideloaded, normalized)
		}
	}

	switch typed := primary.(type) {
	case map[string]any:
		result.Single = true
		normalized, err := s.normalizeOne(info, typed, result)
		if err != nil {
			return nil, err
		}
		result.Primary = append(result.Primary, normalized)
	case []any:
		for _, item := range typed {
			itemObj, ok := payload.Object(item)
			if !ok {
				return nil, &MalformedPayloadError{Type: typeName, Reason: "collection item is not an object"}
			}
			normalized, err := s.normalizeOne(info, itemObj, result)
			if err != nil {
				return nil, err
			}
			result.Primary = append(result.Primary, normalized)
		}
	default:
		return nil, &MalformedPayloadError{Type: typeName, Reason: fmt.Sprintf("root value has unsupported type %T", primary)}
	}
	return result, nil
}

// normalizeOne maps a single wire object onto a NormalizedRecord. Undeclared
// fields are dropped for forward compatibility; declared-but-absent fields
// stay untouched so the identity map can merge partially.
func (s *Serializer) normalizeOne(info *typeInfo, obj map[string]any, result *NormalizedResult) (NormalizedRecord, error) {
	typeName := info.schema.Name

	id, err := s.extractID(info, obj)
	if err != nil {
		return NormalizedRecord{}, err
	}

	normalized := NormalizedRecord{
		Type:          typeName,
		ID:            id,
		Attributes:    map[string]any{},
		Relationships: map[string]RawRel{},
	}

	for key, value := range obj {
		if key == s.toWire(info.schema.PrimaryKey) || key == linksKey {
			continue
		}
		name := s.fromWire(key)

		if attr, ok := info.attrs[name]; ok {
			coerced, err := s.transforms.Normalize(attr.Kind, value)
			if err != nil {
				return NormalizedRecord{}, &MalformedPayloadError{Type: typeName, Reason: fmt.Sprintf("attribute %q: %v", name, err)}
			}
			normalized.Attributes[name] = coerced
			continue
		}

		if rel, ok := info.rels[name]; ok {
			raw, err := s.normalizeRel(typeName, rel, value, result)
			if err != nil {
				return NormalizedRecord{}, err
			}
			normalized.Relationships[name] = raw
		}
	}

	if links, ok := payload.Object(obj[linksKey]); ok {
		for key, value := range links {
			name := s.fromWire(key)
			if _, ok := info.rels[name]; !ok {
				continue
			}
			url, ok := value.(string)
			if !ok {
				continue
			}
			raw := normalized.Relationships[name]
			raw.Link = url
			normalized.Relationships[name] = raw
		}
	}

	return normalized, nil
}

func (s *Serializer) normalizeRel(typeName string, rel RelationshipDef, value any, result *NormalizedResult) (RawRel, error) {
	switch rel.Kind {
	case RelOne:
		if value == nil {
			return RawRel{Loaded: true}, nil
		}
		if embedded, ok := payload.Object(value); ok {
			id, err := s.normalizeEmbedded(rel.Target, embedded, result)
			if err != nil {
				return RawRel{}, err
			}
			return RawRel{Loaded: true, One: id}, nil
		}
		id, ok := idString(value)
		if !ok {
			return RawRel{}, &MalformedPayloadError{Type: typeName, Reason: fmt.Sprintf("relationship %q carries unsupported value %T", rel.Name, value)}
		}
		return RawRel{Loaded: true, One: id}, nil

	case RelMany:
		items, ok := payload.Array(value)
		if !ok {
			return RawRel{}, &MalformedPayloadError{Type: typeName, Reason: fmt.Sprintf("relationship %q is not an array", rel.Name)}
		}
		ids := make([]string, 0, len(items))
		for _, item := range items {
			if embedded, ok := payload.Object(item); ok {
				id, err := s.normalizeEmbedded(rel.Target, embedded, result)
				if err != nil {
					return RawRel{}, err
				}
				ids = append(ids, id)
				continue
			}
			id, ok := idString(item)
			if !ok {
				return RawRel{}, &MalformedPayloadError{Type: typeName, Reason: fmt.Sprintf("relationship %q carries unsupported item %T", rel.Name, item)}
			}
			ids = append(ids, id)
		}
		return RawRel{Loaded: true, Many: ids}, nil
	}
	return RawRel{}, fmt.Errorf("records: relationship %s.%s has unsupported kind %q", typeName, rel.Name, rel.Kind)
}

// normalizeEmbedded extracts a nested full object: it is normalized
// recursively, queued with the sideloads, and the parent relationship is
// rewritten to reference it by id.
func (s *Serializer) normalizeEmbedded(target string, obj map[string]any, result *NormalizedResult) (string, error) {
	info, ok := s.registry.info(target)
	if !ok {
		return "", fmt.Errorf("records: type %q not registered", target)
	}
	normalized, err := s.normalizeOne(info, obj, result)
	if err != nil {
		return "", err
	}
	result.Sideloaded = append(result.Sideloaded, normalized)
	return normalized.ID, nil
}

func (s *Serializer) extractID(info *typeInfo, obj map[string]any) (string, error) {
	value, ok := obj[s.toWire(info.schema.PrimaryKey)]
	if !ok {
		return "", &MalformedPayloadError{Type: info.schema.Name, Reason: "missing primary key"}
	}
	id, ok := idString(value)
	if !ok || id == "" {
		return "", &MalformedPayloadError{Type: info.schema.Name, Reason: "primary key is not a scalar id"}
	}
	return id, nil
}

func idString(value any) (string, bool) {
	switch typed := value.(type) {
	case string:
		return typed, typed != ""
	case json.Number:
		return typed.String(), true
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64), true
	case int:
		return strconv.Itoa(typed), true
	case int64:
		return strconv.FormatInt(typed, 10), true
	default:
		return "", false
	}
}

// SerializeConfig controls one Serialize call.
type SerializeConfig struct {
	// Root wraps the output under the type's root key (namespaced form).
	Root bool
}

// SerializeOption configures a Serialize call.
type SerializeOption func(*SerializeConfig)

// WithRoot emits the namespaced form instead of the bare object.
func WithRoot() SerializeOption {
	return func(cfg *SerializeConfig) {
		cfg.Root = true
	}
}

// Serialize renders a record for the wire: declared attributes through their
// kind transforms, relationships per declared policy (ids, embedded records,
// or omitted), no sideloads. Deferred-resolution URLs round-trip through a
// links object, so a link-only relationship is not lost on the way out.
// Temporary client ids are never written.
func (s *Serializer) Serialize(rec *Record, opts ...SerializeOption) (map[string]any, error) {
	cfg := SerializeConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	visited := map[string]struct{}{}
	obj, err := s.serializeOne(rec, visited)
	if err != nil {
		return nil, err
	}
	if cfg.Root {
		return map[string]any{s.toWire(rec.typeName): obj}, nil
	}
	return obj, nil
}

func (s *Serializer) serializeOne(rec *Record, visited map[string]struct{}) (map[string]any, error) {
	info, ok := s.registry.info(rec.typeName)
	if !ok {
		return nil, fmt.Errorf("records: type %q not registered", rec.typeName)
	}
	visited[rec.typeName+"/"+rec.id] = struct{}{}

	obj := map[string]any{}
	if !rec.temporaryID {
		obj[s.toWire(info.schema.PrimaryKey)] = rec.id
	}

	snapshot := rec.snapshot()
	for _, attr := range info.schema.Attributes {
		value, ok := snapshot[attr.Name]
		if !ok {
			continue
		}
		rendered, err := s.transforms.Serialize(attr.Kind, value)
		if err != nil {
			return nil, fmt.Errorf("records: serialize %s.%s: %w", rec.typeName, attr.Name, err)
		}
		obj[s.toWire(attr.Name)] = rendered
	}

	var links map[string]any
	for _, rel := range info.schema.Relationships {
		if rel.Policy == PolicyOmit {
			continue
		}
		ref, ok := rec.rels[rel.Name]
		if !ok {
			continue
		}
		raw := rec.identity.refState(ref)
		if raw.Link != "" {
			if links == nil {
				links = map[string]any{}
			}
			links[s.toWire(rel.Name)] = raw.Link
		}
		if !raw.Loaded {
			continue
		}
		rendered, err := s.serializeRel(rec, rel, raw, visited)
		if err != nil {
			return nil, err
		}
		obj[s.toWire(rel.Name)] = rendered
	}
	if links != nil {
		obj[linksKey] = links
	}
	return obj, nil
}

func (s *Serializer) serializeRel(rec *Record, rel RelationshipDef, raw RawRel, visited map[string]struct{}) (any, error) {
	embed := rel.Policy == PolicyRecords

	if rel.Kind == RelOne {
		if raw.One == "" {
			return nil, nil
		}
		if embed {
			if related, ok := embeddable(rec, rel.Target, raw.One, visited); ok {
				return s.serializeOne(related, visited)
			}
		}
		return raw.One, nil
	}

	out := make([]any, 0, len(raw.Many))
	for _, id := range raw.Many {
		if embed {
			if related, ok := embeddable(rec, rel.Target, id, visited); ok {
				embedded, err := s.serializeOne(related, visited)
				if err != nil {
					return nil, err
				}
				out = append(out, embedded)
				continue
			}
		}
		out = append(out, id)
	}
	return out, nil
}

// embeddable reports whether the related record can be embedded inline: it
// must be materialized and not already on the embed path. Anything else
// falls back to reference-by-id, so cyclic embeds terminate.
func embeddable(rec *Record, typeName, id string, visited map[string]struct{}) (*Record, bool) {
	if _, seen := visited[typeName+"/"+id]; seen {
		return nil, false
	}
	if rec.identity == nil {
		return nil, false
	}
	related, ok := rec.identity.Lookup(typeName, id)
	return related, ok
}

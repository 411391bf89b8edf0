package records

import (
	"fmt"
	"sort"
	"sync"
)

// AttributeKind selects the coercion applied to an attribute crossing the
// wire boundary. Unknown kinds pass through unmodified.
type AttributeKind string

const (
	KindString  AttributeKind = "string"
	KindNumber  AttributeKind = "number"
	KindBoolean AttributeKind = "boolean"
	KindDate    AttributeKind = "date"
	KindRaw     AttributeKind = "raw"
)

// RelKind distinguishes single-valued from multi-valued relationships.
type RelKind string

const (
	RelOne  RelKind = "one"
	RelMany RelKind = "many"
)

// RelPolicy controls how Serialize renders a relationship.
type RelPolicy string

const (
	// PolicyIDs writes the related id (or ordered id array). Default.
	PolicyIDs RelPolicy = "ids"
	// PolicyRecords embeds the full related record(s) inline.
	PolicyRecords RelPolicy = "records"
	// PolicyOmit leaves the relationship out of serialized output.
	PolicyOmit RelPolicy = "omit"
)

// AttributeDef declares one typed attribute on a schema.
type AttributeDef struct {
	Name    string
	Kind    AttributeKind
	Default any
}

// RelationshipDef declares a reference to another registered type.
//
// Inverse naming follows a fixed resolution pass at registration time: an
// explicit Inverse must exist on the target and point back; NoInverse opts
// out; otherwise the inverse is inferred only when the target declares
// exactly one relationship back to this type.
type RelationshipDef struct {
	Name      string
	Kind      RelKind
	Target    string
	Inverse   string
	NoInverse bool
	Async     bool
	Policy    RelPolicy
}

// Schema declares the full shape of one model type.
type Schema struct {
	Name          string
	PrimaryKey    string
	Attributes    []AttributeDef
	Relationships []RelationshipDef
}

// FieldDescriptor describes one declared field and its inferred wire type.
type FieldDescriptor struct {
	Path string
	Type string
}

type typeInfo struct {
	schema Schema
	attrs  map[string]AttributeDef
	rels   map[string]RelationshipDef
	// inverses maps relationship name to the resolved inverse relationship
	// name on the target type; absent means no inverse is maintained.
	inverses map[string]string
}

// Registry maps model-type names to validated schemas. Registration runs a
// full inverse-resolution pass over every known type, so mutually referring
// types should be registered in one call.
type Registry struct {
	mu    sync.RWMutex
	types map[string]*typeInfo
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{types: map[string]*typeInfo{}}
}

// Register validates and stores the given schemas. It fails fast on
// duplicate fields, dangling relationship targets among the registered set,
// and ambiguous or inconsistent inverses; on failure the registry is left
// unchanged.
func (r *Registry) Register(schemas ...Schema) error {
	if len(schemas) == 0 {
		return fmt.Errorf("records: at least one schema is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	staged := make(map[string]*typeInfo, len(r.types)+len(schemas))
	for name, info := range r.types {
		staged[name] = info
	}

	for _, schema := range schemas {
		info, err := buildTypeInfo(schema)
		if err != nil {
			return err
		}
		if _, exists := staged[schema.Name]; exists {
			return fmt.Errorf("records: type %q already registered", schema.Name)
		}
		staged[schema.Name] = info
	}

	if err := resolveInverses(staged); err != nil {
		return err
	}

	r.types = staged
	return nil
}

func buildTypeInfo(schema Schema) (*typeInfo, error) {
	if schema.Name == "" {
		return nil, fmt.Errorf("records: schema name must not be empty")
	}
	if schema.PrimaryKey == "" {
		schema.PrimaryKey = "id"
	}

	info := &typeInfo{
		schema: schema,
		attrs:  make(map[string]AttributeDef, len(schema.Attributes)),
		rels:   make(map[string]RelationshipDef, len(schema.Relationships)),
	}

	for i, attr := range schema.Attributes {
		if attr.Name == "" {
			return nil, fmt.Errorf("records: type %q declares an unnamed attribute", schema.Name)
		}
		if attr.Name == schema.PrimaryKey {
			return nil, fmt.Errorf("records: type %q declares attribute %q shadowing the primary key", schema.Name, attr.Name)
		}
		if _, exists := info.attrs[attr.Name]; exists {
			return nil, fmt.Errorf("records: type %q declares attribute %q twice", schema.Name, attr.Name)
		}
		if attr.Kind == "" {
			attr.Kind = KindRaw
			info.schema.Attributes[i].Kind = KindRaw
		}
		info.attrs[attr.Name] = attr
	}

	for i, rel := range schema.Relationships {
		if rel.Name == "" {
			return nil, fmt.Errorf("records: type %q declares an unnamed relationship", schema.Name)
		}
		if _, exists := info.attrs[rel.Name]; exists {
			return nil, fmt.Errorf("records: type %q declares %q as both attribute and relationship", schema.Name, rel.Name)
		}
		if _, exists := info.rels[rel.Name]; exists {
			return nil, fmt.Errorf("records: type %q declares relationship %q twice", schema.Name, rel.Name)
		}
		if rel.Kind != RelOne && rel.Kind != RelMany {
			return nil, fmt.Errorf("records: relationship %s.%s has unsupported kind %q", schema.Name, rel.Name, rel.Kind)
		}
		if rel.Target == "" {
			return nil, fmt.Errorf("records: relationship %s.%s has no target type", schema.Name, rel.Name)
		}
		if rel.NoInverse && rel.Inverse != "" {
			return nil, fmt.Errorf("records: relationship %s.%s declares an inverse and NoInverse", schema.Name, rel.Name)
		}
		if rel.Policy == "" {
			rel.Policy = PolicyIDs
			info.schema.Relationships[i].Policy = PolicyIDs
		}
		info.rels[rel.Name] = rel
	}

	return info, nil
}

// resolveInverses produces the fixed inverse map for every staged type.
// Inference never guesses: zero candidates means no inverse, more than one
// is an InverseAmbiguityError.
func resolveInverses(staged map[string]*typeInfo) error {
	for typeName, info := range staged {
		inverses := make(map[string]string)
		for _, rel := range info.schema.Relationships {
			target, ok := staged[rel.Target]
			if !ok {
				return fmt.Errorf("records: relationship %s.%s targets unregistered type %q", typeName, rel.Name, rel.Target)
			}
			if rel.NoInverse {
				continue
			}

			if rel.Inverse != "" {
				back, ok := target.rels[rel.Inverse]
				if !ok {
					return fmt.Errorf("records: relationship %s.%s declares inverse %q not present on %q", typeName, rel.Name, rel.Inverse, rel.Target)
				}
				if back.Target != typeName {
					return fmt.Errorf("records: inverse %s.%s targets %q, not %q", rel.Target, rel.Inverse, back.Target, typeName)
				}
				inverses[rel.Name] = rel.Inverse
				continue
			}

			candidates := inverseCandidates(target, typeName)
			switch len(candidates) {
			case 0:
				// No path back; the relationship stays one-sided.
			case 1:
				inverses[rel.Name] = candidates[0]
			default:
				return &InverseAmbiguityError{
					Type:         typeName,
					Relationship: rel.Name,
					Target:       rel.Target,
					Candidates:   candidates,
				}
			}
		}

		if err := checkInverseClaims(typeName, info, inverses); err != nil {
			return err
		}
		info.inverses = inverses
	}
	return nil
}

func inverseCandidates(target *typeInfo, typeName string) []string {
	var candidates []string
	for _, rel := range target.schema.Relationships {
		if rel.Target == typeName && !rel.NoInverse {
			candidates = append(candidates, rel.Name)
		}
	}
	sort.Strings(candidates)
	return candidates
}

// checkInverseClaims enforces that at most one relationship on a type claims
// a given inverse name on a given target.
func checkInverseClaims(typeName string, info *typeInfo, inverses map[string]string) error {
	claimed := make(map[string]string)
	for _, rel := range info.schema.Relationships {
		inverse, ok := inverses[rel.Name]
		if !ok {
			continue
		}
		key := rel.Target + "." + inverse
		if prior, exists := claimed[key]; exists {
			return fmt.Errorf("records: relationships %s.%s and %s.%s both claim inverse %s", typeName, prior, typeName, rel.Name, key)
		}
		claimed[key] = rel.Name
	}
	return nil
}

// Schema returns the registered schema for name.
func (r *Registry) Schema(name string) (Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.types[name]
	if !ok {
		return Schema{}, false
	}
	return info.schema, true
}

// Types returns the registered type names in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Inverse reports the resolved inverse relationship name for typeName.rel.
func (r *Registry) Inverse(typeName, rel string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.types[typeName]
	if !ok {
		return "", false
	}
	inverse, ok := info.inverses[rel]
	return inverse, ok
}

// Describe returns flattened field descriptors for a registered type, primary
// key first, then attributes and relationships in declaration order.
func (r *Registry) Describe(name string) ([]FieldDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.types[name]
	if !ok {
		return nil, fmt.Errorf("records: type %q not registered", name)
	}

	descriptors := []FieldDescriptor{{
		Path: info.schema.PrimaryKey,
		Type: "id",
	}}
	for _, attr := range info.schema.Attributes {
		descriptors = append(descriptors, FieldDescriptor{
			Path: attr.Name,
			Type: string(attr.Kind),
		})
	}
	for _, rel := range info.schema.Relationships {
		relType := rel.Target
		if rel.Kind == RelMany {
			relType = "[]" + rel.Target
		}
		descriptors = append(descriptors, FieldDescriptor{
			Path: rel.Name,
			Type: relType,
		})
	}
	return descriptors, nil
}

func (r *Registry) info(name string) (*typeInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.types[name]
	return info, ok
}

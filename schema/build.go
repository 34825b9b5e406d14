package schema

import (
	"errors"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/jacentio/switchstore/attr"
)

// ErrInvalidSchema is returned when a schema definition is inconsistent.
var ErrInvalidSchema = errors.New("switchstore: invalid schema")

// Document is the on-disk form of a schema.
type Document struct {
	Types []TypeDef `yaml:"types"`
}

// TypeDef declares one object type. Attributes are referenced by name.
type TypeDef struct {
	Name       string        `yaml:"name"`
	Class      string        `yaml:"class"`
	Counter    bool          `yaml:"counter"`
	Attributes []AttrDef     `yaml:"attributes"`
	KeyGroups  []KeyGroupDef `yaml:"key_groups"`
	Parent     string        `yaml:"parent"`
	ParentAttr string        `yaml:"parent_attr"`
	DependsOn  []string      `yaml:"depends_on"`
	Watch      []string      `yaml:"watch"`
	Referrers  []PathDef     `yaml:"referrers"`
}

// AttrDef declares one attribute.
type AttrDef struct {
	ID    uint16   `yaml:"id"`
	Name  string   `yaml:"name"`
	Type  string   `yaml:"type"`
	Flags []string `yaml:"flags"`
	Ref   string   `yaml:"ref"`
}

// KeyGroupDef declares a key group by attribute names.
type KeyGroupDef struct {
	Name       string   `yaml:"name"`
	Attributes []string `yaml:"attributes"`
}

// PathDef names an attribute of another type.
type PathDef struct {
	Type      string `yaml:"type"`
	Attribute string `yaml:"attribute"`
}

// Load reads and validates a YAML schema file.
func Load(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	return Parse(data)
}

// Parse validates a YAML schema document.
func Parse(data []byte) (*Schema, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSchema, err)
	}
	return New(doc.Types...)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidSchema, fmt.Sprintf(format, args...))
}

// New builds a schema from type definitions. Auto types may refer to types
// declared later in defs.
func New(defs ...TypeDef) (*Schema, error) {
	s := &Schema{
		types:        make(map[attr.ObjectType]*ObjectType, len(defs)),
		autoByParent: make(map[attr.ObjectType][]*ObjectType),
		gates:        make(map[Path][]*ObjectType),
		watchers:     make(map[Path][]*ObjectType),
		contributors: make(map[attr.ObjectType][]attr.ObjectType),
	}

	// Pass 1: types and their own attributes.
	for _, d := range defs {
		t, err := buildType(d)
		if err != nil {
			return nil, err
		}
		if _, dup := s.types[t.Name]; dup {
			return nil, invalid("duplicate type %q", t.Name)
		}
		s.types[t.Name] = t
		s.order = append(s.order, t.Name)
	}

	// Pass 2: cross-type references.
	for i, d := range defs {
		t := s.types[s.order[i]]
		if err := s.link(t, d); err != nil {
			return nil, err
		}
	}

	if err := s.computePriorities(); err != nil {
		return nil, err
	}
	s.index()
	return s, nil
}

func buildType(d TypeDef) (*ObjectType, error) {
	if d.Name == "" {
		return nil, invalid("type with empty name")
	}
	t := &ObjectType{
		Name:    attr.ObjectType(d.Name),
		Counter: d.Counter,
		byID:    make(map[attr.ID]int, len(d.Attributes)),
	}
	switch d.Class {
	case "", "user":
		t.Class = ClassUser
	case "auto":
		t.Class = ClassAuto
	default:
		return nil, invalid("type %q: unknown class %q", d.Name, d.Class)
	}

	names := make(map[string]bool, len(d.Attributes))
	for _, ad := range d.Attributes {
		if ad.ID == 0 {
			return nil, invalid("type %q: attribute %q has id 0", d.Name, ad.Name)
		}
		if ad.Name == "" {
			return nil, invalid("type %q: attribute %d has no name", d.Name, ad.ID)
		}
		if names[ad.Name] {
			return nil, invalid("type %q: duplicate attribute name %q", d.Name, ad.Name)
		}
		names[ad.Name] = true
		typ, err := attr.ParseType(ad.Type)
		if err != nil {
			return nil, invalid("type %q: attribute %q: %v", d.Name, ad.Name, err)
		}
		m := AttrMeta{ID: attr.ID(ad.ID), Name: ad.Name, Type: typ, Ref: attr.ObjectType(ad.Ref)}
		for _, f := range ad.Flags {
			flag, ok := parseFlag(f)
			if !ok {
				return nil, invalid("type %q: attribute %q: unknown flag %q", d.Name, ad.Name, f)
			}
			m.Flags |= flag
		}
		if m.Ref != "" && typ.Kind != attr.KindHandle {
			return nil, invalid("type %q: attribute %q: ref on non-handle type %s", d.Name, ad.Name, typ)
		}
		t.Attrs = append(t.Attrs, m)
	}
	slices.SortFunc(t.Attrs, func(a, b AttrMeta) int { return int(a.ID) - int(b.ID) })
	for i, m := range t.Attrs {
		if i > 0 && t.Attrs[i-1].ID == m.ID {
			return nil, invalid("type %q: duplicate attribute id %d", d.Name, m.ID)
		}
		t.byID[m.ID] = i
	}

	for gi, gd := range d.KeyGroups {
		g := KeyGroup{Name: gd.Name}
		if g.Name == "" {
			g.Name = fmt.Sprintf("key%d", gi)
		}
		if len(gd.Attributes) == 0 {
			return nil, invalid("type %q: key group %q is empty", d.Name, g.Name)
		}
		for _, name := range gd.Attributes {
			m, ok := t.AttrByName(name)
			if !ok {
				return nil, invalid("type %q: key group %q: unknown attribute %q", d.Name, g.Name, name)
			}
			if slices.Contains(g.Attrs, m.ID) {
				return nil, invalid("type %q: key group %q repeats %q", d.Name, g.Name, name)
			}
			g.Attrs = append(g.Attrs, m.ID)
		}
		slices.Sort(g.Attrs)
		if _, dup := t.KeyGroupFor(g.Attrs); dup {
			return nil, invalid("type %q: key group %q duplicates another group", d.Name, g.Name)
		}
		t.KeyGroups = append(t.KeyGroups, g)
	}
	return t, nil
}

func parseFlag(s string) (Flags, bool) {
	for _, fn := range flagNames {
		if fn.name == s {
			return fn.flag, true
		}
	}
	return 0, false
}

// link resolves references between types.
func (s *Schema) link(t *ObjectType, d TypeDef) error {
	for _, m := range t.Attrs {
		if m.Ref != "" {
			if _, ok := s.types[m.Ref]; !ok {
				return invalid("type %q: attribute %q refers to unknown type %q", t.Name, m.Name, m.Ref)
			}
		}
	}

	if !t.IsAuto() {
		if d.Parent != "" || d.ParentAttr != "" || len(d.DependsOn) > 0 || len(d.Watch) > 0 || len(d.Referrers) > 0 {
			return invalid("type %q: parent, depends_on, watch and referrers are for auto types", t.Name)
		}
		return nil
	}

	parent, ok := s.types[attr.ObjectType(d.Parent)]
	if !ok {
		return invalid("auto type %q: unknown parent %q", t.Name, d.Parent)
	}
	t.Parent = parent.Name

	i := slices.IndexFunc(t.Attrs, func(m AttrMeta) bool { return m.Name == d.ParentAttr })
	if i < 0 {
		return invalid("auto type %q: unknown parent attribute %q", t.Name, d.ParentAttr)
	}
	pm := &t.Attrs[i]
	if pm.Type != attr.ScalarOf(attr.KindHandle) {
		return invalid("auto type %q: parent attribute %q must be a handle", t.Name, pm.Name)
	}
	if pm.Ref != "" && pm.Ref != parent.Name {
		return invalid("auto type %q: parent attribute %q refers to %q, not %q", t.Name, pm.Name, pm.Ref, parent.Name)
	}
	pm.Ref = parent.Name
	pm.Flags |= ReadOnly | Immutable
	t.ParentAttr = pm.ID

	for _, name := range d.DependsOn {
		t.DependsOn = append(t.DependsOn, attr.ObjectType(name))
	}
	for _, name := range d.Watch {
		m, ok := parent.AttrByName(name)
		if !ok {
			return invalid("auto type %q: watch: parent %q has no attribute %q", t.Name, parent.Name, name)
		}
		t.Watch = append(t.Watch, m.ID)
	}
	for _, pd := range d.Referrers {
		rt, ok := s.types[attr.ObjectType(pd.Type)]
		if !ok {
			return invalid("auto type %q: referrers: unknown type %q", t.Name, pd.Type)
		}
		m, ok := rt.AttrByName(pd.Attribute)
		if !ok {
			return invalid("auto type %q: referrers: %q has no attribute %q", t.Name, pd.Type, pd.Attribute)
		}
		if m.Type.Kind != attr.KindHandle {
			return invalid("auto type %q: referrers: %s.%s is not a handle", t.Name, pd.Type, pd.Attribute)
		}
		if m.Ref != "" && m.Ref != parent.Name {
			return invalid("auto type %q: referrers: %s.%s refers to %q, not %q", t.Name, pd.Type, pd.Attribute, m.Ref, parent.Name)
		}
		t.Referrers = append(t.Referrers, Path{Type: rt.Name, Attr: m.ID})
	}
	return nil
}

// computePriorities assigns each auto type the length of its longest
// dependency chain and rejects cycles.
func (s *Schema) computePriorities() error {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[attr.ObjectType]int, len(s.types))

	var visit func(t *ObjectType) error
	visit = func(t *ObjectType) error {
		switch state[t.Name] {
		case visiting:
			return invalid("dependency cycle through %q", t.Name)
		case done:
			return nil
		}
		state[t.Name] = visiting
		prio := 0
		for _, name := range t.DependsOn {
			dep, ok := s.types[name]
			if !ok || !dep.IsAuto() {
				return invalid("auto type %q depends on %q, which is not an auto type", t.Name, name)
			}
			if dep.Parent != t.Parent {
				return invalid("auto type %q depends on %q under a different parent", t.Name, name)
			}
			if dep.Gated() {
				return invalid("auto type %q depends on reference-gated type %q", t.Name, name)
			}
			if err := visit(dep); err != nil {
				return err
			}
			prio = max(prio, dep.Priority+1)
		}
		t.Priority = prio
		state[t.Name] = done
		return nil
	}

	for _, name := range s.order {
		if t := s.types[name]; t.IsAuto() {
			if err := visit(t); err != nil {
				return err
			}
		}
	}
	return nil
}

// index builds the reverse lookup tables used by the store and factory.
func (s *Schema) index() {
	for _, name := range s.order {
		t := s.types[name]
		if !t.IsAuto() {
			continue
		}
		s.autoByParent[t.Parent] = append(s.autoByParent[t.Parent], t)
		for _, id := range t.Watch {
			p := Path{Type: t.Parent, Attr: id}
			s.watchers[p] = append(s.watchers[p], t)
		}
		for _, p := range t.Referrers {
			s.gates[p] = append(s.gates[p], t)
		}
	}
	for parent, autos := range s.autoByParent {
		slices.SortStableFunc(autos, func(a, b *ObjectType) int { return a.Priority - b.Priority })
		s.autoByParent[parent] = autos
	}
	for _, name := range s.order {
		t := s.types[name]
		var cs []attr.ObjectType
		if t.Counter {
			cs = append(cs, t.Name)
		}
		for _, a := range s.autoByParent[name] {
			if a.Counter {
				cs = append(cs, a.Name)
			}
		}
		if len(cs) > 0 {
			s.contributors[name] = cs
		}
	}
}

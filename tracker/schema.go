package tracker

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// IDField is the reserved name of the identity field. It is never diffed.
const IDField = "_id"

// ErrNotStruct is returned for values that are not (pointers to) structs.
var ErrNotStruct = errors.New("tracker: entity must be a pointer to a struct")

// class decides how a field value is compared between checks.
type class uint8

const (
	// classExact values are fully described by their hash (bool, ints, floats).
	classExact class = iota
	// classImmutable values are copied by assignment and compared with ==.
	classImmutable
	// classMutable values alias memory; they are compared by serialized
	// snapshot and deep-copied into deltas.
	classMutable
	// classDynamic fields are interface-typed and classified per value.
	classDynamic
)

func (c class) String() string {
	switch c {
	case classExact:
		return "exact"
	case classImmutable:
		return "immutable"
	case classMutable:
		return "mutable"
	case classDynamic:
		return "dynamic"
	}
	return "unknown"
}

// Field describes one persisted field of an entity type.
type Field struct {
	Name  string       // persisted name
	Index []int        // reflect index path, through embedded structs
	Type  reflect.Type // declared Go type
	class class
}

// Nullable reports whether the field can hold a null (nil) value.
func (f *Field) Nullable() bool {
	switch f.Type.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Map, reflect.Interface:
		return true
	}
	return false
}

// Schema is the cached field layout of one entity type.
type Schema struct {
	Type   reflect.Type
	Fields []Field
	// ID is the identity field, or nil when the type has none.
	ID *Field
}

// Field returns the field persisted as name.
func (s *Schema) Field(name string) (*Field, bool) {
	for i := range s.Fields {
		if s.Fields[i].Name == name {
			return &s.Fields[i], true
		}
	}
	if s.ID != nil && s.ID.Name == name {
		return s.ID, true
	}
	return nil, false
}

// Names returns the persisted names of all diffed fields.
func (s *Schema) Names() []string {
	out := make([]string, len(s.Fields))
	for i := range s.Fields {
		out[i] = s.Fields[i].Name
	}
	return out
}

var schemas = xsync.NewMapOf[reflect.Type, *Schema]()

// SchemaOf returns the schema for t, which must be a struct or a pointer to one.
// Results are cached per type.
func SchemaOf(t reflect.Type) (*Schema, error) {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if s, ok := schemas.Load(t); ok {
		return s, nil
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: got %s", ErrNotStruct, t)
	}
	s := buildSchema(t)
	s, _ = schemas.LoadOrStore(t, s)
	return s, nil
}

func buildSchema(t reflect.Type) *Schema {
	s := &Schema{Type: t}
	seen := make(map[string]bool)
	collectFields(s, t, nil, seen)
	return s
}

func collectFields(s *Schema, t reflect.Type, prefix []int, seen map[string]bool) {
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		name, isID, skip := parseTag(sf)
		if skip {
			continue
		}
		index := append(append([]int(nil), prefix...), i)

		if sf.Anonymous && sf.Type.Kind() == reflect.Struct && name == "" {
			collectFields(s, sf.Type, index, seen)
			continue
		}
		if !sf.IsExported() {
			continue
		}
		switch sf.Type.Kind() {
		case reflect.Func, reflect.Chan, reflect.UnsafePointer:
			continue
		}
		if name == "" {
			name = sf.Name
		}
		if seen[name] {
			continue
		}
		seen[name] = true

		f := Field{Name: name, Index: index, Type: sf.Type, class: classify(sf.Type)}
		if isID || name == IDField {
			if s.ID == nil {
				id := f
				s.ID = &id
			}
			continue
		}
		s.Fields = append(s.Fields, f)
	}
}

// parseTag reads `entity:"name,id"` first and falls back to the json tag name.
func parseTag(sf reflect.StructField) (name string, isID, skip bool) {
	if tag, ok := sf.Tag.Lookup("entity"); ok {
		if tag == "-" {
			return "", false, true
		}
		parts := strings.Split(tag, ",")
		name = parts[0]
		for _, opt := range parts[1:] {
			if opt == "id" {
				isID = true
			}
		}
		if name != "" {
			return name, isID, false
		}
	}
	if tag, ok := sf.Tag.Lookup("json"); ok {
		if tag == "-" {
			return "", false, true
		}
		if n, _, _ := strings.Cut(tag, ","); n != "" {
			name = n
		}
	}
	return name, isID, false
}

var timeType = reflect.TypeOf(time.Time{})

func classify(t reflect.Type) class {
	if t == timeType {
		return classImmutable
	}
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64:
		return classExact
	case reflect.String, reflect.Complex64, reflect.Complex128:
		return classImmutable
	case reflect.Interface:
		return classDynamic
	case reflect.Array:
		if c := classify(t.Elem()); c == classExact || c == classImmutable {
			return classImmutable
		}
		return classMutable
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if c := classify(t.Field(i).Type); c != classExact && c != classImmutable {
				return classMutable
			}
		}
		return classImmutable
	}
	return classMutable
}

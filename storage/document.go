package storage

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"

	"github.com/google/uuid"

	"github.com/IvanBrykalov/writebehind/entity"
	"github.com/IvanBrykalov/writebehind/tracker"
)

// Document is the stored form of an entity: a JSON object whose keys are the
// persisted field names the tracker uses, so deltas apply key-for-key.
type Document map[string]json.RawMessage

var jsonNull = json.RawMessage("null")

// Encode renders every persisted field of e, including the identity.
func Encode(e entity.Entity) (Document, error) {
	rv := reflect.ValueOf(e)
	s, err := tracker.SchemaOf(rv.Type())
	if err != nil {
		return nil, err
	}
	sv := rv.Elem()

	doc := make(Document, len(s.Fields)+1)
	if s.ID != nil {
		if err := doc.put(s.ID.Name, sv.FieldByIndex(s.ID.Index).Interface()); err != nil {
			return nil, err
		}
	}
	for i := range s.Fields {
		f := &s.Fields[i]
		if err := doc.put(f.Name, sv.FieldByIndex(f.Index).Interface()); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

// ParseDocument decodes stored bytes.
func ParseDocument(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("storage: decode document: %w", err)
	}
	return doc, nil
}

// Bytes returns the JSON encoding of doc.
func (d Document) Bytes() ([]byte, error) { return json.Marshal(d) }

// Clone returns a copy that shares no maps with d.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Apply writes delta into d. Cleared fields are stored as null.
func (d Document) Apply(delta tracker.Delta) error {
	for _, c := range delta.Changes() {
		if c.Cleared {
			d[c.Field] = jsonNull
			continue
		}
		if err := d.put(c.Field, c.Value); err != nil {
			return err
		}
	}
	return nil
}

// Decode builds a fresh entity of kind from d. Unknown keys are ignored and
// missing keys leave the field at its zero value.
func (d Document) Decode(kind entity.Descriptor) (entity.Entity, error) {
	e := kind.New()
	rv := reflect.ValueOf(e)
	s, err := tracker.SchemaOf(rv.Type())
	if err != nil {
		return nil, err
	}
	sv := rv.Elem()

	fields := s.Fields
	if s.ID != nil {
		fields = append([]tracker.Field{*s.ID}, fields...)
	}
	for i := range fields {
		f := &fields[i]
		raw, ok := d[f.Name]
		if !ok {
			continue
		}
		dst := sv.FieldByIndex(f.Index).Addr().Interface()
		if err := json.Unmarshal(raw, dst); err != nil {
			return nil, fmt.Errorf("storage: decode %s.%s: %w", kind.Name(), f.Name, err)
		}
	}
	return e, nil
}

func (d Document) put(field string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("storage: encode field %s: %w", field, err)
	}
	d[field] = raw
	return nil
}

// KeyString renders a primary key for use in store keys.
func KeyString(pk any) string {
	switch v := pk.(type) {
	case string:
		return v
	case uuid.UUID:
		return v.String()
	case fmt.Stringer:
		return v.String()
	}
	return fmt.Sprint(pk)
}

// SortedKeys returns the keys of m in order, for deterministic listings.
func SortedKeys[V any](m map[string]V) []string {
	ks := make([]string, 0, len(m))
	for k := range m {
		ks = append(ks, k)
	}
	sort.Strings(ks)
	return ks
}

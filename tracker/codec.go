package tracker

import (
	"encoding/json"
	"reflect"
)

// SnapshotCodec turns a field value into a canonical serialized form and
// back. Equal values must serialize to equal bytes; the default JSON codec
// satisfies that because encoding/json sorts map keys.
type SnapshotCodec interface {
	Marshal(v any) ([]byte, error)
	// Unmarshal decodes data into a fresh value of type t and returns it.
	Unmarshal(data []byte, t reflect.Type) (any, error)
}

// JSONCodec is the default SnapshotCodec.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (JSONCodec) Unmarshal(data []byte, t reflect.Type) (any, error) {
	ptr := reflect.New(t)
	if err := json.Unmarshal(data, ptr.Interface()); err != nil {
		return nil, err
	}
	return ptr.Elem().Interface(), nil
}

var _ SnapshotCodec = JSONCodec{}

package tracker

import (
	"math"
	"reflect"

	"github.com/cespare/xxhash/v2"

	"github.com/IvanBrykalov/writebehind/internal/util"
)

const maxHashDepth = 8

// cheapHash computes a fast fingerprint of v without serializing it.
//
// Scalars hash to their bit pattern, strings through xxhash. Containers hash
// their identity (pointer, length, capacity), so an in-place mutation keeps
// the hash and must be caught by the snapshot comparison.
func cheapHash(v reflect.Value, depth int) uint64 {
	switch v.Kind() {
	case reflect.Bool:
		if v.Bool() {
			return 1
		}
		return 0
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return uint64(v.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint()
	case reflect.Float32, reflect.Float64:
		return math.Float64bits(v.Float())
	case reflect.Complex64, reflect.Complex128:
		c := v.Complex()
		return util.Mix(math.Float64bits(real(c)), math.Float64bits(imag(c)))
	case reflect.String:
		return xxhash.Sum64String(v.String())
	case reflect.Pointer, reflect.UnsafePointer, reflect.Chan, reflect.Func:
		if v.IsNil() {
			return 0
		}
		return uint64(v.Pointer())
	case reflect.Slice:
		if v.IsNil() {
			return 0
		}
		return util.Mix(util.Mix(uint64(v.Pointer()), uint64(v.Len())), uint64(v.Cap()))
	case reflect.Map:
		if v.IsNil() {
			return 0
		}
		return util.Mix(uint64(v.Pointer()), uint64(v.Len()))
	case reflect.Interface:
		if v.IsNil() {
			return 0
		}
		e := v.Elem()
		return util.Mix(xxhash.Sum64String(e.Type().String()), cheapHash(e, depth+1))
	case reflect.Array:
		if depth >= maxHashDepth {
			return uint64(v.Len())
		}
		h := uint64(v.Len())
		for i := 0; i < v.Len(); i++ {
			h = util.Mix(h, cheapHash(v.Index(i), depth+1))
		}
		return h
	case reflect.Struct:
		if depth >= maxHashDepth {
			return uint64(v.NumField())
		}
		h := uint64(v.NumField())
		for i := 0; i < v.NumField(); i++ {
			h = util.Mix(h, cheapHash(v.Field(i), depth+1))
		}
		return h
	}
	return 0
}

// Package util contains internal helpers (hashing, lane sizing, padding).
//
//revive:disable:var-naming  // allow 'util' as an internal helpers package name
package util

import (
	"fmt"
	"math/rand/v2"
	"reflect"

	"github.com/cespare/xxhash/v2"
)

// RouteHash maps an arbitrary routing key to a 64-bit hash used for lane selection.
//
//   - nil keys get a random hash (some lane, no ordering against other nil keys)
//   - integer keys (any int/uint kind, including named types) hash to their own value,
//     so sequential ids spread round-robin across lanes
//   - strings, byte slices and fmt.Stringer values are hashed with xxhash
//   - any other value is hashed through its Go-syntax representation
func RouteHash(key any) uint64 {
	switch v := key.(type) {
	case nil:
		return rand.Uint64()
	case int:
		return uint64(v)
	case int8:
		return uint64(v)
	case int16:
		return uint64(v)
	case int32:
		return uint64(v)
	case int64:
		return uint64(v)
	case uint:
		return uint64(v)
	case uint8:
		return uint64(v)
	case uint16:
		return uint64(v)
	case uint32:
		return uint64(v)
	case uint64:
		return v
	case uintptr:
		return uint64(v)
	case string:
		return xxhash.Sum64String(v)
	case []byte:
		return xxhash.Sum64(v)
	case fmt.Stringer:
		return xxhash.Sum64String(v.String())
	}

	// Named integer types (e.g. type PlayerID int64) route by value too.
	rv := reflect.ValueOf(key)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return uint64(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint()
	case reflect.String:
		return xxhash.Sum64String(rv.String())
	}
	return xxhash.Sum64String(fmt.Sprintf("%#v", key))
}

// Mix folds v into the running hash h (xxhash-style avalanche on 64-bit words).
// Used to combine cheap fingerprints without allocating.
func Mix(h, v uint64) uint64 {
	const (
		prime1 = 11400714785074694791
		prime2 = 14029467366897019727
	)
	h ^= v * prime2
	h = (h<<31 | h>>33) * prime1
	return h
}

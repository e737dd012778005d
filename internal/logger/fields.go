package logger

import "log/slog"

// Standard field keys. Use these consistently so log lines can be queried by
// entity kind, key and lane.
const (
	KeyPool     = "pool"     // executor pool name: io, cpu
	KeyLane     = "lane"     // lane name, e.g. io-p3
	KeyKind     = "kind"     // entity kind (collection) name
	KeyKey      = "key"      // primary key
	KeyRoute    = "route"    // routing key
	KeyOp       = "op"       // storage operation: insert, replace, update, delete
	KeyField    = "field"    // persisted field name
	KeyCount    = "count"    // number of items in a batch
	KeyExpected = "expected" // expected affected documents
	KeyActual   = "actual"   // actual affected documents
	KeyReason   = "reason"   // eviction reason
	KeyDuration = "duration" // elapsed time
	KeyError    = "error"
)

// Err returns an slog attribute for err under KeyError.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}

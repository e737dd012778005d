package tracker

// Fingerprints is the per-entity diffing state: for each persisted field, the
// last observed cheap hash plus, for types whose hash is not conclusive, the
// last observed snapshot.
//
// It lives inside the entity it describes (see entity.Base) and is never
// persisted. The zero value is ready to use. Like the entity's own fields it
// must only be touched from the entity's routing lane.
type Fingerprints struct {
	hashes    map[string]uint64
	snapshots map[string]snapshot
}

// snapshot is either serialized bytes (mutable values) or the value itself
// (immutable wide values such as strings, times and UUIDs).
type snapshot struct {
	data  []byte
	value any
}

// Tracked is implemented by anything whose fields the Tracker diffs.
// entity.Base provides it for embedding types.
type Tracked interface {
	Fingerprints() *Fingerprints
}

// Len returns the number of fields with recorded state.
func (f *Fingerprints) Len() int { return len(f.hashes) }

// Has reports whether field has recorded state.
func (f *Fingerprints) Has(field string) bool {
	_, h := f.hashes[field]
	_, s := f.snapshots[field]
	return h || s
}

// Reset forgets all recorded state; the next check proposes every field.
func (f *Fingerprints) Reset() {
	f.hashes = nil
	f.snapshots = nil
}

func (f *Fingerprints) hash(field string) (uint64, bool) {
	h, ok := f.hashes[field]
	return h, ok
}

func (f *Fingerprints) setHash(field string, h uint64) {
	if f.hashes == nil {
		f.hashes = make(map[string]uint64)
	}
	f.hashes[field] = h
}

func (f *Fingerprints) snapshot(field string) (snapshot, bool) {
	s, ok := f.snapshots[field]
	return s, ok
}

func (f *Fingerprints) setSnapshot(field string, s snapshot) {
	if f.snapshots == nil {
		f.snapshots = make(map[string]snapshot)
	}
	f.snapshots[field] = s
}

func (f *Fingerprints) dropSnapshot(field string) {
	delete(f.snapshots, field)
}

func (f *Fingerprints) forget(field string) {
	delete(f.hashes, field)
	delete(f.snapshots, field)
}

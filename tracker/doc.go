// Package tracker detects which persisted fields of an entity changed since
// the last check.
//
// For every field the tracker keeps a cheap hash and, where the hash alone is
// not conclusive, a snapshot:
//
//   - bool, integer and float fields hash to their bit pattern, so a matching
//     hash proves equality;
//   - strings, times, UUIDs and other value types keep their last value, which
//     settles what the hash cannot;
//   - slices, maps, pointers and structs holding them are hashed by identity
//     and confirmed with a serialized snapshot, which catches in-place
//     mutation. Their delta values are deep copies.
//
// A field that was non-null and is now null yields a "clear" entry once.
// Field names come from the `entity` struct tag, then the `json` tag, then the
// Go field name; the identity field (`_id`) is never diffed.
package tracker

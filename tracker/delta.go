package tracker

// Change is one field-level entry of a Delta: either "set Field to Value" or,
// when Cleared is true, "set Field to null".
type Change struct {
	Field   string
	Value   any
	Cleared bool
}

// Delta is the ordered set of field changes found by one dirty check.
// Entries follow the entity's field declaration order.
type Delta struct {
	changes []Change
}

// Set appends a "set field to v" entry.
func (d *Delta) Set(field string, v any) {
	d.changes = append(d.changes, Change{Field: field, Value: v})
}

// Clear appends a "set field to null" entry.
func (d *Delta) Clear(field string) {
	d.changes = append(d.changes, Change{Field: field, Cleared: true})
}

// Changes returns the entries in order. The slice must not be modified.
func (d Delta) Changes() []Change { return d.changes }

// Len returns the number of entries.
func (d Delta) Len() int { return len(d.changes) }

// IsEmpty reports whether nothing changed.
func (d Delta) IsEmpty() bool { return len(d.changes) == 0 }

// Fields returns the names of the changed fields in order.
func (d Delta) Fields() []string {
	out := make([]string, len(d.changes))
	for i, c := range d.changes {
		out[i] = c.Field
	}
	return out
}

// Get returns the entry for field, if present.
func (d Delta) Get(field string) (Change, bool) {
	for _, c := range d.changes {
		if c.Field == field {
			return c, true
		}
	}
	return Change{}, false
}

// ToMap renders the delta as field -> value, with cleared fields mapped to nil.
func (d Delta) ToMap() map[string]any {
	m := make(map[string]any, len(d.changes))
	for _, c := range d.changes {
		if c.Cleared {
			m[c.Field] = nil
			continue
		}
		m[c.Field] = c.Value
	}
	return m
}

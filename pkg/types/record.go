// Package types provides the shared column and record types for moisturizer.
package types

// Record is a single stored object: column name to value. Records are the
// generic "named columns + values" shape every backend reads and writes.
type Record map[string]any

// Key returns the record's value for the key column of rt as a string.
func (r Record) Key(rt *RecordType) (string, error) {
	key, ok := rt.KeyColumn()
	if !ok {
		return "", ErrNoKeyColumn
	}
	v, ok := r[key.Name].(string)
	if !ok || v == "" {
		return "", ErrMissingKey
	}
	return v, nil
}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

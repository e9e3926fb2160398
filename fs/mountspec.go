package fs

import "sort"

// MountSpec is an immutable set of typed key→string pairs identifying
// a mountable target, e.g. {"type": "sftp", "host": "h", "user": "u"}.
// Holders share one instance by pointer; MountSpec keeps no reference
// count of its own. Once constructed a
// MountSpec is never mutated; NewMountSpec copies its input so later
// changes to the caller's map cannot leak through.
type MountSpec struct {
	entries map[string]string
}

// NewMountSpec builds a MountSpec from a plain map, copying it so the
// result is safe to share across goroutines without locking.
func NewMountSpec(entries map[string]string) *MountSpec {
	copied := make(map[string]string, len(entries))
	for k, v := range entries {
		copied[k] = v
	}
	return &MountSpec{entries: copied}
}

// Get returns the value for key and whether it was present.
func (m *MountSpec) Get(key string) (string, bool) {
	if m == nil {
		return "", false
	}
	v, ok := m.entries[key]
	return v, ok
}

// Type is shorthand for Get("type"); every mount spec in the broker
// carries a "type" key identifying which backend it routes to.
func (m *MountSpec) Type() string {
	v, _ := m.Get("type")
	return v
}

// Require returns the value for key, or an INVALID_ARGUMENT error
// naming key if it is absent. Backends use this for mandatory
// mount-spec keys such as "host".
func (m *MountSpec) Require(key string) (string, error) {
	v, ok := m.Get(key)
	if !ok || v == "" {
		return "", Errorf(KindInvalidArgument, "mount spec is missing required key %q", key)
	}
	return v, nil
}

// Equal reports whether two mount specs carry the same key/value
// pairs, used by the mount registry to recognise an existing mount.
func (m *MountSpec) Equal(other *MountSpec) bool {
	if m == nil || other == nil {
		return m == other
	}
	if len(m.entries) != len(other.entries) {
		return false
	}
	for k, v := range m.entries {
		if ov, ok := other.entries[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// Fingerprint returns a stable string encoding of the spec's entries,
// suitable as a cache or map key (the mount registry's LRU keys on
// this, see mount.Registry).
func (m *MountSpec) Fingerprint() string {
	if m == nil {
		return ""
	}
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]byte, 0, 64)
	for _, k := range keys {
		out = append(out, k...)
		out = append(out, '=')
		out = append(out, m.entries[k]...)
		out = append(out, ';')
	}
	return string(out)
}

// Map returns a copy of the spec's entries.
func (m *MountSpec) Map() map[string]string {
	out := make(map[string]string, len(m.entries))
	for k, v := range m.entries {
		out[k] = v
	}
	return out
}

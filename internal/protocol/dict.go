package protocol

// Dict is a key/value dictionary that preserves insertion order.
// The game client reads some payloads positionally (list entries must
// precede their "foo.[]" count key), so emission order matters.
type Dict struct {
	keys   []string
	values map[string]string
}

// NewDict creates an empty Dict.
func NewDict() *Dict {
	return &Dict{values: make(map[string]string)}
}

// DictOf builds a Dict from alternating key, value strings.
func DictOf(pairs ...string) *Dict {
	if len(pairs)%2 != 0 {
		panic("protocol.DictOf: odd number of arguments")
	}
	d := NewDict()
	for i := 0; i < len(pairs); i += 2 {
		d.Set(pairs[i], pairs[i+1])
	}
	return d
}

// Set stores value under key. Re-setting an existing key keeps its
// original position.
func (d *Dict) Set(key, value string) {
	if _, ok := d.values[key]; !ok {
		d.keys = append(d.keys, key)
	}
	d.values[key] = value
}

// Get returns the value for key, or "" if absent.
func (d *Dict) Get(key string) string {
	return d.values[key]
}

// Lookup returns the value for key and whether it was present.
func (d *Dict) Lookup(key string) (string, bool) {
	v, ok := d.values[key]
	return v, ok
}

// Has reports whether key is present.
func (d *Dict) Has(key string) bool {
	_, ok := d.values[key]
	return ok
}

// Len returns the number of entries.
func (d *Dict) Len() int {
	return len(d.keys)
}

// Keys returns the keys in insertion order. The returned slice is shared;
// callers must not mutate it.
func (d *Dict) Keys() []string {
	return d.keys
}

// Equal reports whether two dicts hold the same entries in the same order.
func (d *Dict) Equal(other *Dict) bool {
	if d.Len() != other.Len() {
		return false
	}
	for i, k := range d.keys {
		if other.keys[i] != k || other.values[k] != d.values[k] {
			return false
		}
	}
	return true
}

// Clone returns an independent copy.
func (d *Dict) Clone() *Dict {
	c := NewDict()
	for _, k := range d.keys {
		c.Set(k, d.values[k])
	}
	return c
}

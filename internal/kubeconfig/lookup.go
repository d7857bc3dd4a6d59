package kubeconfig

// Record is anything that can be looked up by name in a config list.
type Record interface {
	RecordName() string
}

// nester is implemented by loosely typed records that may carry a named
// sub-object, like the raw "cluster:" body of a clusters entry.
type nester[T any] interface {
	Nested(key string) (T, bool)
}

// Lookup is the result of FindObject.
//
//	Found == false         no record has the name; Item is the zero value
//	Found, Nested == true  Item is the record's sub-object under the key
//	Found, Nested == false the record has no such sub-object; Item is the record
type Lookup[T any] struct {
	Item   T
	Nested bool
	Found  bool
}

// FindObject scans list in order and returns the first record named name.
// If that record exposes a sub-object under key, the sub-object is returned
// instead of the record itself.
func FindObject[T Record](list []T, name, key string) Lookup[T] {
	for _, item := range list {
		if item.RecordName() != name {
			continue
		}
		if n, ok := any(item).(nester[T]); ok {
			if sub, ok := n.Nested(key); ok {
				return Lookup[T]{Item: sub, Nested: true, Found: true}
			}
		}
		return Lookup[T]{Item: item, Found: true}
	}
	return Lookup[T]{}
}

// Entry is a loosely typed config record, as produced by decoding a config
// list item into a generic map. The Store keeps typed records, so Entry is
// for callers holding raw kubeconfig YAML or JSON that want the same
// first-match and nested lookup rules, e.g. FindObject(entries, "prod",
// "cluster") on the decoded "clusters" list.
type Entry map[string]any

// RecordName implements Record.
func (e Entry) RecordName() string {
	name, _ := e["name"].(string)
	return name
}

// Nested returns the map stored under key, if any.
func (e Entry) Nested(key string) (Entry, bool) {
	switch v := e[key].(type) {
	case Entry:
		return v, v != nil
	case map[string]any:
		return Entry(v), v != nil
	default:
		return nil, false
	}
}

package rtdb

import (
	"encoding/json"
	"sort"
)

// ChildSnapshot carries one direct child of a snapshotted path.
type ChildSnapshot struct {
	Key string
	Raw json.RawMessage
}

// Snapshot is a point-in-time view of a path's direct children, ordered by
// key unless a Query reordered them. Snapshots are always complete: listeners
// receive the full child set on every change, never a partial patch.
type Snapshot struct {
	Path     string
	Children []ChildSnapshot
}

// HasChildren reports whether the snapshot holds at least one child.
func (s Snapshot) HasChildren() bool {
	return len(s.Children) > 0
}

// Decode unmarshals the child with the given key into target.
func (s Snapshot) Decode(key string, target any) error {
	for _, child := range s.Children {
		if child.Key == key {
			return json.Unmarshal(child.Raw, target)
		}
	}
	return ErrNodeNotFound
}

// Query adjusts how subscription and read snapshots order and bound their
// children. The zero value means key order with no limit.
type Query struct {
	// OrderBy names a top-level field inside each child document; children
	// are ordered ascending by that field's value.
	OrderBy string
	// LimitToLast keeps only the trailing n children after ordering.
	LimitToLast int
}

func (q Query) apply(children []ChildSnapshot) []ChildSnapshot {
	ordered := children
	if q.OrderBy != "" {
		ordered = make([]ChildSnapshot, len(children))
		copy(ordered, children)
		sort.SliceStable(ordered, func(i, j int) bool {
			return compareOrderValues(orderValue(ordered[i].Raw, q.OrderBy), orderValue(ordered[j].Raw, q.OrderBy))
		})
	}
	if q.LimitToLast > 0 && len(ordered) > q.LimitToLast {
		ordered = ordered[len(ordered)-q.LimitToLast:]
	}
	return ordered
}

func orderValue(raw json.RawMessage, field string) any {
	var document map[string]any
	if err := json.Unmarshal(raw, &document); err != nil {
		return nil
	}
	return document[field]
}

// compareOrderValues ranks nil < number < string, matching how the hosted
// realtime stores order mixed-type children.
func compareOrderValues(left, right any) bool {
	leftNumber, leftIsNumber := left.(float64)
	rightNumber, rightIsNumber := right.(float64)
	if leftIsNumber && rightIsNumber {
		return leftNumber < rightNumber
	}
	leftString, leftIsString := left.(string)
	rightString, rightIsString := right.(string)
	if leftIsString && rightIsString {
		return leftString < rightString
	}
	return rank(left) < rank(right)
}

func rank(value any) int {
	switch value.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case float64:
		return 2
	case string:
		return 3
	default:
		return 4
	}
}

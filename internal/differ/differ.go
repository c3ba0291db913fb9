// Package differ computes add/update/delete change events between two
// snapshots of a namespace's configuration items.
package differ

import "sort"

// Action identifies the kind of change a ChangeEvent represents.
type Action int

const (
	// Add means the key is new in the newer snapshot.
	Add Action = iota
	// Update means the key's value changed between snapshots.
	Update
	// Delete means the key was present in the older snapshot only.
	Delete
)

func (a Action) String() string {
	switch a {
	case Add:
		return "ADD"
	case Update:
		return "UPDATE"
	case Delete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// ChangeEvent describes a single key's change within one namespace.
type ChangeEvent struct {
	Namespace string
	Key       string
	NewValue  string
	Action    Action
}

// Diff compares oldItems against newItems for namespace ns and returns
// the events needed to turn oldItems into newItems: a DELETE for every
// key dropped, an UPDATE for every key whose value changed, and an ADD
// for every key introduced. Equal maps produce a nil slice. Event
// order is deterministic for identical inputs: deletes and updates are
// emitted in sorted key order, followed by adds in sorted key order.
func Diff(ns string, oldItems, newItems map[string]string) []ChangeEvent {
	var events []ChangeEvent

	oldKeys := sortedKeys(oldItems)
	for _, k := range oldKeys {
		oldVal := oldItems[k]
		newVal, ok := newItems[k]
		if !ok {
			events = append(events, ChangeEvent{Namespace: ns, Key: k, Action: Delete})
			continue
		}
		if newVal != oldVal {
			events = append(events, ChangeEvent{Namespace: ns, Key: k, NewValue: newVal, Action: Update})
		}
	}

	newKeys := sortedKeys(newItems)
	for _, k := range newKeys {
		if _, ok := oldItems[k]; !ok {
			events = append(events, ChangeEvent{Namespace: ns, Key: k, NewValue: newItems[k], Action: Add})
		}
	}

	return events
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

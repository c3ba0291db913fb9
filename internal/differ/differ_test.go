package differ

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiff(t *testing.T) {
	t.Run("no changes yields nil", func(t *testing.T) {
		events := Diff("ns", map[string]string{"a": "1"}, map[string]string{"a": "1"})
		assert.Nil(t, events)
	})

	t.Run("add update delete, in deterministic order", func(t *testing.T) {
		old := map[string]string{"del": "x", "upd": "old", "same": "1"}
		newer := map[string]string{"upd": "new", "same": "1", "add": "y"}

		events := Diff("ns", old, newer)
		assert.Equal(t, []ChangeEvent{
			{Namespace: "ns", Key: "del", Action: Delete},
			{Namespace: "ns", Key: "upd", NewValue: "new", Action: Update},
			{Namespace: "ns", Key: "add", NewValue: "y", Action: Add},
		}, events)
	})

	t.Run("empty old is all adds", func(t *testing.T) {
		events := Diff("ns", nil, map[string]string{"a": "1", "b": "2"})
		assert.Equal(t, []ChangeEvent{
			{Namespace: "ns", Key: "a", NewValue: "1", Action: Add},
			{Namespace: "ns", Key: "b", NewValue: "2", Action: Add},
		}, events)
	})

	t.Run("empty new is all deletes", func(t *testing.T) {
		events := Diff("ns", map[string]string{"a": "1", "b": "2"}, nil)
		assert.Equal(t, []ChangeEvent{
			{Namespace: "ns", Key: "a", Action: Delete},
			{Namespace: "ns", Key: "b", Action: Delete},
		}, events)
	})
}

func TestActionString(t *testing.T) {
	assert.Equal(t, "ADD", Add.String())
	assert.Equal(t, "UPDATE", Update.String())
	assert.Equal(t, "DELETE", Delete.String())
	assert.Equal(t, "UNKNOWN", Action(99).String())
}

package cache

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetByKeyPriority(t *testing.T) {
	c := New()
	c.Upsert(Entry{Name: "ns1", Items: map[string]string{"a": "from-ns1"}})
	c.Upsert(Entry{Name: "ns2", Items: map[string]string{"a": "from-ns2"}})

	r, ok := c.GetByKey("a")
	require.True(t, ok)
	assert.Equal(t, "from-ns2", r.Value)
	assert.Equal(t, "ns2", r.Namespace)
}

func TestGetFromNamespace(t *testing.T) {
	c := New()
	c.Upsert(Entry{Name: "ns1", Items: map[string]string{"a": "1"}})
	c.Upsert(Entry{Name: "ns2", Items: map[string]string{"a": "2"}})

	r, ok := c.GetFromNamespace("a", "ns1")
	require.True(t, ok)
	assert.Equal(t, "1", r.Value)

	_, ok = c.GetFromNamespace("missing", "ns1")
	assert.False(t, ok)

	_, ok = c.GetFromNamespace("a", "nope")
	assert.False(t, ok)
}

func TestUpsertPreservesOrdinalPosition(t *testing.T) {
	c := New()
	c.Upsert(Entry{Name: "ns1", Items: map[string]string{"a": "1"}})
	c.Upsert(Entry{Name: "ns2", Items: map[string]string{"b": "2"}})
	inserted := c.Upsert(Entry{Name: "ns1", Items: map[string]string{"a": "1-updated"}})
	assert.False(t, inserted)
	assert.Equal(t, []string{"ns1", "ns2"}, c.Names())

	r, ok := c.GetByKey("a")
	require.True(t, ok)
	assert.Equal(t, "1-updated", r.Value)

	r2, ok := c.GetByKey("b")
	require.True(t, ok)
	assert.Equal(t, "ns2", r2.Namespace)
}

func TestObserveIfAbsent(t *testing.T) {
	c := New()
	assert.True(t, c.ObserveIfAbsent(Entry{Name: "ns1", Items: map[string]string{"a": "1"}}))
	assert.False(t, c.ObserveIfAbsent(Entry{Name: "ns1", Items: map[string]string{"a": "2"}}))

	r, _ := c.GetByKey("a")
	assert.Equal(t, "1", r.Value)
}

func TestObserveIfAbsentConcurrentInsertsOnlyOne(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	results := make([]bool, 10)
	for i := 0; i < 10; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = c.ObserveIfAbsent(Entry{Name: "ns1", Items: map[string]string{"a": "1"}})
		}()
	}
	wg.Wait()

	inserted := 0
	for _, r := range results {
		if r {
			inserted++
		}
	}
	assert.Equal(t, 1, inserted)
	assert.Equal(t, []string{"ns1"}, c.Names())
}

func TestUpdateNotificationID(t *testing.T) {
	c := New()
	c.Upsert(Entry{Name: "ns1", NotificationID: 1})
	c.UpdateNotificationID("ns1", 2)

	e, ok := c.Get("ns1")
	require.True(t, ok)
	assert.Equal(t, int64(2), e.NotificationID)

	// no-op for unknown namespace
	c.UpdateNotificationID("unknown", 5)
}

func TestCloneIsolatesCallers(t *testing.T) {
	c := New()
	c.Upsert(Entry{Name: "ns1", Items: map[string]string{"a": "1"}})

	e, _ := c.Get("ns1")
	e.Items["a"] = "mutated"

	r, _ := c.GetByKey("a")
	assert.Equal(t, "1", r.Value)
}

func TestHasNamesNotificationsSnapshotReleaseKeys(t *testing.T) {
	c := New()
	assert.False(t, c.Has("ns1"))

	c.Upsert(Entry{Name: "ns1", ReleaseKey: "rk1", NotificationID: 10})
	c.Upsert(Entry{Name: "ns2", ReleaseKey: "rk2", NotificationID: 20})

	assert.True(t, c.Has("ns1"))
	assert.Equal(t, []string{"ns1", "ns2"}, c.Names())
	assert.Equal(t, []NotificationState{
		{Namespace: "ns1", NotificationID: 10},
		{Namespace: "ns2", NotificationID: 20},
	}, c.Notifications())
	assert.Equal(t, map[string]string{"ns1": "rk1", "ns2": "rk2"}, c.SnapshotReleaseKeys())
}

func TestClear(t *testing.T) {
	c := New()
	c.Upsert(Entry{Name: "ns1"})
	c.Clear()
	assert.False(t, c.Has("ns1"))
	assert.Empty(t, c.Names())
}

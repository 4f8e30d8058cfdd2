package events_test

import (
	"testing"

	"github.com/habedi/fcrollback/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopic_DeliversInRegistrationOrder(t *testing.T) {
	topic := events.NewTopic[int]("test")
	var order []string

	topic.Subscribe("first", func(v int) { order = append(order, "first") })
	topic.Subscribe("second", func(v int) { order = append(order, "second") })
	topic.Publish(1)

	assert.Equal(t, []string{"first", "second"}, order)
}

func TestTopic_SubscribeIsIdempotent(t *testing.T) {
	topic := events.NewTopic[string]("test")
	calls := 0
	fn := func(string) { calls++ }

	topic.Subscribe("table", fn)
	topic.Subscribe("table", fn)
	topic.Publish("x")

	assert.Equal(t, 1, topic.Len())
	assert.Equal(t, 1, calls)
}

func TestTopic_DuplicateHandleKeepsFirstListener(t *testing.T) {
	topic := events.NewTopic[int]("test")
	calls := 0
	first := topic.Subscribe("table", func(int) { calls++ })

	topic.Subscribe("table", func(int) {}).Close()
	topic.Publish(1)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, topic.Len())

	// a stale handle never removes a later registration under the same key
	first.Close()
	topic.Subscribe("table", func(int) { calls += 10 })
	first.Close()
	topic.Publish(2)
	assert.Equal(t, 11, calls)
}

func TestTopic_PanickingListenerDoesNotStopOthers(t *testing.T) {
	topic := events.NewTopic[events.ColumnsChange]("columns")
	var got []string

	topic.Subscribe("bad", func(events.ColumnsChange) { panic("listener bug") })
	topic.Subscribe("good", func(c events.ColumnsChange) { got = c.Columns })

	require.NotPanics(t, func() {
		topic.Publish(events.ColumnsChange{TabKey: "Squads", Columns: []string{"Name", "Size"}})
	})
	assert.Equal(t, []string{"Name", "Size"}, got)
}

func TestHandle_Close(t *testing.T) {
	topic := events.NewTopic[int]("test")
	calls := 0
	h := topic.Subscribe("panel", func(int) { calls++ })

	h.Close()
	h.Close()
	topic.Publish(1)

	assert.Equal(t, 0, calls)
	assert.Equal(t, 0, topic.Len())
}

func TestTopic_ListenerMayUnsubscribeDuringPublish(t *testing.T) {
	topic := events.NewTopic[int]("test")
	var h events.Handle
	h = topic.Subscribe("once", func(int) { h.Close() })

	require.NotPanics(t, func() { topic.Publish(1) })
	assert.Equal(t, 0, topic.Len())
}

func TestNewBus(t *testing.T) {
	bus := events.NewBus()
	var refreshed string
	bus.CatalogRefreshRequested.Subscribe("tables", func(r events.CatalogRefresh) { refreshed = r.TitleID })

	bus.CatalogRefreshRequested.Publish(events.CatalogRefresh{TitleID: "FC24", Reason: "install"})
	assert.Equal(t, "FC24", refreshed)
	assert.Equal(t, "catalog-refresh-requested", bus.CatalogRefreshRequested.Name())
}

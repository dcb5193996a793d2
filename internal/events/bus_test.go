package events_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/esewa-checkout/internal/events"
)

type memStore struct {
	inserted []events.Event
	err      error
}

func (m *memStore) InsertDomainEvent(_ context.Context, topic string, aggregateID int64, payload []byte) (events.Event, error) {
	if m.err != nil {
		return events.Event{}, m.err
	}
	ev := events.Event{ID: int64(len(m.inserted) + 1), Topic: topic, AggregateID: aggregateID, Payload: payload}
	m.inserted = append(m.inserted, ev)
	return ev, nil
}

type recordingNotifier struct {
	seen []events.Event
	err  error
}

func (n *recordingNotifier) Notify(_ context.Context, ev events.Event) error {
	n.seen = append(n.seen, ev)
	return n.err
}

func TestEmitPersistsAndNotifies(t *testing.T) {
	store := &memStore{}
	notifier := &recordingNotifier{}
	bus := &events.Bus{Store: store, Notifiers: []events.Notifier{notifier}}

	ev, err := bus.Emit(context.Background(), events.TopicOrderPaid, 42, map[string]any{"order_number": "ESW-8K4J2M1Q"})
	require.NoError(t, err)
	require.Equal(t, events.TopicOrderPaid, ev.Topic)
	require.EqualValues(t, 42, ev.AggregateID)
	require.JSONEq(t, `{"order_number":"ESW-8K4J2M1Q"}`, string(ev.Payload))
	require.Len(t, store.inserted, 1)
	require.Len(t, notifier.seen, 1)
}

func TestEmitValidates(t *testing.T) {
	bus := &events.Bus{Store: &memStore{}}

	_, err := bus.Emit(context.Background(), "", 42, nil)
	require.Error(t, err)

	_, err = bus.Emit(context.Background(), events.TopicOrderPaid, 0, nil)
	require.Error(t, err)
}

func TestEmitRejectsUnknownTopic(t *testing.T) {
	bus := &events.Bus{Store: &memStore{}, Topics: events.DefaultTopics()}

	_, err := bus.Emit(context.Background(), "order.shipped", 42, nil)
	require.Error(t, err)

	_, err = bus.Emit(context.Background(), events.TopicPaymentFailed, 42, nil)
	require.NoError(t, err)
}

func TestEmitNilPayload(t *testing.T) {
	store := &memStore{}
	bus := &events.Bus{Store: store}

	ev, err := bus.Emit(context.Background(), events.TopicOrderPaid, 42, nil)
	require.NoError(t, err)
	require.Equal(t, "{}", string(ev.Payload))
}

func TestEmitCollectsNotifierErrors(t *testing.T) {
	store := &memStore{}
	failing := &recordingNotifier{err: errors.New("smtp down")}
	ok := &recordingNotifier{}
	bus := &events.Bus{Store: store, Notifiers: []events.Notifier{failing, ok}}

	ev, err := bus.Emit(context.Background(), events.TopicOrderPaid, 42, nil)
	require.Error(t, err)
	// The event is persisted and every notifier still runs.
	require.Len(t, store.inserted, 1)
	require.Len(t, ok.seen, 1)
	require.Equal(t, events.TopicOrderPaid, ev.Topic)
}

func TestEmitStoreFailure(t *testing.T) {
	bus := &events.Bus{Store: &memStore{err: errors.New("connection refused")}}

	_, err := bus.Emit(context.Background(), events.TopicOrderPaid, 42, nil)
	require.Error(t, err)
}

package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	got []Event
	err error
}

func (r *recorder) Publish(_ context.Context, ev Event) error {
	r.got = append(r.got, ev)
	return r.err
}

func TestFanout_DeliversToAll(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	ev := Event{Type: TypeContactCreated, PrimaryContactID: 1, ContactIDs: []int64{1}}

	require.NoError(t, Fanout{a, b}.Publish(context.Background(), ev))
	assert.Equal(t, []Event{ev}, a.got)
	assert.Equal(t, []Event{ev}, b.got)
}

func TestFanout_JoinsErrorsAndKeepsGoing(t *testing.T) {
	errA := errors.New("a down")
	a, b := &recorder{err: errA}, &recorder{}

	err := Fanout{a, b}.Publish(context.Background(), Event{Type: TypeContactLinked})
	require.ErrorIs(t, err, errA)
	assert.Len(t, b.got, 1, "second publisher must still receive the event")
}

func TestDiscard(t *testing.T) {
	assert.NoError(t, Discard{}.Publish(context.Background(), Event{}))
}

func TestToMessage(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ev := Event{Type: TypeContactMerged, PrimaryContactID: 42, ContactIDs: []int64{43}, Timestamp: ts}

	msg, err := toMessage(ev)
	require.NoError(t, err)
	assert.Equal(t, "42", string(msg.Key))
	assert.Equal(t, ts, msg.Time)
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "event_type", msg.Headers[0].Key)
	assert.Equal(t, TypeContactMerged, string(msg.Headers[0].Value))

	var decoded Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, ev, decoded)
}

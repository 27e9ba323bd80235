//nolint:funlen // ok for tests
package nats

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpapenbr/livetiming-gateway-go/pkg/model"
	"github.com/mpapenbr/livetiming-gateway-go/testsupport/basedata"
	"github.com/mpapenbr/livetiming-gateway-go/testsupport/tcnats"
)

var testConn *nats.Conn

func TestMain(m *testing.M) {
	testConn = tcnats.SetupNats()
	code := m.Run()
	testConn.Close()
	os.Exit(code)
}

func TestSubjects(t *testing.T) {
	p := &Publisher{}
	WithSubjectPrefix("live.")(p)
	assert.Equal(t, "live.indycar", p.Subject(model.SeriesIndyCar))
	assert.Equal(t, "live.f1.events", p.EventSubject(model.SeriesF1))
}

func TestPublishSnapshot(t *testing.T) {
	ctx := context.Background()
	p, err := New(ctx, testConn, WithBucket("livetiming_test_publish"))
	require.NoError(t, err)

	received := make(chan *nats.Msg, 1)
	sub, err := testConn.ChanSubscribe(p.Subject(model.SeriesNASCAR), received)
	require.NoError(t, err)
	defer sub.Unsubscribe() //nolint:errcheck // test cleanup

	state := basedata.SampleRaceState(model.SeriesNASCAR)
	require.NoError(t, p.Publish(ctx, state))
	require.NoError(t, p.Close())

	select {
	case msg := <-received:
		var got model.RaceState
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		assert.Equal(t, state.SessionKey, got.SessionKey)
		assert.Len(t, got.Drivers, 3)
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot received")
	}

	latest, err := p.Latest(ctx, model.SeriesNASCAR)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, state.CurrentLap, latest.CurrentLap)

	none, err := p.Latest(ctx, model.SeriesWEC)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestPublishEvents(t *testing.T) {
	ctx := context.Background()
	p, err := New(ctx, testConn, WithBucket("livetiming_test_events"))
	require.NoError(t, err)

	received := make(chan *nats.Msg, 4)
	sub, err := testConn.ChanSubscribe(p.EventSubject(model.SeriesIndyCar), received)
	require.NoError(t, err)
	defer sub.Unsubscribe() //nolint:errcheck // test cleanup

	events := []model.ChangeEvent{
		{Type: model.ChangeFlag, Series: model.SeriesIndyCar, Old: "GREEN", New: "YELLOW"},
		{Type: model.ChangeLeader, Series: model.SeriesIndyCar, Old: "10", New: "5"},
	}
	require.NoError(t, p.PublishEvents(ctx, model.SeriesIndyCar, events))
	require.NoError(t, p.Close())

	for _, want := range events {
		select {
		case msg := <-received:
			var got model.ChangeEvent
			require.NoError(t, json.Unmarshal(msg.Data, &got))
			assert.Equal(t, want, got)
		case <-time.After(2 * time.Second):
			t.Fatal("no event received")
		}
	}
}

func TestSubscription(t *testing.T) {
	ctx := context.Background()
	p, err := New(ctx, testConn, WithBucket("livetiming_test_sub"))
	require.NoError(t, err)

	s, err := Subscribe(testConn, model.SeriesF1)
	require.NoError(t, err)
	defer s.Close()
	snapshots := s.Snapshots()
	require.NoError(t, testConn.Flush())

	require.NoError(t, p.Publish(ctx, basedata.SampleRaceState(model.SeriesF1)))
	select {
	case got, ok := <-snapshots:
		require.True(t, ok)
		assert.Equal(t, model.SeriesF1, got.Series)
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot received")
	}
}

func TestSubscribeEvents(t *testing.T) {
	ctx := context.Background()
	p, err := New(ctx, testConn,
		WithSubjectPrefix("lt.test."), WithBucket("livetiming_test_subevents"))
	require.NoError(t, err)

	received := make(chan model.ChangeEvent, 4)
	sub, err := SubscribeEvents(testConn, model.SeriesWEC, func(ev model.ChangeEvent) {
		received <- ev
	}, WithSubjectPrefix("lt.test"))
	require.NoError(t, err)
	defer sub.Unsubscribe() //nolint:errcheck // test cleanup
	require.NoError(t, testConn.Flush())

	want := model.ChangeEvent{
		Type: model.ChangePosition, Series: model.SeriesWEC, DriverID: "7", Old: "3", New: "2",
	}
	require.NoError(t, p.PublishEvents(ctx, model.SeriesWEC, []model.ChangeEvent{want}))
	require.NoError(t, p.Close())

	select {
	case got := <-received:
		assert.Equal(t, want, got)
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
}

//nolint:funlen,thelper // ok for tests
package polling

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpapenbr/livetiming-gateway-go/pkg/model"
)

type fakeSource struct {
	mu        sync.Mutex
	active    bool
	activeErr error
	states    []*model.RaceState
	fetches   int
	checks    int
}

func (f *fakeSource) Series() model.Series { return model.SeriesNASCAR }

func (f *fakeSource) IsSessionActive(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks++
	return f.active, f.activeErr
}

func (f *fakeSource) FetchLiveSnapshot(ctx context.Context) (*model.RaceState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if len(f.states) == 0 {
		return nil, nil
	}
	s := f.states[0]
	if len(f.states) > 1 {
		f.states = f.states[1:]
	}
	return s, nil
}

func state(flag model.FlagStatus, order ...string) *model.RaceState {
	ret := &model.RaceState{Series: model.SeriesNASCAR, FlagStatus: flag}
	for i, id := range order {
		ret.Drivers = append(ret.Drivers, model.DriverState{DriverID: id, Position: i + 1})
	}
	return ret
}

func TestPoller_PollOnceInactiveSkipsFetch(t *testing.T) {
	src := &fakeSource{active: false, states: []*model.RaceState{state(model.FlagGreen, "a")}}
	p := NewPoller(src)
	got, err := p.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, 0, src.fetches)
	assert.False(t, p.IsActive())
	assert.Nil(t, p.Latest())
}

func TestPoller_PollOnceEmitsChanges(t *testing.T) {
	src := &fakeSource{active: true, states: []*model.RaceState{
		state(model.FlagGreen, "a", "b"),
		state(model.FlagYellow, "b", "a"),
	}}
	p := NewPoller(src)
	ctx := context.Background()
	_, err := p.PollOnce(ctx)
	require.NoError(t, err)
	assert.Empty(t, p.events, "first snapshot has no predecessor")

	got, err := p.PollOnce(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.FlagYellow, p.Latest().FlagStatus)

	types := []model.ChangeType{}
	for len(p.events) > 0 {
		types = append(types, (<-p.events).Type)
	}
	assert.Equal(t, []model.ChangeType{
		model.ChangeFlag, model.ChangeLeader, model.ChangePosition, model.ChangePosition,
	}, types)
}

func TestPoller_PollOnceError(t *testing.T) {
	src := &fakeSource{activeErr: errors.New("boom")}
	p := NewPoller(src)
	_, err := p.PollOnce(context.Background())
	assert.Error(t, err)
}

func TestPoller_StartDeliversSnapshots(t *testing.T) {
	src := &fakeSource{active: true, states: []*model.RaceState{state(model.FlagGreen, "a")}}
	p := NewPoller(src, WithInterval(10*time.Millisecond))
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	select {
	case s := <-p.Snapshots():
		require.NotNil(t, s)
		assert.Equal(t, "a", s.Drivers[0].DriverID)
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot received")
	}
	assert.ErrorIs(t, p.Start(context.Background()), ErrAlreadyStarted)
}

func TestPoller_StopIsIdempotent(t *testing.T) {
	src := &fakeSource{active: false}
	p := NewPoller(src, WithInterval(10*time.Millisecond))
	require.NoError(t, p.Start(context.Background()))
	p.Stop()
	p.Stop()

	_, ok := <-p.Snapshots()
	assert.False(t, ok, "snapshot channel must be closed")
	_, ok = <-p.Events()
	assert.False(t, ok, "event channel must be closed")
	_, err := p.PollOnce(context.Background())
	assert.ErrorIs(t, err, ErrStopped)
	assert.ErrorIs(t, p.Start(context.Background()), ErrAlreadyStarted)
}

func TestPoller_StopWithoutStart(t *testing.T) {
	p := NewPoller(&fakeSource{})
	p.Stop()
	p.Stop()
	_, ok := <-p.Snapshots()
	assert.False(t, ok)
}

func TestPoller_InactiveUsesLongerInterval(t *testing.T) {
	src := &fakeSource{active: false}
	p := NewPoller(src, WithInterval(20*time.Millisecond), WithInactiveFactor(50))
	require.NoError(t, p.Start(context.Background()))
	time.Sleep(200 * time.Millisecond)
	p.Stop()
	src.mu.Lock()
	defer src.mu.Unlock()
	assert.Equal(t, 1, src.checks, "inactive poller must wait interval*factor")
}

func TestPoller_ActivityTransitions(t *testing.T) {
	src := &fakeSource{active: true, states: []*model.RaceState{state(model.FlagGreen, "a", "b")}}
	p := NewPoller(src)
	ctx := context.Background()

	_, err := p.PollOnce(ctx)
	require.NoError(t, err)
	assert.True(t, <-p.Activity())
	_, err = p.PollOnce(ctx)
	require.NoError(t, err)
	assert.Empty(t, p.activity, "no transition while the session stays active")

	src.mu.Lock()
	src.active = false
	src.mu.Unlock()
	_, err = p.PollOnce(ctx)
	require.NoError(t, err)
	assert.False(t, <-p.Activity())
	assert.Nil(t, p.Latest())

	// unconsumed transitions are replaced by the latest one
	src.mu.Lock()
	src.active = true
	src.mu.Unlock()
	_, err = p.PollOnce(ctx)
	require.NoError(t, err)
	assert.Empty(t, p.events, "a new session has no predecessor")
	src.mu.Lock()
	src.active = false
	src.mu.Unlock()
	_, err = p.PollOnce(ctx)
	require.NoError(t, err)
	require.Len(t, p.activity, 1)
	assert.False(t, <-p.Activity())
}

package main

import (
	"context"
	"errors"
	"testing"
	"time"

	tui "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/keilerkonzept/visitor-counter/internal/visitor"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Set(seconds float64) { c.t = at(seconds) }

type fakeConn struct {
	sent    []int
	sendErr error
	closed  bool
}

func (c *fakeConn) SendGroup(_ context.Context, size int) error {
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, size)
	return nil
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func newTestModel(t *testing.T) (*model, *fakeClock, *fakeConn) {
	t.Helper()
	clock := &fakeClock{t: epoch}
	m := newModel(context.Background(), zap.NewNop(), clock.Now)
	m.loc = time.UTC
	t.Cleanup(m.teardown)

	conn := &fakeConn{}
	m.Update(connOpenedMsg{conn})
	require.Equal(t, connOpen, m.connState)
	return m, clock, conn
}

var spaceKey = tui.KeyMsg{Type: tui.KeySpace, Runes: []rune{' '}}

func pressSpace(m *model) tui.Cmd {
	_, cmd := m.Update(spaceKey)
	return cmd
}

func fireTimer(m *model) {
	m.Update(flushTimerMsg{m.grouper.Pending()})
}

func TestModel_BurstSendsOneGroup(t *testing.T) {
	m, clock, conn := newTestModel(t)

	for _, s := range []float64{0, 0.2, 0.4, 0.6} {
		clock.Set(s)
		require.NotNil(t, pressSpace(m), "each tick arms a flush timer")
	}
	assert.Empty(t, conn.sent)
	assert.Equal(t, 4, m.grouper.Size())

	clock.Set(1.1)
	fireTimer(m)
	assert.Equal(t, []int{4}, conn.sent)

	// a second idle period sends nothing
	m.Update(flushTimerMsg{1})
	fireTimer(m)
	assert.Equal(t, []int{4}, conn.sent)
	assert.Equal(t, uint64(4), m.metrics.ticks)
	assert.Equal(t, uint64(1), m.metrics.sent)
}

func TestModel_MixedGapTimeline(t *testing.T) {
	m, clock, conn := newTestModel(t)

	clock.Set(0)
	pressSpace(m)
	clock.Set(0.2)
	pressSpace(m)
	clock.Set(0.7)
	fireTimer(m)
	require.Equal(t, []int{2}, conn.sent)

	clock.Set(0.9)
	pressSpace(m)
	clock.Set(1.4)
	fireTimer(m)
	assert.Equal(t, []int{2, 1}, conn.sent)
}

func TestModel_LateTickFlushesPriorGroupFirst(t *testing.T) {
	m, clock, conn := newTestModel(t)

	clock.Set(0)
	pressSpace(m)
	stale := m.grouper.Pending()
	clock.Set(2)
	pressSpace(m)
	assert.Equal(t, []int{1}, conn.sent)

	m.Update(flushTimerMsg{stale})
	assert.Equal(t, []int{1}, conn.sent)

	fireTimer(m)
	assert.Equal(t, []int{1, 1}, conn.sent)
}

func TestModel_DropsGroupWhenChannelNotOpen(t *testing.T) {
	clock := &fakeClock{t: epoch}
	m := newModel(context.Background(), zap.NewNop(), clock.Now)
	defer m.teardown()
	require.Equal(t, connConnecting, m.connState)

	pressSpace(m)
	pressSpace(m)
	assert.Equal(t, 2, m.grouper.Size(), "ticks are still grouped")
	fireTimer(m)

	assert.Equal(t, uint64(1), m.metrics.dropped)
	assert.Equal(t, Idle, m.grouper.State())

	// opening later does not replay the dropped group
	conn := &fakeConn{}
	m.Update(connOpenedMsg{conn})
	assert.Empty(t, conn.sent)
}

func TestModel_DropsAfterChannelClosed(t *testing.T) {
	m, _, conn := newTestModel(t)

	m.Update(connClosedMsg{errors.New("eof")})
	assert.Equal(t, connClosed, m.connState)

	pressSpace(m)
	fireTimer(m)
	assert.Empty(t, conn.sent)
	assert.Equal(t, uint64(1), m.metrics.dropped)
}

func TestModel_SendFailureCountsAsDropped(t *testing.T) {
	m, _, conn := newTestModel(t)
	conn.sendErr = errors.New("broken pipe")

	pressSpace(m)
	fireTimer(m)
	assert.Equal(t, uint64(1), m.metrics.dropped)
	assert.Zero(t, m.metrics.sent)
}

func TestModel_AppliesSnapshot(t *testing.T) {
	m, clock, _ := newTestModel(t)

	clock.Set(3)
	m.Update(streamMsg{visitor.Decode([]byte(`{"total_visitors":5,"disp_times":[100,200],"disp_intensity":[1,2]}`))})

	assert.Equal(t, int64(5), m.stats.TotalVisitors)
	assert.Equal(t, []float64{1, 2}, m.chart.Values)
	assert.Equal(t, []string{"00:00:00", "00:00:00"}, m.chart.Labels)
	assert.Equal(t, at(3), m.updatedAt)
	assert.Contains(t, m.View(), "Total visitors: 5")
}

func TestModel_MalformedSnapshotKeepsState(t *testing.T) {
	m, _, _ := newTestModel(t)

	m.Update(streamMsg{visitor.Decode([]byte(`{"total_visitors":5,"disp_times":[100,200],"disp_intensity":[1,2]}`))})
	before := m.stats

	m.Update(streamMsg{visitor.Decode([]byte(`{"total_visitors":`))})
	m.Update(streamMsg{visitor.Decode([]byte(`{"total_visitors":9,"disp_times":[1],"disp_intensity":[]}`))})
	for _, payload := range []string{`null`, `{}`, `{"unrelated":1}`} {
		m.Update(streamMsg{visitor.Decode([]byte(payload))})
	}
	m.Update(fetchMsg{visitor.Decoded{Err: errors.New("connection refused")}})
	m.Update(fetchMsg{visitor.Decode([]byte(`null`))})

	assert.Equal(t, before, m.stats)
	assert.Len(t, m.chart.Values, 2)
	assert.Equal(t, uint64(5), m.metrics.malformed)
	assert.Equal(t, uint64(1), m.metrics.snapshots)
}

func TestModel_LastWriterWins(t *testing.T) {
	m, _, _ := newTestModel(t)

	m.Update(streamMsg{visitor.Decode([]byte(`{"total_visitors":7,"disp_times":[],"disp_intensity":[]}`))})
	m.Update(fetchMsg{visitor.Decode([]byte(`{"total_visitors":6,"disp_times":[],"disp_intensity":[]}`))})
	assert.Equal(t, int64(6), m.stats.TotalVisitors)

	m.Update(streamMsg{visitor.Decode([]byte(`{"total_visitors":8,"disp_times":[],"disp_intensity":[]}`))})
	assert.Equal(t, int64(8), m.stats.TotalVisitors)
}

func TestModel_RoundTrip(t *testing.T) {
	m, clock, _ := newTestModel(t)

	pressSpace(m)
	clock.Set(0.5)
	fireTimer(m)
	clock.Set(0.75)
	m.Update(streamMsg{visitor.Decode([]byte(`{"total_visitors":1,"disp_times":[],"disp_intensity":[]}`))})

	rt := m.metrics.snapshot(clock.Now()).roundTrip
	assert.Equal(t, 250*time.Millisecond, rt.last)
}

func TestModel_QuitCancelsPendingGroup(t *testing.T) {
	m, _, conn := newTestModel(t)

	pressSpace(m)
	pending := m.grouper.Pending()
	require.NotZero(t, pending)

	_, cmd := m.Update(tui.KeyMsg{Type: tui.KeyRunes, Runes: []rune{'q'}})
	require.NotNil(t, cmd)
	assert.IsType(t, tui.QuitMsg{}, cmd())
	assert.True(t, conn.closed)
	assert.Error(t, m.ctx.Err(), "in-flight fetch is cancelled")

	m.Update(flushTimerMsg{pending})
	assert.Empty(t, conn.sent)

	// ticks after teardown are ignored
	assert.Nil(t, pressSpace(m))
}

func TestModel_ConnOpenedAfterTeardownIsClosed(t *testing.T) {
	m := newModel(context.Background(), zap.NewNop(), time.Now)
	m.teardown()

	conn := &fakeConn{}
	m.Update(connOpenedMsg{conn})
	assert.True(t, conn.closed)
	assert.Nil(t, m.conn)
}

func TestModel_MouseClickOnKey(t *testing.T) {
	m, _, _ := newTestModel(t)

	click := func(x, y int) {
		m.Update(tui.MouseMsg{X: x, Y: y, Action: tui.MouseActionPress, Button: tui.MouseButtonLeft})
	}
	click(3, headerLines+1)
	assert.Equal(t, 1, m.grouper.Size())

	click(3, 0)                         // header
	click(buttonWidth+5, headerLines+1) // right of the key
	m.Update(tui.MouseMsg{X: 3, Y: headerLines + 1, Action: tui.MouseActionRelease, Button: tui.MouseButtonLeft})
	assert.Equal(t, 1, m.grouper.Size())
}

func TestModel_ScriptedTicksGroupLikeKeys(t *testing.T) {
	m, _, conn := newTestModel(t)

	ticks := make(chan struct{})
	close(ticks)
	done := make(chan error, 1)
	done <- nil
	m.scriptTicks, m.scriptDone = ticks, done

	_, cmd := m.Update(scriptedTickMsg{})
	require.NotNil(t, cmd)
	m.Update(scriptedTickMsg{})
	fireTimer(m)
	assert.Equal(t, []int{2}, conn.sent)

	m.Update(scriptDoneMsg{})
	assert.NoError(t, m.err)
}

func TestModel_BurstLeaderboard(t *testing.T) {
	m, clock, _ := newTestModel(t)
	m.Update(burstTickMsg(epoch))

	for _, s := range []float64{0, 0.1, 0.2} {
		clock.Set(s)
		pressSpace(m)
	}
	fireTimer(m)
	for _, s := range []float64{5, 10} {
		clock.Set(s)
		pressSpace(m)
		fireTimer(m)
	}

	m.Update(burstTickMsg(epoch.Add(time.Second)))
	items := m.list.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "#1  single visitor", items[0].(burstItem).Title())
	assert.Equal(t, "#2  group of 3", items[1].(burstItem).Title())
	assert.Equal(t, "    2× in window", items[0].(burstItem).Description())
}

func TestModel_ToggleScale(t *testing.T) {
	m, _, _ := newTestModel(t)
	assert.False(t, m.logScale)
	m.Update(tui.KeyMsg{Type: tui.KeyRunes, Runes: []rune{'s'}})
	assert.True(t, m.logScale)
}

func TestComputePaneWidths(t *testing.T) {
	left, right := computePaneWidths(100, 30)
	assert.Equal(t, 30, left)
	assert.Equal(t, 70, right)

	left, right = computePaneWidths(40, 20)
	assert.Equal(t, 18, left)
	assert.Equal(t, 22, right)

	left, right = computePaneWidths(1, 50)
	assert.Equal(t, 1, left)
	assert.Equal(t, 1, right)
}

func TestNewKeyMap(t *testing.T) {
	k := newKeyMap("space")
	assert.Equal(t, []string{" "}, k.Tick.Keys())
	assert.Equal(t, "space", k.Tick.Help().Key)

	k = newKeyMap("enter")
	assert.Equal(t, []string{"enter"}, k.Tick.Keys())
}

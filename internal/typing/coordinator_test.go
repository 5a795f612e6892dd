package typing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"captain/internal/clock"
	"captain/internal/models"
	"captain/internal/transport"
)

func setup(t *testing.T, opts Options) (*Coordinator, *transport.Mock, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	m := transport.NewMock(transport.MockOptions{}, clk, nil)
	require.NoError(t, m.Connect(context.Background()))
	opts.Clock = clk
	c := New(m, opts, nil)
	t.Cleanup(c.Close)
	return c, m, clk
}

func sentFlags(t *testing.T, m *transport.Mock) []bool {
	t.Helper()
	var out []bool
	for _, env := range m.SentEvents(models.EventTypingStatus) {
		var ts models.TypingStatus
		require.NoError(t, env.Decode(&ts))
		out = append(out, ts.IsTyping)
	}
	return out
}

func TestSetLocalTyping_SendsOnlyOnChange(t *testing.T) {
	c, m, _ := setup(t, Options{})

	c.SetLocalTyping(true)
	c.SetLocalTyping(true)
	c.SetLocalTyping(false)
	c.SetLocalTyping(false)

	assert.Equal(t, []bool{true, false}, sentFlags(t, m))
	assert.False(t, c.LocalTyping())
}

func TestInputChanged_FollowsComposerText(t *testing.T) {
	c, m, _ := setup(t, Options{})

	c.InputChanged("h")
	c.InputChanged("he")
	c.InputChanged("hey")
	c.InputChanged("")

	assert.Equal(t, []bool{true, false}, sentFlags(t, m))
}

func TestInputChanged_IdleTimeoutStopsTyping(t *testing.T) {
	c, m, clk := setup(t, Options{IdleTimeout: 3 * time.Second})

	c.InputChanged("on my")
	clk.Advance(2 * time.Second)
	c.InputChanged("on my way")
	clk.Advance(2 * time.Second)
	assert.True(t, c.LocalTyping())

	clk.Advance(time.Second)
	assert.False(t, c.LocalTyping())
	assert.Equal(t, []bool{true, false}, sentFlags(t, m))
}

func TestRemoteTyping_UpdatesAndNotifies(t *testing.T) {
	c, m, _ := setup(t, Options{})
	var seen []bool
	c.Watch(func(typing bool) { seen = append(seen, typing) })

	require.NoError(t, m.Inject(models.EventTypingStatus, models.TypingStatus{IsTyping: true, UserID: "customer_1"}))
	assert.True(t, c.RemoteTyping())
	require.NoError(t, m.Inject(models.EventTypingStatus, models.TypingStatus{IsTyping: true}))
	require.NoError(t, m.Inject(models.EventTypingStatus, models.TypingStatus{IsTyping: false}))

	assert.False(t, c.RemoteTyping())
	assert.Equal(t, []bool{true, false}, seen)
}

func TestRemoteTyping_WatchdogClearsStaleFlag(t *testing.T) {
	c, m, clk := setup(t, Options{RemoteTimeout: 10 * time.Second})

	require.NoError(t, m.Inject(models.EventTypingStatus, models.TypingStatus{IsTyping: true}))
	clk.Advance(9 * time.Second)
	assert.True(t, c.RemoteTyping())

	clk.Advance(time.Second)
	assert.False(t, c.RemoteTyping())
}

func TestRemoteTyping_NoWatchdogByDefault(t *testing.T) {
	c, m, clk := setup(t, Options{})

	require.NoError(t, m.Inject(models.EventTypingStatus, models.TypingStatus{IsTyping: true}))
	clk.Advance(time.Hour)

	assert.True(t, c.RemoteTyping())
	assert.Equal(t, 0, clk.Pending())
}

func TestReset_SendsStopWhenTyping(t *testing.T) {
	c, m, _ := setup(t, Options{})
	c.SetLocalTyping(true)
	require.NoError(t, m.Inject(models.EventTypingStatus, models.TypingStatus{IsTyping: true}))

	c.Reset()
	c.Reset()

	assert.False(t, c.RemoteTyping())
	assert.False(t, c.LocalTyping())
	assert.Equal(t, []bool{true, false}, sentFlags(t, m))
}

func TestClose_ForgetsStateAndReannouncesAfterReconnect(t *testing.T) {
	c, m, _ := setup(t, Options{})
	c.SetLocalTyping(true)
	require.NoError(t, m.Inject(models.EventTypingStatus, models.TypingStatus{IsTyping: true}))

	m.Disconnect()
	assert.False(t, c.LocalTyping())
	assert.False(t, c.RemoteTyping())

	require.NoError(t, m.Connect(context.Background()))
	c.SetLocalTyping(true)
	assert.Equal(t, []bool{true, true}, sentFlags(t, m))
}

func TestSetLocalTyping_FailedSendIsRetriedOnceConnected(t *testing.T) {
	clk := clock.NewFake(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	m := transport.NewMock(transport.MockOptions{}, clk, nil)
	c := New(m, Options{Clock: clk}, nil)
	t.Cleanup(c.Close)

	c.SetLocalTyping(true)
	assert.False(t, c.LocalTyping())
	assert.Empty(t, sentFlags(t, m))

	require.NoError(t, m.Connect(context.Background()))
	c.SetLocalTyping(true)
	assert.True(t, c.LocalTyping())
	assert.Equal(t, []bool{true}, sentFlags(t, m))
}

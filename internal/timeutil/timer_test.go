package timeutil

import (
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/require"
)

const testDuration = 50 * time.Millisecond

func waitForFire(t *testing.T, timer *Timer, clk *clock.Mock) {
	done := make(chan struct{})
	go func() {
		clk.Add(testDuration)
		close(done)
	}()
	select {
	case <-timer.C:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire within expected duration")
	}
	<-done
}

func TestTimerFiresAfterStart(t *testing.T) {
	require := require.New(t)
	clk := clock.NewMock()
	timer := NewTimer(clk, testDuration)

	require.True(timer.Start())
	waitForFire(t, timer, clk)
}

func TestTimerSecondStartIsNoop(t *testing.T) {
	require := require.New(t)
	clk := clock.NewMock()
	timer := NewTimer(clk, testDuration)

	require.True(timer.Start())
	require.False(timer.Start())
	waitForFire(t, timer, clk)
}

func TestTimerCancelPreventsFiring(t *testing.T) {
	require := require.New(t)
	clk := clock.NewMock()
	timer := NewTimer(clk, testDuration)

	require.True(timer.Start())
	require.True(timer.Cancel())

	clk.Add(testDuration)
	select {
	case <-timer.C:
		t.Fatal("timer fired after Cancel was called")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTimerCanStillStartAfterCancel(t *testing.T) {
	require := require.New(t)
	clk := clock.NewMock()
	timer := NewTimer(clk, testDuration)

	require.True(timer.Start())
	require.True(timer.Cancel())
	require.True(timer.Start())
	waitForFire(t, timer, clk)
}

func TestTimerCancelBeforeStartIsNoop(t *testing.T) {
	require := require.New(t)
	clk := clock.NewMock()
	timer := NewTimer(clk, testDuration)

	require.False(timer.Cancel())
	require.True(timer.Start())
	waitForFire(t, timer, clk)
}
